package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/logger"
)

// TrivyScanner roda `trivy fs` com os scanners de vulnerabilidade, segredo e
// misconfiguração; o relatório vem pelo stdout.
type TrivyScanner struct {
	Path    string
	Runner  command.Runner
	Timeout time.Duration
	Log     *zap.Logger
}

func (s *TrivyScanner) Name() string { return "trivy" }

func (s *TrivyScanner) Scan(ctx context.Context, dir string) (RawOutput, error) {
	if s.Log != nil {
		defer logger.Trace(s.Log, "RunTrivy", time.Now())
	}

	path := s.Path
	if path == "" {
		path = "trivy"
	}
	res, err := s.Runner.Run(ctx, command.Spec{
		Name: path,
		Args: []string{
			"fs",
			"--quiet",
			"--no-progress",
			"--format", "json",
			"--scanners", "vuln,secret,misconfig",
			dir,
		},
		Timeout: s.Timeout,
	})
	out := RawOutput{Tool: s.Name(), ExitCode: res.ExitCode, Output: res.Stdout, Stderr: res.Stderr, Duration: res.Duration}
	if err != nil {
		return out, classify(s.Name(), err)
	}
	return out, nil
}
