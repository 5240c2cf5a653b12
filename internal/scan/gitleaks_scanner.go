package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/logger"
)

// GitleaksScanner roda `gitleaks detect` gravando o relatório em um arquivo
// temporário fora do workspace, para não ser varrido pela própria ferramenta.
type GitleaksScanner struct {
	Path    string
	Runner  command.Runner
	Timeout time.Duration
	Log     *zap.Logger
}

func (s *GitleaksScanner) Name() string { return "gitleaks" }

func (s *GitleaksScanner) Scan(ctx context.Context, dir string) (RawOutput, error) {
	if s.Log != nil {
		defer logger.Trace(s.Log, "RunGitleaks", time.Now())
	}

	tempFile, err := os.CreateTemp("", "gitleaks_report_*.json")
	if err != nil {
		return RawOutput{Tool: s.Name()}, fmt.Errorf("erro ao criar arquivo temporário: %w", err)
	}
	reportPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(reportPath)

	path := s.Path
	if path == "" {
		path = "gitleaks"
	}
	res, err := s.Runner.Run(ctx, command.Spec{
		Name: path,
		Args: []string{
			"detect",
			"--source", dir,
			"--report-format", "json",
			"--report-path", reportPath,
			"--no-banner",
			"--exit-code", "1",
		},
		Timeout: s.Timeout,
	})
	out := RawOutput{Tool: s.Name(), ExitCode: res.ExitCode, Stderr: res.Stderr, Duration: res.Duration}
	if err != nil {
		return out, classify(s.Name(), err)
	}

	report, err := os.ReadFile(reportPath)
	switch {
	case err == nil:
		out.Output = report
	case errors.Is(err, fs.ErrNotExist):
		// sem relatório o normalizador devolve lista vazia
	default:
		return out, fmt.Errorf("erro ao ler o relatório: %w", err)
	}
	return out, nil
}
