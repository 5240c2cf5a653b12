package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lockwhz/scan-triage-service/internal/command"
)

// RawOutput é a saída bruta de uma ferramenta. Exit code diferente de zero é
// dado (ex.: gitleaks sai com 1 quando encontra vazamentos).
type RawOutput struct {
	Tool     string
	ExitCode int
	Output   []byte // relatório JSON
	Stderr   string
	Duration time.Duration
}

// Scanner roda uma ferramenta contra um diretório.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, dir string) (RawOutput, error)
}

// ToolLaunchError indica que a ferramenta não pôde ser executada.
type ToolLaunchError struct {
	Tool string
	Err  error
}

func (e *ToolLaunchError) Error() string { return fmt.Sprintf("ferramenta %s: %v", e.Tool, e.Err) }
func (e *ToolLaunchError) Unwrap() error { return e.Err }

// classify traduz erros do runner para os erros do pipeline. Timeout segue
// como *command.TimeoutError.
func classify(tool string, err error) error {
	var launch *command.LaunchError
	if errors.As(err, &launch) {
		return &ToolLaunchError{Tool: tool, Err: launch.Err}
	}
	return err
}
