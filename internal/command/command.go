// Package command executa processos externos devolvendo exit code, stdout e
// stderr como dados. Exit code diferente de zero não é erro; erro é apenas
// falha de execução (binário ausente) ou estouro de timeout.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result é a saída capturada de um processo.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// Spec descreve uma execução.
type Spec struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // somado ao ambiente do processo
	Timeout time.Duration
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Name + " " + strings.Join(s.Args, " "))
}

// LaunchError indica que o processo nem chegou a rodar.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("executar %s: %v", e.Name, e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError indica que o processo foi morto por estourar o prazo.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
	Partial Result
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s excedeu o timeout de %s", e.Name, e.Timeout)
	}
	return fmt.Sprintf("%s excedeu o prazo do job", e.Name)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Runner é a abstração usada pelo clone e pelos scanners.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner roda processos reais via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, &TimeoutError{Name: spec.Name, Timeout: spec.Timeout, Partial: res}
		}
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitCode = -1
		return res, &LaunchError{Name: spec.Name, Err: err}
	}
}
