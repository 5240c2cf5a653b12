// Package git clona a revisão alvo para dentro do workspace do job.
// Existem dois backends: o binário git (padrão, suporta fetch de commit
// avulso) e o go-git.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/auth"
	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/logger"
)

/* ============================== Tipos ============================== */

// Target descreve a revisão a ser clonada.
type Target struct {
	RepoURL string
	Branch  string
	Commit  string
}

// Cloner materializa Target em dir usando a credencial (pode ser anônima).
type Cloner interface {
	Clone(ctx context.Context, target Target, cred *auth.Credential, dir string) error
}

// CloneError carrega o diagnóstico do git como dado; o token já vem removido.
type CloneError struct {
	Step     string
	ExitCode int
	Stderr   string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("git %s falhou (exit %d): %s", e.Step, e.ExitCode, strings.TrimSpace(e.Stderr))
}

/* ============================ CLI backend =========================== */

// CLICloner usa o binário git via command.Runner.
type CLICloner struct {
	Runner  command.Runner
	GitPath string
	Timeout time.Duration
	Log     *zap.Logger
}

// Clone com commit: init + fetch --depth 1 do commit + checkout (aceita
// commits fora da ponta do branch). Sem commit: clone raso do branch.
func (c *CLICloner) Clone(ctx context.Context, target Target, cred *auth.Credential, dir string) error {
	defer logger.Trace(c.log(), "CloneRepo", time.Now())

	authURL, err := cred.CloneURL(target.RepoURL)
	if err != nil {
		return &CloneError{Step: "url", ExitCode: -1, Stderr: err.Error()}
	}

	var steps []cloneStep
	if target.Commit != "" {
		steps = []cloneStep{
			{"init", []string{"init", "--quiet", dir}, ""},
			{"remote", []string{"remote", "add", "origin", authURL}, dir},
			{"fetch", []string{"fetch", "--quiet", "--depth", "1", "origin", target.Commit}, dir},
			{"checkout", []string{"checkout", "--quiet", "--detach", target.Commit}, dir},
		}
	} else {
		branch := target.Branch
		if branch == "" {
			branch = "main"
		}
		steps = []cloneStep{
			{"clone", []string{"clone", "--quiet", "--depth", "1", "--single-branch", "--branch", branch, authURL, dir}, ""},
		}
	}
	// a url com token não pode ficar no .git/config que os scanners vão ler
	steps = append(steps, cloneStep{"remote", []string{"remote", "set-url", "origin", target.RepoURL}, dir})

	for _, s := range steps {
		if err := c.run(ctx, s, cred); err != nil {
			return err
		}
	}
	return nil
}

type cloneStep struct {
	name string
	args []string
	dir  string
}

func (c *CLICloner) run(ctx context.Context, s cloneStep, cred *auth.Credential) error {
	gitPath := c.GitPath
	if gitPath == "" {
		gitPath = "git"
	}
	res, err := c.Runner.Run(ctx, command.Spec{
		Name:    gitPath,
		Args:    s.args,
		Dir:     s.dir,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
		Timeout: c.Timeout,
	})
	if err != nil {
		// timeout e binário ausente sobem como estão; o orquestrador classifica
		return err
	}
	if res.ExitCode != 0 {
		return &CloneError{Step: s.name, ExitCode: res.ExitCode, Stderr: cred.Scrub(res.Stderr)}
	}
	return nil
}

func (c *CLICloner) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

/* ============================== Helpers ============================= */

// Slugify gera um nome seguro para diretórios a partir da url do repositório.
func Slugify(s string) string {
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		s = s[idx+1:]
	}
	s = strings.ToLower(strings.TrimSuffix(s, ".git"))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, s)
	return strings.Trim(s, "-")
}
