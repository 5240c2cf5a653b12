// Package scan clona a revisão e roda as ferramentas de análise estática
// como subprocessos dentro de um workspace efêmero.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lockwhz/scan-triage-service/internal/auth"
	"github.com/lockwhz/scan-triage-service/internal/git"
	"github.com/lockwhz/scan-triage-service/internal/logger"
)

// Request identifica o que clonar e com qual credencial.
type Request struct {
	JobID      string
	Target     git.Target
	Credential *auth.Credential
}

// HandleFunc recebe o checkout e as saídas das ferramentas enquanto o
// workspace ainda existe (os snippets são lidos aqui).
type HandleFunc func(repoDir string, outputs []RawOutput) error

// Executor é dono do workspace de uma invocação.
type Executor struct {
	Cloner   git.Cloner
	Scanners []Scanner
	// CloneSem limita clones simultâneos entre workers; nil = sem limite.
	CloneSem chan struct{}
	BaseDir  string
	Log      *zap.Logger
}

// Run cria o workspace, clona, roda as ferramentas em paralelo e chama handle.
// O workspace é removido em todos os caminhos, inclusive panic em handle.
func (e *Executor) Run(ctx context.Context, req Request, handle HandleFunc) (err error) {
	log := e.log().With(zap.String("job_id", req.JobID))
	defer logger.Trace(log, "ScanExecutor.Run", time.Now())

	ws, err := os.MkdirTemp(e.BaseDir, "scan-"+git.Slugify(req.Target.RepoURL)+"-")
	if err != nil {
		return fmt.Errorf("criar workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(ws); rmErr != nil {
			log.Error("falha ao remover workspace", zap.String("workspace", ws), zap.Error(rmErr))
			err = multierror.Append(err, fmt.Errorf("remover workspace: %w", rmErr)).ErrorOrNil()
		}
	}()

	repoDir := filepath.Join(ws, "repo")
	if err := e.clone(ctx, req, repoDir); err != nil {
		return err
	}
	log.Debug("repositório clonado", zap.String("commit", req.Target.Commit), zap.String("branch", req.Target.Branch))

	outputs, err := e.runTools(ctx, repoDir)
	if err != nil {
		return err
	}
	return handle(repoDir, outputs)
}

func (e *Executor) clone(ctx context.Context, req Request, dir string) error {
	if e.CloneSem != nil {
		select {
		case e.CloneSem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-e.CloneSem }()
	}
	return e.Cloner.Clone(ctx, req.Target, req.Credential, dir)
}

// runTools roda cada scanner em sua goroutine. Erros de execução são
// agregados; saída parcial de uma ferramenta que falhou é descartada.
func (e *Executor) runTools(ctx context.Context, dir string) ([]RawOutput, error) {
	outputs := make([]RawOutput, len(e.Scanners))
	var (
		mu   sync.Mutex
		merr *multierror.Error
		g    errgroup.Group
	)
	for i, s := range e.Scanners {
		i, s := i, s
		g.Go(func() error {
			out, err := s.Scan(ctx, dir)
			if err != nil {
				e.log().Warn("ferramenta falhou", zap.String("tool", s.Name()), zap.Error(err))
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case merr == nil:
		return outputs, nil
	case len(merr.Errors) == 1:
		return nil, merr.Errors[0]
	default:
		return nil, merr
	}
}

func (e *Executor) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}
