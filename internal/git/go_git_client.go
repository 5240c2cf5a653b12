package git

import (
	"context"
	"errors"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	httpAuth "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/auth"
	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/logger"
)

// GoGitCloner implementa Cloner em processo, sem depender do binário git.
// Com commit fixo o clone não é raso, já que go-git não busca um sha avulso.
type GoGitCloner struct {
	Timeout time.Duration
	Log     *zap.Logger
}

func (c *GoGitCloner) Clone(ctx context.Context, target Target, cred *auth.Credential, dir string) error {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	defer logger.Trace(log, "CloneRepo", time.Now())

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	opts := &gogit.CloneOptions{
		URL:          target.RepoURL,
		SingleBranch: true,
		Tags:         gogit.NoTags,
	}
	if target.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(target.Branch)
	}
	if target.Commit == "" {
		opts.Depth = 1
	} else {
		opts.NoCheckout = true
	}
	if cred != nil && cred.Token != "" {
		opts.Auth = &httpAuth.BasicAuth{Username: "x-access-token", Password: cred.Token}
	}

	repo, err := gogit.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return c.wrap(ctx, "clone", err, cred)
	}
	if target.Commit == "" {
		return nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return c.wrap(ctx, "checkout", err, cred)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(target.Commit), Force: true}); err != nil {
		return c.wrap(ctx, "checkout", err, cred)
	}
	return nil
}

func (c *GoGitCloner) wrap(ctx context.Context, step string, err error, cred *auth.Credential) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &command.TimeoutError{Name: "git " + step, Timeout: c.Timeout}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &CloneError{Step: step, ExitCode: -1, Stderr: cred.Scrub(err.Error())}
}
