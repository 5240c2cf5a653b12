// Package db persiste jobs e seus resultados. Todas as escritas são por job
// id; a transição de estado é validada dentro do próprio store para que duas
// réplicas nunca gravem dois resultados terminais para o mesmo job.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/lockwhz/scan-triage-service/models"
)

var (
	ErrNotFound          = errors.New("job não encontrado")
	ErrAlreadyTerminal   = errors.New("job já está em estado terminal")
	ErrInvalidTransition = errors.New("transição de estado inválida")
)

// Store é o status store compartilhado entre os workers.
type Store interface {
	// Create grava o job como queued; expira após ttl.
	Create(ctx context.Context, job *models.Job, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// MarkRunning faz queued→running. Devolve ErrAlreadyTerminal ou
	// ErrInvalidTransition quando o job não está queued.
	MarkRunning(ctx context.Context, id string, at time.Time) error
	// Complete grava o resultado terminal uma única vez; o ttl recomeça.
	Complete(ctx context.Context, id string, result *models.JobResult, at time.Time, ttl time.Duration) error
	Close() error
}

// markRunning e complete aplicam as regras de estado sobre uma cópia do job.
func markRunning(job *models.Job, at time.Time) error {
	switch {
	case job.State.Terminal():
		return ErrAlreadyTerminal
	case job.State != models.StateQueued:
		return ErrInvalidTransition
	}
	job.State = models.StateRunning
	job.StartedAt = &at
	return nil
}

func complete(job *models.Job, result *models.JobResult, at time.Time) error {
	if job.State.Terminal() {
		return ErrAlreadyTerminal
	}
	if result == nil || !result.State.Terminal() {
		return ErrInvalidTransition
	}
	job.State = result.State
	job.FinishedAt = &at
	job.Result = result
	return nil
}
