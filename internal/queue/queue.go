// Package queue cria jobs, acompanha seu estado e os entrega aos workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/db"
	"github.com/lockwhz/scan-triage-service/internal/metrics"
	"github.com/lockwhz/scan-triage-service/models"
)

var (
	// ErrNotFound: id desconhecido ou já fora da retenção.
	ErrNotFound = db.ErrNotFound
	// ErrNotClaimable: entrega duplicada de um job que não deve rodar de novo.
	ErrNotClaimable = errors.New("job não pode ser assumido")
	// ErrInFlight: outro worker está com o job dentro do prazo.
	ErrInFlight = errors.New("job em execução por outro worker")
)

type Options struct {
	Retention  time.Duration
	JobTimeout time.Duration
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

type Queue struct {
	store      db.Store
	dispatcher Dispatcher
	retention  time.Duration
	jobTimeout time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(store db.Store, dispatcher Dispatcher, opts Options) *Queue {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 15 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Queue{
		store:      store,
		dispatcher: dispatcher,
		retention:  opts.Retention,
		jobTimeout: opts.JobTimeout,
		log:        opts.Log,
		metrics:    opts.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Status é a visão de GetStatus: só o estado enquanto pendente, o documento
// completo quando terminal.
type Status struct {
	JobID  string            `json:"job_id"`
	State  models.JobState   `json:"state"`
	Result *models.JobResult `json:"-"`
}

// Enqueue persiste o job como queued e o entrega aos workers. Se a entrega
// falhar o job é fechado como failed, nunca fica queued para sempre.
func (q *Queue) Enqueue(ctx context.Context, req models.ScanRequest) (string, error) {
	job := &models.Job{
		ID:             uuid.NewString(),
		RepoURL:        req.RepoURL,
		Branch:         req.Branch,
		Commit:         req.Commit,
		InstallationID: req.InstallationID,
		State:          models.StateQueued,
		CreatedAt:      q.now(),
	}
	if err := q.store.Create(ctx, job, q.retention+q.jobTimeout); err != nil {
		return "", fmt.Errorf("persistir job: %w", err)
	}

	if err := q.dispatcher.Dispatch(ctx, job.ID); err != nil {
		res := FailedResult(job, models.ErrorTypeException, fmt.Sprintf("dispatch failed: %v", err), "")
		if cerr := q.Complete(context.WithoutCancel(ctx), job.ID, res); cerr != nil {
			q.log.Error("falha ao fechar job não despachado", zap.String("job_id", job.ID), zap.Error(cerr))
		}
		return "", fmt.Errorf("despachar job: %w", err)
	}

	if q.metrics != nil {
		q.metrics.JobsEnqueued.Inc()
	}
	q.log.Info("job enfileirado",
		zap.String("job_id", job.ID),
		zap.String("repo", job.RepoURL),
		zap.String("branch", job.Branch),
		zap.String("commit", job.Commit))
	return job.ID, nil
}

func (q *Queue) GetStatus(ctx context.Context, id string) (Status, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	st := Status{JobID: job.ID, State: job.State}
	if job.State.Terminal() {
		st.Result = job.Result
	}
	return st, nil
}

// Claim faz queued→running para o worker que recebeu a entrega. Um job
// running além do timeout (worker que caiu) é fechado como abandoned.
func (q *Queue) Claim(ctx context.Context, id string) (*models.Job, error) {
	err := q.store.MarkRunning(ctx, id, q.now())
	switch {
	case err == nil:
		return q.store.Get(ctx, id)
	case errors.Is(err, db.ErrAlreadyTerminal), errors.Is(err, db.ErrNotFound):
		return nil, ErrNotClaimable
	case !errors.Is(err, db.ErrInvalidTransition):
		return nil, err
	}

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.StartedAt == nil || q.now().Sub(*job.StartedAt) <= q.jobTimeout {
		return nil, ErrInFlight
	}
	q.log.Warn("job abandonado por worker anterior", zap.String("job_id", id), zap.Time("started_at", *job.StartedAt))
	res := FailedResult(job, models.ErrorTypeAbandoned, "worker did not finish the job within the job timeout", "")
	if err := q.Complete(ctx, id, res); err != nil {
		return nil, err
	}
	return nil, ErrNotClaimable
}

// Complete grava o resultado terminal. Uma segunda conclusão é anomalia:
// fica no log e nas métricas, sem sobrescrever nada.
func (q *Queue) Complete(ctx context.Context, id string, result *models.JobResult) error {
	err := q.store.Complete(ctx, id, result, q.now(), q.retention)
	if errors.Is(err, db.ErrAlreadyTerminal) {
		q.log.Warn("conclusão duplicada ignorada", zap.String("job_id", id), zap.String("state", string(result.State)))
		if q.metrics != nil {
			q.metrics.DuplicateCompletions.Inc()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("gravar resultado do job %s: %w", id, err)
	}
	if q.metrics != nil {
		q.metrics.JobsFinished.WithLabelValues(string(result.State), result.ErrorType).Inc()
	}
	return nil
}

// Receive repassa a próxima entrega do dispatcher.
func (q *Queue) Receive(ctx context.Context) (Delivery, error) {
	return q.dispatcher.Receive(ctx)
}

// FailedResult monta o documento de falha de um job.
func FailedResult(job *models.Job, errorType, detail, stderr string) *models.JobResult {
	return &models.JobResult{
		JobID:     job.ID,
		State:     models.StateFailed,
		Repo:      job.RepoURL,
		Branch:    job.Branch,
		Commit:    job.Commit,
		ScanTime:  time.Now().UTC(),
		ErrorType: errorType,
		Detail:    detail,
		Stderr:    stderr,
		Findings:  []models.Finding{},
	}
}
