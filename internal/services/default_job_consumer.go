package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/logger"
	"github.com/lockwhz/scan-triage-service/internal/metrics"
	"github.com/lockwhz/scan-triage-service/internal/notify"
	"github.com/lockwhz/scan-triage-service/internal/queue"
	"github.com/lockwhz/scan-triage-service/models"
)

// JobQueue é a parte da fila usada pelos workers.
type JobQueue interface {
	Receive(ctx context.Context) (queue.Delivery, error)
	Claim(ctx context.Context, id string) (*models.Job, error)
	Complete(ctx context.Context, id string, result *models.JobResult) error
}

// Processor executa um job já assumido.
type Processor interface {
	Process(ctx context.Context, job *models.Job) *models.JobResult
}

// JobConsumer mantém N workers, cada um com um job por vez.
type JobConsumer struct {
	Queue      JobQueue
	Pipeline   Processor
	Notifier   notify.Notifier
	Workers    int
	JobTimeout time.Duration
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// Start bloqueia até ctx terminar e todos os workers saírem. Jobs em
// andamento terminam (limitados pelo JobTimeout) mesmo após o cancelamento.
func (c *JobConsumer) Start(ctx context.Context) {
	n := max(c.Workers, 1)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, workerID)
		}(i)
	}
	c.log().Info("consumer iniciado", zap.Int("workers", n))
	wg.Wait()
	c.log().Info("consumer encerrado")
}

func (c *JobConsumer) worker(ctx context.Context, workerID int) {
	log := c.log().With(zap.Int("worker", workerID))
	for {
		d, err := c.Queue.Receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("falha ao receber job", zap.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		c.Handle(ctx, d, log)
	}
}

// Handle processa uma entrega: claim, pipeline com timeout, escrita
// terminal única e ack.
func (c *JobConsumer) Handle(ctx context.Context, d queue.Delivery, log *zap.Logger) {
	log = log.With(zap.String("job_id", d.JobID))
	defer logger.TraceAuto(log)()
	ctx = context.WithoutCancel(ctx)

	job, err := c.Queue.Claim(ctx, d.JobID)
	switch {
	case errors.Is(err, queue.ErrNotClaimable):
		log.Info("entrega duplicada descartada")
		c.ack(ctx, d, log)
		return
	case errors.Is(err, queue.ErrInFlight):
		// sem ack: a mensagem volta e o claim decide de novo
		log.Warn("job ainda em execução em outro worker")
		return
	case err != nil:
		log.Error("falha ao assumir job", zap.Error(err))
		return
	}

	start := time.Now()
	if c.Metrics != nil {
		c.Metrics.JobsInFlight.Inc()
		defer c.Metrics.JobsInFlight.Dec()
	}

	res := c.run(ctx, job)
	if c.Metrics != nil {
		c.Metrics.JobDuration.Observe(time.Since(start).Seconds())
	}

	if err := c.Queue.Complete(ctx, job.ID, res); err != nil {
		log.Error("falha ao gravar resultado", zap.Error(err))
		return
	}
	c.ack(ctx, d, log)
	log.Info("job finalizado",
		zap.String("state", string(res.State)),
		zap.String("error_type", res.ErrorType),
		zap.Duration("duration", time.Since(start)))

	c.notify(ctx, res, log)
}

func (c *JobConsumer) run(ctx context.Context, job *models.Job) *models.JobResult {
	timeout := c.JobTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := c.Pipeline.Process(jobCtx, job)
	if res == nil {
		res = queue.FailedResult(job, models.ErrorTypeException, "pipeline returned no result", "")
	}
	res.JobID = job.ID
	return res
}

func (c *JobConsumer) ack(ctx context.Context, d queue.Delivery, log *zap.Logger) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(ctx); err != nil {
		log.Warn("falha no ack da entrega", zap.Error(err))
	}
}

func (c *JobConsumer) notify(ctx context.Context, res *models.JobResult, log *zap.Logger) {
	if c.Notifier == nil || res.State != models.StateCompleted || res.Analysis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err := c.Notifier.Notify(ctx, notify.Report{
		JobID:      res.JobID,
		Repo:       res.Repo,
		Branch:     res.Branch,
		Commit:     res.Commit,
		RiskScore:  res.Analysis.RiskScore,
		Summary:    res.Analysis.Summary,
		Counts:     res.Counts,
		TopThreats: res.Analysis.TopThreats,
	})
	if err != nil {
		log.Warn("falha ao notificar", zap.Error(err))
	}
}

func (c *JobConsumer) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
