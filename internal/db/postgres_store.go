package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/logger"
	"github.com/lockwhz/scan-triage-service/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_jobs (
	id              UUID PRIMARY KEY,
	repo_url        TEXT        NOT NULL,
	branch          TEXT        NOT NULL,
	commit_sha      TEXT        NOT NULL DEFAULT '',
	installation_id BIGINT      NOT NULL DEFAULT 0,
	state           TEXT        NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ,
	result          JSONB,
	expires_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_jobs_expires_at_idx ON scan_jobs (expires_at);`

// PostgresStore compartilha o status entre réplicas. As transições são
// UPDATEs condicionais; a retenção é cumprida por Purge.
type PostgresStore struct {
	DB  *sql.DB
	Log *zap.Logger
	now func() time.Time
}

// Connect abre conexão PostgreSQL usando lib/pq e valida com Ping().
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conn: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

func NewPostgresStore(conn *sql.DB, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{DB: conn, Log: log, now: time.Now}
}

// EnsureSchema cria a tabela se ainda não existir.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("criar schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, job *models.Job, ttl time.Duration) error {
	defer logger.Trace(p.Log, "CreateJob", time.Now())

	const q = `INSERT INTO scan_jobs (id, repo_url, branch, commit_sha, installation_id, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.DB.ExecContext(ctx, q,
		job.ID, job.RepoURL, job.Branch, job.Commit, job.InstallationID,
		string(job.State), job.CreatedAt, job.CreatedAt.Add(ttl))
	if err != nil {
		return fmt.Errorf("erro ao inserir job %s: %w", job.ID, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	const q = `SELECT id, repo_url, branch, commit_sha, installation_id, state, created_at, started_at, finished_at, result
		FROM scan_jobs WHERE id = $1 AND expires_at > $2`

	var (
		job               models.Job
		state             string
		started, finished sql.NullTime
		result            []byte
	)
	err := p.DB.QueryRowContext(ctx, q, id, p.now()).Scan(
		&job.ID, &job.RepoURL, &job.Branch, &job.Commit, &job.InstallationID,
		&state, &job.CreatedAt, &started, &finished, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("erro ao ler job %s: %w", id, err)
	}

	job.State = models.JobState(state)
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	if len(result) > 0 {
		var r models.JobResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("resultado do job %s corrompido: %w", id, err)
		}
		job.Result = &r
	}
	return &job, nil
}

func (p *PostgresStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE scan_jobs SET state = 'running', started_at = $2
		WHERE id = $1 AND state = 'queued'`
	res, err := p.DB.ExecContext(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("erro ao atualizar status do job %s: %w", id, err)
	}
	return p.checkApplied(ctx, id, res)
}

func (p *PostgresStore) Complete(ctx context.Context, id string, result *models.JobResult, at time.Time, ttl time.Duration) error {
	defer logger.Trace(p.Log, "CompleteJob", time.Now())

	if result == nil || !result.State.Terminal() {
		return ErrInvalidTransition
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serializar resultado: %w", err)
	}
	const q = `UPDATE scan_jobs SET state = $2, result = $3, finished_at = $4, expires_at = $5
		WHERE id = $1 AND state NOT IN ('completed', 'failed')`
	res, err := p.DB.ExecContext(ctx, q, id, string(result.State), doc, at, at.Add(ttl))
	if err != nil {
		return fmt.Errorf("erro ao gravar resultado do job %s: %w", id, err)
	}
	return p.checkApplied(ctx, id, res)
}

// checkApplied traduz "nenhuma linha afetada" no erro de estado correto.
func (p *PostgresStore) checkApplied(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	job, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return ErrAlreadyTerminal
	}
	return ErrInvalidTransition
}

// Purge remove registros fora da janela de retenção.
func (p *PostgresStore) Purge(ctx context.Context) (int64, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM scan_jobs WHERE expires_at <= $1`, p.now())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

// RunPurge chama Purge a cada interval até ctx terminar.
func (p *PostgresStore) RunPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Purge(ctx)
			if err != nil {
				p.Log.Warn("purge falhou", zap.Error(err))
				continue
			}
			if n > 0 {
				p.Log.Debug("jobs expirados removidos", zap.Int64("total", n))
			}
		}
	}
}

func (p *PostgresStore) Close() error { return p.DB.Close() }
