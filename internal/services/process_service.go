package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/analysis"
	"github.com/lockwhz/scan-triage-service/internal/auth"
	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/findings"
	"github.com/lockwhz/scan-triage-service/internal/git"
	"github.com/lockwhz/scan-triage-service/internal/logger"
	"github.com/lockwhz/scan-triage-service/internal/metrics"
	"github.com/lockwhz/scan-triage-service/internal/queue"
	"github.com/lockwhz/scan-triage-service/internal/scan"
	"github.com/lockwhz/scan-triage-service/models"
)

var defaultTracer = otel.Tracer("scan-triage-service/pipeline")

// maxStderr limita o stderr guardado por ferramenta no resultado.
const maxStderr = 4096

// ScanRunner é o executor de scan (clone + ferramentas em workspace efêmero).
type ScanRunner interface {
	Run(ctx context.Context, req scan.Request, handle scan.HandleFunc) error
}

// Triage produz o resumo de risco; nunca falha.
type Triage interface {
	Analyze(ctx context.Context, in analysis.Input) models.AnalysisResult
}

// Pipeline executa um job: credencial, clone, ferramentas, normalização e
// triagem. Sempre devolve um resultado terminal.
type Pipeline struct {
	Credentials auth.CredentialSource
	Executor    ScanRunner
	Analyzer    Triage
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	// Tracer padrão: o provider global instalado pelo bootstrap.
	Tracer trace.Tracer
}

// Process roda o job e monta o JobResult (completed ou failed). Panics viram
// failed/exception. Quando retorna, o workspace já foi removido.
func (p *Pipeline) Process(ctx context.Context, job *models.Job) (res *models.JobResult) {
	log := p.log().With(zap.String("job_id", job.ID))
	defer logger.Trace(log, "Pipeline.Process", time.Now())

	ctx, span := p.tracer().Start(ctx, "pipeline.Process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.repo", job.RepoURL),
		attribute.String("job.branch", job.Branch),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic no pipeline", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, "panic")
			res = queue.FailedResult(job, models.ErrorTypeException, fmt.Sprintf("panic: %v", r), "")
		}
	}()

	cred, err := p.credential(ctx, job)
	if err != nil {
		return p.fail(span, log, job, err)
	}

	var (
		tools = map[string]models.ToolRun{}
		fs    = []models.Finding{}
	)
	scanCtx, scanSpan := p.tracer().Start(ctx, "pipeline.scan")
	err = p.Executor.Run(scanCtx, scan.Request{
		JobID:      job.ID,
		Target:     git.Target{RepoURL: job.RepoURL, Branch: job.Branch, Commit: job.Commit},
		Credential: cred,
	}, func(repoDir string, outputs []scan.RawOutput) error {
		for _, out := range outputs {
			tools[out.Tool] = models.ToolRun{
				ExitCode:   out.ExitCode,
				Stderr:     clip(cred.Scrub(out.Stderr), maxStderr),
				DurationMs: out.Duration.Milliseconds(),
			}
			if p.Metrics != nil {
				p.Metrics.ToolDuration.WithLabelValues(out.Tool).Observe(out.Duration.Seconds())
			}
			fs = append(fs, findings.Normalize(out.Tool, out.Output, findings.WithWorkspace(repoDir))...)
		}
		// segredos de uma ferramenta também aparecem nos snippets da outra
		findings.RedactSnippets(fs)
		return nil
	})
	endSpan(scanSpan, err)
	if err != nil {
		return p.fail(span, log, job, err)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(span, log, job, err)
	}

	counts := findings.Aggregate(fs)
	if p.Metrics != nil {
		p.Metrics.Findings.WithLabelValues(string(models.FindingSecret)).Add(float64(counts.Secrets))
		p.Metrics.Findings.WithLabelValues(string(models.FindingVulnerability)).Add(float64(counts.Vulnerabilities))
		p.Metrics.Findings.WithLabelValues(string(models.FindingMisconfiguration)).Add(float64(counts.Misconfigurations))
	}
	log.Info("scan concluído",
		zap.Int("secrets", counts.Secrets),
		zap.Int("vulnerabilities", counts.Vulnerabilities),
		zap.Int("misconfigurations", counts.Misconfigurations))
	log.Debug("findings por regra", zap.Any("by_rule", findings.CountByRule(fs)))

	anCtx, anSpan := p.tracer().Start(ctx, "pipeline.analyze")
	result := p.Analyzer.Analyze(anCtx, analysis.Input{
		Repo:     job.RepoURL,
		Branch:   job.Branch,
		Commit:   job.Commit,
		Findings: fs,
	})
	if result.Error != "" {
		anSpan.SetStatus(codes.Error, result.Error)
		if p.Metrics != nil {
			p.Metrics.AnalysisDegraded.Inc()
		}
	}
	anSpan.End()

	// o timeout do job vale para o pipeline inteiro, triagem incluída
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return p.fail(span, log, job, ctx.Err())
	}

	span.SetAttributes(attribute.Int("job.risk_score", result.RiskScore))
	return &models.JobResult{
		JobID:    job.ID,
		State:    models.StateCompleted,
		Repo:     job.RepoURL,
		Branch:   job.Branch,
		Commit:   job.Commit,
		ScanTime: time.Now().UTC(),
		Tools:    tools,
		Findings: fs,
		Counts:   counts,
		Analysis: &result,
	}
}

func (p *Pipeline) credential(ctx context.Context, job *models.Job) (*auth.Credential, error) {
	ctx, span := p.tracer().Start(ctx, "pipeline.credential")
	cred, err := p.Credentials.Credential(ctx, job.InstallationID)
	endSpan(span, err)
	if err != nil {
		var ce *auth.CredentialError
		if !errors.As(err, &ce) {
			err = &auth.CredentialError{InstallationID: job.InstallationID, Err: err}
		}
		return nil, err
	}
	return cred, nil
}

func (p *Pipeline) fail(span trace.Span, log *zap.Logger, job *models.Job, err error) *models.JobResult {
	errType, stderr := Classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, errType)
	log.Error("job falhou", zap.String("error_type", errType), zap.Error(err))
	return queue.FailedResult(job, errType, err.Error(), stderr)
}

// Classify mapeia o erro de uma etapa para o error_type do resultado. O
// stderr só é devolvido para falhas de clone (já sem o token).
func Classify(err error) (errorType, stderr string) {
	var (
		credErr   *auth.CredentialError
		cloneErr  *git.CloneError
		timeout   *command.TimeoutError
		launchErr *scan.ToolLaunchError
	)
	switch {
	case errors.As(err, &credErr):
		return models.ErrorTypeCredential, ""
	case errors.As(err, &cloneErr):
		return models.ErrorTypeClone, cloneErr.Stderr
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return models.ErrorTypeTimeout, ""
	case errors.As(err, &launchErr):
		return models.ErrorTypeToolLaunch, ""
	default:
		return models.ErrorTypeException, ""
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (p *Pipeline) tracer() trace.Tracer {
	if p.Tracer == nil {
		return defaultTracer
	}
	return p.Tracer
}

func (p *Pipeline) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
