package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sashabaranov/go-openai"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/config"
	"github.com/lockwhz/scan-triage-service/internal/analysis"
	"github.com/lockwhz/scan-triage-service/internal/auth"
	"github.com/lockwhz/scan-triage-service/internal/command"
	"github.com/lockwhz/scan-triage-service/internal/db"
	"github.com/lockwhz/scan-triage-service/internal/git"
	"github.com/lockwhz/scan-triage-service/internal/logger"
	"github.com/lockwhz/scan-triage-service/internal/metrics"
	"github.com/lockwhz/scan-triage-service/internal/notify"
	"github.com/lockwhz/scan-triage-service/internal/queue"
	"github.com/lockwhz/scan-triage-service/internal/scan"
	"github.com/lockwhz/scan-triage-service/internal/secrets"
	"github.com/lockwhz/scan-triage-service/internal/services"
	"github.com/lockwhz/scan-triage-service/internal/telemetry"
)

// intervalo do GC do value log do badger persistente
const badgerGCInterval = 10 * time.Minute

// app reúne o que todos os comandos precisam: configuração com segredos já
// resolvidos, logger e métricas.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	aws     *aws.Config
	tracer  *sdktrace.TracerProvider
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuração inválida: %w", err)
	}
	log, err := logger.New(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, LogPath: cfg.LogPath})
	if err != nil {
		return nil, fmt.Errorf("iniciar logger: %w", err)
	}
	defer logger.Trace(log, "bootstrap", time.Now())

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	if cfg.EnableSecrets || cfg.QueueBackend == "sqs" {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("carregar configuração AWS: %w", err)
		}
		a.aws = &awsCfg
	}

	if err := a.resolveSecrets(ctx); err != nil {
		return nil, err
	}

	a.tracer, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "scan-triage-service",
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("iniciar tracing: %w", err)
	}
	return a, nil
}

// shutdown descarrega os spans pendentes.
func (a *app) shutdown(ctx context.Context) {
	if a.tracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.Warn("shutdown do tracer", zap.Error(err))
	}
}

// resolveSecrets busca os valores sensíveis em ambiente, /run/secrets e,
// se habilitado, no AWS Secrets Manager, nessa ordem.
func (a *app) resolveSecrets(ctx context.Context) error {
	chain := secrets.Chain{secrets.EnvSecretsManager{}, secrets.FileSecretsManager{}}
	if a.cfg.EnableSecrets {
		chain = append(chain, secrets.NewAWSSecretsManager(*a.aws, a.cfg.SecretsPrefix))
	}

	targets := map[string]*string{
		"WEBHOOK_SECRET":    &a.cfg.WebhookSecret,
		"API_KEY":           &a.cfg.APIKey,
		"GITHUB_TOKEN":      &a.cfg.GitHubToken,
		"OPENAI_API_KEY":    &a.cfg.OpenAIAPIKey,
		"SLACK_WEBHOOK_URL": &a.cfg.SlackWebhookURL,
		"PG_PASSWORD":       &a.cfg.PGPassword,
	}
	for name, dst := range targets {
		v, err := secrets.Lookup(ctx, chain, name, *dst)
		if err != nil {
			return fmt.Errorf("resolver segredo %s: %w", name, err)
		}
		*dst = v
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (db.Store, error) {
	switch a.cfg.StoreBackend {
	case "postgres":
		conn, err := db.Connect(ctx, a.cfg.PostgresConnString())
		if err != nil {
			return nil, err
		}
		store := db.NewPostgresStore(conn, a.log)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		go store.RunPurge(ctx, 10*time.Minute)
		return store, nil
	default:
		return db.OpenBadger(a.badgerConfig())
	}
}

func (a *app) badgerConfig() db.BadgerConfig {
	return db.BadgerConfig{
		Path:       a.cfg.BadgerPath,
		InMemory:   a.cfg.BadgerPath == "",
		GCInterval: badgerGCInterval,
		Log:        a.log,
	}
}

func (a *app) dispatcher() queue.Dispatcher {
	if a.cfg.QueueBackend == "sqs" {
		return queue.NewSQSDispatcher(awssqs.NewFromConfig(*a.aws), a.cfg.SQSQueueURL, a.cfg.JobTimeout, a.log)
	}
	return queue.NewLocalDispatcher(0)
}

// credentials escolhe a fonte de token: GitHub App para jobs com
// installation id, token estático ou anônimo para o resto.
func (a *app) credentials() (auth.CredentialSource, error) {
	var router auth.Router
	if a.cfg.GitHubToken != "" {
		router.Fallback = auth.StaticSource{Token: a.cfg.GitHubToken}
	} else {
		router.Fallback = auth.AnonymousSource{}
	}
	if a.cfg.GitHubAppID != "" {
		appAuth, err := auth.NewAppAuthenticatorFromFile(a.cfg.GitHubAppID, a.cfg.GitHubPrivateKeyPath, auth.WithBaseURL(a.cfg.GitHubAPIURL))
		if err != nil {
			return nil, err
		}
		router.App = appAuth
	}
	return router, nil
}

func (a *app) executor() *scan.Executor {
	runner := command.ExecRunner{}
	var cloner git.Cloner = &git.CLICloner{Runner: runner, GitPath: a.cfg.GitPath, Timeout: a.cfg.CloneTimeout, Log: a.log}
	if a.cfg.CloneBackend == "go-git" {
		cloner = &git.GoGitCloner{Timeout: a.cfg.CloneTimeout, Log: a.log}
	}
	return &scan.Executor{
		Cloner: cloner,
		Scanners: []scan.Scanner{
			&scan.GitleaksScanner{Path: a.cfg.GitleaksPath, Runner: runner, Timeout: a.cfg.ToolTimeout, Log: a.log},
			&scan.TrivyScanner{Path: a.cfg.TrivyPath, Runner: runner, Timeout: a.cfg.ToolTimeout, Log: a.log},
		},
		CloneSem: make(chan struct{}, a.cfg.CloneMaxConc),
		Log:      a.log,
	}
}

// analyzer sem OPENAI_API_KEY fica sem cliente: toda triagem sai degradada.
func (a *app) analyzer() (*analysis.Analyzer, error) {
	var client analysis.Completer
	if a.cfg.OpenAIAPIKey != "" {
		oc := openai.DefaultConfig(a.cfg.OpenAIAPIKey)
		if a.cfg.OpenAIBaseURL != "" {
			oc.BaseURL = a.cfg.OpenAIBaseURL
		}
		client = openai.NewClientWithConfig(oc)
	} else {
		a.log.Warn("OPENAI_API_KEY ausente; triagem sempre degradada")
	}
	return analysis.New(client, analysis.Config{
		Model:            a.cfg.OpenAIModel,
		MaxFindings:      a.cfg.LLMMaxFindings,
		MaxEvidenceChars: a.cfg.LLMMaxEvidenceChars,
		Timeout:          a.cfg.LLMTimeout,
	}, a.log)
}

func (a *app) notifier() notify.Notifier {
	if a.cfg.SlackWebhookURL == "" {
		return notify.Nop{}
	}
	return notify.NewSlackNotifier(a.cfg.SlackWebhookURL, a.cfg.SlackChannel, a.cfg.SlackMinRisk, a.log)
}

func (a *app) pipeline() (*services.Pipeline, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	an, err := a.analyzer()
	if err != nil {
		return nil, err
	}
	p := &services.Pipeline{
		Credentials: creds,
		Executor:    a.executor(),
		Analyzer:    an,
		Metrics:     a.metrics,
		Log:         a.log,
	}
	if a.tracer != nil {
		p.Tracer = a.tracer.Tracer("scan-triage-service/pipeline")
	}
	return p, nil
}
