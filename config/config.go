package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"` // Endereço do servidor HTTP.
	Env      string `yaml:"env"`       // Ambiente (production, dev...).
	LogPath  string `yaml:"log_path"`  // Arquivo de log rotativo; vazio = só console.
	LogLevel string `yaml:"log_level"` // debug, info, warn, error.

	WebhookSecret string `yaml:"-"` // Segredo HMAC do webhook do GitHub.
	APIKey        string `yaml:"-"` // Bearer dos endpoints /scan e /ingest.

	GitHubAppID          string `yaml:"github_app_id"`           // ID do GitHub App.
	GitHubPrivateKeyPath string `yaml:"github_private_key_path"` // PEM do GitHub App.
	GitHubAPIURL         string `yaml:"github_api_url"`          // Base da API (GHES).
	GitHubToken          string `yaml:"-"`                       // Token estático (sem App).

	OpenAIAPIKey        string        `yaml:"-"`
	OpenAIModel         string        `yaml:"openai_model"`
	OpenAIBaseURL       string        `yaml:"openai_base_url"`
	LLMMaxFindings      int           `yaml:"llm_max_findings"`
	LLMMaxEvidenceChars int           `yaml:"llm_max_evidence_chars"`
	LLMTimeout          time.Duration `yaml:"llm_timeout"`

	SlackWebhookURL string `yaml:"-"`
	SlackChannel    string `yaml:"slack_channel"`
	SlackMinRisk    int    `yaml:"slack_min_risk"`

	StoreBackend string `yaml:"store_backend"` // badger | postgres
	BadgerPath   string `yaml:"badger_path"`   // vazio = em memória
	PGHost       string `yaml:"pg_host"`       // Host do RDS.
	PGPort       string `yaml:"pg_port"`       // Porta do RDS.
	PGName       string `yaml:"pg_name"`       // Nome do banco.
	PGUser       string `yaml:"pg_user"`       // Usuário.
	PGPassword   string `yaml:"-"`             // Senha.

	QueueBackend string `yaml:"queue_backend"` // local | sqs
	SQSQueueURL  string `yaml:"sqs_queue_url"` // URL da fila SQS.
	AWSRegion    string `yaml:"aws_region"`

	Workers         int           `yaml:"workers"`          // Número de workers no consumer.
	CloneMaxConc    int           `yaml:"clone_max_conc"`   // Limite de clones simultâneos.
	JobTimeout      time.Duration `yaml:"job_timeout"`      // Timeout do job inteiro.
	ResultRetention time.Duration `yaml:"result_retention"` // Retenção do resultado.
	ToolTimeout     time.Duration `yaml:"tool_timeout"`     // Timeout por ferramenta.
	CloneTimeout    time.Duration `yaml:"clone_timeout"`

	GitPath      string `yaml:"git_path"`
	GitleaksPath string `yaml:"gitleaks_path"` // Caminho do binário do Gitleaks.
	TrivyPath    string `yaml:"trivy_path"`
	CloneBackend string `yaml:"clone_backend"` // cli | go-git

	EnableSecrets bool   `yaml:"enable_secrets_manager"` // Habilita AWS Secrets Manager.
	SecretsPrefix string `yaml:"secrets_prefix"`

	TraceExporter string `yaml:"trace_exporter"` // otlp | stdout | none
	OTLPEndpoint  string `yaml:"otlp_endpoint"`  // host:porta do coletor OTLP/gRPC.
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

// Default devolve os valores padrão usados quando nada é configurado.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		Env:                 "production",
		LogLevel:            "info",
		GitHubAPIURL:        "https://api.github.com/",
		OpenAIModel:         "gpt-4o-mini",
		LLMMaxFindings:      150,
		LLMMaxEvidenceChars: 800,
		LLMTimeout:          60 * time.Second,
		SlackMinRisk:        7,
		StoreBackend:        "badger",
		PGPort:              "5432",
		QueueBackend:        "local",
		Workers:             5,
		CloneMaxConc:        3,
		JobTimeout:          15 * time.Minute,
		ResultRetention:     24 * time.Hour,
		ToolTimeout:         10 * time.Minute,
		CloneTimeout:        5 * time.Minute,
		GitPath:             "git",
		GitleaksPath:        "gitleaks",
		TrivyPath:           "trivy",
		CloneBackend:        "cli",
		TraceExporter:       "none",
		OTLPEndpoint:        "localhost:4317",
		OTLPInsecure:        true,
	}
}

// Load monta a configuração: padrão, arquivo YAML (CONFIG_FILE) e por fim
// as variáveis de ambiente, que sempre prevalecem.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ler arquivo de configuração: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsear arquivo de configuração: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
			*dst = v
		}
	}
	parseBool := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = v
		}
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("APP_ENV", &c.Env)
	str("LOG_PATH", &c.LogPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("WEBHOOK_SECRET", &c.WebhookSecret)
	str("API_KEY", &c.APIKey)
	str("GITHUB_APP_ID", &c.GitHubAppID)
	str("GITHUB_APP_PRIVATE_KEY_PATH", &c.GitHubPrivateKeyPath)
	str("GITHUB_API_URL", &c.GitHubAPIURL)
	str("GITHUB_TOKEN", &c.GitHubToken)
	str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	str("OPENAI_MODEL", &c.OpenAIModel)
	str("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	num("LLM_MAX_FINDINGS", &c.LLMMaxFindings)
	num("LLM_MAX_EVIDENCE_CHARS", &c.LLMMaxEvidenceChars)
	dur("LLM_TIMEOUT", &c.LLMTimeout)
	str("SLACK_WEBHOOK_URL", &c.SlackWebhookURL)
	str("SLACK_CHANNEL", &c.SlackChannel)
	num("SLACK_MIN_RISK", &c.SlackMinRisk)
	str("STORE_BACKEND", &c.StoreBackend)
	str("BADGER_PATH", &c.BadgerPath)
	str("PG_HOST", &c.PGHost)
	str("PG_PORT", &c.PGPort)
	str("PG_NAME", &c.PGName)
	str("PG_USER", &c.PGUser)
	str("PG_PASSWORD", &c.PGPassword)
	str("QUEUE_BACKEND", &c.QueueBackend)
	str("SQS_QUEUE_URL", &c.SQSQueueURL)
	str("AWS_REGION", &c.AWSRegion)
	num("WORKERS", &c.Workers)
	num("CLONE_MAX_CONC", &c.CloneMaxConc)
	dur("JOB_TIMEOUT", &c.JobTimeout)
	dur("RESULT_RETENTION", &c.ResultRetention)
	dur("TOOL_TIMEOUT", &c.ToolTimeout)
	dur("CLONE_TIMEOUT", &c.CloneTimeout)
	str("GIT_PATH", &c.GitPath)
	str("GITLEAKS_PATH", &c.GitleaksPath)
	str("TRIVY_PATH", &c.TrivyPath)
	str("CLONE_BACKEND", &c.CloneBackend)
	parseBool("ENABLE_SECRETS_MANAGER", &c.EnableSecrets)
	str("SECRETS_PREFIX", &c.SecretsPrefix)
	str("OTEL_TRACES_EXPORTER", &c.TraceExporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)
	parseBool("OTEL_EXPORTER_OTLP_INSECURE", &c.OTLPInsecure)
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case "badger":
	case "postgres":
		if c.PGHost == "" || c.PGName == "" {
			return fmt.Errorf("store_backend postgres exige PG_HOST e PG_NAME")
		}
	default:
		return fmt.Errorf("store_backend inválido: %s", c.StoreBackend)
	}
	switch c.QueueBackend {
	case "local":
	case "sqs":
		if c.SQSQueueURL == "" {
			return fmt.Errorf("queue_backend sqs exige SQS_QUEUE_URL")
		}
	default:
		return fmt.Errorf("queue_backend inválido: %s", c.QueueBackend)
	}
	if c.CloneBackend != "cli" && c.CloneBackend != "go-git" {
		return fmt.Errorf("clone_backend inválido: %s", c.CloneBackend)
	}
	switch c.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("trace_exporter otlp exige OTEL_EXPORTER_OTLP_ENDPOINT")
		}
	default:
		return fmt.Errorf("trace_exporter inválido: %s", c.TraceExporter)
	}
	if c.Workers < 1 || c.CloneMaxConc < 1 {
		return fmt.Errorf("workers e clone_max_conc devem ser >= 1")
	}
	if c.JobTimeout <= 0 || c.ToolTimeout <= 0 || c.CloneTimeout <= 0 {
		return fmt.Errorf("timeouts devem ser positivos")
	}
	if c.LLMMaxFindings < 1 || c.LLMMaxEvidenceChars < 1 {
		return fmt.Errorf("limites do LLM devem ser >= 1")
	}
	if c.SlackMinRisk < 0 || c.SlackMinRisk > 10 {
		return fmt.Errorf("slack_min_risk fora de [0,10]: %d", c.SlackMinRisk)
	}
	return nil
}

func (c Config) PostgresConnString() string {
	// Exemplo: "host=localhost port=5432 dbname=mydb user=myuser password=mypass sslmode=disable"
	return "host=" + c.PGHost + " port=" + c.PGPort + " dbname=" + c.PGName + " user=" + c.PGUser + " password=" + c.PGPassword + " sslmode=disable"
}
