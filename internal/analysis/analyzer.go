// Package analysis faz a triagem dos findings com um modelo de linguagem.
// Qualquer falha vira um resultado degradado (risk 0, listas vazias); a
// triagem nunca derruba o pipeline.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/logger"
	"github.com/lockwhz/scan-triage-service/models"
)

const (
	DefaultMaxFindings      = 150
	DefaultMaxEvidenceChars = 800
	maxTopThreats           = 10

	degradedSummary = "LLM analysis failed; showing raw scan only."
	emptySummary    = "No findings reported by the scanners."
)

// Completer é o subconjunto do cliente go-openai usado aqui.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	Model            string
	MaxFindings      int
	MaxEvidenceChars int
	Timeout          time.Duration
	Temperature      float32
}

// Input é o que a triagem recebe de um job.
type Input struct {
	Repo     string
	Branch   string
	Commit   string
	Findings []models.Finding
}

// AnalysisError descreve por que a triagem degradou.
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *AnalysisError) Unwrap() error { return e.Err }

type Analyzer struct {
	client   Completer
	cfg      Config
	schema   *jsonschema.Definition
	validate *validator.Validate
	log      *zap.Logger
}

// llmAnalysis é o formato exigido do modelo (sem o marcador de erro).
type llmAnalysis struct {
	Summary    string          `json:"summary" validate:"required"`
	RiskScore  int             `json:"risk_score" validate:"min=0,max=10"`
	TopThreats []models.Threat `json:"top_threats" validate:"dive"`
	FixPlan    []string        `json:"fix_plan"`
}

// New monta o analisador. client nil produz sempre resultado degradado
// (OPENAI_API_KEY ausente).
func New(client Completer, cfg Config, log *zap.Logger) (*Analyzer, error) {
	if cfg.MaxFindings <= 0 {
		cfg.MaxFindings = DefaultMaxFindings
	}
	if cfg.MaxEvidenceChars <= 0 {
		cfg.MaxEvidenceChars = DefaultMaxEvidenceChars
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := jsonschema.GenerateSchemaForType(llmAnalysis{})
	if err != nil {
		return nil, fmt.Errorf("gerar schema da análise: %w", err)
	}
	return &Analyzer{
		client:   client,
		cfg:      cfg,
		schema:   schema,
		validate: validator.New(),
		log:      log,
	}, nil
}

// Analyze nunca falha: o erro fica em AnalysisResult.Error.
func (a *Analyzer) Analyze(ctx context.Context, in Input) models.AnalysisResult {
	defer logger.Trace(a.log, "RiskAnalyzer.Analyze", time.Now())

	if len(in.Findings) == 0 {
		return models.AnalysisResult{Summary: emptySummary, TopThreats: []models.Threat{}, FixPlan: []string{}}
	}

	res, err := a.analyze(ctx, in)
	if err != nil {
		a.log.Warn("triagem degradada", zap.String("repo", in.Repo), zap.Error(err))
		return Degraded(err)
	}
	return res
}

func (a *Analyzer) analyze(ctx context.Context, in Input) (models.AnalysisResult, error) {
	if a.client == nil {
		return models.AnalysisResult{}, &AnalysisError{Stage: "config", Err: errors.New("llm client not configured")}
	}

	payload, err := json.Marshal(Truncate(in.Findings, a.cfg.MaxFindings, a.cfg.MaxEvidenceChars))
	if err != nil {
		return models.AnalysisResult{}, &AnalysisError{Stage: "encode", Err: err}
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(in, payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "security_analysis",
				Schema: a.schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return models.AnalysisResult{}, &AnalysisError{Stage: "request", Err: err}
	}
	if len(resp.Choices) == 0 {
		return models.AnalysisResult{}, &AnalysisError{Stage: "response", Err: errors.New("no choices returned")}
	}

	var out llmAnalysis
	dec := json.NewDecoder(strings.NewReader(resp.Choices[0].Message.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return models.AnalysisResult{}, &AnalysisError{Stage: "decode", Err: err}
	}
	if err := a.validate.Struct(out); err != nil {
		return models.AnalysisResult{}, &AnalysisError{Stage: "validate", Err: err}
	}

	if len(out.TopThreats) > maxTopThreats {
		out.TopThreats = out.TopThreats[:maxTopThreats]
	}
	if out.TopThreats == nil {
		out.TopThreats = []models.Threat{}
	}
	if out.FixPlan == nil {
		out.FixPlan = []string{}
	}
	return models.AnalysisResult{
		Summary:    out.Summary,
		RiskScore:  out.RiskScore,
		TopThreats: out.TopThreats,
		FixPlan:    out.FixPlan,
	}, nil
}

// Degraded monta o resultado usado quando a triagem falha.
func Degraded(err error) models.AnalysisResult {
	return models.AnalysisResult{
		Summary:    degradedSummary,
		RiskScore:  0,
		TopThreats: []models.Threat{},
		FixPlan:    []string{},
		Error:      "llm_analysis_failed: " + err.Error(),
	}
}

// Truncate limita quantidade e tamanho dos textos antes do envio. Não altera fs.
func Truncate(fs []models.Finding, maxFindings, maxChars int) []models.Finding {
	if maxFindings > 0 && len(fs) > maxFindings {
		fs = fs[:maxFindings]
	}
	out := make([]models.Finding, len(fs))
	for i, f := range fs {
		f.Evidence = clip(f.Evidence, maxChars)
		f.Description = clip(f.Description, maxChars)
		if f.Snippet != nil {
			s := *f.Snippet
			s.Code = clip(s.Code, maxChars)
			f.Snippet = &s
		}
		out[i] = f
	}
	return out
}

func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
