// Package notify avisa o time quando um scan passa do limite de risco.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/models"
)

// Report é o que vai na notificação. Nunca carrega segredos: só contagens,
// resumo e ameaças já mascaradas.
type Report struct {
	JobID      string
	Repo       string
	Branch     string
	Commit     string
	RiskScore  int
	Summary    string
	Counts     models.Counts
	TopThreats []models.Threat
}

// Notifier envia um Report. Falhas não afetam o estado do job.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Nop descarta tudo; usado quando SLACK_WEBHOOK_URL não está configurado.
type Nop struct{}

func (Nop) Notify(context.Context, Report) error { return nil }

type SlackNotifier struct {
	WebhookURL string
	Channel    string
	MinRisk    int
	HTTPClient *http.Client
	Log        *zap.Logger
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewSlackNotifier(webhookURL, channel string, minRisk int, log *zap.Logger) *SlackNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		MinRisk:    minRisk,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Log:        log,
	}
}

// Notify só envia quando RiskScore >= MinRisk.
func (s *SlackNotifier) Notify(ctx context.Context, r Report) error {
	if r.RiskScore < s.MinRisk {
		return nil
	}
	if err := s.send(ctx, s.message(r)); err != nil {
		return err
	}
	s.Log.Info("notificação slack enviada", zap.String("job_id", r.JobID), zap.Int("risk_score", r.RiskScore))
	return nil
}

func (s *SlackNotifier) message(r Report) slackMessage {
	ref := r.Branch
	if r.Commit != "" {
		ref = fmt.Sprintf("%s@%s", r.Branch, shortSHA(r.Commit))
	}
	attachments := []slackAttachment{{
		Color: riskColor(r.RiskScore),
		Title: fmt.Sprintf("Risk score %d/10", r.RiskScore),
		Text:  r.Summary,
		Fields: []slackField{
			{Title: "Secrets", Value: fmt.Sprint(r.Counts.Secrets), Short: true},
			{Title: "Vulnerabilities", Value: fmt.Sprint(r.Counts.Vulnerabilities), Short: true},
			{Title: "Misconfigurations", Value: fmt.Sprint(r.Counts.Misconfigurations), Short: true},
			{Title: "Files", Value: fmt.Sprint(r.Counts.FilesScanned), Short: true},
		},
		Footer: "job " + r.JobID,
	}}

	if len(r.TopThreats) > 0 {
		text := ""
		for i, t := range r.TopThreats {
			if i >= 5 {
				text += fmt.Sprintf("\n_...and %d more_", len(r.TopThreats)-5)
				break
			}
			text += fmt.Sprintf("• *%s* (%d) `%s`\n", t.Title, t.Severity, t.File)
		}
		attachments = append(attachments, slackAttachment{Color: "danger", Title: "Top threats", Text: text})
	}

	return slackMessage{
		Channel:     s.Channel,
		Username:    "scan-triage",
		IconEmoji:   ":rotating_light:",
		Text:        fmt.Sprintf("*Security scan* `%s` (%s)", r.Repo, ref),
		Attachments: attachments,
	}
}

func (s *SlackNotifier) send(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serializar mensagem slack: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("montar requisição slack: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("enviar mensagem slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack devolveu status %d", resp.StatusCode)
	}
	return nil
}

func riskColor(score int) string {
	switch {
	case score >= 8:
		return "danger"
	case score >= 5:
		return "warning"
	default:
		return "good"
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
