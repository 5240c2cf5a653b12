package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/findings"
	"github.com/lockwhz/scan-triage-service/internal/notify"
	"github.com/lockwhz/scan-triage-service/internal/queue"
	"github.com/lockwhz/scan-triage-service/internal/webhook"
	"github.com/lockwhz/scan-triage-service/models"
)

// handleGitHubWebhook: assinatura primeiro, nada é lido do payload antes
// disso. O scan roda depois, fora da requisição.
func (s *Server) handleGitHubWebhook(c *gin.Context) {
	event := c.GetHeader(webhook.EventHeader)
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		s.countWebhook(event, "invalid")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	if !webhook.Verify(body, c.GetHeader(webhook.SignatureHeader), s.WebhookSecret) {
		s.countWebhook(event, "unauthorized")
		s.Log.Warn("webhook com assinatura inválida",
			zap.String("event", event),
			zap.String("delivery", c.GetHeader(webhook.DeliveryHeader)))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
		return
	}

	rev, outcome, err := webhook.ParseEvent(event, body)
	if err != nil {
		s.countWebhook(event, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch outcome {
	case webhook.Ping:
		s.countWebhook(event, "ping")
		c.JSON(http.StatusOK, gin.H{"ok": true, "pong": true})
		return
	case webhook.Ignored:
		s.countWebhook(event, "ignored")
		c.JSON(http.StatusOK, gin.H{"ignored": true, "event": event})
		return
	}

	id, err := s.Queue.Enqueue(c.Request.Context(), models.ScanRequest{
		RepoURL:        rev.CloneURL,
		Branch:         rev.Branch,
		Commit:         rev.Commit,
		InstallationID: rev.InstallationID,
	})
	if err != nil {
		s.countWebhook(event, "error")
		s.Log.Error("falha ao enfileirar scan do webhook", zap.String("repo", rev.FullName()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not enqueue scan"})
		return
	}

	s.countWebhook(event, "accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"job_id": id,
		"owner":  rev.Owner,
		"repo":   rev.Name,
		"branch": rev.Branch,
		"commit": rev.Commit,
	})
}

func (s *Server) countWebhook(event, outcome string) {
	if s.Metrics == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	s.Metrics.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

// handleGetJob devolve {job_id, state} enquanto o job está pendente e o
// JobResult completo quando terminal.
func (s *Server) handleGetJob(c *gin.Context) {
	st, err := s.Queue.GetStatus(c.Request.Context(), c.Param("id"))
	if errors.Is(err, queue.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.Log.Error("falha ao consultar job", zap.String("job_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if st.Result != nil {
		c.JSON(http.StatusOK, st.Result)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleScan(c *gin.Context) {
	var req models.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Branch == "" && req.Commit == "" {
		req.Branch = "main"
	}
	id, err := s.Queue.Enqueue(c.Request.Context(), req)
	if err != nil {
		s.Log.Error("falha ao enfileirar scan manual", zap.String("repo", req.RepoURL), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not enqueue scan"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "state": models.StateQueued})
}

// IngestPayload é o relatório que o CI envia já com a saída das ferramentas.
type IngestPayload struct {
	Repo     string          `json:"repo" binding:"required"`
	Branch   string          `json:"branch"`
	Commit   string          `json:"commit"`
	Gitleaks json.RawMessage `json:"gitleaks,omitempty"`
	Trivy    json.RawMessage `json:"trivy,omitempty"`
}

// handleIngest normaliza os relatórios recebidos e calcula o risco
// heurístico, sem LLM e sem criar job.
func (s *Server) handleIngest(c *gin.Context) {
	var p IngestPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fs := append(findings.Normalize("gitleaks", p.Gitleaks), findings.Normalize("trivy", p.Trivy)...)
	risk := findings.HeuristicRisk(fs)
	counts := findings.Aggregate(fs)

	go s.notifyIngest(context.WithoutCancel(c.Request.Context()), p, risk, counts)

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"risk_score": risk,
		"repo":       p.Repo,
		"commit":     p.Commit,
		"counts":     counts,
	})
}

func (s *Server) notifyIngest(ctx context.Context, p IngestPayload, risk int, counts models.Counts) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err := s.Notifier.Notify(ctx, notify.Report{
		Repo:      p.Repo,
		Branch:    p.Branch,
		Commit:    p.Commit,
		RiskScore: risk,
		Summary:   "Report ingested from CI (heuristic score).",
		Counts:    counts,
	})
	if err != nil {
		s.Log.Warn("falha ao notificar ingest", zap.String("repo", p.Repo), zap.Error(err))
	}
}
