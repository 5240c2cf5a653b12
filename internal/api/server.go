// Package api expõe o webhook do GitHub, a consulta de jobs e os endpoints
// auxiliares (scan manual, ingest de CI, health, métricas).
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lockwhz/scan-triage-service/internal/metrics"
	"github.com/lockwhz/scan-triage-service/internal/notify"
	"github.com/lockwhz/scan-triage-service/internal/queue"
	"github.com/lockwhz/scan-triage-service/models"
)

// maxBodyBytes é o limite de payload do GitHub para webhooks.
const maxBodyBytes = 25 << 20

// JobQueue é o que os handlers precisam da fila.
type JobQueue interface {
	Enqueue(ctx context.Context, req models.ScanRequest) (string, error)
	GetStatus(ctx context.Context, id string) (queue.Status, error)
}

type Server struct {
	Queue         JobQueue
	WebhookSecret string
	// APIKey protege /scan e /ingest. Vazio desabilita os dois.
	APIKey   string
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Router monta o engine gin com todas as rotas.
func (s *Server) Router() *gin.Engine {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Notifier == nil {
		s.Notifier = notify.Nop{}
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	r.POST("/webhook/github", s.handleGitHubWebhook)
	r.GET("/jobs/:id", s.handleGetJob)

	authed := r.Group("", s.requireAPIKey())
	{
		authed.POST("/scan", s.handleScan)
		authed.POST("/ingest/github", s.handleIngest)
	}
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if s.APIKey == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
