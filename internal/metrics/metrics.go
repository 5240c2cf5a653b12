// Package metrics concentra os coletores Prometheus do serviço.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	JobsEnqueued         prometheus.Counter
	JobsFinished         *prometheus.CounterVec // state, error_type
	JobsInFlight         prometheus.Gauge
	JobDuration          prometheus.Histogram
	ToolDuration         *prometheus.HistogramVec // tool
	Findings             *prometheus.CounterVec   // type
	AnalysisDegraded     prometheus.Counter
	DuplicateCompletions prometheus.Counter
	WebhookEvents        *prometheus.CounterVec // event, outcome
}

// New registra os coletores em um registry próprio (um por processo; os
// testes criam o seu).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		JobsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "scan_jobs_enqueued_total",
			Help: "Jobs aceitos e enfileirados",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_jobs_finished_total",
			Help: "Jobs finalizados por estado e tipo de erro",
		}, []string{"state", "error_type"}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "scan_jobs_in_flight",
			Help: "Jobs em execução neste processo",
		}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scan_job_duration_seconds",
			Help:    "Duração do pipeline por job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s a ~17min
		}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scan_tool_duration_seconds",
			Help:    "Duração de cada ferramenta de análise",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}, []string{"tool"}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_findings_total",
			Help: "Findings normalizados por tipo",
		}, []string{"type"}),
		AnalysisDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "scan_analysis_degraded_total",
			Help: "Triagens que falharam e caíram no resultado degradado",
		}),
		DuplicateCompletions: f.NewCounter(prometheus.CounterOpts{
			Name: "scan_duplicate_completions_total",
			Help: "Tentativas de escrita terminal em job já finalizado",
		}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_webhook_events_total",
			Help: "Eventos de webhook recebidos por tipo e desfecho",
		}, []string{"event", "outcome"}),
	}
}
