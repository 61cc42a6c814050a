package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg           *prom.Registry
	stageDuration *prom.HistogramVec
	outcomes      *prom.CounterVec
	retries       *prom.CounterVec
	strategies    *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers metrics on reg, or on a
// fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "cppdev",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual job stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"component", "stage"}),
		outcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cppdev",
			Name:      "job_outcomes_total",
			Help:      "Job outcomes by component and terminal status",
		}, []string{"component", "outcome"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cppdev",
			Name:      "retries_total",
			Help:      "Retries by component and reason",
		}, []string{"component", "reason"}),
		strategies: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cppdev",
			Name:      "strategy_total",
			Help:      "Strategy selections such as sparse or fallback fetches",
		}, []string{"component", "strategy"}),
	}
	reg.MustRegister(pr.stageDuration, pr.outcomes, pr.retries, pr.strategies)
	return pr
}

// Registry returns the registry the metrics are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

func (p *PrometheusRecorder) ObserveStageDuration(component, stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(component, stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncOutcome(component string, outcome Outcome) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(component, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncRetry(component, reason string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(component, reason).Inc()
}

func (p *PrometheusRecorder) IncStrategy(component, strategy string) {
	if p == nil || p.strategies == nil {
		return
	}
	p.strategies.WithLabelValues(component, strategy).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
