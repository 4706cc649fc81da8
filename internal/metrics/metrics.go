// Package metrics holds the Prometheus collectors for one SDK session.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "referral"

// Metrics groups the session's collectors.
type Metrics struct {
	registry *prometheus.Registry

	apiAttempts *prometheus.CounterVec
	reports     *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	redemptions *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_attempts_total",
				Help:      "Backend request attempts, including retries.",
			},
			[]string{"endpoint", "result"},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "attribution",
				Name:      "reports_total",
				Help:      "Purchase reports sent to the backend.",
			},
			[]string{"outcome"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "attribution",
				Name:      "skipped_total",
				Help:      "Purchases not reported, by reason.",
			},
			[]string{"reason"},
		),
		redemptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rewards",
				Name:      "redemptions_total",
				Help:      "Reward redemption attempts, by the stage they ended at.",
			},
			[]string{"stage"},
		),
	}
	m.registry.MustRegister(m.apiAttempts, m.reports, m.skipped, m.redemptions)
	return m
}

// Registry returns the registry holding the session's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// APIAttempt counts one request attempt. Query strings are stripped from endpoint.
func (m *Metrics) APIAttempt(endpoint, result string) {
	if m == nil {
		return
	}
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	m.apiAttempts.WithLabelValues(endpoint, result).Inc()
}

// Report counts a purchase report with outcome "sent" or "failed".
func (m *Metrics) Report(outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(outcome).Inc()
}

// Skipped counts a purchase that was not reported.
func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

// Redemption counts a redemption attempt ending at stage.
func (m *Metrics) Redemption(stage string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(stage).Inc()
}

// WriteText writes every collected family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
