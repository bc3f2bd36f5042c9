// Package metrics exposes auth counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Registry holds the application's collectors. A nil *Registry is valid and
// records nothing.
type Registry struct {
	reg          *prometheus.Registry
	Operations   *prometheus.CounterVec
	DeviceEvents *prometheus.CounterVec
	Emails       *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		DeviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_device_events_total",
			Help: "Device registry events (created, reused, mismatch, rotated, revoked).",
		}, []string{"event"}),
		Emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_emails_total",
			Help: "Emails handed to the delivery queue by template and outcome.",
		}, []string{"template", "outcome"}),
	}
	reg.MustRegister(
		r.Operations,
		r.DeviceEvents,
		r.Emails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveOperation counts one call of op. The outcome label is the error
// kind on failure so dashboards can split credential failures from outages.
func (r *Registry) ObserveOperation(op, outcome string) {
	if r == nil {
		return
	}
	r.Operations.WithLabelValues(op, outcome).Inc()
}

func (r *Registry) DeviceEvent(event string) {
	if r == nil {
		return
	}
	r.DeviceEvents.WithLabelValues(event).Inc()
}

func (r *Registry) EmailQueued(template string, ok bool) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	r.Emails.WithLabelValues(template, outcome).Inc()
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
