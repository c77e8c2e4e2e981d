package sat

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// Metrics contadores de las llamadas SOAP al SAT.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registra las métricas en reg. Con reg nil quedan sin registrar (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sat_requests_total",
				Help: "Llamadas a los servicios de descarga masiva por operación y resultado.",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sat_request_duration_seconds",
				Help:    "Duración de las llamadas SOAP al SAT.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.With(prometheus.Labels{"operation": op}).Observe(time.Since(start).Seconds())
	m.requests.With(prometheus.Labels{"operation": op, "outcome": outcome(err)}).Inc()
}

// outcome etiqueta corta del resultado.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domainsat.ErrNetworkTimeout):
		return "timeout"
	case errors.Is(err, domainsat.ErrTransport):
		return "transport"
	case errors.Is(err, domainsat.ErrRemoteFault), errors.Is(err, domainsat.ErrAuthenticationRejected):
		return "fault"
	case errors.Is(err, domainsat.ErrDownloadRequestRejected), errors.Is(err, domainsat.ErrRequestRejected),
		errors.Is(err, domainsat.ErrRequestExpired):
		return "rejected"
	case errors.Is(err, domainsat.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
