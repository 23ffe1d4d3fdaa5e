package upload

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts upload outcomes per policy subfolder.
type Metrics struct {
	uploads *prometheus.CounterVec
}

// NewMetrics registers the upload counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uploads_total",
				Help: "Total number of upload attempts by policy and result.",
			},
			[]string{"policy", "result"},
		),
	}
	if err := reg.Register(m.uploads); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(policy string, err error) {
	result := "accepted"
	if rej, ok := AsRejection(err); ok {
		result = string(rej.Reason)
	} else if err != nil {
		result = "error"
	}
	m.uploads.WithLabelValues(policy, result).Inc()
}
