package observer

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// Metrics counts relayed requests and responses for prometheus
type Metrics struct {
	requestsReceived *prometheus.CounterVec
	responsesSent    *prometheus.CounterVec
	duration         prometheus.Histogram
	arrivals         *arrivals
}

// NewMetrics creates the relay metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	a, err := newArrivals()
	if err != nil {
		return nil, err
	}
	m := &Metrics{arrivals: a}

	m.requestsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_received_total",
			Help: "Number of requests received over the relay.",
		},
		[]string{"method"},
	)

	m.responsesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_responses_sent_total",
			Help: "Number of responses sent back over the relay.",
		},
		[]string{"code"},
	)

	m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_request_duration_seconds",
		Help:    "Time from request arrival to response completion.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	for _, c := range []prometheus.Collector{m.requestsReceived, m.responsesSent, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "can't register relay metrics")
		}
	}
	return m, nil
}

func (m *Metrics) OnRequestReceived(_ context.Context, requestID string, req *model.RelayedRequest) error {
	m.arrivals.start(requestID, req.ArrivedAt)
	m.requestsReceived.WithLabelValues(strings.ToUpper(req.Method)).Inc()
	return nil
}

func (m *Metrics) OnResponseSent(_ context.Context, requestID string, resp *model.RelayResponse) error {
	if resp.Body != nil {
		resp.Body.Close()
	}
	m.responsesSent.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if elapsed, ok := m.arrivals.finish(requestID, resp.CompletedAt); ok {
		m.duration.Observe(elapsed.Seconds())
	}
	return nil
}

var _ port.LifecycleListener = (*Metrics)(nil)
