package runtime

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "syncflow"

// Metrics exports transport counters to Prometheus.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	flitsSent         prometheus.Counter
	sendFailures      prometheus.Counter
	queuedFlits       prometheus.Gauge
	flitsReceived     *prometheus.CounterVec
	messagesCompleted *prometheus.CounterVec
	requestsFailed    *prometheus.CounterVec
	violations        *prometheus.CounterVec
	pendingCallbacks  *prometheus.GaugeVec
	requestLatency    *prometheus.HistogramVec
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: "transport", Name: name, Help: help}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: metricsNamespace, Subsystem: "transport", Name: name, Help: help}
}

// NewMetrics creates the transport collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:        registerer,
		flitsSent:         prometheus.NewCounter(counterOpts("flits_sent_total", "Flits accepted by the sync channel")),
		sendFailures:      prometheus.NewCounter(counterOpts("send_failures_total", "Send attempts the sync channel refused")),
		queuedFlits:       prometheus.NewGauge(gaugeOpts("queued_flits", "Flits waiting in the local outbound queue")),
		flitsReceived:     prometheus.NewCounterVec(counterOpts("flits_received_total", "Flits received per source"), []string{"source"}),
		messagesCompleted: prometheus.NewCounterVec(counterOpts("messages_completed_total", "Messages delivered to a handler per source"), []string{"source"}),
		requestsFailed:    prometheus.NewCounterVec(counterOpts("requests_failed_total", "Requests that ended without a delivery"), []string{"source"}),
		violations:        prometheus.NewCounterVec(counterOpts("protocol_violations_total", "Inbound data discarded as a protocol violation"), []string{"source", "reason"}),
		pendingCallbacks:  prometheus.NewGaugeVec(gaugeOpts("pending_callbacks", "Callbacks waiting for their source's next message"), []string{"source"}),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "transport",
				Name:      "request_duration_seconds",
				Help:      "Time from Request to handler completion",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
	}
}

// Register registers the collectors. Collectors that another transport in the
// process already registered are shared. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.flitsSent, err = register(m.registerer, m.flitsSent); err != nil {
		return err
	}
	if m.sendFailures, err = register(m.registerer, m.sendFailures); err != nil {
		return err
	}
	if m.queuedFlits, err = register(m.registerer, m.queuedFlits); err != nil {
		return err
	}
	if m.flitsReceived, err = register(m.registerer, m.flitsReceived); err != nil {
		return err
	}
	if m.messagesCompleted, err = register(m.registerer, m.messagesCompleted); err != nil {
		return err
	}
	if m.requestsFailed, err = register(m.registerer, m.requestsFailed); err != nil {
		return err
	}
	if m.violations, err = register(m.registerer, m.violations); err != nil {
		return err
	}
	if m.pendingCallbacks, err = register(m.registerer, m.pendingCallbacks); err != nil {
		return err
	}
	if m.requestLatency, err = register(m.registerer, m.requestLatency); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

func sourceLabel(source int) string {
	return strconv.Itoa(source)
}

func (m *Metrics) recordDrain(res DrainResult) {
	m.flitsSent.Add(float64(res.Sent))
	m.sendFailures.Add(float64(res.Failed))
	m.queuedFlits.Set(float64(res.Remaining))
}

func (m *Metrics) recordQueued(source, queuedFlits, pending int) {
	m.queuedFlits.Set(float64(queuedFlits))
	m.pendingCallbacks.WithLabelValues(sourceLabel(source)).Set(float64(pending))
}

func (m *Metrics) recordReceived(source int) {
	m.flitsReceived.WithLabelValues(sourceLabel(source)).Inc()
}

func (m *Metrics) recordPending(source, pending int) {
	m.pendingCallbacks.WithLabelValues(sourceLabel(source)).Set(float64(pending))
}

func (m *Metrics) recordCompleted(source int, latency time.Duration) {
	label := sourceLabel(source)
	m.messagesCompleted.WithLabelValues(label).Inc()
	m.requestLatency.WithLabelValues(label).Observe(latency.Seconds())
}

func (m *Metrics) recordFailed(source int) {
	m.requestsFailed.WithLabelValues(sourceLabel(source)).Inc()
}

func (m *Metrics) recordViolation(source int, reason string) {
	m.violations.WithLabelValues(sourceLabel(source), reason).Inc()
}
