// monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/room"
)

type Metrics struct {
	Operations       *prometheus.CounterVec
	RoomsCreated     prometheus.Counter
	StaleWrites      prometheus.Counter
	Notifications    prometheus.Counter
	OnlineSessions   prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessageLatency   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Room operations by name and result",
		}, []string{"op", "result"}),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Total number of rooms created",
		}),
		StaleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_writes_total",
			Help:      "Writes rejected because the room changed since it was read",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change notifications delivered to subscribers",
		}),
		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_sessions",
			Help:      "Number of connected websocket sessions",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of websocket messages received",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	reg.MustRegister(
		m.Operations,
		m.RoomsCreated,
		m.StaleWrites,
		m.Notifications,
		m.OnlineSessions,
		m.MessagesReceived,
		m.MessageLatency,
	)

	return m
}

var publishVars sync.Once

type Monitor struct {
	metrics   *Metrics
	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewMonitor registers its metrics with the default prometheus registry.
func NewMonitor(namespace string) *Monitor {
	return NewMonitorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMonitorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  gatherer,
		startTime: time.Now(),
	}
	// 添加expvar指标
	publishVars.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
	})
	return m
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler serves /metrics and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// ObserveOperation implements room.Observer.
func (m *Monitor) ObserveOperation(op string, err error) {
	m.metrics.Operations.WithLabelValues(op, result(err)).Inc()
	if errors.Is(err, room.ErrStaleWrite) {
		m.metrics.StaleWrites.Inc()
	}
}

// ObserveRoomCreated implements room.Observer.
func (m *Monitor) ObserveRoomCreated() {
	m.metrics.RoomsCreated.Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, room.ErrRoomNotFound):
		return "not_found"
	case errors.Is(err, room.ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, room.ErrValidation):
		return "validation"
	case errors.Is(err, room.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, room.ErrStaleWrite):
		return "stale_write"
	}
	return "error"
}

func (m *Monitor) IncOnlineSessions() {
	m.metrics.OnlineSessions.Inc()
}

func (m *Monitor) DecOnlineSessions() {
	m.metrics.OnlineSessions.Dec()
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

type subscriber interface {
	Subscribe(ctx context.Context, roomID, origin string, fn broadcast.Handler) (func(), error)
}

// CountingSubscriber counts every change delivered through it.
type CountingSubscriber struct {
	next    subscriber
	counter prometheus.Counter
}

func (m *Monitor) CountDeliveries(next subscriber) *CountingSubscriber {
	return &CountingSubscriber{next: next, counter: m.metrics.Notifications}
}

func (c *CountingSubscriber) Subscribe(ctx context.Context, roomID, origin string, fn broadcast.Handler) (func(), error) {
	return c.next.Subscribe(ctx, roomID, origin, func(change broadcast.Change) {
		c.counter.Inc()
		fn(change)
	})
}
