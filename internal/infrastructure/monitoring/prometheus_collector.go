package monitoring

import (
	"sync"
	"time"

	"callcore/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector turns posted view models and call-manager hooks into
// callcore_* metrics. It implements ports.StateObserver and ports.CallMetrics.
type PrometheusCollector struct {
	callsStarted  *prometheus.CounterVec
	callsEnded    *prometheus.CounterVec
	callActive    prometheus.Gauge
	callDuration  prometheus.Histogram
	setupDuration prometheus.Histogram

	actionsProcessed *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	actionQueueDepth prometheus.Gauge

	signalingFailures *prometheus.CounterVec
	turnFetches       *prometheus.CounterVec

	mediaBytes       *prometheus.CounterVec
	connectionsTotal prometheus.Counter

	mu        sync.Mutex
	current   domain.CallID
	lastState domain.CallState
	startedAt time.Time
	ended     bool
}

// NewPrometheusCollector registers the metrics with reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_calls_started_total",
			Help: "Calls that reached the ringing stage, by direction",
		}, []string{"direction"}),

		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_calls_ended_total",
			Help: "Calls that ended, by the terminal state they ended in",
		}, []string{"reason"}),

		callActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_call_active",
			Help: "1 while a call is in progress",
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_call_duration_seconds",
			Help:    "Connected duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),

		setupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_call_setup_duration_seconds",
			Help:    "Time from the first ring to the call connecting",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		actionsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_actions_processed_total",
			Help: "Actions run on the call state goroutine",
		}, []string{"action", "processor"}),

		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callcore_action_duration_seconds",
			Help:    "Time spent running one action",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"action"}),

		actionQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_action_queue_depth",
			Help: "Actions waiting for the call state goroutine",
		}),

		signalingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_signaling_failures_total",
			Help: "Call messages that could not be delivered, by kind",
		}, []string{"kind"}),

		turnFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_turn_fetches_total",
			Help: "TURN credential fetches, by result",
		}, []string{"result"}),

		mediaBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_media_bytes_total",
			Help: "RTP payload bytes forwarded to render sinks",
		}, []string{"kind"}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_peer_connections_total",
			Help: "Peer connections that reached the connected ICE state",
		}),
	}
}

// OnCallStateChanged derives call lifecycle metrics from state transitions.
func (p *PrometheusCollector) OnCallStateChanged(vm domain.WebRtcViewModel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vm.CallID.IsSet() && vm.CallID != p.current {
		p.current = vm.CallID
		p.ended = false
		p.startedAt = vm.PostedAt
		p.lastState = domain.CallStateIdle
	}

	if vm.State != p.lastState {
		switch vm.State {
		case domain.CallStateIncoming:
			p.callsStarted.WithLabelValues("incoming").Inc()
			p.callActive.Set(1)
		case domain.CallStateOutgoing:
			p.callsStarted.WithLabelValues("outgoing").Inc()
			p.callActive.Set(1)
		case domain.CallStateConnected:
			if p.lastState != domain.CallStateReconnecting && !p.startedAt.IsZero() && !vm.PostedAt.IsZero() {
				p.setupDuration.Observe(vm.PostedAt.Sub(p.startedAt).Seconds())
			}
		}
	}

	if isTerminal(vm.State) && !p.ended && p.current.IsSet() {
		p.ended = true
		p.callsEnded.WithLabelValues(vm.State.String()).Inc()
		p.callActive.Set(0)
		if !vm.CallConnectedTime.IsZero() && !vm.PostedAt.IsZero() {
			p.callDuration.Observe(vm.PostedAt.Sub(vm.CallConnectedTime).Seconds())
		}
	}
	if vm.State == domain.CallStateIdle {
		p.callActive.Set(0)
	}
	p.lastState = vm.State
}

func isTerminal(s domain.CallState) bool {
	switch s {
	case domain.CallStateDisconnected, domain.CallStateBusy, domain.CallStateNeedsPermission:
		return true
	default:
		return s.IsErrorState()
	}
}

func (p *PrometheusCollector) ActionProcessed(action, processor string, duration time.Duration) {
	p.actionsProcessed.WithLabelValues(action, processor).Inc()
	p.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (p *PrometheusCollector) ActionQueueDepth(depth int) {
	p.actionQueueDepth.Set(float64(depth))
}

func (p *PrometheusCollector) SignalingFailure(kind string) {
	p.signalingFailures.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) TurnServerFetch(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	p.turnFetches.WithLabelValues(result).Inc()
}

// MediaForwarded counts RTP bytes handed to a render sink.
func (p *PrometheusCollector) MediaForwarded(kind string, bytes int) {
	p.mediaBytes.WithLabelValues(kind).Add(float64(bytes))
}

func (p *PrometheusCollector) PeerConnected() {
	p.connectionsTotal.Inc()
}
