package sdpctrl

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the counters and gauges a running Client exposes on its
// own registry. A nil *Metrics makes every method a no-op, so callers that
// don't wire metrics never need to nil-check.
type Metrics struct {
	registry *prometheus.Registry

	connAttempts     prometheus.Counter
	connFailures     prometheus.Counter
	keepAliveSent    prometheus.Counter
	credUpdatesSent  prometheus.Counter
	credRotations    prometheus.Counter
	badResults       prometheus.Counter
	reqRetryInterval prometheus.Gauge
	state            prometheus.Gauge
}

// NewMetrics builds a Metrics bound to a fresh registry, registering the
// process and Go runtime collectors alongside the client's own series.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdpctrl", Name: "connect_attempts_total",
			Help: "Total number of controller connection attempts.",
		}),
		connFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdpctrl", Name: "connect_failures_total",
			Help: "Total number of controller connection failures.",
		}),
		keepAliveSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdpctrl", Name: "keep_alive_sent_total",
			Help: "Total number of keep-alive requests sent.",
		}),
		credUpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdpctrl", Name: "cred_update_requests_total",
			Help: "Total number of credential-update requests sent.",
		}),
		credRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdpctrl", Name: "cred_rotations_total",
			Help: "Total number of successful credential rotations applied to disk.",
		}),
		badResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdpctrl", Name: "bad_results_total",
			Help: "Total number of unrecognized inbound envelopes dropped.",
		}),
		reqRetryInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdpctrl", Name: "request_retry_interval_seconds",
			Help: "Current request retry interval, per the doubling backoff.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdpctrl", Name: "client_state",
			Help: "Current control loop state, as its integer State value.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.connAttempts, m.connFailures, m.keepAliveSent,
		m.credUpdatesSent, m.credRotations, m.badResults,
		m.reqRetryInterval, m.state,
	)
	return m
}

// Registry exposes the underlying registry for wiring into an HTTP
// promhttp.Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observeConnAttempt() {
	if m == nil {
		return
	}
	m.connAttempts.Inc()
}

func (m *Metrics) observeConnFailure() {
	if m == nil {
		return
	}
	m.connFailures.Inc()
}

func (m *Metrics) observeKeepAliveSent() {
	if m == nil {
		return
	}
	m.keepAliveSent.Inc()
}

func (m *Metrics) observeCredUpdateSent() {
	if m == nil {
		return
	}
	m.credUpdatesSent.Inc()
}

func (m *Metrics) observeCredRotation() {
	if m == nil {
		return
	}
	m.credRotations.Inc()
}

func (m *Metrics) observeBadResult() {
	if m == nil {
		return
	}
	m.badResults.Inc()
}

func (m *Metrics) setReqRetryInterval(seconds float64) {
	if m == nil {
		return
	}
	m.reqRetryInterval.Set(seconds)
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
