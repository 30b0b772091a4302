// Package metrics exposes modem registration and OBEX transfer statistics
// to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/modemcore/at"
	"i4.energy/across/modemcore/netreg"
	"i4.energy/across/modemcore/obex"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the application collectors.
type Metrics struct {
	RegistrationState  prometheus.Gauge       // netreg.RegistrationState value
	OperatorChanges    prometheus.Counter     // current operator changes
	SetOperatorResults *prometheus.CounterVec // labels: code
	AvailableOperators prometheus.Gauge       // entries of the last operator scan
	ObexRequests       *prometheus.CounterVec // labels: request, response
	ObexBytes          prometheus.Counter
	ObexSessions       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegistrationState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modem_registration_state",
			Help: "Network registration state (0 none, 1 home, 2 searching, 3 denied, 4 unknown, 5 roaming).",
		}),
		OperatorChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modem_operator_changes_total",
			Help: "Changes of the current network operator.",
		}),
		SetOperatorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_set_operator_total",
			Help: "Operator selections by AT result code.",
		}, []string{"code"}),
		AvailableOperators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modem_available_operators",
			Help: "Operators found by the last network scan.",
		}),
		ObexRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obex_requests_total",
			Help: "OBEX requests by kind and final response.",
		}, []string{"request", "response"}),
		ObexBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obex_transferred_bytes_total",
			Help: "Object bytes received or sent over OBEX.",
		}),
		ObexSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obex_sessions",
			Help: "Current number of OBEX sessions.",
		}),
	}
	reg.MustRegister(m.RegistrationState, m.OperatorChanges, m.SetOperatorResults,
		m.AvailableOperators, m.ObexRequests, m.ObexBytes, m.ObexSessions)
	return m
}

// Registration returns an observer recording registration events.
func (m *Metrics) Registration() netreg.Observer {
	return netreg.ObserverFuncs{
		OnRegistrationStateChanged: func(state netreg.RegistrationState, _, _ int) {
			m.RegistrationState.Set(float64(state))
		},
		OnCurrentOperatorChanged: func(netreg.Operator) {
			m.OperatorChanges.Inc()
		},
		OnSetCurrentOperatorResult: func(code at.ResultCode) {
			m.SetOperatorResults.WithLabelValues(strconv.Itoa(int(code))).Inc()
		},
		OnAvailableOperators: func(ops []netreg.AvailableOperator) {
			m.AvailableOperators.Set(float64(len(ops)))
		},
	}
}

// Session returns an observer for one new OBEX session. The session is
// counted as active until it reports Done.
func (m *Metrics) Session() obex.Observer {
	m.ObexSessions.Inc()
	var last uint32
	return obex.ObserverFuncs{
		OnDataTransferProgress: func(done, _ uint32) {
			if done > last {
				m.ObexBytes.Add(float64(done - last))
			}
			last = done
		},
		OnRequestFinished: func(bool) { last = 0 },
		OnDone:            func(bool) { m.ObexSessions.Dec() },
	}
}

// Engine is an obex.EngineHook counting the final responses of requests.
func (m *Metrics) Engine(e *obex.Engine) {
	e.OnRequestFinished(func(req obex.Request, code obex.ResponseCode) {
		m.ObexRequests.WithLabelValues(req.String(), code.String()).Inc()
	})
}
