// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors touched by the reconciliation loop and the
// provisioning flows. A single instance is created at startup and shared.
type Metrics struct {
	ActiveUsers  prometheus.Gauge
	ExpiredUsers prometheus.Gauge

	ReconcileTicks  prometheus.Counter
	ReconcileErrors prometheus.Counter

	Provisioned   prometheus.Counter
	Deprovisioned prometheus.Counter

	RemoteCallErrors *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vpnkeeper_active_users",
			Help: "Users whose entitlement is currently active.",
		}),
		ExpiredUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vpnkeeper_expired_users",
			Help: "Users whose entitlement has expired.",
		}),
		ReconcileTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vpnkeeper_reconcile_ticks_total",
			Help: "Completed reconciliation ticks.",
		}),
		ReconcileErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vpnkeeper_reconcile_errors_total",
			Help: "Reconciliation ticks that failed as a whole.",
		}),
		Provisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vpnkeeper_provisioned_total",
			Help: "Users successfully provisioned on a node.",
		}),
		Deprovisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vpnkeeper_deprovisioned_total",
			Help: "Users successfully removed from a node.",
		}),
		RemoteCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vpnkeeper_remote_call_errors_total",
			Help: "Failed provisioning API calls by kind.",
		}, []string{"kind"}),
	}
}
