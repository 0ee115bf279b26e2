// Package metrics holds the prometheus collectors a Group updates as it
// drives restarts and backoff. This module never starts an HTTP server or
// otherwise exposes them (that would be the IPC surface spec.md §1 places
// outside this core's scope) — a taskmaster registers the Collector into
// its own registry if it wants a /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors is the set of metrics a single Group's lifecycle touches.
// Zero value is not usable; construct with New.
type Collectors struct {
	RestartsTotal *prometheus.CounterVec
	BackoffTotal  *prometheus.CounterVec
	ChildrenAlive *prometheus.GaugeVec
	FatalChildren *prometheus.GaugeVec
}

// New builds a fresh, unregistered Collectors set.
func New() *Collectors {
	return &Collectors{
		RestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gosv_child_restarts_total",
			Help: "Number of restart attempts consumed by children of a group.",
		}, []string{"group"}),
		BackoffTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gosv_child_backoff_total",
			Help: "Number of times a child entered backoff.",
		}, []string{"group"}),
		ChildrenAlive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gosv_children_alive",
			Help: "Children currently in starting, running, or stopping state.",
		}, []string{"group"}),
		FatalChildren: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gosv_children_fatal",
			Help: "Children that exhausted their restart budget.",
		}, []string{"group"}),
	}
}

// MustRegister registers every collector into reg, panicking on a
// duplicate-registration error the way prometheus client code conventionally
// does at wiring time.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.RestartsTotal, c.BackoffTotal, c.ChildrenAlive, c.FatalChildren)
}
