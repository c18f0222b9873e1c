// Package metrics wires the module's components to a shared prometheus
// registry through one thin, nil-safe wrapper.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the registerer every component publishes its collectors
// into. A nil Registry is valid and makes Register a no-op, so components
// can be used in tests without standing up a registry.
type Metrics struct {
	Registry prometheus.Registerer
}

// New returns a Metrics bound to reg. Pass prometheus.NewRegistry() in
// production, nil in tests.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{Registry: reg}
}

// Register adds c to the registry, ignoring AlreadyRegisteredError so
// components can be constructed more than once in tests.
func (m *Metrics) Register(c prometheus.Collector) error {
	if m == nil || m.Registry == nil {
		return nil
	}
	if err := m.Registry.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}
