package lakescan

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// sharedCounter registers a counter with reg, or returns the counter an
// earlier scanner already registered under the same name. Scanners sharing a
// registerer therefore aggregate into the same series instead of colliding on
// registration. A nil reg yields an unregistered counter.
func sharedCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if reg == nil {
		return c
	}
	err := reg.Register(c)
	if err == nil {
		return c
	}
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
			return existing
		}
	}
	panic(err)
}
