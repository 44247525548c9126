package server

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
)

type listenerMetrics struct {
	accepted     *metrics.Counter
	closed       *metrics.Counter
	evicted      *metrics.Counter
	messages     *metrics.Counter
	readFailures *metrics.Counter
}

// newListenerMetrics registers the counters of one listen address in set.
// Listening again on the same address reuses its series.
func newListenerMetrics(set *metrics.Set, addr string) *listenerMetrics {
	label := fmt.Sprintf("{listener=%q}", addr)
	m := &listenerMetrics{
		accepted:     set.GetOrCreateCounter("collector_connections_accepted_total" + label),
		closed:       set.GetOrCreateCounter("collector_connections_closed_total" + label),
		evicted:      set.GetOrCreateCounter("collector_connections_evicted_total" + label),
		messages:     set.GetOrCreateCounter("collector_messages_total" + label),
		readFailures: set.GetOrCreateCounter("collector_read_failures_total" + label),
	}
	accepted, closed := m.accepted, m.closed
	set.GetOrCreateGauge("collector_connections_active"+label, func() float64 {
		return float64(accepted.Get()) - float64(closed.Get())
	})
	return m
}
