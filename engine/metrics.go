package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/qudag/qudag/metrics"
)

// collectors holds every prometheus collector the engine publishes in
// one struct constructed once and threaded through, rather than loose
// package-level collectors.
type collectors struct {
	verticesFinalized prometheus.Counter
	verticesReceived  prometheus.Counter
	consensusRounds   prometheus.Counter
	queryTimeouts     prometheus.Counter
	partitionEvents   prometheus.Counter
	syncBatches       prometheus.Counter
}

func newCollectors() *collectors {
	return &collectors{
		verticesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qudag", Subsystem: "consensus", Name: "vertices_finalized_total",
			Help: "Vertices that reached Final status.",
		}),
		verticesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qudag", Subsystem: "dag", Name: "vertices_received_total",
			Help: "Vertices admitted to Pending status, authored or gossiped.",
		}),
		consensusRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qudag", Subsystem: "consensus", Name: "rounds_total",
			Help: "QR-Avalanche rounds started, including rounds abandoned without enough responses.",
		}),
		queryTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qudag", Subsystem: "consensus", Name: "query_timeouts_total",
			Help: "Rounds abandoned for insufficient responses within the query timeout.",
		}),
		partitionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qudag", Subsystem: "p2p", Name: "partition_events_total",
			Help: "PartitionDetected events raised by the maintenance loop.",
		}),
		syncBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qudag", Subsystem: "p2p", Name: "sync_batches_completed_total",
			Help: "SyncResponse batches admitted through the DAG pipeline.",
		}),
	}
}

// EnableMetrics registers the engine's collectors with m and a
// peer-count gauge backed directly by the peer table, then starts
// publishing into them from the background loops. Calling it is
// optional: an Engine with no metrics enabled behaves identically,
// just without the prometheus side effects (the same nil-safe shape
// metrics.Metrics itself uses for Register).
func (e *Engine) EnableMetrics(m *metrics.Metrics) error {
	if m == nil {
		return nil
	}
	c := newCollectors()
	for _, coll := range []prometheus.Collector{
		c.verticesFinalized, c.verticesReceived, c.consensusRounds,
		c.queryTimeouts, c.partitionEvents, c.syncBatches,
	} {
		if err := m.Register(coll); err != nil {
			return err
		}
	}
	peerGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "qudag", Subsystem: "p2p", Name: "known_peers",
		Help: "Peers currently held in the local peer table.",
	}, func() float64 { return float64(e.table.Len()) })
	if err := m.Register(peerGauge); err != nil {
		return err
	}
	e.metricsMu.Lock()
	e.metrics = c
	e.metricsMu.Unlock()
	return nil
}

func (e *Engine) observe(fn func(*collectors)) {
	e.metricsMu.RLock()
	c := e.metrics
	e.metricsMu.RUnlock()
	if c != nil {
		fn(c)
	}
}
