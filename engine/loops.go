package engine

import (
	"context"
	"time"

	"github.com/qudag/qudag/consensus"
	"github.com/qudag/qudag/dagstate"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/wire"
)

// consensusLoop repeatedly samples the active (non-final) frontier and
// advances each vertex's QR-Avalanche round, the first of the engine's
// three background loops.
func (e *Engine) consensusLoop(ctx context.Context) {
	ticker := time.NewTicker(e.params.QueryTO)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runConsensusTick(ctx)
		}
	}
}

func (e *Engine) runConsensusTick(ctx context.Context) {
	eligible := e.table.Eligible()
	if len(eligible) == 0 {
		return
	}
	for _, id := range e.store.Active() {
		outcome, err := e.consensus.RunRound(ctx, id, eligible, e.self, e.query.Query)
		e.observe(func(c *collectors) { c.consensusRounds.Inc() })
		if err != nil {
			e.bus.Publish(Event{Kind: QueryTimeout, VertexID: id})
			e.observe(func(c *collectors) { c.queryTimeouts.Inc() })
			continue
		}
		switch outcome {
		case consensus.RoundFinalized:
			e.store.SetStatus(id, dagstate.StatusFinal)
			e.bus.Publish(Event{Kind: VertexFinalized, VertexID: id})
			e.observe(func(c *collectors) { c.verticesFinalized.Inc() })
			if height, ok := e.store.Height(id); ok {
				vid := id
				e.gossipFinality(wire.FinalityNotification{VertexID: vid[:], Height: height, TotalOrderPosition: height})
			}
		case consensus.RoundContinuing:
			confidence, _, _ := e.consensus.Record(id).Snapshot()
			if confidence >= 0.5 {
				e.store.SetStatus(id, dagstate.StatusPreferred)
			}
		}
	}
}

// gossipLoop periodically re-announces this node's identity, sweeps
// expired parking entries (rejecting vertices whose parents never
// arrived in time), and asks one peer per tick for any vertices beyond
// this node's own height, which is how a rejoining node catches up
// after a partition.
func (e *Engine) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(e.params.AgentTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.discovery.Announce()
			now := time.Now()
			for _, id := range e.store.SweepParkingDeadlines(now) {
				e.bus.Publish(Event{Kind: QueryTimeout, VertexID: id})
			}
			e.requestCatchUp()
		}
	}
}

// requestCatchUp asks one eligible peer, rotating through the table
// across ticks, for the height range just past this node's own count.
// Duplicates in the response are ignored by admission, so over-asking a
// peer that is no further along than us costs one round trip and
// nothing else.
func (e *Engine) requestCatchUp() {
	peers := e.table.Eligible()
	if len(peers) == 0 {
		return
	}
	target := peers[e.syncCursor%len(peers)]
	e.syncCursor++

	from := e.store.Count()
	req := wire.SyncRequest{
		FromHeight: from,
		ToHeight:   from + uint64(e.params.SyncBatchSize) - 1,
		Requester:  e.self[:],
	}
	frame := wire.Frame{Type: wire.MsgSyncRequest, Payload: req.Encode()}
	_ = e.sender.SendTo(target, frame)
}

// maintenanceLoop is the third background loop: partition detection,
// stale-peer eviction, expired dark-record cleanup, and state
// snapshots. Query timeouts are handled inside each consensus round,
// and expired parking entries are swept by gossipLoop.
func (e *Engine) maintenanceLoop(ctx context.Context) {
	interval := e.params.PartitionDetectionThresh / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if detected, ok := p2p.DetectPartitions(e.table, now); ok {
				peers := make([]string, 0, len(detected.Peers))
				for _, id := range detected.Peers {
					peers = append(peers, id.String())
				}
				e.bus.Publish(Event{Kind: PartitionDetected, Peers: peers})
				e.observe(func(c *collectors) { c.partitionEvents.Inc() })
			}
			e.table.EvictStale(now)
			e.resolver.CleanupExpired()
			e.persistSnapshots(now)
		}
	}
}
