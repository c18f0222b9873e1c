package p2p

import (
	"sort"
	"sync"
	"time"

	"github.com/qudag/qudag/internal/slab"
	qlog "github.com/qudag/qudag/log"
)

// Outcome classifies one observed interaction with a peer, feeding the
// reputation EMA: Delta is 1 for a timely correct response, 0 (or
// negative, for a ConflictingVote-style penalty) otherwise.
type Outcome struct {
	Delta float64
}

var (
	OutcomeGood      = Outcome{Delta: 1.0}
	OutcomeTimeout   = Outcome{Delta: 0.0}
	OutcomeMalformed = Outcome{Delta: 0.0}
	OutcomeConflict  = Outcome{Delta: -0.5}
)

// Table is the peer table, behind a single RW lock since updates are
// infrequent relative to reads. Storage
// itself goes through the slab arena so peer entries never hold
// back-pointers into sessions or connections.
type Table struct {
	arena *slab.Arena[PeerID, *Info]

	reputationAlpha float64
	minReputation   float64
	partitionThresh time.Duration
	agentTTL        time.Duration
	maxInResponse   int

	log qlog.Logger

	mu      sync.Mutex
	self    PeerID
	hasSelf bool
}

// New returns an empty peer table configured from the overlay's
// reputation and liveness parameters.
func New(reputationAlpha, minReputation float64, partitionThresh, agentTTL time.Duration, maxInResponse int, logger qlog.Logger) *Table {
	return &Table{
		arena:           slab.New[PeerID, *Info](),
		reputationAlpha: reputationAlpha,
		minReputation:   minReputation,
		partitionThresh: partitionThresh,
		agentTTL:        agentTTL,
		maxInResponse:   maxInResponse,
		log:             logger,
	}
}

// SetSelf records this node's own peer id so it can be excluded from
// sampling and discovery responses.
func (t *Table) SetSelf(id PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.self = id
	t.hasSelf = true
}

// Upsert adds a newly-discovered peer or refreshes an existing one's
// liveness timestamp, never resetting its accumulated reputation.
func (t *Table) Upsert(info *Info) {
	t.arena.Update(info.PeerID, func(cur *Info, ok bool) (*Info, bool) {
		if !ok {
			return info, true
		}
		cur.LastSeen = info.LastSeen
		cur.KEMPublic = info.KEMPublic
		cur.DSAPublic = info.DSAPublic
		cur.Fingerprint = info.Fingerprint
		cur.ProtocolVersion = info.ProtocolVersion
		cur.Locator = info.Locator
		return cur, true
	})
}

// Touch updates a peer's last-seen timestamp without altering any other
// field, used for heartbeats and any received traffic.
func (t *Table) Touch(id PeerID, now time.Time) {
	t.arena.Update(id, func(cur *Info, ok bool) (*Info, bool) {
		if !ok {
			return nil, false
		}
		cur.LastSeen = now
		return cur, true
	})
}

// Get returns a value-copy snapshot of a peer's record.
func (t *Table) Get(id PeerID) (Info, bool) {
	p, ok := t.arena.Get(id)
	if !ok {
		return Info{}, false
	}
	return p.snapshot(), true
}

// Remove deletes a peer entirely, used on eviction or a received
// Goodbye.
func (t *Table) Remove(id PeerID) {
	t.arena.Delete(id)
}

// Record updates id's reputation with the EMA rule
// s <- clamp(0, 1, (1-alpha)*s + alpha*delta).
func (t *Table) Record(id PeerID, outcome Outcome) {
	t.arena.Update(id, func(cur *Info, ok bool) (*Info, bool) {
		if !ok {
			return nil, false
		}
		next := (1-t.reputationAlpha)*cur.Reputation + t.reputationAlpha*outcome.Delta
		cur.Reputation = clamp(next, 0, 1)
		return cur, true
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Eligible returns every peer (excluding self) whose reputation meets
// min_peer_reputation, the pool consensus sampling draws from: only peers
// with s >= min_peer_reputation are eligible for consensus queries.
func (t *Table) Eligible() []PeerID {
	t.mu.Lock()
	self, hasSelf := t.self, t.hasSelf
	t.mu.Unlock()

	var out []PeerID
	t.arena.Range(func(id PeerID, info *Info) bool {
		if hasSelf && id == self {
			return true
		}
		if info.Reputation >= t.minReputation {
			out = append(out, id)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// FingerprintFilter returns every known peer (excluding self) whose
// Fingerprint's leading byte is below threshold, the "hops chosen by
// fingerprint filter, e.g. high-anonymity nodes only" relay-selection
// rule. BLAKE3 output is uniformly distributed, so
// thresholding the first byte selects a roughly proportional,
// self-selecting subset of peers without any extra bookkeeping; a
// threshold of 256 admits every peer.
func (t *Table) FingerprintFilter(threshold int) []Info {
	t.mu.Lock()
	self, hasSelf := t.self, t.hasSelf
	t.mu.Unlock()

	var out []Info
	t.arena.Range(func(id PeerID, info *Info) bool {
		if hasSelf && id == self {
			return true
		}
		if threshold >= 256 || int(info.Fingerprint[0]) < threshold {
			out = append(out, info.snapshot())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID.String() < out[j].PeerID.String() })
	return out
}

// All returns every known peer as a value-copy snapshot, for discovery
// responses and sync fan-out.
func (t *Table) All() []Info {
	var out []Info
	t.arena.Range(func(_ PeerID, info *Info) bool {
		out = append(out, info.snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID.String() < out[j].PeerID.String() })
	return out
}

// Restore installs previously-snapshotted peers, preserving their
// accumulated reputation and liveness timestamps — the restart path for
// the persisted peer table. Peers already present keep their current
// record.
func (t *Table) Restore(infos []Info) {
	for _, info := range infos {
		restored := info
		t.arena.Update(restored.PeerID, func(cur *Info, ok bool) (*Info, bool) {
			if ok {
				return cur, false
			}
			return &restored, true
		})
	}
}

// ForResponse returns up to max_agents_in_response peers, for a
// DiscoveryResponse.
func (t *Table) ForResponse() []Info {
	all := t.All()
	if len(all) > t.maxInResponse {
		all = all[:t.maxInResponse]
	}
	return all
}

// PartitionCheck returns every peer from which no traffic has been
// observed for at least partition_detection_threshold as of now.
// Detection alone does not evict; eviction happens separately
// once agent_ttl has elapsed (EvictStale).
func (t *Table) PartitionCheck(now time.Time) []PeerID {
	var affected []PeerID
	t.arena.Range(func(id PeerID, info *Info) bool {
		if now.Sub(info.LastSeen) >= t.partitionThresh {
			affected = append(affected, id)
		}
		return true
	})
	sort.Slice(affected, func(i, j int) bool { return affected[i].String() < affected[j].String() })
	return affected
}

// EvictStale removes every peer whose inactivity has exceeded agent_ttl,
// returning their ids.
func (t *Table) EvictStale(now time.Time) []PeerID {
	var stale []PeerID
	t.arena.Range(func(id PeerID, info *Info) bool {
		if now.Sub(info.LastSeen) >= t.agentTTL {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		t.arena.Delete(id)
		if t.log != nil {
			t.log.Debug("evicted stale peer", "peer", id)
		}
	}
	return stale
}

// Len reports the current peer count.
func (t *Table) Len() int { return t.arena.Len() }
