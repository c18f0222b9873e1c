package p2p

import (
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/wire"
)

// Sender abstracts "deliver this frame to that peer" so Discovery stays
// independent of the transport package, the same separation
// consensus.Engine keeps from its QueryFunc.
type Sender interface {
	SendTo(peer PeerID, frame wire.Frame) error
}

// seenCache deduplicates flooded discovery traffic by query id. Once it
// holds capacity entries, each insert first sweeps entries older than
// ttl; younger entries are never evicted, so the set can exceed
// capacity while they last.
type seenCache struct {
	mu       sync.Mutex
	ids      map[uint64]time.Time
	ttl      time.Duration
	capacity int
}

func newSeenCache(ttl time.Duration, capacity int) *seenCache {
	return &seenCache{ids: make(map[uint64]time.Time), ttl: ttl, capacity: capacity}
}

// markIfNew records id as seen and reports whether it was new. Entries
// older than ttl are swept opportunistically on each call.
func (c *seenCache) markIfNew(id uint64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return false
	}
	if len(c.ids) >= c.capacity {
		for k, t := range c.ids {
			if now.Sub(t) > c.ttl {
				delete(c.ids, k)
			}
		}
	}
	c.ids[id] = now
	return true
}

// Discovery implements the overlay discovery protocol: Announce, Query,
// Response, Goodbye, Heartbeat messages flooded through known peers
// (multicast is an optional accelerator this module does not
// implement, per the spec's "not multicast-dependent").
type Discovery struct {
	table  *Table
	sender Sender
	seen   *seenCache
	self   PeerRecordOf
}

// PeerRecordOf is the local node's own advertisable identity.
type PeerRecordOf struct {
	PeerID          PeerID
	KEMPublic       []byte
	DSAPublic       []byte
	Fingerprint     []byte
	ProtocolVersion uint32
	Locator         string
}

func (p PeerRecordOf) toWire() wire.PeerRecord {
	return wire.PeerRecord{
		PeerID:          p.PeerID[:],
		KEMPublic:       p.KEMPublic,
		DSAPublic:       p.DSAPublic,
		Fingerprint:     p.Fingerprint,
		ProtocolVersion: p.ProtocolVersion,
		Locator:         p.Locator,
	}
}

// NewDiscovery returns a Discovery bound to table and sender, advertising
// self.
func NewDiscovery(table *Table, sender Sender, self PeerRecordOf, dedupTTL time.Duration, dedupCapacity int) *Discovery {
	return &Discovery{table: table, sender: sender, seen: newSeenCache(dedupTTL, dedupCapacity), self: self}
}

// floodExcept sends frame to every known peer other than except.
func (d *Discovery) floodExcept(frame wire.Frame, except PeerID) {
	for _, info := range d.table.All() {
		if info.PeerID == except {
			continue
		}
		_ = d.sender.SendTo(info.PeerID, frame)
	}
}

// Announce floods the local node's identity, typically right after a
// handshake completes or on a periodic liveness timer.
func (d *Discovery) Announce() {
	msg := wire.Announce{Self: d.self.toWire()}
	frame := wire.Frame{Type: wire.MsgAnnounce, Payload: msg.Encode()}
	d.floodExcept(frame, d.self.PeerID)
}

// HandleAnnounce records the advertised peer in the table and reports
// whether it was newly seen.
func (d *Discovery) HandleAnnounce(from PeerID, msg wire.Announce, now time.Time) bool {
	rec := msg.Self
	id, err := parseNodeID(rec.PeerID)
	if err != nil {
		return false
	}
	_, known := d.table.Get(id)
	d.table.Upsert(&Info{
		PeerID:          id,
		KEMPublic:       rec.KEMPublic,
		DSAPublic:       rec.DSAPublic,
		Fingerprint:     fingerprintArray(rec.Fingerprint),
		ProtocolVersion: rec.ProtocolVersion,
		Locator:         rec.Locator,
		Reputation:      1.0,
		LastSeen:        now,
		ConnectedAt:     now,
	})
	return !known
}

// Query floods a DiscoveryQuery with a caller-supplied query id,
// scoping results to targetFilter (a fingerprint) when non-empty.
func (d *Discovery) Query(queryID uint64, targetFilter []byte, maxResults uint32) {
	msg := wire.DiscoveryQuery{QueryID: queryID, Requester: d.self.PeerID[:], TargetFilter: targetFilter, MaxResults: maxResults}
	frame := wire.Frame{Type: wire.MsgDiscoveryQuery, Payload: msg.Encode()}
	d.floodExcept(frame, d.self.PeerID)
}

// HandleQuery answers a DiscoveryQuery with up to max_agents_in_response
// known peers, optionally filtered by fingerprint prefix match.
func (d *Discovery) HandleQuery(from PeerID, msg wire.DiscoveryQuery, now time.Time) error {
	d.table.Touch(from, now)
	peers := d.table.ForResponse()
	out := make([]wire.PeerRecord, 0, len(peers))
	for _, p := range peers {
		if len(msg.TargetFilter) > 0 && !fingerprintMatches(p.Fingerprint, msg.TargetFilter) {
			continue
		}
		if uint32(len(out)) >= msg.MaxResults && msg.MaxResults > 0 {
			break
		}
		out = append(out, wire.PeerRecord{
			PeerID:          p.PeerID[:],
			KEMPublic:       p.KEMPublic,
			DSAPublic:       p.DSAPublic,
			Fingerprint:     p.Fingerprint[:],
			ProtocolVersion: p.ProtocolVersion,
			Locator:         p.Locator,
		})
	}
	resp := wire.DiscoveryResponse{QueryID: msg.QueryID, Peers: out}
	frame := wire.Frame{Type: wire.MsgDiscoveryResponse, Payload: resp.Encode()}
	return d.sender.SendTo(from, frame)
}

// HandleResponse merges every peer carried in a DiscoveryResponse into
// the table.
func (d *Discovery) HandleResponse(from PeerID, msg wire.DiscoveryResponse, now time.Time) {
	d.table.Touch(from, now)
	for _, rec := range msg.Peers {
		id, err := parseNodeID(rec.PeerID)
		if err != nil || id == d.self.PeerID {
			continue
		}
		d.table.Upsert(&Info{
			PeerID:          id,
			KEMPublic:       rec.KEMPublic,
			DSAPublic:       rec.DSAPublic,
			Fingerprint:     fingerprintArray(rec.Fingerprint),
			ProtocolVersion: rec.ProtocolVersion,
			Locator:         rec.Locator,
			Reputation:      1.0,
			LastSeen:        now,
			ConnectedAt:     now,
		})
	}
}

// Heartbeat sends a direct liveness ping to peer, resetting its
// partition-detection clock on receipt.
func (d *Discovery) Heartbeat(peer PeerID, now time.Time) error {
	msg := wire.Heartbeat{Sender: d.self.PeerID[:], Timestamp: uint64(now.UnixMilli())}
	frame := wire.Frame{Type: wire.MsgHeartbeat, Payload: msg.Encode()}
	return d.sender.SendTo(peer, frame)
}

// HandleHeartbeat touches the sender's last-seen timestamp.
func (d *Discovery) HandleHeartbeat(from PeerID, now time.Time) {
	d.table.Touch(from, now)
}

// Goodbye announces this node's voluntary departure and removes peer
// locally once sent.
func (d *Discovery) Goodbye(peer PeerID, reason string) error {
	msg := wire.Goodbye{Sender: d.self.PeerID[:], Reason: reason}
	frame := wire.Frame{Type: wire.MsgGoodbye, Payload: msg.Encode()}
	if err := d.sender.SendTo(peer, frame); err != nil {
		return err
	}
	d.table.Remove(peer)
	return nil
}

// HandleGoodbye removes the departing peer from the table.
func (d *Discovery) HandleGoodbye(from PeerID) {
	d.table.Remove(from)
}

func fingerprintArray(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func fingerprintMatches(fp [32]byte, prefix []byte) bool {
	if len(prefix) > len(fp) {
		return false
	}
	for i, b := range prefix {
		if fp[i] != b {
			return false
		}
	}
	return true
}

func parseNodeID(b []byte) (PeerID, error) {
	return ids.ToNodeID(b)
}
