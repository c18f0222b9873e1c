package engine

import (
	"bytes"
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/onion"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/wire"

	"github.com/qudag/qudag/consensus"
)

// sampleOnionHops draws n distinct relays from the fingerprint-filtered
// candidate pool ("hops chosen by fingerprint filter, e.g.
// high-anonymity nodes only"), reusing consensus.SamplePeers rather than
// a second sampling implementation since p2p.PeerID and consensus.PeerID
// are the same aliased type.
func (e *Engine) sampleOnionHops(n int) []p2p.PeerID {
	candidates := e.table.FingerprintFilter(e.params.OnionFingerprintThreshold)
	pool := make([]p2p.PeerID, len(candidates))
	for i, c := range candidates {
		pool[i] = c.PeerID
	}
	e.onionMu.Lock()
	defer e.onionMu.Unlock()
	return consensus.SamplePeers(e.onionRNG, pool, e.self, n)
}

// gossipViaOnion attempts to route frame to its eventual recipients
// through an onion-wrapped relay chain instead of a direct flood,
// "optionally wrapped in an onion envelope, hops chosen by fingerprint
// filter". It reports whether the onion send was
// handed off to the first hop; callers fall back to a direct flood when
// it reports false (onion routing disabled, or too few qualifying
// relays are currently known).
func (e *Engine) gossipViaOnion(frame wire.Frame) bool {
	n := e.params.OnionGossipHops
	if n <= 0 {
		return false
	}
	hops := e.sampleOnionHops(n)
	if len(hops) < n {
		return false
	}

	hopKeys := make([]pq.KEMPublicKey, n)
	for i, hop := range hops {
		info, ok := e.table.Get(hop)
		if !ok {
			return false
		}
		hopKeys[i] = info.KEMPublic
	}
	nextHops := make([]string, n-1)
	for i := 0; i < n-1; i++ {
		nextHops[i] = hops[i+1].String()
	}

	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, frame); err != nil {
		return false
	}
	env, err := onion.Build(buf.Bytes(), hopKeys, nextHops)
	if err != nil {
		return false
	}

	fwd := wire.OnionForward{HopIndex: 0, Wire: env.Layers[0]}
	fwdFrame := wire.Frame{Type: wire.MsgOnionForward, Payload: fwd.Encode()}
	return e.sender.SendTo(hops[0], fwdFrame) == nil
}

// handleOnionForward peels one layer of an onion-routed frame addressed
// to this node. A MAC failure (the layer was not addressed to us, or is
// malformed) is dropped silently, not propagated as an error.
// A non-terminal layer is re-wrapped with an incremented hop index and
// forwarded to the next relay; a terminal layer's payload is the
// original wire.Frame, canonically re-framed, and is handed to dispatch
// as if freshly received from an unknown (anonymous) peer so it is
// admitted and, for a vertex announcement, re-gossiped by gossipVertex
// under this node's own policy: onion-routed when OnionGossipHops is set
// and enough relays are known, flooded in the clear otherwise.
func (e *Engine) handleOnionForward(msg wire.OnionForward, now time.Time) error {
	peeled, err := onion.ProcessHop(msg.Wire, e.kemSec, int(msg.HopIndex))
	if err != nil {
		return nil
	}
	if peeled.Terminal {
		inner, err := wire.ReadFrame(bytes.NewReader(peeled.Payload), e.params.MaxMessageSize)
		if err != nil {
			return err
		}
		return e.dispatch(p2p.PeerID{}, inner, now)
	}

	next, err := ids.NodeIDFromString(peeled.NextHop)
	if err != nil {
		return nil
	}
	fwd := wire.OnionForward{HopIndex: msg.HopIndex + 1, Wire: peeled.Inner}
	frame := wire.Frame{Type: wire.MsgOnionForward, Payload: fwd.Encode()}
	return e.sender.SendTo(next, frame)
}
