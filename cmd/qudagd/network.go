package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/engine"
	"github.com/qudag/qudag/onion"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/transport"
	"github.com/qudag/qudag/wire"
)

// helloConn adapts a transport.Conn to p2p.HelloExchanger by encoding
// and decoding Hello over the already-encrypted message stream.
type helloConn struct{ conn *transport.Conn }

func (h helloConn) Send(hello p2p.Hello) error { return h.conn.Send(hello.Encode()) }

func (h helloConn) Receive() (p2p.Hello, error) {
	data, err := h.conn.Receive()
	if err != nil {
		return p2p.Hello{}, err
	}
	return p2p.DecodeHello(data)
}

// peerMix is the per-connection onion mix-batching state:
// SendTo submits onto mixer instead of writing straight to conn, and
// drainLoop/dummyLoop are the two goroutines that release batches and
// inject cover traffic onto it respectively. stop tells both to exit
// once the connection is torn down.
type peerMix struct {
	mixer *onion.Mixer
	stop  chan struct{}

	mu        sync.Mutex
	overflows int
}

// overflowPenaltyEvery is how many queue overflows a peer accumulates
// before its reputation takes one backpressure reputation penalty.
const overflowPenaltyEvery = 8

// framePriority maps a wire message type onto the backpressure drop order: cover
// traffic first, discovery chatter second, consensus-bearing frames
// never.
func framePriority(t wire.MessageType) uint8 {
	switch t {
	case wire.MsgHeartbeat, wire.MsgGoodbye:
		return onion.PriorityCover
	case wire.MsgAnnounce, wire.MsgDiscoveryQuery, wire.MsgDiscoveryResponse:
		return onion.PriorityDiscovery
	default:
		return onion.PriorityConsensus
	}
}

// connManager owns every live transport.Conn and implements p2p.Sender
// over them, keeping one outbound queue per peer behind a small adapter
// rather than letting consensus or gossip code touch sockets
// directly. Outgoing frames additionally
// pass through a per-peer onion.Mixer before hitting the wire, so
// real traffic is batched, shuffled, and interleaved with dummy cover
// frames, rather than going out the instant SendTo is called.
type connManager struct {
	mu     sync.RWMutex
	conns  map[p2p.PeerID]*transport.Conn
	mixers map[p2p.PeerID]*peerMix

	rngMu sync.Mutex
	rng   *rand.Rand

	local      *transport.KeyPair
	id         engine.Identity
	params     config.Parameters
	dummyGen   *onion.DummyGenerator
	obfProfile onion.Profile
	eng        *engine.Engine
}

func newConnManager(local *transport.KeyPair, id engine.Identity, params config.Parameters) *connManager {
	return &connManager{
		conns:      make(map[p2p.PeerID]*transport.Conn),
		mixers:     make(map[p2p.PeerID]*peerMix),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		local:      local,
		id:         id,
		params:     params,
		dummyGen:   onion.NewDummyGenerator(params.DummyTrafficRatio, params.SizeLadder),
		obfProfile: params.ObfuscationPattern.Profile(),
	}
}

// bind attaches the Engine this manager delivers frames to; Engine and
// connManager are constructed independently (the Engine needs a Sender
// before it exists, the connManager needs an Engine to dispatch into)
// so this closes the cycle.
func (m *connManager) bind(eng *engine.Engine) { m.eng = eng }

// SendTo hands frame to the destination peer's mixer rather than
// writing it straight to the socket; drainLoop releases it (shuffled
// alongside whatever else was buffered, and any dummy frames) after a
// batch-sized or timeout-sized delay.
func (m *connManager) SendTo(peer p2p.PeerID, frame wire.Frame) error {
	m.mu.RLock()
	pm, ok := m.mixers[peer]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("qudagd: no connection to peer %s", peer)
	}
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, frame); err != nil {
		return err
	}
	if pm.mixer.Submit(onion.Frame{Wire: buf.Bytes(), Priority: framePriority(frame.Type)}) {
		pm.mu.Lock()
		pm.overflows++
		penalize := pm.overflows%overflowPenaltyEvery == 0
		pm.mu.Unlock()
		if penalize {
			m.eng.Table().Record(peer, p2p.OutcomeTimeout)
		}
	}
	return nil
}

// adopt completes the application-level Hello handshake over conn,
// registers the resulting peer in the table, and starts the mix drain,
// dummy-traffic, and read loops that carry frames to and from it.
func (m *connManager) adopt(conn *transport.Conn) {
	// Both ends derive this nonce from the already-completed transport
	// handshake transcript (Session.deriveKeys), so it is identical on
	// both sides without either one transmitting it — a Hello generated
	// with a private, never-shared nonce could never be verified by the
	// peer it was sent to.
	if m.params.EnableQuantumChannels && !conn.IsPostQuantum() {
		conn.Close()
		return
	}
	nonce := conn.HandshakeNonce()
	localHello, err := p2p.BuildHello(m.id.Self, m.id.DSAPublic, m.id.DSASecret, m.id.KEMPublic, m.id.Locator, nonce)
	if err != nil {
		conn.Close()
		return
	}
	info, err := p2p.CompleteHandshake(helloConn{conn}, localHello, nonce, m.params.HandshakeTimeout, time.Now())
	if err != nil {
		conn.Close()
		return
	}

	mixer, mixOut := onion.NewMixer(m.params.MixBatchSize, m.params.SendQueueCapacity, m.params.MixBatchTimeout, onion.UniformJitter(m.params.BurstDelay))
	pm := &peerMix{mixer: mixer, stop: make(chan struct{})}

	m.mu.Lock()
	m.conns[info.PeerID] = conn
	m.mixers[info.PeerID] = pm
	m.mu.Unlock()

	m.eng.Table().Upsert(info)
	limiter := onion.NewBurstLimiter(m.params.MaxBurstSize, m.params.MixBatchTimeout, m.params.BurstDelay)
	go m.drainLoop(conn, mixer, mixOut, limiter, pm.stop)
	go m.dummyLoop(info.KEMPublic, mixer, pm.stop)
	go m.readLoop(info.PeerID, conn)
}

// drainLoop releases mixed batches for conn, sleeping the configured
// jitter between frames, holding back when the burst limiter trips
// (the mix release throttle), and disguising each frame under the
// configured obfuscation profile before writing it to the socket.
func (m *connManager) drainLoop(conn *transport.Conn, mixer *onion.Mixer, mixOut <-chan []onion.Frame, limiter *onion.BurstLimiter, stop <-chan struct{}) {
	jitter := mixer.Jitter()
	for {
		select {
		case <-stop:
			return
		case batch, ok := <-mixOut:
			if !ok {
				return
			}
			for _, f := range batch {
				m.rngMu.Lock()
				d := jitter(m.rng)
				m.rngMu.Unlock()
				if d > 0 {
					time.Sleep(d)
				}
				for {
					ok, wait := limiter.Allow(time.Now())
					if ok {
						break
					}
					time.Sleep(wait)
				}
				payload := f.Wire
				if m.obfProfile != onion.ProfileNone {
					wrapped, err := onion.Wrap(m.obfProfile, payload)
					if err != nil {
						continue
					}
					payload = wrapped
				}
				if err := conn.Send(payload); err != nil {
					return
				}
			}
		}
	}
}

// dummyLoop periodically rolls cover traffic for conn's peer with
// onion.DummyGenerator and feeds it into the same mixer real frames go
// through, so both share batching and timing. Cover frames are
// single-hop onion layers (a size-ladder tier plus KEM and AEAD
// overhead), while SendTo submits real frames as plain, unpadded wire
// frames, so the two differ in length and shape.
func (m *connManager) dummyLoop(peerKEM []byte, mixer *onion.Mixer, stop <-chan struct{}) {
	if len(peerKEM) == 0 || m.params.DummyTrafficRatio <= 0 {
		return
	}
	ticker := time.NewTicker(m.params.MixBatchTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, err := m.dummyGen.Maybe(peerKEM)
			if err != nil || env == nil {
				continue
			}
			mixer.Submit(onion.Frame{Wire: env.Layers[0], Dummy: true, Priority: onion.PriorityCover})
		}
	}
}

// dial opens a connection to addr, completes both the transport and
// application handshakes, and registers the resulting peer.
func (m *connManager) dial(addr string) error {
	conn, err := transport.Dial(addr, m.local, m.params.HandshakeTimeout)
	if err != nil {
		return err
	}
	m.adopt(conn)
	return nil
}

func (m *connManager) readLoop(peer p2p.PeerID, conn *transport.Conn) {
	defer func() {
		m.mu.Lock()
		delete(m.conns, peer)
		if pm, ok := m.mixers[peer]; ok {
			close(pm.stop)
			pm.mixer.Close()
			delete(m.mixers, peer)
		}
		m.mu.Unlock()
		conn.Close()
	}()
	for {
		data, err := conn.Receive()
		if err != nil {
			return
		}
		if m.obfProfile != onion.ProfileNone {
			unwrapped, err := onion.Unwrap(m.obfProfile, data)
			if err != nil {
				continue
			}
			data = unwrapped
		}
		frame, err := wire.ReadFrame(bytes.NewReader(data), m.params.MaxMessageSize)
		if err != nil {
			continue
		}
		m.eng.Dispatch(peer, frame, time.Now())
	}
}

// acceptLoop accepts inbound TCP connections on ln until it is closed,
// handing each completed connection to adopt in its own goroutine so a
// slow or hostile peer's handshake cannot stall the others.
func (m *connManager) acceptLoop(ln *transport.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go m.adopt(conn)
	}
}

// dialSeeds connects to every bootstrap address in seeds; a node
// discovers its first peers through a configured bootstrap list.
// Addresses that do not parse as host:port are skipped and dial errors
// are discarded without logging, so one bad seed does not stop the rest.
func dialSeeds(m *connManager, seeds []string) {
	for _, addr := range seeds {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			continue
		}
		_ = m.dial(addr)
	}
}
