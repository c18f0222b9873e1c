// Package engine is the cross-layer integration point (C9): it owns no
// consensus or networking logic of its own, only the three concurrent
// loops (consensus, gossip/sync, maintenance) that drive dagstate, consensus, and p2p against
// each other, plus the wire dispatch that connects inbound frames to
// the right package.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/consensus"
	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/dagstate"
	"github.com/qudag/qudag/darkresolver"
	qlog "github.com/qudag/qudag/log"
	"github.com/qudag/qudag/p2p"
	"github.com/qudag/qudag/persist"
	"github.com/qudag/qudag/wire"
)

// Engine wires together the DAG store, the consensus engine, the p2p
// overlay, and the dark-domain resolver, and drives them with the
// three background loops.
type Engine struct {
	params config.Parameters

	self     p2p.PeerID
	dsaSec   pq.DSAPrivateKey
	dsaPub   pq.DSAPublicKey
	kemSec   pq.KEMPrivateKey

	genesisMu sync.Mutex
	genesisID *dagstate.VertexID

	store     *dagstate.Store
	consensus *consensus.Engine
	table     *p2p.Table
	discovery *p2p.Discovery
	resolver  *darkresolver.Resolver

	sender p2p.Sender
	query  *QueryClient
	bus    *Bus

	// onionMu guards onionRNG, which consensus.SamplePeers requires as a
	// *rand.Rand and which is not otherwise safe for concurrent use, since
	// gossipViaOnion runs on every caller of gossipVertex (SubmitVertex
	// and the per-connection readLoop goroutines alike).
	onionMu  sync.Mutex
	onionRNG *rand.Rand

	// syncCursor rotates catch-up sync requests across the peer table;
	// only the gossip loop touches it.
	syncCursor int

	log qlog.Logger

	metricsMu sync.RWMutex
	metrics   *collectors

	// persistDB is non-nil once AttachPersistence has recovered state and
	// hooked the store's journal; the maintenance loop then also owns
	// periodic consensus/peer snapshots.
	persistDB *persist.DB

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Identity is the set of keys a node needs to author and sign vertices
// and to advertise itself in the p2p overlay.
type Identity struct {
	Self      p2p.PeerID
	DSAPublic pq.DSAPublicKey
	DSASecret pq.DSAPrivateKey
	KEMPublic pq.KEMPublicKey
	KEMSecret pq.KEMPrivateKey
	Locator   string
}

// New constructs an Engine. sender is the caller-supplied transport
// binding (see p2p.Sender); callers typically implement it over
// transport.Conn, keeping this package free of raw socket code just as
// consensus.Engine stays free of it behind QueryFunc.
func New(params config.Parameters, id Identity, sender p2p.Sender, logger qlog.Logger) *Engine {
	store := dagstate.New(params.MaxParents, params.VertexParkingDeadline, params.MaxParkedVertices, logger)
	table := p2p.New(params.ReputationAlpha, params.MinPeerReputation, params.PartitionDetectionThresh, params.AgentTTL, params.MaxAgentsInResponse, logger)
	table.SetSelf(id.Self)

	fp := pq.Fingerprint(id.DSAPublic, id.Locator, nil)
	self := p2p.PeerRecordOf{
		PeerID:          id.Self,
		KEMPublic:       id.KEMPublic,
		DSAPublic:       id.DSAPublic,
		Fingerprint:     fp[:],
		ProtocolVersion: p2p.ProtocolVersion,
		Locator:         id.Locator,
	}
	discovery := p2p.NewDiscovery(table, sender, self, params.AgentTTL, 4096)

	return &Engine{
		params:    params,
		self:      id.Self,
		dsaSec:    id.DSASecret,
		dsaPub:    id.DSAPublic,
		kemSec:    id.KEMSecret,
		store:     store,
		consensus: consensus.New(params),
		table:     table,
		discovery: discovery,
		resolver:  darkresolver.New(),
		sender:    sender,
		query:     NewQueryClient(sender, id.Self, params.MaxConcurrentQueries),
		bus:       NewBus(),
		onionRNG:  rand.New(rand.NewSource(1)),
		log:       logger,
	}
}

// Store exposes the DAG store for read-only inspection by callers
// (e.g. a status RPC surface).
func (e *Engine) Store() *dagstate.Store { return e.store }

// Table exposes the peer table, e.g. for a cmd/qudagd status endpoint.
func (e *Engine) Table() *p2p.Table { return e.table }

// Resolver exposes the dark-domain resolver for .dark registration and
// lookup calls made outside the background loops.
func (e *Engine) Resolver() *darkresolver.Resolver { return e.resolver }

// SetGenesisID records the network's well-known genesis vertex id, the
// one zero-parent vertex every node accepts without the usual
// non-genesis parent requirement. A node that mints its own genesis
// (SubmitVertex with an empty frontier) records it automatically; a
// node joining an existing network either has it set here or adopts
// the first zero-parent vertex it admits from a peer (by announcement or
// sync response) while no genesis id is known.
func (e *Engine) SetGenesisID(id dagstate.VertexID) {
	e.genesisMu.Lock()
	e.genesisID = &id
	e.genesisMu.Unlock()
}

func (e *Engine) isGenesis(v *dagstate.Vertex) bool {
	e.genesisMu.Lock()
	defer e.genesisMu.Unlock()
	return e.genesisID != nil && v.ID == *e.genesisID
}

func (e *Engine) genesisKnown() bool {
	e.genesisMu.Lock()
	defer e.genesisMu.Unlock()
	return e.genesisID != nil
}

// Events returns a channel of observable events, buffered to
// buffer entries.
func (e *Engine) Events(buffer int) <-chan Event { return e.bus.Subscribe(buffer) }

// Run starts the three background loops and blocks until ctx is
// cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go func() { defer e.wg.Done(); e.consensusLoop(ctx) }()
	go func() { defer e.wg.Done(); e.gossipLoop(ctx) }()
	go func() { defer e.wg.Done(); e.maintenanceLoop(ctx) }()

	<-ctx.Done()
	e.wg.Wait()
}

// Stop cancels the background loops and waits for them to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Dispatch routes one inbound frame from peer to the component that
// owns its message type. Decode failures are logged and dropped rather
// than propagated, a malformed frame drops without crashing
// the connection.
func (e *Engine) Dispatch(from p2p.PeerID, frame wire.Frame, now time.Time) {
	if err := e.dispatch(from, frame, now); err != nil && e.log != nil {
		e.log.Debug("dropping malformed frame", "from", from, "type", frame.Type, "err", err)
	}
}

func (e *Engine) dispatch(from p2p.PeerID, frame wire.Frame, now time.Time) error {
	switch frame.Type {
	case wire.MsgQuery:
		msg, err := wire.DecodeQuery(frame.Payload)
		if err != nil {
			return err
		}
		return HandleQuery(e.sender, e.store, e.consensus, e.self, from, msg)

	case wire.MsgQueryResponse:
		msg, err := wire.DecodeQueryResponse(frame.Payload)
		if err != nil {
			return err
		}
		e.query.HandleResponse(msg)
		return nil

	case wire.MsgVertexAnnouncement:
		msg, err := wire.DecodeVertexAnnouncement(frame.Payload)
		if err != nil {
			return err
		}
		return e.handleVertexAnnouncement(from, msg, now)

	case wire.MsgVertexRequest:
		msg, err := wire.DecodeVertexRequest(frame.Payload)
		if err != nil {
			return err
		}
		return e.handleVertexRequest(from, msg)

	case wire.MsgSyncRequest:
		msg, err := wire.DecodeSyncRequest(frame.Payload)
		if err != nil {
			return err
		}
		return e.handleSyncRequest(from, msg)

	case wire.MsgSyncResponse:
		msg, err := wire.DecodeSyncResponse(frame.Payload)
		if err != nil {
			return err
		}
		return e.handleSyncResponse(from, msg, now)

	case wire.MsgFinalityNotification:
		msg, err := wire.DecodeFinalityNotification(frame.Payload)
		if err != nil {
			return err
		}
		return e.handleFinalityNotification(from, msg)

	case wire.MsgOnionForward:
		msg, err := wire.DecodeOnionForward(frame.Payload)
		if err != nil {
			return err
		}
		return e.handleOnionForward(msg, now)

	case wire.MsgAnnounce:
		msg, err := wire.DecodeAnnounce(frame.Payload)
		if err != nil {
			return err
		}
		e.discovery.HandleAnnounce(from, msg, now)
		return nil

	case wire.MsgDiscoveryQuery:
		msg, err := wire.DecodeDiscoveryQuery(frame.Payload)
		if err != nil {
			return err
		}
		return e.discovery.HandleQuery(from, msg, now)

	case wire.MsgDiscoveryResponse:
		msg, err := wire.DecodeDiscoveryResponse(frame.Payload)
		if err != nil {
			return err
		}
		e.discovery.HandleResponse(from, msg, now)
		return nil

	case wire.MsgHeartbeat:
		_, err := wire.DecodeHeartbeat(frame.Payload)
		if err != nil {
			return err
		}
		e.discovery.HandleHeartbeat(from, now)
		return nil

	case wire.MsgGoodbye:
		_, err := wire.DecodeGoodbye(frame.Payload)
		if err != nil {
			return err
		}
		e.discovery.HandleGoodbye(from)
		return nil

	default:
		return fmt.Errorf("engine: %w: %d", wire.ErrUnknownMessageType, frame.Type)
	}
}
