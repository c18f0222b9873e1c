package consensus

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/dagstate"
)

// PeerID identifies a sampling-eligible peer.
type PeerID = ids.NodeID

const numShards = 16

// Vote is a single responder's answer to a Query, translated from its
// local status.
type Vote struct {
	Confidence float64
	IsFinal    bool
}

// VoteFromStatus maps a responder's local status to its vote: Final -> (1.0,
// true); Preferred -> (>=0.5, false); Pending -> (local EMA, false);
// Rejected/Unknown -> (0.0, false).
func VoteFromStatus(status dagstate.Status, known bool, localConfidence float64) Vote {
	if !known {
		return Vote{Confidence: 0, IsFinal: false}
	}
	switch status {
	case dagstate.StatusFinal:
		return Vote{Confidence: 1.0, IsFinal: true}
	case dagstate.StatusPreferred:
		c := localConfidence
		if c < 0.5 {
			c = 0.5
		}
		return Vote{Confidence: c, IsFinal: false}
	case dagstate.StatusPending:
		return Vote{Confidence: localConfidence, IsFinal: false}
	default: // Rejected
		return Vote{Confidence: 0, IsFinal: false}
	}
}

// QueryFunc sends a Query(vertex_id) to peer and returns its vote. An
// error means no response arrived within Tq; the round treats the peer
// as a non-respondent, not as a negative vote (the abandon-round rule
// looks at the response *count*, not content).
type QueryFunc func(ctx context.Context, peer PeerID, vertexID VertexID) (Vote, error)

// RoundOutcome reports what RunRound accomplished.
type RoundOutcome int

const (
	RoundAbandoned RoundOutcome = iota
	RoundContinuing
	RoundFinalized
)

var ErrQueryTimeout = errors.New("consensus: round abandoned, insufficient responses")

type shard struct {
	mu      sync.Mutex
	records map[VertexID]*Record
}

// Engine drives per-vertex QR-Avalanche rounds. It holds no network
// code: RunRound is handed a QueryFunc and an eligible peer list by the
// cross-layer engine (C9), keeping the sampling/confidence logic here
// independent of transport.
type Engine struct {
	params config.Parameters
	shards [numShards]*shard

	roundMu sync.Mutex
	round   uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an Engine configured from params.
func New(params config.Parameters) *Engine {
	e := &Engine{params: params, rng: rand.New(rand.NewSource(1))}
	for i := range e.shards {
		e.shards[i] = &shard{records: make(map[VertexID]*Record)}
	}
	return e
}

func (e *Engine) shardFor(id VertexID) *shard { return e.shards[int(id[0])%numShards] }

// Record returns the confidence record for id, creating it on first use.
func (e *Engine) Record(id VertexID) *Record {
	sh := e.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.records[id]
	if !ok {
		r = &Record{}
		sh.records[id] = r
	}
	return r
}

func (e *Engine) nextRound() uint64 {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()
	e.round++
	return e.round
}

// localConfidence returns the EMA confidence to report to a querying
// peer when this node's own vertex status is Pending.
func (e *Engine) localConfidence(id VertexID) float64 {
	return e.Record(id).snapshot().EMAConfidence
}

// LocalVote answers a Query for vertexID based on this node's DAG status.
func (e *Engine) LocalVote(store *dagstate.Store, vertexID VertexID) Vote {
	_, status, ok := store.Get(vertexID)
	return VoteFromStatus(status, ok, e.localConfidence(vertexID))
}

// RunRound executes one QR-Avalanche round for vertexID: sample k
// eligible peers, query them concurrently bounded by Tq, tally
// responses, and update the confidence record.
func (e *Engine) RunRound(ctx context.Context, vertexID VertexID, eligible []PeerID, self PeerID, query QueryFunc) (RoundOutcome, error) {
	e.rngMu.Lock()
	sample := SamplePeers(e.rng, eligible, self, e.params.K)
	e.rngMu.Unlock()

	round := e.nextRound()

	roundCtx, cancel := context.WithTimeout(ctx, e.params.QueryTO)
	defer cancel()

	type result struct {
		vote Vote
		err  error
	}
	results := make(chan result, len(sample))
	for _, peer := range sample {
		peer := peer
		go func() {
			v, err := query(roundCtx, peer, vertexID)
			select {
			case results <- result{v, err}:
			case <-roundCtx.Done():
			}
		}()
	}

	var votes []Vote
collect:
	for i := 0; i < len(sample); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				votes = append(votes, r.vote)
			}
		case <-roundCtx.Done():
			break collect
		}
	}

	minResponses := int(math.Ceil(0.8 * float64(len(sample))))
	if len(votes) < minResponses {
		return RoundAbandoned, ErrQueryTimeout
	}

	positive := 0
	for _, v := range votes {
		if v.Confidence >= 0.5 {
			positive++
		}
	}

	rec := e.Record(vertexID)
	becameFinal := rec.update(round, positive, len(votes), e.params.Alpha, e.params.Beta, e.params.EMALambda, e.params.ThetaFinal)
	if becameFinal {
		return RoundFinalized, nil
	}
	return RoundContinuing, nil
}

// ResolveConflict implements the conflict tie-break: higher EMA confidence
// wins; ties broken by smaller id under lexicographic order. Conflict
// detection itself stays a caller concern (an application callback), so
// this only orders two ids the caller has already identified as
// mutually exclusive.
func (e *Engine) ResolveConflict(a, b VertexID) VertexID {
	ra := e.Record(a).snapshot()
	rb := e.Record(b).snapshot()
	if ra.EMAConfidence > rb.EMAConfidence {
		return a
	}
	if rb.EMAConfidence > ra.EMAConfidence {
		return b
	}
	if a.Compare(b) < 0 {
		return a
	}
	return b
}

// AwaitFinality blocks until vertexID finalizes, the context is
// cancelled, or Tmax elapses; the caller sees only Finalized
// or Timeout, never the per-round churn underneath.
func (e *Engine) AwaitFinality(ctx context.Context, vertexID VertexID, poll func() bool) error {
	deadline := time.Now().Add(e.params.MaxRoundTO)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if poll() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrQueryTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
