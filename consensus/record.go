// Package consensus implements QR-Avalanche: per-vertex confidence
// accumulation over repeated peer sampling, with early-termination
// bookkeeping kept per vertex rather than recomputed from round
// history.
package consensus

import (
	"sync"

	"github.com/qudag/qudag/dagstate"
)

// VertexID aliases the DAG's identity type so callers don't need to
// import dagstate solely for the id type.
type VertexID = dagstate.VertexID

// Record is the per-vertex confidence state: counters plus an
// EMA confidence and the round at which finality was reached, if any.
type Record struct {
	mu sync.Mutex

	Positive             uint64
	Negative             uint64
	ConsecutiveSuccesses int
	LastQueryRound       uint64
	FinalizedRound       *uint64
	EMAConfidence        float64
}

// snapshot is a value copy safe to read without holding the record's lock.
type snapshot struct {
	ConsecutiveSuccesses int
	EMAConfidence        float64
	Finalized            bool
}

func (r *Record) snapshot() snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot{
		ConsecutiveSuccesses: r.ConsecutiveSuccesses,
		EMAConfidence:        r.EMAConfidence,
		Finalized:            r.FinalizedRound != nil,
	}
}

// Snapshot is the exported form of snapshot, for callers outside the
// package (e.g. the engine's tip selector) that need a lock-safe read
// of a vertex's current confidence without reaching into Record's
// internal fields directly.
func (r *Record) Snapshot() (confidence float64, consecutiveSuccesses int, finalized bool) {
	s := r.snapshot()
	return s.EMAConfidence, s.ConsecutiveSuccesses, s.Finalized
}

// update applies one round's quorum tally and reports whether
// this round crossed the finality threshold.
func (r *Record) update(round uint64, positive, responses int, alpha int, beta int, lambda, thetaFinal float64) (becameFinal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastQueryRound = round
	if positive >= alpha {
		r.Positive++
		r.ConsecutiveSuccesses++
	} else {
		r.Negative++
		r.ConsecutiveSuccesses = 0
	}

	if responses > 0 {
		sampleFraction := float64(positive) / float64(responses)
		r.EMAConfidence = (1-lambda)*r.EMAConfidence + lambda*sampleFraction
	}

	if r.FinalizedRound == nil && r.ConsecutiveSuccesses >= beta && r.EMAConfidence >= thetaFinal {
		rr := round
		r.FinalizedRound = &rr
		return true
	}
	return false
}
