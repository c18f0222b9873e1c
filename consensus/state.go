package consensus

// RecordState is the exportable form of one vertex's confidence record,
// used by the persistence layer to snapshot and restore consensus state
// across restarts.
type RecordState struct {
	VertexID             VertexID
	Positive             uint64
	Negative             uint64
	ConsecutiveSuccesses int
	LastQueryRound       uint64
	Finalized            bool
	FinalizedRound       uint64
	EMAConfidence        float64
}

// Export returns a value copy of every confidence record, in no
// particular order.
func (e *Engine) Export() []RecordState {
	var out []RecordState
	for _, sh := range e.shards {
		sh.mu.Lock()
		for id, r := range sh.records {
			r.mu.Lock()
			st := RecordState{
				VertexID:             id,
				Positive:             r.Positive,
				Negative:             r.Negative,
				ConsecutiveSuccesses: r.ConsecutiveSuccesses,
				LastQueryRound:       r.LastQueryRound,
				EMAConfidence:        r.EMAConfidence,
			}
			if r.FinalizedRound != nil {
				st.Finalized = true
				st.FinalizedRound = *r.FinalizedRound
			}
			r.mu.Unlock()
			out = append(out, st)
		}
		sh.mu.Unlock()
	}
	return out
}

// Restore installs previously-exported records, replacing any existing
// state for the same ids. When resetCounters is true, every unfinalized
// record's round-to-round counters are cleared to safe defaults, the
// startup rule for counters outside the current consensus window, while
// finalized records keep their terminal state; accumulated positive and
// negative tallies are kept either way, since they carry no liveness
// assumption. The engine's round counter resumes past the highest
// restored round so LastQueryRound stays monotone.
func (e *Engine) Restore(states []RecordState, resetCounters bool) {
	var maxRound uint64
	for _, st := range states {
		r := e.Record(st.VertexID)
		r.mu.Lock()
		r.Positive = st.Positive
		r.Negative = st.Negative
		r.ConsecutiveSuccesses = st.ConsecutiveSuccesses
		r.LastQueryRound = st.LastQueryRound
		r.EMAConfidence = st.EMAConfidence
		r.FinalizedRound = nil
		if st.Finalized {
			fr := st.FinalizedRound
			r.FinalizedRound = &fr
		} else if resetCounters {
			r.ConsecutiveSuccesses = 0
			r.EMAConfidence = 0
			r.LastQueryRound = 0
		}
		r.mu.Unlock()
		if st.LastQueryRound > maxRound {
			maxRound = st.LastQueryRound
		}
	}

	e.roundMu.Lock()
	if e.round < maxRound {
		e.round = maxRound
	}
	e.roundMu.Unlock()
}
