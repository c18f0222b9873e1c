package engine

import (
	"sort"

	"github.com/qudag/qudag/consensus"
	"github.com/qudag/qudag/dagstate"
)

// finalAncestorSearchDepth bounds how far SelectTips looks back for a
// Final ancestor when biasing a new vertex's parent set toward one,
// to aid finalization.
const finalAncestorSearchDepth = 32

// SelectTips implements the tip-selection contract: choose k
// parents from the current frontier biased toward the highest
// confidence, preferring a set that includes at least one Final
// ancestor reachable within a bounded depth. Selecting exclusively from
// the frontier (vertices with no admitted child) guarantees no cycle is
// introduced.
func SelectTips(store *dagstate.Store, consensusEngine *consensus.Engine, k, maxParents int) []dagstate.VertexID {
	if k < 1 {
		k = 1
	}
	if k > maxParents {
		k = maxParents
	}

	frontier := store.Frontier()
	if len(frontier) == 0 {
		return nil
	}

	type scored struct {
		id         dagstate.VertexID
		confidence float64
	}
	candidates := make([]scored, 0, len(frontier))
	for _, id := range frontier {
		rec := consensusEngine.Record(id)
		confidence, _, _ := rec.Snapshot()
		candidates = append(candidates, scored{id: id, confidence: confidence})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].id.Compare(candidates[j].id) < 0
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	tips := make([]dagstate.VertexID, 0, k)
	for _, c := range candidates[:k] {
		tips = append(tips, c.id)
	}

	if !anyHasFinalAncestor(store, tips, finalAncestorSearchDepth) {
		for _, c := range candidates[k:] {
			if store.HasFinalAncestorWithin(c.id, finalAncestorSearchDepth) {
				if len(tips) < maxParents {
					tips = append(tips, c.id)
				} else {
					tips[len(tips)-1] = c.id
				}
				break
			}
		}
	}
	return tips
}

func anyHasFinalAncestor(store *dagstate.Store, tips []dagstate.VertexID, maxDepth int) bool {
	for _, id := range tips {
		if st, ok := store.Status(id); ok && st == dagstate.StatusFinal {
			return true
		}
		if store.HasFinalAncestorWithin(id, maxDepth) {
			return true
		}
	}
	return false
}
