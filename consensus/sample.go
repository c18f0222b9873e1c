package consensus

import "math/rand"

// sampleWithoutReplacement draws min(k, n) distinct indices from
// [0, n) uniformly at random by rejection sampling: keep drawing random
// indices and rejecting repeats until enough are collected. For k well
// below n this beats shuffling the whole index space.
func sampleWithoutReplacement(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	selected := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for len(out) < k {
		i := rng.Intn(n)
		if _, dup := selected[i]; dup {
			continue
		}
		selected[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

// SamplePeers returns up to k peers drawn uniformly at random without
// replacement from eligible, excluding self.
func SamplePeers(rng *rand.Rand, eligible []PeerID, self PeerID, k int) []PeerID {
	pool := make([]PeerID, 0, len(eligible))
	for _, p := range eligible {
		if p != self {
			pool = append(pool, p)
		}
	}
	idxs := sampleWithoutReplacement(rng, len(pool), k)
	out := make([]PeerID, len(idxs))
	for i, idx := range idxs {
		out[i] = pool[idx]
	}
	return out
}
