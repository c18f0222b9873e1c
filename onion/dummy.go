package onion

import (
	"crypto/rand"
	mathrand "math/rand"

	"github.com/qudag/qudag/crypto/pq"
)

// DummyGenerator emits cover frames built through the same Build path as
// real traffic, so a cover frame is indistinguishable from a real one in
// size, cryptographic shape, and on-wire layout. Ratio is the
// probability, per call to Maybe, that a dummy frame is produced.
type DummyGenerator struct {
	Ratio  float64
	Ladder []int
	rng    *mathrand.Rand
}

// NewDummyGenerator returns a generator with the given cover-traffic
// ratio and size ladder.
func NewDummyGenerator(ratio float64, ladder []int) *DummyGenerator {
	return &DummyGenerator{Ratio: ratio, Ladder: ladder, rng: mathrand.New(mathrand.NewSource(1))}
}

// Maybe probabilistically builds a single-hop dummy envelope addressed
// to hopKey, returning nil if this call didn't roll a dummy.
func (g *DummyGenerator) Maybe(hopKey pq.KEMPublicKey) (*Envelope, error) {
	if g.rng.Float64() >= g.Ratio {
		return nil, nil
	}
	tier := g.Ladder[g.rng.Intn(len(g.Ladder))]
	payload := make([]byte, tier/2)
	if _, err := rand.Read(payload); err != nil {
		return nil, err
	}
	return BuildWithLadder(payload, []pq.KEMPublicKey{hopKey}, nil, g.Ladder)
}
