package onion

import (
	"math/rand"
	"sync"
	"time"
)

// Frame is one onion frame entering the mix, tagged dummy or real so the
// dummy generator can inject cover traffic indistinguishable in shape.
// Priority orders frames for eviction when the mix buffer is at
// capacity; it never affects release order within a batch.
type Frame struct {
	Wire     []byte
	Dummy    bool
	Priority uint8
}

// Eviction order under backpressure: cover traffic and heartbeats
// go first, then discovery chatter; consensus-bearing frames are never
// evicted.
const (
	PriorityCover uint8 = iota
	PriorityDiscovery
	PriorityConsensus
)

// JitterFunc returns an inter-frame release delay; batches release
// frames with jitter drawn from a configured distribution.
type JitterFunc func(rng *rand.Rand) time.Duration

// UniformJitter returns a JitterFunc drawing uniformly from [0, max).
func UniformJitter(max time.Duration) JitterFunc {
	return func(rng *rand.Rand) time.Duration {
		if max <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(max)))
	}
}

// Mixer buffers incoming frames and releases a uniformly shuffled batch
// once it reaches BatchSize or BatchTimeout elapses, whichever first,
// following the mix-batching rule.
type Mixer struct {
	mu         sync.Mutex
	buffer     []Frame
	batchSize  int
	capacity   int
	timeout    time.Duration
	jitter     JitterFunc
	rng        *rand.Rand
	out        chan []Frame
	flushTimer *time.Timer
	closed     bool
}

// NewMixer returns a Mixer that releases batches onto the returned
// channel, which the caller should drain. capacity bounds the buffer
// per the send-queue backpressure rule (0 means unbounded); consensus-priority
// frames are admitted past the bound rather than ever being dropped.
func NewMixer(batchSize, capacity int, timeout time.Duration, jitter JitterFunc) (*Mixer, <-chan []Frame) {
	out := make(chan []Frame, 8)
	m := &Mixer{
		batchSize: batchSize,
		capacity:  capacity,
		timeout:   timeout,
		jitter:    jitter,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		out:       out,
	}
	return m, out
}

// Submit adds a frame to the buffer, flushing immediately if the batch
// is now full. When the buffer is at capacity, the lowest-priority
// buffered frame below f's priority is evicted to make room; if none is
// lower and f itself is not consensus-priority, f is discarded instead.
// The return reports whether the queue overflowed (something was
// dropped, or a consensus frame was admitted past the bound), so the
// caller can penalize a peer whose queue overflows repeatedly.
func (m *Mixer) Submit(f Frame) (overflowed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.capacity > 0 && len(m.buffer) >= m.capacity {
		overflowed = true
		if victim := m.lowestPriorityBelow(f.Priority); victim >= 0 {
			m.buffer = append(m.buffer[:victim], m.buffer[victim+1:]...)
		} else if f.Priority < PriorityConsensus {
			return true
		}
	}
	m.buffer = append(m.buffer, f)
	if m.flushTimer == nil {
		m.flushTimer = time.AfterFunc(m.timeout, m.flushOnTimeout)
	}
	if len(m.buffer) >= m.batchSize {
		m.flushLocked()
	}
	return overflowed
}

// lowestPriorityBelow returns the index of the lowest-priority buffered
// frame strictly below limit, or -1. Must be called with mu held.
func (m *Mixer) lowestPriorityBelow(limit uint8) int {
	victim := -1
	for i, f := range m.buffer {
		if f.Priority >= limit {
			continue
		}
		if victim < 0 || f.Priority < m.buffer[victim].Priority {
			victim = i
		}
	}
	return victim
}

func (m *Mixer) flushOnTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.buffer) == 0 {
		m.flushTimer = nil
		return
	}
	m.flushLocked()
}

// flushLocked releases the buffered batch in random order and resets
// buffering state. Must be called with mu held.
func (m *Mixer) flushLocked() {
	batch := m.buffer
	m.buffer = nil
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
	m.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
	select {
	case m.out <- batch:
	default:
		// Backpressure: a saturated drain sheds the batch's droppable
		// frames rather than blocking the submitter, but consensus-
		// priority frames go back into the buffer for the next flush —
		// they are never dropped.
		var kept []Frame
		for _, f := range batch {
			if f.Priority >= PriorityConsensus {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 && !m.closed {
			m.buffer = append(kept, m.buffer...)
			if m.flushTimer == nil {
				m.flushTimer = time.AfterFunc(m.timeout, m.flushOnTimeout)
			}
		}
	}
}

// Jitter returns the configured inter-frame release delay function.
// Callers draining a batch off the output channel call this once per
// frame before dispatching it, producing the inter-frame jitter of
// without the Mixer itself blocking its own flush goroutine.
func (m *Mixer) Jitter() JitterFunc { return m.jitter }

// Close stops the flush timer and releases any partial batch. Close is
// idempotent.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.flushTimer != nil {
		m.flushTimer.Stop()
	}
	if len(m.buffer) > 0 {
		m.flushLocked()
	}
	close(m.out)
}

