package engine

import "github.com/qudag/qudag/dagstate"

// Kind enumerates the observable events surfaced to out-of-scope
// collaborators (the exchange ledger, MCP surface, swarm scheduler).
// AttractorFormation is carried opaquely: this core never produces one
// itself, it only plumbs the event type through for the emergent-swarm
// integration to populate.
type Kind int

const (
	VertexReceived Kind = iota
	VertexFinalized
	SyncCompleted
	QueryTimeout
	PartitionDetected
	AttractorFormation
)

func (k Kind) String() string {
	switch k {
	case VertexReceived:
		return "VertexReceived"
	case VertexFinalized:
		return "VertexFinalized"
	case SyncCompleted:
		return "SyncCompleted"
	case QueryTimeout:
		return "QueryTimeout"
	case PartitionDetected:
		return "PartitionDetected"
	case AttractorFormation:
		return "AttractorFormation"
	default:
		return "Unknown"
	}
}

// Event is the payload handed to observers. Only the fields relevant to
// Kind are populated; the rest are left at their zero value.
type Event struct {
	Kind      Kind
	VertexID  dagstate.VertexID
	Count     int
	Peers     []string
	Opaque    map[string]any
}

// Bus fans out events to every registered observer over a bounded
// channel, following the no-ambient-state rule: a Bus is a handle
// callers create and pass around, not a package-level singleton.
type Bus struct {
	subs []chan Event
}

// NewBus returns an empty event bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe returns a channel that receives every future event. The
// channel is buffered so a slow observer cannot stall Publish; an
// observer that falls too far behind drops events rather than
// backpressuring the engine (discovery/maintenance traffic already
// treats events as best-effort).
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans out ev to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
