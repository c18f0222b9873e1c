package dagstate

import (
	"errors"
	"sync"
	"time"

	"github.com/luxfi/ids"

	qlog "github.com/qudag/qudag/log"
)

const numShards = 16

var (
	ErrUnknownParent  = errors.New("dagstate: unknown parent")
	ErrParentRejected = errors.New("dagstate: a parent was rejected")
	ErrParkingTimeout = errors.New("dagstate: vertex parking deadline exceeded")
	ErrParkingFull    = errors.New("dagstate: parking queue at capacity")
	ErrDuplicateVertex = errors.New("dagstate: vertex already admitted")
)

// AdmitOutcome is the synchronous result of Submit; rejection reasons
// surface to the submitter immediately rather than asynchronously.
type AdmitOutcome int

const (
	AdmitPending AdmitOutcome = iota
	AdmitParked
	AdmitRejected
	AdmitDuplicate
)

type entry struct {
	vertex *Vertex
	status Status
}

type shard struct {
	mu       sync.RWMutex
	vertices map[VertexID]*entry
	children map[VertexID][]VertexID
}

func newShard() *shard {
	return &shard{
		vertices: make(map[VertexID]*entry),
		children: make(map[VertexID][]VertexID),
	}
}

func shardIndex(id VertexID) int {
	return int(id[0]) % numShards
}

type parked struct {
	vertex   *Vertex
	waiting  map[VertexID]struct{}
	deadline time.Time
}

// Store is the sharded, lock-protected vertex graph with a bounded
// parking queue for vertices whose parents have not yet arrived, sharded
// internally by id prefix.
type Store struct {
	shards [numShards]*shard

	mu          sync.Mutex
	parkingByID map[VertexID]*parked
	parkingWait map[VertexID][]VertexID // missing parent -> waiting vertex ids

	frontierMu sync.RWMutex
	frontier   map[VertexID]struct{}

	heightMu  sync.RWMutex
	heightOf  map[VertexID]uint64
	byHeight  []VertexID
	heightSeq uint64

	maxParents        int
	parkingDeadline   time.Duration
	maxParkedVertices int

	journalMu sync.RWMutex
	journal   Journal

	log qlog.Logger
}

// Journal receives every admission and status transition, in order, for
// durable logging. Implementations must not call
// back into the Store.
type Journal interface {
	OnAdmit(v *Vertex, height uint64)
	OnStatus(id VertexID, status Status)
}

// SetJournal attaches a transition journal. Attach after any recovery
// replay has completed, or replayed vertices are logged twice.
func (s *Store) SetJournal(j Journal) {
	s.journalMu.Lock()
	s.journal = j
	s.journalMu.Unlock()
}

func (s *Store) journalHandle() Journal {
	s.journalMu.RLock()
	defer s.journalMu.RUnlock()
	return s.journal
}

// New returns an empty Store.
func New(maxParents int, parkingDeadline time.Duration, maxParkedVertices int, logger qlog.Logger) *Store {
	s := &Store{
		parkingByID:       make(map[VertexID]*parked),
		parkingWait:       make(map[VertexID][]VertexID),
		frontier:          make(map[VertexID]struct{}),
		heightOf:          make(map[VertexID]uint64),
		maxParents:        maxParents,
		parkingDeadline:   parkingDeadline,
		maxParkedVertices: maxParkedVertices,
		log:               logger,
	}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s
}

func (s *Store) shardFor(id VertexID) *shard { return s.shards[shardIndex(id)] }

// Get returns the admitted vertex and its status, if present.
func (s *Store) Get(id VertexID) (*Vertex, Status, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.vertices[id]
	if !ok {
		return nil, 0, false
	}
	return e.vertex, e.status, true
}

// Status returns a vertex's status, or false if it is not admitted.
func (s *Store) Status(id VertexID) (Status, bool) {
	_, st, ok := s.Get(id)
	return st, ok
}

// Children returns the admitted children of a parent vertex.
func (s *Store) Children(id VertexID) []VertexID {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]VertexID(nil), sh.children[id]...)
}

// Submit runs the admission pipeline for v. now is passed in rather
// than read from the clock so tests can drive parking deadlines
// deterministically.
func (s *Store) Submit(v *Vertex, isGenesis bool, now time.Time) (AdmitOutcome, error) {
	if _, _, ok := s.Get(v.ID); ok {
		return AdmitDuplicate, nil
	}

	if err := v.verifyShape(s.maxParents); err != nil {
		return AdmitRejected, err
	}
	if len(v.Parents) == 0 && !isGenesis {
		return AdmitRejected, ErrEmptyNonGenesis
	}

	ready, outcome, err := s.parkIfMissing(v, now)
	if err != nil {
		return outcome, err
	}
	if !ready {
		return outcome, nil
	}

	if err := s.checkParentsNotRejected(v.Parents); err != nil {
		return AdmitRejected, err
	}

	s.insert(v, StatusPending)
	s.resolveWaiters(v.ID, now)
	return AdmitPending, nil
}

func (s *Store) missingParents(parents []VertexID) []VertexID {
	var missing []VertexID
	for _, p := range parents {
		if _, _, ok := s.Get(p); !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func (s *Store) checkParentsNotRejected(parents []VertexID) error {
	for _, p := range parents {
		if st, ok := s.Status(p); ok && st == StatusRejected {
			return ErrParentRejected
		}
	}
	return nil
}

// parkIfMissing decides whether v can proceed to insertion or must park,
// holding s.mu across both the missing-parent check and waiter
// registration. This closes a TOCTOU window: a parent admitted by a
// concurrent Submit between an unlocked check and a separately-locked
// registration could run resolveWaiters for that parent before v
// registered itself as a waiter, leaving v parked on an already-satisfied
// parent forever (barring the parking deadline). Since insert writes a
// shard's vertex map under that shard's own lock, and missingParents reads
// it the same way, holding s.mu around both steps here is enough: any
// insert that completed before we check is visible to us directly (no
// need to also win a race against resolveWaiters), and any insert that
// completes after we release the lock will run its resolveWaiters call
// only after acquiring s.mu, by which point our registration is already
// in place.
func (s *Store) parkIfMissing(v *Vertex, now time.Time) (ready bool, outcome AdmitOutcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing := s.missingParents(v.Parents)
	if len(missing) == 0 {
		return true, AdmitPending, nil
	}

	if len(s.parkingByID) >= s.maxParkedVertices {
		return false, AdmitRejected, ErrParkingFull
	}

	p := &parked{
		vertex:   v,
		waiting:  make(map[VertexID]struct{}, len(missing)),
		deadline: now.Add(s.parkingDeadline),
	}
	for _, m := range missing {
		p.waiting[m] = struct{}{}
		s.parkingWait[m] = append(s.parkingWait[m], v.ID)
	}
	s.parkingByID[v.ID] = p
	return false, AdmitParked, nil
}

// resolveWaiters admits any parked vertex whose only missing parent was
// just satisfied by id. Called with no locks held; takes its own lock
// for the parking bookkeeping, then re-enters Submit's insertion path
// for each vertex that becomes admissible.
func (s *Store) resolveWaiters(id VertexID, now time.Time) {
	s.mu.Lock()
	waiters := s.parkingWait[id]
	delete(s.parkingWait, id)
	var ready []*Vertex
	for _, waiterID := range waiters {
		p, ok := s.parkingByID[waiterID]
		if !ok {
			continue
		}
		delete(p.waiting, id)
		if len(p.waiting) == 0 {
			delete(s.parkingByID, waiterID)
			ready = append(ready, p.vertex)
		}
	}
	s.mu.Unlock()

	for _, v := range ready {
		if err := s.checkParentsNotRejected(v.Parents); err != nil {
			s.rejectParked(v.ID, err)
			continue
		}
		s.insert(v, StatusPending)
		s.resolveWaiters(v.ID, now)
	}
}

func (s *Store) rejectParked(id VertexID, cause error) {
	if s.log != nil {
		s.log.Debug("rejecting parked vertex", "id", id, "cause", cause)
	}
}

// SweepParkingDeadlines rejects every parked vertex whose deadline has
// passed as of now, returning their ids.
func (s *Store) SweepParkingDeadlines(now time.Time) []VertexID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []VertexID
	for id, p := range s.parkingByID {
		if now.After(p.deadline) {
			expired = append(expired, id)
			delete(s.parkingByID, id)
			for m := range p.waiting {
				waitlist := s.parkingWait[m]
				for i, w := range waitlist {
					if w == id {
						s.parkingWait[m] = append(waitlist[:i], waitlist[i+1:]...)
						break
					}
				}
			}
		}
	}
	return expired
}

func (s *Store) insert(v *Vertex, status Status) {
	sh := s.shardFor(v.ID)
	sh.mu.Lock()
	sh.vertices[v.ID] = &entry{vertex: v, status: status}
	sh.mu.Unlock()

	for _, p := range v.Parents {
		psh := s.shardFor(p)
		psh.mu.Lock()
		psh.children[p] = append(psh.children[p], v.ID)
		psh.mu.Unlock()
	}

	s.frontierMu.Lock()
	for _, p := range v.Parents {
		delete(s.frontier, p)
	}
	s.frontier[v.ID] = struct{}{}
	s.frontierMu.Unlock()

	s.heightMu.Lock()
	height := s.heightSeq
	s.heightOf[v.ID] = height
	s.byHeight = append(s.byHeight, v.ID)
	s.heightSeq++
	s.heightMu.Unlock()

	if j := s.journalHandle(); j != nil {
		j.OnAdmit(v, height)
	}
}

// Height returns the admission-order height assigned to id. Since a
// vertex is only admitted after all of its parents are, this order is
// always a valid topological sort, which is the only property
// sync needs from "height".
func (s *Store) Height(id VertexID) (uint64, bool) {
	s.heightMu.RLock()
	defer s.heightMu.RUnlock()
	h, ok := s.heightOf[id]
	return h, ok
}

// Count returns how many vertices have been admitted, which is also the
// next height to be assigned.
func (s *Store) Count() uint64 {
	s.heightMu.RLock()
	defer s.heightMu.RUnlock()
	return s.heightSeq
}

// CurrentHeight returns the height of the most recently admitted
// vertex, or 0 if the store is empty.
func (s *Store) CurrentHeight() uint64 {
	s.heightMu.RLock()
	defer s.heightMu.RUnlock()
	if s.heightSeq == 0 {
		return 0
	}
	return s.heightSeq - 1
}

// Between returns the admitted vertices with height in [from, to], in
// topological order, for answering a SyncRequest.
func (s *Store) Between(from, to uint64) []*Vertex {
	s.heightMu.RLock()
	defer s.heightMu.RUnlock()
	if s.heightSeq == 0 {
		return nil
	}
	var out []*Vertex
	if to >= s.heightSeq {
		to = s.heightSeq - 1
	}
	for h := from; h <= to && h < uint64(len(s.byHeight)); h++ {
		if v, _, ok := s.Get(s.byHeight[h]); ok {
			out = append(out, v)
		}
	}
	return out
}

// SetStatus records a consensus status transition for an admitted
// vertex. Callers are responsible for only calling this with monotone
// transitions; the consensus package enforces that invariant.
func (s *Store) SetStatus(id VertexID, status Status) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	e, ok := sh.vertices[id]
	changed := ok && e.status != status
	if changed {
		e.status = status
	}
	sh.mu.Unlock()

	if changed {
		if j := s.journalHandle(); j != nil {
			j.OnStatus(id, status)
		}
	}
}

// Frontier returns the current tip set, sorted for deterministic
// iteration; non-deterministic map order here would leak into tip
// selection and disagree across nodes.
func (s *Store) Frontier() []VertexID {
	s.frontierMu.RLock()
	out := make([]VertexID, 0, len(s.frontier))
	for id := range s.frontier {
		out = append(out, id)
	}
	s.frontierMu.RUnlock()
	return sortIDs(out)
}

// Ancestors returns every ancestor of id reachable through at most
// maxDepth admitted parent links, used by tip selection to verify a
// bounded-depth Final ancestor exists.
func (s *Store) Ancestors(id VertexID, maxDepth int) []VertexID {
	visited := map[VertexID]struct{}{}
	var out []VertexID
	queue := []struct {
		id    VertexID
		depth int
	}{{id, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		v, _, ok := s.Get(cur.id)
		if !ok {
			continue
		}
		for _, p := range v.Parents {
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = struct{}{}
			out = append(out, p)
			queue = append(queue, struct {
				id    VertexID
				depth int
			}{p, cur.depth + 1})
		}
	}
	return sortIDs(out)
}

// Active returns every admitted vertex not yet Final or Rejected, the
// working set the consensus loop keeps sampling on.
func (s *Store) Active() []VertexID {
	var out []VertexID
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, e := range sh.vertices {
			if e.status == StatusPending || e.status == StatusPreferred {
				out = append(out, id)
			}
		}
		sh.mu.RUnlock()
	}
	return sortIDs(out)
}

// HasFinalAncestorWithin reports whether any ancestor of id within
// maxDepth hops is Final.
func (s *Store) HasFinalAncestorWithin(id VertexID, maxDepth int) bool {
	for _, a := range s.Ancestors(id, maxDepth) {
		if st, ok := s.Status(a); ok && st == StatusFinal {
			return true
		}
	}
	return false
}

// ids.Empty is re-exported for callers identifying the genesis parent
// placeholder without importing github.com/luxfi/ids directly.
var Empty = ids.Empty
