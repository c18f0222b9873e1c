package darkresolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/qudag/qudag/crypto/pq"
)

// DhtClient is the distributed storage backend for records that should
// outlive a single process, translated one-for-one from the original's
// DhtClient trait.
type DhtClient interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	Remove(key []byte) error
}

// AddressBookEntry associates a human-readable name with a dark
// address, per the original's address-book supplement.
type AddressBookEntry struct {
	Name        string
	DarkAddress Address
	Notes       string
	AddedAt     uint64
}

// Resolver manages .dark domain registrations and lookups: a local
// cache backed by an optional DHT, an address book for human-readable
// names, and a reverse lookup from dark address to domain.
type Resolver struct {
	mu            sync.RWMutex
	domains       map[string]*Record
	addressBook   map[string]*AddressBookEntry
	reverseLookup map[string]string

	dht DhtClient
	now func() time.Time
}

// New returns a Resolver with no DHT backing (local-only).
func New() *Resolver {
	return newResolver(nil)
}

// NewWithDHT returns a Resolver that falls back to dht on a local cache
// miss and mirrors writes to it.
func NewWithDHT(dht DhtClient) *Resolver {
	return newResolver(dht)
}

func newResolver(dht DhtClient) *Resolver {
	return &Resolver{
		domains:       make(map[string]*Record),
		addressBook:   make(map[string]*AddressBookEntry),
		reverseLookup: make(map[string]string),
		dht:           dht,
		now:           time.Now,
	}
}

func domainToDhtKey(domain string) [32]byte {
	return pq.Hash(append([]byte("dark_domain:"), []byte(domain)...))
}

// Register generates signing + encryption keypairs, derives the .dark
// label, signs and stores the record locally and in the DHT if present.
// customName may be empty to derive the label from the address itself.
func (r *Resolver) Register(customName string, addresses []string, alias string, ttl uint32, owner ids.NodeID) (*Address, error) {
	signingPub, signingSec, err := pq.DSAKeyGen()
	if err != nil {
		return nil, err
	}
	encPub, _, err := pq.KEMKeyGen()
	if err != nil {
		return nil, err
	}

	darkAddr, err := GenerateDarkAddress(signingPub, customName)
	if err != nil {
		return nil, err
	}
	if !IsValidDarkDomain(darkAddr.Domain) {
		return nil, ErrInvalidDomain
	}

	record, err := NewRecord(signingPub, signingSec, encPub, addresses, alias, ttl, owner, r.now())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.domains[darkAddr.Domain]; exists {
		r.mu.Unlock()
		return nil, ErrDomainExists
	}
	r.domains[darkAddr.Domain] = record
	r.reverseLookup[darkAddr.Address] = darkAddr.Domain
	r.mu.Unlock()

	if r.dht != nil {
		key := domainToDhtKey(darkAddr.Domain)
		if err := r.dht.Put(key[:], encodeRecord(record)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDhtError, err)
		}
	}

	return darkAddr, nil
}

// Lookup resolves domain to its record: local cache first, then the DHT
// on a miss. Expired or unverifiable records are rejected.
func (r *Resolver) Lookup(domain string) (*Record, error) {
	if !IsValidDarkDomain(domain) {
		return nil, ErrInvalidDomain
	}

	r.mu.RLock()
	record, ok := r.domains[domain]
	r.mu.RUnlock()
	if ok {
		return r.validateCached(record)
	}

	if r.dht == nil {
		return nil, ErrDomainNotFound
	}
	key := domainToDhtKey(domain)
	raw, found, err := r.dht.Get(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDhtError, err)
	}
	if !found {
		return nil, ErrDomainNotFound
	}
	record, err = decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDhtError, err)
	}
	if record.IsExpired(r.now()) {
		return nil, ErrDomainExpired
	}
	if !record.VerifySignature() {
		return nil, ErrInvalidSignature
	}

	r.mu.Lock()
	r.domains[domain] = record
	r.mu.Unlock()
	return record, nil
}

func (r *Resolver) validateCached(record *Record) (*Record, error) {
	if record.IsExpired(r.now()) {
		return nil, ErrDomainExpired
	}
	if !record.VerifySignature() {
		return nil, ErrInvalidSignature
	}
	return record, nil
}

// ResolveAddresses returns the network addresses for domain.
func (r *Resolver) ResolveAddresses(domain string) ([]string, error) {
	record, err := r.Lookup(domain)
	if err != nil {
		return nil, err
	}
	return record.Addresses, nil
}

// Update replaces domain's record, requiring the new record to carry
// the same signing public key as the existing one: ownership is proven
// by keyholding, not a separate ACL.
func (r *Resolver) Update(domain string, record *Record) error {
	if !record.VerifySignature() {
		return ErrInvalidSignature
	}
	existing, err := r.Lookup(domain)
	if err != nil {
		return err
	}
	if string(existing.SigningPublicKey) != string(record.SigningPublicKey) {
		return ErrInvalidSignature
	}

	r.mu.Lock()
	r.domains[domain] = record
	r.mu.Unlock()

	if r.dht != nil {
		key := domainToDhtKey(domain)
		if err := r.dht.Put(key[:], encodeRecord(record)); err != nil {
			return fmt.Errorf("%w: %v", ErrDhtError, err)
		}
	}
	return nil
}

// CleanupExpired removes every expired domain from the local cache,
// the reverse lookup table, and (if present) the DHT. Returns the count
// removed.
func (r *Resolver) CleanupExpired() int {
	now := r.now()
	r.mu.Lock()
	var expired []string
	for domain, record := range r.domains {
		if record.IsExpired(now) {
			expired = append(expired, domain)
		}
	}
	removed := make([]*Record, 0, len(expired))
	for _, domain := range expired {
		removed = append(removed, r.domains[domain])
		delete(r.domains, domain)
	}
	r.mu.Unlock()

	for i, domain := range expired {
		record := removed[i]
		addr, err := GenerateDarkAddress(record.SigningPublicKey, "")
		if err == nil {
			r.mu.Lock()
			delete(r.reverseLookup, addr.Address)
			r.mu.Unlock()
		}
		if r.dht != nil {
			key := domainToDhtKey(domain)
			_ = r.dht.Remove(key[:])
		}
	}
	return len(expired)
}

// AddToAddressBook stores a human-readable name for a dark address.
func (r *Resolver) AddToAddressBook(name string, addr Address, notes string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addressBook[name] = &AddressBookEntry{Name: name, DarkAddress: addr, Notes: notes, AddedAt: uint64(r.now().Unix())}
}

// LookupAddressBook finds an address book entry by name.
func (r *Resolver) LookupAddressBook(name string) (*AddressBookEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.addressBook[name]
	if !ok {
		return nil, ErrDomainNotFound
	}
	return entry, nil
}

// ListAddressBook returns every stored entry.
func (r *Resolver) ListAddressBook() []*AddressBookEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AddressBookEntry, 0, len(r.addressBook))
	for _, e := range r.addressBook {
		out = append(out, e)
	}
	return out
}

// ReverseLookup finds the domain registered for a dark address, if any.
func (r *Resolver) ReverseLookup(address string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	domain, ok := r.reverseLookup[address]
	return domain, ok
}
