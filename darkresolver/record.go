// Package darkresolver implements .dark domain registration and
// lookup: self-signed, TTL-bounded records bound to a BLAKE3-derived
// base58 address, stored locally and through a pluggable DHT client
// interface. Records are signed with ML-DSA (crypto/pq); addresses are
// encoded with github.com/mr-tron/base58.
package darkresolver

import (
	"errors"
	"time"

	"github.com/luxfi/ids"
	"github.com/mr-tron/base58"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/wire"
)

// Error taxonomy matches DarkResolverError one-for-one.
var (
	ErrDomainExists     = errors.New("darkresolver: domain already registered")
	ErrDomainNotFound   = errors.New("darkresolver: domain not found")
	ErrDomainExpired    = errors.New("darkresolver: domain has expired")
	ErrInvalidDomain    = errors.New("darkresolver: invalid domain name format")
	ErrInvalidSignature = errors.New("darkresolver: invalid signature")
	ErrDhtError         = errors.New("darkresolver: dht operation failed")
)

// Record is a resolved dark domain entry with quantum-resistant
// signatures, mirroring DarkDomainRecord.
type Record struct {
	SigningPublicKey    pq.DSAPublicKey
	EncryptionPublicKey pq.KEMPublicKey
	Addresses           []string
	Alias               string
	TTL                 uint32
	RegisteredAt        uint64
	ExpiresAt           uint64
	OwnerID             ids.NodeID
	Signature           pq.Signature
	Metadata            map[string]string
}

// signableBytes canonically encodes every field except Signature,
// matching to_signable_bytes's field order.
func (r *Record) signableBytes() []byte {
	var e wire.Encoder
	e.PutBytes(r.SigningPublicKey)
	e.PutBytes(r.EncryptionPublicKey)
	e.PutUint32(uint32(len(r.Addresses)))
	for _, a := range r.Addresses {
		e.PutString(a)
	}
	e.PutString(r.Alias)
	e.PutUint32(r.TTL)
	e.PutUint64(r.RegisteredAt)
	e.PutUint64(r.ExpiresAt)
	e.PutBytes(r.OwnerID[:])
	return e.Bytes()
}

// NewRecord builds and signs a fresh record, setting timestamps from
// now.
func NewRecord(signingPub pq.DSAPublicKey, signingSec pq.DSAPrivateKey, encPub pq.KEMPublicKey, addresses []string, alias string, ttl uint32, owner ids.NodeID, now time.Time) (*Record, error) {
	r := &Record{
		SigningPublicKey:    signingPub,
		EncryptionPublicKey: encPub,
		Addresses:           addresses,
		Alias:               alias,
		TTL:                 ttl,
		RegisteredAt:        uint64(now.Unix()),
		ExpiresAt:           uint64(now.Unix()) + uint64(ttl),
		OwnerID:             owner,
		Metadata:            map[string]string{},
	}
	sig, err := pq.DSASign(signingSec, r.signableBytes())
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	return r, nil
}

// VerifySignature reports whether the record's signature is valid
// under its own embedded signing key.
func (r *Record) VerifySignature() bool {
	return pq.DSAVerify(r.SigningPublicKey, r.signableBytes(), r.Signature)
}

// IsExpired reports whether now has reached ExpiresAt. A record is only
// live while now < ExpiresAt, so the boundary instant counts as expired.
func (r *Record) IsExpired(now time.Time) bool {
	return uint64(now.Unix()) >= r.ExpiresAt
}

// Address is a dark address derived from an ML-DSA public key: a
// base58-encoded 20-byte hash plus the full ".dark" domain name.
type Address struct {
	Address string
	Domain  string
}

// GenerateDarkAddress derives the address the way
// generate_dark_address does: BLAKE3("dark_address_v1" || pubkey),
// first 20 bytes, base58-encoded. If customName is empty, the domain's
// subdomain label is the lowercased first 8 characters of the address.
func GenerateDarkAddress(publicKey pq.DSAPublicKey, customName string) (*Address, error) {
	full := pq.Hash(append([]byte("dark_address_v1"), publicKey...))
	addrBytes := full[:20]
	address := base58.Encode(addrBytes)

	var domain string
	if customName != "" {
		if !isValidCustomName(customName) {
			return nil, ErrInvalidDomain
		}
		domain = customName + ".dark"
	} else {
		label := address
		if len(label) > 8 {
			label = label[:8]
		}
		domain = lower(label) + ".dark"
	}
	return &Address{Address: address, Domain: domain}, nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isValidCustomName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return false
	}
	for _, c := range name {
		if !isAlphaNumeric(c) && c != '-' {
			return false
		}
	}
	return true
}

func isAlphaNumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// IsValidDarkDomain validates full domain name syntax: ends
// ".dark", subdomain 3..=63 chars, alphanumeric plus hyphen, no
// leading/trailing hyphen, no double hyphen.
func IsValidDarkDomain(domain string) bool {
	const suffix = ".dark"
	if len(domain) <= len(suffix) || domain[len(domain)-len(suffix):] != suffix {
		return false
	}
	subdomain := domain[:len(domain)-len(suffix)]
	if len(subdomain) < 3 || len(subdomain) > 63 {
		return false
	}
	if subdomain[0] == '-' || subdomain[len(subdomain)-1] == '-' {
		return false
	}
	prevHyphen := false
	for _, c := range subdomain {
		if c == '-' {
			if prevHyphen {
				return false
			}
			prevHyphen = true
			continue
		}
		prevHyphen = false
		if !isAlphaNumeric(c) {
			return false
		}
	}
	return true
}
