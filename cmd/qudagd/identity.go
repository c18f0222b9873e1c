package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/luxfi/ids"
	"github.com/mr-tron/base58"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/engine"
)

// identityFile is the on-disk, base58-encoded form of an Engine
// Identity, following the darkresolver package's convention of
// base58-encoding key material for anything that crosses a file or
// wire boundary meant to be human-copyable.
type identityFile struct {
	PeerID    string `json:"peer_id"`
	DSAPublic string `json:"dsa_public"`
	DSASecret string `json:"dsa_secret"`
	KEMPublic string `json:"kem_public"`
	KEMSecret string `json:"kem_secret"`
	Locator   string `json:"locator"`
}

// generateIdentity creates a fresh keypair and node id for locator. The
// KEM secret is kept (not just the public key): a node must be able to
// decapsulate onion layers addressed to it when acting as a relay,
// not only encapsulate outbound transport handshakes.
func generateIdentity(locator string) (engine.Identity, error) {
	dsaPub, dsaSec, err := pq.DSAKeyGen()
	if err != nil {
		return engine.Identity{}, fmt.Errorf("qudagd: dsa keygen: %w", err)
	}
	kemPub, kemSec, err := pq.KEMKeyGen()
	if err != nil {
		return engine.Identity{}, fmt.Errorf("qudagd: kem keygen: %w", err)
	}
	fp := pq.Fingerprint(dsaPub, locator, nil)
	self, err := ids.ToNodeID(fp[:20])
	if err != nil {
		return engine.Identity{}, err
	}
	return engine.Identity{
		Self:      self,
		DSAPublic: dsaPub,
		DSASecret: dsaSec,
		KEMPublic: kemPub,
		KEMSecret: kemSec,
		Locator:   locator,
	}, nil
}

// saveIdentity writes id to path as JSON with base58-encoded key
// material, refusing to clobber an existing file (a node's identity is
// its network address; overwriting it silently would orphan every peer
// table entry pointing at it).
func saveIdentity(path string, id engine.Identity) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("qudagd: %s already exists, refusing to overwrite", path)
	}
	out := identityFile{
		PeerID:    base58.Encode(id.Self[:]),
		DSAPublic: base58.Encode(id.DSAPublic),
		DSASecret: base58.Encode(id.DSASecret),
		KEMPublic: base58.Encode(id.KEMPublic),
		KEMSecret: base58.Encode(id.KEMSecret),
		Locator:   id.Locator,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// loadIdentity reads an identity previously written by saveIdentity.
func loadIdentity(path string) (engine.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Identity{}, fmt.Errorf("qudagd: read %s: %w", path, err)
	}
	var in identityFile
	if err := json.Unmarshal(data, &in); err != nil {
		return engine.Identity{}, fmt.Errorf("qudagd: parse %s: %w", path, err)
	}
	peerIDBytes, err := base58.Decode(in.PeerID)
	if err != nil {
		return engine.Identity{}, err
	}
	self, err := ids.ToNodeID(peerIDBytes)
	if err != nil {
		return engine.Identity{}, err
	}
	dsaPub, err := base58.Decode(in.DSAPublic)
	if err != nil {
		return engine.Identity{}, err
	}
	dsaSec, err := base58.Decode(in.DSASecret)
	if err != nil {
		return engine.Identity{}, err
	}
	kemPub, err := base58.Decode(in.KEMPublic)
	if err != nil {
		return engine.Identity{}, err
	}
	kemSec, err := base58.Decode(in.KEMSecret)
	if err != nil {
		return engine.Identity{}, err
	}
	return engine.Identity{
		Self:      self,
		DSAPublic: pq.DSAPublicKey(dsaPub),
		DSASecret: pq.DSAPrivateKey(dsaSec),
		KEMPublic: pq.KEMPublicKey(kemPub),
		KEMSecret: pq.KEMPrivateKey(kemSec),
		Locator:   in.Locator,
	}, nil
}
