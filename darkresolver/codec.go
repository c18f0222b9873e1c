package darkresolver

import "github.com/qudag/qudag/wire"

// encodeRecord/decodeRecord serialize a full Record (including its
// signature) for DHT storage, reusing the canonical codec rather than a
// bespoke format.
func encodeRecord(r *Record) []byte {
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
	e.PutBytes(r.Signature)
	e.PutUint32(uint32(len(r.Metadata)))
	for k, v := range r.Metadata {
		e.PutString(k)
		e.PutString(v)
	}
	return e.Bytes()
}

func decodeRecord(b []byte) (*Record, error) {
	d := wire.NewDecoder(b)
	signingPub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	encPub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	addrCount, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	addresses := make([]string, addrCount)
	for i := range addresses {
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		addresses[i] = s
	}
	alias, err := d.String()
	if err != nil {
		return nil, err
	}
	ttl, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	registeredAt, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	expiresAt, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	ownerBytes, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	var owner [20]byte
	copy(owner[:], ownerBytes)
	signature, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	metaCount, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	metadata := make(map[string]string, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		k, err := d.String()
		if err != nil {
			return nil, err
		}
		v, err := d.String()
		if err != nil {
			return nil, err
		}
		metadata[k] = v
	}

	return &Record{
		SigningPublicKey:    signingPub,
		EncryptionPublicKey: encPub,
		Addresses:           addresses,
		Alias:               alias,
		TTL:                 ttl,
		RegisteredAt:        registeredAt,
		ExpiresAt:           expiresAt,
		OwnerID:             owner,
		Signature:           signature,
		Metadata:            metadata,
	}, nil
}
