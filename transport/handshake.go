package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/qudag/qudag/crypto/pq"
	"github.com/qudag/qudag/wire"
)

type handshakeTag uint8

const (
	msgClientHello handshakeTag = iota + 1
	msgServerHello
	msgClientKey
)

const maxHandshakeMsgSize = 16 * 1024

// writeHandshakeMsg frames a handshake payload as {u32 length, u8 tag,
// payload}, matching the channel framing used on established
// connections.
func writeHandshakeMsg(w io.Writer, tag handshakeTag, payload []byte) error {
	header := make([]byte, 5)
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = byte(tag)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readHandshakeMsg(r io.Reader, want handshakeTag) ([]byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("transport: read handshake header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[:4])
	if length > maxHandshakeMsgSize {
		return nil, fmt.Errorf("transport: handshake message too large (%d bytes)", length)
	}
	got := handshakeTag(header[4])
	if got != want {
		return nil, fmt.Errorf("transport: unexpected handshake message %d, want %d", got, want)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("transport: read handshake payload: %w", err)
	}
	return payload, nil
}

type clientHello struct {
	Version      uint8
	X25519Public []byte
	MLKEMPublic  pq.KEMPublicKey
	raw          []byte
}

func (c *clientHello) encode() []byte {
	var e wire.Encoder
	e.PutUint8(c.Version)
	e.PutBytes(c.X25519Public)
	e.PutBytes(c.MLKEMPublic)
	b := e.Bytes()
	c.raw = b
	return b
}

func decodeClientHello(b []byte) (*clientHello, error) {
	d := wire.NewDecoder(b)
	version, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	x25519pub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	kemPub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return &clientHello{Version: version, X25519Public: x25519pub, MLKEMPublic: pq.KEMPublicKey(kemPub), raw: b}, nil
}

type serverHello struct {
	Version      uint8
	X25519Public []byte
	MLKEMPublic  pq.KEMPublicKey
	raw          []byte
}

func (s *serverHello) encode() []byte {
	var e wire.Encoder
	e.PutUint8(s.Version)
	e.PutBytes(s.X25519Public)
	e.PutBytes(s.MLKEMPublic)
	b := e.Bytes()
	s.raw = b
	return b
}

func decodeServerHello(b []byte) (*serverHello, error) {
	d := wire.NewDecoder(b)
	version, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	x25519pub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	kemPub, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return &serverHello{Version: version, X25519Public: x25519pub, MLKEMPublic: pq.KEMPublicKey(kemPub), raw: b}, nil
}

type clientKey struct {
	KEMCiphertext []byte
}

func (c *clientKey) encode() []byte {
	var e wire.Encoder
	e.PutBytes(c.KEMCiphertext)
	return e.Bytes()
}

func decodeClientKey(b []byte) (*clientKey, error) {
	d := wire.NewDecoder(b)
	ct, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return &clientKey{KEMCiphertext: ct}, nil
}
