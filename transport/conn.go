package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const maxFrameSize = 16 * 1024 * 1024

// Conn is an established, post-quantum secured message stream: every
// Send/Receive is one AEAD-sealed frame over the underlying net.Conn.
type Conn struct {
	raw     net.Conn
	session *Session

	BytesSent uint64
	BytesRecv uint64
}

// Dial connects to addr over TCP and performs the client side of the
// hybrid handshake.
func Dial(addr string, local *KeyPair, timeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	session := NewSession(local, false)
	if err := session.Handshake(raw, timeout); err != nil {
		raw.Close()
		return nil, err
	}
	return &Conn{raw: raw, session: session}, nil
}

// Accept performs the server side of the handshake over an already
// accepted net.Conn (see Listener.Accept).
func Accept(raw net.Conn, local *KeyPair, timeout time.Duration) (*Conn, error) {
	session := NewSession(local, true)
	if err := session.Handshake(raw, timeout); err != nil {
		raw.Close()
		return nil, err
	}
	return &Conn{raw: raw, session: session}, nil
}

// Send seals and frames plaintext as {u32 length, ciphertext}.
func (c *Conn) Send(plaintext []byte) error {
	ct, err := c.session.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if len(ct) > maxFrameSize {
		return fmt.Errorf("transport: outgoing frame too large (%d bytes)", len(ct))
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(ct)))
	if _, err := c.raw.Write(header); err != nil {
		return err
	}
	if _, err := c.raw.Write(ct); err != nil {
		return err
	}
	c.BytesSent += uint64(len(ct))
	return nil
}

// Receive reads and opens the next frame.
func (c *Conn) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.raw, header); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header)
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: incoming frame too large (%d bytes)", n)
	}
	ct := make([]byte, n)
	if _, err := io.ReadFull(c.raw, ct); err != nil {
		return nil, err
	}
	c.BytesRecv += uint64(len(ct))
	return c.session.Decrypt(ct)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// RemoteAddr returns the underlying network peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// IsPostQuantum reports whether the session includes the ML-KEM leg
// (always true for sessions created through Dial/Accept).
func (c *Conn) IsPostQuantum() bool { return c.session.IsPostQuantum() }

// HandshakeNonce returns this connection's transcript-derived nonce (see
// Session.HandshakeNonce), used to bind the application-level Hello
// exchange to this connection instance.
func (c *Conn) HandshakeNonce() []byte { return c.session.HandshakeNonce() }

// Listener accepts TCP connections and completes the server-side
// handshake before handing back a usable Conn.
type Listener struct {
	ln    net.Listener
	local *KeyPair
	hsTO  time.Duration
}

// Listen binds addr and returns a Listener.
func Listen(addr string, local *KeyPair, handshakeTimeout time.Duration) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, local: local, hsTO: handshakeTimeout}, nil
}

// Accept blocks for the next inbound connection and completes its
// handshake.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return Accept(raw, l.local, l.hsTO)
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
