package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandshakeAndEncryptedRoundTrip(t *testing.T) {
	clientKeys, err := GenerateKeyPair()
	require.NoError(t, err)
	serverKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientSession := NewSession(clientKeys, false)
	serverSession := NewSession(serverKeys, true)

	errCh := make(chan error, 2)
	go func() { errCh <- clientSession.Handshake(clientRaw, 5*time.Second) }()
	go func() { errCh <- serverSession.Handshake(serverRaw, 5*time.Second) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	plaintext := []byte("hello across a post-quantum channel")
	ct, err := clientSession.Encrypt(plaintext)
	require.NoError(t, err)

	pt, err := serverSession.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)

	require.True(t, clientSession.IsPostQuantum())
	require.True(t, serverSession.IsPostQuantum())
	require.Equal(t, clientSession.HandshakeNonce(), serverSession.HandshakeNonce())
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	clientKeys, err := GenerateKeyPair()
	require.NoError(t, err)
	serverKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientSession := NewSession(clientKeys, false)
	serverSession := NewSession(serverKeys, true)

	errCh := make(chan error, 2)
	go func() { errCh <- clientSession.Handshake(clientRaw, 5*time.Second) }()
	go func() { errCh <- serverSession.Handshake(serverRaw, 5*time.Second) }()
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	ct, err := clientSession.Encrypt([]byte("payload"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF

	_, err = serverSession.Decrypt(ct)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestConnDialAcceptOverTCP(t *testing.T) {
	serverKeys, err := GenerateKeyPair()
	require.NoError(t, err)
	clientKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	ln, err := Listen("127.0.0.1:0", serverKeys, 5*time.Second)
	require.NoError(t, err)
	defer ln.Close()

	acceptErr := make(chan error, 1)
	var serverConn *Conn
	go func() {
		c, err := ln.Accept()
		serverConn = c
		acceptErr <- err
	}()

	clientConn, err := Dial(ln.Addr().String(), clientKeys, 5*time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, <-acceptErr)
	defer serverConn.Close()

	require.NoError(t, clientConn.Send([]byte("ping")))
	msg, err := serverConn.Receive()
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), msg)
}

func TestDialWebRTCUnavailable(t *testing.T) {
	_, err := DialWebRTC("any", nil)
	require.ErrorIs(t, err, ErrWebRTCUnavailable)
}
