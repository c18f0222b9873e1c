package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/crypto/pq"
)

func TestHandshakeRoundTrip(t *testing.T) {
	aID := randomPeerID(t)
	bID := randomPeerID(t)

	aDSAPub, aDSASec, err := pq.DSAKeyGen()
	require.NoError(t, err)
	bDSAPub, bDSASec, err := pq.DSAKeyGen()
	require.NoError(t, err)

	aKEMPub, _, err := pq.KEMKeyGen()
	require.NoError(t, err)
	bKEMPub, _, err := pq.KEMKeyGen()
	require.NoError(t, err)

	nonce := []byte("shared-channel-nonce")

	aHello, err := BuildHello(aID, aDSAPub, aDSASec, aKEMPub, "10.0.0.1:9000", nonce)
	require.NoError(t, err)
	bHello, err := BuildHello(bID, bDSAPub, bDSASec, bKEMPub, "10.0.0.2:9000", nonce)
	require.NoError(t, err)

	aToB := make(chan Hello, 1)
	bToA := make(chan Hello, 1)
	aEx := &channelExchanger{send: aToB, recv: bToA}
	bEx := &channelExchanger{send: bToA, recv: aToB}

	var aInfo, bInfo *Info
	var aErr, bErr error
	done := make(chan struct{}, 2)
	go func() {
		aInfo, aErr = CompleteHandshake(aEx, aHello, nonce, time.Second, time.Now())
		done <- struct{}{}
	}()
	go func() {
		bInfo, bErr = CompleteHandshake(bEx, bHello, nonce, time.Second, time.Now())
		done <- struct{}{}
	}()
	<-done
	<-done

	require.NoError(t, aErr)
	require.NoError(t, bErr)
	require.Equal(t, bID, aInfo.PeerID)
	require.Equal(t, aID, bInfo.PeerID)
}

func TestHandshakeRejectsTamperedSignature(t *testing.T) {
	aID := randomPeerID(t)
	aDSAPub, aDSASec, err := pq.DSAKeyGen()
	require.NoError(t, err)
	aKEMPub, _, err := pq.KEMKeyGen()
	require.NoError(t, err)

	nonce := []byte("nonce")
	hello, err := BuildHello(aID, aDSAPub, aDSASec, aKEMPub, "loc", nonce)
	require.NoError(t, err)
	hello.Signature[0] ^= 0xFF

	require.False(t, hello.Verify(nonce))
}

func TestHandshakeRejectsWrongNonce(t *testing.T) {
	aID := randomPeerID(t)
	aDSAPub, aDSASec, err := pq.DSAKeyGen()
	require.NoError(t, err)
	aKEMPub, _, err := pq.KEMKeyGen()
	require.NoError(t, err)

	hello, err := BuildHello(aID, aDSAPub, aDSASec, aKEMPub, "loc", []byte("nonce-a"))
	require.NoError(t, err)
	require.False(t, hello.Verify([]byte("nonce-b")))
}

type channelExchanger struct {
	send chan<- Hello
	recv <-chan Hello
}

func (c *channelExchanger) Send(h Hello) error {
	c.send <- h
	return nil
}

func (c *channelExchanger) Receive() (Hello, error) {
	return <-c.recv, nil
}
