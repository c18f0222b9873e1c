package pq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKEMRoundTrip(t *testing.T) {
	pk, sk, err := KEMKeyGen()
	require.NoError(t, err)
	require.Len(t, pk, KEMPublicKeySize)
	require.Len(t, sk, KEMPrivateKeySize)

	ct, ss, err := KEMEncapsulate(pk)
	require.NoError(t, err)
	require.Len(t, ct, KEMCiphertextSize)
	require.Len(t, ss, KEMSharedKeySize)

	got, err := KEMDecapsulate(sk, ct)
	require.NoError(t, err)
	require.Equal(t, ss, got)
}

func TestKEMTamperedCiphertextDoesNotMatch(t *testing.T) {
	pk, sk, err := KEMKeyGen()
	require.NoError(t, err)
	ct, ss, err := KEMEncapsulate(pk)
	require.NoError(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF

	got, err := KEMDecapsulate(sk, tampered)
	require.NoError(t, err)
	require.NotEqual(t, ss, got)
}

func TestKEMWrongKeyFails(t *testing.T) {
	pk1, _, err := KEMKeyGen()
	require.NoError(t, err)
	_, sk2, err := KEMKeyGen()
	require.NoError(t, err)

	ct, ss, err := KEMEncapsulate(pk1)
	require.NoError(t, err)

	got, err := KEMDecapsulate(sk2, ct)
	require.NoError(t, err)
	require.NotEqual(t, ss, got)
}

func TestDSASignVerify(t *testing.T) {
	pk, sk, err := DSAKeyGen()
	require.NoError(t, err)

	msg := []byte("qudag vertex canonical bytes")
	sig, err := DSASign(sk, msg)
	require.NoError(t, err)
	require.True(t, DSAVerify(pk, msg, sig))
}

func TestDSAVerifyRejectsTamperedMessage(t *testing.T) {
	pk, sk, err := DSAKeyGen()
	require.NoError(t, err)

	msg := []byte("original")
	sig, err := DSASign(sk, msg)
	require.NoError(t, err)

	require.False(t, DSAVerify(pk, []byte("tampered"), sig))
}

func TestDSAVerifyRejectsTamperedSignature(t *testing.T) {
	pk, sk, err := DSAKeyGen()
	require.NoError(t, err)

	msg := []byte("original")
	sig, err := DSASign(sk, msg)
	require.NoError(t, err)

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	require.False(t, DSAVerify(pk, msg, tampered))
}

func TestHashDeterministic(t *testing.T) {
	data := []byte("deterministic input")
	require.Equal(t, Hash(data), Hash(data))
}

func TestKeyedHashDiffersByKey(t *testing.T) {
	data := []byte("same message")
	k1 := Hash([]byte("key one"))
	k2 := Hash([]byte("key two"))
	require.NotEqual(t, KeyedHash(k1, data), KeyedHash(k2, data))
}

func TestFingerprintDomainSeparated(t *testing.T) {
	pub := []byte("pubkey-bytes")
	fp1 := Fingerprint(pub, "10.0.0.1:8080", []string{"relay"})
	fp2 := Fingerprint(pub, "10.0.0.1:8080", []string{"exit"})
	require.NotEqual(t, fp1, fp2)
}
