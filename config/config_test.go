package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qudag/qudag/onion"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Verify())
}

func TestLocalIsValid(t *testing.T) {
	require.NoError(t, Local().Verify())
}

func TestTestnetIsValid(t *testing.T) {
	require.NoError(t, Testnet().Verify())
}

func TestVerifyRejectsBadAlpha(t *testing.T) {
	p := Default()
	p.Alpha = p.K / 2
	require.ErrorIs(t, p.Verify(), ErrInvalidAlpha)
}

func TestVerifyRejectsEmptySizeLadder(t *testing.T) {
	p := Default()
	p.SizeLadder = nil
	require.ErrorIs(t, p.Verify(), ErrInvalidSizeLadder)
}

func TestVerifyRejectsUnsortedSizeLadder(t *testing.T) {
	p := Default()
	p.SizeLadder = []int{1024, 512}
	require.ErrorIs(t, p.Verify(), ErrInvalidSizeLadder)
}

func TestVerifyRejectsZeroEMALambda(t *testing.T) {
	p := Default()
	p.EMALambda = 0
	require.ErrorIs(t, p.Verify(), ErrInvalidEMALambda)
}

func TestVerifyRejectsZeroReputationAlpha(t *testing.T) {
	p := Default()
	p.ReputationAlpha = 0
	require.ErrorIs(t, p.Verify(), ErrInvalidRepAlpha)
}

func TestVerifyRejectsReputationOutOfRange(t *testing.T) {
	p := Default()
	p.MinPeerReputation = 1.5
	require.ErrorIs(t, p.Verify(), ErrInvalidReputation)
}

func TestVerifyRejectsNegativeOnionGossipHops(t *testing.T) {
	p := Default()
	p.OnionGossipHops = -1
	require.ErrorIs(t, p.Verify(), ErrInvalidOnionHops)
}

func TestVerifyRejectsOnionGossipHopsAboveMax(t *testing.T) {
	p := Default()
	p.OnionGossipHops = onion.MaxHops + 1
	require.ErrorIs(t, p.Verify(), ErrInvalidOnionHops)
}

func TestVerifyRejectsFingerprintThresholdOutOfRange(t *testing.T) {
	p := Default()
	p.OnionFingerprintThreshold = 257
	require.ErrorIs(t, p.Verify(), ErrInvalidFingerprintThresh)

	p2 := Default()
	p2.OnionFingerprintThreshold = -1
	require.ErrorIs(t, p2.Verify(), ErrInvalidFingerprintThresh)
}
