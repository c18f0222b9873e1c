// Package config defines the tunable parameters for every layer of the
// consensus and networking core, along with validation and environment
// presets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qudag/qudag/onion"
)

// Sentinel validation errors, one per malformed field, in the style of
// sampling.ErrInvalidK and friends.
var (
	ErrInvalidK              = errors.New("config: k must be positive")
	ErrInvalidAlpha          = errors.New("config: alpha must be in (k/2, k]")
	ErrInvalidBeta           = errors.New("config: beta must be positive")
	ErrInvalidThetaFinal     = errors.New("config: theta_final must be in (0, 1]")
	ErrInvalidTimeout        = errors.New("config: timeouts must be positive")
	ErrInvalidEMALambda      = errors.New("config: ema_lambda must be in (0, 1]")
	ErrInvalidRepAlpha       = errors.New("config: reputation_alpha must be in (0, 1]")
	ErrInvalidMaxParents     = errors.New("config: max_parents must be positive")
	ErrInvalidSizeLadder     = errors.New("config: size_ladder must be strictly increasing and non-empty")
	ErrInvalidReputation     = errors.New("config: min_peer_reputation must be in [0, 1]")
	ErrInvalidBatch          = errors.New("config: mix_batch_size must be positive")
	ErrInvalidDummyRatio     = errors.New("config: dummy_traffic_ratio must be in [0, 1]")
	ErrInvalidSyncBatch      = errors.New("config: sync_batch_size must be positive")
	ErrInvalidConcurrentQ    = errors.New("config: max_concurrent_queries must be positive")
	ErrInvalidMaxMessageSize = errors.New("config: max_message_size must be positive")
	ErrInvalidOnionHops      = errors.New("config: onion_gossip_hops must be between 0 and onion.MaxHops")
	ErrInvalidFingerprintThresh = errors.New("config: onion_fingerprint_threshold must be in [0, 256]")
)

// ObfuscationPattern names a protocol the onion router may disguise
// outgoing frames as.
type ObfuscationPattern string

const (
	ObfuscationNone      ObfuscationPattern = ""
	ObfuscationHTTP      ObfuscationPattern = "http"
	ObfuscationTLS       ObfuscationPattern = "tls"
	ObfuscationWebSocket ObfuscationPattern = "websocket"
	ObfuscationDNS       ObfuscationPattern = "dns"
)

// Profile maps the configured obfuscation pattern to the onion
// package's tagged-variant representation, so callers outside config
// never need their own copy of this switch.
func (p ObfuscationPattern) Profile() onion.Profile {
	switch p {
	case ObfuscationHTTP:
		return onion.ProfileHTTP
	case ObfuscationTLS:
		return onion.ProfileTLS
	case ObfuscationWebSocket:
		return onion.ProfileWebSocket
	case ObfuscationDNS:
		return onion.ProfileDNS
	default:
		return onion.ProfileNone
	}
}

// DefaultSizeLadder is the published size-normalization tier table.
var DefaultSizeLadder = []int{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// Parameters collects every recognized configuration option of the node
// in one validated struct.
type Parameters struct {
	// QR-Avalanche consensus
	K          int           `json:"k" yaml:"k"`
	Alpha      int           `json:"alpha" yaml:"alpha"`
	Beta       int           `json:"beta" yaml:"beta"`
	ThetaFinal float64       `json:"theta_final" yaml:"theta_final"`
	QueryTO    time.Duration `json:"query_timeout" yaml:"query_timeout"`
	MaxRoundTO time.Duration `json:"max_consensus_time" yaml:"max_consensus_time"`
	EMALambda  float64       `json:"ema_lambda" yaml:"ema_lambda"`

	// DAG admission
	MaxParents            int           `json:"max_parents" yaml:"max_parents"`
	VertexParkingDeadline time.Duration `json:"vertex_parking_deadline" yaml:"vertex_parking_deadline"`
	MaxParkedVertices     int           `json:"max_parked_vertices" yaml:"max_parked_vertices"`

	// Onion router
	MixBatchSize       int                  `json:"mix_batch_size" yaml:"mix_batch_size"`
	MixBatchTimeout    time.Duration        `json:"mix_batch_timeout" yaml:"mix_batch_timeout"`
	DummyTrafficRatio  float64              `json:"dummy_traffic_ratio" yaml:"dummy_traffic_ratio"`
	SizeLadder         []int                `json:"size_ladder" yaml:"size_ladder"`
	ObfuscationPattern ObfuscationPattern    `json:"obfuscation_pattern" yaml:"obfuscation_pattern"`
	MaxBurstSize       int                  `json:"max_burst_size" yaml:"max_burst_size"`
	BurstDelay         time.Duration        `json:"burst_prevention_delay" yaml:"burst_prevention_delay"`

	// Gossip anonymity policy: a vertex or finality notification
	// is optionally routed through an onion-wrapped relay chain instead
	// of flooded in the clear. OnionGossipHops is the chain length; 0
	// disables onion routing and always floods. OnionFingerprintThreshold
	// restricts candidate relays to peers whose Info.Fingerprint leading
	// byte is below it ("high-anonymity nodes only"); 256 admits every
	// peer.
	OnionGossipHops           int `json:"onion_gossip_hops" yaml:"onion_gossip_hops"`
	OnionFingerprintThreshold int `json:"onion_fingerprint_threshold" yaml:"onion_fingerprint_threshold"`

	// P2P overlay
	MinPeerReputation          float64       `json:"min_peer_reputation" yaml:"min_peer_reputation"`
	ReputationAlpha            float64       `json:"reputation_alpha" yaml:"reputation_alpha"`
	PartitionDetectionThresh   time.Duration `json:"partition_detection_threshold" yaml:"partition_detection_threshold"`
	AgentTTL                   time.Duration `json:"agent_ttl" yaml:"agent_ttl"`
	MaxAgentsInResponse        int           `json:"max_agents_in_response" yaml:"max_agents_in_response"`
	HandshakeTimeout           time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`

	// Network binding
	SyncBatchSize        int `json:"sync_batch_size" yaml:"sync_batch_size"`
	MaxConcurrentQueries int `json:"max_concurrent_queries" yaml:"max_concurrent_queries"`

	// Transport
	EnableQuantumChannels bool `json:"enable_quantum_channels" yaml:"enable_quantum_channels"`
	MaxMessageSize        int  `json:"max_message_size" yaml:"max_message_size"`

	// Peer send-queue backpressure
	SendQueueCapacity int `json:"send_queue_capacity" yaml:"send_queue_capacity"`
}

// Verify validates every field, returning the first violation found, in
// the style of sampling.Parameters.Verify.
func (p Parameters) Verify() error {
	if p.K <= 0 {
		return ErrInvalidK
	}
	if p.Alpha <= p.K/2 || p.Alpha > p.K {
		return fmt.Errorf("%w: got alpha=%d k=%d", ErrInvalidAlpha, p.Alpha, p.K)
	}
	if p.Beta <= 0 {
		return ErrInvalidBeta
	}
	if p.ThetaFinal <= 0 || p.ThetaFinal > 1 {
		return ErrInvalidThetaFinal
	}
	if p.QueryTO <= 0 || p.MaxRoundTO <= 0 {
		return ErrInvalidTimeout
	}
	// A zero lambda freezes EMA confidence, so theta_final can never be
	// reached; a zero alpha likewise freezes reputation.
	if p.EMALambda <= 0 || p.EMALambda > 1 {
		return ErrInvalidEMALambda
	}
	if p.ReputationAlpha <= 0 || p.ReputationAlpha > 1 {
		return ErrInvalidRepAlpha
	}
	if p.MaxParents <= 0 {
		return ErrInvalidMaxParents
	}
	for i := 1; i < len(p.SizeLadder); i++ {
		if p.SizeLadder[i] <= p.SizeLadder[i-1] {
			return ErrInvalidSizeLadder
		}
	}
	if len(p.SizeLadder) == 0 {
		return ErrInvalidSizeLadder
	}
	if p.MinPeerReputation < 0 || p.MinPeerReputation > 1 {
		return ErrInvalidReputation
	}
	if p.MixBatchSize <= 0 {
		return ErrInvalidBatch
	}
	if p.DummyTrafficRatio < 0 || p.DummyTrafficRatio > 1 {
		return ErrInvalidDummyRatio
	}
	if p.SyncBatchSize <= 0 {
		return ErrInvalidSyncBatch
	}
	if p.MaxConcurrentQueries <= 0 {
		return ErrInvalidConcurrentQ
	}
	if p.MaxMessageSize <= 0 {
		return ErrInvalidMaxMessageSize
	}
	if p.OnionGossipHops < 0 || p.OnionGossipHops > onion.MaxHops {
		return ErrInvalidOnionHops
	}
	if p.OnionFingerprintThreshold < 0 || p.OnionFingerprintThreshold > 256 {
		return ErrInvalidFingerprintThresh
	}
	return nil
}

// Default returns the documented production defaults.
func Default() Parameters {
	return Parameters{
		K:          20,
		Alpha:      14,
		Beta:       20,
		ThetaFinal: 2.0 / 3.0,
		QueryTO:    500 * time.Millisecond,
		MaxRoundTO: 30 * time.Second,
		EMALambda:  0.2,

		MaxParents:            8,
		VertexParkingDeadline:  10 * time.Second,
		MaxParkedVertices:      4096,

		MixBatchSize:       50,
		MixBatchTimeout:    500 * time.Millisecond,
		DummyTrafficRatio:  0.15,
		SizeLadder:         append([]int(nil), DefaultSizeLadder...),
		ObfuscationPattern: ObfuscationNone,
		MaxBurstSize:       100,
		BurstDelay:         50 * time.Millisecond,

		OnionGossipHops:           0,
		OnionFingerprintThreshold: 256,

		MinPeerReputation:        0.2,
		ReputationAlpha:          0.1,
		PartitionDetectionThresh: 30 * time.Second,
		AgentTTL:                 5 * time.Minute,
		MaxAgentsInResponse:      32,
		HandshakeTimeout:         5 * time.Second,

		SyncBatchSize:        256,
		MaxConcurrentQueries: 64,

		EnableQuantumChannels: true,
		MaxMessageSize:        1 << 20,

		SendQueueCapacity: 1024,
	}
}

// Local relaxes timeouts for single-process integration tests.
func Local() Parameters {
	p := Default()
	p.QueryTO = 50 * time.Millisecond
	p.MaxRoundTO = 5 * time.Second
	p.HandshakeTimeout = 500 * time.Millisecond
	p.PartitionDetectionThresh = 2 * time.Second
	p.MixBatchTimeout = 50 * time.Millisecond
	return p
}

// Testnet lowers K for small developer networks.
func Testnet() Parameters {
	p := Default()
	p.K = 6
	p.Alpha = 4
	p.Beta = 8
	return p
}

// Mainnet is the production preset: the documented defaults, made
// explicit here (rather than left implicit in Default) so an operator's
// config selects a preset by name the same way it would select Testnet
// or Local.
func Mainnet() Parameters {
	return Default()
}

// LoadFile reads a YAML configuration overlay from path on top of
// Default, validating the result before returning it. A node operator
// edits only the fields that matter to their deployment; everything
// else keeps the documented default.
func LoadFile(path string) (Parameters, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Parameters{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := p.Verify(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}
