package transport

import "errors"

// ErrWebRTCUnavailable is returned by the WebRTC backend constructor.
// Direct P2P NAT traversal is not wired in this build; the TCP backend
// in conn.go is the only live transport, and callers needing NAT
// traversal sit behind a relay peer instead.
var ErrWebRTCUnavailable = errors.New("transport: webrtc backend not available in this build")

// DialWebRTC always fails. It exists so callers can select a transport
// backend by name without a type switch, and get a clear error instead
// of a missing symbol if WebRTC is ever requested.
func DialWebRTC(string, *KeyPair) (*Conn, error) {
	return nil, ErrWebRTCUnavailable
}
