package onion

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

// Profile names an outgoing protocol obfuscation envelope. The
// envelope must preserve the payload bit-exactly; any peer speaking the
// same profile round-trips it.
type Profile int

const (
	ProfileNone Profile = iota
	ProfileHTTP
	ProfileTLS
	ProfileWebSocket
	ProfileDNS
)

func (p Profile) String() string {
	switch p {
	case ProfileNone:
		return "none"
	case ProfileHTTP:
		return "http"
	case ProfileTLS:
		return "tls"
	case ProfileWebSocket:
		return "websocket"
	case ProfileDNS:
		return "dns"
	default:
		return "unknown"
	}
}

// ErrProfileUnsupported is returned for the DNS profile: faithful DNS
// tunneling needs a real resolver round-trip (fragmentation across TXT
// records, query-name encoding limits) that no pack example implements,
// so it is named but not wired.
var ErrProfileUnsupported = errors.New("onion: obfuscation profile not implemented")

const (
	httpPrefix = "POST /api/v1/submit HTTP/1.1\r\nContent-Type: application/octet-stream\r\n\r\n"
	tlsMagic   = "\x16\x03\x03"      // TLS handshake record header look-alike
	wsPrefix   = "\x81"              // WebSocket binary-frame opcode byte, length omitted (framed by caller)
)

// Wrap produces an envelope for profile that bit-exactly preserves
// payload under the matching Unwrap.
func Wrap(profile Profile, payload []byte) ([]byte, error) {
	switch profile {
	case ProfileNone:
		return payload, nil
	case ProfileHTTP:
		encoded := base64.StdEncoding.EncodeToString(payload)
		return append([]byte(httpPrefix), []byte(encoded)...), nil
	case ProfileTLS:
		return append([]byte(tlsMagic), payload...), nil
	case ProfileWebSocket:
		return append([]byte(wsPrefix), payload...), nil
	case ProfileDNS:
		return nil, ErrProfileUnsupported
	default:
		return nil, fmt.Errorf("onion: unknown profile %d", profile)
	}
}

// Unwrap reverses Wrap for profile.
func Unwrap(profile Profile, envelope []byte) ([]byte, error) {
	switch profile {
	case ProfileNone:
		return envelope, nil
	case ProfileHTTP:
		if !bytes.HasPrefix(envelope, []byte(httpPrefix)) {
			return nil, fmt.Errorf("onion: malformed http obfuscation envelope")
		}
		return base64.StdEncoding.DecodeString(string(envelope[len(httpPrefix):]))
	case ProfileTLS:
		if !bytes.HasPrefix(envelope, []byte(tlsMagic)) {
			return nil, fmt.Errorf("onion: malformed tls obfuscation envelope")
		}
		return envelope[len(tlsMagic):], nil
	case ProfileWebSocket:
		if !bytes.HasPrefix(envelope, []byte(wsPrefix)) {
			return nil, fmt.Errorf("onion: malformed websocket obfuscation envelope")
		}
		return envelope[len(wsPrefix):], nil
	case ProfileDNS:
		return nil, ErrProfileUnsupported
	default:
		return nil, fmt.Errorf("onion: unknown profile %d", profile)
	}
}
