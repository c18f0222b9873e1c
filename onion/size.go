package onion

import "fmt"

// DefaultSizeLadder is the fixed, published size tier table: Build pads
// every onion layer's plaintext up to one of these before encryption,
// so a layer's length never leaks payload size beyond the chosen tier.
// Mixer.Submit does not pad; frames submitted to a Mixer keep their own
// length.
var DefaultSizeLadder = []int{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// PadToTier pads data with trailing zero bytes up to the smallest tier
// in ladder that is >= len(data). The header's own length-prefixed
// fields let decodeHeader ignore the padding on the way back out.
func PadToTier(data []byte, ladder []int) ([]byte, error) {
	for _, tier := range ladder {
		if len(data) <= tier {
			padded := make([]byte, tier)
			copy(padded, data)
			return padded, nil
		}
	}
	return nil, fmt.Errorf("%w: %d bytes, largest tier %d", ErrPayloadTooBig, len(data), ladder[len(ladder)-1])
}

// TierFor reports the ladder tier that size normalizes to, or an error
// if it exceeds the largest tier.
func TierFor(size int, ladder []int) (int, error) {
	for _, tier := range ladder {
		if size <= tier {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("%w: %d bytes, largest tier %d", ErrPayloadTooBig, size, ladder[len(ladder)-1])
}
