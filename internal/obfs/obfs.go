// Package obfs unscrambles values that were stamped into the binary in
// obfuscated form.
//
// The cipher is a single-byte-keyed XOR stream.  Each keystream byte is
// derived from the previous one multiplied by its 1-based position and
// bumped by 47 until it leaves the NUL / newline / printable-ASCII
// range, so an obfuscated string never contains readable text or a
// terminator.  The keystream depends only on the key and the position,
// which makes Transform its own inverse.
package obfs

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// bump is added to a candidate keystream byte until it is acceptable.
// It is odd, so the walk visits every byte value and always terminates.
const bump = 47

// Keystream returns the first n keystream bytes for key.
func Keystream(key byte, n int) []byte {
	out := make([]byte, n)
	k := key
	for i := 0; i < n; i++ {
		k *= byte(i + 1)
		for !usable(k) {
			k += bump
		}
		out[i] = k
	}
	return out
}

// Transform XORs data with the keystream for key and returns a new
// slice.  Applying it twice with the same key yields the input.
func Transform(key byte, data []byte) []byte {
	ks := Keystream(key, len(data))
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ ks[i]
	}
	return out
}

// EncodeHex obfuscates s and hex-encodes the result so it can travel
// through -ldflags -X, which only carries printable strings.
func EncodeHex(key byte, s string) string {
	return hex.EncodeToString(Transform(key, []byte(s)))
}

// DecodeHex reverses [EncodeHex].
func DecodeHex(key byte, s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("obfs: %w", err)
	}
	return string(Transform(key, raw)), nil
}

// ParseKey converts the decimal key representation used by the build
// tooling ("0".."255") into a key byte.
func ParseKey(s string) (byte, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("obfs: invalid key %q", s)
	}
	return byte(n), nil
}

func usable(k byte) bool {
	return k != 0 && k != '\n' && (k < 0x20 || k > 0x7e)
}
