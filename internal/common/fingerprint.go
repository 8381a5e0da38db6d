package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint hashes parts into a fixed-width hex key. Parts are separated by a
// NUL byte so ("ab", "c") and ("a", "bc") do not collide.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
