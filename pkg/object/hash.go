package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashObject computes the SHA-256 of the envelope "type len\0content",
// mirroring Git's object hashing but with SHA-256.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha256.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// IsFullHash reports whether s is a complete lowercase hex object id.
func IsFullHash(s string) bool {
	return len(s) == 64 && isHex(s)
}

// IsHashPrefix reports whether s can abbreviate an object id. Prefixes
// shorter than four characters are rejected as too ambiguous.
func IsHashPrefix(s string) bool {
	return len(s) >= 4 && len(s) <= 64 && isHex(s)
}

func isHex(s string) bool {
	return strings.Trim(s, "0123456789abcdef") == ""
}
