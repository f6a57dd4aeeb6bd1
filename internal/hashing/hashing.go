package hashing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Algorithm selects how spec names are hashed in client-bootstrap documents.
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmDJB2   Algorithm = "djb2"
	AlgorithmSha256 Algorithm = "sha256"
)

// DJB2 is a djb2-style string hash (seed 0, multiplier 31) truncated to 32
// bits, rendered as a decimal string to match the wire format clients expect.
func DJB2(s string) string {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + uint32(s[i])
	}
	return strconv.FormatUint(uint64(h), 10)
}

// Sha256Hex returns the full lowercase hex digest.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Sha256Base64 returns the standard-base64 digest used by the sha256
// client-bootstrap hash algorithm.
func Sha256Base64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sha256Prefix8 returns the first 8 hex characters of sha256(s), the key
// format stored in segment membership lists.
func Sha256Prefix8(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

// EvaluationHash interprets the leading 8 bytes of sha256(input) as a
// big-endian unsigned integer. The same input always yields the same bucket.
func EvaluationHash(input string) uint64 {
	sum := sha256.Sum256([]byte(input))
	return binary.BigEndian.Uint64(sum[:8])
}

// HashName applies the chosen bootstrap algorithm to a spec or gate name.
func HashName(name string, algo Algorithm) string {
	switch algo {
	case AlgorithmDJB2:
		return DJB2(name)
	case AlgorithmSha256:
		return Sha256Base64(name)
	default:
		return name
	}
}

// Fingerprint64 is the cheap non-cryptographic hash used for dedupe and
// sampling keys.
func Fingerprint64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// CombineFingerprints folds parts into a single 64-bit key.
func CombineFingerprints(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
