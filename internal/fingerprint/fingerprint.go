// Package fingerprint validates and computes content fingerprints for the
// supported digest algorithms.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	Blake2b256 Algorithm = "blake2b-256"
	Keccak256  Algorithm = "keccak256"
)

type spec struct {
	size int
	new  func() hash.Hash
}

var algorithms = map[Algorithm]spec{
	SHA256:     {size: sha256.Size, new: sha256.New},
	SHA3_256:   {size: 32, new: sha3.New256},
	Keccak256:  {size: 32, new: sha3.NewLegacyKeccak256},
	Blake2b256: {size: blake2b.Size256, new: func() hash.Hash { h, _ := blake2b.New256(nil); return h }},
}

// Supported lists the known algorithms in stable order.
func Supported() []Algorithm {
	out := make([]Algorithm, 0, len(algorithms))
	for a := range algorithms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize lower-cases and trims an algorithm name.
func Normalize(name string) Algorithm {
	return Algorithm(strings.ToLower(strings.TrimSpace(name)))
}

// Known reports whether the algorithm is supported.
func Known(a Algorithm) bool {
	_, ok := algorithms[a]
	return ok
}

// Decode parses a hex fingerprint (optionally 0x-prefixed) and checks its
// length against the algorithm's digest size. Unknown algorithms only
// require a non-empty digest.
func Decode(a Algorithm, encoded string) ([]byte, error) {
	encoded = strings.TrimPrefix(strings.TrimSpace(encoded), "0x")
	if encoded == "" {
		return nil, fmt.Errorf("fingerprint is empty")
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("fingerprint is not hex: %w", err)
	}
	if s, ok := algorithms[a]; ok && len(raw) != s.size {
		return nil, fmt.Errorf("%s fingerprint must be %d bytes, got %d", a, s.size, len(raw))
	}
	return raw, nil
}

// Canonical returns the lower-case hex form used as the registry key.
func Canonical(raw []byte) string {
	return hex.EncodeToString(raw)
}

// Compute hashes data with the algorithm.
func Compute(a Algorithm, data []byte) ([]byte, error) {
	s, ok := algorithms[a]
	if !ok {
		return nil, fmt.Errorf("unsupported algorithm %q", a)
	}
	h := s.new()
	h.Write(data)
	return h.Sum(nil), nil
}
