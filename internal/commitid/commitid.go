// Package commitid provides commit identifiers and their interning into
// small integer IDs.
package commitid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"lukechampine.com/blake3"
)

// Hash is a commit content hash. Equality and ordering are by byte value.
type Hash = plumbing.Hash

// Size is the length of a Hash in bytes.
const Size = len(plumbing.ZeroHash)

// Zero is the empty hash; it never identifies a commit.
var Zero = plumbing.ZeroHash

// Parse decodes a full-length hex hash.
func Parse(s string) (Hash, error) {
	if len(s) != 2*Size {
		return Zero, fmt.Errorf("invalid hash %q: want %d hex chars, got %d", s, 2*Size, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MustParse is like Parse but panics on error. Meant for tests and constants.
func MustParse(s string) Hash {
	h, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Compare orders two hashes by byte value.
func Compare(a, b Hash) int {
	return bytes.Compare(a[:], b[:])
}

// Short returns the abbreviated hex form used in logs and CLI output.
func Short(h Hash) string {
	return h.String()[:8]
}

// FakeHash derives the synthetic hash of a placeholder node standing in for
// the missing commit original. The result is a BLAKE3 digest of a domain
// prefix and the original, truncated to Size bytes.
func FakeHash(original Hash) Hash {
	data := make([]byte, 0, len(fakePrefix)+Size)
	data = append(data, fakePrefix...)
	data = append(data, original[:]...)
	sum := blake3.Sum256(data)

	var h Hash
	copy(h[:], sum[:Size])
	return h
}

const fakePrefix = "vcslog-fake\n"
