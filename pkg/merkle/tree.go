// Package merkle implements the hash-tree primitives shared by the receipt
// chain and the transparency log: leaf/node hashing, root computation, and
// inclusion proofs. Odd levels duplicate the trailing node before pairing.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptyTree is returned when a root is requested over zero leaves.
var ErrEmptyTree = errors.New("merkle: cannot compute root of empty tree")

// Leaf hashes raw leaf data: SHA256(data), hex-encoded.
func Leaf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Node combines two child hashes: SHA256(left || right) over the decoded
// hash bytes, hex-encoded.
func Node(left, right string) string {
	combined := append(mustDecode(left), mustDecode(right)...)
	sum := sha256.Sum256(combined)
	return hex.EncodeToString(sum[:])
}

// Root reduces a list of leaf hashes to the tree root.
func Root(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", ErrEmptyTree
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, Node(level[i], level[i+1]))
		}
		level = next
	}
	return level[0], nil
}

func mustDecode(h string) []byte {
	b, err := hex.DecodeString(h)
	if err != nil {
		// Hashes reaching this point are produced by Leaf/Node; a non-hex
		// value means caller corruption, not a recoverable state.
		panic(fmt.Sprintf("merkle: non-hex hash %q", h))
	}
	return b
}
