package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootEmptyFails(t *testing.T) {
	_, err := Root(nil)
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestRootSingleLeaf(t *testing.T) {
	leaf := Leaf([]byte("only"))
	root, err := Root([]string{leaf})
	require.NoError(t, err)
	assert.Equal(t, leaf, root)
}

func TestRootOddLeavesDuplicatesTrailing(t *testing.T) {
	l1 := Leaf([]byte("a"))
	l2 := Leaf([]byte("b"))
	l3 := Leaf([]byte("c"))

	root, err := Root([]string{l1, l2, l3})
	require.NoError(t, err)

	// Manual reduction: [l1,l2,l3,l3] -> [n12, n33] -> root
	expected := Node(Node(l1, l2), Node(l3, l3))
	assert.Equal(t, expected, root)
}

func TestInclusionProofOutOfRange(t *testing.T) {
	leaves := []string{Leaf([]byte("a"))}
	_, err := InclusionProof(1, leaves)
	assert.Error(t, err)
	_, err = InclusionProof(-1, leaves)
	assert.Error(t, err)
}

// Round-trip: for every tree size 1..12 and every leaf index, the generated
// proof verifies against the root, and fails against a different leaf.
func TestInclusionRoundTrip(t *testing.T) {
	for n := 1; n <= 12; n++ {
		leaves := make([]string, n)
		for i := range leaves {
			leaves[i] = Leaf([]byte(fmt.Sprintf("leaf-%d", i)))
		}
		root, err := Root(leaves)
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			proof, err := InclusionProof(i, leaves)
			require.NoError(t, err)
			assert.True(t, VerifyInclusion(leaves[i], proof, root),
				"n=%d i=%d proof should verify", n, i)

			wrong := Leaf([]byte("tampered"))
			if n > 1 {
				assert.False(t, VerifyInclusion(wrong, proof, root),
					"n=%d i=%d tampered leaf should fail", n, i)
			}
		}
	}
}

func TestVerifyInclusionNilProof(t *testing.T) {
	assert.False(t, VerifyInclusion(Leaf([]byte("a")), nil, "root"))
}
