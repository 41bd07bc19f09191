package trees

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagedex/imagedex/imagedex/hashing"
)

func fpWithBits(bitPositions ...int) hashing.Fingerprint {
	var v uint64
	for _, b := range bitPositions {
		v |= 1 << uint(b)
	}
	return hashing.FromUint64(v)
}

func TestBKTree_Insert(t *testing.T) {
	t.Run("first insert becomes the root", func(t *testing.T) {
		tree := NewBKTree(nil)
		tree.Insert(fpWithBits(0))
		assert.Equal(t, 1, tree.Size())

		hits := tree.Search(fpWithBits(0), 0)
		require.Len(t, hits, 1)
		assert.Equal(t, fpWithBits(0), hits[0].Fingerprint)
		assert.Equal(t, 0, hits[0].Distance)
	})

	t.Run("inserting the same fingerprint twice is idempotent", func(t *testing.T) {
		tree := NewBKTree(nil)
		tree.Insert(fpWithBits(1, 2, 3))
		tree.Insert(fpWithBits(4))
		sizeBefore := tree.Size()

		// Construct an equal fingerprint independently; value semantics must
		// make it the same key.
		tree.Insert(fpWithBits(3, 2, 1))
		assert.Equal(t, sizeBefore, tree.Size())
	})

	t.Run("size counts distinct fingerprints", func(t *testing.T) {
		tree := NewBKTree(nil)
		for i := 0; i < 10; i++ {
			tree.Insert(hashing.FromUint64(uint64(i)))
		}
		assert.Equal(t, 10, tree.Size())
	})
}

func TestBKTree_Search(t *testing.T) {
	t.Run("empty tree returns empty results", func(t *testing.T) {
		tree := NewBKTree(nil)
		assert.Empty(t, tree.Search(fpWithBits(0), 10))
	})

	t.Run("exact search finds only the queried fingerprint", func(t *testing.T) {
		tree := NewBKTree(nil)
		a := fpWithBits(0, 1)
		b := fpWithBits(0, 1, 2)
		tree.Insert(a)
		tree.Insert(b)

		hits := tree.Search(a, 0)
		require.Len(t, hits, 1)
		assert.Equal(t, a, hits[0].Fingerprint)

		assert.Empty(t, tree.Search(fpWithBits(5), 0), "unstored fingerprint should not match at distance 0")
	})

	t.Run("search includes everything within threshold", func(t *testing.T) {
		tree := NewBKTree(nil)
		a := fpWithBits(0, 1, 2)
		b := fpWithBits(0, 1, 2, 3, 4)
		tree.Insert(a)
		tree.Insert(b)

		d := HammingDistance(a, b)
		hits := tree.Search(b, d)
		found := map[hashing.Fingerprint]int{}
		for _, h := range hits {
			found[h.Fingerprint] = h.Distance
		}
		require.Contains(t, found, a)
		assert.Equal(t, d, found[a])
		require.Contains(t, found, b)
		assert.Equal(t, 0, found[b])
	})

	t.Run("pruning never drops in-range results", func(t *testing.T) {
		// Randomized soundness check against a linear scan.
		rng := rand.New(rand.NewSource(42))
		tree := NewBKTree(nil)
		stored := make([]hashing.Fingerprint, 0, 200)
		for i := 0; i < 200; i++ {
			fp := hashing.FromUint64(rng.Uint64())
			tree.Insert(fp)
			stored = append(stored, fp)
		}

		for trial := 0; trial < 25; trial++ {
			query := hashing.FromUint64(rng.Uint64())
			threshold := rng.Intn(hashing.MaxDistance)

			want := map[hashing.Fingerprint]bool{}
			for _, fp := range stored {
				if query.Distance(fp) <= threshold {
					want[fp] = true
				}
			}

			got := map[hashing.Fingerprint]bool{}
			for _, hit := range tree.Search(query, threshold) {
				assert.Equal(t, query.Distance(hit.Fingerprint), hit.Distance)
				got[hit.Fingerprint] = true
			}
			assert.Equal(t, want, got)
		}
	})
}
