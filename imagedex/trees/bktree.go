// Package trees holds the metric tree used for pruned similarity search over
// fingerprints. The tree is a pure in-memory structure with no I/O; persistence
// and file bookkeeping live in the indexing package.
package trees

import (
	"github.com/imagedex/imagedex/imagedex/hashing"
)

// DistanceFunc is a symmetric, non-negative integer metric over fingerprints,
// zero iff its arguments are equal. The search pruning rule requires the
// triangle inequality, which Hamming distance satisfies.
type DistanceFunc func(a, b hashing.Fingerprint) int

// HammingDistance is the default metric for BK-trees over fingerprints.
func HammingDistance(a, b hashing.Fingerprint) int {
	return a.Distance(b)
}

type bkNode struct {
	fp hashing.Fingerprint
	// children keyed by the exact distance from this node's fingerprint,
	// computed at insertion time
	children map[int]*bkNode
}

func newBKNode(fp hashing.Fingerprint) *bkNode {
	return &bkNode{fp: fp, children: make(map[int]*bkNode)}
}

// BKTree is a Burkhard-Keller tree indexing fingerprints in a discrete metric
// space, enabling range queries that prune entire subtrees. It is not safe for
// concurrent mutation; the owning index serializes writes.
//
// There is no per-node delete: removing a node would break the invariant that
// every child sits at the exact recorded distance from its parent. When
// fingerprints must go away, the owner discards the tree and rebuilds it from
// the surviving set.
type BKTree struct {
	distance DistanceFunc
	root     *bkNode
	size     int
}

// NewBKTree creates an empty tree over the given metric. A nil distance
// function defaults to Hamming distance.
func NewBKTree(distance DistanceFunc) *BKTree {
	if distance == nil {
		distance = HammingDistance
	}
	return &BKTree{distance: distance}
}

// Insert adds a fingerprint to the tree. Inserting a fingerprint already
// present is a no-op, so Insert is idempotent. Tree shape depends on insertion
// order, which affects only performance, never results.
func (t *BKTree) Insert(fp hashing.Fingerprint) {
	if t.root == nil {
		t.root = newBKNode(fp)
		t.size = 1
		return
	}

	current := t.root
	for {
		dist := t.distance(fp, current.fp)
		if dist == 0 {
			// Already stored; fingerprints are value types, so bitwise
			// equality is all that matters.
			return
		}
		child, ok := current.children[dist]
		if !ok {
			current.children[dist] = newBKNode(fp)
			t.size++
			return
		}
		current = child
	}
}

// Hit pairs a stored fingerprint with its distance to the query.
type Hit struct {
	Fingerprint hashing.Fingerprint
	Distance    int
}

// Search returns every stored fingerprint within threshold of query, each with
// its distance. Results carry no ordering guarantee; callers needing order must
// sort. An empty tree yields an empty slice.
func (t *BKTree) Search(query hashing.Fingerprint, threshold int) []Hit {
	results := []Hit{}
	if t.root == nil {
		return results
	}

	candidates := []*bkNode{t.root}
	for len(candidates) > 0 {
		node := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		dist := t.distance(query, node.fp)
		if dist <= threshold {
			results = append(results, Hit{Fingerprint: node.fp, Distance: dist})
		}

		// Only edges labeled within [dist-threshold, dist+threshold] can lead
		// to points in range.
		low, high := dist-threshold, dist+threshold
		for label, child := range node.children {
			if label >= low && label <= high {
				candidates = append(candidates, child)
			}
		}
	}
	return results
}

// Size returns the count of distinct fingerprints stored.
func (t *BKTree) Size() int {
	return t.size
}
