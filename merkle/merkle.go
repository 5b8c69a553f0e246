// Package merkle builds binary Merkle trees over asset ids and produces
// inclusion proofs for snapshot verification.
//
// Leaves are BLAKE3(raw 32-byte asset id); internal nodes are
// BLAKE3(left || right). When a level has an odd node count the lone node
// is carried up unchanged (no duplication). The root of the empty set is
// BLAKE3("").
package merkle

import (
	"errors"
	"math/bits"
	"slices"

	"lukechampine.com/blake3"

	"github.com/aifs-project/aifs/model"
)

var (
	// ErrNotInTree is returned when a proof is requested for an id that is
	// not a leaf of the tree.
	ErrNotInTree = errors.New("merkle: asset id not in tree")
)

// Side locates a proof sibling relative to the running hash.
type Side uint8

const (
	// Left means the sibling is hashed on the left: H(sibling || cur).
	Left Side = iota
	// Right means the sibling is hashed on the right: H(cur || sibling).
	Right
)

// ProofStep is one sibling of an inclusion proof.
type ProofStep struct {
	Hash model.ID
	Side Side
}

// Proof is an inclusion proof: the sibling chain from a leaf to the root.
type Proof struct {
	AssetID model.ID
	Steps   []ProofStep
}

// Tree is an immutable Merkle tree over a sorted, deduplicated id set.
type Tree struct {
	leaves []model.ID // sorted asset ids
	levels [][]model.ID
	root   model.ID
}

// New builds a tree over the given asset ids. Ids are sorted and
// deduplicated; the input slice is not modified.
func New(assetIDs []model.ID) *Tree {
	leaves := slices.Clone(assetIDs)
	slices.SortFunc(leaves, func(a, b model.ID) int { return slices.Compare(a[:], b[:]) })
	leaves = slices.Compact(leaves)

	t := &Tree{leaves: leaves}
	if len(leaves) == 0 {
		t.root = model.ID(blake3.Sum256(nil))
		return t
	}

	level := make([]model.ID, len(leaves))
	for i, id := range leaves {
		level[i] = leafHash(id)
	}
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([]model.ID, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, nodeHash(level[i], level[i+1]))
			} else {
				// Odd node carries up unchanged.
				next = append(next, level[i])
			}
		}
		level = next
		t.levels = append(t.levels, level)
	}
	t.root = level[0]
	return t
}

// Root returns the tree root.
func (t *Tree) Root() model.ID {
	return t.root
}

// Len returns the number of distinct leaves.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// Leaves returns the sorted, deduplicated asset ids the tree covers.
func (t *Tree) Leaves() []model.ID {
	return slices.Clone(t.leaves)
}

// Prove produces the inclusion proof for the given asset id.
func (t *Tree) Prove(assetID model.ID) (Proof, error) {
	idx, ok := slices.BinarySearchFunc(t.leaves, assetID, func(a, b model.ID) int {
		return slices.Compare(a[:], b[:])
	})
	if !ok {
		return Proof{}, ErrNotInTree
	}

	proof := Proof{AssetID: assetID}
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		if sib < len(level) {
			side := Left
			if sib > idx {
				side = Right
			}
			proof.Steps = append(proof.Steps, ProofStep{Hash: level[sib], Side: side})
		}
		// Carried odd nodes contribute no sibling at this level.
		idx /= 2
	}
	return proof, nil
}

// MaxProofLen returns the maximum valid proof length for a tree of n leaves.
func MaxProofLen(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// VerifyProof recomputes the root from a proof and compares it against the
// expected root. n is the leaf count of the tree the proof was made
// against; proofs longer than ceil(log2(n)) are rejected outright (leaves
// that were carried up produce shorter chains, so the bound is a cap).
func VerifyProof(p Proof, root model.ID, n int) bool {
	if len(p.Steps) > MaxProofLen(n) {
		return false
	}
	if n == 0 {
		return false
	}
	cur := leafHash(p.AssetID)
	for _, step := range p.Steps {
		switch step.Side {
		case Left:
			cur = nodeHash(step.Hash, cur)
		case Right:
			cur = nodeHash(cur, step.Hash)
		default:
			return false
		}
	}
	return cur == root
}

func leafHash(id model.ID) model.ID {
	return model.ID(blake3.Sum256(id[:]))
}

func nodeHash(left, right model.ID) model.ID {
	buf := make([]byte, 0, 2*model.IDSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return model.ID(blake3.Sum256(buf))
}
