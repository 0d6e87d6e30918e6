package urkel

import (
	"errors"
	"fmt"
)

// ProofType discriminates the three shapes a proof can take, depending on
// what descent from the root finds for the requested key.
type ProofType uint8

const (
	// Deadend means descent reached an Empty node: the key is absent, and
	// there is no colliding leaf to show.
	Deadend ProofType = iota
	// Collision means descent reached a different leaf: the key is absent,
	// but another key's leaf sits where it would have been.
	Collision
	// Exists means descent reached a leaf with the requested key.
	Exists
)

func (t ProofType) String() string {
	switch t {
	case Deadend:
		return "deadend"
	case Collision:
		return "collision"
	case Exists:
		return "exists"
	default:
		return "invalid"
	}
}

// Proof is a compact, self-contained witness that a key does or doesn't map
// to a given value under a particular root hash.
type Proof struct {
	Type     ProofType
	Siblings []Digest

	// Set only for Collision: the colliding leaf's key and value digest.
	Key  Digest
	Hash Digest

	// Set only for Exists.
	Value []byte
}

// ErrBadProof is returned by Proof.Verify when the proof is malformed or
// does not fold to the claimed root.
var ErrBadProof = errors.New("urkel: bad proof")

// Prove returns a proof of the presence or absence of key in the tree.
func (t *Tree) Prove(key []byte) (*Proof, error) {
	k := KeyOf(key)
	cur := t.root
	depth := 0
	proof := &Proof{Type: Deadend}

	for {
		switch cur.Kind {
		case KindEmpty:
			return proof, nil
		case KindHash:
			resolved, err := t.resolve(cur)
			if err != nil {
				return nil, err
			}
			cur = resolved
		case KindInternal:
			if depth >= KeySize {
				return nil, errors.New("urkel: key depth exceeded KeySize")
			}
			if bitAt(k, depth) == 0 {
				proof.Siblings = append(proof.Siblings, cur.Right.Hash())
				cur = cur.Left
			} else {
				proof.Siblings = append(proof.Siblings, cur.Left.Hash())
				cur = cur.Right
			}
			depth++
		case KindLeaf:
			if cur.Key == k {
				proof.Type = Exists
				if cur.Value != nil {
					proof.Value = append([]byte(nil), cur.Value...)
				} else {
					val, err := t.store.ReadValue(cur.ValueIndex, cur.ValuePos, cur.ValueSize)
					if err != nil {
						return nil, err
					}
					proof.Value = val
				}
			} else {
				proof.Type = Collision
				proof.Key = cur.Key
				var val []byte
				if cur.Value != nil {
					val = cur.Value
				} else {
					var err error
					val, err = t.store.ReadValue(cur.ValueIndex, cur.ValuePos, cur.ValueSize)
					if err != nil {
						return nil, err
					}
				}
				proof.Hash = Hash(val)
			}
			return proof, nil
		default:
			return nil, fmt.Errorf("urkel: invalid node kind %v during prove", cur.Kind)
		}
	}
}

// isSane checks the per-type shape invariants from spec.md §4.E before any
// hash folding is attempted.
func (p *Proof) isSane() bool {
	switch p.Type {
	case Exists:
		return p.Key == (Digest{}) && p.Hash == (Digest{}) && len(p.Value) <= MaxValueSize
	case Collision:
		return p.Value == nil
	case Deadend:
		return false
	default:
		return false
	}
}

// Verify recomputes the root hash implied by the proof and key, and
// compares it against root. On success, it returns the value (for Exists)
// or nil (for Collision). Deadend proofs are never verifiable — absence
// with no colliding leaf can't be bound to any particular root beyond
// "some Empty slot", so the caller must trust the Storage's descent result
// instead of a portable proof.
func (p *Proof) Verify(root Digest, key []byte) ([]byte, error) {
	if !p.isSane() {
		return nil, fmt.Errorf("%w: malformed proof of type %s", ErrBadProof, p.Type)
	}
	k := KeyOf(key)

	var cur Digest
	switch p.Type {
	case Collision:
		if p.Key == k {
			return nil, fmt.Errorf("%w: collision proof targets the queried key itself", ErrBadProof)
		}
		cur = HashLeafValue(p.Key, p.Hash)
	case Exists:
		cur = HashLeaf(k, p.Value)
	}

	depth := len(p.Siblings) - 1
	for i := len(p.Siblings) - 1; i >= 0; i-- {
		sib := p.Siblings[i]
		if bitAt(k, depth) == 0 {
			cur = HashInternal(cur, sib)
		} else {
			cur = HashInternal(sib, cur)
		}
		if depth > 0 {
			depth--
		}
	}

	if cur != root {
		return nil, fmt.Errorf("%w: recomputed root does not match", ErrBadProof)
	}
	if p.Type == Exists {
		return p.Value, nil
	}
	return nil, nil
}
