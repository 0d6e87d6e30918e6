package urkel

import (
	"errors"
	"fmt"
	"log/slog"
)

// KeySize is the number of bits in a key digest, and so the maximum depth of
// the trie.
const KeySize = DigestSize * 8

// MaxValueSize is the largest value Insert accepts. It is not an arbitrary
// limit: the leaf codec's value_size field is 2 bytes (spec.md §4.B), so
// anything larger could not be durably recorded.
const MaxValueSize = 0xffff

// Tree is a single sparse Merkle trie over a Storage. It is not safe for
// concurrent mutation; concurrent read-only access to a tree that is no
// longer being mutated, through independent Trees sharing a read-only
// Storage, is safe (spec.md §5).
type Tree struct {
	store Storage
	root  *Node
	log   *slog.Logger
}

// Open loads the latest committed root from s, or the Empty tree if s has
// never been committed to.
func Open(s Storage) (*Tree, error) {
	root, err := s.Root()
	if err != nil {
		return nil, fmt.Errorf("urkel: loading root: %w", err)
	}
	return &Tree{store: s, root: root, log: slog.Default()}, nil
}

// SetLogger replaces the tree's logger, which defaults to slog.Default().
func (t *Tree) SetLogger(l *slog.Logger) {
	t.log = l
}

// RootHash returns the 32-byte digest of the tree's current state. The zero
// Digest means the tree is empty.
func (t *Tree) RootHash() Digest {
	return t.root.Hash()
}

func bitAt(key Digest, depth int) int {
	return int((key[depth>>3] >> uint(7-(depth&7))) & 1)
}

// resolve materializes a Hash placeholder into the Leaf or Internal node it
// refers to, carrying its storage coordinates and (for a leaf) its cached
// hash along so identity is preserved before any rehashing. Any other kind
// of node is returned unchanged.
func (t *Tree) resolve(n *Node) (*Node, error) {
	if n.Kind != KindHash {
		return n, nil
	}
	resolved, err := t.store.ReadNode(n.NodeIndex, n.NodePos, n.HashIsLeaf)
	if err != nil {
		return nil, fmt.Errorf("urkel: resolving node at (%d, %d): %w", n.NodeIndex, n.NodePos, err)
	}
	resolved.NodeIndex = n.NodeIndex
	resolved.NodePos = n.NodePos
	if resolved.Kind == KindLeaf {
		resolved.leafHash = n.leafHash
	}
	return resolved, nil
}

// Set is an alias for Insert.
func (t *Tree) Set(key, value []byte) error {
	return t.Insert(key, value)
}

// Insert adds or replaces the value stored under key. Inserting the same
// (key, value) pair the tree already holds is a no-op.
func (t *Tree) Insert(key, value []byte) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("urkel: value is %d bytes, exceeds the %d byte maximum", len(value), MaxValueSize)
	}
	k := KeyOf(key)
	lh := HashLeaf(k, value)
	newRoot, err := t.insertAt(t.root, k, value, lh)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Tree) insertAt(root *Node, k Digest, value []byte, lh Digest) (*Node, error) {
	depth := 0
	var siblings []*Node
	cur := root

descend:
	for {
		switch cur.Kind {
		case KindHash:
			resolved, err := t.resolve(cur)
			if err != nil {
				return nil, err
			}
			cur = resolved
		case KindEmpty:
			break descend
		case KindLeaf:
			if cur.Key == k {
				if cur.Hash() == lh {
					return root, nil
				}
				break descend
			}
			for bitAt(k, depth) == bitAt(cur.Key, depth) {
				siblings = append(siblings, emptyNode)
				depth++
			}
			siblings = append(siblings, cur)
			depth++
			break descend
		case KindInternal:
			if depth >= KeySize {
				return nil, errors.New("urkel: key depth exceeded KeySize")
			}
			if bitAt(k, depth) == 0 {
				siblings = append(siblings, cur.Right)
				cur = cur.Left
			} else {
				siblings = append(siblings, cur.Left)
				cur = cur.Right
			}
			depth++
		default:
			return nil, fmt.Errorf("urkel: invalid node kind %v during insert", cur.Kind)
		}
	}

	var out *Node = NewLeaf(k, value)
	for i := len(siblings) - 1; i >= 0; i-- {
		depth--
		if bitAt(k, depth) == 0 {
			out = NewInternal(out, siblings[i])
		} else {
			out = NewInternal(siblings[i], out)
		}
	}
	return out, nil
}

// Remove deletes the value stored under key, if any. Removing a key that is
// not present is a no-op.
func (t *Tree) Remove(key []byte) error {
	k := KeyOf(key)
	newRoot, err := t.removeAt(t.root, k)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Tree) removeAt(root *Node, k Digest) (*Node, error) {
	depth := 0
	var siblings []*Node
	cur := root
	var result *Node

outer:
	for {
		switch cur.Kind {
		case KindEmpty:
			return root, nil
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
				siblings = append(siblings, cur.Right)
				cur = cur.Left
			} else {
				siblings = append(siblings, cur.Left)
				cur = cur.Right
			}
			depth++
		case KindLeaf:
			if cur.Key != k {
				return root, nil
			}
			if depth == 0 {
				return emptyNode, nil
			}
			sibling := siblings[depth-1]
			if sibling.IsLeaf() {
				// The sibling must bubble up: it becomes the subtree at this
				// shallower level. Keep popping Empty siblings above it, since
				// an Internal with a single Leaf child and no other content
				// would otherwise leave a non-canonical (Leaf, Empty) pair.
				siblings = siblings[:depth-1]
				depth--
				for depth > 0 {
					above := siblings[depth-1]
					if !above.IsEmpty() {
						break
					}
					siblings = siblings[:depth-1]
					depth--
				}
				result = sibling
			} else {
				result = emptyNode
			}
			break outer
		default:
			return nil, fmt.Errorf("urkel: invalid node kind %v during remove", cur.Kind)
		}
	}

	newRoot := result
	for i := len(siblings) - 1; i >= 0; i-- {
		depth--
		if bitAt(k, depth) == 0 {
			newRoot = NewInternal(newRoot, siblings[i])
		} else {
			newRoot = NewInternal(siblings[i], newRoot)
		}
	}
	return newRoot, nil
}

// Get returns the value stored under key, and whether it was present.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	k := KeyOf(key)
	cur := t.root
	depth := 0
	for {
		switch cur.Kind {
		case KindEmpty:
			return nil, false, nil
		case KindHash:
			resolved, err := t.resolve(cur)
			if err != nil {
				return nil, false, err
			}
			cur = resolved
		case KindInternal:
			if depth >= KeySize {
				return nil, false, errors.New("urkel: key depth exceeded KeySize")
			}
			if bitAt(k, depth) == 0 {
				cur = cur.Left
			} else {
				cur = cur.Right
			}
			depth++
		case KindLeaf:
			if cur.Key != k {
				return nil, false, nil
			}
			if cur.Value != nil {
				out := make([]byte, len(cur.Value))
				copy(out, cur.Value)
				return out, true, nil
			}
			val, err := t.store.ReadValue(cur.ValueIndex, cur.ValuePos, cur.ValueSize)
			if err != nil {
				return nil, false, err
			}
			return val, true, nil
		default:
			return nil, false, fmt.Errorf("urkel: invalid node kind %v during get", cur.Kind)
		}
	}
}

// Commit walks the dirty (unpersisted) part of the tree bottom-up, asks the
// store to durably write every new Leaf and Internal node, and appends a
// meta record pointing at the new root. It returns only after the store's
// underlying fsync completes.
func (t *Tree) Commit() error {
	newRoot, err := t.writeNode(t.root)
	if err != nil {
		return fmt.Errorf("urkel: commit: %w", err)
	}
	if err := t.store.Commit(newRoot); err != nil {
		return fmt.Errorf("urkel: commit: %w", err)
	}
	t.root = newRoot
	t.log.Debug("committed tree", "root", fmt.Sprintf("%x", newRoot.Hash()))
	return nil
}

// writeNode returns n converted into a Hash placeholder, writing it (and,
// for a Leaf, its value) to the store first if it hasn't been persisted
// yet. Internal nodes are flushed post-order: both children are written
// before the parent, since the parent's encoding references their storage
// coordinates.
func (t *Tree) writeNode(n *Node) (*Node, error) {
	switch n.Kind {
	case KindEmpty, KindHash:
		return n, nil
	case KindLeaf:
		if n.Persisted() {
			return n.asHash(), nil
		}
		if n.Value == nil {
			return nil, errors.New("urkel: commit: leaf has no in-memory value to persist")
		}
		vi, vp, err := t.store.WriteValue(n.Value)
		if err != nil {
			return nil, fmt.Errorf("writing value: %w", err)
		}
		n.ValueIndex, n.ValuePos, n.ValueSize = vi, vp, uint16(len(n.Value))
		ni, np, err := t.store.WriteNode(EncodeLeaf(n))
		if err != nil {
			return nil, fmt.Errorf("writing leaf node: %w", err)
		}
		n.NodeIndex, n.NodePos = ni, np
		return n.asHash(), nil
	case KindInternal:
		if n.Persisted() {
			return n.asHash(), nil
		}
		left, err := t.writeNode(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := t.writeNode(n.Right)
		if err != nil {
			return nil, err
		}
		n.Left, n.Right = left, right
		ni, np, err := t.store.WriteNode(EncodeInternal(n))
		if err != nil {
			return nil, fmt.Errorf("writing internal node: %w", err)
		}
		n.NodeIndex, n.NodePos = ni, np
		return n.asHash(), nil
	default:
		return nil, fmt.Errorf("urkel: invalid node kind %v during commit", n.Kind)
	}
}

// Close releases the underlying Storage. Any uncommitted changes are
// discarded, not flushed — call Commit first if they should be kept.
func (t *Tree) Close() error {
	return t.store.Close()
}
