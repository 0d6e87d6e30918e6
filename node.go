package urkel

// Kind discriminates the four node variants described in spec.md §3. Go has
// no sum types, so Node is a single struct carrying a discriminant plus the
// union of all variants' fields (the "tagged union" design noted for
// implementers in languages without pattern-matching enums).
type Kind uint8

const (
	// KindEmpty represents the absence of a subtree. Its hash is the zero
	// digest, and it is a meaningful value anywhere in the tree, not just at
	// the root: it marks "no child in this direction" at an intermediate
	// depth.
	KindEmpty Kind = iota
	// KindHash is a lazy placeholder for a subtree that has been persisted
	// but not yet read back from storage.
	KindHash
	// KindLeaf holds a key digest and (optionally, in memory) its value.
	KindLeaf
	// KindInternal holds pointers to a left and right child.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindHash:
		return "hash"
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	default:
		return "invalid"
	}
}

// Node is one node of the trie: Empty, Hash, Leaf, or Internal, selected by
// Kind. Children are owned by their parent; the tree is acyclic so there is
// no sharing and no reference counting.
type Node struct {
	Kind Kind

	// Storage coordinates. Zero NodeIndex means "not yet persisted": file
	// indices handed out by the store start at 1 (spec.md §4.C), so 0 is a
	// safe "unwritten" sentinel. Meaningful for Hash, Leaf, and Internal.
	NodeIndex uint16
	NodePos   uint32

	// leafHash is the cached hash for a Leaf or the carried hash for a Hash
	// node. Internal nodes are never cached: their hash is cheap to derive
	// from their children's (themselves usually cached) hashes, and caching
	// it would just be one more thing to keep in sync during commit.
	leafHash Digest

	// Leaf-only fields.
	Key        Digest
	Value      []byte // nil if not resident in memory; fetch via the store
	ValueIndex uint16
	ValuePos   uint32
	ValueSize  uint16

	// Internal-only fields.
	Left, Right *Node

	// Hash-only field: which kind of node this placeholder resolves to.
	HashIsLeaf bool
}

// emptyNode is returned wherever the tree needs an Empty sentinel. Empty
// nodes carry no state, so a single value can stand in for all of them, but
// callers must never mutate it.
var emptyNode = &Node{Kind: KindEmpty}

// NewLeaf builds an unpersisted Leaf node for (key, value).
func NewLeaf(key Digest, value []byte) *Node {
	v := make([]byte, len(value))
	copy(v, value)
	return &Node{
		Kind:     KindLeaf,
		Key:      key,
		Value:    v,
		leafHash: HashLeaf(key, v),
	}
}

// NewInternal builds an unpersisted Internal node from two children. Either
// may be Empty, Hash, Leaf, or Internal.
func NewInternal(left, right *Node) *Node {
	return &Node{Kind: KindInternal, Left: left, Right: right}
}

// Hash returns the node's 32-byte digest, per spec.md §3's invariants: zero
// for Empty, the carried digest for Hash, the cached leaf digest for Leaf,
// and the recursive H_internal of the children for Internal.
func (n *Node) Hash() Digest {
	switch n.Kind {
	case KindEmpty:
		return Digest{}
	case KindHash, KindLeaf:
		return n.leafHash
	case KindInternal:
		return HashInternal(n.Left.Hash(), n.Right.Hash())
	default:
		panic("urkel: invalid node kind")
	}
}

// IsLeaf reports whether the node is, or resolves to, a Leaf.
func (n *Node) IsLeaf() bool {
	switch n.Kind {
	case KindLeaf:
		return true
	case KindHash:
		return n.HashIsLeaf
	default:
		return false
	}
}

// IsEmpty reports whether the node is the Empty sentinel.
func (n *Node) IsEmpty() bool {
	return n.Kind == KindEmpty
}

// Persisted reports whether the node has already been written to the store.
func (n *Node) Persisted() bool {
	return n.NodeIndex != 0
}

// StorageLocation returns the node's (file index, offset), or (0, 0) for
// Empty.
func (n *Node) StorageLocation() (index uint16, pos uint32) {
	return n.NodeIndex, n.NodePos
}

// EmptyNode returns the shared Empty sentinel. Storage implementations use
// it to report a tree that has never been committed to.
func EmptyNode() *Node {
	return emptyNode
}

// NewHashPlaceholder builds a Hash node carrying a caller-supplied digest
// for a node living at (index, pos). Storage.Root implementations use this
// to report the committed root without having to walk the whole tree: an
// Internal root's hash folds out of its children's descriptor-embedded
// hashes for free, and a Leaf root's hash is cheap to compute once from its
// value at open time, well before anything actually re-reads the node.
func NewHashPlaceholder(index uint16, pos uint32, isLeaf bool, hash Digest) *Node {
	return &Node{Kind: KindHash, NodeIndex: index, NodePos: pos, HashIsLeaf: isLeaf, leafHash: hash}
}

// asHash converts a persisted Leaf or Internal into its Hash placeholder,
// carrying over its storage coordinates and hash. Mutating coordinates on
// Empty, or converting a node that hasn't been persisted, is a contract
// violation: it would produce a Hash node that resolves to nothing.
func (n *Node) asHash() *Node {
	switch n.Kind {
	case KindEmpty:
		return n
	case KindHash:
		return n
	case KindLeaf, KindInternal:
		if n.NodeIndex == 0 {
			panic("urkel: asHash on an unpersisted node")
		}
		return &Node{
			Kind:       KindHash,
			NodeIndex:  n.NodeIndex,
			NodePos:    n.NodePos,
			leafHash:   n.Hash(),
			HashIsLeaf: n.Kind == KindLeaf,
		}
	default:
		panic("urkel: invalid node kind")
	}
}
