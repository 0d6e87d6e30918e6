package urkel

import (
	"encoding/binary"
	"fmt"
)

// Fixed on-disk sizes for the two encodable node kinds (spec.md §4.B). Empty
// nodes are never encoded; Hash nodes are encoded as whatever node they
// reference.
const (
	LeafSize     = 40
	InternalSize = 76

	childDescriptorSize = 38
)

// CorruptionError reports a decode-time violation of the node codec: a
// buffer of the wrong length for its claimed kind, or (for Internal nodes) a
// child descriptor whose file_index is zero (absent) but whose hash is not.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("urkel: corrupt node encoding: %s", e.Reason)
}

// EncodeLeaf encodes n, which must be a Leaf, into its 40-byte form:
// value_index(2) value_pos(4) value_size(2) key(32), all integers
// little-endian.
func EncodeLeaf(n *Node) []byte {
	if n.Kind != KindLeaf {
		panic("urkel: EncodeLeaf on a non-leaf node")
	}
	buf := make([]byte, LeafSize)
	binary.LittleEndian.PutUint16(buf[0:2], n.ValueIndex)
	binary.LittleEndian.PutUint32(buf[2:6], n.ValuePos)
	binary.LittleEndian.PutUint16(buf[6:8], n.ValueSize)
	copy(buf[8:40], n.Key[:])
	return buf
}

// DecodeLeaf decodes a 40-byte buffer produced by EncodeLeaf. The caller
// (Tree.resolve) is responsible for supplying the node's hash and storage
// coordinates, which are not part of the leaf's own encoding.
func DecodeLeaf(buf []byte) (*Node, error) {
	if len(buf) != LeafSize {
		return nil, &CorruptionError{Reason: fmt.Sprintf("leaf buffer is %d bytes, want %d", len(buf), LeafSize)}
	}
	n := &Node{Kind: KindLeaf}
	n.ValueIndex = binary.LittleEndian.Uint16(buf[0:2])
	n.ValuePos = binary.LittleEndian.Uint32(buf[2:6])
	n.ValueSize = binary.LittleEndian.Uint16(buf[6:8])
	copy(n.Key[:], buf[8:40])
	return n, nil
}

// EncodeInternal encodes n, which must be Internal, into its 76-byte form:
// two 38-byte child descriptors back to back. Each child must already be
// Empty or a persisted Hash node — by the time commit encodes an Internal,
// its children have already been flushed and replaced by their Hash
// placeholders (spec.md §4.D commit).
func EncodeInternal(n *Node) []byte {
	if n.Kind != KindInternal {
		panic("urkel: EncodeInternal on a non-internal node")
	}
	buf := make([]byte, InternalSize)
	encodeChild(buf[0:childDescriptorSize], n.Left)
	encodeChild(buf[childDescriptorSize:InternalSize], n.Right)
	return buf
}

func encodeChild(buf []byte, child *Node) {
	if child.IsEmpty() {
		// file_index == 0 AND hash == 0 denotes an absent child; the rest of
		// the descriptor is reserved as zero.
		return
	}
	index, pos := child.StorageLocation()
	if index == 0 {
		panic("urkel: EncodeInternal on an unpersisted child")
	}
	h := child.Hash()
	binary.LittleEndian.PutUint16(buf[0:2], index)
	binary.LittleEndian.PutUint32(buf[2:6], taggedPos(pos, child.IsLeaf()))
	copy(buf[6:38], h[:])
}

// DecodeInternal decodes a 76-byte buffer produced by EncodeInternal. Each
// child descriptor becomes either the Empty sentinel or a Hash placeholder;
// the soft parity check mentioned in spec.md §4.B (tag bit vs. later reads)
// is left to the caller that eventually resolves the child, since the only
// way to check it here would be to read the referenced node early —
// defeating the point of lazy loading.
func DecodeInternal(buf []byte) (*Node, error) {
	if len(buf) != InternalSize {
		return nil, &CorruptionError{Reason: fmt.Sprintf("internal buffer is %d bytes, want %d", len(buf), InternalSize)}
	}
	left, err := decodeChild(buf[0:childDescriptorSize])
	if err != nil {
		return nil, err
	}
	right, err := decodeChild(buf[childDescriptorSize:InternalSize])
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindInternal, Left: left, Right: right}, nil
}

func decodeChild(buf []byte) (*Node, error) {
	index := binary.LittleEndian.Uint16(buf[0:2])
	var hash Digest
	copy(hash[:], buf[6:38])
	if index == 0 {
		if hash != (Digest{}) {
			return nil, &CorruptionError{Reason: "child file_index is zero but hash is non-zero"}
		}
		return emptyNode, nil
	}
	tp := binary.LittleEndian.Uint32(buf[2:6])
	pos, isLeaf := untagPos(tp)
	return &Node{Kind: KindHash, NodeIndex: index, NodePos: pos, leafHash: hash, HashIsLeaf: isLeaf}, nil
}

// taggedPos packs a storage offset and its leaf/internal tag into a single
// uint32: (pos << 1) | is_leaf. This lets an Internal node alone suffice to
// continue descent without a separate lookup for the child's kind.
func taggedPos(pos uint32, isLeaf bool) uint32 {
	tp := pos << 1
	if isLeaf {
		tp |= 1
	}
	return tp
}

func untagPos(tp uint32) (pos uint32, isLeaf bool) {
	return tp >> 1, tp&1 == 1
}
