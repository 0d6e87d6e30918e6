// Package urkel implements an authenticated key-value store built as a
// base-2 sparse Merkle trie (an "Urkel" trie) over a log-structured,
// append-only backing store. A committed tree has a single 32-byte root
// digest; for any key a compact proof can be produced and independently
// verified against that root without access to the rest of the tree.
package urkel

import "golang.org/x/crypto/blake2b"

// DigestSize is the length in bytes of every hash produced by this package.
const DigestSize = 32

// Digest is a 32-byte opaque hash value. The zero Digest is the sentinel
// hash of the empty tree.
type Digest [DigestSize]byte

// IsZero reports whether d is the all-zero sentinel digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

const (
	leafPrefix     byte = 0x00
	internalPrefix byte = 0x01
)

// hash returns the plain Blake2b-256 digest of data.
func hash(data ...[]byte) Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for a bad key length, and we pass none.
		panic("urkel: blake2b.New256: " + err.Error())
	}
	for _, d := range data {
		h.Write(d)
	}
	var out Digest
	h.Sum(out[:0])
	return out
}

// Hash returns the plain domain-free hash of data, used to digest keys and
// to collapse an arbitrary-length value into a fixed-size value digest.
func Hash(data []byte) Digest {
	return hash(data)
}

// HashLeaf returns hash(0x00 || key || Hash(value)). The leaf hash binds to
// a 32-byte value digest rather than the raw value bytes, which keeps
// proofs constant-size regardless of value length.
func HashLeaf(key Digest, value []byte) Digest {
	valueDigest := hash(value)
	return HashLeafValue(key, valueDigest)
}

// HashLeafValue returns hash(0x00 || key || valueDigest), where valueDigest
// is already the hash of the value. It is exposed separately because
// Collision proofs carry a leaf's value digest, not its raw value.
func HashLeafValue(key Digest, valueDigest Digest) Digest {
	return hash([]byte{leafPrefix}, key[:], valueDigest[:])
}

// HashInternal returns hash(0x01 || left || right). Domain separation from
// HashLeaf is required: without it an internal hash could collide with a
// leaf hash.
func HashInternal(left, right Digest) Digest {
	return hash([]byte{internalPrefix}, left[:], right[:])
}

// KeyOf returns the 32-byte digest that indexes key into the trie.
func KeyOf(key []byte) Digest {
	return hash(key)
}
