package urkel

import "testing"

func TestHashDomainSeparation(t *testing.T) {
	var a, b Digest
	a[0], b[0] = 1, 2

	leaf := HashLeafValue(a, b)
	internal := HashInternal(a, b)
	if leaf == internal {
		t.Fatal("leaf and internal hashes of the same inputs collided: domain separation is broken")
	}
}

func TestHashLeafBindsValueNotJustDigest(t *testing.T) {
	var key Digest
	h1 := HashLeaf(key, []byte("a"))
	h2 := HashLeaf(key, []byte("b"))
	if h1 == h2 {
		t.Fatal("HashLeaf produced the same digest for different values")
	}
}

func TestHashLeafMatchesHashLeafValue(t *testing.T) {
	var key Digest
	key[5] = 9
	value := []byte("some value")
	if HashLeaf(key, value) != HashLeafValue(key, Hash(value)) {
		t.Fatal("HashLeaf and HashLeafValue disagree given the same value digest")
	}
}

func TestKeyOfIsDeterministic(t *testing.T) {
	if KeyOf([]byte("x")) != KeyOf([]byte("x")) {
		t.Fatal("KeyOf is not deterministic")
	}
	if KeyOf([]byte("x")) == KeyOf([]byte("y")) {
		t.Fatal("KeyOf collided on distinct inputs (extraordinarily unlikely, check the hash wiring)")
	}
}

func TestZeroDigestIsZero(t *testing.T) {
	var d Digest
	if !d.IsZero() {
		t.Fatal("zero Digest reports IsZero() == false")
	}
	d[31] = 1
	if d.IsZero() {
		t.Fatal("non-zero Digest reports IsZero() == true")
	}
}
