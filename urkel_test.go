package urkel_test

import (
	"fmt"
	"math/rand"
	"testing"

	"go.urkel.dev/urkel"
	"go.urkel.dev/urkel/store"
)

func fatalIfErr(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Fatal(err)
	}
}

// testAllStorage runs f once against an in-memory Storage and once against
// a real on-disk store.Store, so every test in this file exercises both
// implementations of the Storage interface.
func testAllStorage(t *testing.T, f func(t *testing.T, newStorage func(t *testing.T) urkel.Storage)) {
	t.Run("memory", func(t *testing.T) {
		f(t, func(t *testing.T) urkel.Storage {
			return urkel.NewMemoryStorage()
		})
	})

	t.Run("store", func(t *testing.T) {
		f(t, func(t *testing.T) urkel.Storage {
			s, err := store.Open(t.TempDir())
			fatalIfErr(t, err)
			t.Cleanup(func() { fatalIfErr(t, s.Close()) })
			return s
		})
	})
}

func TestEmptyTree(t *testing.T) {
	testAllStorage(t, testEmptyTree)
}

func testEmptyTree(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	if !tree.RootHash().IsZero() {
		t.Fatalf("empty tree root is not zero: %x", tree.RootHash())
	}
	_, ok, err := tree.Get([]byte("missing"))
	fatalIfErr(t, err)
	if ok {
		t.Fatal("Get on empty tree reported a value present")
	}
}

func TestInsertGetRemove(t *testing.T) {
	testAllStorage(t, testInsertGetRemove)
}

func testInsertGetRemove(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)

	pairs := map[string]string{
		"alpha": "one",
		"beta":  "two",
		"gamma": "three",
		"delta": "four",
	}
	for k, v := range pairs {
		fatalIfErr(t, tree.Insert([]byte(k), []byte(v)))
	}
	fatalIfErr(t, tree.Commit())

	for k, v := range pairs {
		got, ok, err := tree.Get([]byte(k))
		fatalIfErr(t, err)
		if !ok {
			t.Fatalf("key %q not found after insert", k)
		}
		if string(got) != v {
			t.Fatalf("key %q: got %q, want %q", k, got, v)
		}
	}

	fatalIfErr(t, tree.Remove([]byte("beta")))
	fatalIfErr(t, tree.Commit())

	if _, ok, err := tree.Get([]byte("beta")); err != nil || ok {
		t.Fatalf("key %q still present after remove (ok=%v err=%v)", "beta", ok, err)
	}
	for _, k := range []string{"alpha", "gamma", "delta"} {
		if _, ok, err := tree.Get([]byte(k)); err != nil || !ok {
			t.Fatalf("key %q missing after unrelated remove (ok=%v err=%v)", k, ok, err)
		}
	}
}

func TestInsertOrderIndependence(t *testing.T) {
	testAllStorage(t, testInsertOrderIndependence)
}

func testInsertOrderIndependence(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	keys := make([][]byte, 200)
	values := make([][]byte, 200)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		values[i] = []byte(fmt.Sprintf("value-%d", i))
	}

	forward, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	for i := range keys {
		fatalIfErr(t, forward.Insert(keys[i], values[i]))
	}
	fatalIfErr(t, forward.Commit())
	forwardRoot := forward.RootHash()

	reverse, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	for i := len(keys) - 1; i >= 0; i-- {
		fatalIfErr(t, reverse.Insert(keys[i], values[i]))
	}
	fatalIfErr(t, reverse.Commit())
	if reverse.RootHash() != forwardRoot {
		t.Fatalf("root hash depends on insertion order: forward %x, reverse %x", forwardRoot, reverse.RootHash())
	}

	rng := rand.New(rand.NewSource(1))
	perm := rng.Perm(len(keys))
	shuffled, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	for _, i := range perm {
		fatalIfErr(t, shuffled.Insert(keys[i], values[i]))
	}
	fatalIfErr(t, shuffled.Commit())
	if shuffled.RootHash() != forwardRoot {
		t.Fatalf("root hash depends on insertion order: forward %x, shuffled %x", forwardRoot, shuffled.RootHash())
	}
}

func TestReopenPreservesRoot(t *testing.T) {
	dir := t.TempDir()

	s1, err := store.Open(dir)
	fatalIfErr(t, err)
	tree1, err := urkel.Open(s1)
	fatalIfErr(t, err)
	fatalIfErr(t, tree1.Insert([]byte("k1"), []byte("v1")))
	fatalIfErr(t, tree1.Insert([]byte("k2"), []byte("v2")))
	fatalIfErr(t, tree1.Commit())
	want := tree1.RootHash()
	fatalIfErr(t, tree1.Close())

	s2, err := store.Open(dir)
	fatalIfErr(t, err)
	tree2, err := urkel.Open(s2)
	fatalIfErr(t, err)
	defer tree2.Close()

	if tree2.RootHash() != want {
		t.Fatalf("root hash changed across reopen: got %x, want %x", tree2.RootHash(), want)
	}
	got, ok, err := tree2.Get([]byte("k1"))
	fatalIfErr(t, err)
	if !ok || string(got) != "v1" {
		t.Fatalf("k1 = %q, %v after reopen, want v1, true", got, ok)
	}
}

func TestInsertSameValueIsNoop(t *testing.T) {
	testAllStorage(t, testInsertSameValueIsNoop)
}

func testInsertSameValueIsNoop(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	fatalIfErr(t, tree.Insert([]byte("k"), []byte("v")))
	fatalIfErr(t, tree.Commit())
	root := tree.RootHash()

	fatalIfErr(t, tree.Insert([]byte("k"), []byte("v")))
	if tree.RootHash() != root {
		t.Fatalf("inserting an identical (key, value) pair changed the root: %x -> %x", root, tree.RootHash())
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	testAllStorage(t, testRemoveMissingIsNoop)
}

func testRemoveMissingIsNoop(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	fatalIfErr(t, tree.Insert([]byte("k"), []byte("v")))
	fatalIfErr(t, tree.Commit())
	root := tree.RootHash()

	fatalIfErr(t, tree.Remove([]byte("does-not-exist")))
	if tree.RootHash() != root {
		t.Fatal("removing an absent key changed the root")
	}
}

func TestProveVerifyExists(t *testing.T) {
	testAllStorage(t, testProveVerifyExists)
}

func testProveVerifyExists(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	for i := 0; i < 50; i++ {
		fatalIfErr(t, tree.Insert([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	fatalIfErr(t, tree.Commit())
	root := tree.RootHash()

	proof, err := tree.Prove([]byte("k17"))
	fatalIfErr(t, err)
	if proof.Type != urkel.Exists {
		t.Fatalf("proof type = %v, want Exists", proof.Type)
	}
	val, err := proof.Verify(root, []byte("k17"))
	fatalIfErr(t, err)
	if string(val) != "v17" {
		t.Fatalf("verified value = %q, want v17", val)
	}
}

func TestProveVerifyDeadendRejected(t *testing.T) {
	testAllStorage(t, testProveVerifyDeadendRejected)
}

func testProveVerifyDeadendRejected(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	// A single-leaf tree answers every absent key with a Collision proof, so
	// build one with enough leaves to contain Empty slots.
	for i := 0; i < 50; i++ {
		fatalIfErr(t, tree.Insert([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	fatalIfErr(t, tree.Commit())
	root := tree.RootHash()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("absent-%d", i))
		proof, err := tree.Prove(key)
		fatalIfErr(t, err)
		if proof.Type == urkel.Exists {
			t.Fatal("proof for absent key claims Exists")
		}
		if proof.Type != urkel.Deadend {
			continue
		}
		if _, err := proof.Verify(root, key); err == nil {
			t.Fatal("Verify succeeded on an unverifiable proof type")
		}
		return
	}
	t.Fatal("no Deadend proof found among sampled absent keys")
}

func TestProveVerifyCollision(t *testing.T) {
	testAllStorage(t, testProveVerifyCollision)
}

func testProveVerifyCollision(t *testing.T, newStorage func(t *testing.T) urkel.Storage) {
	tree, err := urkel.Open(newStorage(t))
	fatalIfErr(t, err)
	for i := 0; i < 50; i++ {
		fatalIfErr(t, tree.Insert([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	fatalIfErr(t, tree.Commit())
	root := tree.RootHash()

	found := false
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("zzz-%d", i))
		proof, err := tree.Prove(key)
		fatalIfErr(t, err)
		if proof.Type != urkel.Collision {
			continue
		}
		found = true
		val, err := proof.Verify(root, key)
		fatalIfErr(t, err)
		if val != nil {
			t.Fatal("Collision proof's Verify returned a non-nil value")
		}
		break
	}
	if !found {
		t.Skip("no collision proof found among sampled absent keys")
	}
}

func TestProveVerifyWrongRootFails(t *testing.T) {
	tree, err := urkel.Open(urkel.NewMemoryStorage())
	fatalIfErr(t, err)
	fatalIfErr(t, tree.Insert([]byte("k"), []byte("v")))
	fatalIfErr(t, tree.Commit())

	proof, err := tree.Prove([]byte("k"))
	fatalIfErr(t, err)
	var wrongRoot urkel.Digest
	wrongRoot[0] = 1
	if _, err := proof.Verify(wrongRoot, []byte("k")); err == nil {
		t.Fatal("Verify succeeded against the wrong root")
	}
}

func TestMaxValueSizeEnforced(t *testing.T) {
	tree, err := urkel.Open(urkel.NewMemoryStorage())
	fatalIfErr(t, err)
	tooBig := make([]byte, urkel.MaxValueSize+1)
	if err := tree.Insert([]byte("k"), tooBig); err == nil {
		t.Fatal("Insert accepted a value over MaxValueSize")
	}
}
