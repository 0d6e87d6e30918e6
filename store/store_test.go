package store

import (
	"os"
	"path/filepath"
	"testing"

	"go.urkel.dev/urkel"
)

func fatalIfErr(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Fatal(err)
	}
}

func TestOpenFreshDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	s, err := Open(dir)
	fatalIfErr(t, err)
	defer s.Close()

	root, err := s.Root()
	fatalIfErr(t, err)
	if !root.IsEmpty() {
		t.Fatal("fresh store's root is not Empty")
	}
}

func TestCommitAndReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	fatalIfErr(t, err)
	tree, err := urkel.Open(s)
	fatalIfErr(t, err)
	for i := 0; i < 20; i++ {
		fatalIfErr(t, tree.Insert([]byte{byte(i)}, []byte{byte(i), byte(i)}))
	}
	fatalIfErr(t, tree.Commit())
	root := tree.RootHash()
	fatalIfErr(t, s.Close())

	s2, err := Open(dir)
	fatalIfErr(t, err)
	defer s2.Close()
	tree2, err := urkel.Open(s2)
	fatalIfErr(t, err)
	if tree2.RootHash() != root {
		t.Fatalf("root after reopen = %x, want %x", tree2.RootHash(), root)
	}
	for i := 0; i < 20; i++ {
		val, ok, err := tree2.Get([]byte{byte(i)})
		fatalIfErr(t, err)
		if !ok || len(val) != 2 || val[0] != byte(i) {
			t.Fatalf("key %d: got %v, %v", i, val, ok)
		}
	}
}

func TestCrashTruncationRecoversPreviousRoot(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	fatalIfErr(t, err)
	tree, err := urkel.Open(s)
	fatalIfErr(t, err)
	fatalIfErr(t, tree.Insert([]byte("k1"), []byte("v1")))
	fatalIfErr(t, tree.Commit())
	firstRoot := tree.RootHash()
	firstSize := fileLen(t, dir, s.active)

	fatalIfErr(t, tree.Insert([]byte("k2"), []byte("v2")))
	fatalIfErr(t, tree.Commit())
	secondSize := fileLen(t, dir, s.active)
	fatalIfErr(t, s.Close())

	// Truncate away every possible suffix of the second commit's epoch and
	// confirm recovery always lands on either the just-committed root or the
	// previous one, never a corrupt read (spec.md §8 item 8).
	path := filePath(dir, s.active)
	full, err := os.ReadFile(path)
	fatalIfErr(t, err)

	for k := 0; k <= int(secondSize-firstSize); k++ {
		truncated := full[:len(full)-k]
		fatalIfErr(t, os.WriteFile(path, truncated, 0o644))

		s3, err := Open(dir)
		fatalIfErr(t, err)
		tree3, err := urkel.Open(s3)
		fatalIfErr(t, err)
		got := tree3.RootHash()
		fatalIfErr(t, s3.Close())

		if got != firstRoot {
			// Past the padding+meta gap the second commit's own meta should
			// already be durable; re-derive its expected root by replaying.
			s4, err := Open(t.TempDir())
			fatalIfErr(t, err)
			replay, err := urkel.Open(s4)
			fatalIfErr(t, err)
			fatalIfErr(t, replay.Insert([]byte("k1"), []byte("v1")))
			fatalIfErr(t, replay.Insert([]byte("k2"), []byte("v2")))
			fatalIfErr(t, replay.Commit())
			fatalIfErr(t, s4.Close())
			if got != replay.RootHash() {
				t.Fatalf("k=%d: recovered root %x matches neither epoch (prev %x, latest %x)",
					k, got, firstRoot, replay.RootHash())
			}
		}
	}

	fatalIfErr(t, os.WriteFile(path, full, 0o644))
}

func fileLen(t *testing.T, dir string, active uint16) int64 {
	t.Helper()
	info, err := os.Stat(filePath(dir, active))
	fatalIfErr(t, err)
	return info.Size()
}

func TestMetaRoundTrip(t *testing.T) {
	m := metaRecord{index: 3, pos: 512, rootIndex: 2, rootPos: 128, rootLeaf: true}
	decoded, ok := decodeMeta(m.encode())
	if !ok {
		t.Fatal("decodeMeta rejected a freshly encoded record")
	}
	if decoded != m {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestDecodeMetaRejectsBadMagic(t *testing.T) {
	buf := make([]byte, metaSize)
	if _, ok := decodeMeta(buf); ok {
		t.Fatal("decodeMeta accepted a zeroed buffer with no magic")
	}
}

func TestValidFilename(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
		idx  uint16
	}{
		{"0000000001", true, 1},
		{"0000065535", true, 65535},
		{"0000065536", false, 0},
		{"00000001", false, 0},
		{"abcdefghij", false, 0},
		{"litewitness.db", false, 0},
	}
	for _, c := range cases {
		idx, ok := validFilename(c.name)
		if ok != c.ok || (ok && idx != c.idx) {
			t.Errorf("validFilename(%q) = (%d, %v), want (%d, %v)", c.name, idx, ok, c.idx, c.ok)
		}
	}
}
