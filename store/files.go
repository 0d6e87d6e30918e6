package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// filenameWidth is the fixed width of a data file's zero-padded decimal
// name, e.g. "0000000001" (spec.md §4.C).
const filenameWidth = 10

func filename(index uint16) string {
	return fmt.Sprintf("%0*d", filenameWidth, index)
}

func filePath(dir string, index uint16) string {
	return filepath.Join(dir, filename(index))
}

// validFilename reports whether name matches the store's data file naming
// rule (exactly filenameWidth decimal digits, fitting in a uint16) and
// returns its parsed index. A name that doesn't parse is ignored, not an
// error: the directory may contain unrelated files.
func validFilename(name string) (uint16, bool) {
	if len(name) != filenameWidth {
		return 0, false
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	var n int
	for _, c := range name {
		n = n*10 + int(c-'0')
		if n > 0xffff {
			return 0, false
		}
	}
	return uint16(n), true
}

// listDataFiles returns the indices of every valid data file in dir, sorted
// in descending order (the highest is the active file).
func listDataFiles(dir string) ([]uint16, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var indices []uint16
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := validFilename(e.Name()); ok {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] > indices[j] })
	return indices, nil
}
