// Package store implements the log-structured, append-only backing store
// for a go.urkel.dev/urkel.Tree: data files named as zero-padded decimal
// file indices, a self-describing 16-byte meta record appended after every
// commit, and backward-scan crash recovery (spec.md §4.C).
package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.urkel.dev/urkel"
)

// writeBufferCapacity is the target size hint for the in-memory append
// buffer (spec.md §4.C). It is not a hard limit: a single commit may exceed
// it.
const writeBufferCapacity = 4 * 1024 * 1024

// Metrics receives operational counters from a Store. Implementations must
// be safe to call from a single goroutine at a time, matching the Store
// itself.
type Metrics interface {
	// ObserveCommit is called once per successful Commit with its wall-clock
	// duration and the number of bytes written to the active file.
	ObserveCommit(duration time.Duration, bytesWritten int)
	// IncNodesWritten is called once per node flushed during a commit.
	IncNodesWritten(isLeaf bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommit(time.Duration, int) {}
func (noopMetrics) IncNodesWritten(bool)              {}

// Option configures a Store at Open time.
type Option func(*Store)

// WithMetrics wires m to receive the Store's operational counters.
func WithMetrics(m Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger replaces the Store's logger, which defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the canonical, durable go.urkel.dev/urkel.Storage
// implementation.
type Store struct {
	dir    string
	active uint16 // index of the active (highest-numbered) data file

	file *os.File // append-mode handle on the active file, held for the store's lifetime
	pos  uint32   // logical end of buffered + already-flushed data in the active file

	meta metaRecord
	buf  []byte

	log     *slog.Logger
	metrics Metrics
}

var _ urkel.Storage = (*Store)(nil)

// Open opens (creating if absent) a log-structured store rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("urkel/store: creating %s: %w", dir, err)
	}

	s := &Store{dir: dir, log: slog.Default(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(s)
	}

	indices, err := listDataFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("urkel/store: listing data files in %s: %w", dir, err)
	}

	active := uint16(1)
	if len(indices) > 0 {
		active = indices[0]
	}

	size, err := fileSize(filePath(dir, active))
	if err != nil {
		return nil, fmt.Errorf("urkel/store: statting active file: %w", err)
	}

	if size == 0 {
		// rootIndex 0 is the "no committed root yet" sentinel, matching the
		// urkel package's own convention that node index 0 means unpersisted:
		// using the active file's own index here would be indistinguishable
		// from a legitimate node written at position 0.
		s.meta = metaRecord{index: active, pos: 0, rootIndex: 0, rootPos: 0, rootLeaf: false}
		s.pos = 0
	} else {
		rf, err := os.Open(filePath(dir, active))
		if err != nil {
			return nil, fmt.Errorf("urkel/store: opening active file for recovery: %w", err)
		}
		m, err := scanMetaBackward(rf, size)
		rf.Close()
		if err != nil {
			return nil, err
		}
		s.meta = m
		s.pos = m.pos + metaSize
		if int64(s.pos) < size {
			// Drop the incomplete tail of an interrupted commit so the next
			// append starts right after the recovered meta record.
			if err := os.Truncate(filePath(dir, active), int64(s.pos)); err != nil {
				return nil, fmt.Errorf("urkel/store: truncating incomplete tail: %w", err)
			}
		}
	}
	s.active = active

	f, err := os.OpenFile(filePath(dir, active), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("urkel/store: opening active file for append: %w", err)
	}
	s.file = f
	s.buf = make([]byte, 0, writeBufferCapacity)

	return s, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Root implements urkel.Storage. It returns a Hash placeholder carrying the
// root's real digest, computed once here rather than left zero: an Internal
// root's hash folds out of its children's descriptor-embedded hashes with
// no extra reads, and a Leaf root needs exactly one extra value read to
// know its hash before any caller asks for RootHash.
func (s *Store) Root() (*urkel.Node, error) {
	if s.meta.rootIndex == 0 {
		return urkel.EmptyNode(), nil
	}

	n, err := s.ReadNode(s.meta.rootIndex, s.meta.rootPos, s.meta.rootLeaf)
	if err != nil {
		return nil, fmt.Errorf("urkel/store: reading root node: %w", err)
	}

	var hash urkel.Digest
	if s.meta.rootLeaf {
		val, err := s.ReadValue(n.ValueIndex, n.ValuePos, n.ValueSize)
		if err != nil {
			return nil, fmt.Errorf("urkel/store: reading root value: %w", err)
		}
		hash = urkel.HashLeaf(n.Key, val)
	} else {
		hash = n.Hash()
	}
	return urkel.NewHashPlaceholder(s.meta.rootIndex, s.meta.rootPos, s.meta.rootLeaf, hash), nil
}

// WriteNode implements urkel.Storage.
func (s *Store) WriteNode(data []byte) (uint16, uint32, error) {
	pos := s.pos
	s.buf = append(s.buf, data...)
	s.pos += uint32(len(data))
	if len(data) == urkel.LeafSize || len(data) == urkel.InternalSize {
		s.metrics.IncNodesWritten(len(data) == urkel.LeafSize)
	}
	return s.active, pos, nil
}

// WriteValue implements urkel.Storage.
func (s *Store) WriteValue(data []byte) (uint16, uint32, error) {
	pos := s.pos
	s.buf = append(s.buf, data...)
	s.pos += uint32(len(data))
	return s.active, pos, nil
}

// ReadNode implements urkel.Storage. It opens a fresh read-only handle
// rather than seeking the append handle: mixing seeks with append-mode
// writes is undefined on some platforms, so the two are kept strictly
// separate.
func (s *Store) ReadNode(index uint16, pos uint32, isLeaf bool) (*urkel.Node, error) {
	size := urkel.InternalSize
	if isLeaf {
		size = urkel.LeafSize
	}
	buf, err := s.readAt(index, pos, size)
	if err != nil {
		return nil, err
	}
	if isLeaf {
		return urkel.DecodeLeaf(buf)
	}
	return urkel.DecodeInternal(buf)
}

// ReadValue implements urkel.Storage.
func (s *Store) ReadValue(index uint16, pos uint32, size uint16) ([]byte, error) {
	return s.readAt(index, pos, int(size))
}

func (s *Store) readAt(index uint16, pos uint32, size int) ([]byte, error) {
	f, err := os.Open(filePath(s.dir, index))
	if err != nil {
		return nil, fmt.Errorf("urkel/store: opening %s for read: %w", filename(index), err)
	}
	defer f.Close()

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(pos)); err != nil {
		return nil, fmt.Errorf("urkel/store: reading %s at %d: %w", filename(index), pos, err)
	}
	return buf, nil
}

// Commit implements urkel.Storage. It pads the buffer to the next 16-byte
// boundary, appends a meta record describing root, writes the whole buffer
// to the active file, flushes, and fsyncs — in that order, so a crash
// during the write leaves only an incomplete tail that backward-scan
// recovery will skip over.
func (s *Store) Commit(root *urkel.Node) error {
	start := time.Now()

	rootIndex, rootPos := root.StorageLocation()
	if root.IsEmpty() {
		rootIndex, rootPos = 0, 0
	}

	pad := metaSize - (int64(s.pos) % metaSize)
	if pad == metaSize {
		pad = 0
	}
	s.buf = append(s.buf, make([]byte, pad)...)
	s.pos += uint32(pad)

	m := metaRecord{
		index:     s.active,
		pos:       s.pos,
		rootIndex: rootIndex,
		rootPos:   rootPos,
		rootLeaf:  root.IsLeaf(),
	}
	s.buf = append(s.buf, m.encode()...)
	s.pos += metaSize

	n, err := s.file.Write(s.buf)
	if err != nil {
		return fmt.Errorf("urkel/store: writing commit buffer: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("urkel/store: fsync: %w", err)
	}

	s.metrics.ObserveCommit(time.Since(start), n)
	s.meta = m
	s.buf = s.buf[:0]
	s.log.Info("committed", "file", filename(s.active), "root_index", rootIndex, "root_pos", rootPos, "bytes", n)
	return nil
}

// Close best-effort flushes and fsyncs the active file handle, and then
// closes it. Anything buffered but never committed is discarded: Close is
// not a substitute for Commit.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if syncErr != nil {
		return fmt.Errorf("urkel/store: sync on close: %w", syncErr)
	}
	return closeErr
}

var _ io.Closer = (*Store)(nil)
