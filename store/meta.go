package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// metaSize is the fixed size of a meta record (spec.md §4.C). Meta records
// are written aligned to metaSize-byte boundaries so a backward scan only
// ever needs to inspect whole slots.
const metaSize = 16

// metaMagic identifies a 16-byte slot as a meta record rather than trailing
// node/value payload.
const metaMagic uint32 = 0x6d726b6c

// metaRecord is the self-describing pointer to the committed root that is
// appended after every commit. rootPos is stored here already untagged (the
// is_leaf bit lives only in the on-disk encoding) — one iteration of the
// reference implementation stored the raw tagged value in memory and
// another the untagged value; untagged in memory is the clearer choice.
type metaRecord struct {
	index     uint16 // file containing this meta record
	pos       uint32 // offset at which this meta record starts
	rootIndex uint16 // file containing the root node
	rootPos   uint32 // offset of the root node, untagged
	rootLeaf  bool
}

func (m metaRecord) encode() []byte {
	buf := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(buf[0:4], metaMagic)
	binary.LittleEndian.PutUint16(buf[4:6], m.index)
	binary.LittleEndian.PutUint32(buf[6:10], m.pos)
	binary.LittleEndian.PutUint16(buf[10:12], m.rootIndex)
	tagged := m.rootPos << 1
	if m.rootLeaf {
		tagged |= 1
	}
	binary.LittleEndian.PutUint32(buf[12:16], tagged)
	return buf
}

func decodeMeta(buf []byte) (metaRecord, bool) {
	if len(buf) != metaSize {
		return metaRecord{}, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != metaMagic {
		return metaRecord{}, false
	}
	tagged := binary.LittleEndian.Uint32(buf[12:16])
	return metaRecord{
		index:     binary.LittleEndian.Uint16(buf[4:6]),
		pos:       binary.LittleEndian.Uint32(buf[6:10]),
		rootIndex: binary.LittleEndian.Uint16(buf[10:12]),
		rootPos:   tagged >> 1,
		rootLeaf:  tagged&1 == 1,
	}, true
}

// ErrMetaNotFound is returned when the active file is non-empty but a
// backward scan reaches the start of the file without finding a valid meta
// record: the file is corrupt, or was truncated mid meta-record.
var ErrMetaNotFound = errors.New("urkel/store: no meta record found in active file")

// scanMetaBackward finds the last complete meta record in r, which has size
// bytes. It starts at the highest metaSize-aligned offset and walks
// backward in metaSize steps, exactly as spec.md §4.C directs: a partial
// write after the last successful commit leaves garbage at the tail, and
// scanning backward finds the last complete record while ignoring it.
func scanMetaBackward(r io.ReaderAt, size int64) (metaRecord, error) {
	pos := size - (size % metaSize)
	buf := make([]byte, metaSize)
	for pos > 0 {
		pos -= metaSize
		if _, err := r.ReadAt(buf, pos); err != nil {
			return metaRecord{}, fmt.Errorf("urkel/store: reading meta candidate at %d: %w", pos, err)
		}
		if m, ok := decodeMeta(buf); ok {
			return m, nil
		}
	}
	return metaRecord{}, ErrMetaNotFound
}
