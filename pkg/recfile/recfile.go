// Package recfile reads and writes framed keyed-record files.
//
// Bucket artifacts and binary reducer inputs share this format. Each frame is
// a tagged (key, value) pair where the key is a row of uint32 values and the
// value is a matrix of uint32 rows.
package recfile

import (
	"encoding/binary"
	"errors"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// File format:
//
// Header (24 bytes):
//   Magic:    4 bytes  (0x524C4345 = "ECLR")
//   Version:  4 bytes  (1)
//   Flags:    4 bytes  (bit 0: body is a snappy framed stream)
//   Reserved: 4 bytes
//   Count:    8 bytes  (number of frames)
//
// Frames (body, variable length each):
//   Tag:      1 byte
//   KeyLen:   4 bytes, then KeyLen * 4 bytes
//   Rows:     4 bytes, then per row: Len 4 bytes + Len * 4 bytes

const (
	magic      = 0x524C4345 // "ECLR"
	version    = 1
	headerSize = 24

	countOffset = 16

	chunkValues = 64 * 1024
)

// MaxRowLen bounds the number of values in one key or value row.
const MaxRowLen = 1 << 28

// Flags stored in the header.
const (
	FlagSnappy uint32 = 1 << 0
)

// Tag identifies the role of a frame.
type Tag uint8

const (
	// TagGroupStart opens a prefix group in a bucket artifact. Key is the
	// prefix, value is empty.
	TagGroupStart Tag = iota + 1
	// TagItem carries one item of a prefix group. Key is the item id, value is
	// its partial TID lists.
	TagItem
	// TagGroupEnd closes a prefix group. Key and value are empty.
	TagGroupEnd
	// TagPrefix carries one merged record of a reducer input. Key is the prefix.
	TagPrefix
	// TagShort carries one finalized itemset record of a reducer input under
	// the reserved short key. Key is empty.
	TagShort
)

func (t Tag) String() string {
	switch t {
	case TagGroupStart:
		return "group-start"
	case TagItem:
		return "item"
	case TagGroupEnd:
		return "group-end"
	case TagPrefix:
		return "prefix"
	case TagShort:
		return "short"
	default:
		return "unknown"
	}
}

// Frame is one tagged record.
type Frame struct {
	Tag   Tag
	Key   itemset.Row
	Value itemset.Matrix
}

// EncodedSize returns the number of body bytes the frame occupies.
func (f Frame) EncodedSize() int {
	n := 1 + 4 + 4*len(f.Key) + 4
	for _, row := range f.Value {
		n += 4 + 4*len(row)
	}
	return n
}

var (
	// ErrMagicMismatch indicates the file is not a record file.
	ErrMagicMismatch = errors.New("record file magic mismatch")
	// ErrVersionMismatch indicates an unsupported record file version.
	ErrVersionMismatch = errors.New("unsupported record file version")
	// ErrUnknownTag indicates a frame with an unrecognized tag.
	ErrUnknownTag = errors.New("unknown frame tag")
	// ErrCorruptFrame indicates a frame whose lengths cannot be valid.
	ErrCorruptFrame = errors.New("corrupt frame")
)

func encodeHeader(flags uint32, count uint64) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], flags)
	binary.LittleEndian.PutUint64(buf[countOffset:headerSize], count)
	return buf
}
