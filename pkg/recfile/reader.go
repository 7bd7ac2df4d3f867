package recfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// Reader reads frames from a record file.
type Reader struct {
	file   *os.File
	body   io.Reader
	flags  uint32
	count  uint64
	read   uint64
	path   string
	closed bool
}

// Open opens a record file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}

	br := bufio.NewReaderSize(f, 1024*1024)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	if binary.LittleEndian.Uint32(header[0:4]) != magic {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrMagicMismatch)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != version {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %d", path, ErrVersionMismatch, v)
	}

	r := &Reader{
		file:  f,
		body:  br,
		flags: binary.LittleEndian.Uint32(header[8:12]),
		count: binary.LittleEndian.Uint64(header[countOffset:headerSize]),
		path:  path,
	}
	if r.flags&FlagSnappy != 0 {
		r.body = snappy.NewReader(br)
	}
	return r, nil
}

// Next reads the next frame. Returns io.EOF when all frames have been read.
// A body that ends before the header's frame count is io.ErrUnexpectedEOF.
func (r *Reader) Next() (Frame, error) {
	if r.read >= r.count {
		return Frame{}, io.EOF
	}
	f, err := r.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("frame %d of %d: %w", r.read, r.count, err)
	}
	r.read++
	return f, nil
}

func (r *Reader) next() (Frame, error) {
	var small [4]byte
	if _, err := io.ReadFull(r.body, small[:1]); err != nil {
		return Frame{}, fmt.Errorf("read tag: %w", err)
	}
	tag := Tag(small[0])
	if tag < TagGroupStart || tag > TagShort {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}

	key, err := r.readRow(small[:])
	if err != nil {
		return Frame{}, fmt.Errorf("read key: %w", err)
	}

	if _, err := io.ReadFull(r.body, small[:]); err != nil {
		return Frame{}, fmt.Errorf("read row count: %w", err)
	}
	rows := binary.LittleEndian.Uint32(small[:])

	var value itemset.Matrix
	if rows > 0 {
		value = make(itemset.Matrix, 0, min(rows, chunkValues))
		for i := range rows {
			row, err := r.readRow(small[:])
			if err != nil {
				return Frame{}, fmt.Errorf("read value row %d: %w", i, err)
			}
			value = append(value, row)
		}
	}
	return Frame{Tag: tag, Key: key, Value: value}, nil
}

// readRow decodes a length-prefixed row. Values are read in chunks so a
// corrupt length fails on EOF instead of allocating the claimed size up front.
func (r *Reader) readRow(lenBuf []byte) (itemset.Row, error) {
	if _, err := io.ReadFull(r.body, lenBuf[:4]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:4])
	if n == 0 {
		return itemset.Row{}, nil
	}
	if n > MaxRowLen {
		return nil, fmt.Errorf("%w: row length %d", ErrCorruptFrame, n)
	}

	row := make(itemset.Row, 0, min(n, chunkValues))
	raw := make([]byte, 4*min(n, chunkValues))
	for remaining := n; remaining > 0; {
		c := min(remaining, chunkValues)
		buf := raw[:4*c]
		if _, err := io.ReadFull(r.body, buf); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		for i := 0; i < len(buf); i += 4 {
			row = append(row, binary.LittleEndian.Uint32(buf[i:]))
		}
		remaining -= c
	}
	return row, nil
}

// Count returns the number of frames in the file.
func (r *Reader) Count() uint64 {
	return r.count
}

// Compressed reports whether the body is snappy framed.
func (r *Reader) Compressed() bool {
	return r.flags&FlagSnappy != 0
}

// Path returns the path of the record file.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the record file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
