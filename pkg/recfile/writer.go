package recfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// BufferSize is the write buffer size. Default: 1MB.
	BufferSize int
	// Snappy compresses the body as a snappy framed stream.
	Snappy bool
}

// Writer appends frames to a record file.
type Writer struct {
	file   *os.File
	writer *bufio.Writer
	body   io.Writer
	snappy *snappy.Writer
	flags  uint32
	count  uint64
	bytes  int64
	path   string
	buf    []byte
	closed bool
}

// Create creates a record file at path.
func Create(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create record file: %w", err)
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024 * 1024
	}

	w := &Writer{
		file:   f,
		writer: bufio.NewWriterSize(f, opts.BufferSize),
		path:   path,
		buf:    make([]byte, 256),
	}
	w.body = w.writer
	if opts.Snappy {
		w.flags |= FlagSnappy
		w.snappy = snappy.NewBufferedWriter(w.writer)
		w.body = w.snappy
	}

	if _, err := w.writer.Write(encodeHeader(w.flags, 0)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}

	return w, nil
}

// Write appends a single frame.
func (w *Writer) Write(f Frame) error {
	size := f.EncodedSize()
	if cap(w.buf) < size {
		w.buf = make([]byte, size*2)
	}
	buf := w.buf[:size]

	buf[0] = byte(f.Tag)
	offset := 1
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Key)))
	offset += 4
	for _, v := range f.Key {
		binary.LittleEndian.PutUint32(buf[offset:], v)
		offset += 4
	}

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Value)))
	offset += 4
	for _, row := range f.Value {
		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(row)))
		offset += 4
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[offset:], v)
			offset += 4
		}
	}

	if _, err := w.body.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	w.count++
	w.bytes += int64(size)
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() uint64 {
	return w.count
}

// Bytes returns the number of uncompressed body bytes written.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Path returns the path of the record file.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes buffered frames, patches the frame count into the header,
// and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.snappy != nil {
		if err := w.snappy.Close(); err != nil {
			w.file.Close()
			return fmt.Errorf("close snappy stream: %w", err)
		}
	}

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush: %w", err)
	}

	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], w.count)
	if _, err := w.file.WriteAt(countBuf[:], countOffset); err != nil {
		w.file.Close()
		return fmt.Errorf("update header: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close record file: %w", err)
	}
	return nil
}
