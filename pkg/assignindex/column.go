package assignindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	columnMagic   uint32 = 0x49414345 // "ECAI"
	columnVersion uint32 = 1
	// columnHeaderSize: magic, version, width, aux, count.
	columnHeaderSize = 4 + 4 + 4 + 4 + 8
)

var (
	// ErrInvalidHeader indicates a truncated or corrupted column file.
	ErrInvalidHeader = errors.New("invalid column header")
	// ErrMagicMismatch indicates a file that is not an index column.
	ErrMagicMismatch = errors.New("column magic mismatch")
	// ErrVersionMismatch indicates an unsupported column version.
	ErrVersionMismatch = errors.New("unsupported column version")
)

type columnHeader struct {
	width uint32
	// aux is column specific. The fingerprint column stores the number of
	// hash seeds in use.
	aux   uint32
	count uint64
}

func (h columnHeader) encode() []byte {
	buf := make([]byte, columnHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], columnMagic)
	binary.LittleEndian.PutUint32(buf[4:8], columnVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.width)
	binary.LittleEndian.PutUint32(buf[12:16], h.aux)
	binary.LittleEndian.PutUint64(buf[16:24], h.count)
	return buf
}

func decodeColumnHeader(buf []byte) (columnHeader, error) {
	if len(buf) < columnHeaderSize {
		return columnHeader{}, ErrInvalidHeader
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != columnMagic {
		return columnHeader{}, ErrMagicMismatch
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != columnVersion {
		return columnHeader{}, ErrVersionMismatch
	}
	return columnHeader{
		width: binary.LittleEndian.Uint32(buf[8:12]),
		aux:   binary.LittleEndian.Uint32(buf[12:16]),
		count: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

// writeColumn writes a fixed-width column of h.count values; put encodes
// value i into dst.
func writeColumn(path string, h columnHeader, put func(dst []byte, i int)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create column: %w", err)
	}
	w := bufio.NewWriter(f)

	if _, err := w.Write(h.encode()); err != nil {
		f.Close()
		return fmt.Errorf("write column header: %w", err)
	}
	buf := make([]byte, h.width)
	for i := range int(h.count) {
		put(buf, i)
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("write column: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush column: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync column: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close column: %w", err)
	}
	return nil
}

// column is a read-only memory-mapped fixed-width column.
type column struct {
	mapped []byte
	data   []byte
	header columnHeader
}

func openColumn(path string, width uint32) (*column, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open column: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat column: %w", err)
	}
	if info.Size() < columnHeaderSize {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidHeader)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	h, err := decodeColumnHeader(mapped)
	if err != nil {
		unix.Munmap(mapped)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if h.width != width {
		unix.Munmap(mapped)
		return nil, fmt.Errorf("%s: width %d, want %d", path, h.width, width)
	}
	if want := int64(columnHeaderSize) + int64(h.count)*int64(width); info.Size() < want {
		unix.Munmap(mapped)
		return nil, fmt.Errorf("%s: file too small: %d < %d", path, info.Size(), want)
	}

	return &column{mapped: mapped, data: mapped[columnHeaderSize:], header: h}, nil
}

func (c *column) len() uint64 { return c.header.count }

// u64 and u32 do not bounds check; callers check against len.
func (c *column) u64(i uint64) uint64 {
	return binary.LittleEndian.Uint64(c.data[i*8:])
}

func (c *column) u32(i uint64) uint32 {
	return binary.LittleEndian.Uint32(c.data[i*4:])
}

func (c *column) close() error {
	if c == nil || c.mapped == nil {
		return nil
	}
	err := unix.Munmap(c.mapped)
	c.mapped, c.data = nil, nil
	if err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
