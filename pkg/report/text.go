package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// TextReporter writes one line per itemset:
//
//	<length>\t<item>|<item>|...(<support>)
type TextReporter struct {
	w      *bufio.Writer
	c      io.Closer
	buf    []byte
	count  int64
	closed bool
}

// NewTextReporter creates a text reporter writing to w. If w is an io.Closer
// it is closed by Close.
func NewTextReporter(w io.Writer) *TextReporter {
	r := &TextReporter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r
}

// AppendLine appends the text form of an itemset, without a newline, to dst.
func AppendLine(dst []byte, items []itemset.Item, support int64) []byte {
	dst = strconv.AppendInt(dst, int64(len(items)), 10)
	dst = append(dst, '\t')
	for i, item := range items {
		if i > 0 {
			dst = append(dst, '|')
		}
		dst = strconv.AppendUint(dst, uint64(item), 10)
	}
	dst = append(dst, '(')
	dst = strconv.AppendInt(dst, support, 10)
	return append(dst, ')')
}

// Report writes one line.
func (r *TextReporter) Report(items []itemset.Item, support int64) error {
	if r.closed {
		return ErrClosed
	}
	r.buf = AppendLine(r.buf[:0], items, support)
	r.buf = append(r.buf, '\n')
	if _, err := r.w.Write(r.buf); err != nil {
		return fmt.Errorf("write itemset: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of lines written.
func (r *TextReporter) Count() int64 {
	return r.count
}

// Close flushes buffered lines and closes the underlying writer.
func (r *TextReporter) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if r.c != nil {
		if err := r.c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	return errors.Join(errs...)
}
