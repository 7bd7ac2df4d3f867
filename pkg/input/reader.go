// Package input reads the reducer's input stream: prefix keys, each with the
// records the shuffle grouped under it.
//
// Readers group consecutive records with the same key into one Entry, so a
// broken upstream merge shows up as an Entry holding more than one record.
package input

import (
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// Entry is one key of the input stream with its grouped records.
type Entry struct {
	// Key is the prefix text form, or itemset.ShortKey.
	Key string
	// Records are the values grouped under Key, in arrival order.
	Records []itemset.Matrix
}

// IsShort reports whether the entry carries finalized short itemsets.
func (e Entry) IsShort() bool {
	return e.Key == itemset.ShortKey
}

// Reader is the interface for reading the input stream.
type Reader interface {
	// Next returns the next entry. Returns io.EOF when all entries have been read.
	Next() (Entry, error)

	// Close releases resources associated with the reader.
	Close() error
}

// ErrUnexpectedTag indicates a binary input frame that is not an input tag.
var ErrUnexpectedTag = errors.New("unexpected frame tag in input")

// multiReader reads several readers back to back.
type multiReader struct {
	readers []Reader
	current int
}

// Concat returns a Reader that drains readers in order. Closing it closes
// every reader.
func Concat(readers ...Reader) Reader {
	return &multiReader{readers: readers}
}

func (m *multiReader) Next() (Entry, error) {
	for m.current < len(m.readers) {
		e, err := m.readers[m.current].Next()
		if errors.Is(err, io.EOF) {
			m.current++
			continue
		}
		if err != nil {
			return Entry{}, fmt.Errorf("input %d: %w", m.current, err)
		}
		return e, nil
	}
	return Entry{}, io.EOF
}

func (m *multiReader) Close() error {
	var firstErr error
	for _, r := range m.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
