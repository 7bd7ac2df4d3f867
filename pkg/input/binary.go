package input

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/recfile"
)

// binaryReader reads entries from a record file of TagPrefix and TagShort
// frames.
type binaryReader struct {
	r       *recfile.Reader
	pending *recfile.Frame
	done    bool
}

// OpenBinary opens a binary input file.
func OpenBinary(path string) (Reader, error) {
	r, err := recfile.Open(path)
	if err != nil {
		return nil, err
	}
	return &binaryReader{r: r}, nil
}

func (b *binaryReader) read() (*recfile.Frame, error) {
	if b.pending != nil {
		f := b.pending
		b.pending = nil
		return f, nil
	}
	if b.done {
		return nil, io.EOF
	}
	f, err := b.r.Next()
	if errors.Is(err, io.EOF) {
		b.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.r.Path(), err)
	}
	if f.Tag != recfile.TagPrefix && f.Tag != recfile.TagShort {
		return nil, fmt.Errorf("%s: %w: %s", b.r.Path(), ErrUnexpectedTag, f.Tag)
	}
	return &f, nil
}

func sameKey(a, b *recfile.Frame) bool {
	return a.Tag == b.Tag && slices.Equal(a.Key, b.Key)
}

func frameKey(f *recfile.Frame) string {
	if f.Tag == recfile.TagShort {
		return itemset.ShortKey
	}
	return itemset.Prefix(f.Key).String()
}

// Next returns the next entry.
func (b *binaryReader) Next() (Entry, error) {
	first, err := b.read()
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Key: frameKey(first), Records: []itemset.Matrix{first.Value}}
	for {
		f, err := b.read()
		if errors.Is(err, io.EOF) {
			return e, nil
		}
		if err != nil {
			return Entry{}, err
		}
		if !sameKey(first, f) {
			b.pending = f
			return e, nil
		}
		e.Records = append(e.Records, f.Value)
	}
}

// Close closes the underlying record file.
func (b *binaryReader) Close() error {
	return b.r.Close()
}

// WriteBinary writes entries to a binary input file.
func WriteBinary(path string, entries []Entry, opts recfile.WriterOptions) error {
	w, err := recfile.Create(path, opts)
	if err != nil {
		return err
	}

	for _, e := range entries {
		f := recfile.Frame{Tag: recfile.TagShort}
		if !e.IsShort() {
			prefix, err := itemset.ParsePrefix(e.Key)
			if err != nil {
				w.Close()
				return err
			}
			f = recfile.Frame{Tag: recfile.TagPrefix, Key: prefix.Row()}
		}
		for _, rec := range e.Records {
			f.Value = rec
			if err := w.Write(f); err != nil {
				w.Close()
				return err
			}
		}
	}

	return w.Close()
}
