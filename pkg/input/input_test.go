package input

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/recfile"
)

func sampleEntries() []Entry {
	return []Entry{
		{Key: "1 2", Records: []itemset.Matrix{{
			{3, 1}, {10, 11, 12},
			{4, 2}, {20}, {21, 22},
		}}},
		{Key: itemset.ShortKey, Records: []itemset.Matrix{
			{{5}, {9}},
			{{5, 6}, {4}},
		}},
		{Key: "7", Records: []itemset.Matrix{{{8, 1}, {1, 2}}}},
	}
}

func readAll(t *testing.T, r Reader) []Entry {
	t.Helper()
	var got []Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, e)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return got
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "in.rec")
		want := sampleEntries()
		if err := WriteBinary(path, want, recfile.WriterOptions{Snappy: compressed}); err != nil {
			t.Fatalf("WriteBinary() error = %v", err)
		}
		r, err := OpenBinary(path)
		if err != nil {
			t.Fatalf("OpenBinary() error = %v", err)
		}
		got := readAll(t, r)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("snappy=%v: got %v, want %v", compressed, got, want)
		}
	}
}

func TestBinaryGroupsRepeatedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.rec")
	entries := []Entry{
		{Key: "1", Records: []itemset.Matrix{{{2, 1}, {5}}, {{3, 1}, {6}}}},
		{Key: "2", Records: []itemset.Matrix{{{3, 1}, {7}}}},
	}
	if err := WriteBinary(path, entries, recfile.WriterOptions{}); err != nil {
		t.Fatal(err)
	}
	r, err := OpenBinary(path)
	if err != nil {
		t.Fatal(err)
	}
	got := readAll(t, r)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if len(got[0].Records) != 2 {
		t.Errorf("first entry has %d records, want 2", len(got[0].Records))
	}
	if got[0].IsShort() || got[1].Key != "2" {
		t.Errorf("unexpected entries %v", got)
	}
}

func TestBinaryRejectsBucketFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.rec")
	w, err := recfile.Create(path, recfile.WriterOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(recfile.Frame{Tag: recfile.TagGroupStart, Key: itemset.Row{1}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := OpenBinary(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Next(); !errors.Is(err, ErrUnexpectedTag) {
		t.Errorf("Next() error = %v, want ErrUnexpectedTag", err)
	}
}

func TestWriteBinaryBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rec")
	err := WriteBinary(path, []Entry{{Key: "x", Records: []itemset.Matrix{{{1}}}}}, recfile.WriterOptions{})
	if !errors.Is(err, itemset.ErrInvalidPrefix) {
		t.Errorf("WriteBinary() error = %v, want ErrInvalidPrefix", err)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.parquet")
	want := sampleEntries()
	if err := WriteParquet(path, want); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}
	r, err := OpenParquet(path)
	if err != nil {
		t.Fatalf("OpenParquet() error = %v", err)
	}
	got := readAll(t, r)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCellRows(t *testing.T) {
	rows := CellRows([]Entry{{Key: "1", Records: []itemset.Matrix{{{2, 1}, {5, 6}}, {{3, 0}}}}})
	want := []CellRow{
		{Key: "1", Record: 0, Values: []uint32{2, 1}},
		{Key: "1", Record: 0, Values: []uint32{5, 6}},
		{Key: "1", Record: 1, Values: []uint32{3, 0}},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("CellRows() = %v, want %v", rows, want)
	}
}

func TestOpenDispatch(t *testing.T) {
	dir := t.TempDir()
	entries := sampleEntries()

	pq := filepath.Join(dir, "a.PARQUET")
	if err := WriteParquet(pq, entries[:1]); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "b.rec")
	if err := WriteBinary(bin, entries[1:], recfile.WriterOptions{}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := Open(ctx, pq, Options{})
	if err != nil {
		t.Fatalf("Open(parquet) error = %v", err)
	}
	b, err := Open(ctx, bin, Options{})
	if err != nil {
		t.Fatalf("Open(binary) error = %v", err)
	}

	got := readAll(t, Concat(a, b))
	if !reflect.DeepEqual(got, entries) {
		t.Errorf("got %v, want %v", got, entries)
	}
}

func TestOpenS3WithoutClient(t *testing.T) {
	if _, err := Open(context.Background(), "s3://bucket/key.rec", Options{}); err == nil {
		t.Error("expected error without S3 client")
	}
}

func TestConcatEmpty(t *testing.T) {
	r := Concat()
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestBinaryTruncatedInputFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.rec")
	if err := WriteBinary(path, sampleEntries(), recfile.WriterOptions{}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Drop every frame after the first prefix frame.
	rest := []recfile.Frame{
		{Tag: recfile.TagShort, Value: itemset.Matrix{{5}, {9}}},
		{Tag: recfile.TagShort, Value: itemset.Matrix{{5, 6}, {4}}},
		{Tag: recfile.TagPrefix, Key: itemset.Row{7}, Value: itemset.Matrix{{8, 1}, {1, 2}}},
	}
	cut := len(data)
	for _, f := range rest {
		cut -= f.EncodedSize()
	}
	if err := os.WriteFile(path, data[:cut], 0644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenBinary(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for range len(sampleEntries()) {
		_, err = r.Next()
		if err != nil {
			break
		}
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
	if errors.Is(err, io.EOF) {
		t.Error("truncated input ended like a complete one")
	}
}
