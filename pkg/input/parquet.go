package input

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// CellRow is the Parquet row layout of the input stream. Each row is one
// matrix row; consecutive rows with the same Key and Record form one record,
// and consecutive records with the same Key form one entry.
type CellRow struct {
	Key    string   `parquet:"key"`
	Record int32    `parquet:"record"`
	Values []uint32 `parquet:"values,list"`
}

// parquetReader streams entries out of a Parquet file row group by row group.
type parquetReader struct {
	file      *os.File
	keyCol    int
	recordCol int
	valuesCol int

	rowGroups    []parquet.RowGroup
	currentRGIdx int
	currentRows  parquet.Rows
	rowBuf       []parquet.Row
	bufIdx       int
	bufLen       int

	pending *CellRow
}

// OpenParquet opens a Parquet input file.
func OpenParquet(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet input: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat parquet input: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	r := &parquetReader{
		file:         f,
		rowGroups:    pf.RowGroups(),
		currentRGIdx: -1,
		rowBuf:       make([]parquet.Row, 1024),
	}
	if err := r.detectColumns(pf.Schema()); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *parquetReader) detectColumns(schema *parquet.Schema) error {
	key, ok := schema.Lookup("key")
	if !ok {
		return errors.New("parquet schema missing 'key' column")
	}
	record, ok := schema.Lookup("record")
	if !ok {
		return errors.New("parquet schema missing 'record' column")
	}
	values, ok := schema.Lookup("values", "list", "element")
	if !ok {
		return errors.New("parquet schema missing 'values' list column")
	}
	r.keyCol = key.ColumnIndex
	r.recordCol = record.ColumnIndex
	r.valuesCol = values.ColumnIndex
	return nil
}

// nextRow returns the next decoded cell row.
func (r *parquetReader) nextRow() (*CellRow, error) {
	if r.pending != nil {
		c := r.pending
		r.pending = nil
		return c, nil
	}

	for {
		if r.bufIdx < r.bufLen {
			row := r.rowBuf[r.bufIdx]
			r.bufIdx++
			return r.decode(row), nil
		}

		if r.currentRows != nil {
			n, err := r.currentRows.ReadRows(r.rowBuf)
			if n > 0 {
				r.bufIdx = 0
				r.bufLen = n
				continue
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			r.currentRows.Close()
			r.currentRows = nil
		}

		r.currentRGIdx++
		if r.currentRGIdx >= len(r.rowGroups) {
			return nil, io.EOF
		}
		r.currentRows = r.rowGroups[r.currentRGIdx].Rows()
	}
}

func (r *parquetReader) decode(row parquet.Row) *CellRow {
	c := &CellRow{Values: []uint32{}}
	for _, val := range row {
		if val.IsNull() {
			continue
		}
		switch val.Column() {
		case r.keyCol:
			c.Key = val.String()
		case r.recordCol:
			c.Record = val.Int32()
		case r.valuesCol:
			c.Values = append(c.Values, val.Uint32())
		}
	}
	return c
}

// Next returns the next entry.
func (r *parquetReader) Next() (Entry, error) {
	first, err := r.nextRow()
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Key: first.Key}
	record := first.Record
	current := itemset.Matrix{itemset.Row(first.Values)}
	for {
		c, err := r.nextRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Entry{}, err
		}
		if c.Key != e.Key {
			r.pending = c
			break
		}
		if c.Record != record {
			e.Records = append(e.Records, current)
			record = c.Record
			current = nil
		}
		current = append(current, itemset.Row(c.Values))
	}
	e.Records = append(e.Records, current)
	return e, nil
}

// Close releases resources.
func (r *parquetReader) Close() error {
	if r.currentRows != nil {
		r.currentRows.Close()
		r.currentRows = nil
	}
	return r.file.Close()
}

// CellRows flattens entries into Parquet cell rows.
func CellRows(entries []Entry) []CellRow {
	var rows []CellRow
	for _, e := range entries {
		for ri, rec := range e.Records {
			for _, row := range rec {
				rows = append(rows, CellRow{
					Key:    e.Key,
					Record: int32(ri),
					Values: append([]uint32{}, row...),
				})
			}
		}
	}
	return rows
}

// WriteParquet writes entries to a Parquet input file.
func WriteParquet(path string, entries []Entry) error {
	if err := parquet.WriteFile(path, CellRows(entries)); err != nil {
		return fmt.Errorf("write parquet input: %w", err)
	}
	return nil
}
