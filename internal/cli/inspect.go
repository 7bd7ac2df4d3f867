package cli

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/eunmann/disteclat/pkg/assignindex"
	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/output"
	"github.com/eunmann/disteclat/pkg/recfile"
)

// ErrPrefixNotFound indicates a lookup for a prefix that was never assigned.
var ErrPrefixNotFound = errors.New("prefix not found")

func runLookup(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	dir := fs.String("index", "", "output root or its index directory")
	prefixText := fs.String("prefix", "", "space-separated prefix items")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("--index is required")
	}
	if *prefixText == "" {
		return errors.New("--prefix is required")
	}

	prefix, err := itemset.ParsePrefix(*prefixText)
	if err != nil {
		return err
	}

	indexDir := *dir
	if info, err := os.Stat(filepath.Join(indexDir, output.IndexDir)); err == nil && info.IsDir() {
		indexDir = filepath.Join(indexDir, output.IndexDir)
	}
	idx, err := assignindex.Open(indexDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	b, ok := idx.Lookup(prefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrPrefixNotFound, prefix)
	}
	_, err = fmt.Fprintln(stdout, b)
	return err
}

func runDump(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	path := fs.String("file", "", "record file to print")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--file is required")
	}

	r, err := recfile.Open(*path)
	if err != nil {
		return err
	}
	defer r.Close()

	w := bufio.NewWriter(stdout)
	var line []byte
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		line = appendFrame(line[:0], f)
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return w.Flush()
}

// appendFrame renders "<tag>\t<key>\t<row>|<row>...\n" with space-separated
// values.
func appendFrame(dst []byte, f recfile.Frame) []byte {
	dst = append(dst, f.Tag.String()...)
	dst = append(dst, '\t')
	dst = appendRow(dst, f.Key)
	dst = append(dst, '\t')
	for i, row := range f.Value {
		if i > 0 {
			dst = append(dst, '|')
		}
		dst = appendRow(dst, row)
	}
	return append(dst, '\n')
}

func appendRow(dst []byte, row itemset.Row) []byte {
	for i, v := range row {
		if i > 0 {
			dst = append(dst, ' ')
		}
		dst = strconv.AppendUint(dst, uint64(v), 10)
	}
	return dst
}

func runVerify(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dir := fs.String("out", "", "committed output root")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("--out is required")
	}

	m, err := output.ReadManifest(*dir)
	if err != nil {
		return err
	}
	if err := output.Verify(*dir, m); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "ok: %d files, %d buckets\n", len(m.Files), len(m.Buckets))
	return err
}
