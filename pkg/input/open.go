package input

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/eunmann/disteclat/internal/logctx"
	"github.com/eunmann/disteclat/pkg/s3store"
)

// Options configures Open.
type Options struct {
	// TempDir holds downloaded S3 inputs. If empty, os.TempDir() is used.
	TempDir string
	// S3 is used for s3:// inputs. Required only when such inputs are opened.
	S3 *s3store.Client
}

// IsParquet reports whether name refers to a Parquet input.
func IsParquet(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".parquet")
}

// Open opens a local path or s3:// URI. Names ending in ".parquet" are read
// as Parquet, everything else as a binary record file.
func Open(ctx context.Context, name string, opts Options) (Reader, error) {
	if !s3store.IsS3URI(name) {
		return openLocal(name)
	}

	if opts.S3 == nil {
		return nil, fmt.Errorf("open %s: no S3 client configured", name)
	}
	bucket, key, err := s3store.ParseS3URI(name)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(opts.TempDir, "disteclat-input-*-"+path.Base(key))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	n, err := opts.S3.DownloadToFile(ctx, bucket, key, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	log := logctx.FromContext(ctx)
	log.Debug().
		Str("uri", name).
		Int64("bytes", n).
		Msg("downloaded input")

	r, err := openLocal(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return &tempFileReader{Reader: r, path: tmpPath}, nil
}

func openLocal(name string) (Reader, error) {
	if IsParquet(name) {
		return OpenParquet(name)
	}
	return OpenBinary(name)
}

// tempFileReader removes its downloaded file on Close.
type tempFileReader struct {
	Reader
	path string
}

func (t *tempFileReader) Close() error {
	err := t.Reader.Close()
	if rmErr := os.Remove(t.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
