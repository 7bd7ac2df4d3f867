// Package output stages reducer artifacts under a per-attempt temporary
// directory and commits them into the output root only on success.
//
// Committed layout:
//
//	bucket-<n>              prefix groups assigned to bucket n (record file)
//	shortfis/shortfis       short frequent itemsets, one per line
//	shortfis/length-counts  short itemset counts per length
//	index/                  prefix -> bucket assignment index
//	manifest.json           run counters, bucket totals and file checksums
//	_SUCCESS                written last
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/eunmann/disteclat/internal/logctx"
	"github.com/eunmann/disteclat/pkg/assignindex"
	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/recfile"
	"github.com/eunmann/disteclat/pkg/report"
	"github.com/eunmann/disteclat/pkg/s3store"
)

// Names inside the output root.
const (
	TemporaryDir     = "_temporary"
	SuccessMarker    = "_SUCCESS"
	BucketPrefix     = "bucket-"
	ShortDir         = "shortfis"
	ShortFile        = "shortfis"
	LengthCountsFile = "length-counts"
	IndexDir         = "index"
)

var (
	// ErrOutputExists indicates the root already holds a committed output.
	ErrOutputExists = errors.New("output already committed")
	// ErrClosed indicates use of a committed or aborted Dir.
	ErrClosed = errors.New("output closed")
	// ErrCorrupt indicates a committed file that does not match its manifest.
	ErrCorrupt = errors.New("output file does not match manifest")
)

// BucketFileName returns the file name of bucket n.
func BucketFileName(n int) string {
	return BucketPrefix + strconv.Itoa(n)
}

// Upload sends the committed output to S3.
type Upload struct {
	Client *s3store.Client
	Bucket string
	Prefix string
}

// Options configures Create.
type Options struct {
	// Root is the local output directory.
	Root string
	// Attempt names the staging directory. Defaults to a time-based id.
	Attempt string
	// Records configures the bucket record files.
	Records recfile.WriterOptions
	// Upload, if set, uploads the committed root after commit.
	Upload *Upload
}

type bucketFile struct {
	w      *recfile.Writer
	groups int64
}

// Dir is the output of one reducer attempt. It implements bucket.Emitter.
// Not safe for concurrent use.
type Dir struct {
	opts    Options
	staging string

	buckets map[int]*bucketFile
	index   *assignindex.Builder

	text    *report.TextReporter
	lengths *report.LengthCountReporter
	short   report.Reporter

	closed bool
}

// Create prepares the staging directory and opens the short itemset files.
func Create(opts Options) (*Dir, error) {
	if opts.Root == "" {
		return nil, errors.New("output root is required")
	}
	if _, err := os.Stat(filepath.Join(opts.Root, SuccessMarker)); err == nil {
		return nil, fmt.Errorf("%s: %w", opts.Root, ErrOutputExists)
	}
	if opts.Attempt == "" {
		opts.Attempt = fmt.Sprintf("attempt_%d_%d", time.Now().UnixNano(), os.Getpid())
	}

	staging := filepath.Join(opts.Root, TemporaryDir, opts.Attempt)
	if err := os.MkdirAll(filepath.Join(staging, ShortDir), 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	d := &Dir{
		opts:    opts,
		staging: staging,
		buckets: make(map[int]*bucketFile),
		index:   assignindex.NewBuilder(),
	}

	textFile, err := os.Create(filepath.Join(staging, ShortDir, ShortFile))
	if err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("create short itemset file: %w", err)
	}
	lengthFile, err := os.Create(filepath.Join(staging, ShortDir, LengthCountsFile))
	if err != nil {
		textFile.Close()
		os.RemoveAll(staging)
		return nil, fmt.Errorf("create length count file: %w", err)
	}
	d.text = report.NewTextReporter(textFile)
	d.lengths = report.NewLengthCountReporter(lengthFile)
	d.short = report.Tee(d.text, d.lengths)
	return d, nil
}

// StagingDir returns the attempt's staging directory.
func (d *Dir) StagingDir() string {
	return d.staging
}

// Attempt returns the attempt id.
func (d *Dir) Attempt() string {
	return d.opts.Attempt
}

// ShortReporter returns the reporter for short itemsets. The caller closes
// it before Commit.
func (d *Dir) ShortReporter() report.Reporter {
	return d.short
}

// Emit appends a frame to bucket's record file, creating it on first use.
func (d *Dir) Emit(bucket int, f recfile.Frame) error {
	if d.closed {
		return ErrClosed
	}
	bf, ok := d.buckets[bucket]
	if !ok {
		w, err := recfile.Create(filepath.Join(d.staging, BucketFileName(bucket)), d.opts.Records)
		if err != nil {
			return fmt.Errorf("bucket %d: %w", bucket, err)
		}
		bf = &bucketFile{w: w}
		d.buckets[bucket] = bf
	}
	if f.Tag == recfile.TagGroupStart {
		bf.groups++
	}
	if err := bf.w.Write(f); err != nil {
		return fmt.Errorf("bucket %d: %w", bucket, err)
	}
	return nil
}

// Assigned records a prefix placement for the assignment index.
func (d *Dir) Assigned(prefix itemset.Prefix, bucket int) error {
	if d.closed {
		return ErrClosed
	}
	return d.index.Add(prefix, bucket)
}

// closeBuckets closes every bucket writer and returns the first error.
func (d *Dir) closeBuckets() error {
	var firstErr error
	for n, bf := range d.buckets {
		if err := bf.w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close bucket %d: %w", n, err)
		}
	}
	return firstErr
}

// Commit closes all writers, writes the index and manifest, and moves the
// staged files into the root. The short reporter must already be closed.
// On failure the staging directory is removed and nothing is committed.
func (d *Dir) Commit(ctx context.Context, stats RunStats) error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	start := time.Now()
	log := logctx.FromContext(ctx)

	if err := d.finish(stats); err != nil {
		d.closeBuckets()
		d.short.Close()
		os.RemoveAll(d.staging)
		return err
	}
	if err := d.promote(); err != nil {
		return err
	}
	log.Info().
		Str("root", d.opts.Root).
		Int("buckets", len(d.buckets)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("output committed")

	if up := d.opts.Upload; up != nil {
		n, err := up.Client.UploadDir(ctx, log, d.opts.Root, up.Bucket, up.Prefix)
		if err != nil {
			return fmt.Errorf("upload output: %w", err)
		}
		log.Info().Int("files", n).Str("bucket", up.Bucket).Str("prefix", up.Prefix).Msg("output uploaded")
	}
	return nil
}

func (d *Dir) finish(stats RunStats) error {
	if err := d.closeBuckets(); err != nil {
		return err
	}
	// Idempotent; normally already closed by the caller.
	if err := d.short.Close(); err != nil {
		return fmt.Errorf("close short itemsets: %w", err)
	}

	indexDir := filepath.Join(d.staging, IndexDir)
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := d.index.Build(indexDir); err != nil {
		return fmt.Errorf("build assignment index: %w", err)
	}

	m := Manifest{
		Version:       ManifestVersion,
		CreatedAt:     time.Now().UTC(),
		Attempt:       d.opts.Attempt,
		MinSupport:    stats.MinSupport,
		Capacity:      stats.Capacity,
		Entries:       stats.Entries,
		GroupsPruned:  stats.GroupsPruned,
		ItemsPruned:   stats.ItemsPruned,
		ShortItemsets: d.text.Count(),
		LengthCounts:  d.lengths.Counts(),
	}
	for n, total := range stats.BucketTotals {
		info := BucketInfo{Ordinal: n, TIDs: total}
		if bf, ok := d.buckets[n]; ok {
			info.Groups = bf.groups
			info.Frames = bf.w.Count()
			info.File = BucketFileName(n)
		}
		m.Buckets = append(m.Buckets, info)
	}
	if err := m.fillFiles(d.staging); err != nil {
		return fmt.Errorf("manifest files: %w", err)
	}
	return m.write(d.staging)
}

// promote renames staged entries into the root, then writes the success
// marker.
func (d *Dir) promote() error {
	entries, err := os.ReadDir(d.staging)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}
	for _, e := range entries {
		src := filepath.Join(d.staging, e.Name())
		dst := filepath.Join(d.opts.Root, e.Name())
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("clear %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("commit %s: %w", e.Name(), err)
		}
	}
	if err := os.RemoveAll(filepath.Join(d.opts.Root, TemporaryDir)); err != nil {
		return fmt.Errorf("remove staging: %w", err)
	}
	if err := syncWrite(filepath.Join(d.opts.Root, SuccessMarker), nil); err != nil {
		return fmt.Errorf("write success marker: %w", err)
	}
	return nil
}

// Abort closes all writers and removes the staging directory. Nothing is
// committed.
func (d *Dir) Abort() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.closeBuckets()
	d.short.Close()
	if err := os.RemoveAll(d.staging); err != nil {
		return fmt.Errorf("remove staging: %w", err)
	}
	return nil
}
