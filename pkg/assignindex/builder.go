// Package assignindex records which bucket each prefix group was assigned
// to, as a minimal perfect hash over prefixes with mmap'd value columns.
//
// Directory layout:
//
//	mph.bin     serialized bbhash over seeded FNV-64a prefix hashes (empty if no prefixes)
//	fp.u64      FNV-64 fingerprints, in hash order; header aux holds the seed count
//	bucket.u32  bucket ordinals, in hash order
package assignindex

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/relab/bbhash"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// File names inside an index directory.
const (
	MPHFile    = "mph.bin"
	FPFile     = "fp.u64"
	BucketFile = "bucket.u32"
)

// MaxSeeds bounds how many hash seeds a prefix may try before Add gives up.
const MaxSeeds = 8

var (
	// ErrDuplicatePrefix indicates a prefix was recorded twice.
	ErrDuplicatePrefix = errors.New("duplicate prefix in assignment index")
	// ErrHashExhausted indicates a prefix collided with other prefixes under
	// every seed.
	ErrHashExhausted = errors.New("no free hash seed for prefix")
)

// keyHash is replaced in tests to force collisions.
var keyHash = hashKey

type assignment struct {
	key    string
	fp     uint64
	bucket uint32
}

// Builder accumulates prefix assignments in memory.
type Builder struct {
	byHash map[uint64]assignment
	keys   []uint64
	seeds  uint32
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{byHash: make(map[uint64]assignment), seeds: 1}
}

// Add records that prefix was placed in bucket. A prefix whose hash is taken
// by a different prefix moves on to the next seed.
func (b *Builder) Add(prefix itemset.Prefix, bucket int) error {
	key := prefix.String()
	for seed := range uint32(MaxSeeds) {
		h := keyHash(key, seed)
		taken, ok := b.byHash[h]
		if !ok {
			b.byHash[h] = assignment{key: key, fp: fingerprint(key), bucket: uint32(bucket)}
			b.keys = append(b.keys, h)
			b.seeds = max(b.seeds, seed+1)
			return nil
		}
		if taken.key == key {
			return fmt.Errorf("%w: %q", ErrDuplicatePrefix, key)
		}
	}
	return fmt.Errorf("%w: %q", ErrHashExhausted, key)
}

// Len returns the number of recorded prefixes.
func (b *Builder) Len() int {
	return len(b.keys)
}

// Build writes the index files into dir, which must exist.
func (b *Builder) Build(dir string) error {
	if len(b.keys) == 0 {
		return b.writeEmpty(dir)
	}

	mph, err := bbhash.New(b.keys, bbhash.Gamma(2.0))
	if err != nil {
		return fmt.Errorf("build MPHF: %w", err)
	}
	data, err := mph.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal MPHF: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MPHFile), data, 0o644); err != nil {
		return fmt.Errorf("write MPHF: %w", err)
	}

	// bbhash positions are 1-indexed.
	ordered := make([]assignment, len(b.keys))
	for _, h := range b.keys {
		pos := mph.Find(h)
		if pos == 0 || pos > uint64(len(ordered)) {
			return fmt.Errorf("MPHF lookup failed for key %x", h)
		}
		ordered[pos-1] = b.byHash[h]
	}

	return b.writeColumns(dir, ordered)
}

func (b *Builder) writeEmpty(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, MPHFile), nil, 0o644); err != nil {
		return fmt.Errorf("write empty MPHF: %w", err)
	}
	return b.writeColumns(dir, nil)
}

func (b *Builder) writeColumns(dir string, ordered []assignment) error {
	n := uint64(len(ordered))
	if err := writeColumn(filepath.Join(dir, FPFile), columnHeader{width: 8, aux: b.seeds, count: n}, func(dst []byte, i int) {
		putU64(dst, ordered[i].fp)
	}); err != nil {
		return fmt.Errorf("fingerprints: %w", err)
	}
	if err := writeColumn(filepath.Join(dir, BucketFile), columnHeader{width: 4, count: n}, func(dst []byte, i int) {
		putU32(dst, ordered[i].bucket)
	}); err != nil {
		return fmt.Errorf("buckets: %w", err)
	}
	return nil
}

// hashKey is FNV-64a of the key. Non-zero seeds are mixed in ahead of the key.
func hashKey(s string, seed uint32) uint64 {
	h := fnv.New64a()
	if seed > 0 {
		var buf [4]byte
		putU32(buf[:], seed)
		h.Write(buf[:])
	}
	h.Write([]byte(s))
	return h.Sum64()
}

// fingerprint uses a different hash than hashKey so a foreign key that lands
// on an occupied slot is rejected. It does not depend on the seed.
func fingerprint(s string) uint64 {
	h := fnv.New64()
	h.Write([]byte(s))
	return h.Sum64()
}
