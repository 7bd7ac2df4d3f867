package assignindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relab/bbhash"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// Index answers prefix to bucket lookups. It is safe for concurrent reads;
// Close must be called once after all reads finish.
type Index struct {
	mph     *bbhash.BBHash2
	fps     *column
	buckets *column
	count   uint64
	seeds   uint32
}

// Open maps the index stored in dir.
func Open(dir string) (*Index, error) {
	mphPath := filepath.Join(dir, MPHFile)
	data, err := os.ReadFile(mphPath)
	if err != nil {
		return nil, fmt.Errorf("read MPHF: %w", err)
	}

	idx := &Index{}
	if len(data) > 0 {
		idx.mph = &bbhash.BBHash2{}
		if err := idx.mph.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("unmarshal MPHF: %w", err)
		}
	}

	idx.fps, err = openColumn(filepath.Join(dir, FPFile), 8)
	if err != nil {
		return nil, fmt.Errorf("open fingerprints: %w", err)
	}
	idx.buckets, err = openColumn(filepath.Join(dir, BucketFile), 4)
	if err != nil {
		idx.fps.close()
		return nil, fmt.Errorf("open buckets: %w", err)
	}
	if idx.fps.len() != idx.buckets.len() {
		idx.Close()
		return nil, fmt.Errorf("column length mismatch: %d fingerprints, %d buckets",
			idx.fps.len(), idx.buckets.len())
	}
	idx.count = idx.fps.len()
	idx.seeds = max(idx.fps.header.aux, 1)
	if idx.seeds > MaxSeeds {
		idx.Close()
		return nil, fmt.Errorf("%s: %w: %d hash seeds", FPFile, ErrInvalidHeader, idx.seeds)
	}
	return idx, nil
}

// Lookup returns the bucket prefix was assigned to.
func (x *Index) Lookup(prefix itemset.Prefix) (bucket int, ok bool) {
	if x.count == 0 || x.mph == nil {
		return 0, false
	}
	key := prefix.String()
	fp := fingerprint(key)
	for seed := range x.seeds {
		pos := x.mph.Find(keyHash(key, seed))
		if pos == 0 || pos > x.count {
			continue
		}
		if x.fps.u64(pos-1) == fp {
			return int(x.buckets.u32(pos - 1)), true
		}
	}
	return 0, false
}

// Len returns the number of indexed prefixes.
func (x *Index) Len() int {
	return int(x.count)
}

// Close unmaps the columns.
func (x *Index) Close() error {
	err := x.fps.close()
	if bErr := x.buckets.close(); bErr != nil && err == nil {
		err = bErr
	}
	return err
}

func putU64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

func putU32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
