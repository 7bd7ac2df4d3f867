package output

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestVersion is bumped when manifest.json changes shape.
const ManifestVersion = 1

// ManifestName is the manifest file name at the output root.
const ManifestName = "manifest.json"

// Manifest describes one committed reducer output.
type Manifest struct {
	Version       int                 `json:"version"`
	CreatedAt     time.Time           `json:"created_at"`
	Attempt       string              `json:"attempt"`
	MinSupport    int64               `json:"min_support"`
	Capacity      int64               `json:"capacity"`
	Buckets       []BucketInfo        `json:"buckets"`
	Entries       int64               `json:"entries"`
	GroupsPruned  int64               `json:"groups_pruned"`
	ItemsPruned   int64               `json:"items_pruned"`
	ShortItemsets int64               `json:"short_itemsets"`
	LengthCounts  map[int]int64       `json:"length_counts,omitempty"`
	Files         map[string]FileInfo `json:"files"`
}

// BucketInfo describes one bucket. File is empty for a bucket that never
// received a group.
type BucketInfo struct {
	Ordinal int    `json:"ordinal"`
	TIDs    int64  `json:"tids"`
	Groups  int64  `json:"groups"`
	Frames  uint64 `json:"frames"`
	File    string `json:"file,omitempty"`
}

// FileInfo describes a single committed file.
type FileInfo struct {
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

// RunStats are the run counters recorded in the manifest.
type RunStats struct {
	MinSupport   int64
	Capacity     int64
	BucketTotals []int64
	Entries      int64
	GroupsPruned int64
	ItemsPruned  int64
}

// fillFiles checksums every regular file under dir, keyed by slash path.
func (m *Manifest) fillFiles(dir string) error {
	m.Files = make(map[string]FileInfo)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		sum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", rel, err)
		}
		m.Files[filepath.ToSlash(rel)] = FileInfo{Size: info.Size(), Checksum: sum}
		return nil
	})
}

func (m *Manifest) write(dir string) error {
	sort.Slice(m.Buckets, func(i, j int) bool { return m.Buckets[i].Ordinal < m.Buckets[j].Ordinal })
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := syncWrite(filepath.Join(dir, ManifestName), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest of a committed output directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Verify checks every file listed in the manifest against its size and
// checksum.
func Verify(dir string, m *Manifest) error {
	for name, info := range m.Files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		stat, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("file %s: %w", name, err)
		}
		if stat.Size() != info.Size {
			return fmt.Errorf("file %s: %w (size %d, want %d)", name, ErrCorrupt, stat.Size(), info.Size)
		}
		sum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", name, err)
		}
		if sum != info.Checksum {
			return fmt.Errorf("file %s: %w (checksum)", name, ErrCorrupt)
		}
	}
	return nil
}

func checksumFile(path string) (sum string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// syncWrite creates path with data and fsyncs it before closing.
func syncWrite(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
