package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Cache stores extraction results on disk keyed by document content hash,
// so re-submitting the same receipt file never re-runs the backend. Writes
// are atomic (temp file then rename).
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir, creating it if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key returns the content hash used as the cache key.
func Key(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached extraction for the content, or (nil, false) on
// miss. A corrupt cache entry counts as a miss.
func (c *Cache) Get(content []byte) (*Extraction, bool) {
	data, err := os.ReadFile(c.path(Key(content)))
	if err != nil {
		return nil, false
	}
	var e Extraction
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	return &e, true
}

// Put stores an extraction result for the content.
func (c *Cache) Put(content []byte, e *Extraction) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal extraction: %w", err)
	}

	path := c.path(Key(content))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
