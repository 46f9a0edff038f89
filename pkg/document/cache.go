package document

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/fsutil"
)

const cacheFileName = "document.json"

// Cache stores extracted documents under <dir>/<address>/document.json.
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) path(addr address.Address) string {
	return filepath.Join(c.dir, addr.String(), cacheFileName)
}

// Get loads the cached document for addr. The boolean is false on a miss.
// A corrupt cache entry is treated as a miss.
func (c *Cache) Get(addr address.Address) (*Document, bool, error) {
	data, err := os.ReadFile(c.path(addr))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read cached document")
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, nil
	}
	if doc.Address != addr {
		return nil, false, nil
	}
	return &doc, true, nil
}

// Put stores doc under its address.
func (c *Cache) Put(doc *Document) error {
	if !doc.Address.Valid() {
		return errors.Errorf("document has invalid address %q", doc.Address)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}
	return fsutil.WriteFileAtomic(c.path(doc.Address), data, 0o644)
}
