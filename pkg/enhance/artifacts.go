package enhance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/fsutil"
)

// EnhancedChunk is the generated content for one chunk.
type EnhancedChunk struct {
	Index       int           `json:"index"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Category    string        `json:"category"`
	Content     string        `json:"content"`
	Backend     string        `json:"backend"`
	RunID       string        `json:"run_id,omitempty"`
	Duration    time.Duration `json:"duration"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// ArtifactStore persists enhanced chunks under
// <dir>/<address>/enhanced/NNNN.json.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

func (s *ArtifactStore) enhancedDir(addr address.Address) string {
	return filepath.Join(s.dir, addr.String(), "enhanced")
}

func (s *ArtifactStore) path(addr address.Address, index int) string {
	return filepath.Join(s.enhancedDir(addr), fmt.Sprintf("%04d.json", index))
}

// Put writes ec atomically, replacing an earlier artifact for the same chunk.
func (s *ArtifactStore) Put(addr address.Address, ec EnhancedChunk) error {
	data, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal enhanced chunk")
	}
	if err := fsutil.WriteFileAtomic(s.path(addr, ec.Index), data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to store enhanced chunk %d", ec.Index)
	}
	return nil
}

// Clear removes every artifact stored for addr.
func (s *ArtifactStore) Clear(addr address.Address) error {
	if err := os.RemoveAll(s.enhancedDir(addr)); err != nil {
		return errors.Wrap(err, "failed to clear enhanced chunks")
	}
	return nil
}

// Get reads the artifact for one chunk.
func (s *ArtifactStore) Get(addr address.Address, index int) (EnhancedChunk, bool, error) {
	data, err := os.ReadFile(s.path(addr, index))
	if os.IsNotExist(err) {
		return EnhancedChunk{}, false, nil
	}
	if err != nil {
		return EnhancedChunk{}, false, errors.Wrap(err, "failed to read enhanced chunk")
	}
	var ec EnhancedChunk
	if err := json.Unmarshal(data, &ec); err != nil {
		return EnhancedChunk{}, false, errors.Wrapf(err, "failed to parse enhanced chunk %d", index)
	}
	return ec, true, nil
}

// LoadAll returns every stored artifact for addr keyed by chunk index.
func (s *ArtifactStore) LoadAll(addr address.Address) (map[int]EnhancedChunk, error) {
	entries, err := os.ReadDir(s.enhancedDir(addr))
	if os.IsNotExist(err) {
		return map[int]EnhancedChunk{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enhanced chunks")
	}

	out := make(map[int]EnhancedChunk, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ec, ok, err := s.Get(addr, index)
		if err != nil {
			return nil, err
		}
		if ok {
			out[index] = ec
		}
	}
	return out, nil
}
