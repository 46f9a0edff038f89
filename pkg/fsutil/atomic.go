// Package fsutil holds small filesystem helpers shared by the ledger, the
// extraction cache and the skill writer.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/robustio"
)

// Renamer replaces newpath with oldpath. It is swapped out in tests to
// simulate a crash between writing the temp file and publishing it.
type Renamer func(oldpath, newpath string) error

// DefaultRenamer retries transient rename failures on platforms that need it.
var DefaultRenamer Renamer = robustio.Rename

// WriteFileAtomic writes data to path so that readers observe either the old
// content or the new content, never a partial file. The data is fsynced before
// the rename publishes it.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteFileAtomicWith(DefaultRenamer, path, data, perm)
}

// WriteFileAtomicWith is WriteFileAtomic with an explicit rename step.
func WriteFileAtomicWith(rename Renamer, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrap(err, "failed to set file mode")
	}

	if err := rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
