package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/logger"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a catalog when files under its skills directory change.
type Watcher struct {
	catalog  *Catalog
	debounce time.Duration
	onReload func(*Index, error)
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides the debounce delay.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadHook is called after every reload attempt.
func WithReloadHook(fn func(*Index, error)) WatchOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a watcher for catalog.
func NewWatcher(catalog *Catalog, opts ...WatchOption) *Watcher {
	w := &Watcher{catalog: catalog, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. The skills root and every directory under it
// are watched; new directories are added as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer fw.Close()

	root := w.catalog.Root()
	if err := fw.Add(root); err != nil {
		return errors.Wrapf(err, "failed to watch %s", root)
	}
	w.watchSkillDirs(ctx, fw)

	log := logger.G(ctx).WithField("skills_dir", root)
	log.Info("watching skills directory")

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		reload = func() {
			err := w.catalog.Reload(ctx)
			if err != nil {
				log.WithError(err).Warn("skill reload failed, keeping previous index")
			} else {
				log.WithField("skills", w.catalog.Index().Len()).Info("skill index reloaded")
			}
			if w.onReload != nil {
				w.onReload(w.catalog.Index(), err)
			}
		}
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ignored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				w.watchSkillDirs(ctx, fw)
			}
			log.WithField("file", event.Name).WithField("operation", event.Op.String()).Debug("skills change detected")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("error watching skills directory")
		case <-fire:
			fire = nil
			reload()
		}
	}
}

func (w *Watcher) watchSkillDirs(ctx context.Context, fw *fsnotify.Watcher) {
	entries, err := os.ReadDir(w.catalog.Root())
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || ignored(e.Name()) {
			continue
		}
		dir := filepath.Join(w.catalog.Root(), e.Name())
		if err := fw.Add(dir); err != nil {
			logger.G(ctx).WithError(err).WithField("directory", dir).Debug("failed to watch skill directory")
		}
	}
}

// ignored skips the temp and staging files writers create next to skills.
func ignored(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
