// Package ledger records per-chunk enhancement progress for a document.
//
// A ledger is a plain JSON record per content address. Every outcome is
// written with an atomic replace before the call returns, so the file on disk
// always describes outcomes that actually happened and a crash can lose at
// most the chunk that was in flight.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/fsutil"
)

var (
	// ErrNotFound is returned when no ledger exists for an address.
	ErrNotFound = errors.New("ledger not found")
	// ErrAlreadyCompleted rejects a failure for a chunk that already completed.
	ErrAlreadyCompleted = errors.New("chunk already completed")
	// ErrIndexOutOfRange rejects outcomes for chunks the ledger does not track.
	ErrIndexOutOfRange = errors.New("chunk index out of range")
	// ErrLedgerMismatch rejects resuming a ledger built from a different segmentation.
	ErrLedgerMismatch = errors.New("ledger does not match current segmentation")
	// ErrStorage marks failures to persist the ledger. They abort a run.
	ErrStorage = errors.New("failed to persist ledger")
)

// StorageError is a failed ledger write. It matches ErrStorage and unwraps
// to the underlying file system error.
type StorageError struct {
	Address address.Address
	Err     error
}

func (e *StorageError) Error() string {
	return ErrStorage.Error() + " " + e.Address.String() + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Outcome is the result of processing one chunk.
type Outcome struct {
	Success    bool
	ErrorClass string
	Message    string
}

// Succeeded is a successful outcome.
func Succeeded() Outcome { return Outcome{Success: true} }

// Failed is a failed outcome of the given class.
func Failed(class, message string) Outcome {
	return Outcome{ErrorClass: class, Message: message}
}

// Store persists ledgers under a directory, one file per address.
type Store struct {
	dir    string
	rename fsutil.Renamer
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRenamer overrides the final rename step of every write.
func WithRenamer(r fsutil.Renamer) StoreOption {
	return func(s *Store) { s.rename = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:    dir,
		rename: fsutil.DefaultRenamer,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the ledger file for addr.
func (s *Store) Path(addr address.Address) string {
	return filepath.Join(s.dir, addr.String()+".json")
}

// Load reads the ledger for addr.
func (s *Store) Load(addr address.Address) (Record, error) {
	data, err := os.ReadFile(s.Path(addr))
	if os.IsNotExist(err) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "failed to read ledger")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errors.Wrapf(err, "failed to parse ledger %s", s.Path(addr))
	}
	sort.Ints(rec.Completed)
	sort.Slice(rec.Failed, func(i, j int) bool { return rec.Failed[i].Index < rec.Failed[j].Index })
	return rec, nil
}

// List returns every stored ledger, most recently updated first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ledgers")
	}

	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		addr, err := address.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		rec, err := s.Load(addr)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// OpenOptions describe the run that opens a ledger.
type OpenOptions struct {
	Mode         Mode
	TotalChunks  int
	MaxChunkSize int
	Backend      string
	// RunID identifies the run. A new UUID is generated when empty.
	RunID string
}

// Open returns a handle on the ledger for addr. Fresh mode starts a new
// record; resume and retry-failed continue the stored one, or start a new
// record when none exists. The opened record is written before returning.
func (s *Store) Open(addr address.Address, opts OpenOptions) (*Ledger, error) {
	if opts.TotalChunks < 0 {
		return nil, errors.Errorf("invalid chunk count %d", opts.TotalChunks)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	now := s.now()

	rec, err := s.Load(addr)
	switch {
	case opts.Mode == ModeFresh || errors.Is(err, ErrNotFound):
		rec = Record{
			Version:      recordVersion,
			Address:      addr,
			TotalChunks:  opts.TotalChunks,
			MaxChunkSize: opts.MaxChunkSize,
			Completed:    []int{},
			Failed:       []Failure{},
			StartedAt:    now,
		}
	case err != nil:
		return nil, err
	default:
		if rec.TotalChunks != opts.TotalChunks ||
			(rec.MaxChunkSize != 0 && opts.MaxChunkSize != 0 && rec.MaxChunkSize != opts.MaxChunkSize) {
			return nil, errors.Wrapf(ErrLedgerMismatch,
				"stored ledger has %d chunks of at most %d chars, current segmentation has %d chunks of at most %d",
				rec.TotalChunks, rec.MaxChunkSize, opts.TotalChunks, opts.MaxChunkSize)
		}
	}

	rec.RunID = opts.RunID
	rec.Backend = opts.Backend
	rec.UpdatedAt = now
	if err := s.write(rec); err != nil {
		return nil, err
	}

	return &Ledger{store: s, rec: rec}, nil
}

func (s *Store) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal ledger")
	}
	if err := fsutil.WriteFileAtomicWith(s.rename, s.Path(rec.Address), data, 0o644); err != nil {
		return &StorageError{Address: rec.Address, Err: err}
	}
	return nil
}

// Ledger is a handle on one document's progress. It has a single writer, the
// enhancement run that opened it; Snapshot may be called concurrently.
type Ledger struct {
	store *Store
	mu    sync.Mutex
	rec   Record
}

// RecordOutcome persists the outcome of chunk index. The in-memory state
// advances only after the write succeeded, so a failed write leaves both the
// handle and the file as they were.
func (l *Ledger) RecordOutcome(index int, outcome Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 1 || index > l.rec.TotalChunks {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", index, l.rec.TotalChunks)
	}

	next := l.rec.Clone()
	now := l.store.now()
	if outcome.Success {
		if next.IsCompleted(index) {
			return nil
		}
		next.markCompleted(index)
	} else {
		if next.IsCompleted(index) {
			return errors.Wrapf(ErrAlreadyCompleted, "chunk %d", index)
		}
		next.markFailed(Failure{
			Index:      index,
			ErrorClass: outcome.ErrorClass,
			Message:    outcome.Message,
			FailedAt:   now,
		})
	}
	next.UpdatedAt = now

	if err := l.store.write(next); err != nil {
		return err
	}
	l.rec = next
	return nil
}

// Snapshot returns a copy of the current record.
func (l *Ledger) Snapshot() Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Clone()
}

// ChunksToProcess selects the chunks a run in mode should process.
func (l *Ledger) ChunksToProcess(mode Mode) []int {
	return l.Snapshot().ChunksToProcess(mode)
}

// Address is the content address the ledger tracks.
func (l *Ledger) Address() address.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Address
}
