package ledger

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/address"
)

// Mode selects which chunks an enhancement run processes.
type Mode string

const (
	// ModeFresh processes every chunk and discards earlier progress.
	ModeFresh Mode = "fresh"
	// ModeResume continues after the last gap-free completed chunk.
	ModeResume Mode = "resume"
	// ModeRetryFailed processes exactly the chunks that failed.
	ModeRetryFailed Mode = "retry-failed"
)

// ParseMode converts a user supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFresh, ModeResume, ModeRetryFailed:
		return Mode(s), nil
	case "retry", "retry_failed":
		return ModeRetryFailed, nil
	}
	return "", errors.Errorf("unknown mode %q (expected fresh, resume or retry-failed)", s)
}

const recordVersion = 1

// Failure is the last failed outcome of a chunk.
type Failure struct {
	Index      int       `json:"index"`
	ErrorClass string    `json:"error_class"`
	Message    string    `json:"message,omitempty"`
	FailedAt   time.Time `json:"failed_at"`
}

// Record is the durable progress of one document's enhancement. Unknown
// fields in stored records are ignored so newer writers stay readable.
type Record struct {
	Version      int             `json:"version"`
	Address      address.Address `json:"address"`
	RunID        string          `json:"run_id"`
	Backend      string          `json:"backend"`
	TotalChunks  int             `json:"total_chunks"`
	MaxChunkSize int             `json:"max_chunk_size,omitempty"`
	Completed    []int           `json:"completed"`
	Failed       []Failure       `json:"failed"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Completed = append([]int(nil), r.Completed...)
	out.Failed = append([]Failure(nil), r.Failed...)
	return out
}

// IsCompleted reports whether index has completed.
func (r Record) IsCompleted(index int) bool {
	i := sort.SearchInts(r.Completed, index)
	return i < len(r.Completed) && r.Completed[i] == index
}

// FailedIndices lists failed chunk indices in ascending order.
func (r Record) FailedIndices() []int {
	out := make([]int, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = f.Index
	}
	return out
}

// FailureFor returns the failure recorded for index.
func (r Record) FailureFor(index int) (Failure, bool) {
	for _, f := range r.Failed {
		if f.Index == index {
			return f, true
		}
	}
	return Failure{}, false
}

// Pending lists indices that are neither completed nor failed.
func (r Record) Pending() []int {
	failed := make(map[int]bool, len(r.Failed))
	for _, f := range r.Failed {
		failed[f.Index] = true
	}
	var out []int
	for i := 1; i <= r.TotalChunks; i++ {
		if !failed[i] && !r.IsCompleted(i) {
			out = append(out, i)
		}
	}
	return out
}

// Done reports whether every chunk has completed.
func (r Record) Done() bool {
	return r.TotalChunks > 0 && len(r.Completed) == r.TotalChunks
}

// ChunksToProcess selects the chunk indices a run in mode should process.
//
// Resume starts after the highest completed index that has no gap below it
// and skips anything already completed past that point. Earlier gaps are
// left for retry-failed.
func (r Record) ChunksToProcess(mode Mode) []int {
	switch mode {
	case ModeRetryFailed:
		return r.FailedIndices()
	case ModeResume:
		watermark := 0
		for r.IsCompleted(watermark + 1) {
			watermark++
		}
		var out []int
		for i := watermark + 1; i <= r.TotalChunks; i++ {
			if !r.IsCompleted(i) {
				out = append(out, i)
			}
		}
		return out
	default:
		out := make([]int, r.TotalChunks)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
}

func (r *Record) markCompleted(index int) {
	r.removeFailure(index)
	i := sort.SearchInts(r.Completed, index)
	if i < len(r.Completed) && r.Completed[i] == index {
		return
	}
	r.Completed = append(r.Completed, 0)
	copy(r.Completed[i+1:], r.Completed[i:])
	r.Completed[i] = index
}

func (r *Record) markFailed(f Failure) {
	r.removeFailure(f.Index)
	i := sort.Search(len(r.Failed), func(i int) bool { return r.Failed[i].Index >= f.Index })
	r.Failed = append(r.Failed, Failure{})
	copy(r.Failed[i+1:], r.Failed[i:])
	r.Failed[i] = f
}

func (r *Record) removeFailure(index int) {
	for i, f := range r.Failed {
		if f.Index == index {
			r.Failed = append(r.Failed[:i], r.Failed[i+1:]...)
			return
		}
	}
}
