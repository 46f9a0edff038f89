// Package enhance drives chunk-by-chunk generation for one document and
// records every outcome in the document's progress ledger.
package enhance

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/ledger"
	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/segment"
	"github.com/jingkaihe/skillsmith/pkg/telemetry"
)

// ErrBackendUnavailable is returned with the run summary when every chunk the
// run attempted failed because the backend could not be reached.
var ErrBackendUnavailable = errors.New("generation backend unavailable")

// Config tunes per-chunk calls.
type Config struct {
	// MinTimeout is the lower bound of every call's deadline.
	MinTimeout time.Duration `mapstructure:"min_timeout"`
	// TimeoutPer1KChars grows the deadline with chunk length.
	TimeoutPer1KChars time.Duration `mapstructure:"timeout_per_1k_chars"`
	// MaxPromptChars bounds the chunk content embedded in a prompt.
	MaxPromptChars int `mapstructure:"max_prompt_chars"`
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	return Config{
		MinTimeout:        240 * time.Second,
		TimeoutPer1KChars: 5 * time.Second,
		MaxPromptChars:    segment.DefaultMaxChunkSize,
	}
}

// Timeout is the deadline for a chunk of contentLength characters.
func (c Config) Timeout(contentLength int) time.Duration {
	return max(c.MinTimeout, time.Duration(contentLength/1000)*c.TimeoutPer1KChars)
}

// Job is one enhancement run over a document.
type Job struct {
	Address  address.Address
	Source   string
	Category string
	Chunks   []segment.Chunk
	Ledger   *ledger.Ledger
	Mode     ledger.Mode
	RunID    string
}

// Summary reports what a run did.
type Summary struct {
	Selected      int
	Completed     int
	FailedIndices []int
	Elapsed       time.Duration
}

// Progress is published after every chunk outcome.
type Progress struct {
	Index           int
	Title           string
	Succeeded       bool
	ErrorClass      backend.ErrorClass
	Done            int
	Remaining       int
	AverageDuration time.Duration
	ETA             time.Duration
}

// ProgressFunc receives progress updates. It is called from the goroutine
// running Run.
type ProgressFunc func(Progress)

// Orchestrator runs enhancement jobs against a single generator.
type Orchestrator struct {
	generator backend.Generator
	artifacts *ArtifactStore
	config    Config
	progress  ProgressFunc
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides the timeout and prompt configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// New creates an orchestrator.
func New(generator backend.Generator, artifacts *ArtifactStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator: generator,
		artifacts: artifacts,
		config:    NewConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type preparedPrompt struct {
	chunk  segment.Chunk
	prompt string
	err    error
}

// Run processes the chunks the job's mode selects, one at a time. Backend
// failures are recorded and the run moves on; ledger or artifact write
// failures abort it. Cancelling ctx stops the run without recording the
// chunk in flight.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Summary, error) {
	start := o.now()
	log := logger.G(ctx).WithFields(logrus.Fields{
		"address": job.Address,
		"mode":    job.Mode,
		"backend": o.generator.Name(),
	})

	byIndex := make(map[int]segment.Chunk, len(job.Chunks))
	for _, c := range job.Chunks {
		byIndex[c.Index] = c
	}

	selected := job.Ledger.ChunksToProcess(job.Mode)
	summary := Summary{Selected: len(selected)}
	if len(selected) == 0 {
		log.Info("nothing to enhance")
		return summary, nil
	}
	for _, idx := range selected {
		if _, ok := byIndex[idx]; !ok {
			return summary, errors.Wrapf(ledger.ErrLedgerMismatch, "ledger selects chunk %d which the document does not have", idx)
		}
	}
	log.WithField("chunks", len(selected)).Info("starting enhancement")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	prompts := o.preparePrompts(runCtx, job, selected, byIndex)

	var (
		totalDuration time.Duration
		unavailable   int
	)
	for p := range prompts {
		if p.err != nil {
			return o.finish(summary, start), p.err
		}

		idx := p.chunk.Index
		chunkLog := log.WithFields(logrus.Fields{"chunk": idx, "title": p.chunk.Title})
		chunkLog.Debug("enhancing chunk")

		callStart := o.now()
		content, genErr := o.generate(ctx, p)
		elapsed := o.now().Sub(callStart)

		if ctx.Err() != nil {
			chunkLog.Warn("enhancement interrupted, chunk left pending")
			return o.finish(summary, start), errors.Wrap(ctx.Err(), "enhancement interrupted")
		}

		var class backend.ErrorClass
		if genErr == nil {
			ec := EnhancedChunk{
				Index:       idx,
				Title:       p.chunk.Title,
				Slug:        p.chunk.Slug,
				Category:    job.Category,
				Content:     content,
				Backend:     o.generator.Name(),
				RunID:       job.RunID,
				Duration:    elapsed,
				GeneratedAt: o.now().UTC(),
			}
			if err := o.artifacts.Put(job.Address, ec); err != nil {
				return o.finish(summary, start), err
			}
			if err := job.Ledger.RecordOutcome(idx, ledger.Succeeded()); err != nil {
				return o.finish(summary, start), errors.Wrapf(err, "failed to record chunk %d", idx)
			}
			summary.Completed++
			chunkLog.WithField("duration", elapsed).Info("chunk enhanced")
		} else {
			class = backend.Classify(genErr)
			if class == backend.ClassUnavailable {
				unavailable++
			}
			if err := job.Ledger.RecordOutcome(idx, ledger.Failed(string(class), genErr.Error())); err != nil {
				return o.finish(summary, start), errors.Wrapf(err, "failed to record chunk %d", idx)
			}
			summary.FailedIndices = append(summary.FailedIndices, idx)
			chunkLog.WithError(genErr).WithField("error_class", class).Warn("chunk enhancement failed")
		}

		telemetry.AddEvent(ctx, "enhance.chunk",
			attribute.Int("chunk", idx),
			attribute.Bool("succeeded", genErr == nil),
			attribute.String("error_class", string(class)),
		)

		totalDuration += elapsed
		done := summary.Completed + len(summary.FailedIndices)
		o.publish(Progress{
			Index:           idx,
			Title:           p.chunk.Title,
			Succeeded:       genErr == nil,
			ErrorClass:      class,
			Done:            done,
			Remaining:       len(selected) - done,
			AverageDuration: totalDuration / time.Duration(done),
			ETA:             totalDuration / time.Duration(done) * time.Duration(len(selected)-done),
		})
	}

	summary = o.finish(summary, start)
	log.WithFields(logrus.Fields{
		"completed": summary.Completed,
		"failed":    len(summary.FailedIndices),
		"elapsed":   summary.Elapsed,
	}).Info("enhancement finished")

	if attempted := summary.Completed + len(summary.FailedIndices); attempted > 0 && unavailable == attempted {
		return summary, ErrBackendUnavailable
	}
	return summary, nil
}

// preparePrompts renders prompts on a separate goroutine so the next prompt
// is ready while the current call is in flight.
func (o *Orchestrator) preparePrompts(ctx context.Context, job Job, selected []int, byIndex map[int]segment.Chunk) <-chan preparedPrompt {
	out := make(chan preparedPrompt, 1)
	go func() {
		defer close(out)
		for _, idx := range selected {
			chunk := byIndex[idx]
			prompt, err := BuildPrompt(job.Source, job.Category, len(job.Chunks), chunk, o.config.MaxPromptChars)
			select {
			case out <- preparedPrompt{chunk: chunk, prompt: prompt, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func (o *Orchestrator) generate(ctx context.Context, p preparedPrompt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.Timeout(p.chunk.Chars))
	defer cancel()

	out, err := o.generator.Generate(callCtx, p.prompt)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", backend.Classified(backend.ClassTimeout, err)
		}
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", backend.ErrEmptyOutput
	}
	return out, nil
}

func (o *Orchestrator) publish(p Progress) {
	if o.progress != nil {
		o.progress(p)
	}
}

func (o *Orchestrator) finish(s Summary, start time.Time) Summary {
	s.Elapsed = o.now().Sub(start)
	return s
}
