// Package pipeline wires the ingestion stages together: extraction, parallel
// segmentation and classification, ledger-guided enhancement and assembly.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/assemble"
	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/classify"
	"github.com/jingkaihe/skillsmith/pkg/document"
	"github.com/jingkaihe/skillsmith/pkg/enhance"
	"github.com/jingkaihe/skillsmith/pkg/ledger"
	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/segment"
	"github.com/jingkaihe/skillsmith/pkg/skills"
	"github.com/jingkaihe/skillsmith/pkg/store"
	"github.com/jingkaihe/skillsmith/pkg/telemetry"
)

// ErrNoBackend is returned when enhancement is requested without a generator.
var ErrNoBackend = errors.New("no generation backend configured")

// Config holds the ingestion settings.
type Config struct {
	WorkspaceDir string `mapstructure:"-"`
	SkillsDir    string `mapstructure:"-"`
	MaxChunkSize int    `mapstructure:"max_chunk_size"`
	PageLimit    int    `mapstructure:"page_limit"`
	// Parallelism bounds how many documents IngestBatch processes at once.
	Parallelism  int    `mapstructure:"parallelism"`
	TaxonomyFile string `mapstructure:"taxonomy_file"`
}

// NewConfig returns the default ingestion settings.
func NewConfig() Config {
	return Config{
		MaxChunkSize: segment.DefaultMaxChunkSize,
		Parallelism:  2,
	}
}

// RunRegistry records ingestion runs. *store.Store satisfies it.
type RunRegistry interface {
	StartRun(ctx context.Context, run store.Run) error
	FinishRun(ctx context.Context, runID string, res store.RunResult) error
}

// Request describes one document to ingest.
type Request struct {
	// Path is read when Data is nil.
	Path string
	Data []byte
	// Name is the source name; it defaults to the base name of Path.
	Name string
	Mode ledger.Mode
	// PageLimit and MaxChunkSize override the configured values when positive.
	PageLimit    int
	MaxChunkSize int
	ForceRefresh bool
	SkipEnhance  bool
	// SkillName overrides the identifier derived from Name.
	SkillName string
}

// Result reports what Ingest produced.
type Result struct {
	Address        address.Address
	Source         string
	RunID          string
	Classification classify.Result
	Chunks         int
	CachedDocument bool
	Enhancement    enhance.Summary
	// BackendUnavailable is set when every attempted backend call failed as
	// unavailable. The skill is still assembled from what exists and Ingest
	// also returns an error.
	BackendUnavailable bool
	Ledger             ledger.Record
	Skill              *skills.Skill
}

// Pipeline runs ingestion. It is safe for concurrent use; runs on the same
// address are serialized with a lock file.
type Pipeline struct {
	config     Config
	extractors *document.Registry
	documents  *document.Cache
	classifier *classify.Classifier
	ledgers    *ledger.Store
	artifacts  *enhance.ArtifactStore
	assembler  *assemble.Assembler
	generator  backend.Generator
	enhanceCfg enhance.Config
	progress   enhance.ProgressFunc
	runs       RunRegistry
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGenerator sets the enhancement backend.
func WithGenerator(g backend.Generator) Option {
	return func(p *Pipeline) { p.generator = g }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithEnhanceConfig overrides the per-chunk timeout settings.
func WithEnhanceConfig(cfg enhance.Config) Option {
	return func(p *Pipeline) { p.enhanceCfg = cfg }
}

// WithProgress registers an enhancement progress callback.
func WithProgress(fn enhance.ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithRunRegistry records every run in r.
func WithRunRegistry(r RunRegistry) Option {
	return func(p *Pipeline) { p.runs = r }
}

// WithExtractors replaces the extractor registry.
func WithExtractors(r *document.Registry) Option {
	return func(p *Pipeline) { p.extractors = r }
}

// WithAssembler replaces the skill assembler.
func WithAssembler(a *assemble.Assembler) Option {
	return func(p *Pipeline) { p.assembler = a }
}

// New creates a pipeline. Extracted documents and enhanced chunks live under
// <workspace>/documents, ledgers under <workspace>/ledgers.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.WorkspaceDir == "" {
		return nil, errors.New("workspace directory is required")
	}
	if cfg.SkillsDir == "" {
		return nil, errors.New("skills directory is required")
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = segment.DefaultMaxChunkSize
	}

	docsDir := filepath.Join(cfg.WorkspaceDir, "documents")
	p := &Pipeline{
		config:     cfg,
		extractors: document.NewRegistry(),
		documents:  document.NewCache(docsDir),
		ledgers:    ledger.NewStore(filepath.Join(cfg.WorkspaceDir, "ledgers")),
		artifacts:  enhance.NewArtifactStore(docsDir),
		assembler:  assemble.New(cfg.SkillsDir),
		enhanceCfg: enhance.NewConfig(),
	}

	if cfg.TaxonomyFile != "" {
		tax, err := classify.LoadTaxonomy(cfg.TaxonomyFile)
		if err != nil {
			return nil, err
		}
		p.classifier = classify.New(classify.WithTaxonomy(tax))
	} else {
		p.classifier = classify.New()
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ledgers exposes the ledger store for status reporting.
func (p *Pipeline) Ledgers() *ledger.Store { return p.ledgers }

// Ingest runs one document through every stage. Input errors fail before
// any state is written. Chunk failures are recorded in the ledger and do not
// fail the run. When the backend was unavailable for every attempted chunk
// the skill is still assembled, and the returned Result comes with an error
// matching enhance.ErrBackendUnavailable.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (res Result, err error) {
	data, name, err := p.readSource(req)
	if err != nil {
		return res, err
	}
	res.Source = name

	extractor, err := p.extractors.For(name)
	if err != nil {
		return res, err
	}

	opts := document.Options{PageLimit: p.config.PageLimit}
	if req.PageLimit > 0 {
		opts.PageLimit = req.PageLimit
	}
	addr := address.Compute(data, document.Params(extractor, opts))
	res.Address = addr

	ctx = logger.WithDocument(ctx, addr.String(), name)
	log := logger.G(ctx)

	err = telemetry.WithSpan(ctx, "pipeline.ingest", func(ctx context.Context) error {
		doc, cached, err := p.loadDocument(ctx, extractor, addr, name, data, opts, req.ForceRefresh)
		if err != nil {
			return err
		}
		res.CachedDocument = cached

		maxChunk := p.config.MaxChunkSize
		if req.MaxChunkSize > 0 {
			maxChunk = req.MaxChunkSize
		}
		chunks, classification, keywords, err := p.analyze(ctx, doc, maxChunk)
		if err != nil {
			return err
		}
		res.Chunks = len(chunks)
		res.Classification = classification

		unlock, err := lockedfile.MutexAt(filepath.Join(p.config.WorkspaceDir, addr.String()+".lock")).Lock()
		if err != nil {
			return errors.Wrap(err, "failed to lock document")
		}
		defer unlock()

		res.RunID = uuid.NewString()
		if err := p.startRun(ctx, res, req); err != nil {
			return err
		}

		runErr := p.enhanceAndAssemble(ctx, &res, req, doc, chunks, keywords, maxChunk)
		p.finishRun(ctx, res, runErr)
		return runErr
	}, attribute.String("address", addr.String()), attribute.String("source", name))
	if err != nil {
		return res, err
	}

	log.WithFields(logrus.Fields{
		"skill":     res.Skill.Name,
		"category":  res.Classification.Category,
		"completed": len(res.Ledger.Completed),
		"failed":    len(res.Ledger.Failed),
	}).Info("ingestion finished")
	if res.BackendUnavailable {
		return res, errors.Wrapf(enhance.ErrBackendUnavailable,
			"%d of %d chunks not enhanced", res.Chunks-len(res.Ledger.Completed), res.Chunks)
	}
	return res, nil
}

func (p *Pipeline) readSource(req Request) ([]byte, string, error) {
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Path)
	}
	if req.Data != nil {
		return req.Data, name, nil
	}
	if req.Path == "" {
		return nil, "", errors.New("no source given")
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to read source %s", req.Path)
	}
	return data, name, nil
}

func (p *Pipeline) loadDocument(ctx context.Context, e document.Extractor, addr address.Address, name string, data []byte, opts document.Options, force bool) (*document.Document, bool, error) {
	log := logger.G(ctx)
	if !force {
		doc, ok, err := p.documents.Get(addr)
		if err != nil {
			log.WithError(err).Warn("extraction cache unreadable, extracting again")
		} else if ok {
			log.Debug("using cached extraction")
			doc.Source.Name = name
			return doc, true, nil
		}
	}

	var doc *document.Document
	err := telemetry.WithSpan(ctx, "pipeline.extract", func(ctx context.Context) error {
		var err error
		doc, err = document.Extract(ctx, e, addr, name, data, opts)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if err := p.documents.Put(doc); err != nil {
		return nil, false, err
	}
	log.WithFields(logrus.Fields{"pages": len(doc.Pages), "chars": doc.Chars()}).Debug("document extracted")
	return doc, false, nil
}

// analyze segments and classifies the document in parallel.
func (p *Pipeline) analyze(ctx context.Context, doc *document.Document, maxChunk int) ([]segment.Chunk, classify.Result, []string, error) {
	var (
		chunks         []segment.Chunk
		classification classify.Result
		keywords       []string
	)

	err := telemetry.WithSpan(ctx, "pipeline.analyze", func(ctx context.Context) error {
		g, _ := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			chunks, err = segment.Split(doc.Text, segment.Options{
				MaxChunkSize: maxChunk,
				PageOffsets:  doc.PageOffsets(),
			})
			return err
		})
		g.Go(func() error {
			classification = p.classifier.Classify(doc.Text)
			keywords = p.classifier.Matched(doc.Text, classification.Category)
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		return nil, classify.Result{}, nil, err
	}

	logger.G(ctx).WithFields(logrus.Fields{
		"chunks":     len(chunks),
		"category":   classification.Category,
		"confidence": classification.Confidence(),
	}).Debug("document analyzed")
	return chunks, classification, keywords, nil
}

func (p *Pipeline) enhanceAndAssemble(ctx context.Context, res *Result, req Request, doc *document.Document, chunks []segment.Chunk, keywords []string, maxChunk int) error {
	if !req.SkipEnhance {
		if p.generator == nil {
			return ErrNoBackend
		}

		mode := req.Mode
		if mode == "" {
			mode = ledger.ModeResume
		}
		l, err := p.ledgers.Open(res.Address, ledger.OpenOptions{
			Mode:         mode,
			TotalChunks:  len(chunks),
			MaxChunkSize: maxChunk,
			Backend:      p.generator.Name(),
			RunID:        res.RunID,
		})
		if err != nil {
			return err
		}
		if mode == ledger.ModeFresh {
			if err := p.artifacts.Clear(res.Address); err != nil {
				return err
			}
		}

		orch := enhance.New(p.generator, p.artifacts,
			enhance.WithConfig(p.enhanceCfg),
			enhance.WithProgress(p.progress))
		summary, err := orch.Run(logger.WithFields(ctx, logrus.Fields{"run_id": res.RunID}), enhance.Job{
			Address:  res.Address,
			Source:   res.Source,
			Category: res.Classification.Category,
			Chunks:   chunks,
			Ledger:   l,
			Mode:     mode,
			RunID:    res.RunID,
		})
		res.Enhancement = summary
		res.Ledger = l.Snapshot()
		switch {
		case errors.Is(err, enhance.ErrBackendUnavailable):
			res.BackendUnavailable = true
			logger.G(ctx).Warn("backend unavailable for every attempted chunk")
		case err != nil:
			return err
		}
	} else if rec, err := p.ledgers.Load(res.Address); err == nil {
		res.Ledger = rec
	}

	stored, err := p.artifacts.LoadAll(res.Address)
	if err != nil {
		return err
	}
	enhanced := completedArtifacts(stored, res.Ledger, chunks, maxChunk)
	if dropped := len(stored) - len(enhanced); dropped > 0 {
		logger.G(ctx).WithField("dropped", dropped).Debug("ignoring enhanced chunks the ledger does not vouch for")
	}

	return telemetry.WithSpan(ctx, "pipeline.assemble", func(ctx context.Context) error {
		skill, err := p.assembler.Assemble(ctx, assemble.Input{
			Address:        res.Address,
			SourceName:     res.Source,
			Name:           req.SkillName,
			Classification: res.Classification,
			Keywords:       keywords,
			Chunks:         chunks,
			Enhanced:       enhanced,
		})
		if err != nil {
			return err
		}
		res.Skill = skill
		return nil
	})
}

// completedArtifacts keeps the stored artifacts of chunks the ledger records
// as completed and that still describe the chunk at the same index.
func completedArtifacts(stored map[int]enhance.EnhancedChunk, rec ledger.Record, chunks []segment.Chunk, maxChunk int) map[int]enhance.EnhancedChunk {
	out := make(map[int]enhance.EnhancedChunk, len(stored))
	if rec.TotalChunks != len(chunks) || (rec.MaxChunkSize != 0 && rec.MaxChunkSize != maxChunk) {
		return out
	}
	completed := make(map[int]bool, len(rec.Completed))
	for _, i := range rec.Completed {
		completed[i] = true
	}
	for _, c := range chunks {
		ec, ok := stored[c.Index]
		if !ok || !completed[c.Index] || ec.Slug != c.Slug || ec.Title != c.Title {
			continue
		}
		out[c.Index] = ec
	}
	return out
}

func (p *Pipeline) startRun(ctx context.Context, res Result, req Request) error {
	if p.runs == nil {
		return nil
	}
	mode := string(req.Mode)
	if req.SkipEnhance {
		mode = "assemble-only"
	} else if mode == "" {
		mode = string(ledger.ModeResume)
	}
	backendName := ""
	if p.generator != nil {
		backendName = p.generator.Name()
	}
	return p.runs.StartRun(ctx, store.Run{
		RunID:       res.RunID,
		Address:     res.Address.String(),
		Source:      res.Source,
		Backend:     backendName,
		Mode:        mode,
		TotalChunks: res.Chunks,
		StartedAt:   time.Now().UTC(),
	})
}

// finishRun closes the registry row. A registry failure is logged rather
// than masking the run's own outcome.
func (p *Pipeline) finishRun(ctx context.Context, res Result, runErr error) {
	if p.runs == nil {
		return
	}
	out := store.RunResult{
		Total:     res.Chunks,
		Selected:  res.Enhancement.Selected,
		Completed: len(res.Ledger.Completed),
		Failed:    len(res.Ledger.Failed),
		Err:       runErr,
	}
	if res.Skill != nil {
		out.SkillID = res.Skill.Name
	}
	if err := p.runs.FinishRun(context.WithoutCancel(ctx), res.RunID, out); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record run outcome")
	}
}
