package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/ledger"
	"github.com/jingkaihe/skillsmith/pkg/pipeline"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
)

// IngestConfig holds the flags of the ingest command.
type IngestConfig struct {
	Mode         string
	PageLimit    int
	MaxChunkSize int
	ForceRefresh bool
	SkipEnhance  bool
	Name         string
}

// NewIngestConfig creates an IngestConfig with default values.
func NewIngestConfig() *IngestConfig {
	return &IngestConfig{Mode: string(ledger.ModeResume)}
}

// Validate rejects flag combinations that cannot run.
func (c *IngestConfig) Validate(paths int) error {
	if _, err := ledger.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.PageLimit < 0 {
		return errors.Errorf("page limit must not be negative, got %d", c.PageLimit)
	}
	if c.MaxChunkSize < 0 {
		return errors.Errorf("max chunk size must not be negative, got %d", c.MaxChunkSize)
	}
	if c.Name != "" && paths > 1 {
		return errors.New("--name can only be used with a single document")
	}
	return nil
}

// Request turns the flags into a pipeline request template.
func (c *IngestConfig) Request() pipeline.Request {
	mode, _ := ledger.ParseMode(c.Mode)
	return pipeline.Request{
		Mode:         mode,
		PageLimit:    c.PageLimit,
		MaxChunkSize: c.MaxChunkSize,
		ForceRefresh: c.ForceRefresh,
		SkipEnhance:  c.SkipEnhance,
		SkillName:    c.Name,
	}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|glob>...",
	Short: "Ingest documents into skills",
	Long: `Extract, segment, classify and enhance one or more documents and assemble a
skill from each. Progress is recorded per document so an interrupted run can be
resumed, and chunks that failed can be retried on their own:

  skillsmith ingest guide.txt
  skillsmith ingest --mode retry-failed guide.txt
  skillsmith ingest 'docs/**/*.md'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), getIngestConfigFromFlags(cmd), args)
	},
}

func init() {
	defaults := NewIngestConfig()
	ingestCmd.Flags().String("mode", defaults.Mode, "Which chunks to process: fresh, resume or retry-failed")
	ingestCmd.Flags().Int("page-limit", 0, "Only extract the first N pages (0 for all)")
	ingestCmd.Flags().Int("max-chunk-size", 0, "Override the maximum chunk size in characters")
	ingestCmd.Flags().Bool("force-refresh", false, "Ignore the extraction cache")
	ingestCmd.Flags().Bool("skip-enhance", false, "Assemble from existing enhanced chunks without calling the backend")
	ingestCmd.Flags().String("name", "", "Skill identifier (single document only)")
}

func getIngestConfigFromFlags(cmd *cobra.Command) *IngestConfig {
	c := NewIngestConfig()
	if mode, err := cmd.Flags().GetString("mode"); err == nil {
		c.Mode = mode
	}
	if n, err := cmd.Flags().GetInt("page-limit"); err == nil {
		c.PageLimit = n
	}
	if n, err := cmd.Flags().GetInt("max-chunk-size"); err == nil {
		c.MaxChunkSize = n
	}
	if b, err := cmd.Flags().GetBool("force-refresh"); err == nil {
		c.ForceRefresh = b
	}
	if b, err := cmd.Flags().GetBool("skip-enhance"); err == nil {
		c.SkipEnhance = b
	}
	if name, err := cmd.Flags().GetString("name"); err == nil {
		c.Name = name
	}
	return c
}

func runIngest(ctx context.Context, ic *IngestConfig, patterns []string) error {
	paths, err := pipeline.ExpandPaths(patterns)
	if err != nil {
		return err
	}
	if err := ic.Validate(len(paths)); err != nil {
		return err
	}

	var gen backend.Generator
	if !ic.SkipEnhance {
		gen, err = backend.New(ctx, cfg.Backend)
		if err != nil {
			return errors.Wrap(err, "failed to create generation backend")
		}
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(st)

	p, err := newPipeline(st, gen)
	if err != nil {
		return err
	}

	template := ic.Request()
	if len(paths) == 1 {
		template.Path = paths[0]
		presenter.Section("Ingesting " + paths[0])
		res, err := p.Ingest(ctx, template)
		reportResult(res)
		if err != nil {
			return errors.Wrapf(err, "failed to ingest %s", paths[0])
		}
		return nil
	}

	presenter.Section(fmt.Sprintf("Ingesting %d documents", len(paths)))
	results, err := p.IngestBatch(ctx, paths, template)
	for _, r := range results {
		presenter.Separator()
		reportResult(r.Result)
		if r.Err != nil {
			presenter.Error(r.Err, "failed to ingest "+r.Path)
		}
	}
	return err
}

func reportResult(res pipeline.Result) {
	if res.Skill == nil {
		return
	}
	presenter.Success(fmt.Sprintf("%s -> %s (%s, confidence %.2f)",
		res.Source, res.Skill.Directory, res.Classification.Category, res.Classification.Confidence()))
	presenter.Ledger(ledgerSummary(res.Ledger, res.Chunks))

	switch {
	case res.BackendUnavailable:
		presenter.Warning("the generation backend was unavailable; unenhanced chunks were assembled from raw text")
	case len(res.Ledger.Failed) > 0:
		presenter.Warning(fmt.Sprintf("%d chunk(s) failed; rerun with --mode %s to retry them",
			len(res.Ledger.Failed), ledger.ModeRetryFailed))
	}
}

// ledgerSummary converts a record for display. total is used when the record
// is empty, as it is for assemble-only runs of never enhanced documents.
func ledgerSummary(rec ledger.Record, total int) presenter.LedgerSummary {
	if rec.TotalChunks > 0 {
		total = rec.TotalChunks
	}
	s := presenter.LedgerSummary{
		Address:   rec.Address.String(),
		Backend:   rec.Backend,
		Total:     total,
		Completed: len(rec.Completed),
		UpdatedAt: rec.UpdatedAt,
	}
	s.Pending = max(0, total-s.Completed-len(rec.Failed))
	for _, f := range rec.Failed {
		s.Failed = append(s.Failed, presenter.FailedChunk{
			Index:      f.Index,
			ErrorClass: f.ErrorClass,
			Message:    strings.TrimSpace(f.Message),
		})
	}
	return s
}
