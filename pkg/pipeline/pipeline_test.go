package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/document"
	"github.com/jingkaihe/skillsmith/pkg/enhance"
	"github.com/jingkaihe/skillsmith/pkg/ledger"
	"github.com/jingkaihe/skillsmith/pkg/segment"
	"github.com/jingkaihe/skillsmith/pkg/skills"
	"github.com/jingkaihe/skillsmith/pkg/store"
)

// sectionGenerator answers with the section named in the prompt.
type sectionGenerator struct {
	mu    sync.Mutex
	calls []int
	fail  func(section int) error
}

func (g *sectionGenerator) Name() string { return "fake" }

func (g *sectionGenerator) Generate(_ context.Context, prompt string) (string, error) {
	var n, total int
	if i := strings.Index(prompt, "Section "); i >= 0 {
		fmt.Sscanf(prompt[i:], "Section %d of %d", &n, &total)
	}
	g.mu.Lock()
	g.calls = append(g.calls, n)
	g.mu.Unlock()
	if g.fail != nil {
		if err := g.fail(n); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("## Enhanced section %d\n\nRewritten guidance.", n), nil
}

func (g *sectionGenerator) Calls() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.calls...)
}

const vatSentence = "VAT applies to each invoice; input tax and output tax follow the reverse charge at customs. "

func vatChapter(title string, paragraphs int) string {
	para := strings.Repeat(vatSentence, 10)
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	for range paragraphs {
		sb.WriteString(para)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func threeChapterGuide() string {
	return vatChapter("Chapter 1: Scope", 330) +
		vatChapter("Chapter 2: Invoices", 330) +
		vatChapter("Chapter 3: Reverse Charge", 330)
}

type fixture struct {
	dir      string
	pipeline *Pipeline
	store    *store.Store
}

func newFixture(t *testing.T, gen backend.Generator) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(context.Background(), filepath.Join(dir, "skillsmith.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := NewConfig()
	cfg.WorkspaceDir = filepath.Join(dir, "workspace")
	cfg.SkillsDir = filepath.Join(dir, "skills")

	opts := []Option{WithRunRegistry(st)}
	if gen != nil {
		opts = append(opts, WithGenerator(gen))
	}
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return &fixture{dir: dir, pipeline: p, store: st}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "sources", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestLargeDocumentThenRetryFailed(t *testing.T) {
	ctx := context.Background()
	failing := &sectionGenerator{fail: func(section int) error {
		if section == 2 {
			return backend.Classified(backend.ClassRateLimited, errors.New("429 too many requests"))
		}
		return nil
	}}
	f := newFixture(t, failing)

	text := threeChapterGuide()
	require.GreaterOrEqual(t, len(text), 900_000)
	path := f.write(t, "vat-guide.txt", text)

	res, err := f.pipeline.Ingest(ctx, Request{Path: path, Mode: ledger.ModeFresh})
	require.NoError(t, err)

	assert.Equal(t, "indirect-tax", res.Classification.Category)
	assert.GreaterOrEqual(t, res.Chunks, 3)
	assert.Equal(t, []int{2}, res.Ledger.FailedIndices())
	var want []int
	for i := 1; i <= res.Chunks; i++ {
		if i != 2 {
			want = append(want, i)
		}
	}
	assert.Equal(t, want, res.Ledger.Completed)

	failure, ok := res.Ledger.FailureFor(2)
	require.True(t, ok)
	assert.Equal(t, string(backend.ClassRateLimited), failure.ErrorClass)

	require.NotNil(t, res.Skill)
	assert.Equal(t, "vat-guide", res.Skill.Name)
	assert.Len(t, res.Skill.References, res.Chunks)
	for _, ref := range res.Skill.References {
		body, err := res.Skill.ReadReference(ref)
		require.NoError(t, err)
		if ref.Chunk == 2 {
			assert.NotContains(t, body, "Enhanced section", "failed chunk falls back to source text")
		} else {
			assert.Contains(t, body, fmt.Sprintf("Enhanced section %d", ref.Chunk))
		}
	}

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunPartial, run.Status)
	assert.Equal(t, 1, run.FailedChunks)
	assert.Equal(t, "vat-guide", run.SkillID)

	healthy := &sectionGenerator{}
	f.pipeline.generator = healthy
	retry, err := f.pipeline.Ingest(ctx, Request{Path: path, Mode: ledger.ModeRetryFailed})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, healthy.Calls())
	assert.True(t, retry.CachedDocument)
	assert.Equal(t, res.Address, retry.Address)
	assert.Empty(t, retry.Ledger.Failed)
	assert.Len(t, retry.Ledger.Completed, res.Chunks)
	assert.True(t, retry.Ledger.Done())

	run, err = f.store.GetRun(ctx, retry.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, string(ledger.ModeRetryFailed), run.Mode)

	loaded, err := skills.LoadSkill(filepath.Join(retry.Skill.Directory, skills.FileName))
	require.NoError(t, err)
	assert.Equal(t, res.Address.String(), loaded.Address)
}

func TestIngestExtractionCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &sectionGenerator{})
	path := f.write(t, "guide.md", "# VAT\n\nInvoices carry VAT.\n\n# Customs\n\nExcise duty applies.\n")

	first, err := f.pipeline.Ingest(ctx, Request{Path: path})
	require.NoError(t, err)
	assert.False(t, first.CachedDocument)

	second, err := f.pipeline.Ingest(ctx, Request{Path: path})
	require.NoError(t, err)
	assert.True(t, second.CachedDocument)
	assert.Equal(t, 0, second.Enhancement.Selected, "resume after a complete run has nothing to do")

	refreshed, err := f.pipeline.Ingest(ctx, Request{Path: path, ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, refreshed.CachedDocument)

	limited, err := f.pipeline.Ingest(ctx, Request{Path: path, PageLimit: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, limited.Address, "page limit is part of the address")
}

func TestIngestInputErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &sectionGenerator{})

	tests := []struct {
		name    string
		req     Request
		isInput bool
	}{
		{name: "empty", req: Request{Name: "empty.txt", Data: []byte(" \n\n ")}, isInput: true},
		{name: "pdf bytes", req: Request{Name: "guide.txt", Data: []byte("%PDF-1.7 binary")}, isInput: true},
		{name: "pdf extension", req: Request{Name: "guide.pdf", Data: []byte("text")}, isInput: true},
		{name: "invalid utf8", req: Request{Name: "guide.txt", Data: []byte{0xff, 0xfe, 0xfd}}, isInput: true},
		{name: "missing file", req: Request{Path: filepath.Join(f.dir, "nope.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Ingest(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.isInput, document.IsInputError(err))
		})
	}

	records, err := f.pipeline.Ledgers().List()
	require.NoError(t, err)
	assert.Empty(t, records)

	runs, err := f.store.ListRuns(ctx, store.RunQuery{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestIngestSkipEnhance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	path := f.write(t, "payroll.txt", "PAYROLL\n\nEmployers withhold payroll taxes.\n")

	_, err := f.pipeline.Ingest(ctx, Request{Path: path})
	assert.ErrorIs(t, err, ErrNoBackend)

	res, err := f.pipeline.Ingest(ctx, Request{Path: path, SkipEnhance: true, SkillName: "payroll-basics"})
	require.NoError(t, err)
	assert.Equal(t, "payroll-basics", res.Skill.Name)
	require.NotEmpty(t, res.Skill.References)

	body, err := res.Skill.ReadReference(res.Skill.References[0])
	require.NoError(t, err)
	assert.Contains(t, body, "Employers withhold payroll taxes.")

	runs, err := f.store.ListRuns(ctx, store.RunQuery{Address: res.Address.String()})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "assemble-only", runs[0].Mode)
	assert.Equal(t, store.RunCompleted, runs[0].Status)
	assert.Equal(t, store.RunFailed, runs[1].Status)
	assert.Contains(t, runs[1].Error, "no generation backend")
}

func TestIngestBackendUnavailable(t *testing.T) {
	down := &sectionGenerator{fail: func(int) error {
		return backend.Classified(backend.ClassUnavailable, errors.New("connection refused"))
	}}
	f := newFixture(t, down)
	path := f.write(t, "guide.txt", "# VAT\n\nInvoices.\n\n# Customs\n\nDuty.\n")

	res, err := f.pipeline.Ingest(context.Background(), Request{Path: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, enhance.ErrBackendUnavailable)
	assert.True(t, res.BackendUnavailable)
	assert.Empty(t, res.Ledger.Completed)
	assert.Len(t, res.Ledger.Failed, res.Chunks)
	require.NotNil(t, res.Skill)

	run, err := f.store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunPartial, run.Status)
}

func TestIngestFreshRunDropsEarlierEnhancements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &sectionGenerator{})
	path := f.write(t, "guide.md", "# VAT\n\nInvoices carry VAT.\n\n# Customs\n\nExcise duty applies.\n\n# Reverse Charge\n\nThe buyer accounts for VAT.\n")

	first, err := f.pipeline.Ingest(ctx, Request{Path: path, Mode: ledger.ModeFresh})
	require.NoError(t, err)
	require.GreaterOrEqual(t, first.Chunks, 3)
	require.Len(t, first.Ledger.Completed, first.Chunks)

	f.pipeline.generator = &sectionGenerator{fail: func(section int) error {
		if section == 2 {
			return backend.Classified(backend.ClassTimeout, errors.New("deadline exceeded"))
		}
		return nil
	}}
	second, err := f.pipeline.Ingest(ctx, Request{Path: path, Mode: ledger.ModeFresh})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, second.Ledger.FailedIndices())
	assert.NotContains(t, second.Ledger.Completed, 2)

	_, ok, err := f.pipeline.artifacts.Get(second.Address, 2)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh run starts without earlier artifacts")

	for _, ref := range second.Skill.References {
		body, err := second.Skill.ReadReference(ref)
		require.NoError(t, err)
		if ref.Chunk == 2 {
			assert.NotContains(t, body, "Enhanced section")
		} else {
			assert.Contains(t, body, fmt.Sprintf("Enhanced section %d", ref.Chunk))
		}
	}
}

func TestCompletedArtifacts(t *testing.T) {
	chunks := []segment.Chunk{
		{Index: 1, Title: "VAT", Slug: "vat"},
		{Index: 2, Title: "Customs", Slug: "customs"},
	}
	stored := map[int]enhance.EnhancedChunk{
		1: {Index: 1, Title: "VAT", Slug: "vat", Content: "one"},
		2: {Index: 2, Title: "Customs", Slug: "customs", Content: "two"},
	}

	tests := []struct {
		name     string
		stored   map[int]enhance.EnhancedChunk
		rec      ledger.Record
		maxChunk int
		want     []int
	}{
		{
			name:     "completed chunks only",
			stored:   stored,
			rec:      ledger.Record{TotalChunks: 2, MaxChunkSize: 100, Completed: []int{1}},
			maxChunk: 100,
			want:     []int{1},
		},
		{
			name:     "no ledger",
			stored:   stored,
			rec:      ledger.Record{},
			maxChunk: 100,
		},
		{
			name:     "different chunk size",
			stored:   stored,
			rec:      ledger.Record{TotalChunks: 2, MaxChunkSize: 50, Completed: []int{1, 2}},
			maxChunk: 100,
		},
		{
			name: "artifact for another chunk",
			stored: map[int]enhance.EnhancedChunk{
				1: stored[1],
				2: {Index: 2, Title: "Excise", Slug: "excise", Content: "old"},
			},
			rec:      ledger.Record{TotalChunks: 2, MaxChunkSize: 100, Completed: []int{1, 2}},
			maxChunk: 100,
			want:     []int{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := completedArtifacts(tt.stored, tt.rec, chunks, tt.maxChunk)
			var indices []int
			for _, c := range chunks {
				if _, ok := got[c.Index]; ok {
					indices = append(indices, c.Index)
				}
			}
			assert.Equal(t, tt.want, indices)
		})
	}
}

func TestIngestIdenticalContentUnderDifferentNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &sectionGenerator{})
	content := "# VAT\n\nInvoices carry VAT.\n\n# Customs\n\nExcise duty applies.\n"
	alpha := f.write(t, "alpha-guide.txt", content)
	beta := f.write(t, "beta-guide.txt", content)

	first, err := f.pipeline.Ingest(ctx, Request{Path: alpha})
	require.NoError(t, err)
	assert.Equal(t, "alpha-guide", first.Skill.Name)

	second, err := f.pipeline.Ingest(ctx, Request{Path: beta})
	require.NoError(t, err)
	assert.True(t, second.CachedDocument)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, "beta-guide.txt", second.Source)
	assert.Equal(t, "beta-guide", second.Skill.Name)

	idx, err := skills.Load(f.pipeline.config.SkillsDir)
	require.NoError(t, err)
	assert.NoError(t, idx.Problems())
	assert.ElementsMatch(t, []string{"alpha-guide", "beta-guide"}, idx.IDs())
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "nested/b.txt", "nested/deep/c.txt", "nested/skip.md"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	paths, err := ExpandPaths([]string{
		filepath.Join(dir, "**", "*.txt"),
		filepath.Join(dir, "a.txt"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "nested", "b.txt"),
		filepath.Join(dir, "nested", "deep", "c.txt"),
	}, paths)

	_, err = ExpandPaths([]string{filepath.Join(dir, "*.pdf")})
	assert.ErrorIs(t, err, ErrNoMatches)
}

func TestIngestBatch(t *testing.T) {
	ctx := context.Background()
	gen := &sectionGenerator{}
	f := newFixture(t, gen)

	good1 := f.write(t, "vat.txt", "# VAT\n\nInvoices carry VAT.\n")
	good2 := f.write(t, "customs.txt", "# Customs\n\nExcise duty at the border.\n")
	empty := f.write(t, "empty.txt", "")

	results, err := f.pipeline.IngestBatch(ctx, []string{good1, empty, good2}, Request{Mode: ledger.ModeFresh})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty.txt")

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "vat", results[0].Result.Skill.Name)
	assert.ErrorIs(t, results[1].Err, document.ErrEmptyDocument)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "customs", results[2].Result.Skill.Name)

	idx, err := skills.Load(f.pipeline.config.SkillsDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"customs", "vat"}, idx.IDs())
}
