package assemble

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/classify"
	"github.com/jingkaihe/skillsmith/pkg/enhance"
	"github.com/jingkaihe/skillsmith/pkg/segment"
	"github.com/jingkaihe/skillsmith/pkg/skills"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testInput() Input {
	return Input{
		Address:    "0123456789abcdef",
		SourceName: "vat-guide.txt",
		Classification: classify.Result{
			Category: "indirect-tax",
			Scores:   classify.Scores{Keyword: 0.7, Structure: 1, Composite: 0.65},
		},
		Keywords: []string{"vat", "invoice"},
		Chunks: []segment.Chunk{
			{Index: 1, Title: "Registration", Slug: "registration", Text: "Register with HMRC once turnover passes the threshold.", PageStart: 1, PageEnd: 2},
			{Index: 2, Title: "Charging VAT", Slug: "charging-vat", Text: "Charge VAT on taxable supplies.", PageStart: 3, PageEnd: 3},
			{Index: 3, Title: "Charging VAT (Part 2)", Slug: "charging-vat-part-2", Text: "Zero-rated supplies."},
		},
		Enhanced: map[int]enhance.EnhancedChunk{
			2: {Index: 2, Content: "## Charging VAT\n\nEnhanced guidance on charging VAT."},
		},
	}
}

func TestAssemble(t *testing.T) {
	root := t.TempDir()
	a := New(root, WithClock(func() time.Time { return fixedNow }))

	skill, err := a.Assemble(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, "vat-guide", skill.Name)
	assert.Equal(t, "Vat Guide", skill.Title)
	assert.Equal(t, "indirect-tax", skill.Category)
	assert.Equal(t, filepath.Join(root, "vat-guide"), skill.Directory)
	assert.Equal(t, []string{"registration", "charging vat"}, skill.Triggers)
	assert.Equal(t, []string{"indirect-tax", "uk"}, skill.Tags)
	assert.Equal(t, []string{"vat", "invoice", "registration", "charging"}, skill.Keywords)
	assert.Contains(t, skill.Description, "covering Registration; Charging VAT")
	assert.InDelta(t, 0.65, skill.Confidence, 1e-9)
	assert.Equal(t, "0123456789abcdef", skill.Address)
	assert.Equal(t, "2024-05-01T12:00:00Z", skill.GeneratedAt)

	require.Len(t, skill.References, 3)
	assert.Equal(t, skills.Reference{
		Path: "references/uk/0001-registration.md", Title: "Registration", Region: "uk", Chunk: 1, Pages: "1-2",
	}, skill.References[0])
	assert.Equal(t, "references/general/0002-charging-vat.md", skill.References[1].Path)
	assert.Equal(t, "3", skill.References[1].Pages)

	enhanced, err := skill.ReadReference(skill.References[1])
	require.NoError(t, err)
	assert.Contains(t, enhanced, "Enhanced guidance on charging VAT.")
	assert.Contains(t, enhanced, "> Source: vat-guide.txt, section 2 of 3, pages 3")

	raw, err := skill.ReadReference(skill.References[2])
	require.NoError(t, err)
	assert.Contains(t, raw, "Zero-rated supplies.")

	index, err := os.ReadFile(filepath.Join(skill.Directory, "references", "index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "## uk")
	assert.Contains(t, string(index), "- [Registration](uk/0001-registration.md) (pages 1-2)")
	assert.Contains(t, skill.Body, "- [Charging VAT](references/general/0002-charging-vat.md) (pages 3)")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directories are cleaned up")
}

func TestAssembleReplacesPreviousSkill(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	_, err := a.Assemble(context.Background(), testInput())
	require.NoError(t, err)

	in := testInput()
	in.Chunks = in.Chunks[1:2]
	skill, err := a.Assemble(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, skill.References, 1)
	_, err = os.Stat(filepath.Join(root, "vat-guide", "references", "uk", "0001-registration.md"))
	assert.True(t, os.IsNotExist(err))

	idx, err := skills.Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"vat-guide"}, idx.IDs())
}

func TestAssembleNameOverride(t *testing.T) {
	in := testInput()
	in.Name = "UK VAT"
	skill, err := New(t.TempDir()).Assemble(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "uk-vat", skill.Name)
	assert.Equal(t, "UK VAT", skill.Title)
}

func TestAssembleWithoutChunks(t *testing.T) {
	in := testInput()
	in.Chunks = nil
	_, err := New(t.TempDir()).Assemble(context.Background(), in)
	assert.Error(t, err)
}

func TestRewrite(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	original, err := a.Assemble(context.Background(), testInput())
	require.NoError(t, err)

	t.Run("accepted", func(t *testing.T) {
		meta := original.Metadata
		meta.Description = "Answers VAT registration and charging questions."
		meta.References = nil

		updated, err := a.Rewrite(context.Background(), "vat-guide", meta, "# VAT\n\nPolished overview.\n")
		require.NoError(t, err)
		assert.Equal(t, "Answers VAT registration and charging questions.", updated.Description)
		assert.Equal(t, original.References, updated.References)
		assert.Contains(t, updated.Body, "Polished overview.")
	})

	t.Run("category change rejected", func(t *testing.T) {
		before, err := os.ReadFile(filepath.Join(root, "vat-guide", skills.FileName))
		require.NoError(t, err)

		meta := original.Metadata
		meta.Category = "income-tax"
		_, err = a.Rewrite(context.Background(), "vat-guide", meta, "overview")
		require.ErrorIs(t, err, ErrIntegrityViolation)

		var integrity *IntegrityError
		require.True(t, errors.As(err, &integrity))
		assert.Contains(t, integrity.Diff, "-category: indirect-tax")
		assert.Contains(t, integrity.Diff, "+category: income-tax")

		after, err := os.ReadFile(filepath.Join(root, "vat-guide", skills.FileName))
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("identifier change rejected", func(t *testing.T) {
		meta := original.Metadata
		meta.Name = "vat"
		_, err := a.Rewrite(context.Background(), "vat-guide", meta, "overview")
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})
}

func TestPolish(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	_, err := a.Assemble(context.Background(), testInput())
	require.NoError(t, err)

	t.Run("applies answer", func(t *testing.T) {
		gen := backend.Func(func(_ context.Context, prompt string) (string, error) {
			assert.Contains(t, prompt, "name: vat-guide")
			return "Here is the update:\n```json\n" + `{"name": "vat-guide", "category": "indirect-tax", "description": "Registering for and charging UK VAT.", "triggers": ["do i need to register for vat"]}` + "\n```", nil
		})
		skill, err := a.Polish(context.Background(), gen, "vat-guide")
		require.NoError(t, err)
		assert.Equal(t, "Registering for and charging UK VAT.", skill.Description)
		assert.Equal(t, []string{"do i need to register for vat"}, skill.Triggers)
		assert.Equal(t, "Vat Guide", skill.Title)
	})

	t.Run("category drift rejected", func(t *testing.T) {
		gen := backend.Func(func(context.Context, string) (string, error) {
			return `{"name": "vat-guide", "category": "compliance", "description": "x"}`, nil
		})
		_, err := a.Polish(context.Background(), gen, "vat-guide")
		assert.ErrorIs(t, err, ErrIntegrityViolation)

		skill, err := a.Load("vat-guide")
		require.NoError(t, err)
		assert.Equal(t, "indirect-tax", skill.Category)
	})

	t.Run("unusable answer", func(t *testing.T) {
		gen := backend.Func(func(context.Context, string) (string, error) { return "I cannot help", nil })
		_, err := a.Polish(context.Background(), gen, "vat-guide")
		assert.ErrorIs(t, err, backend.ErrNoJSON)
	})
}

func TestRegionDetector(t *testing.T) {
	d := NewRegionDetector(DefaultRegions)
	tests := []struct {
		text string
		want string
	}{
		{text: "File your return with HMRC under self assessment.", want: "uk"},
		{text: "The IRS requires Form 1040.", want: "us"},
		{text: "Regulatory guidance with no jurisdiction.", want: "general"},
		{text: "HMRC and the IRS both apply; HMRC publishes the rates.", want: "uk"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Detect(tt.text))
		})
	}
}

func TestSkillID(t *testing.T) {
	assert.Equal(t, "vat-guide-2024", SkillID("/docs/VAT Guide 2024.txt"))
	assert.Equal(t, "notes", SkillID("notes"))
}
