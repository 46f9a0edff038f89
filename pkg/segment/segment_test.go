package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinChunks(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

func assertContiguous(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Index)
		assert.Equal(t, text[c.Start:c.End], c.Text)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End, c.Start, "chunks must not overlap or leave gaps")
		}
	}
	assert.Equal(t, text, joinChunks(chunks))
}

func bigChapter(title string, paragraphs int) string {
	para := strings.Repeat("tax ", 249) + "end."
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	for i := 0; i < paragraphs; i++ {
		sb.WriteString(para)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestSplitRoundTrip(t *testing.T) {
	docs := map[string]string{
		"headings":     "# Income Tax\n\nResidents pay.\n\n## Deductions\n\nMortgage interest.\n",
		"labelled":     "Intro.\n\nChapter 1: Filing\n\nBody one.\n\nChapter 2: Credits\n\nBody two.",
		"caps":         "INCOME TAX\n\nResidents pay.\n\nVAT RULES\n\nGoods and services.",
		"unstructured": "just some text\nwith lines\n\nand paragraphs\n\n\n\nand more",
		"trailing":     "# One\n\nbody\n\n\n",
	}

	for name, text := range docs {
		t.Run(name, func(t *testing.T) {
			for _, limit := range []int{5, 20, 1000} {
				chunks, err := Split(text, Options{MaxChunkSize: limit})
				require.NoError(t, err)
				assertContiguous(t, text, chunks)
				for _, c := range chunks {
					if !c.Oversized {
						assert.LessOrEqual(t, c.Chars, limit)
					}
				}
			}
		})
	}
}

func TestSplitLargeDocument(t *testing.T) {
	text := bigChapter("Chapter 1: Income", 300) +
		bigChapter("Chapter 2: Deductions", 300) +
		bigChapter("Chapter 3: Credits", 300)
	require.Greater(t, len(text), 900_000)

	chunks, err := Split(text, Options{MaxChunkSize: 300_000})
	require.NoError(t, err)
	assertContiguous(t, text, chunks)
	assert.GreaterOrEqual(t, len(chunks), 3)

	chapters := map[int]bool{}
	for _, c := range chunks {
		assert.False(t, c.Oversized)
		assert.LessOrEqual(t, c.Chars, 300_000)
		chapters[c.Chapter] = true
		if c.Part > 0 {
			assert.Contains(t, c.Title, "(Part ")
		}
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, chapters)
	assert.Equal(t, "Chapter 1: Income (Part 1)", chunks[0].Title)
	assert.Equal(t, "chapter-1-income-part-1", chunks[0].Slug)
}

func TestSplitOversizedParagraph(t *testing.T) {
	text := "short para.\n\n" + strings.Repeat("x", 120) + "\n\nend."

	chunks, err := Split(text, Options{MaxChunkSize: 50})
	require.NoError(t, err)
	assertContiguous(t, text, chunks)
	require.Len(t, chunks, 3)

	assert.False(t, chunks[0].Oversized)
	assert.True(t, chunks[1].Oversized)
	assert.Greater(t, chunks[1].Chars, 50)
	assert.False(t, chunks[2].Oversized)
	assert.Equal(t, "Document (Part 2)", chunks[1].Title)
}

func TestSplitNoBoundaries(t *testing.T) {
	text := "plain text without any structure at all"
	chunks, err := Split(text, Options{MaxChunkSize: 1000, FallbackTitle: "Guide"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Guide", chunks[0].Title)
	assert.Equal(t, 0, chunks[0].Chapter)
}

func TestSplitFrontMatter(t *testing.T) {
	text := "Preface text here.\n\n# One\n\nbody"
	chunks, err := Split(text, Options{MaxChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, FrontMatterTitle, chunks[0].Title)
	assert.Equal(t, 0, chunks[0].Chapter)
	assert.Equal(t, "One", chunks[1].Title)
	assert.Equal(t, 1, chunks[1].Chapter)

	t.Run("blank lead-in is folded", func(t *testing.T) {
		text := "\n\n# One\n\nbody"
		chunks, err := Split(text, Options{MaxChunkSize: 1000})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, "One", chunks[0].Title)
	})
}

func TestSplitSlugCollision(t *testing.T) {
	text := "# Overview\n\na\n\n# Overview\n\nb\n\n# Overview!\n\nc"
	chunks, err := Split(text, Options{MaxChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "overview", chunks[0].Slug)
	assert.Equal(t, "overview-2", chunks[1].Slug)
	assert.Equal(t, "overview-3", chunks[2].Slug)
}

func TestSplitPageRanges(t *testing.T) {
	text := "# One\n\nfirst page\n\n# Two\n\nsecond page"
	offsets := []int{0, strings.Index(text, "# Two")}

	chunks, err := Split(text, Options{MaxChunkSize: 1000, PageOffsets: offsets})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 1, chunks[0].PageEnd)
	assert.Equal(t, 2, chunks[1].PageStart)
	assert.Equal(t, 2, chunks[1].PageEnd)
}

func TestSplitInvalidOptions(t *testing.T) {
	_, err := Split("text", Options{})
	assert.Error(t, err)

	chunks, err := Split("", Options{MaxChunkSize: 10})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDetectBoundaries(t *testing.T) {
	t.Run("headings win over labels", func(t *testing.T) {
		text := "# Income Tax\n\nChapter 1: Filing\n\n## Deductions\n\n### Detail\n\nx"
		bs := DetectBoundaries(text)
		require.Len(t, bs, 2)
		assert.Equal(t, MethodHeading, bs[0].Method)
		assert.Equal(t, "Income Tax", bs[0].Title)
		assert.Equal(t, 0, bs[0].Offset)
		assert.Equal(t, "Deductions", bs[1].Title)
		assert.Equal(t, strings.Index(text, "## Deductions"), bs[1].Offset)
		assert.Equal(t, HeadingConfidence, bs[1].Confidence)
	})

	t.Run("labelled sections", func(t *testing.T) {
		text := "Intro.\n\nChapter 1: Filing Status\n\nbody\n\nCHAPTER IV Income\n\nbody\n\nSection 3.1 Credits\n\nbody\n\n7. Record Keeping\n\n1. Gather your receipts."
		bs := DetectBoundaries(text)
		require.Len(t, bs, 4)
		for _, b := range bs {
			assert.Equal(t, MethodLabelled, b.Method)
			assert.Equal(t, LabelledConfidence, b.Confidence)
		}
		assert.Equal(t, 1, bs[0].Number)
		assert.Equal(t, 4, bs[1].Number)
		assert.Equal(t, 3, bs[2].Number)
		assert.Equal(t, 7, bs[3].Number)
		assert.Equal(t, "7. Record Keeping", bs[3].Title)
	})

	t.Run("capitalized lines skip acronyms", func(t *testing.T) {
		text := "INCOME TAX\n\nResidents pay.\n\nNOTE\n\nKeep records.\n\nVAT RULES\n\nGoods."
		bs := DetectBoundaries(text)
		require.Len(t, bs, 2)
		assert.Equal(t, "INCOME TAX", bs[0].Title)
		assert.Equal(t, "VAT RULES", bs[1].Title)
		assert.Equal(t, MethodCaps, bs[1].Method)
	})

	t.Run("nothing found", func(t *testing.T) {
		assert.Empty(t, DetectBoundaries("lower case prose only.\n\nmore prose."))
	})
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "chapter-1-filing-status", Slugify("Chapter 1: Filing Status"))
	assert.Equal(t, "", Slugify("!!!"))
	assert.Len(t, Slugify(strings.Repeat("word ", 40)), maxSlugLength-1)
}
