package enhance

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/segment"
)

const truncationMarker = "\n\n[... content truncated ...]"

var promptTemplate = template.Must(template.New("enhance").Parse(`You are turning a section of a reference document into a reusable knowledge skill.

Document: {{.Source}}
Category: {{.Category}}
Section {{.Index}} of {{.Total}}: {{.Title}}
{{- if .Pages}}
Pages: {{.Pages}}{{end}}

Rewrite the section below as well structured markdown:
- keep every rule, threshold, rate, date and exception; do not invent facts
- start with a one paragraph summary of what the section covers
- use headings, lists and tables where they make the material easier to apply
- finish with a short "When to use" list describing questions this section answers

Respond with the markdown only.

<section>
{{.Content}}
</section>
`))

type promptData struct {
	Source   string
	Category string
	Index    int
	Total    int
	Title    string
	Pages    string
	Content  string
}

// BuildPrompt renders the enhancement prompt for chunk. Content beyond
// maxChars runes is truncated.
func BuildPrompt(source, category string, total int, chunk segment.Chunk, maxChars int) (string, error) {
	data := promptData{
		Source:   source,
		Category: category,
		Index:    chunk.Index,
		Total:    total,
		Title:    chunk.Title,
		Content:  truncate(chunk.Text, maxChars),
	}
	if chunk.PageStart > 0 {
		data.Pages = pageRange(chunk.PageStart, chunk.PageEnd)
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to render enhancement prompt")
	}
	return buf.String(), nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:maxChars]), " \n") + truncationMarker
}

func pageRange(start, end int) string {
	if end <= start {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}
