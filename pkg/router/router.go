package router

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/logger"
)

// ErrNoCandidates is returned when there is nothing to route to.
var ErrNoCandidates = errors.New("no candidate skills")

// Confidence labels a decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DefaultMaxSelections caps how many skills a decision selects.
const DefaultMaxSelections = 3

// Decision is the outcome of routing a query.
type Decision struct {
	Skills     []string   `json:"skills"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
	// Fallback is set when the decision came from the prefilter ranking
	// rather than the backend.
	Fallback bool `json:"fallback"`
}

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	Attempts     int           `mapstructure:"attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// BackoffType is exponential or fixed.
	BackoffType string `mapstructure:"backoff_type"`
}

// NewRetryConfig returns the default retry policy.
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		BackoffType:  "exponential",
	}
}

// answer is the JSON the backend is asked to produce.
type answer struct {
	Skills     []string `json:"skills" jsonschema:"description=Identifiers of the selected skills in order of relevance,maxItems=3"`
	Confidence string   `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low"`
	Reasoning  string   `json:"reasoning" jsonschema:"description=One or two sentences justifying the selection"`
}

var answerSchema = func() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	data, err := json.MarshalIndent(reflector.Reflect(&answer{}), "", "  ")
	if err != nil {
		panic(err)
	}
	return string(data)
}()

var routeTemplate = template.Must(template.New("route").Funcs(template.FuncMap{"join": strings.Join}).Parse(`Select the knowledge skills needed to answer the user's question.

Question:
{{.Query}}

Available skills:
{{range .Candidates}}- id: {{.Skill.Name}}
  title: {{.Skill.Title}}
  description: {{.Skill.Description}}
{{- if .Skill.Tags}}
  tags: {{join .Skill.Tags ", "}}{{end}}
{{end}}
Choose at most {{.Max}} skills, only from the identifiers above. Choose none if nothing applies.
Answer with a single JSON object matching this schema:
{{.Schema}}
`))

// Router asks a reasoning backend to choose among prefilter candidates.
type Router struct {
	generator     backend.Generator
	maxSelections int
	retry         RetryConfig
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMaxSelections overrides the selection cap.
func WithMaxSelections(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxSelections = n
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) RouterOption {
	return func(r *Router) { r.retry = cfg }
}

// NewRouter creates a router.
func NewRouter(generator backend.Generator, opts ...RouterOption) *Router {
	r := &Router{
		generator:     generator,
		maxSelections: DefaultMaxSelections,
		retry:         NewRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route selects skills for query among candidates. Backend failures and
// unusable answers degrade to the best prefilter candidate; only an empty
// candidate list is an error.
func (r *Router) Route(ctx context.Context, query string, candidates []Candidate) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}
	log := logger.G(ctx).WithFields(logrus.Fields{"candidates": len(candidates), "backend": r.generator.Name()})

	prompt, err := r.prompt(query, candidates)
	if err != nil {
		return Decision{}, err
	}

	out, err := r.generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		log.WithError(err).Warn("routing backend failed, using prefilter ranking")
		return fallback(candidates, "backend error: "+err.Error()), nil
	}

	var a answer
	if err := backend.DecodeJSON(out, &a); err != nil {
		log.WithError(err).Warn("routing answer unusable, using prefilter ranking")
		return fallback(candidates, "unparsable routing answer"), nil
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.Skill.Name] = true
	}
	var selected []string
	seen := map[string]bool{}
	for _, id := range a.Skills {
		id = strings.TrimSpace(id)
		if !known[id] || seen[id] {
			if !known[id] {
				log.WithField("skill", id).Debug("dropping unknown skill from routing answer")
			}
			continue
		}
		seen[id] = true
		selected = append(selected, id)
		if len(selected) == r.maxSelections {
			break
		}
	}
	if len(selected) == 0 {
		return fallback(candidates, "routing answer selected no known skill"), nil
	}

	return Decision{
		Skills:     selected,
		Confidence: normalizeConfidence(a.Confidence),
		Reasoning:  strings.TrimSpace(a.Reasoning),
	}, nil
}

func (r *Router) prompt(query string, candidates []Candidate) (string, error) {
	var buf bytes.Buffer
	err := routeTemplate.Execute(&buf, map[string]any{
		"Query":      strings.TrimSpace(query),
		"Candidates": candidates,
		"Max":        r.maxSelections,
		"Schema":     answerSchema,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to render routing prompt")
	}
	return buf.String(), nil
}

func (r *Router) generate(ctx context.Context, prompt string) (string, error) {
	if r.retry.Attempts <= 1 {
		return r.generator.Generate(ctx, prompt)
	}

	delayType := retry.BackOffDelay
	if r.retry.BackoffType == "fixed" {
		delayType = retry.FixedDelay
	}

	var out string
	err := retry.Do(
		func() error {
			var err error
			out, err = r.generator.Generate(ctx, prompt)
			return err
		},
		retry.RetryIf(backend.IsTransient),
		retry.Attempts(uint(r.retry.Attempts)),
		retry.Delay(r.retry.InitialDelay),
		retry.DelayType(delayType),
		retry.MaxDelay(r.retry.MaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("max_attempts", r.retry.Attempts).Warn("retrying routing call")
		}),
	)
	return out, err
}

func normalizeConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// fallback selects the single highest ranked candidate.
func fallback(candidates []Candidate, reason string) Decision {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score || (c.Score == best.Score && c.Skill.Name < best.Skill.Name) {
			best = c
		}
	}
	return Decision{
		Skills:     []string{best.Skill.Name},
		Confidence: ConfidenceLow,
		Reasoning:  reason,
		Fallback:   true,
	}
}
