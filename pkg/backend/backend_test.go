package backend

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: errors.Wrap(context.DeadlineExceeded, "call"), want: ClassTimeout},
		{name: "explicit", err: errors.Wrap(Classified(ClassUnavailable, errors.New("down")), "call"), want: ClassUnavailable},
		{name: "empty output", err: ErrEmptyOutput, want: ClassMalformedOutput},
		{name: "openai 429", err: &openai.APIError{HTTPStatusCode: 429}, want: ClassRateLimited},
		{name: "openai 503", err: &openai.APIError{HTTPStatusCode: 503}, want: ClassUnavailable},
		{name: "openai 400", err: &openai.APIError{HTTPStatusCode: 400}, want: ClassBackendError},
		{name: "openai transport", err: &openai.RequestError{Err: errors.New("eof")}, want: ClassUnavailable},
		{name: "dial", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: ClassUnavailable},
		{name: "other", err: errors.New("boom"), want: ClassBackendError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Classified(ClassRateLimited, nil)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(ErrEmptyOutput))
	assert.False(t, IsTransient(nil))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported backend provider")
}

func TestNewWrapsRateLimiter(t *testing.T) {
	gen, err := New(context.Background(), Config{Provider: "anthropic", APIKey: "test", RequestsPerSecond: 5, Burst: 1})
	require.NoError(t, err)
	_, ok := gen.(*RateLimited)
	assert.True(t, ok)
	assert.Equal(t, "anthropic/"+DefaultAnthropicModel, gen.Name())
}

func openAIServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGenerate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := openAIServer(t, http.StatusOK, map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "enhanced"}}},
		})
		gen, err := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL, Model: "local"})
		require.NoError(t, err)

		out, err := gen.Generate(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, "enhanced", out)
		assert.Equal(t, "openai/local", gen.Name())
	})

	t.Run("empty output", func(t *testing.T) {
		srv := openAIServer(t, http.StatusOK, map[string]any{
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "  "}}},
		})
		gen, err := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = gen.Generate(context.Background(), "hello")
		assert.Equal(t, ClassMalformedOutput, Classify(err))
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := openAIServer(t, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"message": "slow down", "type": "rate_limit_exceeded"},
		})
		gen, err := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = gen.Generate(context.Background(), "hello")
		assert.Equal(t, ClassRateLimited, Classify(err))
	})
}

func TestAnthropicRateLimitedIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	gen := NewAnthropic(Config{APIKey: "test", BaseURL: srv.URL, MaxTokens: 16})
	_, err := gen.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, ClassRateLimited, Classify(err))
}

func TestRateLimited(t *testing.T) {
	calls := 0
	gen := NewRateLimited(Func(func(context.Context, string) (string, error) {
		calls++
		return "ok", nil
	}), 1000, 1)

	for range 3 {
		out, err := gen.Generate(context.Background(), "p")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, "func", gen.Name())
}

func TestRateLimitedBacksOffAfter429(t *testing.T) {
	gen := NewRateLimited(Func(func(context.Context, string) (string, error) {
		return "", Classified(ClassRateLimited, errors.New("429"))
	}), 1000, 1)
	gen.backoff = time.Hour

	_, err := gen.Generate(context.Background(), "p")
	assert.Equal(t, ClassRateLimited, Classify(err))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = gen.Generate(ctx, "p")
	assert.Equal(t, ClassTimeout, Classify(err))
}
