package backend

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ErrorClass is the coarse category a failed generation is recorded under.
type ErrorClass string

const (
	ClassTimeout         ErrorClass = "timeout"
	ClassRateLimited     ErrorClass = "rate_limited"
	ClassUnavailable     ErrorClass = "unavailable"
	ClassMalformedOutput ErrorClass = "malformed_output"
	ClassBackendError    ErrorClass = "backend_error"
)

// Error carries an explicit class. Generators and fakes return it when the
// class cannot be inferred from the underlying error.
type Error struct {
	Class ErrorClass
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Classified wraps err with an explicit class.
func Classified(class ErrorClass, err error) error {
	return &Error{Class: class, Err: err}
}

// Classify maps a generation error onto an ErrorClass. It returns "" for nil.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var explicit *Error
	if errors.As(err, &explicit) {
		return explicit.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, ErrEmptyOutput) {
		return ClassMalformedOutput
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return classifyStatus(antErr.StatusCode)
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return classifyStatus(oaiErr.HTTPStatusCode)
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		if oaiReqErr.HTTPStatusCode == 0 {
			return ClassUnavailable
		}
		return classifyStatus(oaiReqErr.HTTPStatusCode)
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return classifyStatus(genaiErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassUnavailable
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return ClassUnavailable
	}
	return ClassBackendError
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == 429:
		return ClassRateLimited
	case code == 408 || code == 504:
		return ClassTimeout
	case code == 502 || code == 503 || code == 529:
		return ClassUnavailable
	default:
		return ClassBackendError
	}
}

// IsTransient reports whether retrying the same request could succeed.
func IsTransient(err error) bool {
	switch Classify(err) {
	case ClassTimeout, ClassRateLimited, ClassUnavailable:
		return true
	}
	return false
}
