package analysis

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/meguminnnnnnnnn/go-openai"
	"google.golang.org/genai"
)

var (
	ErrNotConfigured = errors.New("vision provider is not configured")
	ErrNoImages      = errors.New("no image url provided")
	ErrUnauthorized  = errors.New("vision provider rejected the API key")
	ErrRateLimited   = errors.New("vision provider rate limit exceeded")
)

// ParseError carries the raw model reply that could not be decoded.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model reply: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError is a failed provider call. Status is 0 when the provider
// reported none.
type ProviderError struct {
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets callers match 401 and 429 replies against the sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == 401
	case ErrRateLimited:
		return e.Status == 429
	}
	return false
}

// Fallback for errors that lost their SDK type, e.g. flattened by a
// wrapper. openai: "status code: 429", anthropic: `POST "...": 401 Unauthorized`,
// genai: "Error 429, Message: ..."
var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`status code: (\d{3})`),
	regexp.MustCompile(`": (\d{3}) `),
	regexp.MustCompile(`Error (\d{3}),`),
}

func providerError(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if status := sdkStatus(err); status != 0 {
		return &ProviderError{Status: status, Err: err}
	}
	msg := err.Error()
	for _, re := range statusPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			status, _ := strconv.Atoi(m[1])
			return &ProviderError{Status: status, Err: err}
		}
	}
	return &ProviderError{Err: err}
}

// sdkStatus reads the HTTP status from the provider SDK error types.
func sdkStatus(err error) int {
	var (
		oaiAPI     *openai.APIError
		oaiRequest *openai.RequestError
		claudeErr  *anthropic.Error
		geminiErr  genai.APIError
	)
	switch {
	case errors.As(err, &oaiAPI):
		return oaiAPI.HTTPStatusCode
	case errors.As(err, &oaiRequest):
		return oaiRequest.HTTPStatusCode
	case errors.As(err, &claudeErr):
		return claudeErr.StatusCode
	case errors.As(err, &geminiErr):
		return geminiErr.Code
	}
	return 0
}
