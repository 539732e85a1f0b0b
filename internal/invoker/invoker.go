// Package invoker abstracts language-model backends behind a uniform
// capability pair: a blocking generate-all-at-once call and a blocking
// pull-based streaming call.
//
// DESIGN: Provider SDK/HTTP failures never cross this boundary as raw errors.
// Each adapter translates status codes into *Error with a stable code
// (rate_limited, unauthenticated, provider_error) so the session layer can
// always reach a terminal state. Retry/backoff policy is local to each
// adapter: Generate retries rate-limit-class failures with exponential
// backoff plus jitter; StreamGenerate does not retry once fragments may have
// been produced. Streams block in Next; the streaming session bridges them
// onto a goroutine.
package invoker

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/windowchat/stream-gateway/internal/prompt"
)

// Error codes surfaced to callers.
const (
	CodeRateLimited     = "rate_limited"
	CodeUnauthenticated = "unauthenticated"
	CodeProviderError   = "provider_error"
)

// Error is the uniform failure shape crossing the provider boundary.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Invoker is a single language-model backend.
type Invoker interface {
	// Name identifies the provider (e.g. "deepseek", "gemini").
	Name() string
	// Generate runs the prompt to completion and returns the full text.
	Generate(ctx context.Context, turns []prompt.Turn) (string, error)
	// StreamGenerate starts a generation and returns a blocking pull
	// iterator over text fragments.
	StreamGenerate(ctx context.Context, turns []prompt.Turn) (Stream, error)
}

// Stream is a blocking, pull-based fragment iterator. Next returns io.EOF
// after the final fragment and *Error on provider failure. Close releases
// the underlying connection and is safe to call more than once.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Config is the shared per-provider configuration.
type Config struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`

	// RetryBaseDelay is the first backoff step. Tests shrink it.
	RetryBaseDelay time.Duration `yaml:"-"`
}

// DefaultMaxRetries bounds Generate's internal retries.
const DefaultMaxRetries = 3

// DefaultTimeout is the provider-call timeout for non-streaming requests.
const DefaultTimeout = 30 * time.Second

// DefaultRetryBaseDelay is the first backoff step for rate-limit retries.
const DefaultRetryBaseDelay = 2 * time.Second

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
}

// classifyStatus maps an HTTP status to the uniform error code.
func classifyStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeUnauthenticated
	default:
		return CodeProviderError
	}
}

// backoffDelay returns the delay before retry attempt (0-based): exponential
// growth from base with up to one extra base of jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	return d + time.Duration(rand.Int63n(int64(base)+1))
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryable reports whether err warrants another Generate attempt.
func retryable(err error) bool {
	ie, ok := err.(*Error)
	return ok && ie.Code == CodeRateLimited
}
