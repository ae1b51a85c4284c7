// Package llm talks to the hosted language models used for compliance
// analysis. Providers are tried in the order of a fallback chain.
package llm

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyPrompt     = errors.New("empty prompt provided")
	ErrNotConfigured   = errors.New("provider not configured")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrBlocked         = errors.New("response blocked by safety filters")
	ErrEmptyResponse   = errors.New("empty response")
)

// Provider names used in fallback steps.
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// Provider generates a completion for a prompt with a named model.
type Provider interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Completer turns a prompt into model output. Chain is the production
// implementation; services depend on this so tests can script answers.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options are the generation and retry settings shared by providers.
type Options struct {
	Temperature   *float64 // nil uses the default; zero is a valid setting
	MaxTokens     int
	MaxRetries    int
	Timeout       time.Duration
	RateLimitWait time.Duration
	BackoffBase   int
	MaxBackoff    time.Duration
}

// DefaultOptions returns the settings used when the config leaves them out.
func DefaultOptions() Options {
	return Options{
		Temperature:   Temperature(0.1),
		MaxTokens:     4000,
		MaxRetries:    1,
		Timeout:       30 * time.Second,
		RateLimitWait: 2 * time.Second,
		BackoffBase:   2,
		MaxBackoff:    3 * time.Second,
	}
}

// Temperature returns v as an Options.Temperature setting.
func Temperature(v float64) *float64 {
	return &v
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Temperature == nil {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.RateLimitWait == 0 {
		o.RateLimitWait = d.RateLimitWait
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	return o
}

// backoff returns min(base^attempt, max).
func (o Options) backoff(attempt int) time.Duration {
	wait := time.Second
	for i := 0; i < attempt; i++ {
		wait *= time.Duration(o.BackoffBase)
		if wait >= o.MaxBackoff {
			return o.MaxBackoff
		}
	}
	if wait > o.MaxBackoff {
		return o.MaxBackoff
	}
	return wait
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
