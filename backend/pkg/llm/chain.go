package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/hashicorp/go-multierror"
)

// Step is one (provider, model) entry of a fallback chain.
type Step struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Models picks the model names the presets are built from.
type Models struct {
	Groq         string
	GroqFast     string
	Gemini       string
	GeminiBackup string
	GeminiPro    string
	GeminiLite   string
}

// DefaultModels returns the stock model lineup.
func DefaultModels() Models {
	return Models{
		Groq:         GroqModelQuality,
		GroqFast:     GroqModelFast,
		Gemini:       GeminiModelPrimary,
		GeminiBackup: GeminiModelExperimental,
		GeminiPro:    GeminiModelPro,
		GeminiLite:   GeminiModelLite,
	}
}

// Preset names accepted by Preset.
const (
	PresetStandard   = "standard"
	PresetQuality    = "quality"
	PresetSpeed      = "speed"
	PresetGeminiOnly = "gemini-only"
)

// Preset returns the fallback steps for a named preset.
func Preset(name string, m Models) ([]Step, error) {
	switch strings.ToLower(name) {
	case PresetStandard, "":
		return []Step{
			{ProviderGroq, m.Groq},
			{ProviderGemini, m.Gemini},
			{ProviderGemini, m.GeminiBackup},
		}, nil
	case PresetQuality:
		return []Step{
			{ProviderGroq, m.Groq},
			{ProviderGemini, m.GeminiPro},
		}, nil
	case PresetSpeed:
		return []Step{
			{ProviderGroq, m.GroqFast},
			{ProviderGemini, m.GeminiLite},
		}, nil
	case PresetGeminiOnly:
		return []Step{
			{ProviderGemini, m.Gemini},
			{ProviderGemini, m.GeminiBackup},
		}, nil
	default:
		return nil, fmt.Errorf("unknown fallback preset %q", name)
	}
}

// Chain tries each step in order until one provider answers.
type Chain struct {
	steps     []Step
	providers map[string]Provider
	order     []string
}

func NewChain(steps []Step, providers ...Provider) *Chain {
	c := &Chain{
		steps:     steps,
		providers: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		if _, dup := c.providers[p.Name()]; !dup {
			c.order = append(c.order, p.Name())
		}
		c.providers[p.Name()] = p
	}
	return c
}

// Steps returns a copy of the chain's steps.
func (c *Chain) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

// WithSteps returns a chain sharing providers but using other steps.
func (c *Chain) WithSteps(steps []Step) *Chain {
	return &Chain{steps: steps, providers: c.providers, order: c.order}
}

// Providers lists the registered providers that have credentials.
func (c *Chain) Providers() []string {
	var names []string
	for _, name := range c.order {
		if c.providers[name].Configured() {
			names = append(names, name)
		}
	}
	return names
}

// Complete returns the first successful answer. When every step fails the
// returned error carries each step's failure.
func (c *Chain) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if len(c.steps) == 0 {
		return "", fmt.Errorf("fallback chain: %w", ErrNotConfigured)
	}

	var errs *multierror.Error
	for i, step := range c.steps {
		p, ok := c.providers[step.Provider]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", step.Provider, ErrUnknownProvider))
			continue
		}

		out, err := p.Generate(ctx, step.Model, prompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		errs = multierror.Append(errs, fmt.Errorf("%s (%s): %w", step.Provider, step.Model, err))
		if i < len(c.steps)-1 {
			next := c.steps[i+1]
			logger.Warn(ctx, "provider failed, trying next in chain",
				"provider", step.Provider,
				"model", step.Model,
				"next_provider", next.Provider,
				"next_model", next.Model,
				"error", err,
			)
		}
	}

	return "", fmt.Errorf("all providers in fallback chain failed: %w", errs.ErrorOrNil())
}
