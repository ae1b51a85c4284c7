package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"google.golang.org/genai"
)

// Gemini model names.
const (
	GeminiModelPrimary      = "gemini-2.5-flash"
	GeminiModelExperimental = "gemini-2.0-flash-exp"
	GeminiModelPro          = "gemini-2.5-pro"
	GeminiModelLite         = "gemini-2.5-flash-lite"
)

const complianceContext = `You are a professional regulatory compliance assistant analyzing legal documents for a business compliance system. This is a legitimate legal analysis task for compliance purposes.

%s`

// ComplianceSafety lets legal text through the Gemini filters.
func ComplianceSafety() []*genai.SafetySetting {
	return safetySettings(genai.HarmBlockThresholdBlockNone)
}

// ModerateSafety only blocks high-probability harm.
func ModerateSafety() []*genai.SafetySetting {
	return safetySettings(genai.HarmBlockThresholdBlockOnlyHigh)
}

func safetySettings(threshold genai.HarmBlockThreshold) []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{Category: c, Threshold: threshold})
	}
	return settings
}

// generator is the subset of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider calls Gemini through the genai SDK.
type GeminiProvider struct {
	models  generator
	primary string
	backup  string
	opts    Options
	safety  []*genai.SafetySetting
	sleep   sleepFunc
}

// NewGeminiProvider builds a provider for the Gemini API. An empty key gives
// an unconfigured provider whose calls fail with ErrNotConfigured.
func NewGeminiProvider(ctx context.Context, apiKey, primary, backup string, opts Options) (*GeminiProvider, error) {
	p := &GeminiProvider{
		primary: primary,
		backup:  backup,
		opts:    opts.withDefaults(),
		safety:  ComplianceSafety(),
		sleep:   sleepContext,
	}
	if apiKey == "" {
		return p, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	p.models = client.Models
	return p, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) Configured() bool { return p.models != nil }

// Generate wraps prompt in the compliance preamble. A blocked answer from the
// primary model is retried once on the backup model.
func (p *GeminiProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	return p.generate(ctx, model, prompt, p.opts.MaxRetries, true)
}

func (p *GeminiProvider) generate(ctx context.Context, model, prompt string, retries int, allowSwitch bool) (string, error) {
	contents := genai.Text(fmt.Sprintf(complianceContext, prompt))
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(*p.opts.Temperature)),
		MaxOutputTokens: int32(p.opts.MaxTokens),
		SafetySettings:  p.safety,
	}

	for attempt := 0; attempt <= retries; attempt++ {
		logger.Debug(ctx, "calling gemini", "model", model, "attempt", attempt)

		callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		resp, err := p.models.GenerateContent(callCtx, model, contents, cfg)
		cancel()
		if err == nil {
			var text string
			text, err = responseText(resp)
			if err == nil {
				return text, nil
			}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if isSafetyError(err) && attempt == 0 && allowSwitch && p.canSwitch(model) {
			logger.Warn(ctx, "gemini blocked, switching to backup model", "model", model, "backup", p.backup)
			return p.generate(ctx, p.backup, prompt, 0, false)
		}
		if errors.Is(err, ErrBlocked) || errors.Is(err, ErrEmptyResponse) {
			return "", fmt.Errorf("gemini %s: %w", model, err)
		}

		logger.Warn(ctx, "gemini error", "model", model, "error", err)
		if attempt == retries {
			return "", fmt.Errorf("gemini API error: %w", err)
		}
		if err := p.sleep(ctx, p.opts.backoff(attempt)); err != nil {
			return "", err
		}
	}

	return "", errors.New("gemini API failed after all retries")
}

func (p *GeminiProvider) canSwitch(model string) bool {
	return model == p.primary && p.backup != "" && p.backup != model
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: %s", ErrBlocked, resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrBlocked
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func isSafetyError(err error) bool {
	if errors.Is(err, ErrBlocked) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") || strings.Contains(msg, "safety")
}
