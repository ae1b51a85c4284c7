package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	respond func(model string) (*genai.GenerateContentResponse, error)
	models  []string
	texts   []string
	config  *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.models = append(f.models, model)
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.texts = append(f.texts, contents[0].Parts[0].Text)
	}
	return f.respond(model)
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: s}}}},
		},
	}
}

func blockedResponse() *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{}, FinishReason: genai.FinishReasonSafety},
		},
	}
}

func newTestGemini(gen *fakeGenerator) (*GeminiProvider, *[]time.Duration) {
	var waits []time.Duration
	p := &GeminiProvider{
		models:  gen,
		primary: GeminiModelPrimary,
		backup:  GeminiModelExperimental,
		opts:    Options{MaxRetries: 1}.withDefaults(),
		safety:  ComplianceSafety(),
		sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	return p, &waits
}

func TestGeminiGenerateWrapsPrompt(t *testing.T) {
	gen := &fakeGenerator{respond: func(string) (*genai.GenerateContentResponse, error) {
		return textResponse("  done \n"), nil
	}}
	p, _ := newTestGemini(gen)

	out, err := p.Generate(context.Background(), GeminiModelPrimary, "check clause 4")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	require.Len(t, gen.texts, 1)
	assert.Contains(t, gen.texts[0], "professional regulatory compliance assistant")
	assert.Contains(t, gen.texts[0], "check clause 4")

	require.NotNil(t, gen.config)
	require.NotNil(t, gen.config.Temperature)
	assert.InDelta(t, 0.1, *gen.config.Temperature, 1e-6)
	assert.Equal(t, int32(4000), gen.config.MaxOutputTokens)
	assert.Len(t, gen.config.SafetySettings, 4)
}

func TestGeminiBlockedSwitchesToBackup(t *testing.T) {
	gen := &fakeGenerator{respond: func(model string) (*genai.GenerateContentResponse, error) {
		if model == GeminiModelPrimary {
			return blockedResponse(), nil
		}
		return textResponse("from backup"), nil
	}}
	p, _ := newTestGemini(gen)

	out, err := p.Generate(context.Background(), GeminiModelPrimary, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "from backup", out)
	assert.Equal(t, []string{GeminiModelPrimary, GeminiModelExperimental}, gen.models)
}

func TestGeminiBlockedOnBackupIsError(t *testing.T) {
	gen := &fakeGenerator{respond: func(string) (*genai.GenerateContentResponse, error) {
		return blockedResponse(), nil
	}}
	p, _ := newTestGemini(gen)

	_, err := p.Generate(context.Background(), GeminiModelExperimental, "prompt")
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, []string{GeminiModelExperimental}, gen.models)
}

func TestGeminiPromptFeedbackBlock(t *testing.T) {
	gen := &fakeGenerator{respond: func(string) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}, nil
	}}
	p, _ := newTestGemini(gen)

	_, err := p.Generate(context.Background(), GeminiModelPrimary, "prompt")
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, []string{GeminiModelPrimary, GeminiModelExperimental}, gen.models)
}

func TestGeminiRetriesThenFails(t *testing.T) {
	gen := &fakeGenerator{respond: func(string) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("connection reset")
	}}
	p, waits := newTestGemini(gen)

	_, err := p.Generate(context.Background(), GeminiModelPro, "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, gen.models, 2)
	assert.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestGeminiNotConfigured(t *testing.T) {
	p, err := NewGeminiProvider(context.Background(), "", GeminiModelPrimary, GeminiModelExperimental, Options{})
	require.NoError(t, err)
	assert.False(t, p.Configured())

	_, err = p.Generate(context.Background(), GeminiModelPrimary, "prompt")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSafetySettings(t *testing.T) {
	for _, s := range ComplianceSafety() {
		assert.Equal(t, genai.HarmBlockThresholdBlockNone, s.Threshold)
	}
	for _, s := range ModerateSafety() {
		assert.Equal(t, genai.HarmBlockThresholdBlockOnlyHigh, s.Threshold)
	}
}
