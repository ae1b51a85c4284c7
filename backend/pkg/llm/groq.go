package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
)

// Groq model names.
const (
	GroqModelQuality  = "llama-3.3-70b-versatile"
	GroqModelBalanced = "llama-3.1-70b-versatile"
	GroqModelFast     = "llama-3.1-8b-instant"
)

// GroqProvider calls the OpenAI-compatible Groq chat completions API.
type GroqProvider struct {
	apiKey     string
	baseURL    string
	opts       Options
	httpClient *http.Client
	sleep      sleepFunc
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type groqResponse struct {
	Choices []struct {
		Message groqMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewGroqProvider(apiKey, baseURL string, opts Options) *GroqProvider {
	opts = opts.withDefaults()
	return &GroqProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		sleep: sleepContext,
	}
}

func (p *GroqProvider) Name() string { return ProviderGroq }

func (p *GroqProvider) Configured() bool { return p.apiKey != "" }

// Generate sends prompt as a single user message. Rate limited calls back off
// exponentially, other failures wait a fraction of the rate limit pause.
func (p *GroqProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("groq: %w", ErrNotConfigured)
	}

	body, err := json.Marshal(groqRequest{
		Model:       model,
		Messages:    []groqMessage{{Role: "user", Content: prompt}},
		Temperature: *p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt == 0 {
			logger.Debug(ctx, "calling groq", "model", model)
		} else {
			logger.Debug(ctx, "groq retry", "model", model, "attempt", attempt)
		}

		status, respBody, err := p.post(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			if attempt == p.opts.MaxRetries {
				return "", fmt.Errorf("groq request failed: %w", err)
			}
			if err := p.sleep(ctx, time.Second); err != nil {
				return "", err
			}
			continue
		}

		switch {
		case status == http.StatusOK:
			return parseGroqResponse(respBody)
		case status == http.StatusTooManyRequests:
			wait := p.opts.backoff(attempt)
			lastErr = fmt.Errorf("groq rate limited (status %d)", status)
			logger.Warn(ctx, "groq rate limited", "wait", wait.String())
			if err := p.sleep(ctx, wait); err != nil {
				return "", err
			}
		default:
			lastErr = fmt.Errorf("groq API error: status %d: %s", status, truncate(string(respBody), 200))
			logger.Warn(ctx, "groq API error", "status", status)
			if attempt == p.opts.MaxRetries {
				return "", lastErr
			}
			if err := p.sleep(ctx, p.opts.RateLimitWait/4); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("groq failed after all retries: %w", lastErr)
}

func (p *GroqProvider) post(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func parseGroqResponse(body []byte) (string, error) {
	var result groqResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse groq response: %w", err)
	}
	if len(result.Choices) == 0 {
		if result.Error != nil && result.Error.Message != "" {
			return "", errors.New("invalid response format from groq: " + result.Error.Message)
		}
		return "", errors.New("invalid response format from groq")
	}
	content := strings.TrimSpace(result.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("groq: %w", ErrEmptyResponse)
	}
	return content, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
