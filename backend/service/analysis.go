package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
)

const (
	charsPerToken = 4
	safetyMargin  = 0.8

	// promptClauseChars is how much of each clause goes into a batch prompt.
	promptClauseChars = 900
	errorDetailChars  = 200
)

// CharBudget converts a token budget into the per-batch character budget.
func CharBudget(maxTokens int) int {
	return int(float64(maxTokens*charsPerToken) * safetyMargin)
}

// Analyzer runs the batched LLM analysis and suggestion passes.
type Analyzer struct {
	llm        llm.Completer
	charBudget int
	pause      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewAnalyzer(c llm.Completer, cfg *config.AnalysisConfig) *Analyzer {
	tokens := cfg.LLMMaxTokens
	if tokens <= 0 {
		tokens = 6000
	}
	return &Analyzer{
		llm:        c,
		charBudget: CharBudget(tokens),
		pause:      time.Duration(cfg.BatchPauseSecs) * time.Second,
		sleep:      waitContext,
	}
}

const analysisPrompt = `
You are a concise legal compliance analyst and an expert in regulatory compliance.

Your task: read each clause provided and strictly identify if it refers to ANY regulatory frameworks,
including but not limited to: GDPR, HIPAA, PCI-DSS, SOC2, CCPA, ISO standards, and other national or international regulations.

Instructions:
1. If a regulation is explicitly named, extract it (e.g., GDPR, HIPAA).
2. If a regulation is implied (e.g., 'data protection laws in the EU'), infer the closest known framework (e.g., GDPR).
3. If no regulation is found, use 'General Legal'.
4. For each clause, return JSON with fields:
   - clause_id (integer)
   - regulation (one of: %s)
   - risk (short description of the primary compliance or legal risk)
   - severity (Low|Medium|High)

Be exhaustive and conservative:
- Do NOT skip any possible regulations.
- If multiple regulations apply, list them all (comma separated).

Return ONLY valid JSON (an array). No explanations, no markdown, no extra keys.

Example output for two clauses:
[{"clause_id": 1, "regulation": "GDPR", "risk": "Personal data transfer without adequate safeguards", "severity": "High"},
{"clause_id": 2, "regulation": "General Legal", "risk": "Ambiguous termination notice period", "severity": "Medium"}]

Now analyze the clauses below:
`

// Analyze asks the model for a regulation, risk and severity per clause. LLM
// and parsing failures turn into error rows; only a cancelled context makes
// it return an error.
func (a *Analyzer) Analyze(ctx context.Context, clauses []model.Clause) ([]model.ClauseAnalysis, error) {
	if len(clauses) == 0 {
		logger.Warn(ctx, "no clauses to analyze")
		return nil, nil
	}

	batches := batchBySize(clauses, func(c model.Clause) int { return utf8.RuneCountInString(c.Content) }, a.charBudget)
	logger.Info(ctx, "analyzing clauses", "clauses", len(clauses), "batches", len(batches), "char_budget", a.charBudget)

	header := fmt.Sprintf(analysisPrompt, strings.Join(model.Regulations, ", "))

	var results []model.ClauseAnalysis
	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		logger.Info(ctx, "processing analysis batch", "batch", n+1, "of", len(batches), "clauses", len(batch))

		var sb strings.Builder
		sb.WriteString(header)
		for _, c := range batch {
			sb.WriteString(promptLine(c.ChunkID, c.Content))
		}

		response, err := a.llm.Complete(ctx, sb.String())
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			logger.Error(ctx, "analysis batch failed", "batch", n+1, "error", err)
			for _, c := range batch {
				results = append(results, model.ClauseAnalysis{
					ClauseID:   c.ChunkID,
					Regulation: model.RegulationAnalysisError,
					Risk:       "LLM call failed: " + firstRunes(err.Error(), errorDetailChars),
					Severity:   model.SeverityUnknown,
					Clause:     c.Content,
				})
			}
			continue
		}

		items, err := llm.ExtractJSON(response)
		if err != nil {
			logger.Error(ctx, "analysis response is not JSON", "batch", n+1, "preview", firstRunes(response, 800))
			for _, c := range batch {
				results = append(results, model.ClauseAnalysis{
					ClauseID:   c.ChunkID,
					Regulation: model.RegulationAnalysisError,
					Risk:       "JSON parsing failed for LLM response",
					Severity:   model.SeverityUnknown,
					Clause:     c.Content,
				})
			}
		} else {
			for idx, item := range items {
				results = append(results, analysisFromItem(item, idx, batch))
			}
		}

		if n < len(batches)-1 {
			if err := a.sleep(ctx, a.pause); err != nil {
				return results, err
			}
		}
	}

	logger.Info(ctx, "analysis complete", "results", len(results))
	return results, nil
}

func analysisFromItem(item map[string]any, idx int, batch []model.Clause) model.ClauseAnalysis {
	id, ok := intField(item, "clause_id")
	if !ok {
		if idx < len(batch) {
			id = batch[idx].ChunkID
		} else {
			id = batch[0].ChunkID
		}
	}

	clause := stringField(item, "clause")
	for _, c := range batch {
		if c.ChunkID == id {
			clause = c.Content
			break
		}
	}

	return model.ClauseAnalysis{
		ClauseID:   id,
		Regulation: orDefault(stringField(item, "regulation"), model.RegulationGeneral),
		Risk:       orDefault(stringField(item, "risk", "risk_description"), "Risk analysis incomplete"),
		Severity:   orDefault(stringField(item, "severity", "risk_severity"), model.SeverityMedium),
		Clause:     clause,
	}
}

// batchBySize groups items so each batch stays within budget characters. An
// item at or above the budget that follows a non-empty batch goes alone.
func batchBySize[T any](items []T, size func(T) int, budget int) [][]T {
	var (
		batches [][]T
		current []T
		chars   int
	)
	for _, it := range items {
		n := size(it)
		if n >= budget && len(current) > 0 {
			batches = append(batches, current, []T{it})
			current, chars = nil, 0
			continue
		}
		if chars+n <= budget {
			current = append(current, it)
			chars += n
			continue
		}
		if len(current) > 0 {
			batches = append(batches, current)
		}
		current, chars = []T{it}, n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// promptLine renders one clause for a batch prompt.
func promptLine(id int, content string) string {
	brief := strings.ReplaceAll(firstRunes(content, promptClauseChars), "\n", " ")
	if utf8.RuneCountInString(content) > promptClauseChars {
		brief += "..."
	}
	return fmt.Sprintf("\nClause %d: %s\n", id, brief)
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// stringField returns the first non-empty value among keys, rendering
// numbers the way they were written.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// intField reads an integer that the model may have sent as a number or a
// numeric string.
func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

func waitContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
