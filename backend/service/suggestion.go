package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
)

const defaultSuggestion = "No suggestion generated"

const suggestionPrompt = "You are a compliance advisor. For each clause provided, produce a concise, actionable suggestion that can reduce the identified risk.\n" +
	"Return ONLY a JSON array where each object includes these fields:\n" +
	" - clause_id (integer)\n" +
	" - suggestion (string, reasonably short but actionable)\n\n" +
	"Example:\n" +
	`[{"clause_id": 5, "suggestion": "Limit force majeure to exclude negligence, and require notice within 10 days"}, ` +
	`{"clause_id": 6, "suggestion": "Add a 30-day cure period for payment defaults before termination"}]` + "\n\n" +
	"Now provide suggestions for the clauses below:\n"

// Suggest produces one remediation per analysed clause, batched like Analyze.
func (a *Analyzer) Suggest(ctx context.Context, analyses []model.ClauseAnalysis) ([]model.Suggestion, error) {
	if len(analyses) == 0 {
		logger.Warn(ctx, "no analysis results to generate suggestions from")
		return nil, nil
	}

	batches := batchBySize(analyses, func(r model.ClauseAnalysis) int { return utf8.RuneCountInString(r.Clause) }, a.charBudget)

	var suggestions []model.Suggestion
	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			return suggestions, err
		}
		logger.Info(ctx, "processing suggestion batch", "batch", n+1, "of", len(batches), "items", len(batch))

		var sb strings.Builder
		sb.WriteString(suggestionPrompt)
		for _, r := range batch {
			sb.WriteString(promptLine(r.ClauseID, r.Clause))
		}

		response, err := a.llm.Complete(ctx, sb.String())
		if err != nil {
			if ctx.Err() != nil {
				return suggestions, ctx.Err()
			}
			logger.Error(ctx, "suggestion batch failed", "batch", n+1, "error", err)
			for _, r := range batch {
				suggestions = append(suggestions, model.Suggestion{
					ClauseID:   r.ClauseID,
					Suggestion: "Suggestion generation failed: " + firstRunes(err.Error(), errorDetailChars),
					Clause:     r.Clause,
				})
			}
			continue
		}

		items, err := llm.ExtractJSON(response)
		if err != nil {
			logger.Error(ctx, "suggestion response is not JSON", "batch", n+1, "preview", firstRunes(response, 800))
			for _, r := range batch {
				suggestions = append(suggestions, model.Suggestion{
					ClauseID:   r.ClauseID,
					Suggestion: "Suggestion generation failed: JSON parsing error",
					Clause:     r.Clause,
				})
			}
		} else {
			for idx, item := range items {
				suggestions = append(suggestions, suggestionFromItem(item, idx, batch))
			}
		}

		if n < len(batches)-1 {
			if err := a.sleep(ctx, a.pause); err != nil {
				return suggestions, err
			}
		}
	}

	logger.Info(ctx, "suggestion generation complete", "suggestions", len(suggestions))
	return suggestions, nil
}

func suggestionFromItem(item map[string]any, idx int, batch []model.ClauseAnalysis) model.Suggestion {
	id, ok := intField(item, "clause_id")
	if !ok && idx < len(batch) {
		id, ok = batch[idx].ClauseID, true
	}

	var clause string
	found := false
	if ok {
		for _, r := range batch {
			if r.ClauseID == id {
				clause, found = r.Clause, true
				break
			}
		}
	}
	if !found && idx < len(batch) {
		clause = batch[idx].Clause
	}

	return model.Suggestion{
		ClauseID:   id,
		Suggestion: orDefault(stringField(item, "suggestion", "advice"), defaultSuggestion),
		Clause:     clause,
	}
}
