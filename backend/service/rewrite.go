package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/aymanbagabas/go-udiff"
)

// RewriteTimeout bounds the model calls of one rewrite. It stays under the
// server's write timeout so the caller always gets the partial result.
const RewriteTimeout = 45 * time.Second

// MatchThreshold is the share of a clause an approximate match must cover.
const MatchThreshold = 0.75

var ErrNoHighRisk = errors.New("no high severity clauses to rewrite")

// Rewrite outcomes.
const (
	RewriteReplaced    = "replaced"
	RewriteApproximate = "approximate"
	RewriteNotFound    = "not_found"
	RewriteFailed      = "failed"
)

// ClauseRewrite is what happened to one high-risk clause.
type ClauseRewrite struct {
	ClauseID   int     `json:"clause_id"`
	Regulation string  `json:"regulation"`
	Original   string  `json:"original"`
	Rewritten  string  `json:"rewritten,omitempty"`
	Status     string  `json:"status"`
	Score      float64 `json:"score"`
	Error      string  `json:"error,omitempty"`
}

// RewriteResult is the modified contract and how it differs.
type RewriteResult struct {
	ModifiedText string          `json:"modified_text"`
	Diff         string          `json:"diff"`
	Clauses      []ClauseRewrite `json:"clauses"`
	Replaced     int             `json:"replaced"`
	URL          string          `json:"url,omitempty"`
}

// Rewriter asks the model for compliant versions of High severity clauses
// and splices them into the contract text.
type Rewriter struct {
	llm     llm.Completer
	workers int
	timeout time.Duration
}

func NewRewriter(c llm.Completer, workers int) *Rewriter {
	return &Rewriter{llm: c, workers: workers, timeout: RewriteTimeout}
}

const rewritePrompt = `
You are a contract compliance expert.
Your task: rewrite the following clause so that it is legally sound, risk-free,
and compliant with %s.

Original clause:
"""%s"""

Identified risk:
- %s

Rewrite this clause in natural, professional contract language,
keeping the business intent but ensuring compliance and zero high-risk exposure.

Return ONLY the rewritten clause as plain text (no JSON, no explanations).
`

// Rewrite replaces every High severity clause of text with a rewritten one.
// Rewrites run in parallel; replacements are applied in analysis order.
// Clauses still waiting on the model after RewriteTimeout come back failed.
func (r *Rewriter) Rewrite(ctx context.Context, filename, text string, analyses []model.ClauseAnalysis) (*RewriteResult, error) {
	var targets []model.ClauseAnalysis
	seen := make(map[string]bool)
	for _, a := range analyses {
		clause := strings.TrimSpace(a.Clause)
		if !a.IsHigh() || clause == "" || seen[clause] {
			continue
		}
		seen[clause] = true
		a.Clause = clause
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return nil, ErrNoHighRisk
	}

	prompts := make([]string, len(targets))
	for i, a := range targets {
		prompts[i] = fmt.Sprintf(rewritePrompt, orDefault(a.Regulation, model.RegulationGeneral), a.Clause, a.Risk)
	}
	logger.Info(ctx, "rewriting high risk clauses", "count", len(targets))
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	results := llm.ProcessParallel(callCtx, r.llm, prompts, r.workers)
	cancel()

	modified := text
	out := &RewriteResult{Clauses: make([]ClauseRewrite, 0, len(targets))}
	for i, a := range targets {
		cr := ClauseRewrite{ClauseID: a.ClauseID, Regulation: a.Regulation, Original: a.Clause}
		res := results[i]
		rewritten := strings.TrimSpace(res.Text)
		switch {
		case res.Err != nil:
			cr.Status = RewriteFailed
			cr.Error = firstRunes(res.Err.Error(), errorDetailChars)
		case rewritten == "":
			cr.Status = RewriteFailed
			cr.Error = "empty rewrite"
		default:
			cr.Rewritten = rewritten
			var score float64
			modified, cr.Status, score = replaceClause(modified, a.Clause, rewritten)
			cr.Score = score
			if cr.Status != RewriteNotFound {
				out.Replaced++
			}
		}
		out.Clauses = append(out.Clauses, cr)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out.ModifiedText = modified
	out.Diff = udiff.Unified(filename, "modified_"+filename, text, modified)
	logger.Info(ctx, "rewrite complete", "replaced", out.Replaced, "total", len(targets))
	return out, nil
}

// replaceClause swaps clause for replacement in text. An exact match wins;
// otherwise the longest case-insensitive common span is used when it covers
// at least MatchThreshold of the clause.
func replaceClause(text, clause, replacement string) (string, string, float64) {
	if strings.Contains(text, clause) {
		return strings.Replace(text, clause, replacement, 1), RewriteReplaced, 1
	}

	tr := []rune(text)
	cr := []rune(clause)
	start, size := longestCommonSpan(tr, cr)
	score := float64(size) / float64(max(1, len(cr)))
	if score < MatchThreshold {
		return text, RewriteNotFound, score
	}
	return string(tr[:start]) + replacement + string(tr[start+size:]), RewriteApproximate, score
}

// longestCommonSpan returns the start in a and length of the longest run of
// runes a and b share, ignoring case. Earlier starts in a win ties.
func longestCommonSpan(a, b []rune) (int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	la := make([]rune, len(a))
	for i, r := range a {
		la[i] = unicode.ToLower(r)
	}
	lb := make([]rune, len(b))
	for i, r := range b {
		lb[i] = unicode.ToLower(r)
	}

	prev := make([]int, len(lb)+1)
	cur := make([]int, len(lb)+1)
	bestEnd, best := 0, 0
	for i := 1; i <= len(la); i++ {
		for j := 1; j <= len(lb); j++ {
			if la[i-1] == lb[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best, bestEnd = cur[j], i
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestEnd - best, best
}
