package llm

import (
	"context"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers = 3
	MaxWorkers     = 10
)

// Result is the outcome of one prompt in a parallel run.
type Result struct {
	Index int
	Text  string
	Err   error
}

// ProcessParallel completes prompts with at most workers in flight. Results
// come back in input order; a failed prompt carries its error and does not
// stop the others.
func ProcessParallel(ctx context.Context, c Completer, prompts []string, workers int) []Result {
	if len(prompts) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	logger.Info(ctx, "processing prompts in parallel", "count", len(prompts), "workers", workers)

	results := make([]Result, len(prompts))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, prompt := range prompts {
		g.Go(func() error {
			text, err := c.Complete(ctx, prompt)
			results[i] = Result{Index: i, Text: text, Err: err}
			if err != nil {
				logger.Warn(ctx, "prompt failed", "index", i, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}
	logger.Info(ctx, "parallel processing complete", "succeeded", succeeded, "total", len(prompts))
	return results
}
