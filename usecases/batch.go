package usecases

import (
	"context"

	"github.com/gammazero/workerpool"

	"loomctl/core/log"
	"loomctl/models"
)

// BatchRunner tears down several looms one after another. A failure on one
// target never stops the rest.
type BatchRunner struct {
	cleaner Cleaner
}

func NewBatchRunner(cleaner Cleaner) *BatchRunner {
	return &BatchRunner{cleaner: cleaner}
}

// CleanupBatch returns one outcome per request, in request order. Targets
// not yet started when ctx is cancelled are reported with ctx's error.
func (b *BatchRunner) CleanupBatch(ctx context.Context, requests []models.CleanupRequest, options models.CleanupOptions) []models.BatchOutcome {
	outcomes := make([]models.BatchOutcome, len(requests))

	// A single worker keeps teardowns strictly sequential
	pool := workerpool.New(1)
	for i, request := range requests {
		pool.Submit(func() {
			outcome := models.BatchOutcome{Input: request.OriginalInput}
			if err := ctx.Err(); err != nil {
				outcome.Err = err
				outcomes[i] = outcome
				return
			}

			outcome.Result, outcome.Err = b.cleaner.Cleanup(ctx, request, options)
			if outcome.Err != nil {
				log.Warn("⚠️ Cleanup of %s refused: %v", request.OriginalInput, outcome.Err)
			}
			outcomes[i] = outcome
		})
	}
	pool.StopWait()

	return outcomes
}
