package cycle

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/psilLang/sil/pkg/types"
)

// Job is one independent run in a batch. Jobs must not share a
// stateful Transform such as a ProgramTransform.
type Job struct {
	Name      string
	Initial   types.State
	Transform Transform
	Config    Config
}

// RunBatch runs jobs concurrently, at most limit at a time (limit <= 0 is
// unbounded). Results are in job order. Cancelling ctx stops the remaining
// runs between passes with Interrupted and returns the context error
// alongside the partial results.
func RunBatch(ctx context.Context, jobs []Job, limit int) ([]Result, error) {
	for i, j := range jobs {
		if j.Transform == nil {
			return nil, fmt.Errorf("job %d (%s): nil transform", i, j.Name)
		}
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			r := Runner{Transform: j.Transform, Config: j.Config}
			results[i] = r.RunContext(gctx, j.Initial)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
