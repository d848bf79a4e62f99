package localize

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchResult pairs one query image with its localization outcome. Exactly
// one of Result and Err is set.
type BatchResult struct {
	Path   string
	Result *Result
	Err    error
}

// LocalizeBatch localizes the given images in order. A failure on one image
// is recorded in its BatchResult and does not stop the rest; only context
// cancellation halts the batch, returning the results collected so far
// together with the context error.
func (l *Localizer) LocalizeBatch(ctx context.Context, paths []string) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := l.Localize(ctx, path)
		results = append(results, BatchResult{Path: path, Result: res, Err: err})
	}
	return results, nil
}

// LocalizeBatchParallel behaves like LocalizeBatch but fans the images out
// over the given number of workers, defaulting to the CPU count. Results
// keep the order of paths.
func (l *Localizer) LocalizeBatchParallel(ctx context.Context, paths []string, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]BatchResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := l.Localize(gctx, path)
			results[i] = BatchResult{Path: path, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
