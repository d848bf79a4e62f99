package localize

import (
	"context"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/maploc/maploc/sfm"
)

// EvalItem is the outcome of localizing one image with a known true camera
// position. PositionError is meaningful only when Err is nil.
type EvalItem struct {
	Path          string
	PositionError float64
	Err           error
}

// EvalSummary aggregates position errors over an evaluation run. The error
// statistics cover successfully localized images only.
type EvalSummary struct {
	Results     []EvalItem
	Attempted   int
	Localized   int
	MeanError   float64
	MedianError float64
	MaxError    float64
}

// GroundTruthFromRegistry derives per-image true camera centers from a
// reconstruction's registered poses.
func GroundTruthFromRegistry(reg *sfm.Registry) map[string]r3.Vector {
	truth := make(map[string]r3.Vector, reg.Len())
	for _, img := range reg.Images() {
		truth[img.Name] = img.CameraCenter()
	}
	return truth
}

// Evaluate localizes each image and compares the estimated camera position
// against its ground-truth center, keyed by base filename. Images without a
// ground-truth entry are skipped with a warning.
func (l *Localizer) Evaluate(ctx context.Context, paths []string, truth map[string]r3.Vector) (*EvalSummary, error) {
	if len(truth) == 0 {
		return nil, errors.New("evaluation needs at least one ground-truth pose")
	}

	summary := &EvalSummary{}
	var positionErrors []float64
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want, ok := truth[filepath.Base(path)]
		if !ok {
			l.logger.Warnf("no ground-truth pose for %s, skipping", path)
			continue
		}
		summary.Attempted++
		res, err := l.Localize(ctx, path)
		if err != nil {
			summary.Results = append(summary.Results, EvalItem{Path: path, Err: err})
			continue
		}
		posErr := res.Pose.Position.Sub(want).Norm()
		summary.Results = append(summary.Results, EvalItem{Path: path, PositionError: posErr})
		summary.Localized++
		positionErrors = append(positionErrors, posErr)
	}

	if len(positionErrors) > 0 {
		mean, err := stats.Mean(positionErrors)
		median, err2 := stats.Median(positionErrors)
		maxErr, err3 := stats.Max(positionErrors)
		if err != nil || err2 != nil || err3 != nil {
			return nil, errors.New("error aggregating position errors")
		}
		summary.MeanError = mean
		summary.MedianError = median
		summary.MaxError = maxErr
	}
	l.logger.Infof("evaluated %d images: %d localized, mean position error %.4f",
		summary.Attempted, summary.Localized, summary.MeanError)
	return summary, nil
}
