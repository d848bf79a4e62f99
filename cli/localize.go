package cli

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/maploc/maploc/camera"
	"github.com/maploc/maploc/localize"
	"github.com/maploc/maploc/pointmap"
	"github.com/maploc/maploc/sfm"
)

func optionsFromFlags(c *cli.Context) localize.Options {
	// Zero fields fall back to the pipeline defaults.
	return localize.Options{
		RatioThreshold:      c.Float64(locFlagRatio),
		ReprojectionErrorPx: c.Float64(locFlagReprojection),
		Confidence:          c.Float64(locFlagConfidence),
		MinInliers:          c.Int(locFlagMinInliers),
		MaxIterations:       c.Int(locFlagMaxIterations),
		Seed:                c.Int64(locFlagSeed),
	}
}

func localizerFromFlags(c *cli.Context) (*localize.Localizer, error) {
	m, err := pointmap.LoadMap(c.Path(mapFlagPath))
	if err != nil {
		return nil, err
	}
	intrinsics, err := camera.LoadIntrinsics(c.Path(locFlagIntrinsics))
	if err != nil {
		return nil, err
	}
	extractor := sfm.NewSidecarExtractor(c.Path(mapFlagSidecarDir))
	return localize.NewLocalizer(m, extractor, intrinsics, optionsFromFlags(c), actionLogger(c))
}

func localizeAll(c *cli.Context, l *localize.Localizer, paths []string) ([]localize.BatchResult, error) {
	if workers := c.Int(locFlagParallel); workers > 1 {
		return l.LocalizeBatchParallel(c.Context, paths, workers)
	}
	return l.LocalizeBatch(c.Context, paths)
}

// LocalizeAction estimates a pose for every image argument.
func LocalizeAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("specify at least one image to localize")
	}
	l, err := localizerFromFlags(c)
	if err != nil {
		return err
	}
	results, err := localizeAll(c, l, c.Args().Slice())
	if err != nil {
		return err
	}
	succeeded := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(c.App.Writer, "%s: %v\n", res.Path, res.Err)
			continue
		}
		succeeded++
		pose := res.Result.Pose
		fmt.Fprintf(c.App.Writer, "%s: position (%.4f, %.4f, %.4f), %d/%d inliers, %v\n",
			res.Path, pose.Position.X, pose.Position.Y, pose.Position.Z,
			pose.InlierCount, pose.TotalCount, res.Result.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintf(c.App.Writer, "localized %d of %d images\n", succeeded, len(results))
	return nil
}

// EvaluateAction localizes the image arguments and reports position errors
// against the reconstruction's registered poses.
func EvaluateAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("specify at least one image to evaluate")
	}
	l, err := localizerFromFlags(c)
	if err != nil {
		return err
	}
	reg, err := sfm.ReadImages(c.Path(mapFlagImages))
	if err != nil {
		return err
	}

	summary, err := l.Evaluate(c.Context, c.Args().Slice(), localize.GroundTruthFromRegistry(reg))
	if err != nil {
		return err
	}
	for _, item := range summary.Results {
		if item.Err != nil {
			fmt.Fprintf(c.App.Writer, "%s: %v\n", item.Path, item.Err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s: position error %.4f\n", item.Path, item.PositionError)
	}
	fmt.Fprintf(c.App.Writer, "localized %d of %d; position error mean %.4f median %.4f max %.4f\n",
		summary.Localized, summary.Attempted, summary.MeanError, summary.MedianError, summary.MaxError)
	return nil
}

// BenchAction localizes every image argument repeatedly and reports latency
// statistics and the success rate.
func BenchAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("specify at least one image to benchmark")
	}
	l, err := localizerFromFlags(c)
	if err != nil {
		return err
	}
	runs := c.Int(benchFlagRuns)
	if runs <= 0 {
		return errors.Errorf("runs must be positive, got %d", runs)
	}
	paths := make([]string, 0, runs*c.NArg())
	for i := 0; i < runs; i++ {
		paths = append(paths, c.Args().Slice()...)
	}

	start := time.Now()
	results, err := localizeAll(c, l, paths)
	if err != nil {
		return err
	}
	total := time.Since(start)

	var latencies []float64
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		latencies = append(latencies, float64(res.Result.Elapsed)/float64(time.Millisecond))
	}
	fmt.Fprintf(c.App.Writer, "%d localizations in %v: %d succeeded (%.1f%%)\n",
		len(results), total.Round(time.Millisecond), len(latencies),
		100*float64(len(latencies))/float64(len(results)))
	if len(latencies) == 0 {
		return nil
	}
	summary, err := summarize(latencies)
	if err != nil {
		return errors.Wrap(err, "error aggregating latencies")
	}
	p95, err := stats.Percentile(latencies, 95)
	if err != nil {
		return errors.Wrap(err, "error aggregating latencies")
	}
	fmt.Fprintf(c.App.Writer, "latency ms: mean %.2f median %.2f p95 %.2f max %.2f\n",
		summary.mean, summary.median, p95, summary.max)
	return nil
}

// SweepAction runs the query set once per threshold combination, with an
// independent localizer per combination.
func SweepAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("specify at least one query image for the sweep")
	}
	m, err := pointmap.LoadMap(c.Path(mapFlagPath))
	if err != nil {
		return err
	}
	intrinsics, err := camera.LoadIntrinsics(c.Path(locFlagIntrinsics))
	if err != nil {
		return err
	}
	extractor := sfm.NewSidecarExtractor(c.Path(mapFlagSidecarDir))
	logger := actionLogger(c)

	defaults := localize.DefaultOptions()
	ratios := c.Float64Slice(sweepFlagRatios)
	if len(ratios) == 0 {
		ratios = []float64{defaults.RatioThreshold}
	}
	reprojections := c.Float64Slice(sweepFlagReprojections)
	if len(reprojections) == 0 {
		reprojections = []float64{defaults.ReprojectionErrorPx}
	}

	paths := c.Args().Slice()
	for _, ratio := range ratios {
		for _, reprojection := range reprojections {
			opts := localize.Options{
				RatioThreshold:      ratio,
				ReprojectionErrorPx: reprojection,
				MinInliers:          c.Int(locFlagMinInliers),
				Seed:                c.Int64(locFlagSeed),
			}
			l, err := localize.NewLocalizer(m, extractor, intrinsics, opts, logger)
			if err != nil {
				return err
			}
			results, err := l.LocalizeBatch(c.Context, paths)
			if err != nil {
				return err
			}
			succeeded, inliers := 0, 0
			for _, res := range results {
				if res.Err != nil {
					continue
				}
				succeeded++
				inliers += res.Result.Pose.InlierCount
			}
			fmt.Fprintf(c.App.Writer, "ratio %.2f reprojection %.1f: %d/%d localized, %d inliers\n",
				ratio, reprojection, succeeded, len(paths), inliers)
		}
	}
	return nil
}

type statSummary struct {
	min    float64
	mean   float64
	median float64
	max    float64
}

func summarize(values []float64) (statSummary, error) {
	minVal, err := stats.Min(values)
	mean, err2 := stats.Mean(values)
	median, err3 := stats.Median(values)
	maxVal, err4 := stats.Max(values)
	if err != nil || err2 != nil || err3 != nil || err4 != nil {
		return statSummary{}, errors.New("empty sample")
	}
	return statSummary{min: minVal, mean: mean, median: median, max: maxVal}, nil
}
