// Package cli implements the maploc command line interface.
package cli

import (
	"io"

	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/maploc/maploc/frames"
)

const (
	generalFlagDebug = "debug"

	mapFlagPath          = "map"
	mapFlagPoints        = "points"
	mapFlagImages        = "images"
	mapFlagImageDir      = "image-dir"
	mapFlagSidecarDir    = "sidecar-dir"
	mapFlagSidecarSuffix = "sidecar-suffix"
	mapFlagOutput        = "output"

	locFlagIntrinsics    = "intrinsics"
	locFlagRatio         = "ratio"
	locFlagReprojection  = "reprojection-error"
	locFlagConfidence    = "confidence"
	locFlagMinInliers    = "min-inliers"
	locFlagMaxIterations = "max-iterations"
	locFlagSeed          = "seed"
	locFlagParallel      = "parallel"

	benchFlagRuns = "runs"

	sweepFlagRatios        = "ratios"
	sweepFlagReprojections = "reprojection-errors"

	datasetFlagExecute = "execute"
	splitFlagTestCount = "test-count"
	splitFlagMode      = "mode"
	splitFlagTrainDir  = "train-dir"
	splitFlagTestDir   = "test-dir"

	serveFlagAddress = "address"

	metadataLogger = "logger"
)

func mapPathFlag() cli.Flag {
	return &cli.PathFlag{
		Name:     mapFlagPath,
		Required: true,
		Usage:    "path of the map archive",
	}
}

func localizerFlags() []cli.Flag {
	return []cli.Flag{
		mapPathFlag(),
		&cli.PathFlag{
			Name:     locFlagIntrinsics,
			Required: true,
			Usage:    "JSON file with the pinhole intrinsics (fx, fy, cx, cy)",
		},
		&cli.PathFlag{
			Name:  mapFlagSidecarDir,
			Usage: "directory of query feature sidecars, next to each image when unset",
		},
		&cli.Float64Flag{
			Name:  locFlagRatio,
			Usage: "Lowe ratio-test threshold",
		},
		&cli.Float64Flag{
			Name:  locFlagReprojection,
			Usage: "RANSAC inlier threshold in pixels",
		},
		&cli.Float64Flag{
			Name:  locFlagConfidence,
			Usage: "RANSAC confidence",
		},
		&cli.IntFlag{
			Name:  locFlagMinInliers,
			Usage: "reject poses with fewer inliers",
		},
		&cli.IntFlag{
			Name:  locFlagMaxIterations,
			Usage: "RANSAC iteration cap",
		},
		&cli.Int64Flag{
			Name:  locFlagSeed,
			Usage: "RANSAC seed, time-based when 0",
		},
	}
}

// NewApp returns the maploc app with Writer set to out and ErrWriter set to
// errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "maploc",
		Usage:           "build localization maps and estimate camera poses against them",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Metadata:        map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			var logger golog.Logger
			if c.Bool(generalFlagDebug) {
				logger = golog.NewDebugLogger("maploc")
			} else {
				logger = zap.NewNop().Sugar()
			}
			c.App.Metadata[metadataLogger] = logger
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "build a localization map from reconstruction artifacts",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     mapFlagPoints,
						Required: true,
						Usage:    "points3D.txt of the reconstruction",
					},
					&cli.PathFlag{
						Name:     mapFlagImages,
						Required: true,
						Usage:    "images.txt of the reconstruction",
					},
					&cli.PathFlag{
						Name:     mapFlagImageDir,
						Required: true,
						Usage:    "directory of the training images",
					},
					&cli.PathFlag{
						Name:  mapFlagSidecarDir,
						Usage: "directory of descriptor sidecars, image-dir when unset",
					},
					&cli.StringFlag{
						Name:  mapFlagSidecarSuffix,
						Usage: "descriptor sidecar filename suffix",
					},
					&cli.PathFlag{
						Name:     mapFlagOutput,
						Required: true,
						Usage:    "where to write the map archive",
					},
				},
				Action: BuildAction,
			},
			{
				Name:  "info",
				Usage: "print the size, descriptor dimension, and bounds of a map",
				Flags: []cli.Flag{
					mapPathFlag(),
				},
				Action: InfoAction,
			},
			{
				Name:      "localize",
				Usage:     "estimate the camera pose of one or more query images",
				ArgsUsage: "<image> [image ...]",
				Flags: append(localizerFlags(),
					&cli.IntFlag{
						Name:  locFlagParallel,
						Usage: "localize images concurrently with this many workers",
					},
				),
				Action: LocalizeAction,
			},
			{
				Name:      "evaluate",
				Usage:     "compare estimated camera positions against reconstructed poses",
				ArgsUsage: "<image> [image ...]",
				Flags: append(localizerFlags(),
					&cli.PathFlag{
						Name:     mapFlagImages,
						Required: true,
						Usage:    "images.txt holding the ground-truth poses",
					},
				),
				Action: EvaluateAction,
			},
			{
				Name:      "bench",
				Usage:     "measure localization latency over repeated runs",
				ArgsUsage: "<image> [image ...]",
				Flags: append(localizerFlags(),
					&cli.IntFlag{
						Name:  benchFlagRuns,
						Value: 10,
						Usage: "times to localize every image",
					},
					&cli.IntFlag{
						Name:  locFlagParallel,
						Usage: "localize images concurrently with this many workers",
					},
				),
				Action: BenchAction,
			},
			{
				Name:  "analyze",
				Usage: "summarize reconstruction coverage before building a map",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     mapFlagPoints,
						Required: true,
						Usage:    "points3D.txt of the reconstruction",
					},
					&cli.PathFlag{
						Name:     mapFlagImages,
						Required: true,
						Usage:    "images.txt of the reconstruction",
					},
					&cli.PathFlag{
						Name:  mapFlagSidecarDir,
						Usage: "directory of descriptor sidecars to check for coverage",
					},
					&cli.StringFlag{
						Name:  mapFlagSidecarSuffix,
						Usage: "descriptor sidecar filename suffix",
					},
				},
				Action: AnalyzeAction,
			},
			{
				Name:      "sweep",
				Usage:     "grid-search matcher and estimator thresholds on a query set",
				ArgsUsage: "<image> [image ...]",
				Flags: []cli.Flag{
					mapPathFlag(),
					&cli.PathFlag{
						Name:     locFlagIntrinsics,
						Required: true,
						Usage:    "JSON file with the pinhole intrinsics (fx, fy, cx, cy)",
					},
					&cli.PathFlag{
						Name:  mapFlagSidecarDir,
						Usage: "directory of query feature sidecars, next to each image when unset",
					},
					&cli.Float64SliceFlag{
						Name:  sweepFlagRatios,
						Usage: "ratio-test thresholds to try",
					},
					&cli.Float64SliceFlag{
						Name:  sweepFlagReprojections,
						Usage: "inlier thresholds in pixels to try",
					},
					&cli.IntFlag{
						Name:  locFlagMinInliers,
						Usage: "reject poses with fewer inliers",
					},
					&cli.Int64Flag{
						Name:  locFlagSeed,
						Usage: "RANSAC seed, time-based when 0",
					},
				},
				Action: SweepAction,
			},
			{
				Name:      "rename",
				Usage:     "rename images to zero-padded sequential frame names",
				ArgsUsage: "<image directory>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  datasetFlagExecute,
						Usage: "apply the renames instead of printing the plan",
					},
				},
				Action: RenameAction,
			},
			{
				Name:      "split",
				Usage:     "split an image directory into train and test sets",
				ArgsUsage: "<image directory>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     splitFlagTestCount,
						Required: true,
						Usage:    "number of images for the test set",
					},
					&cli.StringFlag{
						Name:  splitFlagMode,
						Value: string(frames.EvenlySpaced),
						Usage: "selection mode: even or random",
					},
					&cli.Int64Flag{
						Name:  locFlagSeed,
						Value: frames.DefaultSplitSeed,
						Usage: "seed for random mode",
					},
					&cli.PathFlag{
						Name:  splitFlagTrainDir,
						Usage: "train destination, <dir>/large_set_train when unset",
					},
					&cli.PathFlag{
						Name:  splitFlagTestDir,
						Usage: "test destination, <dir>/large_set_test when unset",
					},
					&cli.BoolFlag{
						Name:  datasetFlagExecute,
						Usage: "move the files instead of printing the plan",
					},
				},
				Action: SplitAction,
			},
			{
				Name:  "serve",
				Usage: "serve localization over HTTP",
				Flags: append(localizerFlags(),
					&cli.StringFlag{
						Name:  serveFlagAddress,
						Value: ":8080",
						Usage: "bind address",
					},
				),
				Action: ServeAction,
			},
		},
	}
}

// actionLogger returns the logger the Before hook selected, or a no-op logger
// when an action runs outside the app.
func actionLogger(c *cli.Context) golog.Logger {
	if logger, ok := c.App.Metadata[metadataLogger].(golog.Logger); ok {
		return logger
	}
	return zap.NewNop().Sugar()
}
