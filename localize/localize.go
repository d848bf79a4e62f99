// Package localize ties the pipeline together: it matches the features of a
// query image against a prebuilt map and estimates the 6-DoF camera pose
// from the surviving correspondences. Every failure mode has a typed error
// so callers can tell an unusable image apart from a misconfigured setup.
package localize

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/maploc/maploc/camera"
	"github.com/maploc/maploc/features"
	"github.com/maploc/maploc/pnp"
	"github.com/maploc/maploc/pointmap"
)

var (
	// ErrExtractionFailed wraps extractor errors for a query image.
	ErrExtractionFailed = errors.New("feature extraction failed")
	// ErrInsufficientFeatures indicates the query image has fewer features
	// than a pose estimate needs.
	ErrInsufficientFeatures = errors.New("not enough features extracted to attempt localization")
	// ErrInsufficientInliers indicates a pose was found but its consensus
	// is below the configured minimum.
	ErrInsufficientInliers = errors.New("pose has too few inliers")
)

// Options configure one localization pipeline. Zero fields take the
// corresponding DefaultOptions value.
type Options struct {
	RatioThreshold      float64 `json:"ratio_threshold"`
	ReprojectionErrorPx float64 `json:"reprojection_error_px"`
	Confidence          float64 `json:"confidence"`
	MinInliers          int     `json:"min_inliers"`
	MaxIterations       int     `json:"max_iterations"`
	Seed                int64   `json:"seed"`
}

// DefaultOptions returns the pipeline parameters used when callers do not
// override them.
func DefaultOptions() Options {
	match := features.DefaultMatchConfig()
	estimation := pnp.DefaultOptions()
	return Options{
		RatioThreshold:      match.RatioThreshold,
		ReprojectionErrorPx: estimation.ReprojectionErrorPx,
		Confidence:          estimation.Confidence,
		MinInliers:          pnp.MinCorrespondences,
		MaxIterations:       estimation.MaxIterations,
	}
}

func (o *Options) validate() error {
	def := DefaultOptions()
	if o.RatioThreshold == 0 {
		o.RatioThreshold = def.RatioThreshold
	}
	if o.ReprojectionErrorPx == 0 {
		o.ReprojectionErrorPx = def.ReprojectionErrorPx
	}
	if o.Confidence == 0 {
		o.Confidence = def.Confidence
	}
	if o.MinInliers == 0 {
		o.MinInliers = def.MinInliers
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.MinInliers < 0 {
		return errors.Errorf("min inliers must be positive, got %d", o.MinInliers)
	}
	return nil
}

// Result describes one successful localization.
type Result struct {
	Pose        *pnp.Pose
	NumFeatures int
	NumMatches  int
	Elapsed     time.Duration
}

// Localizer estimates camera poses for query images against one map. It is
// safe for concurrent use: localization reads but never mutates the map.
type Localizer struct {
	m          *pointmap.Map
	extractor  features.Extractor
	intrinsics *camera.Intrinsics
	matchCfg   features.MatchConfig
	poseOpts   pnp.Options
	minInliers int
	logger     golog.Logger
}

// NewLocalizer validates the pipeline configuration up front so that per-
// image calls only ever fail for per-image reasons.
func NewLocalizer(
	m *pointmap.Map,
	extractor features.Extractor,
	intrinsics *camera.Intrinsics,
	opts Options,
	logger golog.Logger,
) (*Localizer, error) {
	if m == nil {
		return nil, errors.New("localizer needs a map")
	}
	if extractor == nil {
		return nil, errors.New("localizer needs a feature extractor")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	matchCfg := features.MatchConfig{RatioThreshold: opts.RatioThreshold}
	poseOpts := pnp.Options{
		ReprojectionErrorPx: opts.ReprojectionErrorPx,
		Confidence:          opts.Confidence,
		MaxIterations:       opts.MaxIterations,
		Seed:                opts.Seed,
	}
	return &Localizer{
		m:          m,
		extractor:  extractor,
		intrinsics: intrinsics,
		matchCfg:   matchCfg,
		poseOpts:   poseOpts,
		minInliers: opts.MinInliers,
		logger:     logger,
	}, nil
}

// MapInfo summarizes the map a localizer serves.
type MapInfo struct {
	NumPoints     int             `json:"num_points"`
	DescriptorDim int             `json:"descriptor_dim"`
	Bounds        pointmap.Bounds `json:"bounds"`
}

// MapInfo reports the size, descriptor dimension, and spatial extent of the
// underlying map.
func (l *Localizer) MapInfo() MapInfo {
	return MapInfo{
		NumPoints:     l.m.Size(),
		DescriptorDim: l.m.Dim(),
		Bounds:        l.m.Bounds(),
	}
}

// Localize estimates the camera pose for one query image. Pipeline-stage
// failures come back wrapped in the package sentinels; matching failures
// surface as features.ErrInsufficientMatches and estimation failures as
// pnp.ErrNoConsensus.
func (l *Localizer) Localize(ctx context.Context, imagePath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	keypoints, descriptors, err := l.extractor.Extract(ctx, imagePath)
	if err != nil {
		return nil, errors.Wrapf(ErrExtractionFailed, "image %s: %v", imagePath, err)
	}
	if descriptors == nil || descriptors.Len() < pnp.MinCorrespondences {
		count := 0
		if descriptors != nil {
			count = descriptors.Len()
		}
		return nil, errors.Wrapf(ErrInsufficientFeatures, "image %s has %d features", imagePath, count)
	}

	matches, err := features.MatchDescriptors(l.m.Descriptors(), descriptors, keypoints, &l.matchCfg, l.logger)
	if err != nil {
		return nil, err
	}

	worldPts := make([]r3.Vector, len(matches))
	imagePts := make([]r2.Point, len(matches))
	for i, corr := range matches {
		worldPts[i] = l.m.Point(corr.MapIndex)
		imagePts[i] = corr.Point
	}
	pose, err := pnp.EstimatePose(worldPts, imagePts, l.intrinsics, l.poseOpts, l.logger)
	if err != nil {
		return nil, err
	}
	if pose.InlierCount < l.minInliers {
		return nil, errors.Wrapf(ErrInsufficientInliers, "%d inliers, need %d", pose.InlierCount, l.minInliers)
	}

	elapsed := time.Since(start)
	l.logger.Debugf("localized %s: %d features, %d matches, %d inliers in %s",
		imagePath, descriptors.Len(), len(matches), pose.InlierCount, elapsed)
	return &Result{
		Pose:        pose,
		NumFeatures: descriptors.Len(),
		NumMatches:  len(matches),
		Elapsed:     elapsed,
	}, nil
}
