// Package pnp estimates the 6-DoF pose of a calibrated camera from 2D-3D
// correspondences. A minimal three-point solver runs inside a RANSAC loop
// with a fourth sampled correspondence disambiguating the solver's
// candidate poses; the consensus set is then polished with Gauss-Newton
// steps on the reprojection residuals.
package pnp

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/maploc/maploc/spatial"
)

// MinCorrespondences is the smallest correspondence set a pose can be
// estimated from: three points for the solver plus one to disambiguate.
const MinCorrespondences = 4

var (
	// ErrInsufficientCorrespondences indicates fewer than MinCorrespondences
	// input correspondences.
	ErrInsufficientCorrespondences = errors.New("need at least 4 correspondences to estimate a pose")
	// ErrNoConsensus indicates the sampling loop never found a pose with at
	// least MinCorrespondences inliers.
	ErrNoConsensus = errors.New("no pose reached consensus")
)

// Options control the robust estimation loop. Zero fields are replaced by
// the corresponding DefaultOptions value; Seed zero draws a fresh seed.
type Options struct {
	// ReprojectionErrorPx is the inlier threshold: a correspondence is an
	// inlier when its reprojection error is strictly below this many pixels.
	ReprojectionErrorPx float64 `json:"reprojection_error_px"`
	// Confidence is the target probability of having sampled at least one
	// all-inlier subset; it drives the adaptive iteration count.
	Confidence    float64 `json:"confidence"`
	MaxIterations int     `json:"max_iterations"`
	MinIterations int     `json:"min_iterations"`
	Seed          int64   `json:"seed"`
}

// DefaultOptions returns the estimation parameters used when callers do not
// override them.
func DefaultOptions() Options {
	return Options{
		ReprojectionErrorPx: 8.0,
		Confidence:          0.99,
		MaxIterations:       1000,
		MinIterations:       10,
	}
}

func (o *Options) validate() error {
	def := DefaultOptions()
	if o.ReprojectionErrorPx == 0 {
		o.ReprojectionErrorPx = def.ReprojectionErrorPx
	}
	if o.Confidence == 0 {
		o.Confidence = def.Confidence
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.MinIterations == 0 {
		o.MinIterations = def.MinIterations
	}
	if o.ReprojectionErrorPx < 0 {
		return errors.Errorf("reprojection error threshold must be positive, got %v", o.ReprojectionErrorPx)
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		return errors.Errorf("confidence must be in (0, 1), got %v", o.Confidence)
	}
	if o.MaxIterations < 0 || o.MinIterations < 0 {
		return errors.New("iteration counts must be positive")
	}
	if o.MinIterations > o.MaxIterations {
		return errors.Errorf("min iterations %d exceeds max iterations %d", o.MinIterations, o.MaxIterations)
	}
	return nil
}

// Pose is a world-to-camera rigid transform: a camera-frame point is
// R*p + t for a world point p. Position is the camera center in world
// coordinates, -R^T t.
type Pose struct {
	Rotation    *spatial.RotationMatrix
	Translation r3.Vector
	Position    r3.Vector
	InlierCount int
	TotalCount  int
	// Inliers holds the indexes of the consensus correspondences in
	// ascending order.
	Inliers []int
}
