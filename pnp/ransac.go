package pnp

import (
	"math"
	"math/rand"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/maploc/maploc/camera"
	"github.com/maploc/maploc/spatial"
)

// EstimatePose robustly fits a camera pose to 2D-3D correspondences. Each
// iteration samples four correspondences, solves the minimal problem on
// three, keeps the candidate pose that best explains the fourth, and scores
// it by consensus over all correspondences. The iteration count adapts to
// the best inlier ratio seen so far; the winning consensus set is refined
// and inliers are recounted under the refined pose.
func EstimatePose(
	world []r3.Vector,
	image []r2.Point,
	intrinsics *camera.Intrinsics,
	opts Options,
	logger golog.Logger,
) (*Pose, error) {
	if len(world) != len(image) {
		return nil, errors.Errorf("have %d world points but %d image points", len(world), len(image))
	}
	n := len(world)
	if n < MinCorrespondences {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "got %d", n)
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	bearings := make([]r3.Vector, n)
	for i := range image {
		bearings[i] = intrinsics.Bearing(image[i])
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	var (
		bestInliers []int
		bestRot     *spatial.RotationMatrix
		bestTrans   r3.Vector
	)
	required := opts.MaxIterations
	for it := 0; it < required; it++ {
		for j := 0; j < MinCorrespondences; j++ {
			k := j + rng.Intn(n-j)
			idx[j], idx[k] = idx[k], idx[j]
		}
		var sampleWorld, sampleBearings [3]r3.Vector
		for j := 0; j < 3; j++ {
			sampleWorld[j] = world[idx[j]]
			sampleBearings[j] = bearings[idx[j]]
		}
		candidates := solveP3P(sampleWorld, sampleBearings)
		if len(candidates) == 0 {
			continue
		}

		check := idx[3]
		var chosen *poseCandidate
		chosenErr := math.Inf(1)
		for ci := range candidates {
			e, ok := reprojectionError(&candidates[ci], world[check], image[check], intrinsics)
			if ok && e < chosenErr {
				chosenErr = e
				chosen = &candidates[ci]
			}
		}
		if chosen == nil || chosenErr >= opts.ReprojectionErrorPx {
			continue
		}

		inliers := consensus(chosen, world, image, intrinsics, opts.ReprojectionErrorPx)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestRot = chosen.rotation
			bestTrans = chosen.translation
			ratio := float64(len(inliers)) / float64(n)
			required = adaptiveIterations(ratio, opts.Confidence, opts.MinIterations, opts.MaxIterations)
			logger.Debugf("iteration %d: consensus %d of %d, running %d iterations", it, len(inliers), n, required)
		}
	}
	if len(bestInliers) < MinCorrespondences {
		return nil, errors.Wrapf(ErrNoConsensus, "best consensus %d of %d", len(bestInliers), n)
	}

	inW := make([]r3.Vector, len(bestInliers))
	inI := make([]r2.Point, len(bestInliers))
	for j, i := range bestInliers {
		inW[j] = world[i]
		inI[j] = image[i]
	}
	refRot, refTrans := refinePose(inW, inI, intrinsics, bestRot, bestTrans)
	refined := poseCandidate{rotation: refRot, translation: refTrans}
	refInliers := consensus(&refined, world, image, intrinsics, opts.ReprojectionErrorPx)
	// Refinement is only allowed to grow the consensus.
	if len(refInliers) >= len(bestInliers) {
		bestRot, bestTrans, bestInliers = refRot, refTrans, refInliers
	}

	logger.Debugf("pose estimated with %d of %d inliers", len(bestInliers), n)
	return &Pose{
		Rotation:    bestRot,
		Translation: bestTrans,
		Position:    spatial.CameraCenter(bestRot, bestTrans),
		InlierCount: len(bestInliers),
		TotalCount:  n,
		Inliers:     bestInliers,
	}, nil
}

// reprojectionError is the pixel distance between a world point projected
// under the candidate pose and its observed image point. The second return
// is false when the point lands behind the camera.
func reprojectionError(cand *poseCandidate, worldPt r3.Vector, imagePt r2.Point, intrinsics *camera.Intrinsics) (float64, bool) {
	px, ok := intrinsics.ProjectPoint(cand.rotation.Mul(worldPt).Add(cand.translation))
	if !ok {
		return 0, false
	}
	return math.Hypot(px.X-imagePt.X, px.Y-imagePt.Y), true
}

func consensus(cand *poseCandidate, world []r3.Vector, image []r2.Point, intrinsics *camera.Intrinsics, threshold float64) []int {
	var inliers []int
	for i := range world {
		if e, ok := reprojectionError(cand, world[i], image[i], intrinsics); ok && e < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// adaptiveIterations is the standard RANSAC stopping number: enough samples
// that at least one is outlier-free with the given confidence, assuming the
// observed inlier ratio.
func adaptiveIterations(inlierRatio, confidence float64, minIters, maxIters int) int {
	w4 := math.Pow(inlierRatio, MinCorrespondences)
	if w4 <= 0 {
		return maxIters
	}
	if w4 >= 1 {
		return minIters
	}
	needed := math.Log(1-confidence) / math.Log(1-w4)
	if math.IsNaN(needed) || needed > float64(maxIters) {
		return maxIters
	}
	if needed < float64(minIters) {
		return minIters
	}
	return int(math.Ceil(needed))
}
