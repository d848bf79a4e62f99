package pnp

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/maploc/maploc/camera"
	"github.com/maploc/maploc/spatial"
)

var testIntrinsics = &camera.Intrinsics{Fx: 800, Fy: 800, Cx: 320, Cy: 240}

func testPose() (*spatial.RotationMatrix, r3.Vector) {
	axis := r3.Vector{X: 0.3, Y: -0.5, Z: 0.8}
	axis = axis.Mul(1 / axis.Norm())
	return spatial.NewRotationMatrixFromAxisAngle(axis, 0.2), r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}
}

// syntheticScene samples world points in front of the camera and projects
// them exactly under the given pose.
func syntheticScene(t *testing.T, n int, rot *spatial.RotationMatrix, trans r3.Vector) ([]r3.Vector, []r2.Point) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	world := make([]r3.Vector, 0, n)
	image := make([]r2.Point, 0, n)
	for len(world) < n {
		p := r3.Vector{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*4 - 2,
			Z: rng.Float64()*4 + 4,
		}
		px, ok := testIntrinsics.ProjectPoint(rot.Mul(p).Add(trans))
		if !ok {
			continue
		}
		world = append(world, p)
		image = append(image, px)
	}
	return world, image
}

func rotationsAlmostEqual(t *testing.T, got, want *spatial.RotationMatrix, tol float64) {
	t.Helper()
	g, w := got.RowMajor(), want.RowMajor()
	for i := range g {
		test.That(t, g[i], test.ShouldAlmostEqual, w[i], tol)
	}
}

func TestPolynomialHelpers(t *testing.T) {
	p := polyMul([]float64{2, -3, 1}, []float64{-1.5, 2.5, 1})
	test.That(t, p, test.ShouldResemble, []float64{-3, 9.5, -7, -0.5, 1})

	d := polySub([]float64{1, 2}, []float64{1, 1, 5})
	test.That(t, d, test.ShouldResemble, []float64{0, 1, -5})

	test.That(t, polyEval([]float64{-3, 9.5, -7, -0.5, 1}, 2), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, polyEval([]float64{1, 0, 1}, 3), test.ShouldEqual, 10)
}

func TestRealPositiveRoots(t *testing.T) {
	// (x-1)(x-2)(x+3)(x-0.5) has positive roots 0.5, 1, 2.
	roots := realPositiveRoots([]float64{-3, 9.5, -7, -0.5, 1})
	sort.Float64s(roots)
	test.That(t, roots, test.ShouldHaveLength, 3)
	test.That(t, roots[0], test.ShouldAlmostEqual, 0.5, 1e-9)
	test.That(t, roots[1], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, roots[2], test.ShouldAlmostEqual, 2, 1e-9)

	// Vanishing leading coefficients reduce the degree.
	roots = realPositiveRoots([]float64{-4, 2, 0, 0, 0})
	test.That(t, roots, test.ShouldHaveLength, 1)
	test.That(t, roots[0], test.ShouldAlmostEqual, 2, 1e-12)

	test.That(t, realPositiveRoots([]float64{0, 0, 0}), test.ShouldBeNil)
}

func TestRigidTransform(t *testing.T) {
	rot, trans := testPose()
	src := []r3.Vector{
		{X: 0, Y: 0, Z: 5},
		{X: 1, Y: -1, Z: 6},
		{X: -2, Y: 1, Z: 4},
		{X: 0.5, Y: 2, Z: 7},
		{X: -1, Y: -2, Z: 5.5},
	}
	dst := make([]r3.Vector, len(src))
	for i, p := range src {
		dst[i] = rot.Mul(p).Add(trans)
	}

	gotRot, gotTrans, err := rigidTransform(src, dst)
	test.That(t, err, test.ShouldBeNil)
	rotationsAlmostEqual(t, gotRot, rot, 1e-9)
	test.That(t, gotTrans.Sub(trans).Norm(), test.ShouldBeLessThan, 1e-9)

	_, _, err = rigidTransform(src[:2], dst[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolveP3P(t *testing.T) {
	rot, trans := testPose()
	world := [3]r3.Vector{
		{X: 0, Y: 0, Z: 5},
		{X: 1.5, Y: -0.5, Z: 6},
		{X: -1, Y: 1, Z: 7},
	}
	var bearings [3]r3.Vector
	for i, p := range world {
		q := rot.Mul(p).Add(trans)
		bearings[i] = q.Mul(1 / q.Norm())
	}

	candidates := solveP3P(world, bearings)
	test.That(t, len(candidates), test.ShouldBeGreaterThan, 0)

	found := false
	want := rot.RowMajor()
	for _, cand := range candidates {
		var diff float64
		for i, v := range cand.rotation.RowMajor() {
			diff += math.Abs(v - want[i])
		}
		if diff < 1e-6 && cand.translation.Sub(trans).Norm() < 1e-6 {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestSolveP3PDegenerate(t *testing.T) {
	bearings := [3]r3.Vector{{Z: 1}, {X: 0.1, Z: 1}, {Y: 0.1, Z: 1}}

	// Collinear world points.
	collinear := [3]r3.Vector{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 3, Y: 3, Z: 3}}
	test.That(t, solveP3P(collinear, bearings), test.ShouldBeNil)

	// Coincident world points.
	coincident := [3]r3.Vector{{X: 1, Y: 0, Z: 5}, {X: 1, Y: 0, Z: 5}, {X: 0, Y: 1, Z: 5}}
	test.That(t, solveP3P(coincident, bearings), test.ShouldBeNil)
}

func TestEstimatePoseExact(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rot, trans := testPose()
	world, image := syntheticScene(t, 50, rot, trans)

	opts := DefaultOptions()
	opts.Seed = 1
	pose, err := EstimatePose(world, image, testIntrinsics, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.InlierCount, test.ShouldEqual, 50)
	test.That(t, pose.TotalCount, test.ShouldEqual, 50)
	test.That(t, pose.Inliers, test.ShouldHaveLength, 50)

	rotationsAlmostEqual(t, pose.Rotation, rot, 1e-5)
	test.That(t, pose.Translation.Sub(trans).Norm(), test.ShouldBeLessThan, 1e-3)

	wantPosition := spatial.CameraCenter(rot, trans)
	test.That(t, pose.Position.Sub(wantPosition).Norm(), test.ShouldBeLessThan, 1e-3)
}

func TestEstimatePoseMinimal(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rot, trans := testPose()
	world, image := syntheticScene(t, 4, rot, trans)

	opts := DefaultOptions()
	opts.Seed = 2
	pose, err := EstimatePose(world, image, testIntrinsics, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.InlierCount, test.ShouldEqual, 4)
	test.That(t, pose.Inliers, test.ShouldResemble, []int{0, 1, 2, 3})
	rotationsAlmostEqual(t, pose.Rotation, rot, 1e-5)
}

func TestEstimatePoseWithOutliers(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rot, trans := testPose()
	world, image := syntheticScene(t, 60, rot, trans)
	// Corrupt the last ten observations far beyond the inlier threshold.
	for i := 50; i < 60; i++ {
		image[i].X += 37
		image[i].Y -= 41
	}

	opts := DefaultOptions()
	opts.Seed = 3
	pose, err := EstimatePose(world, image, testIntrinsics, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.InlierCount, test.ShouldEqual, 50)
	test.That(t, pose.TotalCount, test.ShouldEqual, 60)
	for _, idx := range pose.Inliers {
		test.That(t, idx, test.ShouldBeLessThan, 50)
	}
	rotationsAlmostEqual(t, pose.Rotation, rot, 1e-4)
	test.That(t, pose.Position.Sub(spatial.CameraCenter(rot, trans)).Norm(), test.ShouldBeLessThan, 1e-3)
}

func TestEstimatePoseErrors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rot, trans := testPose()
	world, image := syntheticScene(t, 10, rot, trans)

	t.Run("length mismatch", func(t *testing.T) {
		_, err := EstimatePose(world, image[:5], testIntrinsics, DefaultOptions(), logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "world points")
	})

	t.Run("too few correspondences", func(t *testing.T) {
		_, err := EstimatePose(world[:3], image[:3], testIntrinsics, DefaultOptions(), logger)
		test.That(t, err, test.ShouldWrap, ErrInsufficientCorrespondences)
	})

	t.Run("invalid intrinsics", func(t *testing.T) {
		_, err := EstimatePose(world, image, &camera.Intrinsics{}, DefaultOptions(), logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("invalid options", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Confidence = 1.5
		_, err := EstimatePose(world, image, testIntrinsics, opts, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "confidence")
	})

	t.Run("no consensus on degenerate geometry", func(t *testing.T) {
		degenerateWorld := make([]r3.Vector, 6)
		degenerateImage := make([]r2.Point, 6)
		for i := range degenerateWorld {
			s := float64(i + 1)
			degenerateWorld[i] = r3.Vector{X: s, Y: s, Z: s}
			degenerateImage[i] = r2.Point{X: 320, Y: 240}
		}
		opts := DefaultOptions()
		opts.Seed = 4
		opts.MaxIterations = 50
		opts.MinIterations = 5
		_, err := EstimatePose(degenerateWorld, degenerateImage, testIntrinsics, opts, logger)
		test.That(t, err, test.ShouldWrap, ErrNoConsensus)
	})
}

func TestAdaptiveIterations(t *testing.T) {
	test.That(t, adaptiveIterations(1, 0.99, 10, 1000), test.ShouldEqual, 10)
	test.That(t, adaptiveIterations(0.5, 0.99, 10, 1000), test.ShouldEqual, 72)
	test.That(t, adaptiveIterations(0.9, 0.99, 1, 1000), test.ShouldEqual, 5)
	test.That(t, adaptiveIterations(0.05, 0.99, 10, 50), test.ShouldEqual, 50)
	test.That(t, adaptiveIterations(0, 0.99, 10, 50), test.ShouldEqual, 50)
}

func TestRefinePose(t *testing.T) {
	rot, trans := testPose()
	world, image := syntheticScene(t, 20, rot, trans)

	axis, theta := rot.AxisAngle()
	perturbedRot := spatial.NewRotationMatrixFromAxisAngle(axis, theta+0.02)
	perturbedTrans := trans.Add(r3.Vector{X: 0.05, Y: -0.03, Z: 0.04})

	refRot, refTrans := refinePose(world, image, testIntrinsics, perturbedRot, perturbedTrans)
	rotationsAlmostEqual(t, refRot, rot, 1e-5)
	test.That(t, refTrans.Sub(trans).Norm(), test.ShouldBeLessThan, 1e-5)
}

func TestRefinePoseTooFewPoints(t *testing.T) {
	rot, trans := testPose()
	world, image := syntheticScene(t, 2, rot, trans)
	gotRot, gotTrans := refinePose(world, image, testIntrinsics, rot, trans)
	test.That(t, gotRot, test.ShouldEqual, rot)
	test.That(t, gotTrans, test.ShouldResemble, trans)
}
