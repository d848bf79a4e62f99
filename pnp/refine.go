package pnp

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/maploc/maploc/camera"
	"github.com/maploc/maploc/spatial"
)

const (
	refineMaxIterations = 10
	refineStepTolerance = 1e-12
	// behindCameraResidual dominates the objective whenever a point crosses
	// the z=0 plane during refinement, pushing the solver back.
	behindCameraResidual = 1e4
)

// refinePose polishes a pose with damped Gauss-Newton steps on the stacked
// reprojection residuals. The state is an axis-angle rotation vector plus
// the translation; the Jacobian comes from central differences. The result
// never has a higher residual cost than the input pose.
func refinePose(
	world []r3.Vector,
	image []r2.Point,
	intrinsics *camera.Intrinsics,
	rot *spatial.RotationMatrix,
	trans r3.Vector,
) (*spatial.RotationMatrix, r3.Vector) {
	if len(world) < 3 || len(world) != len(image) {
		return rot, trans
	}
	axis, theta := rot.AxisAngle()
	state := [6]float64{axis.X * theta, axis.Y * theta, axis.Z * theta, trans.X, trans.Y, trans.Z}
	m := 2 * len(world)

	residuals := func(s [6]float64) []float64 {
		r, t := poseFromState(s)
		out := make([]float64, 0, m)
		for i := range world {
			px, ok := intrinsics.ProjectPoint(r.Mul(world[i]).Add(t))
			if !ok {
				out = append(out, behindCameraResidual, behindCameraResidual)
				continue
			}
			out = append(out, px.X-image[i].X, px.Y-image[i].Y)
		}
		return out
	}
	cost := func(res []float64) float64 {
		var sum float64
		for _, r := range res {
			sum += r * r
		}
		return sum
	}

	curRes := residuals(state)
	curCost := cost(curRes)
	for iter := 0; iter < refineMaxIterations; iter++ {
		jac := mat.NewDense(m, 6, nil)
		for j := 0; j < 6; j++ {
			step := 1e-6 * (1 + math.Abs(state[j]))
			plus, minus := state, state
			plus[j] += step
			minus[j] -= step
			resPlus := residuals(plus)
			resMinus := residuals(minus)
			for i := 0; i < m; i++ {
				jac.Set(i, j, (resPlus[i]-resMinus[i])/(2*step))
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), mat.NewVecDense(m, curRes))
		var delta mat.VecDense
		if err := delta.SolveVec(&jtj, &jtr); err != nil {
			break
		}

		var next [6]float64
		for j := 0; j < 6; j++ {
			next[j] = state[j] - delta.AtVec(j)
		}
		nextRes := residuals(next)
		nextCost := cost(nextRes)
		if nextCost >= curCost {
			break
		}
		state, curRes, curCost = next, nextRes, nextCost
		if mat.Norm(&delta, 2) < refineStepTolerance {
			break
		}
	}
	return poseFromState(state)
}

func poseFromState(s [6]float64) (*spatial.RotationMatrix, r3.Vector) {
	rvec := r3.Vector{X: s[0], Y: s[1], Z: s[2]}
	theta := rvec.Norm()
	axis := r3.Vector{Z: 1}
	if theta > 0 {
		axis = rvec.Mul(1 / theta)
	}
	return spatial.NewRotationMatrixFromAxisAngle(axis, theta), r3.Vector{X: s[3], Y: s[4], Z: s[5]}
}
