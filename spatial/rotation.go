// Package spatial implements the 3D rotation utilities the localization
// pipeline needs: rotation matrices, quaternion and axis-angle conversions,
// and camera-center derivation from a world-to-camera transform.
package spatial

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 rotation matrix stored in row-major order.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from a row-major slice of 9 elements.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	rm := RotationMatrix{}
	copy(rm.mat[:], m)
	return &rm, nil
}

// NewIdentityRotation returns the identity rotation.
func NewIdentityRotation() *RotationMatrix {
	return &RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotationMatrixFromAxisAngle builds the rotation of theta radians about
// the given axis via the Rodrigues formula. The axis need not be normalized;
// a zero axis yields the identity.
func NewRotationMatrixFromAxisAngle(axis r3.Vector, theta float64) *RotationMatrix {
	n := axis.Norm()
	if n == 0 || theta == 0 {
		return NewIdentityRotation()
	}
	a := axis.Mul(1 / n)
	s, c := math.Sincos(theta)
	k := 1 - c
	return &RotationMatrix{mat: [9]float64{
		c + a.X*a.X*k, a.X*a.Y*k - a.Z*s, a.X*a.Z*k + a.Y*s,
		a.Y*a.X*k + a.Z*s, c + a.Y*a.Y*k, a.Y*a.Z*k - a.X*s,
		a.Z*a.X*k - a.Y*s, a.Z*a.Y*k + a.X*s, c + a.Z*a.Z*k,
	}}
}

// QuatToRotationMatrix converts a quaternion to a rotation matrix. The input
// is normalized first, so any nonzero quaternion is accepted.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return NewIdentityRotation()
	}
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n
	return &RotationMatrix{mat: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

// At returns the value at the given row and column.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the a vector view of specified row of the matrix.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Col returns the a vector view of specified column of the matrix.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// RowMajor returns a copy of the matrix elements in row-major order.
func (rm *RotationMatrix) RowMajor() []float64 {
	out := make([]float64, 9)
	copy(out, rm.mat[:])
	return out
}

// Transpose returns the transpose, which for a rotation matrix is its inverse.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{mat: [9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// Mul applies the rotation to a vector.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.Row(0).Dot(v),
		Y: rm.Row(1).Dot(v),
		Z: rm.Row(2).Dot(v),
	}
}

// InverseMul applies the inverse rotation to a vector.
func (rm *RotationMatrix) InverseMul(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.Col(0).Dot(v),
		Y: rm.Col(1).Dot(v),
		Z: rm.Col(2).Dot(v),
	}
}

// Compose returns the product rm * other.
func (rm *RotationMatrix) Compose(other *RotationMatrix) *RotationMatrix {
	out := RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.mat[i*3+j] = rm.Row(i).Dot(other.Col(j))
		}
	}
	return &out
}

// Det returns the determinant, +1 for a proper rotation.
func (rm *RotationMatrix) Det() float64 {
	m := rm.mat
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Quaternion returns the quaternion representation, stable for all rotations
// by branching on the largest diagonal term.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	var w, x, y, z float64
	tr := m[0] + m[4] + m[8]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = s / 4
		x = (m[7] - m[5]) / s
		y = (m[2] - m[6]) / s
		z = (m[3] - m[1]) / s
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		w = (m[7] - m[5]) / s
		x = s / 4
		y = (m[1] + m[3]) / s
		z = (m[2] + m[6]) / s
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		w = (m[2] - m[6]) / s
		x = (m[1] + m[3]) / s
		y = s / 4
		z = (m[5] + m[7]) / s
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		w = (m[3] - m[1]) / s
		x = (m[2] + m[6]) / s
		y = (m[5] + m[7]) / s
		z = s / 4
	}
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// AxisAngle returns the unit rotation axis and the angle in [0, pi]. The
// axis of the identity rotation is reported as +Z by convention.
func (rm *RotationMatrix) AxisAngle() (r3.Vector, float64) {
	q := rm.Quaternion()
	w := q.Real
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	// q and -q encode the same rotation; pick the w >= 0 branch so the
	// returned angle lands in [0, pi].
	if w < 0 {
		w = -w
		v = v.Mul(-1)
	}
	n := v.Norm()
	theta := 2 * math.Atan2(n, w)
	if n == 0 {
		return r3.Vector{X: 0, Y: 0, Z: 1}, 0
	}
	return v.Mul(1 / n), theta
}

// NearestRotation projects an arbitrary 3x3 matrix onto SO(3) via SVD,
// guarding against reflections.
func NearestRotation(m *mat.Dense) (*RotationMatrix, error) {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("input matrix is %dx%d, need exactly 3x3", r, c)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// Flip the sign of the last singular direction.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	return NewRotationMatrix([]float64{
		rot.At(0, 0), rot.At(0, 1), rot.At(0, 2),
		rot.At(1, 0), rot.At(1, 1), rot.At(1, 2),
		rot.At(2, 0), rot.At(2, 1), rot.At(2, 2),
	})
}

// CameraCenter derives the world-space camera center from a world-to-camera
// rotation and translation, C = -R^T * t. Callers must not conflate the
// translation component of a pose with the camera position.
func CameraCenter(rm *RotationMatrix, t r3.Vector) r3.Vector {
	return rm.InverseMul(t).Mul(-1)
}
