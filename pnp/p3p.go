package pnp

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/maploc/maploc/spatial"
)

type poseCandidate struct {
	rotation    *spatial.RotationMatrix
	translation r3.Vector
}

// solveP3P returns the camera poses consistent with three world points and
// the unit bearings observing them, following Grunert's reduction. Let
// u = s2/s1 and v = s3/s1 be the ratios of the unknown point depths;
// eliminating s1 from the law-of-cosines system leaves two quadratics in u
// whose coefficients are polynomials in v, and their resultant is a quartic
// in v. Up to four candidate poses come back; the caller disambiguates.
func solveP3P(world, bearings [3]r3.Vector) []poseCandidate {
	a := world[1].Sub(world[2]).Norm()
	b := world[0].Sub(world[2]).Norm()
	c := world[0].Sub(world[1]).Norm()
	if a == 0 || b == 0 || c == 0 {
		return nil
	}
	if world[1].Sub(world[0]).Cross(world[2].Sub(world[0])).Norm() <= 1e-10*b*c {
		return nil
	}

	var f [3]r3.Vector
	for i, bearing := range bearings {
		n := bearing.Norm()
		if n == 0 {
			return nil
		}
		f[i] = bearing.Mul(1 / n)
	}
	cosAlpha := f[1].Dot(f[2])
	cosBeta := f[0].Dot(f[2])
	cosGamma := f[0].Dot(f[1])

	a2, b2, c2 := a*a, b*b, c*c

	// E1: b^2.u^2 - 2b^2.cosGamma.u + (b^2 - c^2 + 2c^2.cosBeta.v - c^2.v^2) = 0
	// E2: (a^2-c^2).u^2 - 2(a^2.cosGamma - c^2.cosAlpha.v).u + (a^2 - c^2.v^2) = 0
	pA1 := []float64{b2}
	pB1 := []float64{-2 * b2 * cosGamma}
	pC1 := []float64{b2 - c2, 2 * c2 * cosBeta, -c2}
	pA2 := []float64{a2 - c2}
	pB2 := []float64{-2 * a2 * cosGamma, 2 * c2 * cosAlpha}
	pC2 := []float64{a2, 0, -c2}

	t1 := polySub(polyMul(pA1, pC2), polyMul(pC1, pA2))
	t2 := polySub(polyMul(pA1, pB2), polyMul(pB1, pA2))
	t3 := polySub(polyMul(pB1, pC2), polyMul(pC1, pB2))
	quartic := polySub(polyMul(t1, t1), polyMul(t2, t3))

	var candidates []poseCandidate
	for _, v := range realPositiveRoots(quartic) {
		for _, u := range commonRoots(
			pA1[0], pB1[0], polyEval(pC1, v),
			pA2[0], polyEval(pB2, v), polyEval(pC2, v),
		) {
			if u <= 0 {
				continue
			}
			den := 1 + u*u - 2*u*cosGamma
			if den < 1e-12 {
				continue
			}
			s1 := math.Sqrt(c2 / den)
			cameraPts := []r3.Vector{
				f[0].Mul(s1),
				f[1].Mul(u * s1),
				f[2].Mul(v * s1),
			}
			rot, trans, err := rigidTransform(world[:], cameraPts)
			if err != nil {
				continue
			}
			candidates = append(candidates, poseCandidate{rotation: rot, translation: trans})
		}
	}
	return candidates
}

// commonRoots returns the roots shared by the quadratics a1.u^2+b1.u+c1 and
// a2.u^2+b2.u+c2. The first quadratic always has a1 > 0 here, so its roots
// are taken outright and kept when they also satisfy the second; selecting
// by residual stays stable when the two quadratics nearly coincide.
func commonRoots(a1, b1, c1, a2, b2, c2 float64) []float64 {
	disc := b1*b1 - 4*a1*c1
	if disc < 0 {
		if disc < -1e-10*(b1*b1+math.Abs(4*a1*c1)) {
			return nil
		}
		disc = 0
	}
	if a1 == 0 {
		return nil
	}
	sq := math.Sqrt(disc)
	scale := math.Abs(a2) + math.Abs(b2) + math.Abs(c2)
	var out []float64
	for _, u := range [2]float64{(-b1 + sq) / (2 * a1), (-b1 - sq) / (2 * a1)} {
		res := (a2*u+b2)*u + c2
		if math.Abs(res) < 1e-6*scale*(1+u*u) {
			out = append(out, u)
		}
	}
	return out
}

// rigidTransform finds the rotation and translation mapping src onto dst in
// the least-squares sense, using the SVD of the centered cross-covariance.
func rigidTransform(src, dst []r3.Vector) (*spatial.RotationMatrix, r3.Vector, error) {
	if len(src) != len(dst) || len(src) < 3 {
		return nil, r3.Vector{}, errors.New("rigid transform needs at least 3 paired points")
	}
	var srcC, dstC r3.Vector
	for i := range src {
		srcC = srcC.Add(src[i])
		dstC = dstC.Add(dst[i])
	}
	n := float64(len(src))
	srcC = srcC.Mul(1 / n)
	dstC = dstC.Mul(1 / n)

	var h [9]float64
	for i := range src {
		p := src[i].Sub(srcC)
		q := dst[i].Sub(dstC)
		h[0] += p.X * q.X
		h[1] += p.X * q.Y
		h[2] += p.X * q.Z
		h[3] += p.Y * q.X
		h[4] += p.Y * q.Y
		h[5] += p.Y * q.Z
		h[6] += p.Z * q.X
		h[7] += p.Z * q.Y
		h[8] += p.Z * q.Z
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, h[:]), mat.SVDFull) {
		return nil, r3.Vector{}, errors.New("cross-covariance SVD did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for row := 0; row < 3; row++ {
			v.Set(row, 2, -v.At(row, 2))
		}
		r.Mul(&v, u.T())
	}
	m := make([]float64, 0, 9)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m = append(m, r.At(row, col))
		}
	}
	rot, err := spatial.NewRotationMatrix(m)
	if err != nil {
		return nil, r3.Vector{}, err
	}
	return rot, dstC.Sub(rot.Mul(srcC)), nil
}

// polyMul multiplies two polynomials given by ascending coefficients.
func polyMul(p, q []float64) []float64 {
	out := make([]float64, len(p)+len(q)-1)
	for i, pi := range p {
		for j, qj := range q {
			out[i+j] += pi * qj
		}
	}
	return out
}

// polySub subtracts q from p, padding the shorter operand with zeros.
func polySub(p, q []float64) []float64 {
	size := len(p)
	if len(q) > size {
		size = len(q)
	}
	out := make([]float64, size)
	copy(out, p)
	for i, qi := range q {
		out[i] -= qi
	}
	return out
}

func polyEval(p []float64, x float64) float64 {
	var y float64
	for i := len(p) - 1; i >= 0; i-- {
		y = y*x + p[i]
	}
	return y
}

// realPositiveRoots finds the real positive roots of a polynomial via the
// eigenvalues of its companion matrix.
func realPositiveRoots(coeffs []float64) []float64 {
	var maxAbs float64
	for _, cf := range coeffs {
		if a := math.Abs(cf); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		return nil
	}
	deg := len(coeffs) - 1
	for deg > 0 && math.Abs(coeffs[deg]) < 1e-12*maxAbs {
		deg--
	}
	if deg < 1 {
		return nil
	}
	if deg == 1 {
		if root := -coeffs[0] / coeffs[1]; root > 0 {
			return []float64{root}
		}
		return nil
	}

	companion := mat.NewDense(deg, deg, nil)
	for i := 1; i < deg; i++ {
		companion.Set(i, i-1, 1)
	}
	for i := 0; i < deg; i++ {
		companion.Set(i, deg-1, -coeffs[i]/coeffs[deg])
	}
	var eig mat.Eigen
	if !eig.Factorize(companion, mat.EigenNone) {
		return nil
	}
	var roots []float64
	for _, val := range eig.Values(nil) {
		if math.Abs(imag(val)) > 1e-6*(1+math.Abs(real(val))) {
			continue
		}
		if re := real(val); re > 0 {
			roots = append(roots, re)
		}
	}
	return roots
}
