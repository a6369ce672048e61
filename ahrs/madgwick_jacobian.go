package ahrs

import (
	"fmt"

	"github.com/skelterjohn/go.matrix"
)

// objective returns the residuals between the gravity and flux directions
// predicted by quaternion q and flux reference (bx, bz), and the normalized
// accelerometer a and magnetometer m readings.
func objective(q1, q2, q3, q4, bx, bz, ax, ay, az, mx, my, mz float64) (f [6]float64) {
	twoq1, twoq2, twoq3 := 2*q1, 2*q2, 2*q3
	twobx, twobz := 2*bx, 2*bz
	q1q3, q2q4 := q1*q3, q2*q4

	f[0] = twoq2*q4 - twoq1*q3 - ax
	f[1] = twoq1*q2 + twoq3*q4 - ay
	f[2] = 1 - twoq2*q2 - twoq3*q3 - az
	f[3] = twobx*(0.5-q3*q3-q4*q4) + twobz*(q2q4-q1q3) - mx
	f[4] = twobx*(q2*q3-q1*q4) + twobz*(q1*q2+q3*q4) - my
	f[5] = twobx*(q1q3+q2q4) + twobz*(0.5-q2*q2-q3*q3) - mz
	return
}

// gradient returns J^T f for objective f evaluated at quaternion q and flux
// reference (bx, bz), expanded by hand from the 18 distinct Jacobian terms.
func gradient(q1, q2, q3, q4, bx, bz float64, f [6]float64) (g1, g2, g3, g4 float64) {
	twoq1, twoq2, twoq3, twoq4 := 2*q1, 2*q2, 2*q3, 2*q4
	twobxq1, twobxq2, twobxq3, twobxq4 := 2*bx*q1, 2*bx*q2, 2*bx*q3, 2*bx*q4
	twobzq1, twobzq2, twobzq3, twobzq4 := 2*bz*q1, 2*bz*q2, 2*bz*q3, 2*bz*q4

	// the ones marked (-) enter the gradient negated
	var (
		j11or24 = twoq3 // (-) as J11
		j12or23 = twoq4
		j13or22 = twoq1 // (-) as J13
		j14or21 = twoq2
		j32     = 2 * j14or21 // (-)
		j33     = 2 * j11or24 // (-)
		j41     = twobzq3     // (-)
		j42     = twobzq4
		j43     = 2*twobxq3 + twobzq1 // (-)
		j44     = 2*twobxq4 - twobzq2 // (-)
		j51     = twobxq4 - twobzq2   // (-)
		j52     = twobxq3 + twobzq1
		j53     = twobxq2 + twobzq4
		j54     = twobxq1 - twobzq3 // (-)
		j61     = twobxq3
		j62     = twobxq4 - 2*twobzq2
		j63     = twobxq1 - 2*twobzq3
		j64     = twobxq2
	)

	g1 = -j11or24*f[0] + j14or21*f[1] - j41*f[3] - j51*f[4] + j61*f[5]
	g2 = j12or23*f[0] + j13or22*f[1] - j32*f[2] + j42*f[3] + j52*f[4] + j62*f[5]
	g3 = -j13or22*f[0] + j12or23*f[1] - j33*f[2] - j43*f[3] + j53*f[4] + j63*f[5]
	g4 = j14or21*f[0] + j11or24*f[1] - j44*f[3] - j54*f[4] + j64*f[5]
	return
}

// calcJacobian returns the 6x4 Jacobian of the objective with respect to
// (q1, q2, q3, q4). It does not depend on the measurements.
func calcJacobian(q1, q2, q3, q4, bx, bz float64) *matrix.DenseMatrix {
	h := matrix.Zeros(6, 4)

	h.Set(0, 0, -2*q3) // f1,q1
	h.Set(0, 1, 2*q4)  // f1,q2
	h.Set(0, 2, -2*q1) // f1,q3
	h.Set(0, 3, 2*q2)  // f1,q4

	h.Set(1, 0, 2*q2) // f2,q1
	h.Set(1, 1, 2*q1) // f2,q2
	h.Set(1, 2, 2*q4) // f2,q3
	h.Set(1, 3, 2*q3) // f2,q4

	h.Set(2, 1, -4*q2) // f3,q2
	h.Set(2, 2, -4*q3) // f3,q3

	h.Set(3, 0, -2*bz*q3)         // f4,q1
	h.Set(3, 1, 2*bz*q4)          // f4,q2
	h.Set(3, 2, -4*bx*q3-2*bz*q1) // f4,q3
	h.Set(3, 3, -4*bx*q4+2*bz*q2) // f4,q4

	h.Set(4, 0, -2*bx*q4+2*bz*q2) // f5,q1
	h.Set(4, 1, 2*bx*q3+2*bz*q1)  // f5,q2
	h.Set(4, 2, 2*bx*q2+2*bz*q4)  // f5,q3
	h.Set(4, 3, -2*bx*q1+2*bz*q3) // f5,q4

	h.Set(5, 0, 2*bx*q3)         // f6,q1
	h.Set(5, 1, 2*bx*q4-4*bz*q2) // f6,q2
	h.Set(5, 2, 2*bx*q1-4*bz*q3) // f6,q3
	h.Set(5, 3, 2*bx*q2)         // f6,q4

	return h
}

// Jacobian returns the Jacobian of the objective function at the current
// orientation and flux reference, rows f1..f6 by columns q1..q4.
func (s *MadgwickState) Jacobian() *matrix.DenseMatrix {
	return calcJacobian(s.e0, s.e1, s.e2, s.e3, s.bx, s.bz)
}

// Residual returns the objective function for the current state and the given
// accelerometer and magnetometer readings, after normalizing them. The state
// is not modified.
func (s *MadgwickState) Residual(ax, ay, az, mx, my, mz float64) (f [6]float64, err error) {
	for _, v := range [...]float64{ax, ay, az, mx, my, mz} {
		if !isFinite(v) {
			return f, fmt.Errorf("%w: non-finite sample", ErrDegenerateMeasurement)
		}
	}
	var ok bool
	if ax, ay, az, ok = normalize3(ax, ay, az); !ok {
		return f, fmt.Errorf("%w: zero accelerometer vector", ErrDegenerateMeasurement)
	}
	if mx, my, mz, ok = normalize3(mx, my, mz); !ok {
		return f, fmt.Errorf("%w: zero magnetometer vector", ErrDegenerateMeasurement)
	}
	return objective(s.e0, s.e1, s.e2, s.e3, s.bx, s.bz, ax, ay, az, mx, my, mz), nil
}

// Gradient returns J^T f for the current state and the given readings, the
// unnormalized gradient-descent direction computed through the full Jacobian.
func (s *MadgwickState) Gradient(ax, ay, az, mx, my, mz float64) ([4]float64, error) {
	var g [4]float64
	f, err := s.Residual(ax, ay, az, mx, my, mz)
	if err != nil {
		return g, err
	}
	ff := matrix.MakeDenseMatrix(f[:], 6, 1)
	gg := matrix.Product(s.Jacobian().Transpose(), ff)
	for i := 0; i < 4; i++ {
		g[i] = gg.Get(i, 0)
	}
	return g, nil
}
