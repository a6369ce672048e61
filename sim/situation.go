// Package sim synthesizes gyroscope, accelerometer and magnetometer samples
// from a scripted attitude history and runs them through the orientation filter.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/foshlabs/OrientationFilter/ahrs"
	"github.com/westphae/quaternion"
)

// ErrOutOfRange is returned when a Situation is queried outside its time span.
var ErrOutOfRange = errors.New("sim: requested time is outside of scenario")

// Timestep used to difference the attitude into body rates, s
const rateStep = 1e-6

// Situation defines an attitude history by piecewise-linear interpolation
// of roll, pitch and heading.
type Situation struct {
	t               []float64 // times for situation, s
	phi, theta, psi []float64 // attitude, rad [roll R/L, pitch U/D, heading N->E->S->W]
}

// NewSituation builds a Situation from breakpoints. Times must be strictly
// increasing; angles are in radians and may wind past 2*Pi.
func NewSituation(t, phi, theta, psi []float64) (*Situation, error) {
	if len(t) < 2 {
		return nil, fmt.Errorf("sim: need at least 2 breakpoints, got %d", len(t))
	}
	if len(phi) != len(t) || len(theta) != len(t) || len(psi) != len(t) {
		return nil, fmt.Errorf("sim: breakpoint lengths differ")
	}
	for i := 1; i < len(t); i++ {
		if !(t[i] > t[i-1]) {
			return nil, fmt.Errorf("sim: times not increasing at index %d", i)
		}
	}
	return &Situation{t: t, phi: phi, theta: theta, psi: psi}, nil
}

// BeginTime returns the time stamp when the situation begins
func (s *Situation) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time stamp when the situation ends
func (s *Situation) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Attitude returns the interpolated roll, pitch and heading at time t, rad.
func (s *Situation) Attitude(t float64) (phi, theta, psi float64, err error) {
	if t < s.t[0] || t > s.t[len(s.t)-1] {
		return 0, 0, 0, ErrOutOfRange
	}
	ix := 0
	if t > s.t[0] {
		ix = sort.SearchFloat64s(s.t, t) - 1
	}

	f := (s.t[ix+1] - t) / (s.t[ix+1] - s.t[ix])
	phi = f*s.phi[ix] + (1-f)*s.phi[ix+1]
	theta = f*s.theta[ix] + (1-f)*s.theta[ix+1]
	psi = f*s.psi[ix] + (1-f)*s.psi[ix+1]
	return
}

// Interpolate returns the true body-to-earth orientation at time t.
func (s *Situation) Interpolate(t float64) (quaternion.Quaternion, error) {
	phi, theta, psi, err := s.Attitude(t)
	if err != nil {
		return quaternion.Quaternion{}, err
	}
	e0, e1, e2, e3 := ahrs.ToQuaternion(phi, theta, psi)
	return quaternion.Quaternion{W: e0, X: e1, Y: e2, Z: e3}.Unit(), nil
}

// Rates returns the body-frame angular rate at time t, rad/s, from the
// orientation change over the following rateStep.
func (s *Situation) Rates(t float64) (w1, w2, w3 float64, err error) {
	t0, t1 := t, t+rateStep
	if t1 > s.EndTime() {
		t1 = s.EndTime()
		t0 = t1 - rateStep
	}
	q0, err := s.Interpolate(t0)
	if err != nil {
		return
	}
	q1, err := s.Interpolate(t1)
	if err != nil {
		return
	}

	// q1 = q0*dq with dq = (cos(a/2), sin(a/2)*w/|w|)
	dq := quaternion.Prod(q0.Conj(), q1)
	if dq.W < 0 {
		dq = quaternion.Quaternion{W: -dq.W, X: -dq.X, Y: -dq.Y, Z: -dq.Z}
	}
	return 2 * dq.X / rateStep, 2 * dq.Y / rateStep, 2 * dq.Z / rateStep, nil
}

// Sensors describes the simulated sensor suite.
type Sensors struct {
	GyroNoise  float64    // Gaussian stdev of gyro readings, rad/s
	GyroBias   [3]float64 // Constant gyro bias, rad/s
	AccelNoise float64    // Gaussian stdev of accelerometer readings, G
	MagNoise   float64    // Gaussian stdev of magnetometer readings, field units
	MagField   [3]float64 // Earth-frame magnetic field, x north and z up
}

// DefaultSensors returns noise-free sensors in a field with 60 degrees of dip.
func DefaultSensors() *Sensors {
	return &Sensors{
		MagField: [3]float64{math.Cos(60 * ahrs.Deg), 0, -math.Sin(60 * ahrs.Deg)},
	}
}

// Sample synthesizes the sensor readings at time t. At rest the accelerometer
// reads (0, 0, 1) G in the earth frame. rng may be nil for noise-free sensors.
func (s *Situation) Sample(t float64, ss *Sensors, rng *rand.Rand) (*ahrs.Measurement, error) {
	e, err := s.Interpolate(t)
	if err != nil {
		return nil, err
	}
	w1, w2, w3, err := s.Rates(t)
	if err != nil {
		return nil, err
	}

	noise := func(sd float64) float64 {
		if rng == nil || sd == 0 {
			return 0
		}
		return sd * rng.NormFloat64()
	}

	// Rotate earth-frame vectors into the body frame: X_b = conj(E)*X_e*E
	g := quaternion.Prod(e.Conj(), quaternion.Quaternion{Z: 1}, e)
	n := quaternion.Prod(e.Conj(),
		quaternion.Quaternion{X: ss.MagField[0], Y: ss.MagField[1], Z: ss.MagField[2]}, e)

	m := &ahrs.Measurement{
		B1: w1 + ss.GyroBias[0] + noise(ss.GyroNoise),
		B2: w2 + ss.GyroBias[1] + noise(ss.GyroNoise),
		B3: w3 + ss.GyroBias[2] + noise(ss.GyroNoise),
		A1: g.X + noise(ss.AccelNoise),
		A2: g.Y + noise(ss.AccelNoise),
		A3: g.Z + noise(ss.AccelNoise),
		M1: n.X + noise(ss.MagNoise),
		M2: n.Y + noise(ss.MagNoise),
		M3: n.Z + noise(ss.MagNoise),
		T:  t,
	}
	return m, nil
}
