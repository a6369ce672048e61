package ahrs

import (
	"fmt"
	"math"
	"strings"

	"github.com/westphae/quaternion"
)

// BiasMode selects whether the integrated gyro bias estimate is subtracted
// from the gyro rates that drive quaternion propagation.
type BiasMode int

const (
	// BiasCompensated propagates the quaternion with the bias-corrected rates.
	BiasCompensated BiasMode = iota
	// BiasObserveOnly integrates and reports the bias estimate but propagates
	// the quaternion with the raw gyro rates. The bias estimate then grows
	// without bound under a constant gyro offset.
	BiasObserveOnly
)

func (m BiasMode) String() string {
	switch m {
	case BiasCompensated:
		return "compensated"
	case BiasObserveOnly:
		return "observe"
	}
	return fmt.Sprintf("BiasMode(%d)", int(m))
}

// ParseBiasMode converts "compensated" or "observe" into a BiasMode.
func ParseBiasMode(s string) (BiasMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compensated":
		return BiasCompensated, nil
	case "observe", "observe-only", "observe_only":
		return BiasObserveOnly, nil
	}
	return 0, fmt.Errorf("%w: unknown bias mode %q", ErrInvalidConfiguration, s)
}

// MadgwickConfig holds the constants a MadgwickState is built from.
type MadgwickConfig struct {
	DeltaT    float64  // Sample period, s
	GyroNoise float64  // Assumed gyro measurement error, rad/s
	GyroDrift float64  // Assumed gyro drift, rad/s/s
	BiasMode  BiasMode // How the gyro bias estimate feeds back into propagation
}

// DefaultMadgwickConfig returns a 1 kHz configuration with a gyro error of
// 5°/s and a gyro drift of 0.2°/s/s.
func DefaultMadgwickConfig() MadgwickConfig {
	return MadgwickConfig{
		DeltaT:    0.001,
		GyroNoise: 5 * Deg,
		GyroDrift: 0.2 * Deg,
		BiasMode:  BiasCompensated,
	}
}

// MadgwickState holds the orientation estimate, earth flux reference and gyro
// bias estimate of a single MARG sensor.
//
// A MadgwickState is not safe for concurrent use. Update mutates the state and
// must be called sequentially, once per sample period; callers that share a
// filter between goroutines must serialize access themselves.
type MadgwickState struct {
	e0, e1, e2, e3 float64 // Quaternion rotating body frame to earth frame
	bx, bz         float64 // Earth flux reference, x-z plane
	wbx, wby, wbz  float64 // Gyro bias estimate, rad/s

	deltaT   float64
	beta     float64
	zeta     float64
	biasMode BiasMode

	N uint64  // Number of successful updates
	T float64 // Time of last successful Compute

	logMap map[string]interface{} // Map only for analysis/debugging
}

// NewMadgwick returns a filter at the identity orientation with flux reference
// (1, 0) and zero gyro bias.
func NewMadgwick(cfg MadgwickConfig) (*MadgwickState, error) {
	if !isFinite(cfg.DeltaT) || cfg.DeltaT <= 0 {
		return nil, fmt.Errorf("%w: sample period %v must be positive", ErrInvalidConfiguration, cfg.DeltaT)
	}
	if !isFinite(cfg.GyroNoise) || cfg.GyroNoise < 0 {
		return nil, fmt.Errorf("%w: gyro error %v must be non-negative", ErrInvalidConfiguration, cfg.GyroNoise)
	}
	if !isFinite(cfg.GyroDrift) || cfg.GyroDrift < 0 {
		return nil, fmt.Errorf("%w: gyro drift %v must be non-negative", ErrInvalidConfiguration, cfg.GyroDrift)
	}
	if cfg.BiasMode != BiasCompensated && cfg.BiasMode != BiasObserveOnly {
		return nil, fmt.Errorf("%w: unknown bias mode %d", ErrInvalidConfiguration, int(cfg.BiasMode))
	}

	return &MadgwickState{
		e0:       1,
		bx:       1,
		deltaT:   cfg.DeltaT,
		beta:     math.Sqrt(3.0/4.0) * cfg.GyroNoise,
		zeta:     math.Sqrt(3.0/4.0) * cfg.GyroDrift,
		biasMode: cfg.BiasMode,
	}, nil
}

// Update runs one filter iteration with gyro rates w (rad/s), accelerometer
// reading a and magnetometer reading m, and returns the new orientation.
//
// A sample containing a non-finite value, or with a zero-length accelerometer
// or magnetometer vector, is rejected with ErrDegenerateMeasurement and the
// state is left unchanged. If the objective gradient vanishes the sample is
// at a fixed point: the gradient correction and bias integration are skipped
// and only the gyro rates are integrated.
func (s *MadgwickState) Update(wx, wy, wz, ax, ay, az, mx, my, mz float64) (quaternion.Quaternion, error) {
	for _, v := range [...]float64{wx, wy, wz, ax, ay, az, mx, my, mz} {
		if !isFinite(v) {
			return s.Orientation(), fmt.Errorf("%w: non-finite sample", ErrDegenerateMeasurement)
		}
	}

	var ok bool
	if ax, ay, az, ok = normalize3(ax, ay, az); !ok {
		return s.Orientation(), fmt.Errorf("%w: zero accelerometer vector", ErrDegenerateMeasurement)
	}
	if mx, my, mz, ok = normalize3(mx, my, mz); !ok {
		return s.Orientation(), fmt.Errorf("%w: zero magnetometer vector", ErrDegenerateMeasurement)
	}

	q1, q2, q3, q4 := s.e0, s.e1, s.e2, s.e3
	dt := s.deltaT

	// auxiliary variables to avoid repeated calculations
	halfq1, halfq2, halfq3, halfq4 := 0.5*q1, 0.5*q2, 0.5*q3, 0.5*q4
	twoq1, twoq2, twoq3, twoq4 := 2*q1, 2*q2, 2*q3, 2*q4

	f := objective(q1, q2, q3, q4, s.bx, s.bz, ax, ay, az, mx, my, mz)
	g1, g2, g3, g4 := gradient(q1, q2, q3, q4, s.bx, s.bz, f)

	gn := math.Sqrt(g1*g1 + g2*g2 + g3*g3 + g4*g4)
	if !isFinite(gn) {
		return s.Orientation(), fmt.Errorf("%w: objective gradient is not finite", ErrNumericInstability)
	}

	wbx, wby, wbz := s.wbx, s.wby, s.wbz
	if gn > 0 {
		g1, g2, g3, g4 = g1/gn, g2/gn, g3/gn, g4/gn

		// angular direction of the gyro error, 2*conj(q)*g
		werrx := twoq1*g2 - twoq2*g1 - twoq3*g4 + twoq4*g3
		werry := twoq1*g3 + twoq2*g4 - twoq3*g1 - twoq4*g2
		werrz := twoq1*g4 - twoq2*g3 + twoq3*g2 - twoq4*g1

		wbx += werrx * dt * s.zeta
		wby += werry * dt * s.zeta
		wbz += werrz * dt * s.zeta
	} else {
		// Exact convergence: no correction this tick
		g1, g2, g3, g4 = 0, 0, 0, 0
	}

	rx, ry, rz := wx, wy, wz
	if s.biasMode == BiasCompensated {
		rx -= wbx
		ry -= wby
		rz -= wbz
	}

	// quaternion rate measured by the gyros
	dq1 := -halfq2*rx - halfq3*ry - halfq4*rz
	dq2 := halfq1*rx + halfq3*rz - halfq4*ry
	dq3 := halfq1*ry - halfq2*rz + halfq4*rx
	dq4 := halfq1*rz + halfq2*ry - halfq3*rx

	// integrate the estimated quaternion rate
	q1 += (dq1 - s.beta*g1) * dt
	q2 += (dq2 - s.beta*g2) * dt
	q3 += (dq3 - s.beta*g3) * dt
	q4 += (dq4 - s.beta*g4) * dt

	q1, q2, q3, q4, ok = normalizeQuaternion(q1, q2, q3, q4)
	if !ok {
		return s.Orientation(), fmt.Errorf("%w: quaternion norm collapsed after integration", ErrNumericInstability)
	}

	// flux in the earth frame, projected onto the x-z plane
	hx, hy, hz := rotateToEarth(q1, q2, q3, q4, mx, my, mz)

	s.e0, s.e1, s.e2, s.e3 = q1, q2, q3, q4
	s.wbx, s.wby, s.wbz = wbx, wby, wbz
	s.bx = math.Sqrt(hx*hx + hy*hy)
	s.bz = hz
	s.N++

	if s.logMap != nil {
		s.updateLogMap(&Measurement{B1: wx, B2: wy, B3: wz, A1: ax, A2: ay, A3: az, M1: mx, M2: my, M3: mz, T: s.T}, f)
	}

	return s.Orientation(), nil
}

// Compute runs Update on a Measurement and records its timestamp.
func (s *MadgwickState) Compute(m *Measurement) error {
	if _, err := s.Update(m.B1, m.B2, m.B3, m.A1, m.A2, m.A3, m.M1, m.M2, m.M3); err != nil {
		return err
	}
	s.T = m.T
	if s.logMap != nil {
		s.logMap["T"] = m.T
	}
	return nil
}

// Orientation returns the current orientation estimate.
func (s *MadgwickState) Orientation() quaternion.Quaternion {
	return quaternion.Quaternion{W: s.e0, X: s.e1, Y: s.e2, Z: s.e3}
}

// GyroBias returns the current gyro bias estimate, rad/s.
func (s *MadgwickState) GyroBias() (wbx, wby, wbz float64) {
	return s.wbx, s.wby, s.wbz
}

// FluxReference returns the earth-frame flux reference (bx, bz).
func (s *MadgwickState) FluxReference() (bx, bz float64) {
	return s.bx, s.bz
}

// Beta returns the gradient correction gain.
func (s *MadgwickState) Beta() float64 {
	return s.beta
}

// Zeta returns the gyro bias drift gain.
func (s *MadgwickState) Zeta() float64 {
	return s.zeta
}

// DeltaT returns the sample period, s.
func (s *MadgwickState) DeltaT() float64 {
	return s.deltaT
}

// BiasMode returns the bias feedback strategy the filter was built with.
func (s *MadgwickState) BiasMode() BiasMode {
	return s.biasMode
}

// RollPitchHeading returns the current attitude in degrees, heading in [0, 360).
func (s *MadgwickState) RollPitchHeading() (roll, pitch, heading float64) {
	roll, pitch, heading = FromQuaternion(s.e0, s.e1, s.e2, s.e3)
	roll, pitch, heading = Regularize(roll, pitch, heading)
	return roll / Deg, pitch / Deg, heading / Deg
}

// SetLogMap registers a map that is refreshed after every successful update.
// The map is filled with the current state straight away so that all keys are present.
func (s *MadgwickState) SetLogMap(p map[string]interface{}) {
	s.logMap = p
	if p != nil {
		s.updateLogMap(&Measurement{T: s.T}, [6]float64{})
	}
}

// GetLogMap returns the map registered with SetLogMap.
func (s *MadgwickState) GetLogMap() map[string]interface{} {
	return s.logMap
}

func (s *MadgwickState) updateLogMap(m *Measurement, f [6]float64) {
	roll, pitch, heading := s.RollPitchHeading()
	var ff float64
	for _, v := range f {
		ff += v * v
	}
	p := s.logMap
	p["T"] = m.T
	p["N"] = float64(s.N)
	p["E0"], p["E1"], p["E2"], p["E3"] = s.e0, s.e1, s.e2, s.e3
	p["BX"], p["BZ"] = s.bx, s.bz
	p["WBX"], p["WBY"], p["WBZ"] = s.wbx, s.wby, s.wbz
	p["B1"], p["B2"], p["B3"] = m.B1, m.B2, m.B3
	p["A1"], p["A2"], p["A3"] = m.A1, m.A2, m.A3
	p["M1"], p["M2"], p["M3"] = m.M1, m.M2, m.M3
	p["Roll"], p["Pitch"], p["Heading"] = roll, pitch, heading
	p["Residual"] = math.Sqrt(ff)
}

// normalize3 scales a vector to unit length, reporting false if it has none.
func normalize3(x, y, z float64) (float64, float64, float64, bool) {
	n := math.Hypot(math.Hypot(x, y), z)
	if n == 0 || !isFinite(n) {
		return x, y, z, false
	}
	return x / n, y / n, z / n, true
}

// normalizeQuaternion scales a quaternion to unit length, reporting false if
// its norm is zero or not finite.
func normalizeQuaternion(q1, q2, q3, q4 float64) (float64, float64, float64, float64, bool) {
	n := math.Sqrt(q1*q1 + q2*q2 + q3*q3 + q4*q4)
	if n == 0 || !isFinite(n) {
		return q1, q2, q3, q4, false
	}
	return q1 / n, q2 / n, q3 / n, q4 / n, true
}

// rotateToEarth rotates body vector v into the earth frame by quaternion q.
func rotateToEarth(q1, q2, q3, q4, vx, vy, vz float64) (hx, hy, hz float64) {
	q1q2, q1q3, q1q4 := q1*q2, q1*q3, q1*q4
	q2q3, q2q4, q3q4 := q2*q3, q2*q4, q3*q4
	twovx, twovy, twovz := 2*vx, 2*vy, 2*vz
	hx = twovx*(0.5-q3*q3-q4*q4) + twovy*(q2q3-q1q4) + twovz*(q2q4+q1q3)
	hy = twovx*(q2q3+q1q4) + twovy*(0.5-q2*q2-q4*q4) + twovz*(q3q4-q1q2)
	hz = twovx*(q2q4-q1q3) + twovy*(q3q4+q1q2) + twovz*(0.5-q2*q2-q3*q3)
	return
}
