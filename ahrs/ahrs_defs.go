// Package ahrs implements a gradient-descent (Madgwick) MARG orientation filter
// that fuses tri-axis gyroscope, accelerometer and magnetometer samples into a
// unit quaternion.
//
// Frames: the body (sensor) frame is right-handed and fixed to the sensor.
// The earth frame has 1 (x) pointing to magnetic north projected on the
// horizontal, 3 (z) pointing up; the earth flux reference is kept in the x-z
// plane. The orientation quaternion rotates body-frame vectors into the earth
// frame: X_e = E*X_b*conj(E).
//
// Units: gyroscope rates are rad/s. Accelerometer and magnetometer readings may
// be in any consistent units since only their directions are used; an
// accelerometer at rest and level reads (0, 0, +1) after normalization.
package ahrs

import "math"

const (
	Pi      = math.Pi
	Deg     = Pi / 180
	Small   = 1e-9
	MMDecay = 1 - 1.0/50 // Exponential decay constant for residual statistics
)

// Measurement holds one sample of the three tri-axis sensors, all in the body frame.
type Measurement struct {
	B1, B2, B3 float64 // Gyro rates about x, y, z, rad/s
	A1, A2, A3 float64 // Accelerometer readings, any consistent units
	M1, M2, M3 float64 // Magnetometer readings, any consistent units
	T          float64 // Sample time, s
}

// Regularize ensures that roll, pitch, and heading are in the correct ranges.
// All in radians.
func Regularize(roll, pitch, heading float64) (float64, float64, float64) {
	for pitch > Pi {
		pitch -= 2 * Pi
	}
	for pitch <= -Pi {
		pitch += 2 * Pi
	}
	if pitch > Pi/2 {
		pitch = Pi - pitch
		roll -= Pi
		heading += Pi
	}
	if pitch < -Pi/2 {
		pitch = -Pi - pitch
		roll -= Pi
		heading += Pi
	}

	for roll > Pi {
		roll -= 2 * Pi
	}
	for roll < -Pi {
		roll += 2 * Pi
	}

	for heading >= 2*Pi {
		heading -= 2 * Pi
	}
	for heading < 0 {
		heading += 2 * Pi
	}
	return roll, pitch, heading
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
