package ahrs

import "math"

// ToQuaternion calculates the 0,1,2,3 components of the body-to-earth rotation
// quaternion corresponding to the ZYX Tait-Bryan angles phi (roll, about x),
// theta (pitch, about y) and psi (yaw, about z), in radians.
func ToQuaternion(phi, theta, psi float64) (float64, float64, float64, float64) {
	cphi := math.Cos(phi / 2)
	sphi := math.Sin(phi / 2)
	ctheta := math.Cos(theta / 2)
	stheta := math.Sin(theta / 2)
	cpsi := math.Cos(psi / 2)
	spsi := math.Sin(psi / 2)

	q0 := cpsi*ctheta*cphi + spsi*stheta*sphi
	q1 := cpsi*ctheta*sphi - spsi*stheta*cphi
	q2 := cpsi*stheta*cphi + spsi*ctheta*sphi
	q3 := spsi*ctheta*cphi - cpsi*stheta*sphi
	return q0, q1, q2, q3
}

// FromQuaternion calculates the ZYX Tait-Bryan angles phi, theta, psi
// corresponding to the quaternion, in radians. The quaternion need not be unit.
func FromQuaternion(q0, q1, q2, q3 float64) (float64, float64, float64) {
	qq := q0*q0 + q1*q1 + q2*q2 + q3*q3
	phi := math.Atan2(2*(q0*q1+q2*q3), q0*q0-q1*q1-q2*q2+q3*q3)
	s := 2 * (q0*q2 - q1*q3) / qq
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	theta := math.Asin(s)
	psi := math.Atan2(2*(q0*q3+q1*q2), q0*q0+q1*q1-q2*q2-q3*q3)
	return phi, theta, psi
}

// Yaw returns the rotation of the quaternion about the earth z axis, radians
// in (-Pi, Pi].
func Yaw(q0, q1, q2, q3 float64) float64 {
	return math.Atan2(2*(q0*q3+q1*q2), 1-2*(q2*q2+q3*q3))
}
