package ahrs

import "errors"

var (
	// ErrInvalidConfiguration is returned when a filter cannot be constructed
	// from the given sample period and gyro error assumptions.
	ErrInvalidConfiguration = errors.New("ahrs: invalid configuration")

	// ErrDegenerateMeasurement is returned for a sample with a non-finite value
	// or a zero-length accelerometer or magnetometer vector. The filter state is
	// left exactly as it was, so the caller may continue with the next sample.
	ErrDegenerateMeasurement = errors.New("ahrs: degenerate measurement")

	// ErrNumericInstability is returned when the integrated quaternion collapses
	// to zero length or overflows. It should not happen for well-formed input;
	// the state is left as it was before the call.
	ErrNumericInstability = errors.New("ahrs: numeric instability")
)
