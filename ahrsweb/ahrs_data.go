// Package ahrsweb streams orientation filter output as JSON over websockets.
package ahrsweb

import (
	"github.com/foshlabs/OrientationFilter/ahrs"
)

const Port = 8000

type AHRSData struct {
	// Filter state
	E0, E1, E2, E3 float64 // Quaternion rotating sensor frame to earth frame
	BX, BZ         float64 // Earth flux reference, horizontal and vertical components
	WBX, WBY, WBZ  float64 // Gyro bias estimate, sensor frame, °/s
	N              uint64  // Updates accepted by the filter
	Residual       float64 // Norm of the objective function

	// Measurement variables
	A1, A2, A3 float64 // Accelerometer readings, normalized, sensor frame
	B1, B2, B3 float64 // Gyro rates, sensor frame, °/s
	M1, M2, M3 float64 // Magnetometer readings, normalized, sensor frame
	T          float64 // Timestamp of the measurement, s

	// Final output
	Pitch, Roll, Heading float64

	// Truth from a simulated source, when known
	TrueRoll, TruePitch, TrueHeading float64 `json:",omitempty"`
}

// NewAHRSData fills an AHRSData from a filter's log map, as refreshed by
// its last successful update.
func NewAHRSData(p map[string]interface{}) *AHRSData {
	get := func(k string) float64 {
		v, _ := p[k].(float64)
		return v
	}
	return &AHRSData{
		E0: get("E0"), E1: get("E1"), E2: get("E2"), E3: get("E3"),
		BX: get("BX"), BZ: get("BZ"),
		WBX: get("WBX") / ahrs.Deg, WBY: get("WBY") / ahrs.Deg, WBZ: get("WBZ") / ahrs.Deg,
		N:        uint64(get("N")),
		Residual: get("Residual"),
		A1:       get("A1"), A2: get("A2"), A3: get("A3"),
		B1: get("B1") / ahrs.Deg, B2: get("B2") / ahrs.Deg, B3: get("B3") / ahrs.Deg,
		M1: get("M1"), M2: get("M2"), M3: get("M3"),
		T:       get("T"),
		Pitch:   get("Pitch"),
		Roll:    get("Roll"),
		Heading: get("Heading"),
	}
}
