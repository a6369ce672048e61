package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/foshlabs/OrientationFilter/ahrs"
)

const (
	turnBank = 30 * ahrs.Deg // Bank angle held through the turn
	turnRate = 6 * ahrs.Deg  // Heading rate once established, rad/s
	yawRate  = ahrs.Pi / 2   // Rate of the yaw scenario, rad/s
)

var scenarios = map[string]func(duration float64) (*Situation, error){
	// Level and still, sensor pointed north
	"level": func(duration float64) (*Situation, error) {
		return NewSituation([]float64{0, duration}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0})
	},
	// Level, spinning at a constant rate about the vertical
	"yaw": func(duration float64) (*Situation, error) {
		return NewSituation([]float64{0, duration}, []float64{0, 0}, []float64{0, 0}, []float64{0, yawRate * duration})
	},
	// 5 s level, 5 s roll-in, coordinated turn, 5 s roll-out, then level to the end
	"turn": func(duration float64) (*Situation, error) {
		turn := math.Max(duration-20, 1)
		t := []float64{0, 5, 10, 10 + turn, 15 + turn, 20 + turn}
		phi := []float64{0, 0, turnBank, turnBank, 0, 0}
		theta := []float64{0, 0, 0, 0, 0, 0}
		psi0 := turnRate * 5 / 2
		psi := []float64{0, 0, psi0, psi0 + turnRate*turn, 2*psi0 + turnRate*turn, 2*psi0 + turnRate*turn}
		return NewSituation(t, phi, theta, psi)
	},
}

// Scenarios lists the names accepted by Scenario.
func Scenarios() []string {
	names := make([]string, 0, len(scenarios))
	for k := range scenarios {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Scenario returns the built-in situation name lasting at least duration seconds.
func Scenario(name string, duration float64) (*Situation, error) {
	if !(duration > 0) {
		return nil, fmt.Errorf("sim: scenario duration must be positive, got %v", duration)
	}
	f, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("sim: no such scenario %q, have %v", name, Scenarios())
	}
	return f(duration)
}
