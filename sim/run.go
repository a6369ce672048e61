package sim

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/foshlabs/OrientationFilter/ahrs"
	"github.com/westphae/quaternion"
)

// Sink receives every tick of a run after the filter has processed it,
// with the true orientation at the end of the tick.
// A non-nil error stops the run.
type Sink func(truth quaternion.Quaternion, m *ahrs.Measurement, s *ahrs.MadgwickState) error

// Stats summarizes a run.
type Stats struct {
	Ticks        int     // Samples offered to the filter
	Rejects      int     // Samples the filter refused
	MaxError     float64 // Largest attitude error over the run, degrees
	FinalError   float64 // Attitude error at the end of the run, degrees
	ResidualMean float64 // Exponentially weighted objective norm
	ResidualVar  float64
}

// AttitudeError returns the angle of the rotation taking a onto b, degrees.
func AttitudeError(a, b quaternion.Quaternion) float64 {
	d := quaternion.Prod(a.Unit().Conj(), b.Unit())
	return 2 * math.Atan2(math.Sqrt(d.X*d.X+d.Y*d.Y+d.Z*d.Z), math.Abs(d.W)) / ahrs.Deg
}

// Run samples sit every filter tick for duration seconds, or until the
// situation ends, and feeds the samples to s. Samples the filter rejects are
// counted and skipped. rng may be nil for noise-free sensors; sink may be nil.
func Run(s *ahrs.MadgwickState, sit *Situation, ss *Sensors, rng *rand.Rand, duration float64, sink Sink) (*Stats, error) {
	dt := s.DeltaT()
	span := math.Min(duration, sit.EndTime()-sit.BeginTime())
	n := int(span/dt + 1e-9)

	st := new(Stats)
	var res *ahrs.VarianceAccumulator
	for i := 0; i < n; i++ {
		t := sit.BeginTime() + float64(i)*dt
		m, err := sit.Sample(t, ss, rng)
		if err != nil {
			return st, fmt.Errorf("sim: sampling at %f: %w", t, err)
		}
		truth, err := sit.Interpolate(math.Min(t+dt, sit.EndTime()))
		if err != nil {
			return st, fmt.Errorf("sim: truth at %f: %w", t+dt, err)
		}

		st.Ticks++
		if err := s.Compute(m); err != nil {
			if errors.Is(err, ahrs.ErrDegenerateMeasurement) || errors.Is(err, ahrs.ErrNumericInstability) {
				st.Rejects++
				log.Printf("Sim: tick %d at %f rejected: %s\n", i, t, err)
				continue
			}
			return st, err
		}

		st.FinalError = AttitudeError(truth, s.Orientation())
		st.MaxError = math.Max(st.MaxError, st.FinalError)
		if f, err := s.Residual(m.A1, m.A2, m.A3, m.M1, m.M2, m.M3); err == nil {
			r := math.Sqrt(f[0]*f[0] + f[1]*f[1] + f[2]*f[2] + f[3]*f[3] + f[4]*f[4] + f[5]*f[5])
			if res == nil {
				res = ahrs.NewVarianceAccumulator(r, ahrs.MMDecay)
			} else {
				res.Add(r)
			}
		}

		if sink != nil {
			if err := sink(truth, m, s); err != nil {
				return st, err
			}
		}
	}
	if res != nil {
		st.ResidualMean, st.ResidualVar = res.Mean(), res.Variance()
	}
	return st, nil
}
