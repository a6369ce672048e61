package ahrs

// VarianceAccumulator keeps an exponentially weighted mean and variance.
type VarianceAccumulator struct {
	decay   float64
	n, m, v float64
}

// NewVarianceAccumulator returns an accumulator initialized with the
// observation init and decay constant decay in [0, 1). A decay of MMDecay
// averages over roughly the last fifty observations.
func NewVarianceAccumulator(init, decay float64) *VarianceAccumulator {
	return &VarianceAccumulator{decay: decay, n: 1, m: init}
}

// Add accumulates obs and returns the current estimates of the effective
// number of observations, the mean and the variance.
func (a *VarianceAccumulator) Add(obs float64) (n, mean, variance float64) {
	d := obs - a.m
	dm := (1 - a.decay) * d

	a.n = 1 + a.decay*a.n
	a.m += dm
	a.v = a.decay * (a.v + dm*d)
	return a.n, a.m, a.v
}

func (a *VarianceAccumulator) Mean() float64 { return a.m }

func (a *VarianceAccumulator) Variance() float64 { return a.v }
