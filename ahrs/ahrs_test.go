package ahrs

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"testing"
)

func newTestMadgwick(t *testing.T, mode BiasMode) *MadgwickState {
	t.Helper()
	cfg := DefaultMadgwickConfig()
	cfg.BiasMode = mode
	s, err := NewMadgwick(cfg)
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	return s
}

func createRandomState(rng *rand.Rand) (s *MadgwickState) {
	s, _ = NewMadgwick(DefaultMadgwickConfig())
	s.e0, s.e1, s.e2, s.e3, _ = normalizeQuaternion(
		rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*2-1)
	s.bx = rng.Float64()
	s.bz = rng.Float64()*2 - 1
	return
}

// stateBits captures the mutable filter state bit for bit.
func stateBits(s *MadgwickState) [10]uint64 {
	return [10]uint64{
		math.Float64bits(s.e0), math.Float64bits(s.e1), math.Float64bits(s.e2), math.Float64bits(s.e3),
		math.Float64bits(s.bx), math.Float64bits(s.bz),
		math.Float64bits(s.wbx), math.Float64bits(s.wby), math.Float64bits(s.wbz),
		s.N,
	}
}

func quatNorm(s *MadgwickState) float64 {
	return math.Sqrt(s.e0*s.e0 + s.e1*s.e1 + s.e2*s.e2 + s.e3*s.e3)
}

func TestNewMadgwickInvalidConfiguration(t *testing.T) {
	cases := []MadgwickConfig{
		{DeltaT: 0, GyroNoise: 0.1, GyroDrift: 0.01},
		{DeltaT: -0.001, GyroNoise: 0.1, GyroDrift: 0.01},
		{DeltaT: math.NaN(), GyroNoise: 0.1, GyroDrift: 0.01},
		{DeltaT: math.Inf(1), GyroNoise: 0.1, GyroDrift: 0.01},
		{DeltaT: 0.001, GyroNoise: -0.1, GyroDrift: 0.01},
		{DeltaT: 0.001, GyroNoise: 0.1, GyroDrift: -0.01},
		{DeltaT: 0.001, GyroNoise: math.NaN(), GyroDrift: 0.01},
		{DeltaT: 0.001, GyroNoise: 0.1, GyroDrift: 0.01, BiasMode: BiasMode(7)},
	}
	for i, cfg := range cases {
		s, err := NewMadgwick(cfg)
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("case %d: expected ErrInvalidConfiguration, got %v", i, err)
		}
		if s != nil {
			t.Errorf("case %d: expected nil filter", i)
		}
	}

	if _, err := NewMadgwick(MadgwickConfig{DeltaT: 0.001}); err != nil {
		t.Errorf("zero error assumptions should be accepted: %v", err)
	}
}

func TestNewMadgwickInitialState(t *testing.T) {
	cfg := MadgwickConfig{DeltaT: 0.002, GyroNoise: 0.2, GyroDrift: 0.02, BiasMode: BiasObserveOnly}
	s, err := NewMadgwick(cfg)
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	if math.Abs(s.Beta()-math.Sqrt(0.75)*0.2) > Small || math.Abs(s.Zeta()-math.Sqrt(0.75)*0.02) > Small {
		t.Errorf("unexpected gains beta=%v zeta=%v", s.Beta(), s.Zeta())
	}
	if s.DeltaT() != 0.002 || s.BiasMode() != BiasObserveOnly {
		t.Errorf("unexpected config dt=%v mode=%v", s.DeltaT(), s.BiasMode())
	}
	q := s.Orientation()
	if q.W != 1 || q.X != 0 || q.Y != 0 || q.Z != 0 {
		t.Errorf("expected identity orientation, got %+v", q)
	}
	if bx, bz := s.FluxReference(); bx != 1 || bz != 0 {
		t.Errorf("expected flux reference (1, 0), got (%v, %v)", bx, bz)
	}
	if wbx, wby, wbz := s.GyroBias(); wbx != 0 || wby != 0 || wbz != 0 {
		t.Errorf("expected zero bias, got (%v, %v, %v)", wbx, wby, wbz)
	}
}

func TestParseBiasMode(t *testing.T) {
	for in, want := range map[string]BiasMode{
		"":             BiasCompensated,
		"compensated":  BiasCompensated,
		" Observe ":    BiasObserveOnly,
		"observe-only": BiasObserveOnly,
	} {
		got, err := ParseBiasMode(in)
		if err != nil || got != want {
			t.Errorf("ParseBiasMode(%q) = %v, %v; want %v", in, got, err, want)
		}
		if back, _ := ParseBiasMode(got.String()); back != got {
			t.Errorf("%v does not round trip through String", got)
		}
	}
	if _, err := ParseBiasMode("feedforward"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

// The analytic Jacobian matches finite differences of the objective function
func TestJacobianObjective(t *testing.T) {
	const h = 1e-7
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 100; n++ {
		s := createRandomState(rng)
		ax, ay, az, _ := normalize3(rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*2-1)
		mx, my, mz, _ := normalize3(rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*2-1)
		q := [4]float64{s.e0, s.e1, s.e2, s.e3}
		f0 := objective(q[0], q[1], q[2], q[3], s.bx, s.bz, ax, ay, az, mx, my, mz)
		jj := s.Jacobian()

		for i := 0; i < 4; i++ {
			qq := q
			qq[i] += h
			f1 := objective(qq[0], qq[1], qq[2], qq[3], s.bx, s.bz, ax, ay, az, mx, my, mz)
			for j := 0; j < 6; j++ {
				df := (f1[j] - f0[j]) / h
				if math.Abs(df-jj.Get(j, i)) > 1e-4 {
					log.Printf("Error in index %d,%d: Calc %6f, Jacobian was %6f\n", j, i, df, jj.Get(j, i))
					t.Fail()
				}
			}
		}
	}
}

// The hand-expanded gradient used by Update equals J^T f from the full Jacobian
func TestGradientMatchesJacobian(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for n := 0; n < 100; n++ {
		s := createRandomState(rng)
		a := [3]float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		m := [3]float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}

		want, err := s.Gradient(a[0], a[1], a[2], m[0], m[1], m[2])
		if err != nil {
			t.Fatalf("gradient: %v", err)
		}
		f, _ := s.Residual(a[0], a[1], a[2], m[0], m[1], m[2])
		g1, g2, g3, g4 := gradient(s.e0, s.e1, s.e2, s.e3, s.bx, s.bz, f)
		for i, g := range [4]float64{g1, g2, g3, g4} {
			if math.Abs(g-want[i]) > 1e-12 {
				t.Errorf("case %d component %d: hand-expanded %v, matrix %v", n, i, g, want[i])
			}
		}
	}
}

// With zero rates and consistent gravity and north the identity is an exact fixed point
func TestIdentityFixedPoint(t *testing.T) {
	for _, mode := range []BiasMode{BiasCompensated, BiasObserveOnly} {
		s := newTestMadgwick(t, mode)
		for i := 0; i < 1000; i++ {
			if _, err := s.Update(0, 0, 0, 0, 0, 1, 1, 0, 0); err != nil {
				t.Fatalf("%v: update %d: %v", mode, i, err)
			}
		}
		q := s.Orientation()
		if q.W != 1 || q.X != 0 || q.Y != 0 || q.Z != 0 {
			t.Errorf("%v: orientation drifted to %+v", mode, q)
		}
		if wbx, wby, wbz := s.GyroBias(); wbx != 0 || wby != 0 || wbz != 0 {
			t.Errorf("%v: bias drifted to (%v, %v, %v)", mode, wbx, wby, wbz)
		}
		f, _ := s.Residual(0, 0, 1, 1, 0, 0)
		for j, v := range f {
			if v != 0 {
				t.Errorf("%v: residual f%d = %v", mode, j+1, v)
			}
		}
	}
}

// A tilted but otherwise static sensor pulls the estimate onto the measurement
func TestConvergesToTilt(t *testing.T) {
	roll := 10 * Deg
	ax, ay, az := 0.0, math.Sin(roll), math.Cos(roll)

	for _, mode := range []BiasMode{BiasCompensated, BiasObserveOnly} {
		s := newTestMadgwick(t, mode)
		f, _ := s.Residual(ax, ay, az, 1, 0, 0)
		r0 := residualNorm(f)
		for i := 0; i < 3000; i++ {
			if _, err := s.Update(0, 0, 0, ax, ay, az, 1, 0, 0); err != nil {
				t.Fatalf("%v: update %d: %v", mode, i, err)
			}
		}
		f, _ = s.Residual(ax, ay, az, 1, 0, 0)
		if r := residualNorm(f); r > 2e-3 || r > 0.05*r0 {
			t.Errorf("%v: residual %v did not shrink from %v", mode, r, r0)
		}
		r, p, _ := s.RollPitchHeading()
		if math.Abs(r-10) > 0.5 || math.Abs(p) > 0.5 {
			t.Errorf("%v: expected roll 10, pitch 0; got %v, %v", mode, r, p)
		}
	}
}

func residualNorm(f [6]float64) float64 {
	var ff float64
	for _, v := range f {
		ff += v * v
	}
	return math.Sqrt(ff)
}

// A constant yaw rate integrates into a monotonically increasing yaw
func TestConstantYawRate(t *testing.T) {
	const wz = Pi / 2
	s := newTestMadgwick(t, BiasCompensated)
	prev := 0.0
	n := 200
	for i := 0; i < n; i++ {
		q, err := s.Update(0, 0, wz, 0, 0, 1, 1, 0, 0)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		yaw := Yaw(q.W, q.X, q.Y, q.Z)
		if yaw <= prev {
			t.Fatalf("tick %d: yaw %v did not increase from %v", i, yaw, prev)
		}
		prev = yaw
	}
	gyroOnly := float64(n) * s.DeltaT() * wz
	if prev > gyroOnly*(1+1e-6) || prev < 0.85*gyroOnly {
		t.Errorf("yaw %v inconsistent with integrated rate %v", prev, gyroOnly)
	}
}

// Rejected samples leave the state bit-for-bit unchanged
func TestDegenerateMeasurementLeavesState(t *testing.T) {
	s := newTestMadgwick(t, BiasCompensated)
	for i := 0; i < 50; i++ {
		if _, err := s.Update(0.1, -0.2, 0.3, 0.1, 0.2, 0.97, 0.5, 0.1, -0.8); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	nan, inf := math.NaN(), math.Inf(1)
	cases := [][9]float64{
		{0, 0, 0, 0, 0, 0, 0.5, 0.1, -0.8},
		{0.1, 0.2, 0.3, 0, 0, 0, 1, 0, 0},
		{0, 0, 0, 0, 0, 1, 0, 0, 0},
		{nan, 0, 0, 0, 0, 1, 1, 0, 0},
		{0, 0, 0, inf, 0, 1, 1, 0, 0},
		{0, 0, 0, 0, 0, 1, 1, -inf, 0},
		{0, 0, 0, 0, 0, 1, 1, 0, nan},
	}
	for i, c := range cases {
		before := stateBits(s)
		q0 := s.Orientation()
		q, err := s.Update(c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7], c[8])
		if !errors.Is(err, ErrDegenerateMeasurement) {
			t.Errorf("case %d: expected ErrDegenerateMeasurement, got %v", i, err)
		}
		if stateBits(s) != before {
			t.Errorf("case %d: state changed on rejected sample", i)
		}
		if q != q0 {
			t.Errorf("case %d: returned %+v, want unchanged %+v", i, q, q0)
		}
	}
}

// An overflowing integration step is reported and not committed
func TestNumericInstabilityLeavesState(t *testing.T) {
	s := newTestMadgwick(t, BiasObserveOnly)
	before := stateBits(s)
	_, err := s.Update(1e308, 1e308, 1e308, 0, 0, 1, 1, 0, 0)
	if !errors.Is(err, ErrNumericInstability) {
		t.Fatalf("expected ErrNumericInstability, got %v", err)
	}
	if stateBits(s) != before {
		t.Errorf("state changed on failed update")
	}
}

// Renormalizing a unit quaternion is a no-op to within rounding
func TestNormalizationIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for n := 0; n < 1000; n++ {
		q1, q2, q3, q4, _ := normalizeQuaternion(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64())
		p1, p2, p3, p4, ok := normalizeQuaternion(q1, q2, q3, q4)
		if !ok {
			t.Fatalf("unit quaternion rejected")
		}
		for i, d := range [4]float64{p1 - q1, p2 - q2, p3 - q3, p4 - q4} {
			if math.Abs(d) > 4e-16 {
				t.Errorf("case %d component %d moved by %v", n, i, d)
			}
		}
	}
	if _, _, _, _, ok := normalizeQuaternion(0, 0, 0, 0); ok {
		t.Errorf("zero quaternion should not normalize")
	}
}

// The orientation stays unit length under arbitrary valid samples
func TestUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, mode := range []BiasMode{BiasCompensated, BiasObserveOnly} {
		s := newTestMadgwick(t, mode)
		for i := 0; i < 10000; i++ {
			_, err := s.Update(
				rng.NormFloat64()*3, rng.NormFloat64()*3, rng.NormFloat64()*3,
				rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()+1,
				rng.NormFloat64()*50, rng.NormFloat64()*50, rng.NormFloat64()*50)
			if err != nil {
				t.Fatalf("%v: update %d: %v", mode, i, err)
			}
			if math.Abs(quatNorm(s)-1) > 1e-9 {
				t.Fatalf("%v: tick %d: norm %v", mode, i, quatNorm(s))
			}
		}
		if s.N != 10000 {
			t.Errorf("%v: expected 10000 updates, counted %d", mode, s.N)
		}
	}
}

// While the gradient keeps pointing one way the bias integrator moves strictly that way
func TestBiasIntegratorMonotonic(t *testing.T) {
	roll := 10 * Deg
	ax, ay, az := 0.0, math.Sin(roll), math.Cos(roll)

	s := newTestMadgwick(t, BiasObserveOnly)
	var prev, sign float64
	for i := 0; i < 500; i++ {
		if _, err := s.Update(0, 0, 0, ax, ay, az, 1, 0, 0); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		wbx, _, _ := s.GyroBias()
		d := wbx - prev
		if i == 0 {
			sign = math.Copysign(1, d)
		}
		if d == 0 || math.Copysign(1, d) != sign {
			t.Fatalf("tick %d: bias step %v against direction %v", i, d, sign)
		}
		prev = wbx
	}
	if _, wby, wbz := s.GyroBias(); math.Abs(wby) > 1e-9 || math.Abs(wbz) > 1e-9 {
		t.Errorf("bias leaked off the roll axis: (%v, %v)", wby, wbz)
	}
}

// The flux reference stays in the x-z plane with unit length
func TestFluxReference(t *testing.T) {
	s := newTestMadgwick(t, BiasCompensated)
	dip := 60 * Deg
	for i := 0; i < 100; i++ {
		if _, err := s.Update(0, 0, 0, 0, 0, 9.81, 20*math.Cos(dip), 0, -20*math.Sin(dip)); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		bx, bz := s.FluxReference()
		if bx < 0 || math.Abs(math.Hypot(bx, bz)-1) > 1e-9 {
			t.Fatalf("tick %d: flux reference (%v, %v)", i, bx, bz)
		}
	}
	bx, bz := s.FluxReference()
	if math.Abs(bx-math.Cos(dip)) > 1e-3 || math.Abs(bz+math.Sin(dip)) > 1e-3 {
		t.Errorf("flux reference (%v, %v) did not settle on the dip angle", bx, bz)
	}
}

func TestLogMap(t *testing.T) {
	s := newTestMadgwick(t, BiasCompensated)
	p := make(map[string]interface{})
	s.SetLogMap(p)
	if err := s.Compute(&Measurement{B3: 0.1, A3: 1, M1: 1, T: 0.25}); err != nil {
		t.Fatalf("compute: %v", err)
	}
	for _, k := range []string{"T", "N", "E0", "E3", "BX", "BZ", "WBZ", "B3", "A3", "M1", "Roll", "Heading", "Residual"} {
		if _, ok := p[k]; !ok {
			t.Errorf("log map missing %q", k)
		}
	}
	if p["T"] != 0.25 || s.T != 0.25 {
		t.Errorf("timestamp not recorded: %v, %v", p["T"], s.T)
	}
	if err := s.Compute(&Measurement{A3: 1}); !errors.Is(err, ErrDegenerateMeasurement) {
		t.Errorf("expected ErrDegenerateMeasurement, got %v", err)
	}
	if s.T != 0.25 {
		t.Errorf("rejected sample moved the timestamp to %v", s.T)
	}
}
