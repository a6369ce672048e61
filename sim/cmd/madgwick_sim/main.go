/*
Run the Madgwick filter against a simulated attitude history.
Define the attitude in code or in a CSV file, synthesize the matching gyro,
accel and magnetometer data with noise and bias as configured, and see how
well the filter recovers the "true" attitude.
*/

package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/foshlabs/OrientationFilter/ahrs"
	"github.com/foshlabs/OrientationFilter/config"
	"github.com/foshlabs/OrientationFilter/sim"
	"github.com/westphae/quaternion"
)

func main() {
	var (
		configFile, scenario, biasMode, out string
		duration                            float64
	)

	const (
		configUsage   = "TOML configuration file; defaults are used when empty"
		scenarioUsage = "Scenario to use: filename.csv or one of "
		biasModeUsage = "Gyro bias feedback: compensated or observe"
		durationUsage = "Length of the run, s"
		outUsage      = "CSV file to log the run to; no log when empty"
	)

	flag.StringVar(&configFile, "config", "", configUsage)
	flag.StringVar(&scenario, "scenario", "", scenarioUsage+strings.Join(sim.Scenarios(), ", "))
	flag.StringVar(&scenario, "s", "", scenarioUsage+strings.Join(sim.Scenarios(), ", "))
	flag.StringVar(&biasMode, "bias-mode", "", biasModeUsage)
	flag.Float64Var(&duration, "duration", 0, durationUsage)
	flag.StringVar(&out, "out", "ahrs.csv", outUsage)
	flag.Parse()

	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			log.Fatalln("Sim:", err)
		}
	}
	if scenario != "" {
		cfg.Sim.Scenario = scenario
	}
	if biasMode != "" {
		cfg.Filter.BiasMode = biasMode
	}
	if duration > 0 {
		cfg.Sim.DurationS = duration
	}

	mc, err := cfg.Madgwick()
	if err != nil {
		log.Fatalln("Sim:", err)
	}
	s, err := ahrs.NewMadgwick(mc)
	if err != nil {
		log.Fatalln("Sim:", err)
	}
	sit, err := cfg.Situation()
	if err != nil {
		log.Fatalln("Sim:", err)
	}
	ss := cfg.Sensors()

	fmt.Println("Simulation parameters:")
	fmt.Printf("\tScenario: %s, %.1f s\n", cfg.Sim.Scenario, cfg.Sim.DurationS)
	fmt.Println("Filter:")
	fmt.Printf("\tSample rate: %.0f Hz\n", cfg.Filter.SampleRateHz)
	fmt.Printf("\tBeta: %f, Zeta: %f\n", s.Beta(), s.Zeta())
	fmt.Printf("\tBias mode: %s\n", s.BiasMode())
	fmt.Println("Gyro:")
	fmt.Printf("\tNoise: %f °/s\n", cfg.Sim.GyroNoiseDegS)
	fmt.Printf("\tBias: %f,%f,%f °/s\n", cfg.Sim.GyroBiasDegS[0], cfg.Sim.GyroBiasDegS[1], cfg.Sim.GyroBiasDegS[2])
	fmt.Println("Accelerometer:")
	fmt.Printf("\tNoise: %f G\n", cfg.Sim.AccelNoiseG)
	fmt.Println("Magnetometer:")
	fmt.Printf("\tNoise: %f\n", cfg.Sim.MagNoise)
	fmt.Printf("\tDip: %f°\n", cfg.Sim.MagDipDeg)

	var sink sim.Sink
	if out != "" {
		logMap := make(map[string]interface{})
		s.SetLogMap(logMap)
		logMap["TrueRoll"], logMap["TruePitch"], logMap["TrueHeading"], logMap["Error"] = 0.0, 0.0, 0.0, 0.0

		l, err := ahrs.NewAHRSLogger(out, logMap)
		if err != nil {
			log.Fatalln("Sim:", err)
		}
		defer l.Close()
		sink = func(truth quaternion.Quaternion, m *ahrs.Measurement, s *ahrs.MadgwickState) error {
			r, p, h := ahrs.FromQuaternion(truth.W, truth.X, truth.Y, truth.Z)
			r, p, h = ahrs.Regularize(r, p, h)
			logMap["TrueRoll"], logMap["TruePitch"], logMap["TrueHeading"] = r/ahrs.Deg, p/ahrs.Deg, h/ahrs.Deg
			logMap["Error"] = sim.AttitudeError(truth, s.Orientation())
			return l.Log()
		}
	}

	fmt.Println("Running Simulation")
	st, err := sim.Run(s, sit, ss, rand.New(rand.NewSource(cfg.Sim.Seed)), cfg.Sim.DurationS, sink)
	if err != nil {
		log.Fatalln("Sim:", err)
	}

	wbx, wby, wbz := s.GyroBias()
	bx, bz := s.FluxReference()
	fmt.Println("Results:")
	fmt.Printf("\tTicks: %d, rejected: %d\n", st.Ticks, st.Rejects)
	fmt.Printf("\tAttitude error: max %.3f°, final %.3f°\n", st.MaxError, st.FinalError)
	fmt.Printf("\tResidual: mean %f, variance %g\n", st.ResidualMean, st.ResidualVar)
	fmt.Printf("\tGyro bias estimate: %f,%f,%f °/s\n", wbx/ahrs.Deg, wby/ahrs.Deg, wbz/ahrs.Deg)
	fmt.Printf("\tFlux reference: %f,%f\n", bx, bz)
	if out != "" {
		fmt.Printf("\tLog written to %s\n", out)
	}
}
