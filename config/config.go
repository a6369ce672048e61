// Package config loads filter, simulator and web server settings from TOML.
package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/foshlabs/OrientationFilter/ahrs"
	"github.com/foshlabs/OrientationFilter/sim"
)

type FilterConfig struct {
	SampleRateHz   float64 // Sensor sample rate; DeltaT is 1/SampleRateHz
	GyroErrorDegS  float64 // Expected gyro measurement error, °/s
	GyroDriftDegS2 float64 // Expected gyro drift rate, °/s²
	BiasMode       string  // "compensated" or "observe"
}

type SimConfig struct {
	Scenario      string     // Built-in scenario name, or a CSV file of breakpoints
	DurationS     float64    // Run length, s
	GyroNoiseDegS float64    // Gaussian stdev, °/s
	GyroBiasDegS  [3]float64 // Constant gyro bias, °/s
	AccelNoiseG   float64    // Gaussian stdev, G
	MagNoise      float64    // Gaussian stdev, field units
	MagDipDeg     float64    // Inclination of the earth field below horizontal
	Seed          int64      // Noise seed
}

type WebConfig struct {
	Addr      string  // Listen address of the web server
	PublishHz float64 // Rate at which filter output is published
}

type Config struct {
	Filter FilterConfig
	Sim    SimConfig
	Web    WebConfig
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	d := ahrs.DefaultMadgwickConfig()
	return Config{
		Filter: FilterConfig{
			SampleRateHz:   1 / d.DeltaT,
			GyroErrorDegS:  d.GyroNoise / ahrs.Deg,
			GyroDriftDegS2: d.GyroDrift / ahrs.Deg,
			BiasMode:       d.BiasMode.String(),
		},
		Sim: SimConfig{
			Scenario:  "turn",
			DurationS: 60,
			MagDipDeg: 60,
			Seed:      1,
		},
		Web: WebConfig{
			Addr:      fmt.Sprintf(":%d", 8000),
			PublishHz: 20,
		},
	}
}

type fileConfig struct {
	Filter struct {
		SampleRateHz   float64 `toml:"sample_rate_hz"`
		DeltaT         float64 `toml:"delta_t"`
		GyroErrorDegS  float64 `toml:"gyro_error_deg_s"`
		GyroDriftDegS2 float64 `toml:"gyro_drift_deg_s2"`
		BiasMode       string  `toml:"bias_mode"`
	} `toml:"filter"`
	Sim struct {
		Scenario      string    `toml:"scenario"`
		DurationS     float64   `toml:"duration_s"`
		GyroNoiseDegS float64   `toml:"gyro_noise_deg_s"`
		GyroBiasDegS  []float64 `toml:"gyro_bias_deg_s"`
		AccelNoiseG   float64   `toml:"accel_noise_g"`
		MagNoise      float64   `toml:"mag_noise"`
		MagDipDeg     float64   `toml:"mag_dip_deg"`
		Seed          int64     `toml:"seed"`
	} `toml:"sim"`
	Web struct {
		Addr      string  `toml:"addr"`
		PublishHz float64 `toml:"publish_hz"`
	} `toml:"web"`
}

// Load reads path over Default. Only keys present in the file are applied.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(Default(), &raw, meta)
}

// Parse is Load for a TOML document held in memory.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(Default(), &raw, meta)
}

func apply(cfg Config, raw *fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("filter", "sample_rate_hz") && meta.IsDefined("filter", "delta_t") {
		return Config{}, fmt.Errorf("filter: set only one of sample_rate_hz and delta_t")
	}
	if meta.IsDefined("filter", "sample_rate_hz") {
		cfg.Filter.SampleRateHz = raw.Filter.SampleRateHz
	}
	if meta.IsDefined("filter", "delta_t") {
		if raw.Filter.DeltaT <= 0 {
			return Config{}, fmt.Errorf("filter: delta_t must be positive, got %v", raw.Filter.DeltaT)
		}
		cfg.Filter.SampleRateHz = 1 / raw.Filter.DeltaT
	}
	if meta.IsDefined("filter", "gyro_error_deg_s") {
		cfg.Filter.GyroErrorDegS = raw.Filter.GyroErrorDegS
	}
	if meta.IsDefined("filter", "gyro_drift_deg_s2") {
		cfg.Filter.GyroDriftDegS2 = raw.Filter.GyroDriftDegS2
	}
	if meta.IsDefined("filter", "bias_mode") {
		cfg.Filter.BiasMode = strings.TrimSpace(raw.Filter.BiasMode)
	}

	if meta.IsDefined("sim", "scenario") {
		cfg.Sim.Scenario = strings.TrimSpace(raw.Sim.Scenario)
	}
	if meta.IsDefined("sim", "duration_s") {
		cfg.Sim.DurationS = raw.Sim.DurationS
	}
	if meta.IsDefined("sim", "gyro_noise_deg_s") {
		cfg.Sim.GyroNoiseDegS = raw.Sim.GyroNoiseDegS
	}
	if meta.IsDefined("sim", "gyro_bias_deg_s") {
		if len(raw.Sim.GyroBiasDegS) != 3 {
			return Config{}, fmt.Errorf("sim: gyro_bias_deg_s needs 3 components, got %d", len(raw.Sim.GyroBiasDegS))
		}
		copy(cfg.Sim.GyroBiasDegS[:], raw.Sim.GyroBiasDegS)
	}
	if meta.IsDefined("sim", "accel_noise_g") {
		cfg.Sim.AccelNoiseG = raw.Sim.AccelNoiseG
	}
	if meta.IsDefined("sim", "mag_noise") {
		cfg.Sim.MagNoise = raw.Sim.MagNoise
	}
	if meta.IsDefined("sim", "mag_dip_deg") {
		cfg.Sim.MagDipDeg = raw.Sim.MagDipDeg
	}
	if meta.IsDefined("sim", "seed") {
		cfg.Sim.Seed = raw.Sim.Seed
	}

	if meta.IsDefined("web", "addr") {
		cfg.Web.Addr = strings.TrimSpace(raw.Web.Addr)
	}
	if meta.IsDefined("web", "publish_hz") {
		cfg.Web.PublishHz = raw.Web.PublishHz
	}

	if _, err := cfg.Madgwick(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Madgwick converts the filter section to a filter configuration and validates it.
func (c Config) Madgwick() (ahrs.MadgwickConfig, error) {
	mode, err := ahrs.ParseBiasMode(c.Filter.BiasMode)
	if err != nil {
		return ahrs.MadgwickConfig{}, fmt.Errorf("filter: %w", err)
	}
	if !(c.Filter.SampleRateHz > 0) || math.IsInf(c.Filter.SampleRateHz, 1) {
		return ahrs.MadgwickConfig{}, fmt.Errorf("filter: sample_rate_hz must be positive and finite, got %v: %w",
			c.Filter.SampleRateHz, ahrs.ErrInvalidConfiguration)
	}
	mc := ahrs.MadgwickConfig{
		DeltaT:    1 / c.Filter.SampleRateHz,
		GyroNoise: c.Filter.GyroErrorDegS * ahrs.Deg,
		GyroDrift: c.Filter.GyroDriftDegS2 * ahrs.Deg,
		BiasMode:  mode,
	}
	if _, err := ahrs.NewMadgwick(mc); err != nil {
		return ahrs.MadgwickConfig{}, fmt.Errorf("filter: %w", err)
	}
	return mc, nil
}

// Sensors converts the sim section to a simulated sensor suite.
func (c Config) Sensors() *sim.Sensors {
	dip := c.Sim.MagDipDeg * ahrs.Deg
	return &sim.Sensors{
		GyroNoise: c.Sim.GyroNoiseDegS * ahrs.Deg,
		GyroBias: [3]float64{
			c.Sim.GyroBiasDegS[0] * ahrs.Deg,
			c.Sim.GyroBiasDegS[1] * ahrs.Deg,
			c.Sim.GyroBiasDegS[2] * ahrs.Deg,
		},
		AccelNoise: c.Sim.AccelNoiseG,
		MagNoise:   c.Sim.MagNoise,
		MagField:   [3]float64{math.Cos(dip), 0, -math.Sin(dip)},
	}
}

// Situation returns the configured scenario: a built-in name or a CSV file.
func (c Config) Situation() (*sim.Situation, error) {
	if strings.HasSuffix(strings.ToLower(c.Sim.Scenario), ".csv") {
		return sim.NewSituationFromFile(c.Sim.Scenario)
	}
	return sim.Scenario(c.Sim.Scenario, c.Sim.DurationS)
}

// PublishEvery returns how many filter ticks pass between web publications.
func (c Config) PublishEvery() int {
	if !(c.Web.PublishHz > 0) {
		return 1
	}
	n := int(math.Round(c.Filter.SampleRateHz / c.Web.PublishHz))
	if n < 1 {
		return 1
	}
	return n
}
