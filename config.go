package lidarloc

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the tunable parameters of the localization node.
// Zero or out-of-range values are replaced with the documented defaults,
// never rejected: a misconfigured node keeps running on defaults.
type Config struct {
	// ImuFrequency is the nominal inertial sample rate in Hz
	ImuFrequency float64 `json:"imu_frequency"`
	// Process noise standard deviations
	SigmaAcc      float64 `json:"sigma_acceleration"`
	SigmaGyro     float64 `json:"sigma_gyroscope"`
	SigmaAccBias  float64 `json:"sigma_acceleration_bias"`
	SigmaGyroBias float64 `json:"sigma_gyroscope_bias"`
	// Gravity is the local gravitational acceleration in m/s^2
	Gravity float64 `json:"gravity"`
	// InitAccBias is the initial accelerometer bias estimate
	InitAccBias [3]float64 `json:"init_bias_acc"`
	// AccQueueSize is the capacity of the acceleration smoothing buffer
	AccQueueSize int `json:"acc_queue_size"`
	// SetSize is the number of particles drawn per scan
	SetSize int `json:"particle_set_size"`
	// DownsampleRadius is the uniform downsampling radius in map units
	DownsampleRadius float64 `json:"downsample_radius"`
	// RangeLimit is the per-axis sensing range truncation in map units
	RangeLimit float64 `json:"range_limit"`
	// ExclusionHalfWidth is the half-width of the self-return exclusion
	// box around the sensor origin
	ExclusionHalfWidth float64 `json:"exclusion_half_width"`
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		ImuFrequency:       50.0,
		SigmaAcc:           0.1,
		SigmaGyro:          0.01,
		SigmaAccBias:       0.0001,
		SigmaGyroBias:      0.00001,
		Gravity:            9.82,
		AccQueueSize:       5,
		SetSize:            500,
		DownsampleRadius:   0.1,
		RangeLimit:         15.0,
		ExclusionHalfWidth: 0.5,
	}
}

// fileConfig mirrors Config with optional fields so a partial JSON file
// only overrides what it names.
type fileConfig struct {
	ImuFrequency       *float64    `json:"imu_frequency,omitempty"`
	SigmaAcc           *float64    `json:"sigma_acceleration,omitempty"`
	SigmaGyro          *float64    `json:"sigma_gyroscope,omitempty"`
	SigmaAccBias       *float64    `json:"sigma_acceleration_bias,omitempty"`
	SigmaGyroBias      *float64    `json:"sigma_gyroscope_bias,omitempty"`
	Gravity            *float64    `json:"gravity,omitempty"`
	InitAccBias        *[3]float64 `json:"init_bias_acc,omitempty"`
	AccQueueSize       *int        `json:"acc_queue_size,omitempty"`
	SetSize            *int        `json:"particle_set_size,omitempty"`
	DownsampleRadius   *float64    `json:"downsample_radius,omitempty"`
	RangeLimit         *float64    `json:"range_limit,omitempty"`
	ExclusionHalfWidth *float64    `json:"exclusion_half_width,omitempty"`
}

// LoadConfig reads a partial JSON configuration from path and applies it on
// top of the defaults. Values the file does not name, and values outside
// their valid range, remain at their defaults.
// It returns an error only if the file exists but cannot be parsed.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %v", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %v", path, err)
	}

	if fc.ImuFrequency != nil {
		cfg.ImuFrequency = *fc.ImuFrequency
	}
	if fc.SigmaAcc != nil {
		cfg.SigmaAcc = *fc.SigmaAcc
	}
	if fc.SigmaGyro != nil {
		cfg.SigmaGyro = *fc.SigmaGyro
	}
	if fc.SigmaAccBias != nil {
		cfg.SigmaAccBias = *fc.SigmaAccBias
	}
	if fc.SigmaGyroBias != nil {
		cfg.SigmaGyroBias = *fc.SigmaGyroBias
	}
	if fc.Gravity != nil {
		cfg.Gravity = *fc.Gravity
	}
	if fc.InitAccBias != nil {
		cfg.InitAccBias = *fc.InitAccBias
	}
	if fc.AccQueueSize != nil {
		cfg.AccQueueSize = *fc.AccQueueSize
	}
	if fc.SetSize != nil {
		cfg.SetSize = *fc.SetSize
	}
	if fc.DownsampleRadius != nil {
		cfg.DownsampleRadius = *fc.DownsampleRadius
	}
	if fc.RangeLimit != nil {
		cfg.RangeLimit = *fc.RangeLimit
	}
	if fc.ExclusionHalfWidth != nil {
		cfg.ExclusionHalfWidth = *fc.ExclusionHalfWidth
	}

	return cfg.Sanitized(), nil
}

// Sanitized returns a copy of the config with every out-of-range value
// replaced by its default.
func (c Config) Sanitized() Config {
	def := DefaultConfig()

	if c.ImuFrequency <= 0 {
		c.ImuFrequency = def.ImuFrequency
	}
	if c.SigmaAcc <= 0 {
		c.SigmaAcc = def.SigmaAcc
	}
	if c.SigmaGyro <= 0 {
		c.SigmaGyro = def.SigmaGyro
	}
	if c.SigmaAccBias <= 0 {
		c.SigmaAccBias = def.SigmaAccBias
	}
	if c.SigmaGyroBias <= 0 {
		c.SigmaGyroBias = def.SigmaGyroBias
	}
	if c.Gravity <= 0 {
		c.Gravity = def.Gravity
	}
	if c.AccQueueSize <= 0 {
		c.AccQueueSize = def.AccQueueSize
	}
	if c.SetSize <= 0 {
		c.SetSize = def.SetSize
	}
	if c.DownsampleRadius <= 0 {
		c.DownsampleRadius = def.DownsampleRadius
	}
	if c.RangeLimit <= 0 {
		c.RangeLimit = def.RangeLimit
	}
	if c.ExclusionHalfWidth < 0 {
		c.ExclusionHalfWidth = def.ExclusionHalfWidth
	}

	return c
}
