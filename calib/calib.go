package calib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultIRGrayDeferPasses is the number of apply passes an IR-on update
// issued in gray capture waits before reaching hardware.
const DefaultIRGrayDeferPasses = 2

// Calibration is the read-only tuning data consumed by the manager and the
// analyzer. Once handed to the manager it must not be mutated; a new
// calibration replaces it as a whole.
type Calibration struct {
	Name           string               `yaml:"name"`
	Sensor         SensorCalib          `yaml:"sensor"`
	CompanionLight CompanionLightPolicy `yaml:"companion_light"`
}

// SensorCalib holds sensor-level tuning
type SensorCalib struct {
	Orientation   Orientation   `yaml:"orientation"`
	ExposureDelay ExposureDelay `yaml:"exposure_delay"`
}

// Orientation is the default mirror/flip applied at prepare time
type Orientation struct {
	Mirror bool `yaml:"mirror"`
	Flip   bool `yaml:"flip"`
}

// ExposureDelay carries separate delay profiles for linear and HDR readout
type ExposureDelay struct {
	Normal DelayProfile `yaml:"normal"`
	Hdr    DelayProfile `yaml:"hdr"`
}

// DelayProfile is the number of frames between writing an exposure
// register and the frame it takes effect on.
type DelayProfile struct {
	TimeDelay int `yaml:"time_delay"`
	GainDelay int `yaml:"gain_delay"`
	DcgDelay  int `yaml:"dcg_delay"`
}

// CompanionLightPolicy controls how IR and fill light updates are sequenced
type CompanionLightPolicy struct {
	IRGrayDeferPasses int  `yaml:"ir_gray_defer_passes"`
	GrayOnIR          bool `yaml:"gray_on_ir"`
}

// Default returns the calibration used when no file is configured
func Default() *Calibration {
	return &Calibration{
		Name: "default",
		Sensor: SensorCalib{
			ExposureDelay: ExposureDelay{
				Normal: DelayProfile{TimeDelay: 2, GainDelay: 2, DcgDelay: 1},
				Hdr:    DelayProfile{TimeDelay: 1, GainDelay: 1, DcgDelay: 1},
			},
		},
		CompanionLight: CompanionLightPolicy{
			IRGrayDeferPasses: DefaultIRGrayDeferPasses,
			GrayOnIR:          true,
		},
	}
}

// Load reads a calibration file. Fields missing from the file keep their
// Default values.
func Load(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes calibration YAML on top of Default
func Parse(data []byte) (*Calibration, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode calibration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects negative delays and defer lengths
func (c *Calibration) Validate() error {
	for name, p := range map[string]DelayProfile{
		"normal": c.Sensor.ExposureDelay.Normal,
		"hdr":    c.Sensor.ExposureDelay.Hdr,
	} {
		if p.TimeDelay < 0 || p.GainDelay < 0 || p.DcgDelay < 0 {
			return fmt.Errorf("calibration: negative %s exposure delay", name)
		}
	}
	if c.CompanionLight.IRGrayDeferPasses < 0 {
		return fmt.Errorf("calibration: negative ir_gray_defer_passes %d", c.CompanionLight.IRGrayDeferPasses)
	}
	return nil
}

// DelayFor returns the HDR profile when hdr is set, the normal one otherwise
func (c *Calibration) DelayFor(hdr bool) DelayProfile {
	if hdr {
		return c.Sensor.ExposureDelay.Hdr
	}
	return c.Sensor.ExposureDelay.Normal
}

// DeferPasses returns the configured defer length, falling back to
// DefaultIRGrayDeferPasses when unset.
func (c *Calibration) DeferPasses() int {
	if c.CompanionLight.IRGrayDeferPasses <= 0 {
		return DefaultIRGrayDeferPasses
	}
	return c.CompanionLight.IRGrayDeferPasses
}
