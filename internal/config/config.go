package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tracker TrackerConfig `yaml:"tracker"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	ADC     ADCConfig     `yaml:"adc"`
	Web     WebConfig     `yaml:"web"`
	Trace   TraceConfig   `yaml:"trace"`
}

type TrackerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ThresholdTurn float64       `yaml:"threshold_turn"`
	LeftCal       float64       `yaml:"left_cal"`
	RightCal      float64       `yaml:"right_cal"`
	AdjustOnStart bool          `yaml:"adjust_on_start"`
}

type GPIOConfig struct {
	// Backend is one of gpiod, rpio, mock.
	Backend string `yaml:"backend"`

	// BCM pin numbers.
	LeftRelayPin      int `yaml:"left_relay_pin"`
	RightRelayPin     int `yaml:"right_relay_pin"`
	LeftSwitchPin     int `yaml:"left_switch_pin"`
	RightSwitchPin    int `yaml:"right_switch_pin"`
	LeftIndicatorPin  int `yaml:"left_indicator_pin"`
	RightIndicatorPin int `yaml:"right_indicator_pin"`
}

type ADCConfig struct {
	// Backend is one of ads1115, mock.
	Backend      string  `yaml:"backend"`
	I2CBus       int     `yaml:"i2c_bus"`
	Address      uint16  `yaml:"address"`
	LeftChannel  int     `yaml:"left_channel"`
	RightChannel int     `yaml:"right_channel"`
	FSRVolts     float64 `yaml:"fsr_volts"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type TraceConfig struct {
	BufferLines int    `yaml:"buffer_lines"`
	SerialPort  string `yaml:"serial_port"`
	SerialBaud  int    `yaml:"serial_baud"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	// Tracking is enabled after boot unless the file says otherwise.
	cfg.Tracker.AdjustOnStart = true

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			if msg, ok := unknownFieldMessage(typeErr); ok {
				return Config{}, errors.New(msg)
			}
		}
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields in place and checks the result.
// Load calls it after parsing; the settings handler calls it again before
// saving an edited config.
func DefaultAndValidate(cfg *Config) error {
	// Tracker.
	if cfg.Tracker.Interval < 0 {
		return fmt.Errorf("tracker.interval must be >= 0")
	}
	if cfg.Tracker.Interval == 0 {
		cfg.Tracker.Interval = 1 * time.Second
	}
	if math.IsNaN(cfg.Tracker.ThresholdTurn) || math.IsInf(cfg.Tracker.ThresholdTurn, 0) {
		return fmt.Errorf("tracker.threshold_turn must be finite")
	}
	if cfg.Tracker.ThresholdTurn < 0 {
		return fmt.Errorf("tracker.threshold_turn must be >= 0")
	}
	if cfg.Tracker.ThresholdTurn == 0 {
		cfg.Tracker.ThresholdTurn = 0.15
	}
	if math.IsNaN(cfg.Tracker.LeftCal) || math.IsInf(cfg.Tracker.LeftCal, 0) {
		return fmt.Errorf("tracker.left_cal must be finite")
	}
	if cfg.Tracker.LeftCal < 0 {
		return fmt.Errorf("tracker.left_cal must be >= 0")
	}
	if cfg.Tracker.LeftCal == 0 {
		cfg.Tracker.LeftCal = 1.0
	}
	if math.IsNaN(cfg.Tracker.RightCal) || math.IsInf(cfg.Tracker.RightCal, 0) {
		return fmt.Errorf("tracker.right_cal must be finite")
	}
	if cfg.Tracker.RightCal < 0 {
		return fmt.Errorf("tracker.right_cal must be >= 0")
	}
	if cfg.Tracker.RightCal == 0 {
		cfg.Tracker.RightCal = 1.0
	}

	// GPIO.
	if cfg.GPIO.Backend == "" {
		cfg.GPIO.Backend = "gpiod"
	}
	switch cfg.GPIO.Backend {
	case "gpiod", "rpio", "mock":
	default:
		return fmt.Errorf("gpio.backend must be one of gpiod, rpio, mock")
	}
	if cfg.GPIO.LeftRelayPin == 0 {
		cfg.GPIO.LeftRelayPin = 17
	}
	if cfg.GPIO.RightRelayPin == 0 {
		cfg.GPIO.RightRelayPin = 27
	}
	if cfg.GPIO.LeftSwitchPin == 0 {
		cfg.GPIO.LeftSwitchPin = 5
	}
	if cfg.GPIO.RightSwitchPin == 0 {
		cfg.GPIO.RightSwitchPin = 6
	}
	if cfg.GPIO.LeftIndicatorPin == 0 {
		cfg.GPIO.LeftIndicatorPin = 23
	}
	if cfg.GPIO.RightIndicatorPin == 0 {
		cfg.GPIO.RightIndicatorPin = 24
	}
	pins := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{
		{"gpio.left_relay_pin", cfg.GPIO.LeftRelayPin},
		{"gpio.right_relay_pin", cfg.GPIO.RightRelayPin},
		{"gpio.left_switch_pin", cfg.GPIO.LeftSwitchPin},
		{"gpio.right_switch_pin", cfg.GPIO.RightSwitchPin},
		{"gpio.left_indicator_pin", cfg.GPIO.LeftIndicatorPin},
		{"gpio.right_indicator_pin", cfg.GPIO.RightIndicatorPin},
	} {
		if p.pin < 0 {
			return fmt.Errorf("%s must be > 0", p.name)
		}
		if other, clash := pins[p.pin]; clash {
			return fmt.Errorf("%s and %s use the same pin %d", other, p.name, p.pin)
		}
		pins[p.pin] = p.name
	}

	// ADC.
	if cfg.ADC.Backend == "" {
		cfg.ADC.Backend = "ads1115"
	}
	switch cfg.ADC.Backend {
	case "ads1115", "mock":
	default:
		return fmt.Errorf("adc.backend must be one of ads1115, mock")
	}
	if cfg.ADC.I2CBus < 0 {
		return fmt.Errorf("adc.i2c_bus must be >= 0")
	}
	if cfg.ADC.I2CBus == 0 {
		cfg.ADC.I2CBus = 1
	}
	if cfg.ADC.Address == 0 {
		cfg.ADC.Address = 0x48
	}
	if cfg.ADC.Address > 0x7F {
		return fmt.Errorf("adc.address must be a 7-bit i2c address")
	}
	if cfg.ADC.LeftChannel == 0 && cfg.ADC.RightChannel == 0 {
		cfg.ADC.LeftChannel = 1
	}
	if cfg.ADC.LeftChannel < 0 || cfg.ADC.LeftChannel > 3 {
		return fmt.Errorf("adc.left_channel must be 0..3")
	}
	if cfg.ADC.RightChannel < 0 || cfg.ADC.RightChannel > 3 {
		return fmt.Errorf("adc.right_channel must be 0..3")
	}
	if cfg.ADC.LeftChannel == cfg.ADC.RightChannel {
		return fmt.Errorf("adc.left_channel and adc.right_channel must differ")
	}
	if cfg.ADC.FSRVolts == 0 {
		cfg.ADC.FSRVolts = 4.096
	}

	// Web.
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8011"
	}

	// Trace.
	if cfg.Trace.BufferLines < 0 {
		return fmt.Errorf("trace.buffer_lines must be >= 0")
	}
	if cfg.Trace.BufferLines == 0 {
		cfg.Trace.BufferLines = 2000
	}
	if cfg.Trace.SerialBaud == 0 {
		cfg.Trace.SerialBaud = 115200
	}
	if cfg.Trace.SerialBaud < 0 {
		return fmt.Errorf("trace.serial_baud must be > 0")
	}

	return nil
}

// MarshalYAML renders durations as strings so a saved config stays
// readable. Without it the interval would come back as nanoseconds.
func (c Config) MarshalYAML() (any, error) {
	type rawTracker struct {
		Interval      string  `yaml:"interval"`
		ThresholdTurn float64 `yaml:"threshold_turn"`
		LeftCal       float64 `yaml:"left_cal"`
		RightCal      float64 `yaml:"right_cal"`
		AdjustOnStart bool    `yaml:"adjust_on_start"`
	}
	type rawConfig struct {
		Tracker rawTracker  `yaml:"tracker"`
		GPIO    GPIOConfig  `yaml:"gpio"`
		ADC     ADCConfig   `yaml:"adc"`
		Web     WebConfig   `yaml:"web"`
		Trace   TraceConfig `yaml:"trace"`
	}
	return rawConfig{
		Tracker: rawTracker{
			Interval:      c.Tracker.Interval.String(),
			ThresholdTurn: c.Tracker.ThresholdTurn,
			LeftCal:       c.Tracker.LeftCal,
			RightCal:      c.Tracker.RightCal,
			AdjustOnStart: c.Tracker.AdjustOnStart,
		},
		GPIO:  c.GPIO,
		ADC:   c.ADC,
		Web:   c.Web,
		Trace: c.Trace,
	}, nil
}

// unknownFieldMessage flattens the yaml.TypeError produced by KnownFields
// into a single line without the per-line position noise.
func unknownFieldMessage(te *yaml.TypeError) (string, bool) {
	var fields []string
	for _, m := range te.Errors {
		if !strings.Contains(m, "not found in type") {
			return "", false
		}
		if i := strings.Index(m, ": "); i >= 0 {
			m = m[i+2:]
		}
		fields = append(fields, m)
	}
	if len(fields) == 0 {
		return "", false
	}
	return "config contains unknown fields: " + strings.Join(fields, "; "), true
}
