// Package config loads the hardware-dependent constants and wiring
// Bartleby treats as configuration rather than compile-time literals: the
// ADC thresholds and velocity coefficient that calibration on an assembled
// keybed determines, the pot->CC map, GPIO pin assignments, and the serial
// device path. Command-line flags overlay an optional YAML file, with
// flags always taking precedence over the loaded file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tindrum/bartleby/internal/bartleby"
)

// Config is the full set of values cmd/bartleby needs to wire the core
// engines to real hardware.
type Config struct {
	SerialDevice string `yaml:"serial_device"`

	GPIOChip    string `yaml:"gpio_chip"`
	EncoderPinA int    `yaml:"encoder_pin_a"`
	EncoderPinB int    `yaml:"encoder_pin_b"`
	PresencePin int    `yaml:"presence_pin"`

	SPIDevice     string `yaml:"spi_device"`
	MuxSelectPinA int    `yaml:"mux_select_pin_a"`
	MuxSelectPinB int    `yaml:"mux_select_pin_b"`
	MuxSelectPinC int    `yaml:"mux_select_pin_c"`

	ThresholdOn  uint16 `yaml:"threshold_on"`
	ThresholdOff uint16 `yaml:"threshold_off"`

	VelocityK             float64 `yaml:"velocity_k"`
	VelocityCeilingMillis int     `yaml:"velocity_ceiling_ms"`
	VelocityFloor         uint8   `yaml:"velocity_floor"`

	PressureDeadband uint8   `yaml:"pressure_deadband"`
	PotAlpha         float64 `yaml:"pot_alpha"`
	PotDeadband      uint8   `yaml:"pot_deadband"`
	PotScanMillis    int     `yaml:"pot_scan_ms"`

	BaseNote  uint8 `yaml:"base_note"`
	OctaveMin int8  `yaml:"octave_min"`
	OctaveMax int8  `yaml:"octave_max"`

	MemberBendRangeSemitones uint8 `yaml:"member_bend_range_semitones"`
	MasterBendRangeSemitones uint8 `yaml:"master_bend_range_semitones"`

	CommTimeoutMillis int `yaml:"comm_timeout_ms"`

	PotCCNumbers [14]uint8 `yaml:"pot_cc_numbers"`

	Debug bool `yaml:"debug"`

	// VelocityCeiling and PotScanInterval and CommTimeout are derived from
	// their *Millis fields by Resolve; yaml never sets them directly.
	VelocityCeiling time.Duration `yaml:"-"`
	PotScanInterval time.Duration `yaml:"-"`
	CommTimeout     time.Duration `yaml:"-"`
}

// Default returns the reference 25-key/14-pot keybed's calibration,
// matching bartleby.DefaultTuning's constants so a config file only needs
// to override what genuinely differs on a given build.
func Default() Config {
	var c = Config{
		SerialDevice: "/dev/ttyUSB0",

		GPIOChip:    "/dev/gpiochip0",
		EncoderPinA: 5,
		EncoderPinB: 6,
		PresencePin: 22,

		SPIDevice:     "/dev/spidev0.0",
		MuxSelectPinA: 23,
		MuxSelectPinB: 24,
		MuxSelectPinC: 25,

		ThresholdOn:  410,
		ThresholdOff: 205,

		VelocityK:             3000,
		VelocityCeilingMillis: 150,
		VelocityFloor:         64,

		PressureDeadband: 2,
		PotAlpha:         0.3,
		PotDeadband:      2,
		PotScanMillis:    20,

		BaseNote:  60,
		OctaveMin: -3,
		OctaveMax: 3,

		MemberBendRangeSemitones: 48,
		MasterBendRangeSemitones: 2,

		CommTimeoutMillis: 2000,
	}

	for i := range c.PotCCNumbers {
		c.PotCCNumbers[i] = uint8(20 + i)
	}

	return c
}

// Load builds a Config from Default, an optional YAML overlay file, and
// command-line flags parsed from args (flags win over the file, the file
// wins over Default). configPath is the path a "-c/--config" flag named,
// or "" to skip the overlay entirely.
func Load(args []string) (Config, error) {
	var c = Default()

	var fs = pflag.NewFlagSet("bartleby", pflag.ContinueOnError)
	var configPath = fs.StringP("config", "c", "", "YAML config file overlaying the defaults")
	var serialDevice = fs.StringP("serial-device", "d", c.SerialDevice, "Serial device carrying the MIDI+ASCII stream")
	var gpioChip = fs.String("gpio-chip", c.GPIOChip, "GPIO character device for the encoder and presence pin")
	var thresholdOn = fs.Uint16("threshold-on", c.ThresholdOn, "Key-press ADC threshold (rising)")
	var thresholdOff = fs.Uint16("threshold-off", c.ThresholdOff, "Key-release ADC threshold (falling)")
	var debug = fs.BoolP("debug", "v", c.Debug, "Enable debug-level logging at boot")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "bartleby: realtime MPE MIDI controller firmware")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		var data, err = os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if fs.Changed("serial-device") {
		c.SerialDevice = *serialDevice
	}
	if fs.Changed("gpio-chip") {
		c.GPIOChip = *gpioChip
	}
	if fs.Changed("threshold-on") {
		c.ThresholdOn = *thresholdOn
	}
	if fs.Changed("threshold-off") {
		c.ThresholdOff = *thresholdOff
	}
	if fs.Changed("debug") {
		c.Debug = *debug
	}

	c.Resolve()

	if c.ThresholdOff >= c.ThresholdOn {
		return Config{}, fmt.Errorf("threshold-off (%d) must be below threshold-on (%d)", c.ThresholdOff, c.ThresholdOn)
	}

	return c, nil
}

// Tuning projects the calibration fields this Config carries into the
// bartleby.Tuning the core engines take at construction.
func (c Config) Tuning() bartleby.Tuning {
	return bartleby.Tuning{
		ThresholdOn:              c.ThresholdOn,
		ThresholdOff:             c.ThresholdOff,
		VelocityK:                c.VelocityK,
		VelocityCeiling:          c.VelocityCeiling,
		VelocityFloor:            c.VelocityFloor,
		PressureDeadband:         c.PressureDeadband,
		PotAlpha:                 c.PotAlpha,
		PotDeadband:              c.PotDeadband,
		PotScanInterval:          c.PotScanInterval,
		BaseNote:                 c.BaseNote,
		OctaveMin:                c.OctaveMin,
		OctaveMax:                c.OctaveMax,
		MemberBendRangeSemitones: c.MemberBendRangeSemitones,
		MasterBendRangeSemitones: c.MasterBendRangeSemitones,
		CommTimeout:              c.CommTimeout,
		PotCCNumbers:             c.PotCCNumbers,
	}
}

// analogInputCount is every analog input the board wires through the
// shared mux tree: two pressure points per key plus one per pot.
const analogInputCount = 2*bartleby.NumKeys + bartleby.NumPots

// Wiring derives the Descriptor arrays bartleby.NewSampler needs, plus the
// mux-id-to-ADC-channel map ADCMuxSelector needs, from a single flat
// enumeration of every analog input: key A points, then key B points,
// then pots, packed 8-to-a-mux in that order. This fixes the physical
// wiring convention a real board's silkscreen documents; it is not
// inferred from anything at runtime.
func (c Config) Wiring() (keyA, keyB [bartleby.NumKeys]bartleby.Descriptor, pot [bartleby.NumPots]bartleby.Descriptor, adcChannelForMux map[int]int) {
	adcChannelForMux = make(map[int]int)

	var next = 0
	var descriptorFor = func() bartleby.Descriptor {
		var muxID = next / 8
		var channel = next % 8
		adcChannelForMux[muxID] = muxID
		next++
		return bartleby.Descriptor{MuxID: muxID, Channel: channel}
	}

	for i := 0; i < bartleby.NumKeys; i++ {
		keyA[i] = descriptorFor()
	}
	for i := 0; i < bartleby.NumKeys; i++ {
		keyB[i] = descriptorFor()
	}
	for i := 0; i < bartleby.NumPots; i++ {
		pot[i] = descriptorFor()
	}

	return keyA, keyB, pot, adcChannelForMux
}

// Resolve fills the time.Duration fields derived from their millisecond
// yaml counterparts. Load calls this after flags and any file overlay are
// applied; tests that build a Config by hand must call it too.
func (c *Config) Resolve() {
	c.VelocityCeiling = time.Duration(c.VelocityCeilingMillis) * time.Millisecond
	c.PotScanInterval = time.Duration(c.PotScanMillis) * time.Millisecond
	c.CommTimeout = time.Duration(c.CommTimeoutMillis) * time.Millisecond
}
