// Command bartleby is the Linux wiring for the core engines in
// internal/bartleby: it opens the serial transport, requests the encoder
// and presence GPIO lines, loads calibration from flags/YAML, and runs the
// cooperative scheduler until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tindrum/bartleby/internal/bartleby"
	"github.com/tindrum/bartleby/internal/config"
	"github.com/tindrum/bartleby/internal/diag"
)

func main() {
	var cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "bartleby:", err)
		os.Exit(1)
	}

	var logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "bartleby",
	})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	logger.Info("opening serial transport", "device", cfg.SerialDevice, "baud", bartleby.BaudRate)
	uart, err := bartleby.OpenSerialUART(cfg.SerialDevice, logger)
	if err != nil {
		return fmt.Errorf("opening serial device: %w", err)
	}
	defer uart.Close()

	presence, err := bartleby.NewPresencePin(cfg.GPIOChip, cfg.PresencePin)
	if err != nil {
		logger.Warn("presence pin unavailable, continuing without it", "err", err)
	} else {
		defer presence.Close()
		if err := presence.Assert(); err != nil {
			logger.Warn("failed to assert presence pin", "err", err)
		}
		defer presence.Release()
	}

	encoder, err := bartleby.NewGPIOEncoder(cfg.GPIOChip, cfg.EncoderPinA, cfg.EncoderPinB, logger)
	if err != nil {
		return fmt.Errorf("requesting encoder GPIO lines: %w", err)
	}
	defer encoder.Close()

	watcher, err := bartleby.WatchSerialDevice(cfg.SerialDevice, logger)
	if err != nil {
		logger.Warn("udev device watch unavailable, continuing without reconnect detection", "err", err)
	} else {
		defer watcher.Close()
		go func() {
			for range watcher.Removed {
				logger.Error("serial device disappeared unexpectedly; manual restart required")
			}
		}()
	}

	var tuning = cfg.Tuning()
	var transport = bartleby.NewTransportMux(uart, logger, 256)
	var octave = bartleby.NewEncoderEngine(tuning.OctaveMin, tuning.OctaveMax)
	var allocator = bartleby.NewMpeAllocator(tuning, transport, logger)
	var keys = bartleby.NewKeyEngine(tuning, allocator, transport, octave, logger)
	var pots = bartleby.NewPotEngine(tuning, transport, logger)
	for i, cc := range cfg.PotCCNumbers {
		pots.Remap(i, cc)
	}
	var ascii = bartleby.NewAsciiDispatcher(transport, pots, allocator, keys, logger)

	sampler, adc, err := newADCSampler(cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring ADC sampler: %w", err)
	}
	defer adc.Close()

	var loop = bartleby.NewMainLoop(sampler, sampler, keys, pots, octave, encoder, transport, ascii, tuning, bartleby.RealClock{}, logger)

	var buildTime = linkTime()
	loop.ReAnnounce = func() string { return diag.ReAnnouncement("bartleby "+bartleby.Version, buildTime) }

	loop.Boot(allocator)

	var stop = make(chan struct{})
	var sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("signal received, stopping")
		close(stop)
	}()

	logger.Info("entering main loop")
	loop.Run(stop)
	return nil
}

// linkTime returns the VCS commit time (vcs.time) Go embeds in the binary's
// build info, or the zero Time when the binary carries no VCS stamp.
func linkTime() time.Time {
	var bi, ok = debug.ReadBuildInfo()
	if !ok {
		return time.Time{}
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.time" {
			if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// newADCSampler builds the ADCMuxSelector for cfg's SPI/GPIO wiring and
// the Sampler over it, using the fixed flat Descriptor enumeration
// config.Config.Wiring documents.
func newADCSampler(cfg config.Config, logger *log.Logger) (*bartleby.Sampler, *bartleby.ADCMuxSelector, error) {
	var keyA, keyB, pot, adcChannelForMux = cfg.Wiring()

	var selectPins = [3]int{cfg.MuxSelectPinA, cfg.MuxSelectPinB, cfg.MuxSelectPinC}
	adc, err := bartleby.NewADCMuxSelector(cfg.SPIDevice, cfg.GPIOChip, selectPins, adcChannelForMux, logger)
	if err != nil {
		return nil, nil, err
	}

	return bartleby.NewSampler(adc, keyA, keyB, pot), adc, nil
}
