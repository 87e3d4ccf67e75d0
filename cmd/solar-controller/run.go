package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/art-defcon/solar-controller/internal/config"
	"github.com/art-defcon/solar-controller/internal/hw/gpio"
	"github.com/art-defcon/solar-controller/internal/hw/i2c"
	"github.com/art-defcon/solar-controller/internal/sensors/ads1115"
	"github.com/art-defcon/solar-controller/internal/serialout"
	"github.com/art-defcon/solar-controller/internal/sim"
	"github.com/art-defcon/solar-controller/internal/tracker"
	"github.com/art-defcon/solar-controller/internal/version"
	"github.com/art-defcon/solar-controller/internal/web"
)

// NewRunCommand .
func NewRunCommand() *cobra.Command {
	var echoTrace bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracker daemon in the foreground",
		Long: `Open the configured GPIO lines and ADC channels, start the decision
loop, and serve the HTTP API. Runs until interrupted.`,
		GroupID: gDaemon,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("solar-controller starting")
			return runDaemon(configPath, echoTrace)
		},
	}
	cmd.Flags().BoolVar(&echoTrace, "echo-trace", false, "echo each decision line to stderr")
	return cmd
}

func runDaemon(path string, echoTrace bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Decision trace and logrus output share one ring so /api/logs shows
	// the same interleaved stream an operator would see on the console.
	logBuf := web.NewLogBuffer(cfg.Trace.BufferLines)
	logrus.SetOutput(io.MultiWriter(os.Stderr, logBuf))
	defer logrus.SetOutput(os.Stderr)

	traceSinks := []io.Writer{logBuf}
	if echoTrace {
		traceSinks = append(traceSinks, os.Stderr)
	}
	if cfg.Trace.SerialPort != "" {
		mirror, err := serialout.Open(cfg.Trace.SerialPort, cfg.Trace.SerialBaud)
		if err != nil {
			// Keep the tracker running even if the mirror port is absent.
			logrus.Warnf("serial mirror disabled: %v", err)
		} else {
			defer mirror.Close()
			traceSinks = append(traceSinks, mirror)
		}
	}
	trace := io.MultiWriter(traceSinks...)

	hw, closeHW, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer closeHW()

	events := web.NewTickBroadcaster()
	svc := tracker.New(trackerConfig(cfg.Tracker), hw, trace)
	svc.OnTick = func(snap tracker.Snapshot) {
		events.Publish(web.TickEventFromSnapshot(snap))
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	// Close before closeHW so the relays are forced off while the lines
	// are still open.
	defer svc.Close()

	echo := web.NewEchoStore(web.EchoFromConfig(cfg))
	settings := web.SettingsStore{
		ConfigPath: path,
		Apply: func(next config.Config) error {
			svc.Reconfigure(trackerConfig(next.Tracker))
			echo.Set(web.EchoFromConfig(next))
			return nil
		},
	}

	logrus.WithFields(logrus.Fields{
		"listen":   cfg.Web.Listen,
		"interval": cfg.Tracker.Interval,
		"gpio":     cfg.GPIO.Backend,
		"adc":      cfg.ADC.Backend,
	}).Info("tracker running")

	if err := web.Serve(ctx, cfg.Web.Listen, svc, echo, settings, logBuf, events); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logrus.Info("solar-controller stopped")
	return nil
}

// trackerConfig maps the file config onto the loop config.
func trackerConfig(tc config.TrackerConfig) tracker.Config {
	return tracker.Config{
		Interval:      tc.Interval,
		ThresholdTurn: tc.ThresholdTurn,
		LeftCal:       tc.LeftCal,
		RightCal:      tc.RightCal,
		AdjustOnStart: tc.AdjustOnStart,
	}
}

// openHardware claims every configured line and ADC channel. The
// returned close func releases them in reverse order of opening;
// outputs are left low.
func openHardware(cfg config.Config) (tracker.Hardware, func(), error) {
	var hw tracker.Hardware

	drv, err := gpio.Open(cfg.GPIO.Backend)
	if err != nil {
		return hw, nil, err
	}

	closers := []func() error{drv.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logrus.Warnf("hardware close: %v", err)
			}
		}
	}
	ok := false
	defer func() {
		if !ok {
			closeAll()
		}
	}()

	output := func(name string, pin int) (gpio.Output, error) {
		out, err := drv.OpenOutput(pin, false)
		if err != nil {
			return nil, fmt.Errorf("open %s (pin %d): %w", name, pin, err)
		}
		closers = append(closers, out.Close)
		return out, nil
	}
	input := func(name string, pin int) (gpio.Input, error) {
		// Limit switches are wired active-low against the internal
		// pull-up.
		in, err := drv.OpenInput(pin, true)
		if err != nil {
			return nil, fmt.Errorf("open %s (pin %d): %w", name, pin, err)
		}
		closers = append(closers, in.Close)
		return in, nil
	}

	if hw.LeftRelay, err = output("left relay", cfg.GPIO.LeftRelayPin); err != nil {
		return hw, nil, err
	}
	if hw.RightRelay, err = output("right relay", cfg.GPIO.RightRelayPin); err != nil {
		return hw, nil, err
	}
	if hw.LeftIndicator, err = output("left indicator", cfg.GPIO.LeftIndicatorPin); err != nil {
		return hw, nil, err
	}
	if hw.RightIndicator, err = output("right indicator", cfg.GPIO.RightIndicatorPin); err != nil {
		return hw, nil, err
	}
	if hw.LeftSwitch, err = input("left switch", cfg.GPIO.LeftSwitchPin); err != nil {
		return hw, nil, err
	}
	if hw.RightSwitch, err = input("right switch", cfg.GPIO.RightSwitchPin); err != nil {
		return hw, nil, err
	}

	switch cfg.ADC.Backend {
	case "ads1115":
		bus, err := i2c.OpenBusNumber(cfg.ADC.I2CBus)
		if err != nil {
			return hw, nil, fmt.Errorf("open i2c bus %d: %w", cfg.ADC.I2CBus, err)
		}
		closers = append(closers, bus.Close)
		adc, err := ads1115.New(bus.Dev(cfg.ADC.Address), cfg.ADC.FSRVolts)
		if err != nil {
			return hw, nil, err
		}
		if hw.LeftSensor, err = adc.Channel(cfg.ADC.LeftChannel); err != nil {
			return hw, nil, err
		}
		if hw.RightSensor, err = adc.Channel(cfg.ADC.RightChannel); err != nil {
			return hw, nil, err
		}
	case "mock":
		if md, ok := drv.(*gpio.MemDriver); ok {
			// Closed loop: the simulated sun responds to the relay
			// drive and trips the mock limit switches.
			rig := &sim.Rig{
				LeftRelayOn:  func() bool { return md.OutputLevel(cfg.GPIO.LeftRelayPin) },
				RightRelayOn: func() bool { return md.OutputLevel(cfg.GPIO.RightRelayPin) },
				OnLimits: func(left, right bool) {
					// Switch inputs are active-low.
					md.SetInput(cfg.GPIO.LeftSwitchPin, !left)
					md.SetInput(cfg.GPIO.RightSwitchPin, !right)
				},
			}
			hw.LeftSensor = rig.LeftSensor()
			hw.RightSensor = rig.RightSensor()
		} else {
			// Mock ADC over real GPIO: steady equal light, so the
			// loop reads sensors but holds position.
			hw.LeftSensor = steadyLight(2.5)
			hw.RightSensor = steadyLight(2.5)
		}
	default:
		return hw, nil, fmt.Errorf("unknown adc backend %q", cfg.ADC.Backend)
	}

	ok = true
	return hw, closeAll, nil
}

// steadyLight is the mock light source.
type steadyLight float64

func (s steadyLight) Sample() (float64, error) { return float64(s), nil }
