// Package tracker implements the single-axis solar tracking decision
// cycle: two calibrated LDR readings are compared once per tick and the
// panel is rotated toward the brighter side until a limit switch is
// reached or the difference falls below the turn threshold.
package tracker

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// LightSensor is one analog light input. Sample returns the raw
// (uncalibrated) reading; the engine applies the per-side factor.
type LightSensor interface {
	Sample() (float64, error)
}

// LimitSwitch is one travel end-stop input. Read returns the raw pin
// level; the wiring is active-low, so a low read means the panel has
// reached its limit on that side.
type LimitSwitch interface {
	Read() (bool, error)
}

// RelayOutput drives one relay or indicator line.
type RelayOutput interface {
	Set(on bool) error
}

// Hardware bundles the lines the engine drives. All fields are
// required.
type Hardware struct {
	LeftSensor  LightSensor
	RightSensor LightSensor

	LeftSwitch  LimitSwitch
	RightSwitch LimitSwitch

	// LeftRelay energized rotates the panel right; RightRelay energized
	// rotates it left. The naming follows the H-bridge wiring, not the
	// direction of motion.
	LeftRelay  RelayOutput
	RightRelay RelayOutput

	// One indicator per side, mirroring its limit switch.
	LeftIndicator  RelayOutput
	RightIndicator RelayOutput
}

// Command is the relay drive decided by one tick. Never both relays on.
type Command int

const (
	BothOff Command = iota
	LeftOn
	RightOn
)

func (c Command) String() string {
	switch c {
	case LeftOn:
		return "left_on"
	case RightOn:
		return "right_on"
	default:
		return "both_off"
	}
}

// Decision is the outcome of one tick.
type Decision struct {
	LeftActive  bool
	RightActive bool
	Left        float64
	Right       float64
	Diff        float64
	Command     Command

	// Line is the diagnostic line for this tick, without the trailing
	// newline. Empty when the tick aborted on a read failure.
	Line string
}

// Engine evaluates one decision cycle per Tick call. It keeps no state
// between ticks; identical inputs produce identical outputs.
type Engine struct {
	cfg   Config
	hw    Hardware
	trace io.Writer
}

// NewEngine applies Config defaults and binds the hardware. trace
// receives one diagnostic line per completed tick and may be nil.
func NewEngine(cfg Config, hw Hardware, trace io.Writer) *Engine {
	return &Engine{cfg: cfg.withDefaults(), hw: hw, trace: trace}
}

// AllOff forces both relays off, best effort.
func (e *Engine) AllOff() {
	_ = e.hw.RightRelay.Set(false)
	_ = e.hw.LeftRelay.Set(false)
}

func setOutput(firstErr *error, out RelayOutput, on bool, name string) {
	if err := out.Set(on); err != nil && *firstErr == nil {
		*firstErr = fmt.Errorf("tracker: %s set failed: %w", name, err)
	}
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Tick runs one decision cycle. elapsed is informational and only
// appears in the diagnostic line; adjusting gates whether a detected
// misalignment actually drives the motor.
//
// A sensor or switch read failure aborts the cycle: both relays are
// forced off and no line is emitted. Output write failures do not
// abort; the first one is returned after the cycle completes.
func (e *Engine) Tick(elapsed time.Duration, adjusting bool) (Decision, error) {
	var d Decision
	var outErr error

	rawLeft, err := e.hw.LeftSwitch.Read()
	if err != nil {
		e.AllOff()
		return d, fmt.Errorf("tracker: left switch read failed: %w", err)
	}
	d.LeftActive = !rawLeft
	setOutput(&outErr, e.hw.LeftIndicator, d.LeftActive, "left indicator")

	rawRight, err := e.hw.RightSwitch.Read()
	if err != nil {
		e.AllOff()
		return d, fmt.Errorf("tracker: right switch read failed: %w", err)
	}
	d.RightActive = !rawRight
	setOutput(&outErr, e.hw.RightIndicator, d.RightActive, "right indicator")

	left, err := e.hw.LeftSensor.Sample()
	if err != nil {
		e.AllOff()
		return d, fmt.Errorf("tracker: left sensor read failed: %w", err)
	}
	right, err := e.hw.RightSensor.Sample()
	if err != nil {
		e.AllOff()
		return d, fmt.Errorf("tracker: right sensor read failed: %w", err)
	}

	d.Left = left * e.cfg.LeftCal
	d.Right = right * e.cfg.RightCal
	d.Diff = d.Left - d.Right

	var line strings.Builder
	fmt.Fprintf(&line, "%ds %dL/%dR Left: %.2f - Right: %.2f - Diff: %.2f",
		int64(elapsed/time.Second), bit(d.LeftActive), bit(d.RightActive), d.Left, d.Right, d.Diff)

	if math.Abs(d.Diff) > e.cfg.ThresholdTurn {
		line.WriteString(" (turn")

		if d.Left > d.Right {
			// More light from the left.
			line.WriteString(" left")
			setOutput(&outErr, e.hw.LeftRelay, false, "left relay")
			if d.LeftActive {
				setOutput(&outErr, e.hw.RightRelay, false, "right relay")
			} else if adjusting {
				setOutput(&outErr, e.hw.RightRelay, true, "right relay")
				d.Command = RightOn
			}
		}

		if d.Left < d.Right {
			// More light from the right.
			line.WriteString(" right")
			setOutput(&outErr, e.hw.RightRelay, false, "right relay")
			if d.RightActive {
				setOutput(&outErr, e.hw.LeftRelay, false, "left relay")
			} else if adjusting {
				setOutput(&outErr, e.hw.LeftRelay, true, "left relay")
				d.Command = LeftOn
			}
		}

		if adjusting {
			line.WriteString(") ")
		} else {
			setOutput(&outErr, e.hw.RightRelay, false, "right relay")
			setOutput(&outErr, e.hw.LeftRelay, false, "left relay")
			line.WriteString(" - sleeping)")
		}
	} else {
		setOutput(&outErr, e.hw.RightRelay, false, "right relay")
		setOutput(&outErr, e.hw.LeftRelay, false, "left relay")
		if adjusting {
			line.WriteString(" nothing to do")
		} else {
			line.WriteString(" sleeping")
		}
	}

	d.Line = line.String()
	if e.trace != nil {
		fmt.Fprintln(e.trace, d.Line)
	}
	return d, outErr
}
