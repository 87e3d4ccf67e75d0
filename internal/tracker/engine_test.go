package tracker

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeSensor struct {
	v   float64
	err error
}

func (f *fakeSensor) Sample() (float64, error) { return f.v, f.err }

type fakeSwitch struct {
	active bool
	err    error
}

// Read returns the raw pin level; the wiring is active-low.
func (f *fakeSwitch) Read() (bool, error) { return !f.active, f.err }

type fakeRelay struct {
	on   bool
	sets []bool
	err  error
}

func (f *fakeRelay) Set(on bool) error {
	if f.err != nil {
		return f.err
	}
	f.on = on
	f.sets = append(f.sets, on)
	return nil
}

type testHW struct {
	leftSensor, rightSensor *fakeSensor
	leftSwitch, rightSwitch *fakeSwitch
	leftRelay, rightRelay   *fakeRelay
	leftLED, rightLED       *fakeRelay
}

func newTestHW() *testHW {
	return &testHW{
		leftSensor: &fakeSensor{}, rightSensor: &fakeSensor{},
		leftSwitch: &fakeSwitch{}, rightSwitch: &fakeSwitch{},
		leftRelay: &fakeRelay{}, rightRelay: &fakeRelay{},
		leftLED: &fakeRelay{}, rightLED: &fakeRelay{},
	}
}

func (h *testHW) hardware() Hardware {
	return Hardware{
		LeftSensor: h.leftSensor, RightSensor: h.rightSensor,
		LeftSwitch: h.leftSwitch, RightSwitch: h.rightSwitch,
		LeftRelay: h.leftRelay, RightRelay: h.rightRelay,
		LeftIndicator: h.leftLED, RightIndicator: h.rightLED,
	}
}

func TestTick_TurnLeft(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 5.0
	hw.rightSensor.v = 1.0
	var trace bytes.Buffer
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), &trace)

	d, err := e.Tick(0, true)
	if err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if d.Command != RightOn {
		t.Fatalf("command=%v want right_on", d.Command)
	}
	if hw.leftRelay.on || !hw.rightRelay.on {
		t.Fatalf("relays left=%v right=%v want false/true", hw.leftRelay.on, hw.rightRelay.on)
	}
	want := "0s 0L/0R Left: 5.00 - Right: 1.00 - Diff: 4.00 (turn left) "
	if d.Line != want {
		t.Fatalf("line=%q want %q", d.Line, want)
	}
	if got := trace.String(); got != want+"\n" {
		t.Fatalf("trace=%q want %q", got, want+"\n")
	}
}

func TestTick_LimitStopsApproach(t *testing.T) {
	for _, adjusting := range []bool{true, false} {
		hw := newTestHW()
		hw.leftSensor.v = 5.0
		hw.rightSensor.v = 1.0
		hw.leftSwitch.active = true
		hw.rightRelay.on = true
		e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), nil)

		d, err := e.Tick(0, adjusting)
		if err != nil {
			t.Fatalf("Tick() error: %v", err)
		}
		if d.Command != BothOff {
			t.Fatalf("adjusting=%v command=%v want both_off", adjusting, d.Command)
		}
		if hw.leftRelay.on || hw.rightRelay.on {
			t.Fatalf("adjusting=%v relays left=%v right=%v want both off", adjusting, hw.leftRelay.on, hw.rightRelay.on)
		}
		if !strings.Contains(d.Line, "turn left") {
			t.Fatalf("line=%q want turn left reported", d.Line)
		}
	}
}

func TestTick_TurnLeftAtLimitLine(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 5.0
	hw.rightSensor.v = 1.0
	hw.leftSwitch.active = true
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), nil)

	d, err := e.Tick(0, true)
	if err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	want := "0s 1L/0R Left: 5.00 - Right: 1.00 - Diff: 4.00 (turn left) "
	if d.Line != want {
		t.Fatalf("line=%q want %q", d.Line, want)
	}
}

func TestTick_AlignedWithinThreshold(t *testing.T) {
	cases := []struct {
		name      string
		adjusting bool
		want      string
	}{
		{"Adjusting", true, "0s 0L/0R Left: 3.00 - Right: 3.00 - Diff: 0.00 nothing to do"},
		{"Sleeping", false, "0s 0L/0R Left: 3.00 - Right: 3.00 - Diff: 0.00 sleeping"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hw := newTestHW()
			hw.leftSensor.v = 3.0
			hw.rightSensor.v = 3.0
			hw.leftRelay.on = true
			hw.rightRelay.on = true
			e := NewEngine(Config{ThresholdTurn: 0.5}, hw.hardware(), nil)

			d, err := e.Tick(0, tc.adjusting)
			if err != nil {
				t.Fatalf("Tick() error: %v", err)
			}
			if hw.leftRelay.on || hw.rightRelay.on {
				t.Fatalf("relays left=%v right=%v want both off", hw.leftRelay.on, hw.rightRelay.on)
			}
			if d.Command != BothOff {
				t.Fatalf("command=%v want both_off", d.Command)
			}
			if d.Line != tc.want {
				t.Fatalf("line=%q want %q", d.Line, tc.want)
			}
		})
	}
}

func TestTick_SleepingReportsTurnWithoutDriving(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 1.0
	hw.rightSensor.v = 5.0
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), nil)

	d, err := e.Tick(0, false)
	if err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if hw.leftRelay.on || hw.rightRelay.on {
		t.Fatalf("relays left=%v right=%v want both off", hw.leftRelay.on, hw.rightRelay.on)
	}
	want := "0s 0L/0R Left: 1.00 - Right: 5.00 - Diff: -4.00 (turn right - sleeping)"
	if d.Line != want {
		t.Fatalf("line=%q want %q", d.Line, want)
	}
}

func TestTick_AppliesCalibrationFactors(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 2.0
	hw.rightSensor.v = 4.0
	e := NewEngine(Config{ThresholdTurn: 0.5, LeftCal: 2.0, RightCal: 0.5}, hw.hardware(), nil)

	d, err := e.Tick(0, true)
	if err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if d.Left != 4.0 || d.Right != 2.0 || d.Diff != 2.0 {
		t.Fatalf("left=%v right=%v diff=%v want 4/2/2", d.Left, d.Right, d.Diff)
	}
	if d.Command != RightOn {
		t.Fatalf("command=%v want right_on", d.Command)
	}
}

func TestTick_NeverDrivesWhenNotAdjusting(t *testing.T) {
	samples := [][2]float64{{5, 1}, {1, 5}, {3, 3}, {0, 0}, {2.4, 2.6}}
	switches := [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}}
	for _, sa := range samples {
		for _, sw := range switches {
			hw := newTestHW()
			hw.leftSensor.v = sa[0]
			hw.rightSensor.v = sa[1]
			hw.leftSwitch.active = sw[0]
			hw.rightSwitch.active = sw[1]
			e := NewEngine(Config{ThresholdTurn: 0.1}, hw.hardware(), nil)

			if _, err := e.Tick(0, false); err != nil {
				t.Fatalf("Tick() error: %v", err)
			}
			if hw.leftRelay.on || hw.rightRelay.on {
				t.Fatalf("samples=%v switches=%v: relay on while not adjusting", sa, sw)
			}
		}
	}
}

func TestTick_AtMostOneRelayOn(t *testing.T) {
	samples := [][2]float64{{5, 1}, {1, 5}, {3, 3}, {10, 0}, {0, 10}}
	switches := [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}}
	for _, adjusting := range []bool{true, false} {
		for _, sa := range samples {
			for _, sw := range switches {
				hw := newTestHW()
				hw.leftSensor.v = sa[0]
				hw.rightSensor.v = sa[1]
				hw.leftSwitch.active = sw[0]
				hw.rightSwitch.active = sw[1]
				e := NewEngine(Config{ThresholdTurn: 0.1}, hw.hardware(), nil)

				if _, err := e.Tick(0, adjusting); err != nil {
					t.Fatalf("Tick() error: %v", err)
				}
				if hw.leftRelay.on && hw.rightRelay.on {
					t.Fatalf("adjusting=%v samples=%v switches=%v: both relays on", adjusting, sa, sw)
				}
			}
		}
	}
}

func TestTick_Idempotent(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 5.0
	hw.rightSensor.v = 1.0
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), nil)

	d1, err := e.Tick(7*time.Second, true)
	if err != nil {
		t.Fatalf("first Tick() error: %v", err)
	}
	d2, err := e.Tick(7*time.Second, true)
	if err != nil {
		t.Fatalf("second Tick() error: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("decisions differ:\n%+v\n%+v", d1, d2)
	}
	if !hw.rightRelay.on {
		t.Fatalf("right relay off after repeat tick")
	}
}

func TestTick_IndicatorsMirrorSwitches(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 3.0
	hw.rightSensor.v = 3.0
	hw.leftSwitch.active = true
	e := NewEngine(Config{ThresholdTurn: 0.5}, hw.hardware(), nil)

	if _, err := e.Tick(0, true); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if !hw.leftLED.on || hw.rightLED.on {
		t.Fatalf("indicators left=%v right=%v want true/false", hw.leftLED.on, hw.rightLED.on)
	}

	hw.leftSwitch.active = false
	hw.rightSwitch.active = true
	if _, err := e.Tick(0, true); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if hw.leftLED.on || !hw.rightLED.on {
		t.Fatalf("indicators left=%v right=%v want false/true", hw.leftLED.on, hw.rightLED.on)
	}
}

func TestTick_ElapsedSeconds(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 3.0
	hw.rightSensor.v = 3.0
	e := NewEngine(Config{ThresholdTurn: 0.5}, hw.hardware(), nil)

	d, err := e.Tick(90*time.Second+400*time.Millisecond, true)
	if err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if !strings.HasPrefix(d.Line, "90s ") {
		t.Fatalf("line=%q want 90s prefix", d.Line)
	}
}

func TestTick_SensorErrorFailsSafe(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 5.0
	hw.rightSensor.err = errors.New("i2c timeout")
	hw.leftRelay.on = true
	var trace bytes.Buffer
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), &trace)

	d, err := e.Tick(0, true)
	if err == nil || !strings.Contains(err.Error(), "right sensor read failed") {
		t.Fatalf("err=%v want right sensor read failed", err)
	}
	if hw.leftRelay.on || hw.rightRelay.on {
		t.Fatalf("relays left=%v right=%v want both off after failure", hw.leftRelay.on, hw.rightRelay.on)
	}
	if d.Line != "" {
		t.Fatalf("line=%q want empty on aborted tick", d.Line)
	}
	if trace.Len() != 0 {
		t.Fatalf("trace=%q want empty", trace.String())
	}
}

func TestTick_SwitchErrorFailsSafe(t *testing.T) {
	hw := newTestHW()
	hw.leftSwitch.err = errors.New("gpio gone")
	hw.rightRelay.on = true
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), nil)

	_, err := e.Tick(0, true)
	if err == nil || !strings.Contains(err.Error(), "left switch read failed") {
		t.Fatalf("err=%v want left switch read failed", err)
	}
	if hw.leftRelay.on || hw.rightRelay.on {
		t.Fatalf("relays left=%v right=%v want both off after failure", hw.leftRelay.on, hw.rightRelay.on)
	}
}

func TestTick_RelayErrorStillCompletes(t *testing.T) {
	hw := newTestHW()
	hw.leftSensor.v = 1.0
	hw.rightSensor.v = 5.0
	hw.leftRelay.err = errors.New("coil driver fault")
	var trace bytes.Buffer
	e := NewEngine(Config{ThresholdTurn: 2.0}, hw.hardware(), &trace)

	d, err := e.Tick(0, true)
	if err == nil || !strings.Contains(err.Error(), "left relay set failed") {
		t.Fatalf("err=%v want left relay set failed", err)
	}
	if d.Line == "" {
		t.Fatalf("line empty; tick should complete on output failures")
	}
	if trace.Len() == 0 {
		t.Fatalf("trace empty; line should still be written")
	}
}

func TestTick_EqualSamplesSkipBothDirections(t *testing.T) {
	// A threshold below zero forces the turn branch even on equal
	// samples; both direction checks then fail and the relays are left
	// untouched for the tick.
	hw := newTestHW()
	hw.leftSensor.v = 3.0
	hw.rightSensor.v = 3.0
	e := NewEngine(Config{ThresholdTurn: -1}, hw.hardware(), nil)

	d, err := e.Tick(0, true)
	if err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if len(hw.leftRelay.sets) != 0 || len(hw.rightRelay.sets) != 0 {
		t.Fatalf("relay writes=%d/%d want none", len(hw.leftRelay.sets), len(hw.rightRelay.sets))
	}
	if d.Command != BothOff {
		t.Fatalf("command=%v want both_off", d.Command)
	}
	if d.Line != "0s 0L/0R Left: 3.00 - Right: 3.00 - Diff: 0.00 (turn) " {
		t.Fatalf("line=%q", d.Line)
	}
}
