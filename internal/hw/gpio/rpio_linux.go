//go:build linux && (arm || arm64)

package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// openRpio returns a Driver backed by go-rpio's memory-mapped access
// via /dev/gpiomem. Needs gpio group membership or root.
func openRpio() (Driver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: rpio open failed: %w (not a Raspberry Pi?)", err)
	}
	return &rpioDriver{}, nil
}

type rpioDriver struct{}

func (d *rpioDriver) OpenInput(pin int, pullUp bool) (Input, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	p := rpio.Pin(pin)
	p.Input()
	if pullUp {
		p.PullUp()
	}
	return &rpioInput{pin: p}, nil
}

func (d *rpioDriver) OpenOutput(pin int, initial bool) (Output, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	p := rpio.Pin(pin)
	p.Output()
	if initial {
		p.High()
	} else {
		p.Low()
	}
	return &rpioOutput{pin: p}, nil
}

func (d *rpioDriver) Close() error {
	return rpio.Close()
}

type rpioInput struct {
	pin rpio.Pin
}

func (in *rpioInput) Read() (bool, error) {
	return in.pin.Read() == rpio.High, nil
}

func (in *rpioInput) Close() error { return nil }

type rpioOutput struct {
	pin rpio.Pin
}

func (out *rpioOutput) Set(on bool) error {
	if on {
		out.pin.High()
	} else {
		out.pin.Low()
	}
	return nil
}

func (out *rpioOutput) Close() error {
	out.pin.Low()
	return nil
}
