//go:build linux && (arm || arm64)

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

const gpiodConsumer = "solar-controller"

// openGpiod returns a Driver backed by the Linux GPIO character device
// (libgpiod). Each line is requested on demand and released on Close.
func openGpiod() (Driver, error) {
	return &gpiodDriver{}, nil
}

type gpiodDriver struct{}

// chipCandidates lists the devices to probe for a named line. Likely
// chips go first; Pi 5 kernel variants have moved the header GPIOs
// between gpiochip0 and gpiochip4 across releases.
func chipCandidates() []string {
	candidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			candidates = append(candidates, filepath.Join("/dev", name))
		}
	}
	return candidates
}

func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if pin <= 0 {
		return nil, nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}

	// On Pi, line names are commonly "GPIO17", etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	for _, chipPath := range chipCandidates() {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}

	return nil, nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

func (d *gpiodDriver) OpenInput(pin int, pullUp bool) (Input, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithConsumer(gpiodConsumer)}
	if pullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}
	chip, line, err := requestLine(pin, opts...)
	if err != nil {
		return nil, err
	}
	return &gpiodInput{chip: chip, line: line}, nil
}

func (d *gpiodDriver) OpenOutput(pin int, initial bool) (Output, error) {
	v := 0
	if initial {
		v = 1
	}
	chip, line, err := requestLine(pin, gpiocdev.AsOutput(v), gpiocdev.WithConsumer(gpiodConsumer))
	if err != nil {
		return nil, err
	}
	return &gpiodOutput{chip: chip, line: line}, nil
}

func (d *gpiodDriver) Close() error {
	// Lines hold their own chip handles and release them individually.
	return nil
}

type gpiodInput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (in *gpiodInput) Read() (bool, error) {
	if in == nil || in.line == nil {
		return false, fmt.Errorf("gpio: input not initialized")
	}
	v, err := in.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (in *gpiodInput) Close() error {
	if in == nil || in.line == nil {
		return nil
	}
	err := in.line.Close()
	in.line = nil
	if in.chip != nil {
		_ = in.chip.Close()
		in.chip = nil
	}
	return err
}

type gpiodOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (out *gpiodOutput) Set(on bool) error {
	if out == nil || out.line == nil {
		return fmt.Errorf("gpio: output not initialized")
	}
	v := 0
	if on {
		v = 1
	}
	return out.line.SetValue(v)
}

func (out *gpiodOutput) Close() error {
	if out == nil || out.line == nil {
		return nil
	}
	// Graceful shutdown: release the line driven low.
	_ = out.line.SetValue(0)
	err := out.line.Close()
	out.line = nil
	if out.chip != nil {
		_ = out.chip.Close()
		out.chip = nil
	}
	return err
}
