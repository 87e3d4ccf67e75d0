package gpio

import (
	"fmt"
	"sync"
)

// MemDriver is an in-memory Driver for bench runs off-target and for
// tests. Inputs can be forced with SetInput; outputs are observable
// with OutputLevel.
type MemDriver struct {
	mu    sync.Mutex
	lines map[int]*memLine
}

type memLine struct {
	drv    *MemDriver
	pin    int
	output bool
	level  bool
	closed bool
}

func NewMemDriver() *MemDriver {
	return &MemDriver{lines: make(map[int]*memLine)}
}

func (d *MemDriver) open(pin int, output, level bool) (*memLine, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.lines[pin]; busy {
		return nil, fmt.Errorf("gpio: pin %d already in use", pin)
	}
	l := &memLine{drv: d, pin: pin, output: output, level: level}
	d.lines[pin] = l
	return l, nil
}

func (d *MemDriver) OpenInput(pin int, pullUp bool) (Input, error) {
	// An undriven pulled-up input reads high.
	return d.open(pin, false, pullUp)
}

func (d *MemDriver) OpenOutput(pin int, initial bool) (Output, error) {
	return d.open(pin, true, initial)
}

func (d *MemDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, l := range d.lines {
		l.closed = true
		delete(d.lines, pin)
	}
	return nil
}

// SetInput forces the level seen by the input line on pin.
func (d *MemDriver) SetInput(pin int, level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lines[pin]; ok && !l.output {
		l.level = level
	}
}

// OutputLevel reports the level last driven on the output line on pin.
func (d *MemDriver) OutputLevel(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lines[pin]; ok && l.output {
		return l.level
	}
	return false
}

func (l *memLine) Read() (bool, error) {
	l.drv.mu.Lock()
	defer l.drv.mu.Unlock()
	if l.closed {
		return false, fmt.Errorf("gpio: pin %d closed", l.pin)
	}
	return l.level, nil
}

func (l *memLine) Set(on bool) error {
	l.drv.mu.Lock()
	defer l.drv.mu.Unlock()
	if l.closed {
		return fmt.Errorf("gpio: pin %d closed", l.pin)
	}
	if !l.output {
		return fmt.Errorf("gpio: pin %d is not an output", l.pin)
	}
	l.level = on
	return nil
}

func (l *memLine) Close() error {
	l.drv.mu.Lock()
	defer l.drv.mu.Unlock()
	if l.closed {
		return nil
	}
	if l.output {
		l.level = false
	}
	l.closed = true
	delete(l.drv.lines, l.pin)
	return nil
}
