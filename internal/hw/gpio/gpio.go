package gpio

import "fmt"

// Backend names accepted in configuration.
const (
	BackendGpiod = "gpiod"
	BackendRpio  = "rpio"
	BackendMock  = "mock"
)

// Input is a single digital input line. Read returns the raw pin level.
type Input interface {
	Read() (bool, error)
	Close() error
}

// Output is a single digital output line.
//
// Close should be best-effort and leave the line in a safe (low) state.
type Output interface {
	Set(on bool) error
	Close() error
}

// Driver hands out lines by BCM pin number.
//
// Implementations are not required to support concurrent opens; the
// daemon requests all of its lines up front.
type Driver interface {
	OpenInput(pin int, pullUp bool) (Input, error)
	OpenOutput(pin int, initial bool) (Output, error)
	Close() error
}

// Open selects a Driver by backend name.
func Open(backend string) (Driver, error) {
	switch backend {
	case BackendGpiod:
		return openGpiod()
	case BackendRpio:
		return openRpio()
	case BackendMock:
		return NewMemDriver(), nil
	default:
		return nil, fmt.Errorf("gpio: unknown backend %q", backend)
	}
}
