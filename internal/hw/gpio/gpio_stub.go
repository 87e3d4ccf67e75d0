//go:build !linux || (!arm && !arm64)

package gpio

import "fmt"

// Stub implementations for non-Linux and/or non-ARM platforms. The mock
// backend still works everywhere.

func openGpiod() (Driver, error) {
	return nil, fmt.Errorf("gpio: gpiod backend unsupported on this platform")
}

func openRpio() (Driver, error) {
	return nil, fmt.Errorf("gpio: rpio backend unsupported on this platform")
}
