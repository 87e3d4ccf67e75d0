// Package serialout mirrors the decision trace to a serial port, for
// bench tooling that used to watch the controller's UART output.
package serialout

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tarm/serial"
)

// Sink writes trace lines to a serial port with CRLF line endings. It
// implements io.Writer so it can sit behind an io.MultiWriter next to
// the in-memory log buffer. Writes never fail the caller; a wedged
// port only bumps the drop counter.
type Sink struct {
	mu    sync.Mutex
	port  io.WriteCloser
	drops atomic.Uint64
}

// Open opens the mirror port at 8N1. Name and baud come from the
// trace.serial_port and trace.serial_baud config keys.
func Open(name string, baud int) (*Sink, error) {
	cfg := &serial.Config{
		Name:     name,
		Baud:     baud,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return &Sink{port: port}, nil
}

// NewSink wraps an already-open writer. Tests use this; Open is the
// hardware path.
func NewSink(w io.WriteCloser) *Sink {
	return &Sink{port: w}
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	if s == nil || s.port == nil {
		return len(p), nil
	}
	out := crlf(p)
	s.mu.Lock()
	_, err := s.port.Write(out)
	s.mu.Unlock()
	if err != nil {
		s.drops.Add(1)
	}
	return len(p), nil
}

// Drops reports how many writes the port swallowed or failed.
func (s *Sink) Drops() uint64 {
	if s == nil {
		return 0
	}
	return s.drops.Load()
}

func (s *Sink) Close() error {
	if s == nil || s.port == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// crlf rewrites line endings to CRLF without doubling ones that
// already are.
func crlf(p []byte) []byte {
	if !bytes.Contains(p, []byte{'\n'}) {
		return p
	}
	out := bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("\n"), []byte("\r\n"))
}
