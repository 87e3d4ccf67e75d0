package tracker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/art-defcon/solar-controller/internal/calibrate"
)

var timeNow = time.Now

// Config for the tracking service. Zero values take defaults.
type Config struct {
	// Interval is the tick cadence.
	Interval time.Duration
	// ThresholdTurn is the calibrated difference magnitude at or below
	// which the panel counts as aligned. Volts when the samples come
	// from the ADC.
	ThresholdTurn float64
	// LeftCal and RightCal are the per-side multiplicative factors
	// applied to raw samples.
	LeftCal  float64
	RightCal float64
	// AdjustOnStart selects the initial tracking mode.
	AdjustOnStart bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.ThresholdTurn == 0 {
		c.ThresholdTurn = 0.15
	}
	if c.LeftCal == 0 {
		c.LeftCal = 1.0
	}
	if c.RightCal == 0 {
		c.RightCal = 1.0
	}
	return c
}

type Snapshot struct {
	Adjusting bool `json:"adjusting"`

	Ticks      uint64    `json:"ticks"`
	LastTickAt time.Time `json:"last_tick_utc,omitempty"`

	LeftSwitchActive  bool    `json:"left_switch_active"`
	RightSwitchActive bool    `json:"right_switch_active"`
	LeftSample        float64 `json:"left_sample"`
	RightSample       float64 `json:"right_sample"`
	Diff              float64 `json:"diff"`
	RelayCommand      string  `json:"relay_command"`

	LastLine  string `json:"last_line,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Service runs the engine at a fixed cadence and keeps the last
// decision available as a snapshot.
type Service struct {
	// OnTick, when set before Start, is called from the run loop after
	// every cycle with the fresh snapshot. It must not block.
	OnTick func(Snapshot)

	hw    Hardware
	trace io.Writer

	adjusting atomic.Bool

	mu   sync.RWMutex
	cfg  Config
	eng  *Engine
	snap Snapshot

	startedAt time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds the service and its engine. trace receives one diagnostic
// line per tick and may be nil.
func New(cfg Config, hw Hardware, trace io.Writer) *Service {
	cfg = cfg.withDefaults()
	s := &Service{cfg: cfg, hw: hw, trace: trace, stopCh: make(chan struct{})}
	s.eng = NewEngine(cfg, hw, trace)
	s.adjusting.Store(cfg.AdjustOnStart)
	s.snap.Adjusting = cfg.AdjustOnStart
	s.snap.RelayCommand = BothOff.String()
	return s
}

// Reconfigure applies new tuning to a running service. The tracking
// mode is left alone; AdjustOnStart only matters at boot.
func (s *Service) Reconfigure(cfg Config) {
	if s == nil {
		return
	}
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.eng = NewEngine(cfg, s.hw, s.trace)
	s.mu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SetAdjusting flips the tracking mode. Takes effect on the next tick.
func (s *Service) SetAdjusting(v bool) {
	if s == nil {
		return
	}
	s.adjusting.Store(v)
	s.mu.Lock()
	s.snap.Adjusting = v
	s.mu.Unlock()
}

func (s *Service) Adjusting() bool {
	if s == nil {
		return false
	}
	return s.adjusting.Load()
}

// Calibrate samples both sensors raw and suggests calibration factors.
// Safe while the tick loop runs; transfers are serialized at the
// device.
func (s *Service) Calibrate(ctx context.Context, samples int) (calibrate.Result, error) {
	if s == nil {
		return calibrate.Result{}, fmt.Errorf("tracker: service is nil")
	}
	return calibrate.Run(ctx, s.hw.LeftSensor, s.hw.RightSensor, calibrate.Options{Samples: samples})
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("tracker: service is nil")
	}
	s.startedAt = timeNow()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx)
	}()

	// Release resources if the runtime context is canceled.
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) runLoop(ctx context.Context) {
	// Fail safe: never exit with a relay energized.
	defer func() { s.engine().AllOff() }()

	iv := s.interval()
	t := time.NewTicker(iv)
	defer t.Stop()

	// First tick immediately, like the firmware loop.
	s.tickOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			s.tickOnce()
			if niv := s.interval(); niv != iv {
				iv = niv
				t.Reset(iv)
			}
		}
	}
}

func (s *Service) engine() *Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eng
}

func (s *Service) interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Interval
}

func (s *Service) tickOnce() {
	adjusting := s.adjusting.Load()
	d, err := s.engine().Tick(timeNow().Sub(s.startedAt), adjusting)

	s.mu.Lock()
	s.snap.Adjusting = adjusting
	s.snap.Ticks++
	s.snap.LastTickAt = timeNow().UTC()
	if d.Line != "" {
		s.snap.LeftSwitchActive = d.LeftActive
		s.snap.RightSwitchActive = d.RightActive
		s.snap.LeftSample = d.Left
		s.snap.RightSample = d.Right
		s.snap.Diff = d.Diff
		s.snap.RelayCommand = d.Command.String()
		s.snap.LastLine = d.Line
	} else {
		// Aborted tick; the engine forced both relays off.
		s.snap.RelayCommand = BothOff.String()
	}
	if err != nil {
		s.snap.LastError = err.Error()
	} else {
		s.snap.LastError = ""
	}
	snap := s.snap
	s.mu.Unlock()

	if s.OnTick != nil {
		s.OnTick(snap)
	}
}
