// Package sim provides a bench rig for mock-backend runs: a simulated
// sun and panel whose light readings respond to the relay drive, so a
// controller started with no hardware attached still converges, holds,
// and trips its limit switches.
package sim

import (
	"math"
	"sync"
	"time"
)

// for tests
var timeNow = time.Now

// Rig models one panel on a single horizontal axis. Angles are degrees
// in the panel's frame: zero at the boot position, positive to the
// left. Zero-valued tuning fields fall back to bench defaults.
type Rig struct {
	// SunDeg is the sun bearing at start.
	SunDeg float64
	// SunRateDegPerSec drifts the sun. The apparent solar rate is about
	// 0.0042 (15 degrees per hour); bench demos can run faster.
	SunRateDegPerSec float64
	// SlewDegPerSec is the panel speed while a relay is energized.
	SlewDegPerSec float64
	// TravelDeg bounds panel travel on either side of the boot position.
	TravelDeg float64
	// SensorTiltDeg is how far each sensor faces off the panel normal,
	// the left sensor toward the left.
	SensorTiltDeg float64
	// BrightVolts and DarkVolts are the sensor output range.
	BrightVolts float64
	DarkVolts   float64

	// LeftRelayOn and RightRelayOn supply the relay drive each step.
	// The left relay rotates the panel right, the right relay left,
	// matching the H-bridge wiring.
	LeftRelayOn  func() bool
	RightRelayOn func() bool

	// OnLimits, when set, is called after each step with the travel
	// state, so a bench run can force the mock switch inputs. It must
	// not call back into the rig.
	OnLimits func(leftLimit, rightLimit bool)

	mu     sync.Mutex
	inited bool
	panel  float64
	sun    float64
	last   time.Time
}

// step advances the geometry to now. Sampling either sensor steps the
// whole rig, so both sides always describe the same instant.
func (r *Rig) step(now time.Time) {
	leftOn := r.LeftRelayOn != nil && r.LeftRelayOn()
	rightOn := r.RightRelayOn != nil && r.RightRelayOn()

	r.mu.Lock()
	if !r.inited {
		r.sun = r.SunDeg
		if r.sun == 0 {
			r.sun = 20
		}
		r.last = now
		r.inited = true
	}
	dt := now.Sub(r.last).Seconds()
	if dt < 0 {
		dt = 0
	}
	r.last = now

	r.sun += r.sunRate() * dt
	if rightOn {
		r.panel += r.slew() * dt
	}
	if leftOn {
		r.panel -= r.slew() * dt
	}

	travel := r.travel()
	if r.panel > travel {
		r.panel = travel
	}
	if r.panel < -travel {
		r.panel = -travel
	}
	leftLim := r.panel >= travel
	rightLim := r.panel <= -travel
	cb := r.OnLimits
	r.mu.Unlock()

	if cb != nil {
		cb(leftLim, rightLim)
	}
}

// Sensor is one simulated light input.
type Sensor struct {
	rig  *Rig
	sign float64
}

func (r *Rig) LeftSensor() *Sensor  { return &Sensor{rig: r, sign: 1} }
func (r *Rig) RightSensor() *Sensor { return &Sensor{rig: r, sign: -1} }

// Sample advances the rig and returns the side's voltage: the dark
// level plus the bright span scaled by the cosine of the angle between
// the sun and the sensor normal.
func (s *Sensor) Sample() (float64, error) {
	r := s.rig
	r.step(timeNow())

	r.mu.Lock()
	defer r.mu.Unlock()
	rel := (r.sun - r.panel - s.sign*r.tilt()) * math.Pi / 180
	f := math.Cos(rel)
	if f < 0 {
		f = 0
	}
	return r.dark() + (r.bright()-r.dark())*f, nil
}

// PanelDeg reports the current panel angle.
func (r *Rig) PanelDeg() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.panel
}

func (r *Rig) slew() float64 {
	if r.SlewDegPerSec > 0 {
		return r.SlewDegPerSec
	}
	return 1.5
}

func (r *Rig) travel() float64 {
	if r.TravelDeg > 0 {
		return r.TravelDeg
	}
	return 60
}

func (r *Rig) tilt() float64 {
	if r.SensorTiltDeg > 0 {
		return r.SensorTiltDeg
	}
	return 30
}

func (r *Rig) bright() float64 {
	if r.BrightVolts > 0 {
		return r.BrightVolts
	}
	return 3.0
}

func (r *Rig) dark() float64 {
	if r.DarkVolts > 0 {
		return r.DarkVolts
	}
	return 0.2
}

func (r *Rig) sunRate() float64 {
	if r.SunRateDegPerSec != 0 {
		return r.SunRateDegPerSec
	}
	return 15.0 / 3600
}
