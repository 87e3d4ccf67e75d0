package ads1115

import (
	"fmt"
	"sync"
	"time"

	"github.com/art-defcon/solar-controller/internal/hw/i2c"
)

var sleep = time.Sleep

// Minimal ADS1115 driver.
//
// Single-shot, single-ended conversions on AIN0..AIN3. The tracker only
// reads two LDR divider channels; the comparator and continuous mode
// are not supported.

const (
	addrDefault = 0x48

	regConversion = 0x00
	regConfig     = 0x01

	// Config register bits.
	cfgOS         = 1 << 15 // write: start conversion; read: 1 = idle
	cfgModeSingle = 1 << 8
	cfgDR128      = 0x4 << 5 // 128 SPS
	cfgCompOff    = 0x3      // comparator disabled

	// 128 SPS is ~8ms per conversion.
	convWait    = 8 * time.Millisecond
	convPoll    = time.Millisecond
	convPollMax = 25
)

type Device struct {
	mu  sync.Mutex
	dev regIO
	fsr float64
	pga uint16
}

type regIO interface {
	ReadReg16(reg byte) (uint16, error)
	WriteReg16(reg byte, value uint16) error
}

func DefaultAddress() uint16 { return addrDefault }

// muxSingle selects the single-ended input AINch vs GND.
func muxSingle(ch int) uint16 { return uint16(0x4|ch) << 12 }

func pgaCode(fsrVolts float64) (uint16, error) {
	switch fsrVolts {
	case 6.144:
		return 0x0 << 9, nil
	case 4.096:
		return 0x1 << 9, nil
	case 2.048:
		return 0x2 << 9, nil
	case 1.024:
		return 0x3 << 9, nil
	case 0.512:
		return 0x4 << 9, nil
	case 0.256:
		return 0x5 << 9, nil
	}
	return 0, fmt.Errorf("ads1115: unsupported full-scale range %.3f V", fsrVolts)
}

func New(dev *i2c.Dev, fsrVolts float64) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ads1115: dev is nil")
	}
	return newWithIO(dev, fsrVolts)
}

func newWithIO(dev regIO, fsrVolts float64) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ads1115: dev is nil")
	}
	pga, err := pgaCode(fsrVolts)
	if err != nil {
		return nil, err
	}
	d := &Device{dev: dev, fsr: fsrVolts, pga: pga}

	// Presence check. The ADS1115 has no ID register; a config-register
	// read answering at the address has to do.
	if _, err := d.dev.ReadReg16(regConfig); err != nil {
		return nil, fmt.Errorf("ads1115: config read failed: %w", err)
	}

	return d, nil
}

// ReadChannel runs one single-shot conversion and returns the raw count
// and the voltage at the selected full-scale range.
//
// Safe for concurrent use; conversions are serialized on the device.
func (d *Device) ReadChannel(ch int) (int16, float64, error) {
	if ch < 0 || ch > 3 {
		return 0, 0, fmt.Errorf("ads1115: invalid channel %d", ch)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := uint16(cfgOS|cfgModeSingle|cfgCompOff) | muxSingle(ch) | d.pga | cfgDR128
	if err := d.dev.WriteReg16(regConfig, cfg); err != nil {
		return 0, 0, fmt.Errorf("ads1115: start conversion failed: %w", err)
	}

	sleep(convWait)
	ready := false
	for i := 0; i < convPollMax; i++ {
		v, err := d.dev.ReadReg16(regConfig)
		if err != nil {
			return 0, 0, fmt.Errorf("ads1115: poll failed: %w", err)
		}
		if v&cfgOS != 0 {
			ready = true
			break
		}
		sleep(convPoll)
	}
	if !ready {
		return 0, 0, fmt.Errorf("ads1115: conversion timeout on channel %d", ch)
	}

	raw, err := d.dev.ReadReg16(regConversion)
	if err != nil {
		return 0, 0, fmt.Errorf("ads1115: conversion read failed: %w", err)
	}

	signed := int16(raw)
	return signed, float64(signed) * d.fsr / 32768.0, nil
}

// Channel adapts one input of the Device to a single Sample() source.
type Channel struct {
	dev *Device
	ch  int
}

func (d *Device) Channel(ch int) (*Channel, error) {
	if ch < 0 || ch > 3 {
		return nil, fmt.Errorf("ads1115: invalid channel %d", ch)
	}
	return &Channel{dev: d, ch: ch}, nil
}

// Sample returns the channel voltage.
func (c *Channel) Sample() (float64, error) {
	_, v, err := c.dev.ReadChannel(c.ch)
	return v, err
}
