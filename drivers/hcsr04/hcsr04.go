// Package hcsr04 provides a driver for the HC-SR04 ultrasonic ranging module.
// The driver is split from the pulse-timing backend so it can be exercised
// without real hardware:
//
//	dur, err := d.ReadPulse()     // one trigger/echo cycle, µs of echo HIGH
//	cm, err := d.ReadDistance()   // same cycle, converted to whole cm
//
// A duration of 0 means the echo never arrived before the configured timeout.
// The distance for a zero duration is 0 cm, which is indistinguishable from an
// object touching the sensor; callers that care must pick the timeout so the
// ambiguity is acceptable.
//
// The sensor needs a quiet period between pings (the transducer keeps ringing
// after a burst); reads inside the settle window return ErrNotReady.
package hcsr04

import (
	"errors"
	"time"
)

// Datasheet-derived defaults.
const (
	// DefaultSpeedOfSound is the conversion factor from elapsed microseconds
	// to one-way travel centimetres (343 m/s at ~20°C).
	DefaultSpeedOfSound float32 = 0.0343

	// DefaultRoundTripDivisor halves the round-trip duration.
	DefaultRoundTripDivisor int32 = 2

	// DefaultEchoTimeout bounds the echo wait at roughly the sensor's 4 m
	// maximum range (round trip).
	DefaultEchoTimeout = 24 * time.Millisecond

	// DefaultSettlePeriod is the minimum spacing between pings.
	DefaultSettlePeriod = 60 * time.Millisecond
)

// Errors returned by the driver.
var (
	ErrNotReady = errors.New("hcsr04: not ready")
	ErrBackend  = errors.New("hcsr04: backend failure")
)

// Backend measures one trigger/echo cycle: it emits the trigger pulse, then
// times how long the echo line stays HIGH. It returns the duration in
// microseconds, or 0 (and no error) if no echo completed before timeout.
type Backend interface {
	Ping(timeout time.Duration) (durationUS uint32, err error)
}

// Config controls conversion and pacing. All fields are optional.
type Config struct {
	// SpeedOfSound in cm/µs. Defaults to 0.0343.
	SpeedOfSound float32
	// RoundTripDivisor divides the one-way product. Defaults to 2.
	RoundTripDivisor int32
	// EchoTimeout bounds the echo wait. Defaults to 24 ms.
	EchoTimeout time.Duration
	// SettlePeriod is the minimum spacing between pings. Defaults to 60 ms.
	SettlePeriod time.Duration
}

// Device drives one HC-SR04 through a Backend.
type Device struct {
	backend Backend
	cfg     Config

	lastPing time.Time
	now      func() time.Time // injectable for tests
}

// New creates a driver over the given backend. Call Configure before use.
func New(b Backend) Device {
	return Device{backend: b, now: time.Now}
}

// Configure applies optional config, filling defaults for zero fields.
func (d *Device) Configure(cfgs ...Config) {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.SpeedOfSound <= 0 {
		c.SpeedOfSound = DefaultSpeedOfSound
	}
	if c.RoundTripDivisor <= 0 {
		c.RoundTripDivisor = DefaultRoundTripDivisor
	}
	if c.EchoTimeout <= 0 {
		c.EchoTimeout = DefaultEchoTimeout
	}
	if c.SettlePeriod < 0 {
		c.SettlePeriod = 0
	} else if c.SettlePeriod == 0 {
		c.SettlePeriod = DefaultSettlePeriod
	}
	d.cfg = c
	if d.now == nil {
		d.now = time.Now
	}
}

// EchoTimeout reports the configured echo wait bound.
func (d *Device) EchoTimeout() time.Duration {
	if d.cfg.EchoTimeout > 0 {
		return d.cfg.EchoTimeout
	}
	return DefaultEchoTimeout
}

// ReadPulse performs one trigger/echo cycle and returns the echo HIGH
// duration in microseconds (0 when no echo arrived before timeout).
// Inside the settle window it returns ErrNotReady without touching the pins.
func (d *Device) ReadPulse() (uint32, error) {
	if d.cfg.RoundTripDivisor == 0 {
		d.Configure()
	}
	now := d.now()
	if !d.lastPing.IsZero() && now.Sub(d.lastPing) < d.cfg.SettlePeriod {
		return 0, ErrNotReady
	}
	d.lastPing = now

	dur, err := d.backend.Ping(d.cfg.EchoTimeout)
	if err != nil {
		return 0, err
	}
	return dur, nil
}

// ReadDistance performs one cycle and returns whole centimetres.
func (d *Device) ReadDistance() (int32, error) {
	dur, err := d.ReadPulse()
	if err != nil {
		return 0, err
	}
	return d.DistanceCM(dur), nil
}

// DistanceCM converts an echo duration to whole centimetres: the duration is
// promoted to floating point, multiplied by the speed-of-sound constant,
// divided by the round-trip divisor, and only then truncated. The order
// matters for values near a truncation boundary (1000 µs → 17, not 17.15
// rounded elsewhere; 5830 µs → 99).
func (d *Device) DistanceCM(durationUS uint32) int32 {
	sos := d.cfg.SpeedOfSound
	if sos <= 0 {
		sos = DefaultSpeedOfSound
	}
	div := d.cfg.RoundTripDivisor
	if div <= 0 {
		div = DefaultRoundTripDivisor
	}
	return int32(float32(durationUS) * sos / float32(div))
}
