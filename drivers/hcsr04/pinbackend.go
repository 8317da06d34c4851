package hcsr04

import "time"

// Trigger pulse shape, per the HC-SR04 datasheet: a clean LOW baseline of at
// least 2 µs, then exactly 10 µs HIGH.
const (
	triggerSettle = 2 * time.Microsecond
	triggerPulse  = 10 * time.Microsecond
)

// Line is the minimal view of a digital pin the backend needs. The trigger
// line must already be configured as an output and the echo line as an input.
type Line interface {
	Set(level bool)
	Get() bool
}

// PinBackend bit-bangs the trigger/echo cycle over two GPIO lines.
// Time sources are injectable so the sequence is testable with a fake clock.
type PinBackend struct {
	Trig Line
	Echo Line

	now   func() time.Time
	sleep func(time.Duration)
}

// NewPinBackend returns a backend over the given lines using the real clock.
func NewPinBackend(trig, echo Line) *PinBackend {
	return &PinBackend{Trig: trig, Echo: echo, now: time.Now, sleep: time.Sleep}
}

// SetClock overrides the time sources. Test hook.
func (b *PinBackend) SetClock(now func() time.Time, sleep func(time.Duration)) {
	b.now = now
	b.sleep = sleep
}

// Ping emits the trigger pulse, then times how long the echo line stays HIGH.
// Both the wait-for-rise and the HIGH phase are bounded by timeout; if either
// bound is exceeded the result is 0 with no error.
func (b *PinBackend) Ping(timeout time.Duration) (uint32, error) {
	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}

	b.Trig.Set(false)
	b.sleep(triggerSettle)
	b.Trig.Set(true)
	b.sleep(triggerPulse)
	b.Trig.Set(false)

	start := b.now()
	for !b.Echo.Get() {
		if b.now().Sub(start) > timeout {
			return 0, nil
		}
	}
	rise := b.now()
	for b.Echo.Get() {
		if b.now().Sub(rise) > timeout {
			return 0, nil
		}
	}
	return uint32(b.now().Sub(rise) / time.Microsecond), nil
}
