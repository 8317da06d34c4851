package core

import "time"

// ---- GPIO handles ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(bool)
	Get() bool
	Toggle()
}

// ---- Pulse measurement ----

// PulseSource measures one trigger/echo cycle on a claimed pin pair:
// emit the trigger pulse, then time the echo line's HIGH phase.
// It returns microseconds, or 0 with no error when the upper-bound timeout
// elapses first.
type PulseSource interface {
	Ping(timeout time.Duration) (durationUS uint32, err error)
}

// ---- Unified registry interface ----

// ResourceRegistry hands out claimed hardware resources. Claims are exclusive
// per pin; a second claim fails with errcode.PinInUse.
type ResourceRegistry interface {
	// GPIO
	ClaimGPIO(devID string, pin int) (GPIOHandle, error)
	ReleaseGPIO(devID string, pin int)

	// Pulse pairs (claims both pins)
	ClaimPulse(devID string, trigPin, echoPin int, echoTimeout time.Duration) (PulseSource, error)
	ReleasePulse(devID string, trigPin, echoPin int)
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL; devices use it to emit values
}
