package core

import (
	"context"
	"errors"
	"time"

	"rangenode-go/errcode"
	"rangenode-go/types"
)

// ---- Capability & device model ----

type CapAddr struct {
	Domain string
	Kind   string
	Name   string
}

type CapabilitySpec struct {
	Domain string
	Kind   types.Kind
	Name   string
	Info   types.Info
}

// EnqueueResult is a device's synchronous answer to a control verb.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
}

// Device is a configured hardware endpoint owned by HAL.
type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	Control(addr CapAddr, verb string, payload any) (EnqueueResult, error)
	Close() error // release claimed resources
}

// Measurer is implemented by devices that produce samples on demand.
// Measure blocks for at most the worker's measure timeout; it returns
// ErrNotReady when the hardware needs more time (the worker retries).
type Measurer interface {
	Measure(ctx context.Context) (Sample, error)
}

// IntervalHinter lets a device suggest its default polling cadence.
type IntervalHinter interface {
	DefaultInterval() time.Duration
}

// ErrNotReady signals the worker to retry Measure after backoff.
var ErrNotReady = errors.New("not ready")

// ---- Samples (worker → HAL) ----

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    string
	Payload any
	TSms    int64
}

// Sample is a batch of readings collected together.
type Sample []Reading

// MeasureReq asks the worker to service a device.
type MeasureReq struct {
	ID   string
	M    Measurer
	Prio bool // true for an on-demand "read"
}

// Result emitted by the worker.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

// ---- Device → HAL telemetry ----

// Event is a value-like update for a capability. HAL publishes the payload to
// .../value (retained); a non-empty Err instead publishes .../status=degraded.
type Event struct {
	Addr    CapAddr
	Payload any
	TSms    int64
	Err     string
}

// EventEmitter is provided by HAL; devices use it to emit values.
// Emit must be non-blocking; false indicates a drop under pressure.
type EventEmitter interface {
	Emit(ev Event) bool
}

// ---- Builder registry input ----

type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}
