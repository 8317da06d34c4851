package types

// ------------------------
// Capability addressing & kinds
// ------------------------

type Kind string

const (
	KindDistance Kind = "distance"
)

// CapabilityAddress identifies a public capability on the bus.
type CapabilityAddress struct {
	Domain string `json:"domain"` // e.g. "range"
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	TSms   int64  `json:"ts_ms"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TSms  int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"` // machine-readable short code
}

// Info envelope each device/cap exposes (retained).
type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"`
}

// ------------------------
// Ranging capability
// ------------------------

// RangeParams is the device-level config shape for an HC-SR04 sensor.
// TriggerPin and EchoPin are required; everything else has datasheet-derived
// defaults applied by the driver.
type RangeParams struct {
	TriggerPin int `json:"trigger_pin"`
	EchoPin    int `json:"echo_pin"`

	// SpeedOfSound in cm/µs. Zero means the 0.0343 default.
	SpeedOfSound float32 `json:"speed_of_sound,omitempty"`
	// RoundTripDivisor accounts for the out-and-back travel. Zero means 2.
	RoundTripDivisor int32 `json:"round_trip_divisor,omitempty"`
	// EchoTimeoutMS bounds the echo wait; the measurement yields a duration
	// of 0 when it elapses. Zero means the ~4 m default (24 ms).
	EchoTimeoutMS int `json:"echo_timeout_ms,omitempty"`
	// SettleMS is the minimum spacing between pings. Zero means 60 ms.
	SettleMS int `json:"settle_ms,omitempty"`

	Domain string `json:"domain,omitempty"` // default "range"
	Name   string `json:"name,omitempty"`   // default device id
}

// RangeInfo is published under hal/cap/.../info as Info.Detail.
type RangeInfo struct {
	TriggerPin    int `json:"trigger_pin"`
	EchoPin       int `json:"echo_pin"`
	EchoTimeoutMS int `json:"echo_timeout_ms"`
}

// RangeValue is published under hal/cap/.../value (retained).
// DistanceCM is derived from DurationUS within the same cycle; a zero
// duration (no echo before timeout) yields a zero distance.
type RangeValue struct {
	DurationUS uint32 `json:"duration_us"`
	DistanceCM int32  `json:"distance_cm"`
}

// ------------------------
// Polling (control + declarative)
// ------------------------

// PollStart is the strictly-typed payload for starting/updating a schedule.
type PollStart struct {
	Verb       string `json:"verb"`        // e.g. "read"
	IntervalMS uint32 `json:"interval_ms"` // >0
	JitterMS   uint16 `json:"jitter_ms"`   // uniform [0..JitterMS]
}

// PollStop is the strictly-typed payload for stopping a schedule.
// If Verb is empty, it is treated as "read".
type PollStop struct {
	Verb string `json:"verb,omitempty"`
}

// PollSpec is a declarative, config-time schedule attached to HALConfig.
// HAL applies these at startup (and whenever a new config is applied).
type PollSpec struct {
	Domain     string `json:"domain"`      // e.g. "range"
	Kind       string `json:"kind"`        // e.g. "distance"
	Name       string `json:"name"`        // e.g. "range0"
	Verb       string `json:"verb"`        // typically "read"
	IntervalMS uint32 `json:"interval_ms"` // >0
	JitterMS   uint16 `json:"jitter_ms,omitempty"`
}

// ------------------------
// Public HAL configuration
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices"`
	Pollers []PollSpec  `json:"pollers,omitempty"`
}

type HALDevice struct {
	ID     string `json:"id"`     // logical device id, e.g. "range0"
	Type   string `json:"type"`   // e.g. "hcsr04"
	Params any    `json:"params"` // device-specific params (JSON-like)
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
