// services/hal/devices/hcsr04/device.go
package hcsr04

import (
	"context"
	"time"

	"rangenode-go/errcode"
	"rangenode-go/services/hal/internal/core"
	"rangenode-go/types"
	"rangenode-go/x/timex"

	drv "rangenode-go/drivers/hcsr04"
)

// Device owns one claimed trigger/echo pin pair and its driver.
type Device struct {
	id   string
	reg  core.ResourceRegistry
	drv  drv.Device
	dom  string
	name string

	trigPin int
	echoPin int
}

var (
	_ core.Device         = (*Device)(nil)
	_ core.Measurer       = (*Device)(nil)
	_ core.IntervalHinter = (*Device)(nil)
)

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.dom,
		Kind:   types.KindDistance,
		Name:   d.name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "hcsr04",
			Detail: types.RangeInfo{
				TriggerPin:    d.trigPin,
				EchoPin:       d.echoPin,
				EchoTimeoutMS: int(d.drv.EchoTimeout() / time.Millisecond),
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error { return nil }

func (d *Device) Close() error {
	d.reg.ReleasePulse(d.id, d.trigPin, d.echoPin)
	return nil
}

// Measure runs one ranging cycle. Inside the sensor's settle window it
// reports core.ErrNotReady so the worker retries after backoff.
func (d *Device) Measure(ctx context.Context) (core.Sample, error) {
	dur, err := d.drv.ReadPulse()
	if err == drv.ErrNotReady {
		return nil, core.ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	return core.Sample{{
		Kind: string(types.KindDistance),
		Payload: types.RangeValue{
			DurationUS: dur,
			DistanceCM: d.drv.DistanceCM(dur),
		},
		TSms: timex.NowMs(),
	}}, nil
}

func (d *Device) DefaultInterval() time.Duration { return 500 * time.Millisecond }

func (d *Device) Control(_ core.CapAddr, verb string, _ any) (core.EnqueueResult, error) {
	// "read" and the poll verbs are serviced by HAL; nothing device-direct yet.
	return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
}
