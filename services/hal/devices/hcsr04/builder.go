// services/hal/devices/hcsr04/builder.go
package hcsr04

import (
	"context"
	"time"

	"rangenode-go/errcode"
	"rangenode-go/services/hal/internal/core"
	"rangenode-go/types"

	drv "rangenode-go/drivers/hcsr04"
)

func init() { core.RegisterBuilder("hcsr04", builder{}) }

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, code := core.Decode[types.RangeParams](in.Params)
	if code != "" {
		return nil, code
	}
	if p.TriggerPin < 0 || p.EchoPin < 0 || p.TriggerPin == p.EchoPin {
		return nil, errcode.InvalidParams
	}

	echoTimeout := time.Duration(p.EchoTimeoutMS) * time.Millisecond
	src, err := in.Res.Reg.ClaimPulse(in.ID, p.TriggerPin, p.EchoPin, echoTimeout)
	if err != nil {
		return nil, err
	}

	dev := drv.New(src)
	dev.Configure(drv.Config{
		SpeedOfSound:     p.SpeedOfSound,
		RoundTripDivisor: p.RoundTripDivisor,
		EchoTimeout:      echoTimeout,
		SettlePeriod:     time.Duration(p.SettleMS) * time.Millisecond,
	})

	domain := p.Domain
	if domain == "" {
		domain = "range"
	}
	name := p.Name
	if name == "" {
		name = in.ID
	}
	return &Device{
		id:      in.ID,
		reg:     in.Res.Reg,
		drv:     dev,
		dom:     domain,
		name:    name,
		trigPin: p.TriggerPin,
		echoPin: p.EchoPin,
	}, nil
}
