package hcsr04

import (
	"context"
	"testing"
	"time"

	"rangenode-go/errcode"
	"rangenode-go/services/hal/internal/core"
	"rangenode-go/services/hal/internal/platform"
	"rangenode-go/types"
)

func buildDevice(t *testing.T, reg *platform.Registry, params types.RangeParams) *Device {
	t.Helper()
	d, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID:     "range0",
		Type:   "hcsr04",
		Params: params,
		Res:    core.Resources{Reg: reg},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return d.(*Device)
}

func TestBuildClaimsPins(t *testing.T) {
	reg := platform.NewRegistry()
	d := buildDevice(t, reg, types.RangeParams{TriggerPin: 9, EchoPin: 10})

	if _, err := reg.ClaimGPIO("other", 9); err != errcode.PinInUse {
		t.Fatalf("expected PinInUse for trigger pin, got %v", err)
	}
	if _, err := reg.ClaimGPIO("other", 10); err != errcode.PinInUse {
		t.Fatalf("expected PinInUse for echo pin, got %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := reg.ClaimGPIO("other", 9); err != nil {
		t.Fatalf("trigger pin still claimed after Close: %v", err)
	}
}

func TestBuildRejectsBadParams(t *testing.T) {
	reg := platform.NewRegistry()
	_, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID:     "range0",
		Params: types.RangeParams{TriggerPin: 5, EchoPin: 5},
		Res:    core.Resources{Reg: reg},
	})
	if err != errcode.InvalidParams {
		t.Fatalf("expected InvalidParams for shared pin, got %v", err)
	}
}

func TestBuildDecodesMapParams(t *testing.T) {
	reg := platform.NewRegistry()
	d, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "range0",
		Params: map[string]any{
			"trigger_pin": 9,
			"echo_pin":    10,
		},
		Res: core.Resources{Reg: reg},
	})
	if err != nil {
		t.Fatalf("Build from map params: %v", err)
	}
	info := d.Capabilities()[0].Info.Detail.(types.RangeInfo)
	if info.TriggerPin != 9 || info.EchoPin != 10 {
		t.Fatalf("info %+v", info)
	}
	if info.EchoTimeoutMS != 24 {
		t.Fatalf("expected default 24 ms echo timeout in info, got %d", info.EchoTimeoutMS)
	}
}

func TestMeasureEmitsDistance(t *testing.T) {
	reg := platform.NewRegistry()
	d := buildDevice(t, reg, types.RangeParams{TriggerPin: 9, EchoPin: 10, SettleMS: -1})
	reg.Pulse(9, 10).Script(5830)

	s, err := d.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if len(s) != 1 || s[0].Kind != "distance" {
		t.Fatalf("sample %+v", s)
	}
	v := s[0].Payload.(types.RangeValue)
	if v.DurationUS != 5830 || v.DistanceCM != 99 {
		t.Fatalf("value %+v", v)
	}
}

func TestMeasureNoEchoIsZero(t *testing.T) {
	reg := platform.NewRegistry()
	d := buildDevice(t, reg, types.RangeParams{TriggerPin: 9, EchoPin: 10, SettleMS: -1})
	// no scripted echo: the pulse source times out and answers 0

	s, err := d.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	v := s[0].Payload.(types.RangeValue)
	if v.DurationUS != 0 || v.DistanceCM != 0 {
		t.Fatalf("expected zero value on timeout, got %+v", v)
	}
}

func TestMeasureInsideSettleWindowNotReady(t *testing.T) {
	reg := platform.NewRegistry()
	d := buildDevice(t, reg, types.RangeParams{TriggerPin: 9, EchoPin: 10, SettleMS: 60})
	reg.Pulse(9, 10).Script(1000, 1000)

	if _, err := d.Measure(context.Background()); err != nil {
		t.Fatalf("first Measure: %v", err)
	}
	if _, err := d.Measure(context.Background()); err != core.ErrNotReady {
		t.Fatalf("expected ErrNotReady inside settle window, got %v", err)
	}
	time.Sleep(70 * time.Millisecond)
	if _, err := d.Measure(context.Background()); err != nil {
		t.Fatalf("Measure after settle window: %v", err)
	}
}

func TestDefaultInterval(t *testing.T) {
	reg := platform.NewRegistry()
	d := buildDevice(t, reg, types.RangeParams{TriggerPin: 9, EchoPin: 10})
	if d.DefaultInterval() != 500*time.Millisecond {
		t.Fatalf("DefaultInterval %v", d.DefaultInterval())
	}
}
