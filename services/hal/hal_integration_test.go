// services/hal/hal_integration_test.go
package hal

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"rangenode-go/bus"
	"rangenode-go/services/hal/internal/platform"
	"rangenode-go/services/reporter"
	"rangenode-go/types"
)

func waitForState(t *testing.T, sub *bus.Subscription, level string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			st, ok := msg.Payload.(types.HALState)
			if ok && st.Level == level {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for hal state %q", level)
		}
	}
}

func TestHAL_EndToEnd_Ranging(t *testing.T) {
	b := bus.NewBus(128)
	halConn := b.NewConnection("hal")
	tc := b.NewConnection("test")

	reg := platform.NewRegistry()
	reg.Pulse(9, 10).Script(5830, 1000, 1000, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	go Run(ctx, halConn, reg)

	stateSub := tc.Subscribe(bus.T("hal", "state"))
	defer tc.Unsubscribe(stateSub)
	valueSub := tc.Subscribe(bus.T("hal", "cap", "range", "distance", "range0", "value"))
	defer tc.Unsubscribe(valueSub)
	statusSub := tc.Subscribe(bus.T("hal", "cap", "range", "distance", "range0", "status"))
	defer tc.Unsubscribe(statusSub)
	defer cancel()

	waitForState(t, stateSub, "idle")

	// Control before configuration is rejected.
	req := tc.NewMessage(bus.T("hal", "cap", "range", "distance", "range0", "control", "read"), nil, false)
	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	reply, err := tc.RequestWait(rctx, req)
	rcancel()
	if err != nil {
		t.Fatalf("RequestWait before config: %v", err)
	}
	if er, ok := reply.Payload.(types.ErrorReply); !ok || er.OK {
		t.Fatalf("expected error reply before config, got %+v", reply.Payload)
	}

	tc.Publish(tc.NewMessage(bus.T("config", "hal"), types.HALConfig{
		Devices: []types.HALDevice{{
			ID:   "range0",
			Type: "hcsr04",
			Params: map[string]any{
				"trigger_pin": 9,
				"echo_pin":    10,
				"settle_ms":   -1,
			},
		}},
		Pollers: []types.PollSpec{{
			Domain: "range", Kind: "distance", Name: "range0",
			Verb: "read", IntervalMS: 60,
		}},
	}, true))

	waitForState(t, stateSub, "ready")

	// First scheduled poll delivers the scripted echo.
	select {
	case msg := <-valueSub.Channel():
		v, ok := msg.Payload.(types.RangeValue)
		if !ok {
			t.Fatalf("value payload %T", msg.Payload)
		}
		if v.DurationUS != 5830 || v.DistanceCM != 99 {
			t.Fatalf("value %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first value")
	}

	// Status reaches link:up once a reading lands.
	deadline := time.After(2 * time.Second)
	for up := false; !up; {
		select {
		case msg := <-statusSub.Channel():
			if st, ok := msg.Payload.(types.CapabilityStatus); ok && st.Link == types.LinkUp {
				up = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for status up")
		}
	}

	// On-demand read replies ok and produces another value.
	req = tc.NewMessage(bus.T("hal", "cap", "range", "distance", "range0", "control", "read"), nil, false)
	rctx, rcancel = context.WithTimeout(ctx, time.Second)
	reply, err = tc.RequestWait(rctx, req)
	rcancel()
	if err != nil {
		t.Fatalf("RequestWait read: %v", err)
	}
	if okr, ok := reply.Payload.(types.OKReply); !ok || !okr.OK {
		t.Fatalf("expected ok reply, got %+v", reply.Payload)
	}

	// Unknown capability is rejected.
	req = tc.NewMessage(bus.T("hal", "cap", "range", "distance", "nope", "control", "read"), nil, false)
	rctx, rcancel = context.WithTimeout(ctx, time.Second)
	reply, err = tc.RequestWait(rctx, req)
	rcancel()
	if err != nil {
		t.Fatalf("RequestWait unknown cap: %v", err)
	}
	if er, ok := reply.Payload.(types.ErrorReply); !ok || er.OK || er.Error != "unknown_capability" {
		t.Fatalf("expected unknown_capability, got %+v", reply.Payload)
	}
}

func TestHAL_SetRateControl(t *testing.T) {
	b := bus.NewBus(128)
	halConn := b.NewConnection("hal")
	tc := b.NewConnection("test")

	reg := platform.NewRegistry()
	ps := reg.Pulse(9, 10)
	ps.Script(1000, 1000, 1000, 1000, 1000, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	go Run(ctx, halConn, reg)

	stateSub := tc.Subscribe(bus.T("hal", "state"))
	defer tc.Unsubscribe(stateSub)
	defer cancel()

	waitForState(t, stateSub, "idle")

	// No declarative poller: the device's 500 ms default applies until
	// set_rate overrides it.
	tc.Publish(tc.NewMessage(bus.T("config", "hal"), types.HALConfig{
		Devices: []types.HALDevice{{
			ID:   "range0",
			Type: "hcsr04",
			Params: map[string]any{
				"trigger_pin": 9,
				"echo_pin":    10,
				"settle_ms":   -1,
			},
		}},
	}, true))
	waitForState(t, stateSub, "ready")

	req := tc.NewMessage(
		bus.T("hal", "cap", "range", "distance", "range0", "control", "set_rate"),
		types.PollStart{Verb: "read", IntervalMS: 60},
		false,
	)
	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	reply, err := tc.RequestWait(rctx, req)
	rcancel()
	if err != nil {
		t.Fatalf("RequestWait set_rate: %v", err)
	}
	if okr, ok := reply.Payload.(types.OKReply); !ok || !okr.OK {
		t.Fatalf("expected ok reply, got %+v", reply.Payload)
	}

	// Two pings should land well inside a second at the new cadence.
	deadline := time.Now().Add(time.Second)
	for ps.Pings() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected >=2 pings after set_rate, got %d", ps.Pings())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type lineBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// A 5830 µs echo must come out of the report port as "Distance: 99 cm".
func TestSystem_EndToEnd_DistanceLine(t *testing.T) {
	b := bus.NewBus(128)
	halConn := b.NewConnection("hal")
	repConn := b.NewConnection("reporter")
	tc := b.NewConnection("test")

	reg := platform.NewRegistry()
	reg.Pulse(9, 10).Script(5830)

	out := &lineBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, halConn, reg)
	go reporter.New(repConn, func(baud uint32) io.Writer { return out }).Run(ctx)

	stateSub := tc.Subscribe(bus.T("hal", "state"))
	defer tc.Unsubscribe(stateSub)

	waitForState(t, stateSub, "idle")

	tc.Publish(tc.NewMessage(bus.T("config", "hal"), types.HALConfig{
		Devices: []types.HALDevice{{
			ID:   "range0",
			Type: "hcsr04",
			Params: map[string]any{
				"trigger_pin": 9,
				"echo_pin":    10,
			},
		}},
		Pollers: []types.PollSpec{{
			Domain: "range", Kind: "distance", Name: "range0",
			Verb: "read", IntervalMS: 60,
		}},
	}, true))

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "Distance: 99 cm\n") {
		if time.Now().After(deadline) {
			t.Fatalf("report output %q lacks distance line", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
