package reporter

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"rangenode-go/bus"
	"rangenode-go/types"
)

type safeBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func waitContains(t *testing.T, buf *safeBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output %q does not contain %q", buf.String(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReporterPrintsDistanceLine(t *testing.T) {
	b := bus.NewBus(64)
	conn := b.NewConnection("reporter")
	tc := b.NewConnection("test")

	buf := &safeBuffer{}
	svc := New(conn, func(baud uint32) io.Writer { return buf })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// Give Run a moment to subscribe before publishing non-retained... the
	// value topic is retained in practice, so publish retained here too.
	tc.Publish(tc.NewMessage(
		bus.T("hal", "cap", "range", "distance", "range0", "value"),
		types.RangeValue{DurationUS: 5830, DistanceCM: 99},
		true,
	))

	waitContains(t, buf, "Distance: 99 cm\n")
}

func TestReporterIgnoresForeignPayloads(t *testing.T) {
	b := bus.NewBus(64)
	conn := b.NewConnection("reporter")
	tc := b.NewConnection("test")

	buf := &safeBuffer{}
	svc := New(conn, func(baud uint32) io.Writer { return buf })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	tc.Publish(tc.NewMessage(
		bus.T("hal", "cap", "range", "distance", "range0", "value"),
		"not a range value",
		true,
	))
	tc.Publish(tc.NewMessage(
		bus.T("hal", "cap", "range", "distance", "range0", "value"),
		types.RangeValue{DurationUS: 1000, DistanceCM: 17},
		true,
	))

	waitContains(t, buf, "Distance: 17 cm\n")
	if strings.Contains(buf.String(), "not a range value") {
		t.Fatalf("foreign payload leaked into output: %q", buf.String())
	}
}

func TestReporterReopensOnBaudConfig(t *testing.T) {
	b := bus.NewBus(64)
	conn := b.NewConnection("reporter")
	tc := b.NewConnection("test")

	var mu sync.Mutex
	var bauds []uint32
	buf := &safeBuffer{}
	svc := New(conn, func(baud uint32) io.Writer {
		mu.Lock()
		bauds = append(bauds, baud)
		mu.Unlock()
		return buf
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	tc.Publish(tc.NewMessage(bus.T("config", "reporter"), map[string]any{"baud": 115200}, true))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(bauds)
		var last uint32
		if n > 0 {
			last = bauds[n-1]
		}
		mu.Unlock()
		if n >= 2 && last == 115200 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("port never reopened at 115200, opens: %v", bauds)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReporterZeroDistance(t *testing.T) {
	b := bus.NewBus(64)
	conn := b.NewConnection("reporter")
	tc := b.NewConnection("test")

	buf := &safeBuffer{}
	svc := New(conn, func(baud uint32) io.Writer { return buf })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	tc.Publish(tc.NewMessage(
		bus.T("hal", "cap", "range", "distance", "range0", "value"),
		types.RangeValue{},
		true,
	))

	waitContains(t, buf, "Distance: 0 cm\n")
}
