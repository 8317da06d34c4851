// services/hal/hal.go
package hal

import (
	"context"
	"io"

	"rangenode-go/bus"
	"rangenode-go/services/hal/internal/core"
	"rangenode-go/services/hal/internal/platform"
	"rangenode-go/services/hal/internal/worker"

	// Device builders register themselves.
	_ "rangenode-go/services/hal/devices/hcsr04"
)

// Re-exported so callers outside the service can hand in a registry without
// importing internal packages.
type ResourceRegistry = core.ResourceRegistry

// DefaultRegistry builds the hardware registry for this build target:
// machine pins on rp2, scriptable fakes on the host.
func DefaultRegistry() ResourceRegistry { return platform.DefaultRegistry() }

// DefaultReportPort opens the build target's serial report sink at the given
// baud rate (UART0 on rp2, stdout on the host).
func DefaultReportPort(baud uint32) io.Writer { return platform.DefaultReportPort(baud) }

// Run starts the HAL service on the given connection. It consumes retained
// config from config/hal, exposes capabilities under hal/cap/..., and blocks
// until ctx is cancelled.
func Run(ctx context.Context, conn *bus.Connection, reg ResourceRegistry) {
	results := core.NewResultSink()
	w := worker.New(worker.Config{}, results)
	h := core.NewHAL(conn, core.Resources{Reg: reg}, w, results)
	h.Run(ctx)
}
