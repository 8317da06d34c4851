// services/hal/internal/platform/platform_rp2.go
//go:build rp2040 || rp2350

package platform

import (
	"io"
	"machine"
	"sync"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	vendor "tinygo.org/x/drivers/hcsr04"

	hcsr04drv "rangenode-go/drivers/hcsr04"
	"rangenode-go/errcode"
	"rangenode-go/services/hal/internal/core"
)

var _ core.ResourceRegistry = (*rp2Registry)(nil)

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) Number() int { return r.n }

func (r *rp2Pin) ConfigureInput(pull core.Pull) error {
	var mode machine.PinMode
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(b bool) { r.p.Set(b) }
func (r *rp2Pin) Get() bool  { return r.p.Get() }
func (r *rp2Pin) Toggle() {
	if r.p.Get() {
		r.p.Low()
	} else {
		r.p.High()
	}
}

// vendorPulse adapts the tinygo drivers HC-SR04 device. Its echo wait is
// bounded by the driver's fixed ~4 m timeout, so it serves claims that keep
// the default; custom timeouts fall through to the native backend below.
type vendorPulse struct {
	dev vendor.Device
}

func (v *vendorPulse) Ping(timeout time.Duration) (uint32, error) {
	d := v.dev.ReadPulse()
	if d < 0 {
		d = 0
	}
	return uint32(d), nil
}

type rp2Registry struct {
	mu    sync.Mutex
	owner map[int]string
}

func NewRegistry() *rp2Registry {
	return &rp2Registry{owner: map[int]string{}}
}

func (r *rp2Registry) claim(devID string, pins ...int) error {
	for _, n := range pins {
		if n < 0 || n > 29 {
			return errcode.UnknownPin
		}
		if own, taken := r.owner[n]; taken && own != devID {
			return errcode.PinInUse
		}
	}
	for _, n := range pins {
		r.owner[n] = devID
	}
	return nil
}

func (r *rp2Registry) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(devID, pin); err != nil {
		return nil, err
	}
	return &rp2Pin{p: machine.Pin(pin), n: pin}, nil
}

func (r *rp2Registry) ReleaseGPIO(devID string, pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner[pin] == devID {
		delete(r.owner, pin)
	}
}

func (r *rp2Registry) ClaimPulse(devID string, trigPin, echoPin int, echoTimeout time.Duration) (core.PulseSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(devID, trigPin, echoPin); err != nil {
		return nil, err
	}
	if echoTimeout <= 0 || echoTimeout == hcsr04drv.DefaultEchoTimeout {
		dev := vendor.New(machine.Pin(trigPin), machine.Pin(echoPin))
		dev.Configure()
		return &vendorPulse{dev: dev}, nil
	}
	trig := &rp2Pin{p: machine.Pin(trigPin), n: trigPin}
	echo := &rp2Pin{p: machine.Pin(echoPin), n: echoPin}
	trig.ConfigureOutput(false)
	echo.ConfigureInput(core.PullNone)
	return hcsr04drv.NewPinBackend(trig, echo), nil
}

func (r *rp2Registry) ReleasePulse(devID string, trigPin, echoPin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner[trigPin] == devID {
		delete(r.owner, trigPin)
	}
	if r.owner[echoPin] == devID {
		delete(r.owner, echoPin)
	}
}

func DefaultRegistry() core.ResourceRegistry { return NewRegistry() }

// DefaultReportPort configures UART0 on the board's default pins and returns
// it as the report sink.
func DefaultReportPort(baud uint32) io.Writer {
	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: baud,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	return u
}
