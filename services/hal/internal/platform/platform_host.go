// services/hal/internal/platform/platform_host.go
//go:build !rp2040 && !rp2350

package platform

import (
	"io"
	"os"
	"sync"
	"time"

	"rangenode-go/errcode"
	"rangenode-go/services/hal/internal/core"
)

// FakePin implements core.GPIOHandle for host-side tests.
type FakePin struct {
	mu    sync.RWMutex
	n     int
	level bool
	isOut bool
	pull  core.Pull
}

func (f *FakePin) Number() int { return f.n }

func (f *FakePin) ConfigureInput(pull core.Pull) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isOut = false
	f.pull = pull
	return nil
}

func (f *FakePin) ConfigureOutput(initial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isOut = true
	f.level = initial
	return nil
}

func (f *FakePin) Set(b bool) {
	f.mu.Lock()
	f.level = b
	f.mu.Unlock()
}

func (f *FakePin) Get() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *FakePin) Toggle() {
	f.mu.Lock()
	f.level = !f.level
	f.mu.Unlock()
}

// FakePulse implements core.PulseSource with a scripted queue of echo
// durations. An empty queue answers 0 (no echo), matching the hardware's
// timeout behaviour.
type FakePulse struct {
	mu         sync.Mutex
	trig, echo int
	queue      []uint32
	errs       []error
	pings      int
}

func (f *FakePulse) Script(durations ...uint32) {
	f.mu.Lock()
	f.queue = append(f.queue, durations...)
	f.mu.Unlock()
}

func (f *FakePulse) ScriptErr(errs ...error) {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
}

func (f *FakePulse) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *FakePulse) Ping(timeout time.Duration) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return 0, err
	}
	if len(f.queue) == 0 {
		return 0, nil
	}
	d := f.queue[0]
	f.queue = f.queue[1:]
	return d, nil
}

// Registry is the host-side core.ResourceRegistry. Pins spring into
// existence on first claim; claims are exclusive per pin.
type Registry struct {
	mu     sync.Mutex
	pins   map[int]*FakePin
	owner  map[int]string
	pulses map[[2]int]*FakePulse
}

var _ core.ResourceRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		pins:   map[int]*FakePin{},
		owner:  map[int]string{},
		pulses: map[[2]int]*FakePulse{},
	}
}

func (r *Registry) pin(n int) *FakePin {
	p := r.pins[n]
	if p == nil {
		p = &FakePin{n: n}
		r.pins[n] = p
	}
	return p
}

func (r *Registry) claim(devID string, pins ...int) error {
	for _, n := range pins {
		if own, taken := r.owner[n]; taken && own != devID {
			return errcode.PinInUse
		}
	}
	for _, n := range pins {
		r.owner[n] = devID
	}
	return nil
}

func (r *Registry) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(devID, pin); err != nil {
		return nil, err
	}
	return r.pin(pin), nil
}

func (r *Registry) ReleaseGPIO(devID string, pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner[pin] == devID {
		delete(r.owner, pin)
	}
}

func (r *Registry) ClaimPulse(devID string, trigPin, echoPin int, echoTimeout time.Duration) (core.PulseSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(devID, trigPin, echoPin); err != nil {
		return nil, err
	}
	key := [2]int{trigPin, echoPin}
	ps := r.pulses[key]
	if ps == nil {
		ps = &FakePulse{trig: trigPin, echo: echoPin}
		r.pulses[key] = ps
	}
	return ps, nil
}

func (r *Registry) ReleasePulse(devID string, trigPin, echoPin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner[trigPin] == devID {
		delete(r.owner, trigPin)
	}
	if r.owner[echoPin] == devID {
		delete(r.owner, echoPin)
	}
}

// Pin exposes the fake for test scripting; it does not claim.
func (r *Registry) Pin(n int) *FakePin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pin(n)
}

// Pulse exposes the fake pulse source for a pin pair; it does not claim.
func (r *Registry) Pulse(trigPin, echoPin int) *FakePulse {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]int{trigPin, echoPin}
	ps := r.pulses[key]
	if ps == nil {
		ps = &FakePulse{trig: trigPin, echo: echoPin}
		r.pulses[key] = ps
	}
	return ps
}

// DefaultRegistry builds the platform registry for this build target.
func DefaultRegistry() core.ResourceRegistry { return NewRegistry() }

// DefaultReportPort returns the serial sink for report lines. On the host
// that is stdout; baud is ignored.
func DefaultReportPort(baud uint32) io.Writer { return os.Stdout }
