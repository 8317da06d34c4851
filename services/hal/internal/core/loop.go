package core

import (
	"context"
	"time"

	"rangenode-go/bus"
	"rangenode-go/errcode"
	"rangenode-go/services/hal/internal/util"
	"rangenode-go/types"
	"rangenode-go/x/jsonx"
	"rangenode-go/x/timex"
)

const (
	eventQueueLen  = 16
	resultQueueLen = 16
	pollQueueLen   = 16

	// Polling cadence bounds for set_rate, in milliseconds. The floor keeps a
	// schedule from outrunning the sensor's settle window.
	minPollMS = 60
	maxPollMS = 3_600_000

	defaultPollInterval = 500 * time.Millisecond
)

type capKey struct {
	domain string
	kind   string
	name   string
}

// MeasureSubmitter is the slice of the worker HAL drives. Satisfied by
// *worker.MeasureWorker; tests swap in fakes.
type MeasureSubmitter interface {
	Submit(req MeasureReq) bool
	Start(ctx context.Context)
}

type HAL struct {
	conn *bus.Connection
	res  Resources

	dev      map[string]Device // devID -> device
	devCaps  map[string][]CapAddr
	capIndex map[capKey]string // (domain,kind,name) -> devID

	worker  MeasureSubmitter
	results chan Result

	poller *Poller
	pollCh chan PollReq

	cfgSub  *bus.Subscription
	ctrlSub *bus.Subscription

	// Single-threaded publication of device events
	evCh chan Event
}

// NewResultSink makes the channel shared between the worker (producer) and
// HAL (consumer); build the worker against it, then pass both to NewHAL.
func NewResultSink() chan Result { return make(chan Result, resultQueueLen) }

func NewHAL(conn *bus.Connection, res Resources, w MeasureSubmitter, results chan Result) *HAL {
	h := &HAL{
		conn:     conn,
		res:      res,
		dev:      map[string]Device{},
		devCaps:  map[string][]CapAddr{},
		capIndex: map[capKey]string{},
		worker:   w,
		results:  results,
		pollCh:   make(chan PollReq, pollQueueLen),
		evCh:     make(chan Event, eventQueueLen),
	}
	h.poller = NewPoller(h.pollCh)
	// HAL provides the emitter to devices.
	h.res.Pub = h
	return h
}

func (h *HAL) Run(ctx context.Context) {
	h.cfgSub = h.conn.Subscribe(topicConfigHAL())
	h.ctrlSub = h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(h.cfgSub)
	defer h.conn.Unsubscribe(h.ctrlSub)

	h.worker.Start(ctx)
	go h.poller.Run(ctx)

	h.pubHALState("idle", "awaiting_config")

	ready := false
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.pubHALState("stopped", "context_cancelled")
			return
		case msg := <-h.cfgSub.Channel():
			var cfg types.HALConfig
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				h.pubHALState("error", "config_decode_failed")
				continue
			}
			h.applyConfig(ctx, cfg)
			if !ready {
				ready = true
			}
			h.pubHALState("ready", "configured")
		case m := <-h.ctrlSub.Channel():
			if !ready {
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m) // strictly non-blocking
		case r := <-h.results:
			h.handleResult(r)
		case pr := <-h.pollCh:
			h.handlePoll(pr)
		case ev := <-h.evCh:
			// All device→HAL telemetry is published from this goroutine.
			h.handleEvent(ev)
		}
	}
}

func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	seen := map[string]bool{}
	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		seen[dc.ID] = true
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			println("[hal] no builder for type:", dc.Type, "id:", dc.ID)
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{
			ID:     dc.ID,
			Type:   dc.Type,
			Params: dc.Params,
			Res:    h.res,
		})
		if err != nil {
			println("[hal] build failed for:", dc.ID, "err:", err.Error())
			continue
		}
		if err := dev.Init(ctx); err != nil {
			println("[hal] init failed for:", dc.ID)
			dev.Close()
			continue
		}
		h.dev[dev.ID()] = dev
		h.registerCaps(dev)
	}

	// Declarative poll schedules from the config.
	for _, ps := range cfg.Pollers {
		if ps.IntervalMS == 0 {
			continue
		}
		addr := CapAddr{Domain: ps.Domain, Kind: ps.Kind, Name: ps.Name}
		verb := ps.Verb
		if verb == "" {
			verb = "read"
		}
		ms := util.ClampInt(int(ps.IntervalMS), minPollMS, maxPollMS)
		h.poller.Upsert(addr, verb, time.Duration(ms)*time.Millisecond,
			time.Duration(ps.JitterMS)*time.Millisecond)
	}

	// Default cadence for measurable devices the config left unscheduled.
	for id, dev := range h.dev {
		if _, isM := dev.(Measurer); !isM {
			continue
		}
		every := defaultPollInterval
		if hinter, ok := dev.(IntervalHinter); ok {
			if d := hinter.DefaultInterval(); d > 0 {
				every = d
			}
		}
		for _, addr := range h.devCaps[id] {
			if !h.scheduledInConfig(cfg, addr) {
				h.poller.Upsert(addr, "read", every, 0)
			}
		}
	}

	// Tidy pass: drop devices the new config no longer names.
	for id, dev := range h.dev {
		if seen[id] {
			continue
		}
		h.removeDevice(id, dev)
	}
}

func (h *HAL) scheduledInConfig(cfg types.HALConfig, addr CapAddr) bool {
	for _, ps := range cfg.Pollers {
		if ps.Domain == addr.Domain && ps.Kind == addr.Kind && ps.Name == addr.Name {
			return true
		}
	}
	return false
}

func (h *HAL) registerCaps(dev Device) {
	for _, cs := range dev.Capabilities() {
		k := string(cs.Kind)
		domain := cs.Domain
		if domain == "" {
			domain = defaultDomainFor(k)
		}
		name := cs.Name
		if name == "" {
			name = dev.ID()
		}
		addr := CapAddr{Domain: domain, Kind: k, Name: name}
		h.capIndex[capKey{domain: domain, kind: k, name: name}] = dev.ID()
		h.devCaps[dev.ID()] = append(h.devCaps[dev.ID()], addr)

		h.conn.Publish(h.conn.NewMessage(capInfo(domain, k, name), cs.Info, true))
		// Initial status (retained): no reading yet.
		h.conn.Publish(h.conn.NewMessage(
			capStatus(domain, k, name),
			types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
			true,
		))
	}
}

func (h *HAL) removeDevice(id string, dev Device) {
	for _, addr := range h.devCaps[id] {
		h.poller.StopAll(addr)
		delete(h.capIndex, capKey{domain: addr.Domain, kind: addr.Kind, name: addr.Name})
		// Clear the retained value, leave a final status:down.
		h.conn.Publish(h.conn.NewMessage(capValue(addr.Domain, addr.Kind, addr.Name), nil, true))
		h.conn.Publish(h.conn.NewMessage(
			capStatus(addr.Domain, addr.Kind, addr.Name),
			types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
			true,
		))
	}
	delete(h.devCaps, id)
	delete(h.dev, id)
	if err := dev.Close(); err != nil {
		println("[hal] close failed for:", id)
	}
}

func (h *HAL) closeAll() {
	for id, dev := range h.dev {
		h.removeDevice(id, dev)
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() < 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	ownerID, ok := h.capIndex[capKey{domain: domain, kind: kind, name: name}]
	if !ok {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}
	dev := h.dev[ownerID]
	if dev == nil {
		h.replyErr(msg, errcode.Error)
		return
	}
	addr := CapAddr{Domain: domain, Kind: kind, Name: name}

	switch verb {
	case "read":
		m, isM := dev.(Measurer)
		if !isM {
			h.replyErr(msg, errcode.Unsupported)
			return
		}
		if !h.worker.Submit(MeasureReq{ID: ownerID, M: m, Prio: true}) {
			h.replyErr(msg, errcode.Busy)
			return
		}
		h.poller.BumpAfter(addr, "read", time.Now().UnixNano())
		h.replyOK(msg)
		return

	case "set_rate":
		p, code := Decode[types.PollStart](msg.Payload)
		if code != "" {
			h.replyErr(msg, code)
			return
		}
		if p.IntervalMS == 0 {
			h.replyErr(msg, errcode.InvalidParams)
			return
		}
		pollVerb := p.Verb
		if pollVerb == "" {
			pollVerb = "read"
		}
		ms := util.ClampInt(int(p.IntervalMS), minPollMS, maxPollMS)
		h.poller.Upsert(addr, pollVerb, time.Duration(ms)*time.Millisecond,
			time.Duration(p.JitterMS)*time.Millisecond)
		h.replyOK(msg)
		return

	case "poll_stop":
		p, code := Decode[types.PollStop](msg.Payload)
		if code != "" {
			h.replyErr(msg, code)
			return
		}
		pollVerb := p.Verb
		if pollVerb == "" {
			pollVerb = "read"
		}
		h.poller.Stop(addr, pollVerb)
		h.replyOK(msg)
		return
	}

	// Everything else goes to the device.
	res, err := dev.Control(addr, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if !msg.CanReply() {
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.conn.Reply(msg, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func (h *HAL) handlePoll(pr PollReq) {
	ownerID, ok := h.capIndex[capKey{domain: pr.Addr.Domain, kind: pr.Addr.Kind, name: pr.Addr.Name}]
	if !ok {
		h.poller.StopAll(pr.Addr)
		return
	}
	dev := h.dev[ownerID]
	if pr.Verb == "read" {
		if m, isM := dev.(Measurer); isM {
			h.worker.Submit(MeasureReq{ID: ownerID, M: m})
		}
		return
	}
	dev.Control(pr.Addr, pr.Verb, nil)
}

func (h *HAL) handleResult(r Result) {
	addrs := h.devCaps[r.ID]
	if len(addrs) == 0 {
		return
	}
	if r.Err != nil {
		code := errcode.Of(r.Err)
		if r.Err == ErrNotReady {
			code = errcode.NotReady
		}
		ts := timex.NowMs()
		for _, addr := range addrs {
			h.conn.Publish(h.conn.NewMessage(
				capStatus(addr.Domain, addr.Kind, addr.Name),
				types.CapabilityStatus{Link: types.LinkDegraded, TSms: ts, Error: string(code)},
				true,
			))
		}
		return
	}
	for _, reading := range r.Sample {
		for _, addr := range addrs {
			if addr.Kind != reading.Kind {
				continue
			}
			h.conn.Publish(h.conn.NewMessage(
				capValue(addr.Domain, addr.Kind, addr.Name), reading.Payload, true))
			h.conn.Publish(h.conn.NewMessage(
				capStatus(addr.Domain, addr.Kind, addr.Name),
				types.CapabilityStatus{Link: types.LinkUp, TSms: reading.TSms},
				true,
			))
		}
	}
}

func (h *HAL) handleEvent(ev Event) {
	d := ev.Addr.Domain
	k := ev.Addr.Kind
	n := ev.Addr.Name

	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			capStatus(d, k, n),
			types.CapabilityStatus{Link: types.LinkDegraded, TSms: ev.TSms, Error: ev.Err},
			true,
		))
		return
	}
	h.conn.Publish(h.conn.NewMessage(capValue(d, k, n), ev.Payload, true))
	h.conn.Publish(h.conn.NewMessage(
		capStatus(d, k, n),
		types.CapabilityStatus{Link: types.LinkUp, TSms: ev.TSms},
		true,
	))
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		topicHALState(),
		types.HALState{Level: level, Status: status, TSms: timex.NowMs()},
		true,
	))
}

func defaultDomainFor(kind string) string {
	switch kind {
	case "distance":
		return "range"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}
