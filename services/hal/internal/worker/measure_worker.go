// services/hal/internal/worker/measure_worker.go
package worker

import (
	"context"
	"time"

	"rangenode-go/services/hal/internal/core"
	"rangenode-go/services/hal/internal/util"
)

// Config tunes the measure worker. Zero fields take the defaults below.
type Config struct {
	MeasureTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	QueueSize      int
}

// MeasureWorker services MeasureReqs one device at a time. A device that
// answers core.ErrNotReady (e.g. an ultrasonic sensor still inside its
// settle window) is re-run after RetryBackoff, up to MaxRetries times.
type MeasureWorker struct {
	cfg  Config
	reqQ chan core.MeasureReq
	sink chan<- core.Result // fan-in sink owned by HAL

	pending map[string]*retryItem
	want    map[string]bool // prio re-read requested while pending
	retries []*retryItem
	timer   *time.Timer
}

type retryItem struct {
	id      string
	m       core.Measurer
	due     time.Time
	retries int
}

func New(cfg Config, sink chan<- core.Result) *MeasureWorker {
	if cfg.MeasureTimeout <= 0 {
		cfg.MeasureTimeout = 100 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &MeasureWorker{
		cfg:     cfg,
		reqQ:    make(chan core.MeasureReq, cfg.QueueSize),
		sink:    sink,
		pending: map[string]*retryItem{},
		want:    map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

// Submit enqueues a request. A full queue drops scheduled requests but gives
// prio (on-demand) requests a short grace period before reporting false.
func (w *MeasureWorker) Submit(req core.MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Prio {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}
}

func (w *MeasureWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		util.DrainTimer(w.timer)
	}
	go w.run(ctx)
}

func (w *MeasureWorker) run(ctx context.Context) {
	for {
		if next := w.minDue(); next.IsZero() {
			util.ResetTimer(w.timer, time.Hour)
		} else {
			util.ResetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				// Already retrying; remember the prio ask instead of stacking.
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			w.measure(ctx, &retryItem{id: req.ID, m: req.M})
		case <-w.timer.C:
			now := time.Now()
			due := w.retries
			w.retries = nil
			for _, it := range due {
				if now.Before(it.due) {
					w.retries = append(w.retries, it)
					continue
				}
				// measure re-parks the item itself if another retry is needed
				w.measure(ctx, it)
			}
		}
	}
}

// measure runs one attempt and either emits a result, or parks the item for
// a backed-off retry when the device reports ErrNotReady.
func (w *MeasureWorker) measure(ctx context.Context, it *retryItem) {
	mctx, cancel := context.WithTimeout(ctx, w.cfg.MeasureTimeout)
	s, err := it.m.Measure(mctx)
	cancel()
	switch {
	case err == nil:
		delete(w.pending, it.id)
		rearm := w.want[it.id]
		delete(w.want, it.id)
		w.emit(core.Result{ID: it.id, Sample: s})
		if rearm {
			it.retries = 0
			it.due = time.Now().Add(w.cfg.RetryBackoff)
			w.pending[it.id] = it
			w.retries = append(w.retries, it)
		}
	case err == core.ErrNotReady && it.retries < w.cfg.MaxRetries:
		it.retries++
		it.due = time.Now().Add(w.cfg.RetryBackoff)
		w.pending[it.id] = it
		w.retries = append(w.retries, it)
	default:
		delete(w.pending, it.id)
		delete(w.want, it.id)
		w.emit(core.Result{ID: it.id, Err: err})
	}
}

func (w *MeasureWorker) emit(r core.Result) {
	select {
	case w.sink <- r:
	default:
		w.sink <- r
	}
}

func (w *MeasureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.retries {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}
