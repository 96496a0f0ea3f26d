package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flamerun/flame/internal/constants"
	"github.com/flamerun/flame/internal/events/bus"
	"github.com/flamerun/flame/internal/logger"
)

// Sink persists a recorded event. *store.Store satisfies this with its
// RecordEvent method; kept narrow here so the recorder doesn't import the
// persistence package directly.
type Sink interface {
	RecordEvent(ctx context.Context, owner, parent, code, message string) error
}

// record is one entry pending durable write.
type record struct {
	owner, parent, code, message string
}

// Recorder is the Event Recorder of §4.C: a bounded in-memory ring feeding
// an asynchronous writer to the Persistence Engine. It is explicitly lossy
// under backpressure — dropping never blocks a caller — and the drop count
// is itself recorded as a synthetic event once the ring next drains.
type Recorder struct {
	sink   Sink
	bus    bus.EventBus
	log    *logger.Logger
	ring    chan record
	dropped int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRecorder starts the asynchronous writer goroutine. capacity bounds the
// in-memory ring; once full, RecordEvent drops the event rather than
// blocking the critical path of the caller's RPC.
func NewRecorder(sink Sink, eventBus bus.EventBus, log *logger.Logger, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	r := &Recorder{
		sink: sink,
		bus:  eventBus,
		log:  log,
		ring: make(chan record, capacity),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event for durable write and bus publication. It never
// blocks: a full ring drops the event and counts it (§4.C, §9). owner and
// parent are typically built with events.Owner(kind, id).
func (r *Recorder) Record(owner, parent, code, message string) {
	rec := record{owner: owner, parent: parent, code: code, message: message}
	select {
	case r.ring <- rec:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(constants.EventFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-r.ring:
			r.write(rec)
		case <-ticker.C:
			r.flushDropCount()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.ring:
			r.write(rec)
		default:
			r.flushDropCount()
			return
		}
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.RecordEvent(ctx, rec.owner, rec.parent, rec.code, rec.message); err != nil {
		r.log.Warn("event recorder write failed", zap.String("code", rec.code), zap.Error(err))
	}
	if r.bus != nil {
		_ = r.bus.Publish(ctx, rec.owner, bus.NewEvent(rec.code, rec.owner, map[string]interface{}{
			"parent": rec.parent, "message": rec.message,
		}))
	}
}

func (r *Recorder) flushDropCount() {
	n := atomic.SwapInt64(&r.dropped, 0)
	if n == 0 {
		return
	}
	r.write(record{
		owner:   Owner(OwnerScheduler, "recorder"),
		code:    RecorderDropped,
		message: fmt.Sprintf("dropped %d events under backpressure", n),
	})
}

// Close stops the writer goroutine after draining the current ring.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
