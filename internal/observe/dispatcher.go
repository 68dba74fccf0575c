package observe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

const sinkWriteTimeout = 2 * time.Second

// Sink is a destination for pipeline events. Writes happen off the request path.
type Sink interface {
	Name() string
	Write(ctx context.Context, e contracts.Event) error
}

// Dispatcher implements contracts.EventSink: Emit enqueues and returns immediately,
// a single worker fans events out to every sink. A full buffer drops the event.
// ⭐ SSOT: 이벤트는 fire-and-forget (파이프라인을 절대 막지 않음)
type Dispatcher struct {
	sinks  []Sink
	events chan contracts.Event
	logger *logger.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

// NewDispatcher starts the fan-out worker
func NewDispatcher(buffer int, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		sinks:  sinks,
		events: make(chan contracts.Event, buffer),
		logger: log,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit implements contracts.EventSink
func (d *Dispatcher) Emit(e contracts.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.events <- e:
	default:
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.events {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
			err := s.Write(ctx, e)
			cancel()
			if err != nil {
				d.logger.WithError(err).WithFields(map[string]interface{}{
					"sink":       s.Name(),
					"request_id": e.RequestID,
					"stage":      string(e.Stage),
				}).Warn("Event sink write failed")
			}
		}
		d.written.Add(1)
	}
}

// Close stops accepting events and drains what is buffered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.done
}

// Dropped returns how many events were discarded
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Written returns how many events reached the sinks
func (d *Dispatcher) Written() int64 {
	return d.written.Load()
}
