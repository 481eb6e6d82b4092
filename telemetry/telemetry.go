// Package telemetry turns engine activity into debounced, fire-and-forget
// events. Producers never block on a sink.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Event names produced by the engine.
const (
	DecisionSubmitted  = "decision.submitted"
	DecisionConfirmed  = "decision.confirmed"
	DecisionRolledBack = "decision.rolled_back"
	DecisionDuplicate  = "decision.duplicate"
	RecordInvalid      = "record.invalid"
	RecordSkipped      = "record.skipped"
	RefillCompleted    = "prefetch.completed"
	RefillFailed       = "prefetch.failed"
	SessionExhausted   = "session.exhausted"
	SessionNewPass     = "session.new_pass"
	CacheStats         = "cache.stats"
	CacheEvicted       = "cache.evicted"
)

// Event is one structured observation.
type Event struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink consumes events. Emit is called from a single worker goroutine.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// ZapSink logs events at info level.
type ZapSink struct{ log *zap.Logger }

func NewZapSink(l *zap.Logger) ZapSink {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapSink{log: l.With(zap.String("module", "telemetry"))}
}

func (z ZapSink) Emit(ev Event) {
	fields := make([]zap.Field, 0, len(ev.Payload)+1)
	fields = append(fields, zap.Time("ts", ev.Timestamp))
	for k, v := range ev.Payload {
		fields = append(fields, zap.Any(k, v))
	}
	z.log.Info(ev.Name, fields...)
}

// Options configures an Emitter. Zero values are safe.
type Options struct {
	// MinInterval is the minimum spacing between two events with the same
	// name (default 50ms). Events inside the window are dropped.
	MinInterval time.Duration
	// QueueSize bounds buffered events (default 256). Overflow is dropped.
	QueueSize int
	// Now overrides the time source (tests). Nil => time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

// Counters is a snapshot of emitter activity.
type Counters struct {
	Emitted   uint64
	Debounced uint64
	Dropped   uint64
}

// Emitter debounces events per name and hands them to a sink on a worker
// goroutine. A nil *Emitter is valid and discards everything.
type Emitter struct {
	sink Sink
	opt  Options
	log  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	closed   bool

	ch   chan Event
	done chan struct{}

	emitted, debounced, dropped atomic.Uint64
}

// NewEmitter starts an emitter that forwards to sink.
func NewEmitter(sink Sink, opt Options) *Emitter {
	if opt.MinInterval <= 0 {
		opt.MinInterval = 50 * time.Millisecond
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	e := &Emitter{
		sink:     sink,
		opt:      opt,
		log:      opt.Logger.With(zap.String("module", "telemetry")),
		limiters: make(map[string]*rate.Limiter),
		ch:       make(chan Event, opt.QueueSize),
		done:     make(chan struct{}),
	}
	go e.loop()
	return e
}

// Emit queues an event unless one with the same name went out less than
// MinInterval ago or the queue is full. It never blocks and reports whether
// the event was queued.
func (e *Emitter) Emit(name string, payload map[string]any) bool {
	if e == nil {
		return false
	}
	now := e.opt.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	lim, ok := e.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.opt.MinInterval), 1)
		e.limiters[name] = lim
	}
	if !lim.AllowN(now, 1) {
		e.mu.Unlock()
		e.debounced.Add(1)
		return false
	}

	// Send under mu so Close cannot close ch concurrently.
	select {
	case e.ch <- Event{Name: name, Payload: payload, Timestamp: now}:
		e.mu.Unlock()
		e.emitted.Add(1)
		return true
	default:
		e.mu.Unlock()
		e.dropped.Add(1)
		return false
	}
}

// Counters returns emitted/debounced/dropped totals.
func (e *Emitter) Counters() Counters {
	if e == nil {
		return Counters{}
	}
	return Counters{
		Emitted:   e.emitted.Load(),
		Debounced: e.debounced.Load(),
		Dropped:   e.dropped.Load(),
	}
}

// Close stops accepting events, drains the queue and waits for the worker.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()
	<-e.done
}

func (e *Emitter) loop() {
	defer close(e.done)
	for ev := range e.ch {
		e.deliver(ev)
	}
}

// deliver isolates the worker from a panicking sink.
func (e *Emitter) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("sink panicked", zap.String("event", ev.Name), zap.Any("panic", r))
		}
	}()
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}
