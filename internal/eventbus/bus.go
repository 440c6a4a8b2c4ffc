// Package eventbus is notifyd's in-process event bus.
//
// Two delivery styles share one Bus:
//   - Publish/Subscribe: non-blocking fanout to buffered channels. Slow
//     subscribers drop events (bounded backpressure).
//   - On/EmitCustom: awaited delivery to named handlers. EmitCustom returns
//     once every handler for the event type has returned, and reports their
//     failures to the caller.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("event bus closed")

// Event is a lightweight signal used to decouple components.
// Data should be small and JSON-serializable.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Handler processes one awaited event. A non-nil error fails the EmitCustom call.
type Handler func(ctx context.Context, e Event) error

// Emitter is the slice of the bus handed to plugins.
type Emitter interface {
	EmitCustom(ctx context.Context, typ string, payload any) error
}

type Bus interface {
	Emitter
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	On(typ string, h Handler) (off func())
	Close() error
}

// New returns an in-memory bus. It owns no background goroutines.
func New() Bus {
	return &memBus{
		subs:     map[uint64]chan Event{},
		handlers: map[string][]handlerEntry{},
	}
}

type handlerEntry struct {
	id uint64
	h  Handler
}

type memBus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Event
	handlers map[string][]handlerEntry
	seq      atomic.Uint64
	closed   atomic.Bool
}

func newEvent(typ string, data any) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: time.Now(), Data: data}
}

func (b *memBus) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from send on closed channel.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			if ok {
				close(ch)
			}
		})
	}
	return ch, unsub
}

func (b *memBus) On(typ string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := b.seq.Add(1)
	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], handlerEntry{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[typ]
			for i, he := range hs {
				if he.id == id {
					b.handlers[typ] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
		})
	}
}

// EmitCustom delivers payload as an event of type typ. Handlers run in
// registration order on the caller's goroutine; subscribers get the event
// after all handlers returned, whatever their outcome.
func (b *memBus) EmitCustom(ctx context.Context, typ string, payload any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.emit(ctx, newEvent(typ, payload))
}

func (b *memBus) emit(ctx context.Context, e Event) error {
	err := b.runHandlers(ctx, e)
	b.Publish(e)
	return err
}

func (b *memBus) runHandlers(ctx context.Context, e Event) error {
	b.mu.RLock()
	hs := append([]handlerEntry(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, he := range hs {
		if err := he.h(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// Close stops delivery and closes every subscriber channel.
func (b *memBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = map[uint64]chan Event{}
	b.handlers = map[string][]handlerEntry{}
	b.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
	return nil
}
