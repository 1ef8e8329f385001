package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nautlabs/skiff/internal/domain"
)

// Metrics is the slice of instrumentation the dispatcher needs. A nil
// implementation is allowed.
type Metrics interface {
	EventDispatched(ctx context.Context, eventType string)
}

// Dispatcher fans out session events to every registered listener in the
// order they were published. Events carrying durable state (status changes,
// canonical messages) are persisted before broadcast, so a listener that
// queries the store after receiving an event always observes it.
type Dispatcher struct {
	sessions domain.SessionRepository
	messages domain.MessageRepository
	metrics  Metrics

	mu   sync.Mutex
	subs []*Subscription
}

func New(sessions domain.SessionRepository, messages domain.MessageRepository, metrics Metrics) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		messages: messages,
		metrics:  metrics,
	}
}

// Publish persists the event's store mutation, then delivers the event to
// every subscriber. A store failure aborts the publish; nothing is
// broadcast.
func (d *Dispatcher) Publish(ctx context.Context, evt domain.Event) error {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	switch evt.Type {
	case domain.EventSessionStatus:
		upd := domain.SessionUpdate{Status: &evt.Status}
		if evt.Error != "" {
			upd.LastError = &evt.Error
		}
		if err := d.sessions.Update(ctx, evt.SessionID, upd); err != nil {
			return fmt.Errorf("dispatch.Dispatcher.Publish: update status: %w", err)
		}

	case domain.EventStreamMessage:
		if evt.Message != nil {
			if err := d.messages.Append(ctx, evt.SessionID, evt.Message); err != nil {
				return fmt.Errorf("dispatch.Dispatcher.Publish: append message: %w", err)
			}
		}
	}

	// Fan-out under the lock so concurrent publishers cannot interleave
	// differently across listeners. Pushes never block: each subscription
	// queues and drains on its own goroutine.
	d.mu.Lock()
	for _, sub := range d.subs {
		sub.push(evt)
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.EventDispatched(ctx, string(evt.Type))
	}

	return nil
}

// Subscribe registers a new listener. The caller must Close the subscription
// when done.
func (d *Dispatcher) Subscribe() *Subscription {
	sub := &Subscription{
		d:    d,
		out:  make(chan domain.Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	sub.C = sub.out

	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	go sub.drain()
	return sub
}

func (d *Dispatcher) unsubscribe(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// Subscription is one listener's ordered, unbounded event queue. Events
// arrive on C in publish order.
type Subscription struct {
	C <-chan domain.Event

	d    *Dispatcher
	out  chan domain.Event
	wake chan struct{}
	done chan struct{}

	mu    sync.Mutex
	queue []domain.Event

	closeOnce sync.Once
}

// Close unregisters the listener and stops delivery. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.d.unsubscribe(s)
		close(s.done)
	})
}

func (s *Subscription) push(evt domain.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) drain() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- evt:
			case <-s.done:
				return
			}
		}
	}
}
