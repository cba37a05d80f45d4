package timeline

import (
	"sync"

	"rolechat/internal/core/domain"

	"go.uber.org/zap"
)

// Subscriber reacts to decoded channel events.
type Subscriber interface {
	Handle(src Source, ev Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(src Source, ev Event)

func (f SubscriberFunc) Handle(src Source, ev Event) { f(src, ev) }

// Dispatcher fans every event out to its subscribers in registration order.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *zap.SugaredLogger
}

func NewDispatcher(logger *zap.SugaredLogger, subscribers ...Subscriber) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{subscribers: subscribers, logger: logger}
}

func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	d.subscribers = append(d.subscribers, s)
	d.mu.Unlock()
}

func (d *Dispatcher) Dispatch(src Source, ev Event) {
	d.mu.RLock()
	subs := d.subscribers
	d.mu.RUnlock()

	for _, s := range subs {
		s.Handle(src, ev)
	}
}

// DispatchMessages decodes and dispatches a batch. Messages that fail to
// decode are logged and skipped; the number dispatched is returned.
func (d *Dispatcher) DispatchMessages(src Source, msgs []*domain.Message) int {
	n := 0
	for _, msg := range msgs {
		ev, err := Decode(msg)
		if err != nil {
			d.logger.Debugw("Skipping undecodable message", "source", src, "error", err)
			continue
		}
		d.Dispatch(src, ev)
		n++
	}
	return n
}
