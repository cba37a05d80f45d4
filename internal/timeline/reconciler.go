package timeline

import (
	"sync"

	"rolechat/internal/core/domain"
)

type State int

const (
	StateInitial State = iota
	StateBackfilling
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBackfilling:
		return "backfilling"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "initial"
}

const maxTombstones = 1024

// tombstone is a DELETE that may refer to a message not seen yet, or one
// that must stay hidden if it is delivered again.
type tombstone struct {
	src      Source
	ref      domain.MessageRef
	clientID string
}

func (t tombstone) matches(m *domain.Message) bool {
	if t.clientID != m.ClientID {
		return false
	}
	if t.src == History {
		return t.ref.Timeserial != "" && t.ref.Timeserial == m.Timeserial
	}
	return t.ref.ID != "" && t.ref.ID == m.ID
}

// Reconciler owns the visible timeline of one channel. Historical entries
// are kept ahead of live ones because a history page always covers older
// material than the live subscription.
//
// After Close every call is a no-op, so a history page that resolves late
// cannot touch a torn-down view.
type Reconciler struct {
	mu         sync.RWMutex
	state      State
	history    []*domain.Message
	live       []*domain.Message
	seen       map[string]struct{}
	tombstones []tombstone
}

var _ Subscriber = (*Reconciler)(nil)

func NewReconciler() *Reconciler {
	return &Reconciler{seen: make(map[string]struct{})}
}

func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// BeginBackfill marks a history fetch as in flight. It reports false once
// the reconciler is closed.
func (r *Reconciler) BeginBackfill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return false
	}
	r.state = StateBackfilling
	return true
}

func (r *Reconciler) CompleteBackfill() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateClosed {
		r.state = StateLive
	}
}

func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateClosed
}

// Closed is the stale flag checked by hosts before applying I/O results.
func (r *Reconciler) Closed() bool {
	return r.State() == StateClosed
}

// Handle applies one event. History pages only replay ADD and DELETE.
func (r *Reconciler) Handle(src Source, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		return
	}

	switch e := ev.(type) {
	case AddEvent:
		r.add(src, e.Msg)
	case DeleteEvent:
		r.remove(src, e)
	case PromoteEvent:
		if src == Live {
			r.add(src, e.Msg)
		}
	case DemoteEvent:
		// membership only
	}
}

func (r *Reconciler) add(src Source, m *domain.Message) {
	if _, ok := r.seen[m.ID]; ok {
		return
	}
	for _, t := range r.tombstones {
		if t.matches(m) {
			r.seen[m.ID] = struct{}{}
			return
		}
	}

	r.seen[m.ID] = struct{}{}
	if src == History {
		r.history = append(r.history, m)
	} else {
		r.live = append(r.live, m)
	}
}

func (r *Reconciler) remove(src Source, e DeleteEvent) {
	t := tombstone{src: src, ref: e.Ref, clientID: e.Msg.ClientID}

	r.history = removeMatching(r.history, t)
	r.live = removeMatching(r.live, t)

	r.tombstones = append(r.tombstones, t)
	if len(r.tombstones) > maxTombstones {
		r.tombstones = r.tombstones[len(r.tombstones)-maxTombstones:]
	}
}

func removeMatching(msgs []*domain.Message, t tombstone) []*domain.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if !t.matches(m) {
			out = append(out, m)
		}
	}
	for i := len(out); i < len(msgs); i++ {
		msgs[i] = nil
	}
	return out
}

// Timeline returns the visible messages in display order.
func (r *Reconciler) Timeline() []*domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Message, 0, len(r.history)+len(r.live))
	out = append(out, r.history...)
	out = append(out, r.live...)
	return out
}

