package jobs

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. When a slow
// consumer falls this far behind, the oldest non-terminal events are dropped;
// terminal events are always delivered.
const subscriberBuffer = 64

// hub fans one job's progress events out to its subscribers. Publishing
// never blocks the computation.
type hub struct {
	mu       sync.Mutex
	subs     map[int]chan ProgressEvent
	nextID   int
	latest   *ProgressEvent
	terminal *ProgressEvent
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan ProgressEvent)}
}

// publish builds the next event under the hub lock and delivers it to every
// subscriber. Construction and enqueueing share one critical section so
// concurrent reporters cannot hand a later-numbered event to subscribers
// ahead of an earlier one. A full subscriber buffer sheds its oldest event to
// make room; for a terminal event shedding repeats until delivery succeeds.
func (h *hub) publish(build func() ProgressEvent) ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := build()
	evCopy := ev
	if ev.Terminal {
		h.terminal = &evCopy
	} else {
		h.latest = &evCopy
	}

	for id, ch := range h.subs {
		h.send(ch, ev)
		if ev.Terminal {
			close(ch)
			delete(h.subs, id)
		}
	}
	return ev
}

func (h *hub) send(ch chan ProgressEvent, ev ProgressEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		// Buffer full: drop the oldest queued event. The drained event is
		// always non-terminal because a terminal event ends the stream.
		select {
		case <-ch:
		default:
		}
		if !ev.Terminal {
			// One retry is enough for the single publisher; if a racing
			// reader refilled nothing we still have room, otherwise the
			// newest event is the one shed.
			select {
			case ch <- ev:
			default:
			}
			return
		}
	}
}

// subscribe attaches a new consumer. The returned channel first carries a
// synthetic current-state event (the latest known progress, or the terminal
// event when the job already finished), then live events in emission order.
// The cancel func detaches the consumer; it is safe to call twice.
func (h *hub) subscribe() (<-chan ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan ProgressEvent, subscriberBuffer)

	if h.terminal != nil {
		// Job already over: exactly one terminal event, then EOF.
		ch <- *h.terminal
		close(ch)
		return ch, func() {}
	}

	if h.latest != nil {
		ch <- *h.latest
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
