package relay

// EventHistory is a fixed-capacity ring of the most recent game events.
// It is guarded by the owning State's lock.
type EventHistory struct {
	buf   []GameEvent
	start int
	n     int
}

// NewEventHistory creates an empty history that retains at most capacity events.
// A non-positive capacity retains nothing.
func NewEventHistory(capacity int) *EventHistory {
	if capacity < 0 {
		capacity = 0
	}
	return &EventHistory{buf: make([]GameEvent, capacity)}
}

// Add appends ev, evicting the oldest event when full.
func (h *EventHistory) Add(ev GameEvent) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = ev
		h.n++
		return
	}
	h.buf[h.start] = ev
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained events.
func (h *EventHistory) Len() int {
	return h.n
}

// Events returns the retained events, oldest first.
func (h *EventHistory) Events() []GameEvent {
	out := make([]GameEvent, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
