// Package session tracks live transport connections: their participant
// identities, outbound queues, and the player and room each is bound to.
package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the queue has no free slot.
	ErrOutboxFull = errors.New("outbox full")
)

// DefaultOutboxSize is used when a non-positive size is requested.
const DefaultOutboxSize = 64

// Outbox is a connection's FIFO queue of encoded frames. The transport's
// writer goroutine drains Frames; producers never block.
type Outbox struct {
	id     ConnID
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an open Outbox for the given connection.
//
// Postcondition: Returns an Outbox with capacity size, or DefaultOutboxSize if size <= 0.
func NewOutbox(id ConnID, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, size),
	}
}

// Push enqueues frame without blocking.
//
// Precondition: frame must be non-nil and must not be mutated afterwards.
// Postcondition: frame is queued, or ErrOutboxClosed/ErrOutboxFull is returned wrapped with the connection id.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("connection %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the queue for the writer goroutine. It is closed by Close
// after any already-queued frames.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close stops accepting frames. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	return len(o.frames)
}
