package capture

import (
	"context"
	"errors"
	"image"
	"sync"
)

var ErrMailboxClosed = errors.New("frame mailbox closed")

// Mailbox holds at most one pending frame pushed from outside. A new frame
// replaces one that has not been consumed yet; Next blocks until a frame
// arrives.
type Mailbox struct {
	mu      sync.Mutex
	frames  chan image.Image
	closed  bool
	done    chan struct{}
	dropped uint64
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		frames: make(chan image.Image, 1),
		done:   make(chan struct{}),
	}
}

// Push offers a frame and reports whether an unconsumed frame was replaced.
func (m *Mailbox) Push(img image.Image) (replaced bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrMailboxClosed
	}
	select {
	case <-m.frames:
		replaced = true
		m.dropped++
	default:
	}
	m.frames <- img
	return replaced, nil
}

func (m *Mailbox) Next(ctx context.Context) (image.Image, func(), error) {
	select {
	case img := <-m.frames:
		return img, nil, nil
	case <-m.done:
		return nil, nil, ErrMailboxClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Dropped counts frames replaced before anyone consumed them.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}
