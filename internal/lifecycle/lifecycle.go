// Package lifecycle centralizes app foreground/background transitions. The
// host application feeds OS-level signals in through Set; the subscription
// manager and connectivity coordinator subscribe here instead of wiring their
// own platform listeners.
package lifecycle

import (
	"context"
	"sync"

	"github.com/bookacut/queuesync/pkg/logger"
)

type State string

const (
	StateActive     State = "active"
	StateInactive   State = "inactive"
	StateBackground State = "background"
)

type Listener func(old, new State)

type Coordinator struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	l         logger.Logger
}

func New(l logger.Logger) *Coordinator {
	return &Coordinator{
		state:     StateActive,
		listeners: make(map[int]Listener),
		l:         l,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Set records a transition and notifies listeners. Listeners run outside the
// lock; setting the same state twice is a no-op.
func (c *Coordinator) Set(state State) {
	c.mu.Lock()
	old := c.state
	if old == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.l.Debug(context.Background(), "App lifecycle transition",
		"from", old,
		"to", state,
	)

	for _, fn := range listeners {
		fn(old, state)
	}
}

// Subscribe registers a listener and returns its remover. Removing twice is
// a no-op.
func (c *Coordinator) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}
