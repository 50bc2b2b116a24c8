// Package sse fans task snapshots out to live watchers. Polling the task
// endpoints remains the source of truth; the hub only pushes the same
// snapshots earlier.
package sse

import (
	"sync"

	"github.com/google/uuid"

	"stockledger_backend/internal/tasks/domain"
)

const clientBuffer = 32

type client struct {
	events chan domain.Task
}

// Hub routes task updates to subscribers keyed by task ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
	}
}

// Subscribe registers a watcher for one task. The returned cancel removes
// the watcher and closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe(taskID uuid.UUID) (<-chan domain.Task, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{events: make(chan domain.Task, clientBuffer)}
	if h.closed {
		close(c.events)
		return c.events, func() {}
	}

	if h.clients[taskID] == nil {
		h.clients[taskID] = make(map[*client]struct{})
	}
	h.clients[taskID][c] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.clients[taskID]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.clients, taskID)
				}
			}
			if !h.closed {
				close(c.events)
			}
		})
	}
	return c.events, cancel
}

// Publish sends a snapshot to every watcher of the task. Slow watchers
// miss intermediate snapshots instead of blocking the publisher; they
// catch up on the next update or by polling.
func (h *Hub) Publish(task domain.Task) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for c := range h.clients[task.ID] {
		select {
		case c.events <- task:
		default:
		}
	}
}

// Watchers reports how many subscribers a task currently has.
func (h *Hub) Watchers(taskID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[taskID])
}

// Close shuts the hub down and releases every watcher.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			close(c.events)
		}
	}
	h.clients = make(map[uuid.UUID]map[*client]struct{})
}
