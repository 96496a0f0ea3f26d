package frontend

import (
	"strconv"
	"sync"

	"github.com/flamerun/flame/pkg/flameapi"
)

// watchHub fans a task's state changes out to every watch_task stream
// subscribed to it, grounded in the teacher's websocket-hub broadcast
// pattern (one map of subscriber channels per key, guarded by a mutex).
type watchHub struct {
	mu   sync.Mutex
	subs map[string][]chan *flameapi.Task
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string][]chan *flameapi.Task)}
}

func watchKey(sessionID string, taskID int64) string {
	return sessionID + "#" + strconv.FormatInt(taskID, 10)
}

func (h *watchHub) subscribe(sessionID string, taskID int64) chan *flameapi.Task {
	ch := make(chan *flameapi.Task, 4)
	key := watchKey(sessionID, taskID)
	h.mu.Lock()
	h.subs[key] = append(h.subs[key], ch)
	h.mu.Unlock()
	return ch
}

func (h *watchHub) unsubscribe(sessionID string, taskID int64, ch chan *flameapi.Task) {
	key := watchKey(sessionID, taskID)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[key]
	for i, c := range subs {
		if c == ch {
			h.subs[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[key]) == 0 {
		delete(h.subs, key)
	}
}

func (h *watchHub) notify(sessionID string, taskID int64, task *flameapi.Task) {
	key := watchKey(sessionID, taskID)
	h.mu.Lock()
	subs := append([]chan *flameapi.Task(nil), h.subs[key]...)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- task:
		default:
		}
	}
}

// closeSession wakes every watcher belonging to sessionID so its stream
// observes the implicit terminal transition of a session close.
func (h *watchHub) closeSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := sessionID + "#"
	for key, subs := range h.subs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			for _, ch := range subs {
				close(ch)
			}
			delete(h.subs, key)
		}
	}
}
