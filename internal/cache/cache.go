// Package cache implements the State Cache of §4.B: a write-through,
// read-mostly in-memory index of open sessions and their Pending/Running
// tasks, used by the Scheduler and the Frontend/Backend RPC hot paths so
// neither has to round-trip the Persistence Engine on every call.
package cache

import (
	"context"
	"sync"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/internal/store"
	"github.com/flamerun/flame/pkg/flameapi"
)

// sessionEntry pairs a session's cached data with its own guard, so
// unrelated sessions never contend on the same lock (§4.B, §5).
type sessionEntry struct {
	mu      sync.Mutex
	session *flameapi.Session
}

// Cache is the State Cache. Write-through ordering is kept by its callers:
// they commit a mutation to the store.Repository first and then Put the
// result here. The Put*, Remove* and Evict methods change only the
// in-memory copy and never call the repository; GetSession and
// GetApplication fault in from the repository on a miss.
type Cache struct {
	repo store.Repository

	mu       sync.RWMutex // guards membership changes only, never I/O
	sessions map[string]*sessionEntry

	execMu    sync.Mutex // held only for add/remove/find, never across I/O
	executors map[string]*flameapi.Executor

	appMu        sync.RWMutex // global application list; short-lived, never across I/O
	applications map[string]*flameapi.Application
}

// New builds a Cache backed by repo. It starts empty; entries are faulted
// in lazily on first access, per §4.B.
func New(repo store.Repository) *Cache {
	return &Cache{
		repo:         repo,
		sessions:     make(map[string]*sessionEntry),
		executors:    make(map[string]*flameapi.Executor),
		applications: make(map[string]*flameapi.Application),
	}
}

// GetApplication returns an application, faulting in from the Persistence
// Engine on a cache miss.
func (c *Cache) GetApplication(ctx context.Context, name string) (*flameapi.Application, error) {
	c.appMu.RLock()
	app, ok := c.applications[name]
	c.appMu.RUnlock()
	if ok {
		return app, nil
	}

	app, err := c.repo.GetApplication(ctx, name)
	if err != nil {
		return nil, err
	}
	c.PutApplication(app)
	return app, nil
}

// PutApplication inserts or replaces the cached copy of an application.
func (c *Cache) PutApplication(app *flameapi.Application) {
	c.appMu.Lock()
	defer c.appMu.Unlock()
	c.applications[app.Name] = app
}

// RemoveApplication drops an application from the cache (unregister).
func (c *Cache) RemoveApplication(name string) {
	c.appMu.Lock()
	defer c.appMu.Unlock()
	delete(c.applications, name)
}

func (c *Cache) entry(id string) *sessionEntry {
	c.mu.RLock()
	e, ok := c.sessions[id]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		return e
	}
	e = &sessionEntry{}
	c.sessions[id] = e
	return e
}

// GetSession returns a session, faulting in from the Persistence Engine on
// a cache miss.
func (c *Cache) GetSession(ctx context.Context, id string) (*flameapi.Session, error) {
	e := c.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return e.session, nil
	}
	sess, err := c.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	e.session = sess
	return e.session, nil
}

// PutSession inserts or replaces the cached copy of a freshly mutated
// session, e.g. right after open_session/close_session succeed at the
// store layer.
func (c *Cache) PutSession(session *flameapi.Session) {
	e := c.entry(session.ID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = session
}

// Evict drops a session from the cache. Safe to call unconditionally; the
// caller (typically archival of a Closed session with no Running tasks)
// has already checked eligibility.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// OpenSessions returns the cached open sessions known at time of call; it
// does not consult the store, so the scheduler gets a fast snapshot that
// may already be stale by the time it acts on it (§5 ordering guarantees).
func (c *Cache) OpenSessions() []*flameapi.Session {
	c.mu.RLock()
	entries := make([]*sessionEntry, 0, len(c.sessions))
	for _, e := range c.sessions {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	sessions := make([]*flameapi.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.session != nil && e.session.State == flameapi.SessionOpen {
			sessions = append(sessions, e.session)
		}
		e.mu.Unlock()
	}
	return sessions
}

// Warm loads every open session from the Persistence Engine into the
// cache, used on startup so the Scheduler's first tick has a populated
// snapshot instead of discovering sessions one RPC at a time.
func (c *Cache) Warm(ctx context.Context) error {
	sessions, err := c.repo.ListSessions(ctx, flameapi.SessionFilter{States: []flameapi.SessionState{flameapi.SessionOpen}})
	if err != nil {
		return err
	}
	for _, s := range sessions {
		c.PutSession(s)
	}
	return nil
}

// PutExecutor registers or updates an executor in the index.
func (c *Cache) PutExecutor(ex *flameapi.Executor) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	c.executors[ex.ID] = ex
}

// RemoveExecutor drops an executor from the index (unregister or loss).
func (c *Cache) RemoveExecutor(id string) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	delete(c.executors, id)
}

// GetExecutor returns an executor by id, or flerr.NotFound.
func (c *Cache) GetExecutor(id string) (*flameapi.Executor, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	ex, ok := c.executors[id]
	if !ok {
		return nil, flerr.NotFoundf("executor %q not registered", id)
	}
	return ex, nil
}

// Executors returns a snapshot of every known executor.
func (c *Cache) Executors() []*flameapi.Executor {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	out := make([]*flameapi.Executor, 0, len(c.executors))
	for _, ex := range c.executors {
		out = append(out, ex)
	}
	return out
}

// ExecutorsByApplication returns idle and bound executors currently
// associated (or eligible to be associated) with the given application.
func (c *Cache) ExecutorsByApplication(application string) []*flameapi.Executor {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	var out []*flameapi.Executor
	for _, ex := range c.executors {
		if ex.State == flameapi.ExecutorIdle || ex.Application == application {
			out = append(out, ex)
		}
	}
	return out
}
