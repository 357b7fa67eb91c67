package services

import (
	"sync"
	"time"

	"multichat/chat"
	"multichat/dispatch"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Workspace is the client state of one browser: its sessions, composer and
// error slot. Nothing in it outlives the process.
type Workspace struct {
	ID         string
	Controller *dispatch.Controller

	mu         sync.Mutex
	lastAccess time.Time
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastAccess = now
	w.mu.Unlock()
}

// LastAccess reports when the workspace was last used.
func (w *Workspace) LastAccess() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastAccess
}

// ControllerFactory builds the controller for a new workspace around store.
type ControllerFactory func(store *chat.Store) *dispatch.Controller

// WorkspaceService keeps a bounded set of workspaces keyed by client id. When
// the bound is hit the least recently used workspace is dropped.
type WorkspaceService struct {
	mu      sync.Mutex
	cache   *lru.Cache
	factory ControllerFactory
	logger  *zap.Logger
	now     func() time.Time
	evicted []func(clientID string)
}

func NewWorkspaceService(size int, factory ControllerFactory, logger *zap.Logger) (*WorkspaceService, error) {
	ws := &WorkspaceService{
		factory: factory,
		logger:  logger,
		now:     time.Now,
	}
	cache, err := lru.NewWithEvict(size, ws.onEvict)
	if err != nil {
		return nil, err
	}
	ws.cache = cache
	return ws, nil
}

// OnEvict registers fn to run with the client id of every evicted workspace.
// Register hooks before the service is used.
func (ws *WorkspaceService) OnEvict(fn func(clientID string)) {
	ws.evicted = append(ws.evicted, fn)
}

func (ws *WorkspaceService) onEvict(key interface{}, value interface{}) {
	w, ok := value.(*Workspace)
	if !ok {
		return
	}
	ws.logger.Info("Workspace evicted",
		zap.String("client_id", w.ID),
		zap.Int("sessions", w.Controller.Store().Len()))
	for _, fn := range ws.evicted {
		fn(w.ID)
	}
}

// Get returns the workspace for clientID, creating it on first use.
func (ws *WorkspaceService) Get(clientID string) *Workspace {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	now := ws.now()
	if v, ok := ws.cache.Get(clientID); ok {
		w := v.(*Workspace)
		w.touch(now)
		return w
	}

	w := &Workspace{
		ID:         clientID,
		Controller: ws.factory(chat.NewStore()),
		lastAccess: now,
	}
	ws.cache.Add(clientID, w)
	ws.logger.Debug("Workspace created", zap.String("client_id", clientID))
	return w
}

// Peek returns the workspace for clientID without creating it or refreshing
// its recency.
func (ws *WorkspaceService) Peek(clientID string) (*Workspace, bool) {
	v, ok := ws.cache.Peek(clientID)
	if !ok {
		return nil, false
	}
	return v.(*Workspace), true
}

// EvictIdle drops workspaces unused for longer than maxIdle. Workspaces with
// a send in flight are kept.
func (ws *WorkspaceService) EvictIdle(maxIdle time.Duration) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	cutoff := ws.now().Add(-maxIdle)
	evicted := 0
	for _, key := range ws.cache.Keys() {
		v, ok := ws.cache.Peek(key)
		if !ok {
			continue
		}
		w := v.(*Workspace)
		if w.LastAccess().Before(cutoff) && !w.Controller.Sending() {
			ws.cache.Remove(key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live workspaces.
func (ws *WorkspaceService) Len() int {
	return ws.cache.Len()
}
