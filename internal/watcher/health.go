package watcher

import (
	"sync"
	"time"

	"github.com/agent-racer/backend/internal/ws"
)

// rootHealth tracks one watch root's ingestion health: a streak of
// consecutive failures (fsnotify errors, or the root directory missing when
// watches are added at startup) and the last time a fsnotify event was
// successfully applied.
type rootHealth struct {
	healthy       bool
	lastError     string
	failureStreak int
	lastEventAt   time.Time
}

type healthTracker struct {
	mu    sync.Mutex
	roots map[string]*rootHealth
}

func newHealthTracker(roots []string) *healthTracker {
	h := &healthTracker{roots: make(map[string]*rootHealth, len(roots))}
	for _, r := range roots {
		h.roots[r] = &rootHealth{healthy: true}
	}
	return h
}

func (h *healthTracker) recordSuccess(root string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rh, ok := h.roots[root]
	if !ok {
		rh = &rootHealth{}
		h.roots[root] = rh
	}
	rh.healthy = true
	rh.failureStreak = 0
	rh.lastError = ""
	rh.lastEventAt = time.Now()
}

func (h *healthTracker) recordFailure(root, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rh, ok := h.roots[root]
	if !ok {
		rh = &rootHealth{}
		h.roots[root] = rh
	}
	rh.healthy = false
	rh.failureStreak++
	rh.lastError = errMsg
}

func (h *healthTracker) snapshot() []ws.SourceHealthPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ws.SourceHealthPayload, 0, len(h.roots))
	for root, rh := range h.roots {
		out = append(out, ws.SourceHealthPayload{
			Root:          root,
			Healthy:       rh.healthy,
			LastError:     rh.lastError,
			FailureStreak: rh.failureStreak,
			LastEventAt:   rh.lastEventAt,
		})
	}
	return out
}

// Health implements the watcherHealth interface internal/ws uses as the
// Hub's source_health hook.
func (w *Watcher) Health() []ws.SourceHealthPayload {
	return w.health.snapshot()
}
