package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/doclens/backend/internal/session"
)

// Sweeper is the only garbage collection mechanism for the session store.
// On each pass it force-fails still-processing sessions older than the
// retention threshold through the orchestrator's shared fail routine, then
// removes them unconditionally.
type Sweeper struct {
	store     *session.Store
	orch      *Orchestrator
	interval  time.Duration
	retention time.Duration
}

func NewSweeper(store *session.Store, orch *Orchestrator, interval, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Sweeper{
		store:     store,
		orch:      orch,
		interval:  interval,
		retention: retention,
	}
}

func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep performs one eviction pass and returns the number of sessions
// removed.
func (w *Sweeper) Sweep() int {
	expired := w.store.ListOlderThan(w.retention)
	for _, sess := range expired {
		if sess.Status == session.Processing {
			w.orch.Fail(sess.ID, "Analysis abandoned due to timeout", "")
		}
		w.store.Delete(sess.ID)
		w.orch.metrics.SessionsEvicted.Inc()
		log.Printf("cleaned up old analysis session: %s", sess.ID)
	}
	return len(expired)
}
