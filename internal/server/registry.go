package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rewardclaims/internal/claimflow"
	"rewardclaims/internal/wallet"
)

// workflow is one open claim dialog together with the wallet it drives.
type workflow struct {
	id     string
	owner  string
	coord  *claimflow.Coordinator
	bridge *wallet.Bridge

	mu       sync.Mutex
	lastSeen time.Time
}

func (w *workflow) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *workflow) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// registry holds open workflows. Every removal path closes the coordinator,
// which disconnects its wallet.
type registry struct {
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
	onChange func(active int)

	mu    sync.Mutex
	items map[string]*workflow
}

func newRegistry(ttl time.Duration, log *zap.Logger, onChange func(int)) *registry {
	return &registry{
		ttl:      ttl,
		now:      time.Now,
		log:      log,
		onChange: onChange,
		items:    make(map[string]*workflow),
	}
}

func (r *registry) add(w *workflow) {
	w.touch(r.now())
	r.mu.Lock()
	r.items[w.id] = w
	n := len(r.items)
	r.mu.Unlock()
	r.changed(n)
}

// get returns the workflow only to its owner.
func (r *registry) get(id, owner string) (*workflow, bool) {
	r.mu.Lock()
	w, ok := r.items[id]
	r.mu.Unlock()
	if !ok || w.owner != owner {
		return nil, false
	}
	w.touch(r.now())
	return w, true
}

// lookup ignores ownership; used by the wallet relay, which is authenticated
// by signature rather than by user.
func (r *registry) lookup(id string) (*workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[id]
	return w, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	w, ok := r.items[id]
	delete(r.items, id)
	n := len(r.items)
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = w.coord.Close()
	r.changed(n)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// sweep closes workflows idle for longer than the TTL and returns how many.
func (r *registry) sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*workflow
	for id, w := range r.items {
		if w.idleSince().Before(cutoff) {
			expired = append(expired, w)
			delete(r.items, id)
		}
	}
	n := len(r.items)
	r.mu.Unlock()

	for _, w := range expired {
		r.log.Info("closing idle claim workflow", zap.String("workflow_id", w.id))
		_ = w.coord.Close()
	}
	if len(expired) > 0 {
		r.changed(n)
	}
	return len(expired)
}

func (r *registry) closeAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*workflow)
	r.mu.Unlock()

	for _, w := range items {
		_ = w.coord.Close()
	}
	r.changed(0)
}

// runSweeper sweeps every interval until ctx is done.
func (r *registry) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *registry) changed(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}
