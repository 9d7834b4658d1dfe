package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keilerkonzept/visitor-counter/internal/hub"
	"github.com/keilerkonzept/visitor-counter/internal/stats"
	"github.com/keilerkonzept/visitor-counter/internal/store"
	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

// API serves the stats snapshot and the live channel counter clients use.
type API struct {
	// mu orders ingests and joins so every connection sees snapshots with a
	// non-decreasing total.
	mu sync.Mutex

	hub   *hub.Hub
	store store.Store
	stats *stats.Builder
	log   *zap.Logger
	now   func() time.Time
}

func NewAPI(h *hub.Hub, s store.Store, b *stats.Builder, log *zap.Logger) *API {
	return &API{
		hub:   h,
		store: s,
		stats: b,
		log:   log,
		now:   time.Now,
	}
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := a.stats.Snapshot(r.Context())
	if err != nil {
		a.log.Error("snapshot failed", zap.Error(err))
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// ingest stores one group and pushes the resulting snapshot to every
// connected client.
func (a *API) ingest(ctx context.Context, size int) (visitor.Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Record(ctx, store.Record{At: a.now(), GroupSize: size}); err != nil {
		return visitor.Stats{}, fmt.Errorf("record group: %w", err)
	}
	snap, err := a.stats.Snapshot(ctx)
	if err != nil {
		return visitor.Stats{}, err
	}
	a.hub.Broadcast(snap)
	return snap, nil
}

// join queues the current snapshot on out and registers it with the hub in
// one step, so no broadcast can slip between the two.
func (a *API) join(ctx context.Context, id string, out chan visitor.Stats) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.stats.Snapshot(ctx)
	if err == nil {
		out <- snap
	}
	return a.hub.Join(id, out), err
}
