// Package syncqueue guarantees that every submitted check-in artifact is
// eventually delivered or durably marked failed.
//
// The queue is the only component in checkind with mutable shared state.
// Item mutations are serialized under a lock, every mutation is written
// through to the durable store before the next one, and drain passes are
// coalesced: a timer firing while a previous pass is still waiting on a
// delivery produces a no-op, never a parallel second pass. Delivery
// itself runs outside the lock so reads like PendingCount never block on
// in-flight I/O.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"checkind/internal/logging"
)

// Default tunables.
const (
	DefaultMaxRetries     = 5
	DefaultBaseRetryDelay = 2000 * time.Millisecond
	DefaultSyncedGrace    = 3000 * time.Millisecond

	// DefaultStorageKey is the durable-store key for the queue snapshot.
	DefaultStorageKey = "sync-queue"
)

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	// OutcomeSynced means the server accepted the artifact.
	OutcomeSynced Outcome = "synced"
	// OutcomeFailed means the server explicitly rejected the artifact.
	OutcomeFailed Outcome = "failed"
	// OutcomeInconclusive covers transient network-level errors. Treated
	// as a soft failure: the item goes back to pending with backoff.
	OutcomeInconclusive Outcome = "inconclusive"
)

// Artifact is a captured check-in awaiting delivery. Created once at
// capture time; the ID is never reused.
type Artifact struct {
	ID           string            `json:"id"`
	PayloadRef   string            `json:"payload_ref"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CapturedAtMs int64             `json:"captured_at_ms"`
}

// Item is one queue entry: an artifact plus its retry bookkeeping.
type Item struct {
	ID            string   `json:"id"`
	Artifact      Artifact `json:"artifact"`
	Status        Status   `json:"status"`
	RetryCount    int      `json:"retry_count"`
	LastAttemptMs *int64   `json:"last_attempt_ms"`
	SubmittedAtMs int64    `json:"submitted_at_ms"`
}

// Deliverer performs one delivery attempt. An error return is treated
// the same as OutcomeInconclusive.
type Deliverer interface {
	Deliver(ctx context.Context, artifact Artifact) (Outcome, error)
}

// ConnectivityChecker answers a point-in-time online query.
type ConnectivityChecker interface {
	IsOnline(ctx context.Context) bool
}

// Persister is the durable store the queue snapshots itself into.
type Persister interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Config tunes queue behavior.
type Config struct {
	// MaxRetries bounds soft-failure retries before an item goes failed.
	MaxRetries int

	// BaseRetryDelay is the backoff base; attempt n waits base * 2^n.
	BaseRetryDelay time.Duration

	// SyncedGrace is how long a synced item stays visible before removal.
	SyncedGrace time.Duration

	// StorageKey is the durable-store key for the snapshot.
	StorageKey string
}

// DefaultConfig returns the standard queue tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		BaseRetryDelay: DefaultBaseRetryDelay,
		SyncedGrace:    DefaultSyncedGrace,
		StorageKey:     DefaultStorageKey,
	}
}

// Queue is the durable offline sync queue.
type Queue struct {
	cfg          Config
	deliverer    Deliverer
	connectivity ConnectivityChecker
	persister    Persister
	log          *logging.Logger

	mu    sync.RWMutex
	items map[string]*Item

	draining atomic.Bool

	// now is the clock, injectable for backoff tests.
	now func() time.Time
}

// New creates a queue. The persister may be nil for a purely in-memory
// queue (tests); deliverer and connectivity must be set before Drain.
func New(cfg Config, deliverer Deliverer, connectivity ConnectivityChecker, persister Persister, log *logging.Logger) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if log == nil {
		log = logging.Default().WithComponent("syncqueue")
	}
	return &Queue{
		cfg:          cfg,
		deliverer:    deliverer,
		connectivity: connectivity,
		persister:    persister,
		log:          log,
		items:        make(map[string]*Item),
		now:          time.Now,
	}
}

// snapshot is the persisted representation of the queue.
type snapshot struct {
	Items []Item `json:"items"`
}

// Load restores the queue from the durable store. Items left in syncing
// by a crash revert to pending: a crash mid-delivery is
// indistinguishable from an inconclusive attempt.
func (q *Queue) Load() error {
	if q.persister == nil {
		return nil
	}

	raw, ok, err := q.persister.Get(q.cfg.StorageKey)
	if err != nil {
		return fmt.Errorf("load queue snapshot: %w", err)
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return fmt.Errorf("decode queue snapshot: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for i := range snap.Items {
		item := snap.Items[i]
		if item.Status == StatusSyncing {
			item.Status = StatusPending
			recovered++
		}
		q.items[item.ID] = &item
	}

	if recovered > 0 {
		q.log.Warn("recovered in-flight items after restart", "count", recovered)
	}
	q.log.Info("sync queue loaded", "items", len(q.items))
	return nil
}

// Submit enqueues an artifact as pending. Idempotent by artifact ID:
// submitting the same ID twice never creates a duplicate item.
func (q *Queue) Submit(artifact Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("submit: artifact has no id")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[artifact.ID]; exists {
		q.log.Debug("duplicate submission ignored", "id", artifact.ID)
		return nil
	}

	q.items[artifact.ID] = &Item{
		ID:            artifact.ID,
		Artifact:      artifact,
		Status:        StatusPending,
		RetryCount:    0,
		LastAttemptMs: nil,
		SubmittedAtMs: q.now().UnixMilli(),
	}
	q.persistLocked()

	q.log.Info("artifact submitted", "id", artifact.ID)
	return nil
}

// Resubmit returns a failed item to pending with fresh retry
// bookkeeping. This is the only path out of failed.
func (q *Queue) Resubmit(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("resubmit: item not found: %s", id)
	}
	if item.Status != StatusFailed {
		return &ErrInvalidTransition{ID: id, From: item.Status, To: StatusPending}
	}

	item.Status = StatusPending
	item.RetryCount = 0
	item.LastAttemptMs = nil
	q.persistLocked()

	q.log.Info("artifact resubmitted", "id", id)
	return nil
}

// RetryDelay returns the backoff delay required after retryCount
// attempts: base * 2^retryCount, no jitter.
func (q *Queue) RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return q.cfg.BaseRetryDelay * time.Duration(1<<uint(retryCount))
}

// Drain runs one queue-processing pass. It is a no-op when offline,
// when nothing is due, or when another pass is already running.
func (q *Queue) Drain(ctx context.Context) {
	if q.connectivity == nil || !q.connectivity.IsOnline(ctx) {
		return
	}
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	for _, id := range q.dueItems() {
		if ctx.Err() != nil {
			return
		}
		q.processItem(ctx, id)
	}
}

// Draining reports whether a drain pass is currently running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// dueItems returns the IDs of pending items whose backoff window has
// elapsed, in submission order. Failed items are terminal for the
// periodic trigger; only Resubmit brings them back.
func (q *Queue) dueItems() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	nowMs := q.now().UnixMilli()

	var due []*Item
	for _, item := range q.items {
		if item.Status != StatusPending {
			continue
		}
		if item.LastAttemptMs != nil {
			required := q.RetryDelay(item.RetryCount)
			if time.Duration(nowMs-*item.LastAttemptMs)*time.Millisecond < required {
				continue
			}
		}
		due = append(due, item)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].SubmittedAtMs < due[j].SubmittedAtMs
	})

	ids := make([]string, len(due))
	for i, item := range due {
		ids[i] = item.ID
	}
	return ids
}

// processItem runs one delivery attempt for one item. The delivery call
// happens outside the items lock. One item's failure never aborts the
// pass for subsequent items.
func (q *Queue) processItem(ctx context.Context, id string) {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	if err := q.transitionLocked(item, StatusSyncing); err != nil {
		q.mu.Unlock()
		return
	}
	artifact := item.Artifact
	q.mu.Unlock()

	outcome, err := q.deliverer.Deliver(ctx, artifact)
	if err != nil {
		q.log.Warn("delivery attempt errored", "id", id, "error", err)
		outcome = OutcomeInconclusive
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok = q.items[id]
	if !ok {
		return
	}

	switch outcome {
	case OutcomeSynced:
		if err := q.transitionLocked(item, StatusSynced); err != nil {
			return
		}
		q.log.Info("artifact synced", "id", id, "attempts", item.RetryCount+1)
		q.scheduleRemoval(id)

	case OutcomeFailed:
		// Explicit server rejection is terminal regardless of the
		// retry budget.
		if err := q.transitionLocked(item, StatusFailed); err != nil {
			return
		}
		q.log.Error("artifact rejected by server", "id", id)

	default: // OutcomeInconclusive
		if item.RetryCount >= q.cfg.MaxRetries {
			if err := q.transitionLocked(item, StatusFailed); err != nil {
				return
			}
			q.log.Error("artifact failed after exhausting retries", "id", id, "retries", item.RetryCount)
			return
		}
		item.RetryCount++
		nowMs := q.now().UnixMilli()
		item.LastAttemptMs = &nowMs
		if err := q.transitionLocked(item, StatusPending); err != nil {
			return
		}
		q.log.Warn("delivery inconclusive, will retry",
			"id", id, "retry_count", item.RetryCount, "next_delay", q.RetryDelay(item.RetryCount))
	}
}

// scheduleRemoval removes a synced item after the grace window so the
// terminal state stays observable for a moment. Called with q.mu held;
// the removal itself re-acquires it.
func (q *Queue) scheduleRemoval(id string) {
	time.AfterFunc(q.cfg.SyncedGrace, func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		item, ok := q.items[id]
		if !ok || item.Status != StatusSynced {
			return
		}
		delete(q.items, id)
		q.persistLocked()
		q.log.Debug("synced artifact removed after grace window", "id", id)
	})
}

// transitionLocked applies a validated status change and persists.
// Invalid transitions are rejected and logged, never silently applied.
// Caller holds q.mu.
func (q *Queue) transitionLocked(item *Item, to Status) error {
	if !canTransition(item.Status, to) {
		err := &ErrInvalidTransition{ID: item.ID, From: item.Status, To: to}
		q.log.Error("rejected status transition", "id", item.ID, "from", item.Status, "to", to)
		return err
	}
	item.Status = to
	q.persistLocked()
	return nil
}

// persistLocked writes the queue snapshot through to the durable store.
// Ordered after the in-memory mutation it reflects; a store failure is
// logged but does not undo the mutation.
func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}

	snap := snapshot{Items: make([]Item, 0, len(q.items))}
	for _, item := range q.items {
		snap.Items = append(snap.Items, *item)
	}
	sort.Slice(snap.Items, func(i, j int) bool {
		return snap.Items[i].SubmittedAtMs < snap.Items[j].SubmittedAtMs
	})

	data, err := json.Marshal(snap)
	if err != nil {
		q.log.Error("encode queue snapshot", "error", err)
		return
	}
	if err := q.persister.Set(q.cfg.StorageKey, string(data)); err != nil {
		q.log.Error("persist queue snapshot", "error", err)
	}
}

// Items returns a copy of all queue entries in submission order.
func (q *Queue) Items() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAtMs < out[j].SubmittedAtMs
	})
	return out
}

// Get returns one queue entry by ID.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	item, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// PendingCount returns the number of items not yet synced. Never blocks
// on an in-flight delivery.
func (q *Queue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, item := range q.items {
		if item.Status != StatusSynced {
			n++
		}
	}
	return n
}
