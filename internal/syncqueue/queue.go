// Package syncqueue keeps progress updates made while offline in a
// persistent queue and replays them to the sync endpoint.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
)

const keyPrefix = "sync:"

// Item is one queued update. Data is the caller's payload as JSON.
type Item struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Retries   int             `json:"retries"`
}

// Payload is what gets posted to the sync endpoint.
type Payload struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type Sender interface {
	Send(ctx context.Context, p Payload) error
}

type Options struct {
	// Size caps the queue; the oldest items are dropped beyond it.
	Size       int
	MaxRetries int
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Report struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Dropped int  `json:"dropped"`
	Skipped bool `json:"skipped,omitempty"`
}

type Status struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Failed     int  `json:"failed"`
	Online     bool `json:"online"`
	Processing bool `json:"processing"`
}

// Queue is a buntdb-backed FIFO. Keys carry a monotonically increasing
// sequence so key order is age order.
type Queue struct {
	db      *buntdb.DB
	sender  Sender
	opts    Options
	logger  *slog.Logger
	kick    chan struct{}
	online  atomic.Bool
	running atomic.Bool

	process sync.Mutex
	mu      sync.Mutex
	seq     uint64
	closed  bool
}

// Open opens (or creates) the queue at path. An empty path or ":memory:"
// keeps the queue in memory.
func Open(path string, sender Sender, opts Options) (*Queue, error) {
	if path == "" {
		path = ":memory:"
	}
	if opts.Size <= 0 {
		opts.Size = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sync queue %s: %w", path, err)
	}
	q := &Queue{
		db:     db,
		sender: sender,
		opts:   opts,
		logger: slog.Default().With("component", "sync-queue"),
		kick:   make(chan struct{}, 1),
	}
	q.online.Store(true)

	err = db.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys(keyPrefix+"*", func(key, _ string) bool {
			q.seq, _ = strconv.ParseUint(key[len(keyPrefix):], 10, 64)
			return false
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading sync queue: %w", err)
	}
	q.updateDepth()
	return q, nil
}

func (q *Queue) nextKey() string {
	q.seq++
	return fmt.Sprintf("%s%020d", keyPrefix, q.seq)
}

// Add enqueues an update as the newest item and returns its id. When online
// a flush is requested without waiting for it.
func (q *Queue) Add(typ string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding %s update: %w", typ, err)
	}
	item := Item{
		ID:        uuid.NewString(),
		Type:      typ,
		Data:      raw,
		Timestamp: q.opts.Now().UnixMilli(),
	}
	value, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encoding queue item: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", apperrors.ErrQueueClosed
	}
	var trimmed int
	err = q.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(q.nextKey(), string(value), nil); err != nil {
			return err
		}
		n, err := tx.Len()
		if err != nil {
			return err
		}
		var stale []string
		if excess := n - q.opts.Size; excess > 0 {
			err = tx.AscendKeys(keyPrefix+"*", func(key, _ string) bool {
				stale = append(stale, key)
				return len(stale) < excess
			})
			if err != nil {
				return err
			}
		}
		for _, key := range stale {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		trimmed = len(stale)
		return nil
	})
	q.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("queueing %s update: %w", typ, err)
	}
	if trimmed > 0 {
		q.logger.Warn("sync queue full, dropped oldest items", "dropped", trimmed)
	}
	q.updateDepth()

	if q.online.Load() {
		q.Kick()
	}
	return item.ID, nil
}

// Kick requests a flush from the worker.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Kicks delivers flush requests made by Add and SetOnline.
func (q *Queue) Kicks() <-chan struct{} { return q.kick }

// Process sends queued items oldest first until the queue is empty, the
// queue goes offline, or an item fails without exhausting its retries. A
// failing item is moved to the newest position. Items that reach MaxRetries
// are dropped. Concurrent calls return immediately with Skipped set.
func (q *Queue) Process(ctx context.Context) (Report, error) {
	var rep Report
	if !q.online.Load() || !q.process.TryLock() {
		rep.Skipped = true
		return rep, nil
	}
	defer q.process.Unlock()
	q.running.Store(true)
	defer q.running.Store(false)
	defer q.updateDepth()

	for q.online.Load() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		key, item, ok, err := q.oldest()
		if err != nil {
			return rep, err
		}
		if !ok {
			return rep, nil
		}

		sendErr := q.sender.Send(ctx, Payload{Type: item.Type, Data: item.Data, Timestamp: item.Timestamp})
		if sendErr == nil {
			if err := q.remove(key); err != nil {
				return rep, err
			}
			rep.Synced++
			q.record("ok")
			q.logger.Debug("synced item", "id", item.ID, "type", item.Type)
			continue
		}

		item.Retries++
		if item.Retries >= q.opts.MaxRetries {
			if err := q.remove(key); err != nil {
				return rep, err
			}
			rep.Dropped++
			q.record("dropped")
			q.logger.Error("sync item dropped after max retries", "id", item.ID, "type", item.Type, "error", sendErr)
			continue
		}
		if err := q.requeue(key, item); err != nil {
			return rep, err
		}
		rep.Failed++
		q.record("failed")
		q.logger.Warn("sync failed, will retry", "id", item.ID, "retries", item.Retries, "error", sendErr)
		return rep, nil
	}
	return rep, nil
}

func (q *Queue) oldest() (string, Item, bool, error) {
	var (
		key   string
		value string
	)
	err := q.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyPrefix+"*", func(k, v string) bool {
			key, value = k, v
			return false
		})
	})
	if err != nil {
		return "", Item{}, false, fmt.Errorf("reading sync queue: %w", err)
	}
	if key == "" {
		return "", Item{}, false, nil
	}
	var item Item
	if err := json.Unmarshal([]byte(value), &item); err != nil {
		q.logger.Error("discarding corrupt queue entry", "key", key, "error", err)
		if err := q.remove(key); err != nil {
			return "", Item{}, false, err
		}
		return q.oldest()
	}
	return key, item, true, nil
}

func (q *Queue) remove(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

func (q *Queue) requeue(key string, item Item) error {
	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding queue item: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		_, _, err := tx.Set(q.nextKey(), string(value), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("requeueing %s: %w", item.ID, err)
	}
	return nil
}

// Items lists the queue newest first.
func (q *Queue) Items() ([]Item, error) {
	var items []Item
	err := q.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys(keyPrefix+"*", func(_, v string) bool {
			var item Item
			if json.Unmarshal([]byte(v), &item) == nil {
				items = append(items, item)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing sync queue: %w", err)
	}
	return items, nil
}

// Status counts items never attempted as pending and the rest as failed.
func (q *Queue) Status() (Status, error) {
	items, err := q.Items()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Total:      len(items),
		Online:     q.online.Load(),
		Processing: q.running.Load(),
	}
	for _, it := range items {
		if it.Retries == 0 {
			st.Pending++
		} else {
			st.Failed++
		}
	}
	return st, nil
}

func (q *Queue) Clear() error {
	q.mu.Lock()
	err := q.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		if err := tx.AscendKeys(keyPrefix+"*", func(k, _ string) bool {
			keys = append(keys, k)
			return true
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clearing sync queue: %w", err)
	}
	q.updateDepth()
	q.logger.Info("sync queue cleared")
	return nil
}

// SetOnline records connectivity. Coming back online requests a flush.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if was == online {
		return
	}
	if online {
		q.logger.Info("connection restored, syncing queued updates")
		q.Kick()
	} else {
		q.logger.Warn("connection lost, queueing updates")
	}
}

func (q *Queue) Online() bool { return q.online.Load() }

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

func (q *Queue) updateDepth() {
	if q.opts.Metrics == nil {
		return
	}
	var n int
	_ = q.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	q.opts.Metrics.SyncQueueDepth.Set(float64(n))
}

func (q *Queue) record(status string) {
	if q.opts.Metrics != nil {
		q.opts.Metrics.SyncAttemptsTotal.WithLabelValues(status).Inc()
	}
}
