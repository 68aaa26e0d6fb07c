package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
)

// RetryQueue — упорядоченная по времени очередь отложенных повторов.
//
// Одна запись на (RunID, NodeID): повторный Schedule заменяет запись.
// PopDue атомарно забирает записи, поэтому одна запись достаётся
// только одному вызывающему.
type RetryQueue interface {
	Schedule(ctx context.Context, entry domain.RetryEntry) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryEntry, error)
	RemoveRun(ctx context.Context, runID uuid.UUID) (int, error)
	Len(ctx context.Context) (int, error)
}

// queueItem — элемент btree, упорядоченный по (ExecuteAt, key).
type queueItem struct {
	at    time.Time
	key   string
	entry domain.RetryEntry
}

func lessItem(a, b queueItem) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.key < b.key
}

// MemoryRetryQueue — RetryQueue в памяти процесса на btree.
type MemoryRetryQueue struct {
	mu    sync.Mutex
	tree  *btree.BTreeG[queueItem]
	byKey map[string]queueItem
}

// NewMemoryRetryQueue создаёт пустую очередь.
func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{
		tree:  btree.NewG(16, lessItem),
		byKey: make(map[string]queueItem),
	}
}

// Schedule добавляет или заменяет запись.
func (q *MemoryRetryQueue) Schedule(_ context.Context, entry domain.RetryEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := entry.Key()
	if old, ok := q.byKey[key]; ok {
		q.tree.Delete(old)
	}

	item := queueItem{at: entry.ExecuteAt, key: key, entry: entry}
	q.tree.ReplaceOrInsert(item)
	q.byKey[key] = item
	return nil
}

// PopDue забирает до limit записей с ExecuteAt <= now в порядке времени.
func (q *MemoryRetryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]domain.RetryEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []queueItem
	q.tree.Ascend(func(item queueItem) bool {
		if item.at.After(now) || (limit > 0 && len(due) >= limit) {
			return false
		}
		due = append(due, item)
		return true
	})

	entries := make([]domain.RetryEntry, 0, len(due))
	for _, item := range due {
		q.tree.Delete(item)
		delete(q.byKey, item.key)
		entries = append(entries, item.entry)
	}
	return entries, nil
}

// RemoveRun удаляет все записи run'а.
func (q *MemoryRetryQueue) RemoveRun(_ context.Context, runID uuid.UUID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for key, item := range q.byKey {
		if item.entry.RunID == runID {
			q.tree.Delete(item)
			delete(q.byKey, key)
			removed++
		}
	}
	return removed, nil
}

// Len возвращает количество записей.
func (q *MemoryRetryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len(), nil
}
