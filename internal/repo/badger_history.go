package repo

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// BadgerHistoryStore — встроенный журнал событий на badger.
//
// Ключ события: history/<runId>/<sequence, 20 цифр>, поэтому
// обход по префиксу отдаёт события в порядке номеров.
type BadgerHistoryStore struct {
	db *badger.DB
}

// OpenBadgerHistory открывает журнал в каталоге dir.
// Пустой dir открывает журнал в памяти.
func OpenBadgerHistory(dir string) (*BadgerHistoryStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerHistoryStore{db: db}, nil
}

// Close закрывает базу.
func (s *BadgerHistoryStore) Close() error {
	return s.db.Close()
}

// Append дописывает события. Номер не больше последнего даёт ErrAlreadyExists.
func (s *BadgerHistoryStore) Append(_ context.Context, runID uuid.UUID, events []domain.ExecutionEvent) error {
	if len(events) == 0 {
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		last, err := lastSequence(txn, runID)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if ev.Sequence <= last {
				return fmt.Errorf("event %d of run %s: %w", ev.Sequence, runID, ErrAlreadyExists)
			}
			raw, err := xjson.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal event %d: %w", ev.Sequence, err)
			}
			if err := txn.Set(eventKey(runID, ev.Sequence), raw); err != nil {
				return fmt.Errorf("set event %d: %w", ev.Sequence, err)
			}
			last = ev.Sequence
		}
		return nil
	})
}

// Events возвращает события run в порядке номеров.
func (s *BadgerHistoryStore) Events(_ context.Context, runID uuid.UUID) ([]domain.ExecutionEvent, error) {
	events := []domain.ExecutionEvent{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := historyPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev domain.ExecutionEvent
				if err := xjson.Unmarshal(val, &ev); err != nil {
					return fmt.Errorf("unmarshal event: %w", err)
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// --- Helpers ---

func historyPrefix(runID uuid.UUID) []byte {
	return []byte("history/" + runID.String() + "/")
}

func eventKey(runID uuid.UUID, seq int64) []byte {
	return fmt.Appendf(historyPrefix(runID), "%020d", seq)
}

// lastSequence — номер последнего события run или 0.
func lastSequence(txn *badger.Txn, runID uuid.UUID) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := historyPrefix(runID)
	it.Seek(append(prefix, 0xFF))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	var seq int64
	key := it.Item().Key()[len(prefix):]
	if _, err := fmt.Sscanf(string(key), "%d", &seq); err != nil {
		return 0, fmt.Errorf("parse event key %q: %w", key, err)
	}
	return seq, nil
}
