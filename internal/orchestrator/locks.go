package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// runLocks — мьютексы по ID run со счётчиком ссылок.
// Запись удаляется, когда её больше никто не держит и не ждёт.
type runLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[uuid.UUID]*runLock)}
}

// lock захватывает мьютекс run и возвращает функцию освобождения.
func (l *runLocks) lock(runID uuid.UUID) func() {
	l.mu.Lock()
	rl, ok := l.locks[runID]
	if !ok {
		rl = &runLock{}
		l.locks[runID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, runID)
		}
		l.mu.Unlock()
	}
}

// size — количество run с захваченным или ожидаемым мьютексом.
func (l *runLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
