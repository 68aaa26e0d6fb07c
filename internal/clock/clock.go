// Package clock — источник времени для движка.
//
// Все компоненты, зависящие от времени (retry, heartbeat, circuit breaker),
// получают Clock через Config, чтобы тесты могли управлять временем.
package clock

import (
	"sync"
	"time"
)

// Clock — источник текущего времени.
type Clock interface {
	Now() time.Time
}

// Real — системные часы.
type Real struct{}

// Now возвращает текущее время в UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// New возвращает системные часы.
func New() Clock {
	return Real{}
}

// OrReal возвращает c, либо системные часы, если c == nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// Mock — управляемые часы для тестов.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock создаёт Mock, показывающий время start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now возвращает текущее время Mock.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance сдвигает время вперёд на d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set устанавливает время.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
