package clock

import (
	"testing"
	"time"
)

func TestMock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	if !m.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, m.Now())
	}

	m.Advance(30 * time.Second)
	if got := m.Now().Sub(start); got != 30*time.Second {
		t.Errorf("expected 30s elapsed, got %v", got)
	}

	later := start.Add(time.Hour)
	m.Set(later)
	if !m.Now().Equal(later) {
		t.Errorf("expected %v after Set, got %v", later, m.Now())
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Error("nil clock should fall back to Real")
	}

	m := NewMock(time.Now())
	if OrReal(m) != Clock(m) {
		t.Error("non-nil clock should be returned as is")
	}
}
