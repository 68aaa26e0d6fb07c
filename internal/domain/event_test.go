package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/xjson"
)

// --- ExecutionEvent Tests ---

func TestExecutionEvent_JSONPayloadVariant(t *testing.T) {
	runID := uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := []EventPayload{
		RunStarted{},
		NodeCompleted{NodeID: "fetch", Attempt: 2, Output: map[string]any{"status": "ok"}},
		NodeRetryScheduled{NodeID: "fetch", Attempt: 3, ExecuteAt: at.Add(time.Second), Reason: "timeout"},
		CompensationFailed{FailedNodes: map[string]string{"a": "boom"}, Reason: "handler error"},
	}

	for _, payload := range events {
		ev := NewEvent(runID, "acme", at, payload)
		ev.Sequence = 7

		data, err := xjson.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %s: %v", payload.EventType(), err)
		}

		var got ExecutionEvent
		if err := xjson.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", payload.EventType(), err)
		}

		if got.Type != payload.EventType() {
			t.Errorf("expected type %s, got %s", payload.EventType(), got.Type)
		}
		if got.Payload == nil || got.Payload.EventType() != payload.EventType() {
			t.Errorf("payload variant lost for %s: %#v", payload.EventType(), got.Payload)
		}
		if got.Sequence != 7 || got.RunID != runID || got.TenantID != "acme" {
			t.Errorf("envelope mismatch: %+v", got)
		}
	}
}

func TestExecutionEvent_TypedPayloadFields(t *testing.T) {
	ev := NewEvent(uuid.New(), "acme", time.Now().UTC(), NodeFailed{NodeID: "b", Attempt: 1, Error: "refused", Retryable: true})

	data, err := xjson.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	var got ExecutionEvent
	if err := xjson.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	failed, ok := got.Payload.(NodeFailed)
	if !ok {
		t.Fatalf("expected NodeFailed, got %T", got.Payload)
	}
	if failed.NodeID != "b" || failed.Error != "refused" || !failed.Retryable {
		t.Errorf("unexpected payload: %+v", failed)
	}
}

func TestExecutionEvent_UnknownType(t *testing.T) {
	data := []byte(`{"id":"` + uuid.NewString() + `","type":"SOMETHING_ELSE","payload":{}}`)

	var ev ExecutionEvent
	if err := xjson.Unmarshal(data, &ev); err == nil {
		t.Error("expected error for unknown event type")
	}
}

// --- ExecutionHistory Tests ---

func TestExecutionHistory_Sort(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := ExecutionHistory{Events: []ExecutionEvent{
		{Sequence: 3, OccurredAt: at.Add(time.Second), Type: EventRunCompleted},
		{Sequence: 2, OccurredAt: at, Type: EventNodeScheduled},
		{Sequence: 1, OccurredAt: at, Type: EventRunStarted},
	}}

	h.Sort()

	for i, want := range []int64{1, 2, 3} {
		if h.Events[i].Sequence != want {
			t.Errorf("position %d: expected seq %d, got %d", i, want, h.Events[i].Sequence)
		}
	}
	if h.Last().Type != EventRunCompleted {
		t.Errorf("expected last event RUN_COMPLETED, got %s", h.Last().Type)
	}
}
