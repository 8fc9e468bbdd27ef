package notify

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMessage_MarshalJSON(t *testing.T) {
	msg := OrderUpdated(3, 42, map[string]any{"is_urgent": true, "type": "ignored"})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["type"] != "order_updated" {
		t.Errorf("expected fixed type to win, got %v", got["type"])
	}
	if got["project_id"] != float64(3) || got["order_id"] != float64(42) {
		t.Errorf("unexpected ids %v", got)
	}
	if got["is_urgent"] != true {
		t.Errorf("expected payload field to be flattened, got %v", got)
	}
}

func TestNew(t *testing.T) {
	p, err := New("", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop without url, got %T", p)
	}
	if err := p.Publish(context.Background(), OrderUpdated(1, 1, nil)); err != nil {
		t.Errorf("nop publish: %v", err)
	}

	if _, err := New("://bad", ""); err == nil {
		t.Error("expected an invalid url error")
	}

	rp, err := New("redis://localhost:6379/0", "")
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer rp.Close()
	if ch := rp.(*RedisPublisher).Channel(); ch != DefaultChannel {
		t.Errorf("expected default channel, got %s", ch)
	}
}
