package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := NewJSON(TypeAttendanceCommitted, map[string]string{"member_id": "m-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-msgs:
		if got.Type != TypeAttendanceCommitted {
			t.Fatalf("type = %q", got.Type)
		}
		var body map[string]string
		if err := got.Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["member_id"] != "m-1" {
			t.Fatalf("body = %v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestSerializeKeepsPipesInBody(t *testing.T) {
	in := Message{Type: "t", Body: []byte(`{"a":"x|y"}`)}
	out := deserialize(serialize(in))
	if out.Type != "t" || string(out.Body) != `{"a":"x|y"}` {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	raw := deserialize("no-separator")
	if raw.Type != "" || string(raw.Body) != "no-separator" {
		t.Fatalf("unexpected %+v", raw)
	}
}
