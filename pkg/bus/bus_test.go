package bus

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/astromechza/codecollab/pkg/schema"
)

var room = schema.Session{ProjectName: "team", Language: "python"}

func TestLocalFanOut(t *testing.T) {
	ctx := context.Background()
	b := NewLocal()
	var first, second []Message
	unsubscribe, err := b.Subscribe(ctx, func(m Message) { first = append(first, m) })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe(ctx, func(m Message) { second = append(second, m) }); err != nil {
		t.Fatal(err)
	}

	m := Message{Room: room, Origin: "conn-1", Payload: []byte(`{}`)}
	if err := b.Publish(ctx, m); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := b.Publish(ctx, m); err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 2 {
		t.Fatalf("deliveries = %d, %d", len(first), len(second))
	}

	_ = b.Close()
	if err := b.Publish(ctx, m); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close error = %v", err)
	}
	if _, err := b.Subscribe(ctx, func(Message) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close error = %v", err)
	}
}

func TestFraming(t *testing.T) {
	m := Message{Room: room, Payload: []byte(`{"event":"join"}`)}
	raw, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != string(again) {
		t.Fatal("encoding is not deterministic")
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	if _, err := Unmarshal([]byte("not cbor")); err == nil {
		t.Fatal("garbage decoded")
	}
	roomless, _ := Marshal(Message{Payload: []byte("x")})
	if _, err := Unmarshal(roomless); err == nil {
		t.Fatal("message without a room decoded")
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := NewRedis(ctx, addr, "codecollab:test:"+t.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })

	received := make(chan Message, 1)
	unsubscribe, err := b.Subscribe(ctx, func(m Message) { received <- m })
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	want := Message{Room: room, Relay: "relay-1", Origin: "conn-1", Payload: []byte(`{"event":"join"}`)}
	if err := b.Publish(ctx, want); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("(-want +got):\n%s", diff)
		}
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}
