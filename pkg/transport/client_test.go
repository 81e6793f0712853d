package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/astromechza/codecollab/pkg/schema"
)

var room = schema.Session{ProjectName: "team", Language: "python"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// relayStub answers every join with a file_list naming the connection number, and drops the first connection
// right after answering.
func relayStub(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ev, err := schema.Decode(raw)
			if err != nil {
				t.Errorf("relay got bad frame: %v", err)
				return
			}
			if _, ok := ev.(schema.Join); !ok {
				continue
			}
			name := "conn" + string(rune('0'+n)) + ".py"
			reply, _ := schema.Encode(schema.FileList{Files: []schema.FileEntry{{Filename: name}}})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
			if n == 1 {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &connections
}

func TestRejoinsAfterReconnect(t *testing.T) {
	srv, connections := relayStub(t)
	c, err := New(Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger:     quietLogger(),
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) },
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snapshots := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func() {
			if err := c.Emit(schema.Join{Session: room}); err != nil {
				t.Errorf("join failed: %v", err)
			}
		}, func(raw []byte) {
			ev, err := schema.Decode(raw)
			if err != nil {
				t.Errorf("bad frame: %v", err)
				return
			}
			if list, ok := ev.(schema.FileList); ok {
				snapshots <- list.Files[0].Filename
			}
		})
	}()

	for _, want := range []string{"conn1.py", "conn2.py"} {
		select {
		case got := <-snapshots:
			if got != want {
				t.Fatalf("snapshot from %s, want %s", got, want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if n := connections.Load(); n != 2 {
		t.Fatalf("connections = %d", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if c.Connected() {
		t.Fatal("still connected after Run returned")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c, err := New(Config{URL: "ws://127.0.0.1:1/ws", Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Emit(schema.Join{Session: room}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("error = %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	c := &Client{out: make(chan []byte, 1)}
	if err := c.Emit(schema.Join{Session: room}); err != nil {
		t.Fatal(err)
	}
	if err := c.Emit(schema.Join{Session: room}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("error = %v", err)
	}
}

func TestGivesUp(t *testing.T) {
	c, err := New(Config{
		URL:        "ws://127.0.0.1:1/ws",
		Logger:     quietLogger(),
		NewBackOff: func() backoff.BackOff { return &backoff.StopBackOff{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Run(context.Background(), func() { t.Error("connected to a closed port") }, func([]byte) {})
	if err == nil {
		t.Fatal("Run should give up")
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFramesEmittedBeforeCancelAreSent(t *testing.T) {
	received := make(chan schema.Event, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if ev, err := schema.Decode(raw); err == nil {
				received <- ev
			}
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	connected := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func() { close(connected) }, func([]byte) {})
	}()
	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("never connected")
	}

	update := schema.CodeUpdate{Session: room, Filename: "main.py", Content: "last words"}
	if err := c.Emit(update); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	select {
	case got := <-received:
		if got != schema.Event(update) {
			t.Fatalf("relay received %#v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("frame emitted before cancel was lost")
	}
}
