package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/store"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, ev schema.Event) {
	t.Helper()
	raw, err := schema.Encode(ev)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, conn *websocket.Conn) schema.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	ev, err := schema.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestWebsocketRoundTrip(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	alice, bob := dial(t, srv), dial(t, srv)
	write(t, alice, schema.Join{Session: python})
	read(t, alice)
	write(t, bob, schema.Join{Session: python})
	read(t, bob)

	update := schema.CodeUpdate{Session: python, Filename: "main.py", Content: "print('from alice')"}
	write(t, alice, update)
	if diff := cmp.Diff(schema.Event(update), read(t, bob)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	write(t, bob, schema.DeleteFile{Session: python, Filename: "main.py"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		got, ok := read(t, conn).(schema.FileList)
		if !ok || len(got.Files) != 0 {
			t.Fatalf("got %v", got)
		}
	}
}

func TestGetFiles(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/files/team/ruby")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Files []schema.FileEntry `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(schema.StarterFiles("ruby"), body.Files); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	resp, err = http.Post(srv.URL+"/api/files/team/ruby", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || stats != (Stats{}) {
		t.Fatalf("status %d stats %+v", rec.Code, stats)
	}
}

type brokenConn struct {
	writes int
	closed bool
}

func (c *brokenConn) WriteMessage(int, []byte) error {
	c.writes++
	return errors.New("broken pipe")
}

func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (c *brokenConn) Close() error {
	c.closed = true
	return nil
}

func TestFailedWriteDetachesPeer(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	watcher := join(t, h, python)
	author := join(t, h, python)
	send(t, h, author, schema.CodeUpdate{Session: python, Filename: "main.py", Content: "x = 1"})

	conn := new(brokenConn)
	h.writePump(conn, watcher)
	if conn.writes != 1 || !conn.closed {
		t.Fatalf("writes = %d, closed = %v", conn.writes, conn.closed)
	}
	if got := h.Stats().Peers; got != 1 {
		t.Fatalf("peers = %d after a failed write", got)
	}
	if _, ok := <-watcher.Outbox(); ok {
		t.Fatal("detached peer still has an open outbox")
	}

	// Publishing to the room no longer touches the detached peer.
	send(t, h, author, schema.CodeUpdate{Session: python, Filename: "main.py", Content: "x = 2"})
	quiet(t, author)
	late := join(t, h, python)
	quiet(t, late)
	if got := h.Stats().Peers; got != 2 {
		t.Fatalf("peers = %d", got)
	}
}
