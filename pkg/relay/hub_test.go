package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/astromechza/codecollab/pkg/bus"
	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/store"
)

var (
	python = schema.Session{ProjectName: "team", Language: "python"}
	java   = schema.Session{ProjectName: "team", Language: "java"}
)

func newTestHub(t *testing.T, st store.Store, b bus.Bus) *Hub {
	t.Helper()
	h, err := NewHub(context.Background(), HubConfig{
		Store:  st,
		Bus:    b,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h
}

func send(t *testing.T, h *Hub, p *Peer, ev schema.Event) {
	t.Helper()
	raw, err := schema.Encode(ev)
	if err != nil {
		t.Fatal(err)
	}
	h.Receive(context.Background(), p, raw)
}

// next returns the next queued frame for p. Local delivery is synchronous so anything sent is already queued.
func next(t *testing.T, p *Peer) schema.Event {
	t.Helper()
	select {
	case frame, ok := <-p.Outbox():
		if !ok {
			t.Fatalf("peer %s outbox closed", p.ID)
		}
		ev, err := schema.Decode(frame)
		if err != nil {
			t.Fatal(err)
		}
		return ev
	default:
		t.Fatalf("peer %s has nothing queued", p.ID)
		return nil
	}
}

func quiet(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case frame := <-p.Outbox():
		t.Fatalf("peer %s unexpectedly received %s", p.ID, frame)
	default:
	}
}

func join(t *testing.T, h *Hub, s schema.Session) *Peer {
	t.Helper()
	p := h.Attach()
	send(t, h, p, schema.Join{Session: s})
	if _, ok := next(t, p).(schema.FileList); !ok {
		t.Fatal("join did not answer with file_list")
	}
	return p
}

func TestJoinSeedsStarterFiles(t *testing.T) {
	st := store.NewMemory()
	h := newTestHub(t, st, nil)
	first := h.Attach()
	send(t, h, first, schema.Join{Session: python})
	want := schema.FileList{ProjectName: "team", Language: "python", Files: schema.StarterFiles("python")}
	if diff := cmp.Diff(schema.Event(want), next(t, first)); diff != "" {
		t.Fatalf("snapshot (-want +got):\n%s", diff)
	}

	second := join(t, h, python)
	quiet(t, first)
	quiet(t, second)

	if err := h.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	saved, err := st.Load(context.Background(), python)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(schema.StarterFiles("python"), saved); diff != "" {
		t.Fatalf("seeded files not persisted (-want +got):\n%s", diff)
	}
}

func TestJoinLoadsStoredRoom(t *testing.T) {
	st := store.NewMemory()
	stored := []schema.FileEntry{{Filename: "app.py", Content: "x = 1"}}
	_ = st.Save(context.Background(), python, stored)
	h := newTestHub(t, st, nil)
	p := h.Attach()
	send(t, h, p, schema.Join{Session: python})
	got := next(t, p).(schema.FileList)
	if diff := cmp.Diff(stored, got.Files); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestCodeUpdateSkipsSender(t *testing.T) {
	st := store.NewMemory()
	h := newTestHub(t, st, nil)
	alice, bob := join(t, h, python), join(t, h, python)
	other := join(t, h, java)

	update := schema.CodeUpdate{Session: python, Filename: "main.py", Content: "print(1)"}
	send(t, h, alice, update)
	if diff := cmp.Diff(schema.Event(update), next(t, bob)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	quiet(t, alice)
	quiet(t, other)

	if err := h.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	saved, _ := st.Load(context.Background(), python)
	if saved[0].Content != "print(1)" {
		t.Fatalf("saved %q", saved[0].Content)
	}

	// Unknown files are not broadcast.
	send(t, h, alice, schema.CodeUpdate{Session: python, Filename: "ghost.py", Content: "boo"})
	quiet(t, bob)
}

func TestCreateBroadcastsFileList(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	alice, bob := join(t, h, python), join(t, h, python)

	send(t, h, alice, schema.CreateFile{Session: python, Filename: "util.py", Content: "# util"})
	want := schema.Event(schema.FileList{ProjectName: "team", Language: "python", Files: []schema.FileEntry{
		{Filename: "main.py", Content: "print('Hello Python')"},
		{Filename: "util.py", Content: "# util"},
	}})
	for _, p := range []*Peer{alice, bob} {
		if diff := cmp.Diff(want, next(t, p)); diff != "" {
			t.Fatalf("(-want +got):\n%s", diff)
		}
	}

	// A duplicate is rejected by re-sending the unchanged list to everyone.
	send(t, h, bob, schema.CreateFile{Session: python, Filename: "util.py", Content: "other"})
	for _, p := range []*Peer{alice, bob} {
		if diff := cmp.Diff(want, next(t, p)); diff != "" {
			t.Fatalf("(-want +got):\n%s", diff)
		}
	}
}

func TestConcurrentChangesReachMembersInOrder(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	watcher := join(t, h, python)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		author := h.Attach()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				raw, _ := schema.Encode(schema.CreateFile{Session: python, Filename: fmt.Sprintf("w%d_%d.py", w, i)})
				h.Receive(context.Background(), author, raw)
				raw, _ = schema.Encode(schema.CodeUpdate{Session: python, Filename: "main.py", Content: fmt.Sprintf("w%d_%d", w, i)})
				h.Receive(context.Background(), author, raw)
			}
		}()
	}
	wg.Wait()

	var last schema.FileList
	var lastContent string
	frames := 0
	for {
		select {
		case frame := <-watcher.Outbox():
			ev, err := schema.Decode(frame)
			if err != nil {
				t.Fatal(err)
			}
			switch ev := ev.(type) {
			case schema.FileList:
				last = ev
			case schema.CodeUpdate:
				lastContent = ev.Content
			}
			frames++
			continue
		default:
		}
		break
	}
	if frames != 160 {
		t.Fatalf("watcher received %d frames, want 160", frames)
	}

	files, err := h.Files(context.Background(), python)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(names(files), names(last.Files)); diff != "" {
		t.Fatalf("last file_list differs from the room (-room +received):\n%s", diff)
	}
	h.mu.Lock()
	main, _ := h.rooms[python].files.Get("main.py")
	h.mu.Unlock()
	if main.Content != lastContent {
		t.Fatalf("last code_update %q, room holds %q", lastContent, main.Content)
	}
}

func TestRenameAndDelete(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	alice := join(t, h, python)
	send(t, h, alice, schema.CreateFile{Session: python, Filename: "b.py"})
	next(t, alice)

	send(t, h, alice, schema.RenameFile{Session: python, OldName: "main.py", NewName: "b.py"})
	got := next(t, alice).(schema.FileList)
	if diff := cmp.Diff([]string{"main.py", "b.py"}, names(got.Files)); diff != "" {
		t.Fatalf("colliding rename applied (-want +got):\n%s", diff)
	}

	send(t, h, alice, schema.RenameFile{Session: python, OldName: "main.py", NewName: "app.py"})
	got = next(t, alice).(schema.FileList)
	if diff := cmp.Diff([]string{"app.py", "b.py"}, names(got.Files)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	send(t, h, alice, schema.DeleteFile{Session: python, Filename: "app.py"})
	got = next(t, alice).(schema.FileList)
	if diff := cmp.Diff([]string{"b.py"}, names(got.Files)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestMalformedFramesIgnored(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	alice, bob := join(t, h, python), join(t, h, python)
	for _, raw := range []string{`{`, `{"event":"code_update","data":{"projectName":"team"}}`, `{"event":"shout","data":{}}`} {
		h.Receive(context.Background(), alice, []byte(raw))
	}
	quiet(t, alice)
	quiet(t, bob)
}

func TestRejoinMovesRooms(t *testing.T) {
	h := newTestHub(t, store.NewMemory(), nil)
	alice, bob := join(t, h, python), join(t, h, python)
	send(t, h, bob, schema.Join{Session: java})
	next(t, bob)
	send(t, h, alice, schema.CodeUpdate{Session: python, Filename: "main.py", Content: "moved"})
	quiet(t, bob)
}

func TestRelaysShareRoomsThroughBus(t *testing.T) {
	b := bus.NewLocal()
	st := store.NewMemory()
	east, west := newTestHub(t, st, b), newTestHub(t, st, b)
	alice, bob := join(t, east, python), join(t, west, python)

	send(t, east, alice, schema.CodeUpdate{Session: python, Filename: "main.py", Content: "from east"})
	if u, ok := next(t, bob).(schema.CodeUpdate); !ok || u.Content != "from east" {
		t.Fatalf("bob got %v", u)
	}
	quiet(t, alice)
	files, _ := west.Files(context.Background(), python)
	if files[0].Content != "from east" {
		t.Fatalf("west copy = %q", files[0].Content)
	}

	send(t, west, bob, schema.CreateFile{Session: python, Filename: "west.py"})
	for _, p := range []*Peer{alice, bob} {
		if got := next(t, p).(schema.FileList); len(got.Files) != 2 {
			t.Fatalf("peer %s got %v", p.ID, got.Files)
		}
	}
	files, _ = east.Files(context.Background(), python)
	if diff := cmp.Diff([]string{"main.py", "west.py"}, names(files)); diff != "" {
		t.Fatalf("east copy (-want +got):\n%s", diff)
	}
}

func TestSlowPeerDisconnected(t *testing.T) {
	h, err := NewHub(context.Background(), HubConfig{
		Store:  store.NewMemory(),
		Outbox: 1,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	alice := join(t, h, python)
	slow := h.Attach()
	send(t, h, slow, schema.Join{Session: python})
	// slow never reads: its single slot is full, so the next broadcast drops it.
	send(t, h, alice, schema.CodeUpdate{Session: python, Filename: "main.py", Content: "1"})

	<-slow.Outbox()
	if _, ok := <-slow.Outbox(); ok {
		t.Fatal("slow peer outbox still open")
	}
	if stats := h.Stats(); stats.Peers != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	h.Detach(slow)
}

func TestFilesAndEviction(t *testing.T) {
	st := store.NewMemory()
	h := newTestHub(t, st, nil)
	files, err := h.Files(context.Background(), schema.Session{ProjectName: "new", Language: "html"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 || files[0].Filename != "index.html" {
		t.Fatalf("files = %v", names(files))
	}
	if h.Stats().Rooms != 0 {
		t.Fatal("Files must not load the room")
	}

	alice := join(t, h, python)
	h.Detach(alice)
	// First flush persists the seeded room, the second forgets it.
	_ = h.Flush(context.Background())
	if h.Stats().Rooms != 1 {
		t.Fatalf("stats = %+v", h.Stats())
	}
	_ = h.Flush(context.Background())
	if h.Stats().Rooms != 0 {
		t.Fatalf("stats = %+v", h.Stats())
	}
}

type failingStore struct {
	store.Store
}

func (failingStore) Save(context.Context, schema.Session, []schema.FileEntry) error {
	return errors.New("disk full")
}

func TestFlushFailureKeepsRoomDirty(t *testing.T) {
	h := newTestHub(t, failingStore{store.NewMemory()}, nil)
	alice := join(t, h, python)
	h.Detach(alice)
	if err := h.Flush(context.Background()); err == nil {
		t.Fatal("flush should fail")
	}
	if err := h.Flush(context.Background()); err == nil {
		t.Fatal("room should still be dirty")
	}
	if h.Stats().Rooms != 1 {
		t.Fatal("dirty room was evicted")
	}
}

func names(files []schema.FileEntry) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Filename
	}
	return out
}
