// Package relay is the room server. It holds the authoritative file collection of every active room, applies the
// create/rename/delete/code_update events sent by clients, and fans the results out to the other members of the
// room through a bus.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astromechza/codecollab/pkg/bus"
	"github.com/astromechza/codecollab/pkg/replica"
	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/store"
)

// DefaultOutbox is the number of frames queued for a peer before it is considered too slow and disconnected.
const DefaultOutbox = 256

type HubConfig struct {
	Store  store.Store
	Bus    bus.Bus
	Logger *slog.Logger
	Outbox int
}

// Peer is one connected client. Frames for it are read from Outbox; the channel is closed when the hub drops it.
type Peer struct {
	ID   string
	send chan []byte

	// guarded by Hub.mu
	room   schema.Session
	joined bool
	closed bool
}

func (p *Peer) Outbox() <-chan []byte {
	return p.send
}

type room struct {
	files   *replica.Replica
	members map[*Peer]struct{}
	dirty   bool
}

type Hub struct {
	id     string
	store  store.Store
	bus    bus.Bus
	logger *slog.Logger
	outbox int

	// order is held from applying a change until it is published, so members see changes in the order they were
	// applied. It is always taken before mu; a Local bus delivers while it is held.
	order sync.Mutex

	mu    sync.Mutex
	rooms map[schema.Session]*room
	peers map[string]*Peer

	unsubscribe func()
}

func NewHub(ctx context.Context, cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewLocal()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = DefaultOutbox
	}
	h := &Hub{
		id:     uuid.NewString(),
		store:  cfg.Store,
		bus:    cfg.Bus,
		outbox: cfg.Outbox,
		rooms:  make(map[schema.Session]*room),
		peers:  make(map[string]*Peer),
	}
	h.logger = cfg.Logger.With("relay", h.id)
	unsubscribe, err := h.bus.Subscribe(ctx, h.deliver)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	h.unsubscribe = unsubscribe
	return h, nil
}

// Attach registers a new peer. It is not in any room until it sends join.
func (h *Hub) Attach() *Peer {
	p := &Peer{ID: uuid.NewString(), send: make(chan []byte, h.outbox)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.ID] = p
	h.logger.Info("peer attached", "peer", p.ID, "peers", len(h.peers))
	return p
}

// Detach removes a peer and closes its outbox. It is safe to call more than once.
func (h *Hub) Detach(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.ID]; !ok {
		return
	}
	h.dropLocked(p)
	h.logger.Info("peer detached", "peer", p.ID, "peers", len(h.peers))
}

func (h *Hub) dropLocked(p *Peer) {
	delete(h.peers, p.ID)
	if p.joined {
		if r, ok := h.rooms[p.room]; ok {
			delete(r.members, p)
		}
	}
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// Receive handles one frame sent by p. Frames that do not decode are dropped.
func (h *Hub) Receive(ctx context.Context, p *Peer, raw []byte) {
	ev, err := schema.Decode(raw)
	if err != nil {
		h.logger.Debug("dropping frame", "peer", p.ID, "err", err)
		return
	}
	switch ev := ev.(type) {
	case schema.Join:
		h.join(ctx, p, ev.Session)
	case schema.CodeUpdate:
		h.codeUpdate(ctx, p, ev)
	case schema.CreateFile, schema.RenameFile, schema.DeleteFile:
		h.mutate(ctx, p, ev)
	default:
		h.logger.Debug("ignoring event from peer", "peer", p.ID, "event", ev.Type())
	}
}

func (h *Hub) join(ctx context.Context, p *Peer, s schema.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.closed {
		return
	}
	r, err := h.ensureLocked(ctx, s)
	if err != nil {
		h.logger.Error("failed to load room", "room", s.Room(), "err", err)
		return
	}
	if p.joined {
		if old, ok := h.rooms[p.room]; ok {
			delete(old.members, p)
		}
	}
	p.room, p.joined = s, true
	r.members[p] = struct{}{}
	h.logger.Info("peer joined", "peer", p.ID, "room", s.Room(), "members", len(r.members))

	frame, err := schema.Encode(snapshot(s, r))
	if err != nil {
		h.logger.Error("failed to encode snapshot", "err", err)
		return
	}
	h.enqueueLocked(p, frame)
}

func (h *Hub) codeUpdate(ctx context.Context, p *Peer, ev schema.CodeUpdate) {
	h.order.Lock()
	defer h.order.Unlock()
	h.mu.Lock()
	r, err := h.ensureLocked(ctx, ev.Session)
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("failed to load room", "room", ev.Room(), "err", err)
		return
	}
	if !r.files.Update(ev.Filename, ev.Content) {
		h.mu.Unlock()
		h.logger.Debug("code_update for unknown file", "room", ev.Room(), "filename", ev.Filename)
		return
	}
	r.dirty = true
	h.mu.Unlock()
	h.publish(ctx, ev.Session, p.ID, ev)
}

// mutate applies a create, rename or delete. Whether it succeeds or is rejected, the room receives the resulting
// authoritative file_list.
func (h *Hub) mutate(ctx context.Context, p *Peer, ev schema.Event) {
	s, _ := ev.Scope()
	h.order.Lock()
	defer h.order.Unlock()
	h.mu.Lock()
	r, err := h.ensureLocked(ctx, s)
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("failed to load room", "room", s.Room(), "err", err)
		return
	}
	switch ev := ev.(type) {
	case schema.CreateFile:
		err = r.files.Create(ev.Filename, ev.Content)
	case schema.RenameFile:
		err = r.files.Rename(ev.OldName, ev.NewName)
	case schema.DeleteFile:
		err = r.files.Delete(ev.Filename)
	}
	if err != nil {
		h.logger.Info("rejected change", "peer", p.ID, "room", s.Room(), "event", ev.Type(), "err", err)
	} else {
		r.dirty = true
	}
	list := snapshot(s, r)
	h.mu.Unlock()
	h.publish(ctx, s, "", list)
}

func snapshot(s schema.Session, r *room) schema.FileList {
	return schema.FileList{ProjectName: s.ProjectName, Language: s.Language, Files: r.files.Files()}
}

// ensureLocked returns the cached room, loading it from the store or seeding it with starter files.
func (h *Hub) ensureLocked(ctx context.Context, s schema.Session) (*room, error) {
	if r, ok := h.rooms[s]; ok {
		return r, nil
	}
	files, err := h.store.Load(ctx, s)
	seeded := false
	if errors.Is(err, store.ErrNotFound) {
		files, seeded = schema.StarterFiles(s.Language), true
	} else if err != nil {
		return nil, err
	}
	r := &room{files: replica.New(files...), members: make(map[*Peer]struct{}), dirty: seeded}
	h.rooms[s] = r
	h.logger.Info("room loaded", "room", s.Room(), "files", r.files.Len(), "seeded", seeded)
	return r, nil
}

func (h *Hub) publish(ctx context.Context, s schema.Session, origin string, ev schema.Event) {
	frame, err := schema.Encode(ev)
	if err != nil {
		h.logger.Error("failed to encode", "event", ev.Type(), "err", err)
		return
	}
	if err := h.bus.Publish(ctx, bus.Message{Room: s, Relay: h.id, Origin: origin, Payload: frame}); err != nil {
		h.logger.Error("failed to publish", "room", s.Room(), "err", err)
	}
}

// deliver is the bus handler. Messages from other relays are also applied to the local copy of the room.
func (h *Hub) deliver(m bus.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[m.Room]
	if !ok {
		return
	}
	if m.Relay != h.id {
		ev, err := schema.Decode(m.Payload)
		if err != nil {
			h.logger.Warn("dropping bus message", "room", m.Room.Room(), "err", err)
			return
		}
		switch ev := ev.(type) {
		case schema.FileList:
			r.files.Replace(ev.Files)
		case schema.CodeUpdate:
			r.files.Update(ev.Filename, ev.Content)
		}
	}
	for p := range r.members {
		if p.ID != m.Origin {
			h.enqueueLocked(p, m.Payload)
		}
	}
}

func (h *Hub) enqueueLocked(p *Peer, frame []byte) {
	if p.closed {
		return
	}
	select {
	case p.send <- frame:
	default:
		h.logger.Warn("peer is not keeping up, disconnecting", "peer", p.ID)
		h.dropLocked(p)
	}
}

// Files returns the current collection of a room without joining it. Rooms that do not exist yet report their
// starter files.
func (h *Hub) Files(ctx context.Context, s schema.Session) ([]schema.FileEntry, error) {
	h.mu.Lock()
	if r, ok := h.rooms[s]; ok {
		defer h.mu.Unlock()
		return r.files.Files(), nil
	}
	h.mu.Unlock()
	files, err := h.store.Load(ctx, s)
	if errors.Is(err, store.ErrNotFound) {
		return schema.StarterFiles(s.Language), nil
	}
	return files, err
}

type Stats struct {
	Rooms int `json:"rooms"`
	Peers int `json:"peers"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Rooms: len(h.rooms), Peers: len(h.peers)}
}

// Flush saves every room changed since the last flush and forgets rooms that are clean and empty.
func (h *Hub) Flush(ctx context.Context) error {
	type pending struct {
		room  schema.Session
		files []schema.FileEntry
	}
	var todo []pending
	h.mu.Lock()
	for s, r := range h.rooms {
		if r.dirty {
			todo = append(todo, pending{room: s, files: r.files.Files()})
			r.dirty = false
		} else if len(r.members) == 0 {
			delete(h.rooms, s)
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, p := range todo {
		if err := h.store.Save(ctx, p.room, p.files); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %s: %w", p.room.Room(), err))
			h.mu.Lock()
			if r, ok := h.rooms[p.room]; ok {
				r.dirty = true
			}
			h.mu.Unlock()
			continue
		}
		h.logger.Info("backed up", "room", p.room.Room(), "files", len(p.files))
	}
	return errors.Join(errs...)
}

// Run flushes on every tick until ctx is done, then flushes one final time.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := h.Flush(ctx); err != nil {
				h.logger.Error("failed to backup rooms", "err", err)
			}
		case <-ctx.Done():
			if err := h.Flush(context.Background()); err != nil {
				h.logger.Error("failed to backup rooms", "err", err)
			}
			return
		}
	}
}

// Close detaches from the bus and drops every peer.
func (h *Hub) Close() {
	h.unsubscribe()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		h.dropLocked(p)
	}
}
