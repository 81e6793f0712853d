// Package store persists the authoritative file collection of each room on the relay.
package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/astromechza/codecollab/pkg/schema"
)

// ErrNotFound is returned by Load for a room that has never been saved.
var ErrNotFound = errors.New("room not found")

// Store holds one ordered file collection per room. Save replaces the whole collection.
type Store interface {
	Load(ctx context.Context, room schema.Session) ([]schema.FileEntry, error)
	Save(ctx context.Context, room schema.Session, files []schema.FileEntry) error
	Rooms(ctx context.Context) ([]schema.Session, error)
	Close() error
}

// Memory is a Store that keeps everything in process memory.
type Memory struct {
	mu    sync.Mutex
	rooms map[schema.Session][]schema.FileEntry
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[schema.Session][]schema.FileEntry)}
}

func (m *Memory) Load(_ context.Context, room schema.Session) ([]schema.FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.rooms[room]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(files), nil
}

func (m *Memory) Save(_ context.Context, room schema.Session, files []schema.FileEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room] = slices.Clone(files)
	return nil
}

func (m *Memory) Rooms(_ context.Context) ([]schema.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Session, 0, len(m.rooms))
	for room := range m.rooms {
		out = append(out, room)
	}
	sortRooms(out)
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

func sortRooms(rooms []schema.Session) {
	slices.SortFunc(rooms, func(a, b schema.Session) int {
		return cmp.Or(cmp.Compare(a.ProjectName, b.ProjectName), cmp.Compare(a.Language, b.Language))
	})
}
