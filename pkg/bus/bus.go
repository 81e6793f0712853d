// Package bus fans room traffic out between relay processes. A relay publishes every frame it broadcasts; each
// subscribed relay, including the publisher, delivers it to its own connections in that room.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/astromechza/codecollab/pkg/schema"
)

var ErrClosed = errors.New("bus closed")

// Message is one frame addressed to a room. Relay names the publishing relay. Origin names the connection that
// caused it, which does not receive it back; an empty Origin reaches every connection.
type Message struct {
	Room    schema.Session `cbor:"1,keyasint"`
	Relay   string         `cbor:"2,keyasint,omitempty"`
	Origin  string         `cbor:"3,keyasint,omitempty"`
	Payload []byte         `cbor:"4,keyasint"`
}

type Handler func(Message)

type Bus interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe registers h for every message published after it returns. The returned function unsubscribes.
	Subscribe(ctx context.Context, h Handler) (func(), error)
	Close() error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("bus: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{MaxByteStringLen: 16 << 20}).DecMode(); err != nil {
		panic("bus: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(m Message) ([]byte, error) {
	return encMode.Marshal(m)
}

func Unmarshal(raw []byte) (Message, error) {
	var m Message
	if err := decMode.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode bus message: %w", err)
	}
	if err := m.Room.Validate(); err != nil {
		return Message{}, fmt.Errorf("bus message has no room: %w", err)
	}
	return m, nil
}

// Local delivers messages synchronously to subscribers in the same process.
type Local struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	closed   bool
}

func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

func (l *Local) Publish(_ context.Context, m Message) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()
	for _, h := range handlers {
		h(m)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	id := l.next
	l.next++
	l.handlers[id] = h
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, id)
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	clear(l.handlers)
	return nil
}
