// Package transport connects a client to a relay over a websocket. It reconnects with exponential backoff and calls
// back on every (re)connection so the caller can join its room again and receive a fresh snapshot.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/astromechza/codecollab/pkg/clock"
	"github.com/astromechza/codecollab/pkg/schema"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrQueueFull    = errors.New("send queue full")
)

const DefaultQueue = 64

type Config struct {
	// URL is the relay's websocket endpoint, for example ws://localhost:8080/ws.
	URL    string
	Dialer *websocket.Dialer
	Clock  clock.Clock
	Logger *slog.Logger
	// Queue bounds the frames waiting to be written on the current connection.
	Queue int
	// NewBackOff builds the reconnect schedule. It defaults to an exponential backoff that never gives up.
	NewBackOff func() backoff.BackOff
}

type Client struct {
	url        string
	dialer     *websocket.Dialer
	clock      clock.Clock
	logger     *slog.Logger
	queue      int
	newBackOff func() backoff.BackOff

	mu  sync.Mutex
	out chan []byte
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Client{
		url:        cfg.URL,
		dialer:     cfg.Dialer,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With("relay", cfg.URL),
		queue:      cfg.Queue,
		newBackOff: cfg.NewBackOff,
	}, nil
}

// Emit queues an event on the current connection. It never blocks: it fails with ErrNotConnected while
// disconnected and ErrQueueFull when the connection is not draining.
func (c *Client) Emit(ev schema.Event) error {
	raw, err := schema.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return ErrNotConnected
	}
	select {
	case c.out <- raw:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out != nil
}

// Run keeps a connection open until ctx is done. onConnect is called once per established connection, after which
// Emit succeeds, and before any inbound frame is passed to onMessage. Both callbacks run on the connection's
// reader goroutine and must not block for long.
func (c *Client) Run(ctx context.Context, onConnect func(), onMessage func([]byte)) error {
	b := c.newBackOff()
	for {
		connected, err := c.connectAndServe(ctx, onConnect, onMessage)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("giving up on %s: %w", c.url, err)
		}
		c.logger.Warn("disconnected, will retry", "err", err, "wait", wait)
		select {
		case <-c.clock.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context, onConnect func(), onMessage func([]byte)) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	c.logger.Info("connected")

	out := make(chan []byte, c.queue)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
	}()

	stop := make(chan struct{})
	wg := new(sync.WaitGroup)
	var readErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		onConnect()
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				readErr = fmt.Errorf("failed to read message: %w", err)
				return
			}
			if mt == websocket.TextMessage {
				onMessage(p)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		for {
			select {
			case frame := <-out:
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					c.logger.Error("failed to write message", "err", err)
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				// Frames emitted before cancellation still go out.
			drain:
				for {
					select {
					case frame := <-out:
						if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
							return
						}
					default:
						break drain
					}
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()

	wg.Wait()
	return true, readErr
}
