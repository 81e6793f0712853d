package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/codecollab/pkg/collab"
	"github.com/astromechza/codecollab/pkg/config"
	"github.com/astromechza/codecollab/pkg/discovery"
	"github.com/astromechza/codecollab/pkg/loop"
	"github.com/astromechza/codecollab/pkg/services"
	"github.com/astromechza/codecollab/pkg/transport"
)

func main() {
	if err := mainInner(); err != nil {
		if errors.Is(err, config.ErrHelp) {
			return
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.LoadClient(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayURL := cfg.Relay
	if cfg.Discover {
		if relayURL, err = discoverRelay(ctx); err != nil {
			return err
		}
	}

	conn, err := transport.New(transport.Config{URL: relayURL, Logger: logger})
	if err != nil {
		return err
	}

	lp := loop.New(64)
	surface := collab.NewMemorySurface()
	s := &session{cfg: cfg, surface: surface, loop: lp, out: os.Stdout}
	s.engine, err = collab.New(collab.Config{
		Session:   cfg.Session(),
		Surface:   surface,
		Emitter:   conn,
		Scheduler: lp,
		Window:    cfg.Window,
		Logger:    logger,
		OnChange:  s.printTabs,
		OnError: func(err error) {
			slog.Error("edit not delivered", "err", err)
		},
	})
	if err != nil {
		return err
	}
	if cfg.Services != "" {
		if s.services, err = services.New(cfg.Services, nil); err != nil {
			return err
		}
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = lp.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		onConnect := func() {
			lp.Post(func() {
				if err := s.engine.Join(); err != nil {
					slog.Error("failed to join", "err", err)
				}
			})
		}
		onMessage := func(raw []byte) {
			lp.Post(func() {
				if err := s.engine.HandleMessage(raw); err != nil {
					slog.Warn("ignoring frame", "err", err)
				}
			})
		}
		if err := conn.Run(ctx, onConnect, onMessage); err != nil {
			slog.Error("connection lost", "err", err)
			cancel()
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 4<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	fmt.Fprintf(s.out, "joined %s via %s, type help for commands\n", cfg.Session().Room(), relayURL)
repl:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break repl
			}
			if err := s.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					break repl
				}
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		case sig := <-exit:
			slog.Info("Signal caught", "sig", sig)
			break repl
		case <-ctx.Done():
			break repl
		}
	}

	// An edit still inside its quiescence window is sent before leaving.
	_ = lp.Do(ctx, func() error {
		if s.engine.Flush() {
			slog.Debug("sent pending edit")
		}
		return nil
	})
	cancel()
	wg.Wait()
	s.engine.Close()
	return nil
}

func discoverRelay(ctx context.Context) (string, error) {
	browseCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	relays, err := discovery.Browse(browseCtx)
	if err != nil {
		return "", err
	}
	if len(relays) == 0 {
		return "", fmt.Errorf("no relay found on the local network")
	}
	names := make([]string, len(relays))
	for i, r := range relays {
		names[i] = r.Instance
	}
	slog.Info("discovered relays", "relays", strings.Join(names, ", "), "using", relays[0].URL())
	return relays[0].URL(), nil
}
