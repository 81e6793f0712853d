package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/codecollab/pkg/bus"
	"github.com/astromechza/codecollab/pkg/config"
	"github.com/astromechza/codecollab/pkg/discovery"
	"github.com/astromechza/codecollab/pkg/relay"
	"github.com/astromechza/codecollab/pkg/store"
	"github.com/astromechza/codecollab/pkg/viz"
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
	cfg, err := config.LoadRelay(os.Args[1:], os.Getenv)
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

	slog.Info("Opening store", "driver", cfg.Store.Driver)
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	var b bus.Bus = bus.NewLocal()
	if cfg.RedisAddr != "" {
		channel := cfg.RedisChannel
		if channel == "" {
			channel = bus.DefaultChannel
		}
		if b, err = bus.NewRedis(ctx, cfg.RedisAddr, channel); err != nil {
			return err
		}
		slog.Info("Sharing rooms over redis", "addr", cfg.RedisAddr, "channel", channel)
	}
	defer b.Close()

	hub, err := relay.NewHub(ctx, relay.HubConfig{Store: st, Bus: b, Logger: logger})
	if err != nil {
		return err
	}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx, cfg.FlushInterval)
	}()

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{Handler: relay.NewRouter(hub)}
	slog.Info("Listening", "addr", listener.Addr().String())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	if cfg.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		shutdown, err := discovery.Advertise(cfg.Instance, port)
		if err != nil {
			slog.Error("failed to advertise", "err", err)
		} else {
			defer shutdown()
		}
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()

	// Run flushes once more on exit, so the store holds the final state of every room here.
	hub.Close()
	if s, ok := st.(*store.SQLite); ok && logger.Enabled(shutdownCtx, slog.LevelDebug) {
		renderRooms(shutdownCtx, s)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func renderRooms(ctx context.Context, s *store.SQLite) {
	rooms, err := s.Rooms(ctx)
	if err != nil {
		slog.Error("failed to list rooms", "err", err)
		return
	}
	for _, room := range rooms {
		doc, err := s.Document(ctx, room)
		if err != nil {
			slog.Error("failed to load", "room", room.Room(), "err", err)
			continue
		}
		if svgPath, err := viz.RenderToTemp(doc, filenames); err != nil {
			slog.Error("failed to render", "room", room.Room(), "err", err)
		} else {
			slog.Debug("rendered", "room", room.Room(), "path", "file://"+svgPath, "heads", doc.Heads())
		}
	}
}

func filenames(doc *automerge.Doc) (string, error) {
	files, err := store.DocumentFiles(doc)
	if err != nil {
		return "", err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return strings.Join(names, " "), nil
}
