package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/automerge/automerge-go"
	"github.com/spf13/pflag"

	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/store"
	"github.com/astromechza/codecollab/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	fs := pflag.NewFlagSet("debug", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: debug [flags] DATABASE [PROJECT LANGUAGE]")
		fs.PrintDefaults()
	}
	list := fs.Bool("list", false, "list the rooms in the database")
	svg := fs.String("svg", "", "write the change graph to this path instead of a temp file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	ctx := context.Background()
	switch {
	case fs.NArg() == 1 && *list:
	case fs.NArg() == 3:
	default:
		fs.Usage()
		return fmt.Errorf("expected a database path, and a project and language unless --list is given")
	}
	s, err := store.OpenSQLite(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	if *list {
		rooms, err := s.Rooms(ctx)
		if err != nil {
			return err
		}
		for _, room := range rooms {
			fmt.Println(room.Room())
		}
		return nil
	}

	room := schema.Session{ProjectName: fs.Arg(1), Language: fs.Arg(2)}
	doc, err := s.Document(ctx, room)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", room.Room(), err)
	}
	slog.Info("loaded doc", "contents", doc.RootMap().GoString())
	slog.Info("loaded heads", "heads", doc.Heads())

	slog.Info("changes:")

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		files, err := store.DocumentFiles(docAt)
		if err != nil {
			return fmt.Errorf("failed to read files at %s: %w", change.Hash(), err)
		}
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "message", change.Message(), "dep", change.Dependencies(), "files", len(files))
		for _, f := range files {
			slog.Info("  file", "name", f.Filename, "bytes", len(f.Content))
		}
	}

	if *svg != "" {
		if err := viz.RenderToFile(doc, describe, *svg); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svg)
		return nil
	}
	svgPath, err := viz.RenderToTemp(doc, describe)
	if err != nil {
		return err
	}
	slog.Info("rendered", "path", "file://"+svgPath)
	return nil
}

// describe labels a change with the files as they stood after it.
func describe(doc *automerge.Doc) (string, error) {
	files, err := store.DocumentFiles(doc)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = fmt.Sprintf("%s (%d)", f.Filename, len(f.Content))
	}
	return strings.Join(parts, "\n"), nil
}
