package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/automerge/automerge-go"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/codecollab/pkg/schema"
)

// SQLite keeps each room as an automerge document in a sqlite table. Every Save that changes something becomes one
// commit, so the document carries the full edit history of the room.
//
// Document layout: "order" is a list of filenames in tab order and "content" maps each filename to its text.
type SQLite struct {
	database *sql.DB
	// serialises read-modify-write of documents
	mu sync.Mutex
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to an in-memory database is a separate database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS stores (
			project text not null,
			language text not null,
			content text not null,
			primary key (project, language)
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	slog.Debug("ensured sqlite tables exist", "path", path)
	return &SQLite{database: db}, nil
}

func (s *SQLite) Close() error {
	return s.database.Close()
}

func (s *SQLite) Load(ctx context.Context, room schema.Session) ([]schema.FileEntry, error) {
	doc, err := s.Document(ctx, room)
	if err != nil {
		return nil, err
	}
	return DocumentFiles(doc)
}

// Document returns the automerge document backing a room.
func (s *SQLite) Document(ctx context.Context, room schema.Session) (*automerge.Doc, error) {
	return loadDoc(ctx, s.database, room)
}

func (s *SQLite) Save(ctx context.Context, room schema.Session, files []schema.FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	existed := true
	doc, err := loadDoc(ctx, tx, room)
	if errors.Is(err, ErrNotFound) {
		doc, existed = automerge.New(), false
	} else if err != nil {
		return err
	}

	changed, err := writeFiles(doc, files)
	if err != nil {
		return fmt.Errorf("failed to update doc for %s: %w", room.Room(), err)
	}
	if changed {
		if _, err := doc.Commit(fmt.Sprintf("%d files", len(files))); err != nil {
			return fmt.Errorf("failed to commit doc for %s: %w", room.Room(), err)
		}
	} else if existed {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stores (project, language, content) VALUES (?, ?, ?)
		ON CONFLICT (project, language) DO UPDATE SET content = excluded.content`,
		room.ProjectName, room.Language, base64.StdEncoding.EncodeToString(doc.Save()),
	); err != nil {
		return fmt.Errorf("failed to persist doc: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	slog.Debug("persisted room", "room", room.Room(), "heads", doc.Heads())
	return nil
}

func (s *SQLite) Rooms(ctx context.Context) ([]schema.Session, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT project, language FROM stores`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	out := make([]schema.Session, 0)
	for rows.Next() {
		var room schema.Session
		if err := rows.Scan(&room.ProjectName, &room.Language); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRooms(out)
	return out, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadDoc(ctx context.Context, q queryer, room schema.Session) (*automerge.Doc, error) {
	var rawContent string
	if err := q.QueryRowContext(ctx,
		`SELECT content FROM stores WHERE project = ? AND language = ?`,
		room.ProjectName, room.Language,
	).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return doc, nil
}

func readOrder(doc *automerge.Doc) ([]string, error) {
	v, err := doc.Path("order").Get()
	if err != nil {
		return nil, err
	}
	if v.Kind() != automerge.KindList {
		return nil, nil
	}
	list := v.List()
	names := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item, err := list.Get(i)
		if err != nil {
			return nil, err
		}
		names = append(names, item.Str())
	}
	return names, nil
}

func readContent(doc *automerge.Doc, filename string) (string, bool, error) {
	v, err := doc.Path("content", filename).Get()
	if err != nil {
		return "", false, err
	}
	if v.Kind() != automerge.KindStr {
		return "", false, nil
	}
	return v.Str(), true, nil
}

// DocumentFiles reads the file collection held by a room document.
func DocumentFiles(doc *automerge.Doc) ([]schema.FileEntry, error) {
	names, err := readOrder(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to read order: %w", err)
	}
	files := make([]schema.FileEntry, 0, len(names))
	for _, name := range names {
		content, _, err := readContent(doc, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		files = append(files, schema.FileEntry{Filename: name, Content: content})
	}
	return files, nil
}

// writeFiles applies the minimal set of operations that makes doc hold files. It reports whether anything changed.
func writeFiles(doc *automerge.Doc, files []schema.FileEntry) (bool, error) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}

	current, err := readOrder(doc)
	if err != nil {
		return false, err
	}
	changed := false
	if !slices.Equal(current, names) {
		// A list reached through a path has no object until written, so the order is replaced by a new list object.
		order := automerge.NewList()
		if err := doc.Path("order").Set(order); err != nil {
			return false, err
		}
		for _, name := range names {
			if err := order.Append(name); err != nil {
				return false, err
			}
		}
		changed = true
	}

	for _, name := range current {
		if !slices.Contains(names, name) {
			if err := doc.Path("content", name).Delete(); err != nil {
				return false, err
			}
			changed = true
		}
	}
	for _, f := range files {
		existing, ok, err := readContent(doc, f.Filename)
		if err != nil {
			return false, err
		}
		if ok && existing == f.Content {
			continue
		}
		if err := doc.Path("content", f.Filename).Set(f.Content); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}
