package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astromechza/codecollab/pkg/schema"
)

// Postgres stores one row per file so that several relays can share a database.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			project text not null,
			language text not null,
			primary key (project, language)
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			project text not null,
			language text not null,
			position integer not null,
			filename text not null,
			content text not null,
			primary key (project, language, filename),
			foreign key (project, language) references rooms (project, language) on delete cascade
		)`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Load(ctx context.Context, room schema.Session) ([]schema.FileEntry, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE project = $1 AND language = $2)`,
		room.ProjectName, room.Language,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	} else if !exists {
		return nil, ErrNotFound
	}

	rows, err := p.pool.Query(ctx,
		`SELECT filename, content FROM files WHERE project = $1 AND language = $2 ORDER BY position`,
		room.ProjectName, room.Language,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.FileEntry, error) {
		var f schema.FileEntry
		err := row.Scan(&f.Filename, &f.Content)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return files, nil
}

func (p *Postgres) Save(ctx context.Context, room schema.Session, files []schema.FileEntry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO rooms (project, language) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		room.ProjectName, room.Language,
	); err != nil {
		return fmt.Errorf("failed to persist room: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM files WHERE project = $1 AND language = $2`,
		room.ProjectName, room.Language,
	); err != nil {
		return fmt.Errorf("failed to clear files: %w", err)
	}
	batch := &pgx.Batch{}
	for i, f := range files {
		batch.Queue(
			`INSERT INTO files (project, language, position, filename, content) VALUES ($1, $2, $3, $4, $5)`,
			room.ProjectName, room.Language, i, f.Filename, f.Content,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to persist files: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (p *Postgres) Rooms(ctx context.Context) ([]schema.Session, error) {
	rows, err := p.pool.Query(ctx, `SELECT project, language FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Session, error) {
		var room schema.Session
		err := row.Scan(&room.ProjectName, &room.Language)
		return room, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	sortRooms(out)
	return out, nil
}
