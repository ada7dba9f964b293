package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devstack/internal/registry"
)

// Store implements registry.Store backed by SQLite.
type Store struct {
	DB *sql.DB
}

// NewStore opens the database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Upsert(ctx context.Context, rec registry.AppRecord) error {
	services, err := json.Marshal(nonNil(rec.Services))
	if err != nil {
		return fmt.Errorf("%w: marshal services: %v", registry.ErrRegistry, err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO apps (name, root_path, services, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   root_path = excluded.root_path,
		   services = excluded.services,
		   updated_at = excluded.updated_at`,
		rec.Name, rec.RootPath, string(services), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %q: %v", registry.ErrRegistry, rec.Name, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, name string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM apps WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", registry.ErrRegistry, name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("app %q: %w", name, registry.ErrNotFound)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, name string) (registry.AppRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT name, root_path, services, updated_at FROM apps WHERE name = ?`, name)
	rec, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("app %q: %w", name, registry.ErrNotFound)
	}
	return rec, err
}

func (s *Store) List(ctx context.Context) ([]registry.AppRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, root_path, services, updated_at FROM apps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list apps: %v", registry.ErrRegistry, err)
	}
	defer rows.Close()

	var recs []registry.AppRecord
	for rows.Next() {
		rec, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list apps: %v", registry.ErrRegistry, err)
	}
	return recs, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(s scanner) (registry.AppRecord, error) {
	var rec registry.AppRecord
	var servicesJSON, updatedAt string
	if err := s.Scan(&rec.Name, &rec.RootPath, &servicesJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("%w: scan app: %v", registry.ErrRegistry, err)
	}
	if err := json.Unmarshal([]byte(servicesJSON), &rec.Services); err != nil {
		return rec, fmt.Errorf("%w: unmarshal services of %q: %v", registry.ErrRegistry, rec.Name, err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return rec, fmt.Errorf("%w: parse updated_at of %q: %v", registry.ErrRegistry, rec.Name, err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
