// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package leads keeps the contact registry captured through the chat
// surface in a local SQLite database.
package leads

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// Lead is one captured contact.
type Lead struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed lead registry.
type Store struct {
	db *sql.DB
}

// Open creates the database (and parent directory) when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "creating leads directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "opening leads db: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS leads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "creating leads table: %w", err)
	}
	return &Store{db: db}, nil
}

// Add registers a lead, deduplicating case-insensitively by email. Adding an
// existing email updates name and company and returns the existing id.
func (s *Store) Add(ctx context.Context, email, name, company string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return 0, loamerr.Errorf(loamerr.CodeLeadsInvalidInput, "invalid email %q", email)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (email, name, company) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE leads.name END,
			company = CASE WHEN excluded.company != '' THEN excluded.company ELSE leads.company END`,
		email, strings.TrimSpace(name), strings.TrimSpace(company))
	if err != nil {
		return 0, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "inserting lead: %w", err)
	}

	// LastInsertId is unreliable on conflict-update; resolve by email.
	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM leads WHERE email = ?", email)
	if err := row.Scan(&id); err != nil {
		return 0, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "resolving lead id: %w", err)
	}
	return id, nil
}

// All returns leads newest first.
func (s *Store) All(ctx context.Context) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, email, name, company, created_at FROM leads ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "listing leads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	all := make([]Lead, 0)
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.Email, &l.Name, &l.Company, &l.CreatedAt); err != nil {
			return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "scanning lead: %w", err)
		}
		all = append(all, l)
	}
	if err := rows.Err(); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "reading leads: %w", err)
	}
	return all, nil
}

// Get returns one lead by id.
func (s *Store) Get(ctx context.Context, id int64) (*Lead, error) {
	var l Lead
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, company, created_at FROM leads WHERE id = ?", id)
	if err := row.Scan(&l.ID, &l.Email, &l.Name, &l.Company, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loamerr.Errorf(loamerr.CodeLeadsEntityNotFound, "lead %d not found", id)
		}
		return nil, loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "reading lead: %w", err)
	}
	return &l, nil
}

// ExportCSV renders all leads as CSV with a header row.
func (s *Store) ExportCSV(ctx context.Context) (string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"id", "email", "name", "company", "created_at"})
	for _, l := range all {
		_ = w.Write([]string{
			strconv.FormatInt(l.ID, 10),
			l.Email,
			l.Name,
			l.Company,
			l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", loamerr.Errorf(loamerr.CodeLeadsStorageFailure, "encoding leads csv: %w", err)
	}
	return b.String(), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
