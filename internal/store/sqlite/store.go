// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package sqlite implements the preference and account stores on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/imvault/imvault/internal/store"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Compile-time interface checks.
var (
	_ store.Store        = (*Store)(nil)
	_ store.PrefStore    = (*prefStore)(nil)
	_ store.AccountStore = (*accountStore)(nil)
)

// Store implements store.Store backed by a single SQLite database.
type Store struct {
	db       *sql.DB
	prefs    *prefStore
	accounts *accountStore
}

// Open opens (or creates) a SQLite database at dbPath and initialises the
// prefs and accounts tables.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "opening database %s", dbPath)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "pinging database %s", dbPath)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "migrating database %s", dbPath)
	}

	return &Store{
		db:       db,
		prefs:    &prefStore{db: db},
		accounts: &accountStore{db: db},
	}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS prefs (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	protocol_id       TEXT NOT NULL,
	username          TEXT NOT NULL,
	protocol_name     TEXT NOT NULL DEFAULT '',
	enabled           INTEGER NOT NULL DEFAULT 0,
	remember_password INTEGER NOT NULL DEFAULT 0,
	password          TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	PRIMARY KEY (protocol_id, username)
);
`
	_, err := db.Exec(ddl)
	return err
}

// Prefs returns the preference sub-store.
func (s *Store) Prefs() store.PrefStore { return s.prefs }

// Accounts returns the account sub-store.
func (s *Store) Accounts() store.AccountStore { return s.accounts }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// ---------- prefStore ----------

type prefStore struct {
	db *sql.DB
}

func (s *prefStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", vaulterr.Wrap(fmt.Errorf("pref %s: %w", key, store.ErrNotFound),
			vaulterr.CodeStoreEntityNotFound, "pref not found", vaulterr.Field("key", key))
	}
	if err != nil {
		return "", vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "getting pref %s", key)
	}
	return value, nil
}

func (s *prefStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return vaulterr.Wrap(store.ErrInvalidInput, vaulterr.CodeStoreInvalidInput, "pref key is required")
	}
	const q = `INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, key, value, formatTime(time.Now())); err != nil {
		return vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "setting pref %s", key)
	}
	return nil
}

func (s *prefStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	if key == "" {
		return false, vaulterr.Wrap(store.ErrInvalidInput, vaulterr.CodeStoreInvalidInput, "pref key is required")
	}
	const q = `INSERT OR IGNORE INTO prefs (key, value, updated_at) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, key, value, formatTime(time.Now()))
	if err != nil {
		return false, vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "adding pref %s", key)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "checking rows for pref %s", key)
	}
	return rows > 0, nil
}

func (s *prefStore) List(ctx context.Context) ([]*store.Pref, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM prefs ORDER BY key`)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "listing prefs")
	}
	defer rows.Close() //nolint:errcheck

	var out []*store.Pref
	for rows.Next() {
		var (
			p         store.Pref
			updatedAt string
		)
		if err := rows.Scan(&p.Key, &p.Value, &updatedAt); err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning pref")
		}
		p.UpdatedAt = parseTime(updatedAt)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "iterating prefs")
	}
	return out, nil
}

func (s *prefStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "deleting pref %s", key)
	}
	return nil
}

// ---------- accountStore ----------

type accountStore struct {
	db *sql.DB
}

func (s *accountStore) Put(ctx context.Context, a *store.AccountRecord) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	const q = `INSERT INTO accounts
	(protocol_id, username, protocol_name, enabled, remember_password, password, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(protocol_id, username) DO UPDATE SET
	protocol_name = excluded.protocol_name,
	enabled = excluded.enabled,
	remember_password = excluded.remember_password,
	password = excluded.password,
	updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		a.ProtocolID, a.Username, a.ProtocolName,
		boolToInt(a.Enabled), boolToInt(a.RememberPassword), a.Password,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "saving account %s/%s", a.ProtocolID, a.Username)
	}
	return nil
}

const accountColumns = `protocol_id, username, protocol_name, enabled, remember_password, password, created_at, updated_at`

func (s *accountStore) Get(ctx context.Context, protocolID, username string) (*store.AccountRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE protocol_id = ? AND username = ?`, protocolID, username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vaulterr.Wrap(fmt.Errorf("account %s/%s: %w", protocolID, username, store.ErrNotFound),
			vaulterr.CodeStoreEntityNotFound, "account not found",
			vaulterr.FieldProtocol(protocolID), vaulterr.FieldUsername(username))
	}
	if err != nil {
		return nil, vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "getting account %s/%s", protocolID, username)
	}
	return a, nil
}

func (s *accountStore) List(ctx context.Context) ([]*store.AccountRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY protocol_id, username`)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "listing accounts")
	}
	defer rows.Close() //nolint:errcheck

	var out []*store.AccountRecord
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning account")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "iterating accounts")
	}
	return out, nil
}

func (s *accountStore) Delete(ctx context.Context, protocolID, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE protocol_id = ? AND username = ?`, protocolID, username)
	if err != nil {
		return vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "deleting account %s/%s", protocolID, username)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return vaulterr.Wrapf(err, vaulterr.CodeStoreDatabaseFailure, "checking rows for account %s/%s", protocolID, username)
	}
	if rows == 0 {
		return vaulterr.Wrap(fmt.Errorf("account %s/%s: %w", protocolID, username, store.ErrNotFound),
			vaulterr.CodeStoreEntityNotFound, "account not found",
			vaulterr.FieldProtocol(protocolID), vaulterr.FieldUsername(username))
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*store.AccountRecord, error) {
	var (
		a                    store.AccountRecord
		enabled, remember    int
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ProtocolID, &a.Username, &a.ProtocolName, &enabled, &remember, &a.Password, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.RememberPassword = remember != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formatTime serialises a time for storage in the database.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
