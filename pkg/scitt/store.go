// Package scitt implements the append-only transparency log: SHA-256
// statement hashes joined into a Merkle tree, strictly monotone tree sizes,
// and COSE_Sign1 inclusion receipts over {logId, treeSize, treeHash}.
//
// State lives in a relational store (sqlite for single-node deployments,
// postgres behind the same database/sql surface). Registration is atomic:
// on any failure neither the entry nor its receipt is persisted.
package scitt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is one registered statement.
type Entry struct {
	EntryID          string    `json:"entryId"`
	Statement        []byte    `json:"statement"`
	StatementHash    string    `json:"statementHash"`
	TreeSize         int64     `json:"treeSize"`
	TreeHash         string    `json:"treeHash"`
	ParentHash       string    `json:"parentHash,omitempty"`
	RegistrationTime time.Time `json:"registrationTime"`

	// Listing metadata, precomputed at insert so reads never parse
	// statements.
	Issuer     string `json:"issuer,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Source     string `json:"source,omitempty"`
	Assurance  int    `json:"assurance"`
	Frameworks string `json:"frameworks,omitempty"` // comma-joined
}

// Receipt is the stored inclusion receipt for an entry.
type Receipt struct {
	EntryID  string    `json:"entryId"`
	LogID    string    `json:"logId"`
	Proof    string    `json:"proof"` // base64 COSE_Sign1
	IssuedAt time.Time `json:"issuedAt"`
}

// ErrNotFound is returned by reads for unknown entry ids.
var ErrNotFound = errors.New("scitt: entry not found")

// SQLStore persists entries and receipts via database/sql.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore migrates the schema and returns the store.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scitt_entries (
		entry_id          TEXT PRIMARY KEY,
		statement         BLOB NOT NULL,
		statement_hash    TEXT NOT NULL,
		tree_size         INTEGER NOT NULL UNIQUE,
		tree_hash         TEXT NOT NULL,
		parent_hash       TEXT,
		registration_time TEXT NOT NULL,
		issuer            TEXT,
		scope             TEXT,
		source            TEXT,
		assurance         INTEGER NOT NULL DEFAULT 0,
		frameworks        TEXT
	);
	CREATE TABLE IF NOT EXISTS scitt_receipts (
		entry_id  TEXT PRIMARY KEY,
		log_id    TEXT NOT NULL,
		proof     TEXT NOT NULL,
		issued_at TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), schema); err != nil {
		return fmt.Errorf("scitt: migrate: %w", err)
	}
	return nil
}

// Append persists an entry and its receipt in a single transaction.
func (s *SQLStore) Append(ctx context.Context, e *Entry, r *Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("scitt: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scitt_entries (
			entry_id, statement, statement_hash, tree_size, tree_hash,
			parent_hash, registration_time, issuer, scope, source, assurance, frameworks
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Statement, e.StatementHash, e.TreeSize, e.TreeHash,
		e.ParentHash, e.RegistrationTime.UTC().Format(time.RFC3339Nano),
		e.Issuer, e.Scope, e.Source, e.Assurance, e.Frameworks,
	)
	if err != nil {
		return fmt.Errorf("scitt: insert entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scitt_receipts (entry_id, log_id, proof, issued_at)
		VALUES (?, ?, ?, ?)`,
		r.EntryID, r.LogID, r.Proof, r.IssuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("scitt: insert receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("scitt: commit: %w", err)
	}
	return nil
}

// StatementHashes returns every statement hash in insertion order.
func (s *SQLStore) StatementHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT statement_hash FROM scitt_entries ORDER BY tree_size ASC`)
	if err != nil {
		return nil, fmt.Errorf("scitt: query hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scitt: scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scitt: iterate hashes: %w", err)
	}
	return hashes, nil
}

// Head returns the current tree size and head tree hash (0, "" when empty).
func (s *SQLStore) Head(ctx context.Context) (int64, string, error) {
	var size int64
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT tree_size, tree_hash FROM scitt_entries
		ORDER BY tree_size DESC LIMIT 1`).Scan(&size, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("scitt: query head: %w", err)
	}
	return size, hash, nil
}

// GetEntry fetches one entry by id.
func (s *SQLStore) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, statement, statement_hash, tree_size, tree_hash,
		       parent_hash, registration_time, issuer, scope, source, assurance, frameworks
		FROM scitt_entries WHERE entry_id = ?`, entryID)
	return scanEntry(row)
}

// GetReceipt fetches the receipt for an entry.
func (s *SQLStore) GetReceipt(ctx context.Context, entryID string) (*Receipt, error) {
	var r Receipt
	var issuedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT entry_id, log_id, proof, issued_at
		FROM scitt_receipts WHERE entry_id = ?`, entryID).
		Scan(&r.EntryID, &r.LogID, &r.Proof, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scitt: query receipt: %w", err)
	}
	r.IssuedAt, err = time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("scitt: parse issued_at: %w", err)
	}
	return &r, nil
}

// ListOptions filter and paginate entry listings.
type ListOptions struct {
	Issuer    string
	Framework string
	Limit     int
	Offset    int
}

// List returns entries in strict insertion order (tree_size ascending,
// entry_id as tie-break).
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}

	query := `
		SELECT entry_id, statement, statement_hash, tree_size, tree_hash,
		       parent_hash, registration_time, issuer, scope, source, assurance, frameworks
		FROM scitt_entries WHERE 1=1`
	args := []any{}
	if opts.Issuer != "" {
		query += ` AND issuer = ?`
		args = append(args, opts.Issuer)
	}
	if opts.Framework != "" {
		query += ` AND (',' || frameworks || ',') LIKE ?`
		args = append(args, "%,"+opts.Framework+",%")
	}
	query += ` ORDER BY tree_size ASC, entry_id ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scitt: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var regTime string
	var parent, issuer, scope, source, frameworks sql.NullString
	err := row.Scan(&e.EntryID, &e.Statement, &e.StatementHash, &e.TreeSize,
		&e.TreeHash, &parent, &regTime, &issuer, &scope, &source, &e.Assurance, &frameworks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scitt: scan entry: %w", err)
	}
	e.ParentHash = parent.String
	e.Issuer = issuer.String
	e.Scope = scope.String
	e.Source = source.String
	e.Frameworks = frameworks.String
	e.RegistrationTime, err = time.Parse(time.RFC3339Nano, regTime)
	if err != nil {
		return nil, fmt.Errorf("scitt: parse registration_time: %w", err)
	}
	return &e, nil
}
