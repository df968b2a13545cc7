package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/kms"
	"github.com/kvinwang/gpt-prover/pkg/ledger"
)

// SQLStore implements Store and ledger.Journal using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db   *sql.DB
	keys kms.Manager
}

// OpenSQL opens a database with the named driver ("sqlite" or "postgres").
func OpenSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// A single connection serializes writers.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func NewSQLStore(db *sql.DB, keys kms.Manager) *SQLStore {
	return &SQLStore{db: db, keys: keys}
}

const schema = `
CREATE TABLE IF NOT EXISTS prover_state (
	id INTEGER PRIMARY KEY,
	owner TEXT NOT NULL,
	policy TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	height INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	ts TEXT NOT NULL,
	author TEXT NOT NULL,
	data TEXT NOT NULL
);
`

// Init creates the tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) Load(ctx context.Context) (Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT policy FROM prover_state WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	return decodeSnapshot([]byte(raw), s.keys)
}

func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := encodeSnapshot(snap, s.keys)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO prover_state (id, owner, policy, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, policy = excluded.policy, updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, snap.Owner.Hex(), string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// AppendEntry implements ledger.Journal.
func (s *SQLStore) AppendEntry(ctx context.Context, e ledger.Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ledger_entries (height, kind, content_hash, prev_hash, ts, author, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		int64(e.Height), e.Kind, e.ContentHash.Hex(), e.PrevHash.Hex(),
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Author.Hex(), string(data),
	)
	return err
}

// LoadEntries implements ledger.Journal.
func (s *SQLStore) LoadEntries(ctx context.Context) ([]ledger.Entry, error) {
	query := `SELECT height, kind, content_hash, prev_hash, ts, author, data FROM ledger_entries ORDER BY height`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]ledger.Entry, 0)
	for rows.Next() {
		var height int64
		var kind, contentHash, prevHash, ts, author, data string
		if err := rows.Scan(&height, &kind, &contentHash, &prevHash, &ts, &author, &data); err != nil {
			return nil, err
		}
		e, err := decodeEntry(height, kind, contentHash, prevHash, ts, author, data)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", height, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeEntry(height int64, kind, contentHash, prevHash, ts, author, data string) (ledger.Entry, error) {
	e := ledger.Entry{Height: uint32(height), Kind: kind}
	var err error
	if e.ContentHash, err = crypto.ParseHash(contentHash); err != nil {
		return e, err
	}
	if e.PrevHash, err = crypto.ParseHash(prevHash); err != nil {
		return e, err
	}
	if e.Author, err = crypto.ParseAccountID(author); err != nil {
		return e, err
	}
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return e, err
	}
	return e, nil
}
