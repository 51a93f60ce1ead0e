package flash

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aspect-build/apgate/internal/registry"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the registry entry in a single-row table and appends
// every accepted write to a history table.
type SQLiteStore struct {
	db      *sql.DB
	lastErr error
}

// HistoryRecord is one past write of the registry entry.
type HistoryRecord struct {
	Seq       int64
	Entry     registry.Entry
	WrittenAt time.Time
}

// NewSQLiteStore opens or creates a SQLite database at path. Migrations run
// in Initialize.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Initialize() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS flash_entry (
			slot INTEGER PRIMARY KEY CHECK (slot = 0),
			magic INTEGER NOT NULL,
			count INTEGER NOT NULL,
			image BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS flash_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			magic INTEGER NOT NULL,
			count INTEGER NOT NULL,
			image BLOB NOT NULL,
			written_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Read() (registry.Entry, error) {
	e, err := s.read()
	s.lastErr = err
	return e, err
}

func (s *SQLiteStore) read() (registry.Entry, error) {
	var img []byte
	err := s.db.QueryRow(`SELECT image FROM flash_entry WHERE slot = 0`).Scan(&img)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Entry{}, registry.ErrBlank
	}
	if err != nil {
		return registry.Entry{}, fmt.Errorf("query flash entry: %w", err)
	}
	var e registry.Entry
	if err := e.UnmarshalBinary(img); err != nil {
		return registry.Entry{}, err
	}
	return e, nil
}

func (s *SQLiteStore) Write(e registry.Entry) error {
	s.lastErr = s.write(e)
	return s.lastErr
}

func (s *SQLiteStore) write(e registry.Entry) error {
	img, err := e.MarshalBinary()
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flash write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO flash_entry (slot, magic, count, image, updated_at)
		VALUES (0, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(slot) DO UPDATE SET
			magic = excluded.magic,
			count = excluded.count,
			image = excluded.image,
			updated_at = CURRENT_TIMESTAMP`,
		e.Magic, e.Count, img); err != nil {
		return fmt.Errorf("upsert flash entry: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO flash_history (magic, count, image) VALUES (?, ?, ?)`,
		e.Magic, e.Count, img); err != nil {
		return fmt.Errorf("append flash history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flash write: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Poll() error {
	return s.lastErr
}

// History returns past writes, oldest first.
func (s *SQLiteStore) History() ([]HistoryRecord, error) {
	rows, err := s.db.Query(`SELECT seq, image, written_at FROM flash_history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query flash history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			rec HistoryRecord
			img []byte
		)
		if err := rows.Scan(&rec.Seq, &img, &rec.WrittenAt); err != nil {
			return nil, fmt.Errorf("scan flash history: %w", err)
		}
		if err := rec.Entry.UnmarshalBinary(img); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
