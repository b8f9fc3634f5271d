package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the transcript store. It is opened on an in-memory SQLite
// database: transcripts live exactly as long as the process.
type DB struct {
	conn *sql.DB
}

const memoryDSN = "file:spectator?mode=memory&cache=shared"

func NewDB() (*DB, error) {
	conn, err := sql.Open("sqlite3", memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A shared in-memory database disappears when its last connection
	// closes; keep one open for the process lifetime.
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS transcript_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		html TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE (session_id, seq)
	);
	CREATE TABLE IF NOT EXISTS evidence_images (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL REFERENCES transcript_entries(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		data BLOB NOT NULL
	);
	`

	_, err := db.conn.Exec(query)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}
