// Package store persists documents and chat history in sqlite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

// DB implements core.DocumentStore and core.ChatStore over sqlite.
type DB struct {
	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode keeps autosaves from blocking concurrent chat reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("module", "store").Str("path", dbPath).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		state BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		username TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_document_id ON chat_messages(document_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Document operations

// CreateDocument provisions a document row. The session coordinator never
// calls this; it exists for the CRUD surface, ops tooling and tests.
func (d *DB) CreateDocument(ctx context.Context, id domain.DocumentID, title string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO documents (id, title) VALUES (?, ?)",
		string(id), title,
	)
	return err
}

func (d *DB) Load(ctx context.Context, id domain.DocumentID) ([]byte, string, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT state, title FROM documents WHERE id = ?",
		string(id),
	)

	var state []byte
	var title string
	err := row.Scan(&state, &title)
	if err == sql.ErrNoRows {
		return nil, "", core.ErrDocumentNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return state, title, nil
}

func (d *DB) SaveState(ctx context.Context, id domain.DocumentID, state []byte) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE documents SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		state, string(id),
	)
	return err
}

func (d *DB) SaveTitle(ctx context.Context, id domain.DocumentID, title string) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE documents SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		title, string(id),
	)
	return err
}

// Chat operations

func (d *DB) Messages(ctx context.Context, id domain.DocumentID) ([]domain.ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT username, message, created_at FROM chat_messages WHERE document_id = ? ORDER BY id ASC",
		string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(&msg.Username, &msg.Message, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (d *DB) Append(ctx context.Context, id domain.DocumentID, msg domain.ChatMessage) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO chat_messages (document_id, username, message, created_at) VALUES (?, ?, ?, ?)",
		string(id), msg.Username, msg.Message, msg.Timestamp,
	)
	return err
}
