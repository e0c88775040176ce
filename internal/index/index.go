// Package index is the sqlite catalogue of outbox messages and the journal
// of delivery notifications.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct{ *sql.DB }

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  trace_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  source TEXT NOT NULL,
  mail_from TEXT NOT NULL,
  rcpt_to_json TEXT NOT NULL,
  message_id TEXT NOT NULL DEFAULT '',
  subject TEXT NOT NULL DEFAULT '',
  format TEXT NOT NULL,
  path TEXT NOT NULL,
  meta_path TEXT NOT NULL,
  bytes INTEGER NOT NULL,
  sha256 TEXT NOT NULL,
  object_key TEXT NOT NULL DEFAULT '',
  indexed_run TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);

CREATE TABLE IF NOT EXISTS notifications (
  source TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  type TEXT NOT NULL,
  emitted_at TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  PRIMARY KEY (source, sequence)
);
CREATE INDEX IF NOT EXISTS idx_notifications_time ON notifications(emitted_at);
`)
	if err != nil {
		return err
	}
	// Catalogues created by older releases lack these columns.
	if err := ensureColumn(db, "messages", "object_key", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return ensureColumn(db, "messages", "indexed_run", "TEXT NOT NULL DEFAULT ''")
}

type MessageRow struct {
	ID         string `json:"id"`
	TraceID    string `json:"trace_id,omitempty"`
	CreatedAt  string `json:"created_at"`
	Source     string `json:"source"`
	MailFrom   string `json:"from"`
	RcptToJSON string `json:"-"`
	MessageID  string `json:"message_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Format     string `json:"format"`
	Path       string `json:"path"`
	MetaPath   string `json:"meta_path"`
	Bytes      int64  `json:"bytes"`
	SHA256     string `json:"sha256"`
	ObjectKey  string `json:"object_key,omitempty"`
	// IndexedRun identifies the indexer pass that last saw the row.
	IndexedRun string `json:"-"`
}

const messageColumns = `id, trace_id, created_at, source, mail_from, rcpt_to_json, message_id, subject, format, path, meta_path, bytes, sha256, object_key`

func (r *MessageRow) scanArgs() []any {
	return []any{&r.ID, &r.TraceID, &r.CreatedAt, &r.Source, &r.MailFrom, &r.RcptToJSON, &r.MessageID, &r.Subject, &r.Format, &r.Path, &r.MetaPath, &r.Bytes, &r.SHA256, &r.ObjectKey}
}

func (db *DB) UpsertMessage(ctx context.Context, r MessageRow) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO messages (`+messageColumns+`, indexed_run)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  trace_id=excluded.trace_id,
  created_at=excluded.created_at,
  source=excluded.source,
  mail_from=excluded.mail_from,
  rcpt_to_json=excluded.rcpt_to_json,
  message_id=excluded.message_id,
  subject=excluded.subject,
  format=excluded.format,
  path=excluded.path,
  meta_path=excluded.meta_path,
  bytes=excluded.bytes,
  sha256=excluded.sha256,
  object_key=excluded.object_key,
  indexed_run=excluded.indexed_run
`, r.ID, r.TraceID, r.CreatedAt, r.Source, r.MailFrom, r.RcptToJSON, r.MessageID, r.Subject, r.Format, r.Path, r.MetaPath, r.Bytes, r.SHA256, r.ObjectKey, r.IndexedRun)
	return err
}

// PruneMessages deletes rows the indexer pass run did not see.
func (db *DB) PruneMessages(ctx context.Context, run string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE indexed_run <> ?`, run)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMessages pages through the catalogue in creation order. after is the
// "created_at:id" cursor of the last row already seen.
func (db *DB) ListMessages(ctx context.Context, after string, limit int) ([]MessageRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages`
	var args []any
	if after != "" {
		q += ` WHERE (created_at || ':' || id) > ?`
		args = append(args, after)
	}
	q += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(r.scanArgs()...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) GetMessage(ctx context.Context, id string) (MessageRow, bool, error) {
	var r MessageRow
	err := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id).Scan(r.scanArgs()...)
	if err == sql.ErrNoRows {
		return MessageRow{}, false, nil
	}
	if err != nil {
		return MessageRow{}, false, err
	}
	return r, true, nil
}

func ensureColumn(db *sql.DB, table, col, ddl string) error {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == col {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + col + ` ` + ddl)
	return err
}
