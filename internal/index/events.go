package index

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
)

type NotificationRow struct {
	Source      string `json:"source"`
	Sequence    uint64 `json:"sequence"`
	Type        string `json:"type"`
	EmittedAt   string `json:"emitted_at"`
	PayloadJSON string `json:"payload"`
}

func (db *DB) UpsertNotification(ctx context.Context, n NotificationRow) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO notifications (source, sequence, type, emitted_at, payload_json)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(source, sequence) DO UPDATE SET
  type=excluded.type,
  emitted_at=excluded.emitted_at,
  payload_json=excluded.payload_json
`, n.Source, int64(n.Sequence), n.Type, n.EmittedAt, n.PayloadJSON)
	return err
}

// RecentNotifications returns up to limit journal rows for source, newest first.
func (db *DB) RecentNotifications(ctx context.Context, source string, limit int) ([]NotificationRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT source, sequence, type, emitted_at, payload_json
FROM notifications WHERE source = ? ORDER BY sequence DESC LIMIT ?`, source, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []NotificationRow
	for rows.Next() {
		var r NotificationRow
		var seq int64
		if err := rows.Scan(&r.Source, &seq, &r.Type, &r.EmittedAt, &r.PayloadJSON); err != nil {
			return nil, err
		}
		r.Sequence = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

var ErrJournalFull = errors.New("notification journal queue full")

// Journal persists delivery notifications. HandleNotification only queues;
// a single goroutine performs the inserts so sqlite latency never reaches
// the send path.
type Journal struct {
	db  *DB
	log *slog.Logger

	q    chan NotificationRow
	done chan struct{}
	once sync.Once
}

// NewJournal starts the writer goroutine. Failure rows carry the failure
// record of their own notification as payload.
func NewJournal(db *DB, log *slog.Logger, queue int) *Journal {
	if log == nil {
		log = slog.Default()
	}
	if queue <= 0 {
		queue = 256
	}
	j := &Journal{db: db, log: log, q: make(chan NotificationRow, queue), done: make(chan struct{})}
	go j.run()
	return j
}

func (j *Journal) HandleNotification(n stats.Notification) error {
	payload := []byte("{}")
	if n.Failure != nil {
		if b, err := json.Marshal(n.Failure); err == nil {
			payload = b
		}
	}
	row := NotificationRow{
		Source:      n.Source,
		Sequence:    n.Sequence,
		Type:        n.Type,
		EmittedAt:   n.EmittedAt.UTC().Format(time.RFC3339Nano),
		PayloadJSON: string(payload),
	}
	select {
	case j.q <- row:
		return nil
	default:
		return ErrJournalFull
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for row := range j.q {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.db.UpsertNotification(ctx, row); err != nil {
			j.log.Warn("journal insert failed", "source", row.Source, "sequence", row.Sequence, "err", err)
		}
		cancel()
	}
}

// Close drains queued rows and stops the writer. The journal must be
// unsubscribed first.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.q) })
	<-j.done
	return nil
}
