// Package bus is a durable, cross-process publish/subscribe log backed by
// SQLite. One runtime instance publishes task-completion records; another
// instance, or a later reconnection of the same one, reads them back.
//
// Records are keyed by topic and carry per-topic strictly increasing
// sequence numbers. Readers resume from the last sequence they
// acknowledged, which gives at-least-once delivery across restarts. The
// catch-all topic "all" sees every record in global insertion order.
package bus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weftwork/weft/pkg/sqliteutil"
)

// TopicAll receives every published record regardless of its topic.
const TopicAll = "all"

// TaskTopic returns the topic scoped to one task's identifier.
func TaskTopic(taskID string) string {
	return "task:" + taskID
}

// SessionTopic returns the topic addressed to one registered session.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// Record is one durable bus entry. Seq is strictly increasing within the
// record's topic; for the "all" topic the global insertion id serves as
// the sequence.
type Record struct {
	Topic     string    `json:"topic"`
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// globalID orders records across topics; exposed only through
	// "all"-topic sequences.
	globalID int64
}

// GlobalSeq is the record's position in the bus-wide log, used to resume
// an "all"-topic subscription.
func (r Record) GlobalSeq() int64 { return r.globalID }

const publishRetries = 5

// Bus is safe for concurrent use from multiple goroutines and multiple
// processes sharing the same database file.
type Bus struct {
	db   *sql.DB
	path string
}

// Open opens or creates the bus database at path.
func Open(path string) (*Bus, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening event bus: %w", err)
	}
	b := &Bus{db: db, path: path}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) Close() error {
	return b.db.Close()
}

func (b *Bus) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			session_id TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE(topic, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_records_topic ON records(topic, seq);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			machine TEXT NOT NULL,
			cwd TEXT NOT NULL,
			client_id TEXT,
			cursor INTEGER NOT NULL DEFAULT 0,
			last_heartbeat INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_machine_client ON sessions(machine, client_id);
	`)
	if err != nil {
		return fmt.Errorf("initializing event bus schema: %w", err)
	}
	return nil
}

// Publish durably appends a record to a topic and returns it with its
// assigned sequence number. The write is committed before Publish
// returns; a crash after Publish cannot lose the record.
//
// Sequence assignment is serialized through the transaction. Two writers
// racing on the same topic conflict on the UNIQUE(topic, seq) index and
// the loser retries with a fresh sequence.
func (b *Bus) Publish(ctx context.Context, topic, recordType, payload string, sessionID string) (Record, error) {
	if topic == "" || topic == TopicAll {
		return Record{}, fmt.Errorf("invalid topic %q: publish to a concrete topic, %q is read-only", topic, TopicAll)
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		rec, err := b.tryPublish(ctx, topic, recordType, payload, sessionID)
		if err == nil {
			return rec, nil
		}
		if !sqliteutil.IsConstraintError(err) && !sqliteutil.IsBusyError(err) {
			return Record{}, err
		}
		lastErr = err
		slog.Debug("Bus publish conflict, retrying", "topic", topic, "attempt", attempt+1, "error", err)
	}
	return Record{}, fmt.Errorf("publishing to %q: %w", topic, lastErr)
}

func (b *Bus) tryPublish(ctx context.Context, topic, recordType, payload, sessionID string) (Record, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	now := time.Now()

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM records WHERE topic = ?`, topic,
	).Scan(&maxSeq); err != nil {
		return Record{}, err
	}

	seq := maxSeq + 1
	res, err := tx.ExecContext(ctx,
		`INSERT INTO records (topic, seq, type, payload, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		topic, seq, recordType, payload, nullable(sessionID), now.Unix(),
	)
	if err != nil {
		return Record{}, err
	}
	globalID, err := res.LastInsertId()
	if err != nil {
		return Record{}, err
	}

	if sessionID != "" {
		// Publishing counts as liveness for the publishing session.
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_heartbeat = ? WHERE id = ?`, now.Unix(), sessionID,
		); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, err
	}

	return Record{
		Topic:     topic,
		Seq:       seq,
		Type:      recordType,
		Payload:   payload,
		SessionID: sessionID,
		CreatedAt: now,
		globalID:  globalID,
	}, nil
}

// ReadOptions filter a one-shot Read.
type ReadOptions struct {
	// Types restricts results to these record types; empty means all.
	Types []string
	// Limit caps the number of returned records; 0 means no cap.
	Limit int
}

// Read returns records of a topic with sequence numbers greater than
// afterSeq, in sequence order. For the "all" topic, afterSeq and the
// returned ordering use the global insertion sequence.
func (b *Bus) Read(ctx context.Context, topic string, afterSeq int64, opts ReadOptions) ([]Record, error) {
	query := `SELECT id, topic, seq, type, payload, COALESCE(session_id, ''), created_at FROM records`
	var conds []string
	var args []any

	if topic == TopicAll {
		conds = append(conds, "id > ?")
		args = append(args, afterSeq)
	} else {
		conds = append(conds, "topic = ?", "seq > ?")
		args = append(args, topic, afterSeq)
	}
	if len(opts.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Types)), ",")
		conds = append(conds, fmt.Sprintf("type IN (%s)", placeholders))
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}

	query += " WHERE " + strings.Join(conds, " AND ")
	if topic == TopicAll {
		query += " ORDER BY id"
	} else {
		query += " ORDER BY seq"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading topic %q: %w", topic, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var createdAt int64
		if err := rows.Scan(&rec.globalID, &rec.Topic, &rec.Seq, &rec.Type, &rec.Payload, &rec.SessionID, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		if topic == TopicAll {
			// Readers of "all" resume by global sequence.
			rec.Seq = rec.globalID
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes records written before the cutoff. It returns the number
// of deleted records.
func (b *Bus) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM records WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning records: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
