package bus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// SessionTimeout is how long a session may stay silent before it is
// treated as expired.
const SessionTimeout = 300 * time.Second

var ErrSessionNotFound = errors.New("session not found")

// Session is a registered bus participant: one runtime instance that
// publishes and reads records. The cursor remembers how far into the
// "all" topic the session has acknowledged.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Machine       string    `json:"machine"`
	Cwd           string    `json:"cwd"`
	ClientID      string    `json:"client_id,omitempty"`
	Cursor        int64     `json:"cursor"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
}

// RegisterSession registers a new session, or resumes an existing one
// when machine and clientID match a prior registration. Resuming updates
// the name and working directory but preserves the saved cursor, so a
// reconnecting instance picks up where it left off.
func (b *Bus) RegisterSession(ctx context.Context, name, machine, cwd, clientID string) (Session, bool, error) {
	now := time.Now()
	if machine == "" {
		machine = localHostname()
	}
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		} else {
			cwd = "."
		}
	}

	if clientID != "" {
		existing, err := b.sessionByClient(ctx, machine, clientID)
		switch {
		case err == nil:
			_, err := b.db.ExecContext(ctx,
				`UPDATE sessions SET last_heartbeat = ?, name = ?, cwd = ? WHERE id = ?`,
				now.Unix(), name, cwd, existing.ID)
			if err != nil {
				return Session{}, false, fmt.Errorf("resuming session: %w", err)
			}
			existing.LastHeartbeat = now
			existing.Name = name
			existing.Cwd = cwd
			return existing, true, nil
		case !errors.Is(err, ErrSessionNotFound):
			return Session{}, false, err
		}
	}

	sess := Session{
		ID:            uuid.NewString(),
		Name:          name,
		Machine:       machine,
		Cwd:           cwd,
		ClientID:      clientID,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, machine, cwd, client_id, cursor, last_heartbeat, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.Name, sess.Machine, sess.Cwd, nullable(sess.ClientID), now.Unix(), now.Unix())
	if err != nil {
		return Session{}, false, fmt.Errorf("registering session: %w", err)
	}
	return sess, false, nil
}

// UnregisterSession removes a session row. It reports whether a row was
// actually deleted.
func (b *Bus) UnregisterSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("unregistering session: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Heartbeat marks the session as alive. It reports whether the session
// still exists.
func (b *Bus) Heartbeat(ctx context.Context, sessionID string) (bool, error) {
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET last_heartbeat = ? WHERE id = ?`,
		time.Now().Unix(), sessionID)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Ack saves the session's cursor, the last "all"-topic sequence the
// session has fully processed.
func (b *Bus) Ack(ctx context.Context, sessionID string, seq int64) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET cursor = ? WHERE id = ?`, seq, sessionID)
	if err != nil {
		return fmt.Errorf("acknowledging cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetSession returns one session by ID.
func (b *Bus) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, name, machine, cwd, COALESCE(client_id, ''), cursor, last_heartbeat, created_at
		 FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// ListSessions returns sessions with a live heartbeat, most recent first.
// Expired sessions are pruned as a side effect.
func (b *Bus) ListSessions(ctx context.Context) ([]Session, error) {
	if _, err := b.PruneExpired(ctx); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, machine, cwd, COALESCE(client_id, ''), cursor, last_heartbeat, created_at
		 FROM sessions ORDER BY last_heartbeat DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// PruneExpired deletes sessions whose heartbeat is older than
// SessionTimeout. It returns the number of deleted sessions.
func (b *Bus) PruneExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-SessionTimeout).Unix()
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_heartbeat < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return res.RowsAffected()
}

func (b *Bus) sessionByClient(ctx context.Context, machine, clientID string) (Session, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, name, machine, cwd, COALESCE(client_id, ''), cursor, last_heartbeat, created_at
		 FROM sessions WHERE machine = ? AND client_id = ?`, machine, clientID)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var heartbeat, created int64
	err := row.Scan(&sess.ID, &sess.Name, &sess.Machine, &sess.Cwd, &sess.ClientID, &sess.Cursor, &heartbeat, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scanning session: %w", err)
	}
	sess.LastHeartbeat = time.Unix(heartbeat, 0)
	sess.CreatedAt = time.Unix(created, 0)
	return sess, nil
}

func localHostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}
