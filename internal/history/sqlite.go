package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"
	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the history database at path and applies the schema.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := config.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.AutoMigrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			content TEXT NOT NULL,
			sent_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_sent ON messages(sender_id, sent_at_unix_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair_sent ON messages(sender_id, recipient_id, sent_at_unix_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS auto_responses (
			id TEXT PRIMARY KEY,
			responder_id TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			response_text TEXT NOT NULL DEFAULT '',
			created_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auto_responses_responder ON auto_responses(responder_id, created_at_unix_ms DESC);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// AddMessage stores msg, assigning an ID and timestamp when missing.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg Message) (Message, error) {
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	msg.RecipientID = strings.TrimSpace(msg.RecipientID)
	if msg.SenderID == "" || msg.RecipientID == "" {
		return Message{}, autoreplyErrors.InvalidInput("sender and recipient are required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = s.now()
	}
	if msg.ID == "" {
		msg.ID = newID(msg.SentAt)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, sender_id, recipient_id, content, sent_at_unix_ms) VALUES(?, ?, ?, ?, ?)`,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Content, msg.SentAt.UnixMilli(),
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// FetchRecentMessages returns up to limit messages sent by userID after since, newest first.
func (s *SQLiteStore) FetchRecentMessages(ctx context.Context, userID string, limit int, since time.Time) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, content, sent_at_unix_ms
		 FROM messages
		 WHERE sender_id = ? AND sent_at_unix_ms >= ?
		 ORDER BY sent_at_unix_ms DESC, id DESC
		 LIMIT ?`,
		userID, since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, "")
}

// FetchConversation returns up to limit messages exchanged between a and b, newest first.
// Role is RoleSelf for messages sent by a.
func (s *SQLiteStore) FetchConversation(ctx context.Context, a, b string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, content, sent_at_unix_ms
		 FROM messages
		 WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		 ORDER BY sent_at_unix_ms DESC, id DESC
		 LIMIT ?`,
		a, b, b, a, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, a)
}

// LastMessageAt returns when userID last sent a message to anyone.
func (s *SQLiteStore) LastMessageAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sent_at_unix_ms) FROM messages WHERE sender_id = ?`, userID,
	).Scan(&ms)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last message: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64), true, nil
}

// RecordAutoResponse appends to the interaction log.
func (s *SQLiteStore) RecordAutoResponse(ctx context.Context, rec AutoResponse) (AutoResponse, error) {
	if rec.ResponderID == "" || rec.RequesterID == "" {
		return AutoResponse{}, autoreplyErrors.InvalidInput("responder and requester are required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.ID == "" {
		rec.ID = newID(rec.CreatedAt)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auto_responses(id, responder_id, requester_id, reason, confidence, response_text, created_at_unix_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ResponderID, rec.RequesterID, rec.Reason, rec.Confidence, rec.ResponseText, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return AutoResponse{}, fmt.Errorf("insert auto response: %w", err)
	}
	return rec, nil
}

// CountAutoResponsesSince counts auto-responses sent for responderID at or after since.
func (s *SQLiteStore) CountAutoResponsesSince(ctx context.Context, responderID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auto_responses WHERE responder_id = ? AND created_at_unix_ms >= ?`,
		responderID, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count auto responses: %w", err)
	}
	return n, nil
}

// ListAutoResponses returns the newest interaction log entries for responderID.
func (s *SQLiteStore) ListAutoResponses(ctx context.Context, responderID string, limit int) ([]AutoResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, responder_id, requester_id, reason, confidence, response_text, created_at_unix_ms
		 FROM auto_responses WHERE responder_id = ?
		 ORDER BY created_at_unix_ms DESC, id DESC LIMIT ?`,
		responderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query auto responses: %w", err)
	}
	defer rows.Close()

	var out []AutoResponse
	for rows.Next() {
		var (
			rec AutoResponse
			ms  int64
		)
		if err := rows.Scan(&rec.ID, &rec.ResponderID, &rec.RequesterID, &rec.Reason, &rec.Confidence, &rec.ResponseText, &ms); err != nil {
			return nil, fmt.Errorf("scan auto response: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMessages(rows *sql.Rows, self string) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			msg Message
			ms  int64
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SentAt = time.UnixMilli(ms)
		if self != "" {
			msg.Role = RoleOther
			if msg.SenderID == self {
				msg.Role = RoleSelf
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
