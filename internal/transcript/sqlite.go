package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions and transcripts in an embedded SQLite
// database. It is the zero-setup default; the (session_id, event_id)
// idempotency guarantee comes from a partial UNIQUE index.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent turn submissions from independent workers.
	// modernc's driver takes pragmas as _pragma query options, applied to
	// every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		room_name TEXT NOT NULL,
		candidate_name TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		stage_started_at INTEGER NOT NULL,
		last_turn_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_room
		ON sessions(room_name) WHERE status IN ('created','running');

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		stage TEXT NOT NULL,
		text TEXT NOT NULL,
		is_final INTEGER NOT NULL DEFAULT 1,
		event_id TEXT,
		reply_to TEXT,
		meta_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_event
		ON messages(session_id, event_id) WHERE event_id IS NOT NULL AND event_id != '';
	CREATE INDEX IF NOT EXISTS idx_messages_session_created
		ON messages(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// isUniqueViolation matches modernc.org/sqlite constraint errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) CreateSession(ctx context.Context, roomName, candidateName, role string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:             uuid.NewString(),
		RoomName:       roomName,
		CandidateName:  candidateName,
		Role:           role,
		Status:         StatusCreated,
		Stage:          StageIntro,
		StageStartedAt: now,
		LastTurnAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, room_name, candidate_name, role, status, stage,
			stage_started_at, last_turn_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.RoomName, sess.CandidateName, sess.Role,
		string(sess.Status), string(sess.Stage),
		now.UnixNano(), now.UnixNano(), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Session{}, fmt.Errorf("room %q: %w", roomName, ErrRoomActive)
		}
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, stage, text, is_final, meta_json, created_at)
		 VALUES (?,?,?,?,?,1,'{}',?)`,
		uuid.NewString(), sess.ID, string(RoleSystem), string(sess.Stage), "Session created.", now.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert created marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_name, candidate_name, role, status, stage,
			stage_started_at, last_turn_at, created_at, updated_at, ended_at
		 FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var status, stage string
	var stageStarted, lastTurn, createdAt, updatedAt int64
	var endedAt sql.NullInt64

	err := row.Scan(&sess.ID, &sess.RoomName, &sess.CandidateName, &sess.Role,
		&status, &stage, &stageStarted, &lastTurn, &createdAt, &updatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session row: %w", err)
	}

	sess.Status = Status(status)
	sess.Stage = Stage(stage)
	sess.StageStartedAt = time.Unix(0, stageStarted).UTC()
	sess.LastTurnAt = time.Unix(0, lastTurn).UTC()
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if endedAt.Valid {
		t := time.Unix(0, endedAt.Int64).UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	eventID := msg.EventID()
	replyTo := ""
	if msg.Meta != nil {
		replyTo, _ = msg.Meta[MetaReplyTo].(string)
	}
	metaJSON := []byte("{}")
	if len(msg.Meta) > 0 {
		b, err := json.Marshal(msg.Meta)
		if err != nil {
			return Message{}, fmt.Errorf("marshal meta: %w", err)
		}
		metaJSON = b
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, stage, text, is_final, event_id, reply_to, meta_json, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		msg.ID, msg.SessionID, string(msg.Role), string(msg.Stage), msg.Text,
		boolToInt(msg.IsFinal), nullable(eventID), nullable(replyTo), string(metaJSON), msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) && eventID != "" {
			existing, ferr := s.FindMessageByEvent(ctx, msg.SessionID, eventID)
			if ferr != nil {
				return Message{}, fmt.Errorf("lookup duplicate event %q: %w", eventID, ferr)
			}
			return existing, ErrDuplicateEvent
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return Message{}, ErrSessionNotFound
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const messageColumns = `id, session_id, role, stage, text, is_final, meta_json, created_at`

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var role, stage, metaJSON string
	var isFinal int
	var createdAt int64

	err := row.Scan(&msg.ID, &msg.SessionID, &role, &stage, &msg.Text, &isFinal, &metaJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("scan message row: %w", err)
	}

	msg.Role = Role(role)
	msg.Stage = Stage(stage)
	msg.IsFinal = isFinal != 0
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &msg.Meta); err != nil {
			return Message{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) FindMessageByEvent(ctx context.Context, sessionID, eventID string) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? AND event_id = ?`, sessionID, eventID)
	return scanMessage(row)
}

func (s *SQLiteStore) FindAgentReply(ctx context.Context, sessionID, eventID string) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ? AND role = ? AND reply_to = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, string(RoleAgent), eventID)
	return scanMessage(row)
}

func (s *SQLiteStore) LastAgentMessage(ctx context.Context, sessionID string) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ? AND role = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, string(RoleAgent))
	return scanMessage(row)
}

func (s *SQLiteStore) CountAgentMessages(ctx context.Context, sessionID string, stage Stage) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = ? AND stage = ?`,
		sessionID, string(RoleAgent), string(stage)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count agent messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateSessionStage(ctx context.Context, sessionID string, newStage Stage, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT stage FROM sessions WHERE id = ?`, sessionID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read stage: %w", err)
	}
	if !ValidStageTransition(Stage(current), newStage) {
		return fmt.Errorf("stage %s -> %s: %w", current, newStage, ErrInvalidTransition)
	}
	if Stage(current) != newStage {
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET stage = ?, stage_started_at = ?, updated_at = ? WHERE id = ?`,
			string(newStage), now.UnixNano(), now.UnixNano(), sessionID)
		if err != nil {
			return fmt.Errorf("update stage: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, newStatus Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if !ValidStatusTransition(Status(current), newStatus) {
		return fmt.Errorf("status %s -> %s: %w", current, newStatus, ErrInvalidTransition)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(newStatus), time.Now().UTC().UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) TouchLastTurn(ctx context.Context, sessionID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_turn_at = ?, updated_at = ? WHERE id = ?`,
		now.UnixNano(), now.UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("touch last turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkEnded(ctx context.Context, sessionID string, now time.Time) error {
	if err := s.UpdateSessionStatus(ctx, sessionID, StatusEnded); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, updated_at = ? WHERE id = ?`,
		now.UnixNano(), now.UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("mark ended: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountActiveSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status IN ('created','running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
