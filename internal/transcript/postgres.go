package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions and transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			room_name TEXT NOT NULL,
			candidate_name TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			stage_started_at TIMESTAMPTZ NOT NULL,
			last_turn_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_interview_sessions_active_room
			ON interview_sessions (room_name) WHERE status IN ('created','running');`,
		`CREATE TABLE IF NOT EXISTS interview_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES interview_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			stage TEXT NOT NULL,
			text TEXT NOT NULL,
			is_final BOOLEAN NOT NULL DEFAULT TRUE,
			event_id TEXT NULL,
			reply_to TEXT NULL,
			meta JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_interview_messages_session_event
			ON interview_messages (session_id, event_id) WHERE event_id IS NOT NULL AND event_id <> '';`,
		`CREATE INDEX IF NOT EXISTS idx_interview_messages_session_created
			ON interview_messages (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateSession(ctx context.Context, roomName, candidateName, role string) (Session, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO interview_sessions (id, room_name, candidate_name, role, status, stage,
			stage_started_at, last_turn_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.RoomName, sess.CandidateName, sess.Role,
		string(sess.Status), string(sess.Stage), now, now, now, now,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return Session{}, fmt.Errorf("room %q: %w", roomName, ErrRoomActive)
		}
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO interview_messages (id, session_id, role, stage, text, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), sess.ID, string(RoleSystem), string(sess.Stage), "Session created.", now,
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert created marker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("commit session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	var status, stage string
	err := s.pool.QueryRow(ctx,
		`SELECT id, room_name, candidate_name, role, status, stage,
			stage_started_at, last_turn_at, created_at, updated_at, ended_at
		 FROM interview_sessions WHERE id = $1`, sessionID,
	).Scan(&sess.ID, &sess.RoomName, &sess.CandidateName, &sess.Role, &status, &stage,
		&sess.StageStartedAt, &sess.LastTurnAt, &sess.CreatedAt, &sess.UpdatedAt, &sess.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	sess.Status = Status(status)
	sess.Stage = Stage(stage)
	return sess, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
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
	meta := msg.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_messages (id, session_id, role, stage, text, is_final, event_id, reply_to, meta, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),$9,$10)`,
		msg.ID, msg.SessionID, string(msg.Role), string(msg.Stage), msg.Text,
		msg.IsFinal, eventID, replyTo, meta, msg.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) && eventID != "" {
			existing, ferr := s.FindMessageByEvent(ctx, msg.SessionID, eventID)
			if ferr != nil {
				return Message{}, fmt.Errorf("lookup duplicate event %q: %w", eventID, ferr)
			}
			return existing, ErrDuplicateEvent
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Message{}, ErrSessionNotFound
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

const pgMessageColumns = `id, session_id, role, stage, text, is_final, meta, created_at`

func scanPgMessage(row pgx.Row) (Message, error) {
	var msg Message
	var role, stage string
	err := row.Scan(&msg.ID, &msg.SessionID, &role, &stage, &msg.Text, &msg.IsFinal, &msg.Meta, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("scan message row: %w", err)
	}
	msg.Role = Role(role)
	msg.Stage = Stage(stage)
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMessageColumns+` FROM interview_messages
		 WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
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

func (s *PostgresStore) FindMessageByEvent(ctx context.Context, sessionID, eventID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgMessageColumns+` FROM interview_messages
		 WHERE session_id = $1 AND event_id = $2`, sessionID, eventID)
	return scanPgMessage(row)
}

func (s *PostgresStore) FindAgentReply(ctx context.Context, sessionID, eventID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgMessageColumns+` FROM interview_messages
		 WHERE session_id = $1 AND role = $2 AND reply_to = $3
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, string(RoleAgent), eventID)
	return scanPgMessage(row)
}

func (s *PostgresStore) LastAgentMessage(ctx context.Context, sessionID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgMessageColumns+` FROM interview_messages
		 WHERE session_id = $1 AND role = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, string(RoleAgent))
	return scanPgMessage(row)
}

func (s *PostgresStore) CountAgentMessages(ctx context.Context, sessionID string, stage Stage) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM interview_messages WHERE session_id = $1 AND role = $2 AND stage = $3`,
		sessionID, string(RoleAgent), string(stage)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count agent messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateSessionStage(ctx context.Context, sessionID string, newStage Stage, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx,
		`SELECT stage FROM interview_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read stage: %w", err)
	}
	if !ValidStageTransition(Stage(current), newStage) {
		return fmt.Errorf("stage %s -> %s: %w", current, newStage, ErrInvalidTransition)
	}
	if Stage(current) != newStage {
		_, err = tx.Exec(ctx,
			`UPDATE interview_sessions SET stage = $1, stage_started_at = $2, updated_at = $3 WHERE id = $4`,
			string(newStage), now, now, sessionID)
		if err != nil {
			return fmt.Errorf("update stage: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID string, newStatus Status) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM interview_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if !ValidStatusTransition(Status(current), newStatus) {
		return fmt.Errorf("status %s -> %s: %w", current, newStatus, ErrInvalidTransition)
	}
	_, err = tx.Exec(ctx,
		`UPDATE interview_sessions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(newStatus), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) TouchLastTurn(ctx context.Context, sessionID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interview_sessions SET last_turn_at = $1, updated_at = $2 WHERE id = $3`,
		now, now, sessionID)
	if err != nil {
		return fmt.Errorf("touch last turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) MarkEnded(ctx context.Context, sessionID string, now time.Time) error {
	if err := s.UpdateSessionStatus(ctx, sessionID, StatusEnded); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE interview_sessions SET ended_at = $1, updated_at = $2 WHERE id = $3`,
		now, now, sessionID)
	if err != nil {
		return fmt.Errorf("mark ended: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountActiveSessions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM interview_sessions WHERE status IN ('created','running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
