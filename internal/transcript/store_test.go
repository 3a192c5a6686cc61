package transcript

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "interviews.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"inmemory": NewInMemoryStore(),
		"sqlite":   sqlite,
	}
}

func TestCreateSessionWritesMarker(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.CreateSession(ctx, "interview-abc123", "Candidate", "AI Algorithm Engineer Intern")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			if sess.Status != StatusCreated || sess.Stage != StageIntro {
				t.Fatalf("new session state = %s/%s, want created/intro", sess.Status, sess.Stage)
			}

			msgs, err := store.ListMessages(ctx, sess.ID)
			if err != nil {
				t.Fatalf("ListMessages() error = %v", err)
			}
			if len(msgs) != 1 || msgs[0].Role != RoleSystem || msgs[0].Text != "Session created." {
				t.Fatalf("expected single system marker, got %+v", msgs)
			}
		})
	}
}

func TestCreateSessionRejectsActiveRoom(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			first, err := store.CreateSession(ctx, "interview-dup", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			if _, err := store.CreateSession(ctx, "interview-dup", "Candidate", "role"); !errors.Is(err, ErrRoomActive) {
				t.Fatalf("second create error = %v, want ErrRoomActive", err)
			}

			// Ending the session frees the room.
			if err := store.MarkEnded(ctx, first.ID, time.Now().UTC()); err != nil {
				t.Fatalf("MarkEnded() error = %v", err)
			}
			if _, err := store.CreateSession(ctx, "interview-dup", "Candidate", "role"); err != nil {
				t.Fatalf("create after end error = %v", err)
			}
		})
	}
}

func TestAppendMessageDuplicateEvent(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.CreateSession(ctx, "interview-idem", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}

			first, err := store.AppendMessage(ctx, Message{
				SessionID: sess.ID,
				Role:      RoleUser,
				Stage:     StageIntro,
				Text:      "hello there",
				IsFinal:   true,
				Meta:      map[string]any{MetaEventID: "evt-1"},
			})
			if err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}

			dup, err := store.AppendMessage(ctx, Message{
				SessionID: sess.ID,
				Role:      RoleUser,
				Stage:     StageIntro,
				Text:      "hello there, resent",
				IsFinal:   true,
				Meta:      map[string]any{MetaEventID: "evt-1"},
			})
			if !errors.Is(err, ErrDuplicateEvent) {
				t.Fatalf("duplicate append error = %v, want ErrDuplicateEvent", err)
			}
			if dup.ID != first.ID || dup.Text != "hello there" {
				t.Fatalf("duplicate append returned %+v, want original message", dup)
			}

			msgs, err := store.ListMessages(ctx, sess.ID)
			if err != nil {
				t.Fatalf("ListMessages() error = %v", err)
			}
			if len(msgs) != 2 { // system marker + one user turn
				t.Fatalf("transcript length = %d, want 2", len(msgs))
			}
		})
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AppendMessage(ctx, Message{
				SessionID: "no-such-session",
				Role:      RoleUser,
				Stage:     StageIntro,
				Text:      "hi",
			})
			if !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("append error = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestFindAgentReplyAndCounts(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.CreateSession(ctx, "interview-replies", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}

			add := func(role Role, stage Stage, text string, meta map[string]any) Message {
				t.Helper()
				msg, err := store.AppendMessage(ctx, Message{
					SessionID: sess.ID, Role: role, Stage: stage, Text: text, IsFinal: true, Meta: meta,
				})
				if err != nil {
					t.Fatalf("AppendMessage(%s) error = %v", text, err)
				}
				return msg
			}

			add(RoleUser, StageIntro, "hi", map[string]any{MetaEventID: "evt-1"})
			reply := add(RoleAgent, StageIntro, "welcome", map[string]any{MetaReplyTo: "evt-1"})
			add(RoleUser, StageExperience, "about my internship", map[string]any{MetaEventID: "evt-2"})
			add(RoleAgent, StageExperience, "tell me more", map[string]any{MetaReplyTo: "evt-2"})

			got, err := store.FindAgentReply(ctx, sess.ID, "evt-1")
			if err != nil {
				t.Fatalf("FindAgentReply() error = %v", err)
			}
			if got.ID != reply.ID {
				t.Fatalf("FindAgentReply() = %q, want %q", got.ID, reply.ID)
			}

			last, err := store.LastAgentMessage(ctx, sess.ID)
			if err != nil {
				t.Fatalf("LastAgentMessage() error = %v", err)
			}
			if last.Text != "tell me more" {
				t.Fatalf("LastAgentMessage() text = %q", last.Text)
			}

			n, err := store.CountAgentMessages(ctx, sess.ID, StageIntro)
			if err != nil {
				t.Fatalf("CountAgentMessages() error = %v", err)
			}
			if n != 1 {
				t.Fatalf("intro agent count = %d, want 1", n)
			}

			if _, err := store.FindAgentReply(ctx, sess.ID, "evt-missing"); !errors.Is(err, ErrMessageNotFound) {
				t.Fatalf("missing reply error = %v, want ErrMessageNotFound", err)
			}
		})
	}
}

func TestUpdateSessionStageRejectsSkips(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.CreateSession(ctx, "interview-stages", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			now := time.Now().UTC()

			if err := store.UpdateSessionStage(ctx, sess.ID, StageDone, now); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("intro -> done error = %v, want ErrInvalidTransition", err)
			}
			if err := store.UpdateSessionStage(ctx, sess.ID, StageExperience, now); err != nil {
				t.Fatalf("intro -> experience error = %v", err)
			}
			if err := store.UpdateSessionStage(ctx, sess.ID, StageIntro, now); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("experience -> intro error = %v, want ErrInvalidTransition", err)
			}
			if err := store.UpdateSessionStage(ctx, sess.ID, StageExperience, now); err != nil {
				t.Fatalf("experience -> experience (no-op) error = %v", err)
			}

			got, err := store.GetSession(ctx, sess.ID)
			if err != nil {
				t.Fatalf("GetSession() error = %v", err)
			}
			if got.Stage != StageExperience {
				t.Fatalf("stage = %s, want experience", got.Stage)
			}
		})
	}
}

func TestUpdateSessionStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.CreateSession(ctx, "interview-status", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}

			if err := store.UpdateSessionStatus(ctx, sess.ID, StatusRunning); err != nil {
				t.Fatalf("created -> running error = %v", err)
			}
			if err := store.UpdateSessionStatus(ctx, sess.ID, StatusEnded); err != nil {
				t.Fatalf("running -> ended error = %v", err)
			}
			if err := store.UpdateSessionStatus(ctx, sess.ID, StatusRunning); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("ended -> running error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestMarkEndedSetsTimestamp(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.CreateSession(ctx, "interview-ended", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			if err := store.MarkEnded(ctx, sess.ID, time.Now().UTC()); err != nil {
				t.Fatalf("MarkEnded() error = %v", err)
			}
			got, err := store.GetSession(ctx, sess.ID)
			if err != nil {
				t.Fatalf("GetSession() error = %v", err)
			}
			if got.Status != StatusEnded || got.EndedAt == nil {
				t.Fatalf("ended session = %+v, want status ended with ended_at set", got)
			}
		})
	}
}

func TestCountActiveSessions(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			a, err := store.CreateSession(ctx, "interview-a", "Candidate", "role")
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			if _, err := store.CreateSession(ctx, "interview-b", "Candidate", "role"); err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			if err := store.MarkEnded(ctx, a.ID, time.Now().UTC()); err != nil {
				t.Fatalf("MarkEnded() error = %v", err)
			}

			n, err := store.CountActiveSessions(ctx)
			if err != nil {
				t.Fatalf("CountActiveSessions() error = %v", err)
			}
			if n != 1 {
				t.Fatalf("active sessions = %d, want 1", n)
			}
		})
	}
}

func TestSQLitePragmasApply(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "interviews.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}
}
