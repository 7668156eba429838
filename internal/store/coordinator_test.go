package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/pkg/provider/types"
)

func setupMockCoordinator(t *testing.T) (sqlmock.Sqlmock, *Coordinator) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, New(db, nil)
}

func TestCoordinator_AppendUserMessage_Success(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	convID := uuid.New()
	userID := uuid.New()
	clientMsgID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT owner_user_id, deleted, next_seq FROM conversations").
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "deleted", "next_seq"}).
			AddRow(userID, false, int64(1)))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE conversations SET next_seq").
		WithArgs(int64(2), convID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	content := []types.ContentPart{types.TextContent{Text: "hi"}}
	msg, err := c.AppendUserMessage(context.Background(), convID, userID, 0, content, clientMsgID)
	if err != nil {
		t.Fatalf("AppendUserMessage: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", msg.Seq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCoordinator_AppendUserMessage_StaleExpectedSeqConflicts(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	convID := uuid.New()
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT owner_user_id, deleted, next_seq FROM conversations").
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "deleted", "next_seq"}).
			AddRow(userID, false, int64(5)))
	mock.ExpectRollback()

	_, err := c.AppendUserMessage(context.Background(), convID, userID, 0, nil, uuid.New())
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	if apierr.KindOf(err) != apierr.KindConflict {
		t.Fatalf("expected KindConflict, got %v", apierr.KindOf(err))
	}
}

func TestCoordinator_AppendUserMessage_WrongOwnerNotFound(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	convID := uuid.New()
	owner := uuid.New()
	other := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT owner_user_id, deleted, next_seq FROM conversations").
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "deleted", "next_seq"}).
			AddRow(owner, false, int64(1)))
	mock.ExpectRollback()

	_, err := c.AppendUserMessage(context.Background(), convID, other, 0, nil, uuid.New())
	if err == nil {
		t.Fatal("expected a not-found error")
	}
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", apierr.KindOf(err))
	}
}

func TestCoordinator_AppendEvent_FlushesAtThreshold(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	messageID := uuid.New()

	for i := 0; i < flushThreshold; i++ {
		mock.ExpectQuery("SELECT status FROM messages").
			WithArgs(messageID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.MessageStatusStreaming)))
	}
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO message_events")
	for i := 0; i < flushThreshold; i++ {
		mock.ExpectExec("INSERT INTO message_events").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	ctx := context.Background()
	for i := 0; i < flushThreshold; i++ {
		if _, err := c.AppendEvent(ctx, messageID, model.MessageEvent{Type: model.EventContentChunk, ContentChunk: "x"}); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCoordinator_AppendEvent_RejectsTerminalMessage(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	messageID := uuid.New()

	mock.ExpectQuery("SELECT status FROM messages").
		WithArgs(messageID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.MessageStatusFinal)))

	_, err := c.AppendEvent(context.Background(), messageID, model.MessageEvent{Type: model.EventContentChunk, ContentChunk: "x"})
	if err == nil {
		t.Fatal("expected an error appending an event to a terminal message")
	}
	if apierr.KindOf(err) != apierr.KindConflict {
		t.Fatalf("expected KindConflict, got %v", apierr.KindOf(err))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCoordinator_AppendEvent_UnknownMessageNotFound(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	messageID := uuid.New()

	mock.ExpectQuery("SELECT status FROM messages").
		WithArgs(messageID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := c.AppendEvent(context.Background(), messageID, model.MessageEvent{Type: model.EventContentChunk, ContentChunk: "x"})
	if err == nil {
		t.Fatal("expected an error for an unknown message")
	}
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", apierr.KindOf(err))
	}
}

func TestCoordinator_Checkpoint_NoOpWhenEmpty(t *testing.T) {
	_, c := setupMockCoordinator(t)
	// No buffered events for this message, no flush means no SQL
	// expectations are ever armed on the mock — Checkpoint must not
	// touch the database when there's nothing pending.
	if err := c.Checkpoint(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}

func TestCoordinator_FinalizeMessage_RejectsNonTerminalStatus(t *testing.T) {
	_, c := setupMockCoordinator(t)
	err := c.FinalizeMessage(context.Background(), uuid.New(), nil, model.MessageStatusStreaming, nil, nil, types.Usage{})
	if err == nil {
		t.Fatal("expected an error for a non-terminal status")
	}
}

func TestCoordinator_ReplayContent_ConcatenatesContentChunks(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	messageID := uuid.New()

	rows := sqlmock.NewRows([]string{"type", "payload"}).
		AddRow(string(model.EventContentChunk), []byte(`{"content":"Hello"}`)).
		AddRow(string(model.EventReasoningChunk), []byte(`{"reasoning":"thinking"}`)).
		AddRow(string(model.EventContentChunk), []byte(`{"content":" world"}`))
	mock.ExpectQuery("SELECT type, payload FROM message_events").
		WithArgs(messageID).
		WillReturnRows(rows)

	text, err := c.ReplayContent(context.Background(), messageID)
	if err != nil {
		t.Fatalf("ReplayContent: %v", err)
	}
	if text != "Hello world" {
		t.Fatalf("expected concatenated text, got %q", text)
	}
}

func TestCoordinator_DeleteConversation_NotFoundWhenNoRowsAffected(t *testing.T) {
	mock, c := setupMockCoordinator(t)
	convID := uuid.New()
	userID := uuid.New()

	mock.ExpectExec("UPDATE conversations SET deleted").
		WithArgs(convID, userID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.DeleteConversation(context.Background(), convID, userID)
	if err == nil {
		t.Fatal("expected a not-found error")
	}
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", apierr.KindOf(err))
	}
}
