package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/crypto"
	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/pkg/provider/types"
)

// Coordinator implements C8 over *sql.DB. It is the only package that
// maps internal/model structs onto SQL rows — per spec.md §9's
// "Conversation <-> Message cyclic relation" design note, nothing
// outside this package ever holds an in-memory Conversation pointing at
// its Messages or vice versa; every relation is resolved by a query.
type Coordinator struct {
	db        *sql.DB
	masterKey *crypto.MasterKey

	mu      sync.Mutex
	buffers map[uuid.UUID]*eventBuffer
}

// eventBuffer accumulates MessageEvent rows for one streaming message
// in memory between checkpoint flushes, per spec.md §4.8's
// "checkpoint(message_id): flushes all in-memory buffered events".
type eventBuffer struct {
	mu      sync.Mutex
	nextSeq int64
	pending []bufferedEvent
}

type bufferedEvent struct {
	seq     int64
	evType  model.MessageEventType
	payload []byte
}

// flushThreshold bounds how many buffered events accumulate before an
// AppendEvent call triggers an implicit flush, so a very long turn
// doesn't hold an unbounded amount of unflushed state in memory.
const flushThreshold = 32

// New wraps db as a Coordinator. masterKey decrypts/encrypts Provider
// API keys; it may be nil for tests that never touch provider rows.
func New(db *sql.DB, masterKey *crypto.MasterKey) *Coordinator {
	return &Coordinator{db: db, masterKey: masterKey, buffers: make(map[uuid.UUID]*eventBuffer)}
}

func (c *Coordinator) bufferFor(messageID uuid.UUID) *eventBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[messageID]
	if !ok {
		b = &eventBuffer{}
		c.buffers[messageID] = b
	}
	return b
}

func (c *Coordinator) dropBuffer(messageID uuid.UUID) {
	c.mu.Lock()
	delete(c.buffers, messageID)
	c.mu.Unlock()
}

// eventPayload is the JSON shape stored in message_events.payload,
// covering every MessageEventType variant per spec.md §3's tagged
// union.
type eventPayload struct {
	Content   string                   `json:"content,omitempty"`
	Reasoning string                   `json:"reasoning,omitempty"`
	ToolCall  *model.ToolCallFragment  `json:"tool_call,omitempty"`
	ToolResult *model.ToolResultPayload `json:"tool_result,omitempty"`
	Error     *model.ErrorEventPayload `json:"error,omitempty"`
}

func encodeEvent(ev model.MessageEvent) ([]byte, error) {
	return json.Marshal(eventPayload{
		Content:    ev.ContentChunk,
		Reasoning:  ev.ReasoningChunk,
		ToolCall:   ev.ToolCall,
		ToolResult: ev.ToolResult,
		Error:      ev.ErrorPayload,
	})
}

// AppendEvent buffers one event for messageID, assigning it the next
// dense event_seq (spec.md §3's MessageEvent invariant). It rejects
// writes against a message already known to be terminal — callers must
// have finalized through FinalizeMessage, not AppendEvent, to close out
// a message.
func (c *Coordinator) AppendEvent(ctx context.Context, messageID uuid.UUID, ev model.MessageEvent) (int64, error) {
	var status model.MessageStatus
	if err := c.db.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = $1`, messageID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return 0, apierr.Newf(apierr.KindNotFound, "message %s not found", messageID)
		}
		return 0, fmt.Errorf("look up message %s status: %w", messageID, err)
	}
	if status.IsTerminal() {
		return 0, apierr.Newf(apierr.KindConflict, "message %s is already %s, no further events accepted", messageID, status)
	}

	payload, err := encodeEvent(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event payload: %w", err)
	}

	b := c.bufferFor(messageID)
	b.mu.Lock()
	seq := b.nextSeq
	b.nextSeq++
	b.pending = append(b.pending, bufferedEvent{seq: seq, evType: ev.Type, payload: payload})
	shouldFlush := len(b.pending) >= flushThreshold
	b.mu.Unlock()

	if shouldFlush {
		if err := c.flush(ctx, messageID, b); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// flush writes b's pending events to message_events in one batch
// transaction and clears the buffer. ON CONFLICT DO NOTHING makes a
// re-flush of an already-durable event a no-op, so Checkpoint is safe
// to call more than once for the same message.
func (c *Coordinator) flush(ctx context.Context, messageID uuid.UUID, b *eventBuffer) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_events (message_id, event_seq, type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, event_seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, messageID, e.seq, string(e.evType), e.payload); err != nil {
			return fmt.Errorf("insert event seq %d: %w", e.seq, err)
		}
	}
	return tx.Commit()
}

// Checkpoint flushes all buffered events for messageID to durable
// storage, unconditionally — called periodically during long streams
// and always on abort/disconnect (spec.md §4.8/§5).
func (c *Coordinator) Checkpoint(ctx context.Context, messageID uuid.UUID) error {
	b := c.bufferFor(messageID)
	return c.flush(ctx, messageID, b)
}

// AppendUserMessage is the optimistic-locked append contract of
// spec.md §4.8: atomic seq allocation plus row insert, rejecting a
// stale expected_last_seq with apierr.KindConflict.
func (c *Coordinator) AppendUserMessage(ctx context.Context, conversationID, userID uuid.UUID, expectedLastSeq int64, content []types.ContentPart, clientMessageID uuid.UUID) (*model.Message, error) {
	var msg *model.Message
	err := c.withConversationLock(ctx, conversationID, userID, func(tx *sql.Tx, nextSeq int64) error {
		if expectedLastSeq != nextSeq-1 {
			return apierr.New(apierr.KindConflict, "expected_last_seq does not match the conversation's current last seq")
		}
		contentJSON, err := marshalContent(content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		m := &model.Message{
			ID:              uuid.New(),
			ConversationID:  conversationID,
			Seq:             nextSeq,
			ClientMessageID: clientMessageID,
			Role:            model.RoleUser,
			Status:          model.MessageStatusFinal,
			Content:         content,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, client_message_id, role, status, content)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.ConversationID, m.Seq, m.ClientMessageID, m.Role, m.Status, contentJSON); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET next_seq = $1, updated_at = now() WHERE id = $2`, nextSeq+1, conversationID); err != nil {
			return fmt.Errorf("advance next_seq: %w", err)
		}
		msg = m
		return nil
	})
	return msg, err
}

// BeginAssistantMessage creates the streaming placeholder C7 then
// appends events to and finalizes.
func (c *Coordinator) BeginAssistantMessage(ctx context.Context, conversationID, userID uuid.UUID, providerID uuid.UUID, modelName string) (*model.Message, error) {
	var msg *model.Message
	err := c.withConversationLock(ctx, conversationID, userID, func(tx *sql.Tx, nextSeq int64) error {
		m := &model.Message{
			ID:              uuid.New(),
			ConversationID:  conversationID,
			Seq:             nextSeq,
			ClientMessageID: uuid.New(),
			Role:            model.RoleAssistant,
			Status:          model.MessageStatusStreaming,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, client_message_id, role, status, content)
			VALUES ($1, $2, $3, $4, $5, $6, NULL)
		`, m.ID, m.ConversationID, m.Seq, m.ClientMessageID, m.Role, m.Status); err != nil {
			return fmt.Errorf("insert assistant placeholder: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET next_seq = $1, updated_at = now() WHERE id = $2`, nextSeq+1, conversationID); err != nil {
			return fmt.Errorf("advance next_seq: %w", err)
		}
		msg = m
		return nil
	})
	return msg, err
}

// FinalizeMessage flushes any buffered events, transitions messageID to
// a terminal status, and writes its canonical content, reasoning
// details, and ToolCall rows in one transaction (spec.md §4.8).
func (c *Coordinator) FinalizeMessage(ctx context.Context, messageID uuid.UUID, content []types.ContentPart, status model.MessageStatus, reasoning []string, toolCalls []model.ToolCall, usage types.Usage) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize message %s: status %q is not terminal", messageID, status)
	}
	if err := c.Checkpoint(ctx, messageID); err != nil {
		return fmt.Errorf("checkpoint before finalize: %w", err)
	}

	contentJSON, err := marshalContent(content)
	if err != nil {
		return fmt.Errorf("marshal final content: %w", err)
	}
	reasoningJSON, err := json.Marshal(reasoning)
	if err != nil {
		return fmt.Errorf("marshal reasoning details: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = $1, content = $2, reasoning_details = $3, updated_at = now()
		WHERE id = $4
	`, status, contentJSON, reasoningJSON, messageID); err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tool_calls (message_id, call_index, tool_name, arguments_json, text_offset, status, output_ref, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id, call_index) DO UPDATE SET
			status = EXCLUDED.status, output_ref = EXCLUDED.output_ref, completed_at = EXCLUDED.completed_at
	`)
	if err != nil {
		return fmt.Errorf("prepare tool_call upsert: %w", err)
	}
	defer stmt.Close()

	for _, tcall := range toolCalls {
		if _, err := stmt.ExecContext(ctx, messageID, tcall.CallIndex, tcall.ToolName, tcall.ArgumentsJSON, tcall.TextOffset, tcall.Status, tcall.OutputRef, tcall.StartedAt, tcall.CompletedAt); err != nil {
			return fmt.Errorf("upsert tool_call %d: %w", tcall.CallIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	c.dropBuffer(messageID)
	return nil
}

// withConversationLock serializes all mutation on conversationID behind
// a `SELECT ... FOR UPDATE` row lock (spec.md §4.8/§5: "operations on a
// single conversation are serialized by row-level locking on the
// conversation row"), checks ownership, and hands fn the conversation's
// current next_seq.
func (c *Coordinator) withConversationLock(ctx context.Context, conversationID, userID uuid.UUID, fn func(tx *sql.Tx, nextSeq int64) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var ownerID uuid.UUID
	var deleted bool
	var nextSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT owner_user_id, deleted, next_seq FROM conversations WHERE id = $1 FOR UPDATE
	`, conversationID).Scan(&ownerID, &deleted, &nextSeq)
	if err == sql.ErrNoRows {
		return apierr.Newf(apierr.KindNotFound, "conversation %s not found", conversationID)
	}
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	if ownerID != userID || deleted {
		return apierr.Newf(apierr.KindNotFound, "conversation %s not found", conversationID)
	}

	if err := fn(tx, nextSeq); err != nil {
		return err
	}
	return tx.Commit()
}

// EditMessage implements spec.md §4.8's edit_message contract: it forks
// the conversation's prefix through the edited message into a new
// conversation carrying the new content, and truncates the original by
// rolling its next_seq back to just past the edited message — its tail
// rows stay physically present (never destroyed, per spec.md §3's
// Conversation lifecycle note) but fall outside any query bounded by
// `seq < next_seq`, which every read path in this package uses.
func (c *Coordinator) EditMessage(ctx context.Context, clientMessageID, conversationID, userID uuid.UUID, newContent []types.ContentPart, expectedLastSeq int64) (*model.Message, uuid.UUID, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var ownerID uuid.UUID
	var deleted bool
	var nextSeq int64
	var settingsJSON, metadataJSON []byte
	err = tx.QueryRowContext(ctx, `
		SELECT owner_user_id, deleted, next_seq, settings, metadata FROM conversations WHERE id = $1 FOR UPDATE
	`, conversationID).Scan(&ownerID, &deleted, &nextSeq, &settingsJSON, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, uuid.Nil, apierr.Newf(apierr.KindNotFound, "conversation %s not found", conversationID)
	}
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("lock conversation: %w", err)
	}
	if ownerID != userID || deleted {
		return nil, uuid.Nil, apierr.Newf(apierr.KindNotFound, "conversation %s not found", conversationID)
	}
	if expectedLastSeq != nextSeq-1 {
		return nil, uuid.Nil, apierr.New(apierr.KindConflict, "expected_last_seq does not match the conversation's current last seq")
	}

	var editSeq int64
	var editRole, editStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT seq, role, status FROM messages WHERE conversation_id = $1 AND client_message_id = $2
	`, conversationID, clientMessageID).Scan(&editSeq, &editRole, &editStatus)
	if err == sql.ErrNoRows {
		return nil, uuid.Nil, apierr.Newf(apierr.KindNotFound, "message %s not found", clientMessageID)
	}
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("find edited message: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, seq, client_message_id, role, status, content, reasoning_details, parent_message_seq
		FROM messages WHERE conversation_id = $1 AND seq <= $2 ORDER BY seq
	`, conversationID, editSeq)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("read prefix: %w", err)
	}
	type row struct {
		id               uuid.UUID
		seq              int64
		clientMessageID  uuid.UUID
		role, status     string
		content          []byte
		reasoning        []byte
		parentSeq        sql.NullInt64
	}
	var prefix []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.seq, &r.clientMessageID, &r.role, &r.status, &r.content, &r.reasoning, &r.parentSeq); err != nil {
			rows.Close()
			return nil, uuid.Nil, fmt.Errorf("scan prefix row: %w", err)
		}
		prefix = append(prefix, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, uuid.Nil, fmt.Errorf("iterate prefix: %w", err)
	}

	forkID := uuid.New()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_user_id, settings, metadata, deleted, next_seq, forked_from_conversation_id, forked_at_seq)
		VALUES ($1, $2, $3, $4, false, $5, $6, $7)
	`, forkID, userID, settingsJSON, metadataJSON, editSeq+1, conversationID, editSeq); err != nil {
		return nil, uuid.Nil, fmt.Errorf("insert fork: %w", err)
	}

	newContentJSON, err := marshalContent(newContent)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("marshal new content: %w", err)
	}

	var editedMessage *model.Message
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, client_message_id, role, status, content, reasoning_details, parent_message_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("prepare fork message insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range prefix {
		newID := uuid.New()
		content := r.content
		status := r.status
		if r.seq == editSeq {
			content = newContentJSON
			status = string(model.MessageStatusFinal)
		}
		var parentSeq interface{}
		if r.parentSeq.Valid {
			parentSeq = r.parentSeq.Int64
		}
		if _, err := stmt.ExecContext(ctx, newID, forkID, r.seq, r.clientMessageID, r.role, status, content, r.reasoning, parentSeq); err != nil {
			return nil, uuid.Nil, fmt.Errorf("insert forked message seq %d: %w", r.seq, err)
		}
		if r.seq == editSeq {
			editedMessage = &model.Message{
				ID:              newID,
				ConversationID:  forkID,
				Seq:             r.seq,
				ClientMessageID: r.clientMessageID,
				Role:            model.MessageRole(r.role),
				Status:          model.MessageStatusFinal,
				Content:         newContent,
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET next_seq = $1, updated_at = now() WHERE id = $2`, editSeq+1, conversationID); err != nil {
		return nil, uuid.Nil, fmt.Errorf("truncate original conversation: %w", err)
	}

	// The edited prefix no longer matches whatever the provider last saw,
	// so any previous_response_id continuation for the original
	// conversation is stale and must not be reused on its next turn.
	if err := clearProviderStateRecord(ctx, tx, conversationID); err != nil {
		return nil, uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, uuid.Nil, fmt.Errorf("commit edit: %w", err)
	}
	return editedMessage, forkID, nil
}

// GetProviderStateRecord returns the Responses-API continuation state
// for a conversation, if any.
func (c *Coordinator) GetProviderStateRecord(ctx context.Context, conversationID uuid.UUID) (string, bool, error) {
	var prevID string
	err := c.db.QueryRowContext(ctx, `SELECT previous_response_id FROM provider_state WHERE conversation_id = $1`, conversationID).Scan(&prevID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get provider state: %w", err)
	}
	return prevID, true, nil
}

// SetProviderStateRecord upserts the continuation state after a
// Responses-API turn.
func (c *Coordinator) SetProviderStateRecord(ctx context.Context, conversationID uuid.UUID, previousResponseID string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO provider_state (conversation_id, previous_response_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO UPDATE SET previous_response_id = EXCLUDED.previous_response_id, updated_at = now()
	`, conversationID, previousResponseID)
	if err != nil {
		return fmt.Errorf("set provider state: %w", err)
	}
	return nil
}

// ClearProviderStateRecord removes the continuation state, called on
// message edit per spec.md §4.3.
func (c *Coordinator) ClearProviderStateRecord(ctx context.Context, conversationID uuid.UUID) error {
	return clearProviderStateRecord(ctx, c.db, conversationID)
}

// clearProviderStateRecord is the shared implementation, usable against
// either *sql.DB or a *sql.Tx so EditMessage can clear the record as
// part of its own transaction instead of a separate round trip.
func clearProviderStateRecord(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}, conversationID uuid.UUID) error {
	_, err := execer.ExecContext(ctx, `DELETE FROM provider_state WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("clear provider state: %w", err)
	}
	return nil
}

// ReplayContent reconstructs a message's cumulative text by replaying
// its content_chunk events in event_seq order, for the invariant in
// spec.md §8 ("replaying a final message's events reconstructs its
// content").
func (c *Coordinator) ReplayContent(ctx context.Context, messageID uuid.UUID) (string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT type, payload FROM message_events WHERE message_id = $1 ORDER BY event_seq
	`, messageID)
	if err != nil {
		return "", fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var text string
	for rows.Next() {
		var evType string
		var payload []byte
		if err := rows.Scan(&evType, &payload); err != nil {
			return "", fmt.Errorf("scan event: %w", err)
		}
		if model.MessageEventType(evType) != model.EventContentChunk {
			continue
		}
		var p eventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", fmt.Errorf("unmarshal event payload: %w", err)
		}
		text += p.Content
	}
	return text, rows.Err()
}

// CreateConversation inserts a fresh conversation row owned by userID.
func (c *Coordinator) CreateConversation(ctx context.Context, userID uuid.UUID, settings model.ConversationSettings, metadata map[string]interface{}) (*model.Conversation, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	conv := &model.Conversation{ID: uuid.New(), OwnerID: userID, Settings: settings, Metadata: metadata, NextSeq: 1}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_user_id, settings, metadata, next_seq)
		VALUES ($1, $2, $3, $4, 1)
	`, conv.ID, conv.OwnerID, settingsJSON, metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation reads a conversation row, scoped to userID per
// spec.md §3's ownership rule — there is no "by id alone" accessor.
func (c *Coordinator) GetConversation(ctx context.Context, id, userID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	var settingsJSON, metadataJSON []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, settings, metadata, deleted, next_seq, created_at, updated_at
		FROM conversations WHERE id = $1 AND owner_user_id = $2
	`, id, userID).Scan(&conv.ID, &conv.OwnerID, &settingsJSON, &metadataJSON, &conv.Deleted, &conv.NextSeq, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.Newf(apierr.KindNotFound, "conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &conv.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &conv.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &conv, nil
}

// ListConversations returns userID's non-deleted conversations, newest
// first.
func (c *Coordinator) ListConversations(ctx context.Context, userID uuid.UUID) ([]model.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, owner_user_id, settings, metadata, deleted, next_seq, created_at, updated_at
		FROM conversations WHERE owner_user_id = $1 AND NOT deleted ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var settingsJSON, metadataJSON []byte
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &settingsJSON, &metadataJSON, &conv.Deleted, &conv.NextSeq, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		_ = json.Unmarshal(settingsJSON, &conv.Settings)
		_ = json.Unmarshal(metadataJSON, &conv.Metadata)
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation soft-deletes a conversation (spec.md §3: "never
// physically removed in normal operation").
func (c *Coordinator) DeleteConversation(ctx context.Context, id, userID uuid.UUID) error {
	res, err := c.db.ExecContext(ctx, `UPDATE conversations SET deleted = true, updated_at = now() WHERE id = $1 AND owner_user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("soft-delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apierr.Newf(apierr.KindNotFound, "conversation %s not found", id)
	}
	return nil
}

// ListMessages returns every message visible in a conversation — i.e.
// with seq < next_seq, excluding any tail left behind by an edit_message
// truncation (see EditMessage's doc comment).
func (c *Coordinator) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]model.Message, error) {
	conv, err := c.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, client_message_id, role, status, content, reasoning_details, parent_message_seq, created_at, updated_at
		FROM messages WHERE conversation_id = $1 AND seq < $2 ORDER BY seq
	`, conversationID, conv.NextSeq)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var contentRaw, reasoningRaw []byte
		var parentSeq sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.ClientMessageID, &m.Role, &m.Status, &contentRaw, &reasoningRaw, &parentSeq, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if parentSeq.Valid {
			v := parentSeq.Int64
			m.ParentMessageSeq = &v
		}
		content, err := unmarshalContent(contentRaw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal message %s content: %w", m.ID, err)
		}
		m.Content = content
		if len(reasoningRaw) > 0 {
			_ = json.Unmarshal(reasoningRaw, &m.ReasoningDetails)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
