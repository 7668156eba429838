// Package model holds the persistent data shapes of spec.md §3:
// Conversation, Message, MessageEvent, ToolCall, the intent envelope,
// Provider, and the per-request RequestContext. These are plain
// structs, not ORM-bound records — internal/store is the only package
// that knows how they map onto SQL rows.
package model

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/backend/pkg/provider/types"
)

// ConversationSettings is the settings snapshot carried on every
// Conversation, per spec.md §3.
type ConversationSettings struct {
	Model            string  `json:"model"`
	ProviderID       string  `json:"provider_id"`
	SystemPrompt     string  `json:"system_prompt,omitempty"`
	ToolsEnabled     bool    `json:"tools_enabled"`
	StreamingEnabled bool    `json:"streaming_enabled"`
	ReasoningEffort  string  `json:"reasoning_effort,omitempty"`
	Verbosity        string  `json:"verbosity,omitempty"`
	QualityLevel     string  `json:"quality_level,omitempty"`
	CustomParamsID   string  `json:"custom_params_id,omitempty"`
	MaxToolIterations int    `json:"max_tool_iterations,omitempty"`
}

// Conversation is identified by UUID, owned by exactly one user.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Settings  ConversationSettings
	Metadata  map[string]interface{}
	Deleted   bool
	NextSeq   int64
	ForkedFromConversationID *uuid.UUID
	ForkedAtSeq               *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRole mirrors types.MessageRole but is kept distinct because the
// persistence layer additionally allows role=tool rows the wire-level
// Prompt type never constructs directly (tool result rows are synthesized
// from ToolCall completion, not supplied by a client).
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// MessageStatus is the lifecycle state of a Message row.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusFinal     MessageStatus = "final"
	MessageStatusError     MessageStatus = "error"
	MessageStatusAborted   MessageStatus = "aborted"
)

// IsTerminal reports whether the status forbids further MessageEvent
// appends, per spec.md §3's MessageEvent invariant.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusFinal, MessageStatusError, MessageStatusAborted:
		return true
	default:
		return false
	}
}

// Message is ordered within a Conversation by Seq. ID is a stable
// surrogate key independent of Seq, since MessageEvent and ToolCall
// rows reference a message by ID rather than by (ConversationID, Seq)
// — edit_message forks reuse the same Seq space on the fork but never
// reuse an ID.
type Message struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	Seq             int64
	ClientMessageID uuid.UUID
	Role            MessageRole
	Status          MessageStatus
	Content         []types.ContentPart
	ReasoningDetails []string
	ParentMessageSeq *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageEventType is the tagged-union discriminant of MessageEvent's
// payload, replacing the source's ad-hoc string-typed event shapes
// (spec.md §9 design note).
type MessageEventType string

const (
	EventContentChunk   MessageEventType = "content_chunk"
	EventReasoningChunk MessageEventType = "reasoning_chunk"
	EventToolCall       MessageEventType = "tool_call"
	EventToolResult     MessageEventType = "tool_result"
	EventError          MessageEventType = "error"
)

// MessageEvent is one append-only log record. Exactly one of the
// Content/Reasoning/ToolCall/ToolResult/Error fields is meaningful,
// selected by Type — an exhaustive switch on Type is the only
// sanctioned way to interpret a MessageEvent, matching the "tagged
// union with compile-time exhaustive handling" design note.
type MessageEvent struct {
	MessageID uuid.UUID
	EventSeq  int64
	Type      MessageEventType

	ContentChunk   string
	ReasoningChunk string
	ToolCall       *ToolCallFragment
	ToolResult     *ToolResultPayload
	ErrorPayload   *ErrorEventPayload

	CreatedAt time.Time
}

// ToolCallFragment is the payload of an EventToolCall event: one
// complete, assembled tool call announcement (fragment accumulation
// across streamed chunks happens in the adapter, before this event is
// constructed).
type ToolCallFragment struct {
	CallIndex int
	ID        string
	Name      string
	Arguments string
}

// ToolResultPayload is the payload of an EventToolResult event.
type ToolResultPayload struct {
	CallIndex int
	ID        string
	Payload   interface{}
	IsError   bool
}

// ErrorEventPayload is the payload of an EventError event.
type ErrorEventPayload struct {
	Kind    string
	Message string
}

// ToolCallStatus is the lifecycle state of a ToolCall row.
type ToolCallStatus string

const (
	ToolCallPending ToolCallStatus = "pending"
	ToolCallRunning ToolCallStatus = "running"
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCall is keyed by (MessageID, CallIndex); TextOffset is the
// character position in the assistant's cumulative text stream at which
// the call was announced, per spec.md §3/§4.7.
type ToolCall struct {
	MessageID   uuid.UUID
	CallIndex   int
	ToolName    string
	ArgumentsJSON string
	TextOffset  int
	Status      ToolCallStatus
	OutputRef   string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// IntentType discriminates the two mutation shapes a client may submit.
type IntentType string

const (
	IntentAppendMessage IntentType = "append_message"
	IntentEditMessage   IntentType = "edit_message"
)

// Intent is the decoded form of the client-supplied envelope of
// spec.md §6. Completion carries the OpenAI-shaped chat request fields
// used only by IntentAppendMessage; MessageID/Content are used only by
// IntentEditMessage. The zero value of the unused half is never read —
// callers branch on Type first.
type Intent struct {
	Type             IntentType
	ClientOperationID uuid.UUID
	ExpectedLastSeq   int64

	// append_message
	Messages   []types.Message
	Completion CompletionParams

	// edit_message
	MessageID uuid.UUID
	Content   interface{}
}

// CompletionParams mirrors the OpenAI chat-completions request body
// fields the pipeline understands.
type CompletionParams struct {
	Model                string
	Stream               bool
	Tools                []string
	ProviderID           string
	ReasoningEffort      string
	Verbosity            string
	CustomRequestParamsID string
	Temperature          *float64
	MaxTokens            *int
}

// ProviderType is the closed set of upstream dialects Provider.Type may
// take, matching the adapter-selection rule of spec.md §4.3.
type ProviderType string

const (
	ProviderOpenAI                ProviderType = "openai"
	ProviderAnthropic             ProviderType = "anthropic"
	ProviderGemini                ProviderType = "gemini"
	ProviderGenericOpenAICompatible ProviderType = "generic_openai_compatible"
)

// Provider is a user-owned credential/endpoint record. APIKeyEncrypted
// holds the nacl/secretbox ciphertext; the plaintext key never persists
// and is held only transiently in memory while a request is in flight
// (see internal/providerset).
type Provider struct {
	ID              uuid.UUID
	OwnerUserID     uuid.UUID
	Type            ProviderType
	BaseURL         string
	APIKeyEncrypted []byte
	APIKeyNonce     []byte
	Enabled         bool
	IsDefault       bool
	ExtraHeaders    map[string]string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AbortHandle is the per-request cancellation handle C4 hands back from
// register and C7/C9 consult on every suspension point.
type AbortHandle struct {
	UserID    uuid.UUID
	RequestID string
	Cancel    context.CancelFunc
	Done      <-chan struct{}
}

// Strategy is C5's classification result.
type Strategy string

const (
	StrategyDirect         Strategy = "direct"
	StrategyStreaming      Strategy = "streaming"
	StrategyToolsUnified   Strategy = "tools_unified"
	StrategyToolsIterative Strategy = "tools_iterative"
)

// RequestContext is the in-memory, per-HTTP-request bundle threaded
// through C9 → C5 → C7/C2/C3 → C6/C8.
type RequestContext struct {
	UserID            uuid.UUID
	SessionID         string
	ConversationID    uuid.UUID
	RequestID         string
	AbortHandle       *AbortHandle
	Provider          *Provider
	SelectedStrategy  Strategy
	StartedAt         time.Time
}
