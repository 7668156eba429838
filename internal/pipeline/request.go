package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatforge/backend/internal/abort"
	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/internal/orchestrator"
	"github.com/chatforge/backend/internal/providerset"
	"github.com/chatforge/backend/internal/sse"
	"github.com/chatforge/backend/internal/store"
	"github.com/chatforge/backend/internal/tools"
	"github.com/chatforge/backend/pkg/provider"
	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/registry"
	"github.com/chatforge/backend/pkg/telemetry"
)

// Pipeline is C9: the top-level handler tying C1-C8 together. It holds
// no per-request state of its own — everything request-scoped lives in
// the RequestContext and Intent passed to Handle.
type Pipeline struct {
	Store        *store.Coordinator
	ProviderSet  *providerset.Resolver
	Tools        *tools.Registry
	Orchestrator *orchestrator.Orchestrator
	Abort        *abort.Registry
	Logger       zerolog.Logger

	// Telemetry configures the pkg/telemetry span emitted around every
	// Handle call ("pipeline.handle"). A nil value disables tracing
	// (telemetry.GetTracer returns a no-op tracer).
	Telemetry *telemetry.Settings
}

// Response is what Handle returns for a non-streaming strategy; for a
// streaming strategy the SSE frames already written to w ARE the
// response and Response is nil.
type Response struct {
	MessageID  uuid.UUID  `json:"message_id"`
	Seq        int64      `json:"seq"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	FinishedAt string     `json:"status"`
}

// ToolCall is the wire shape of a completed tool invocation in a
// non-streaming response body.
type ToolCall struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

// Handle implements spec.md §4.1's handle(request, response) for the
// append_message intent. Validation of authentication itself happens
// one layer up (internal/httpapi's injected Authenticator); by the time
// Handle runs, rc.UserID is already trusted.
func (p *Pipeline) Handle(ctx context.Context, w http.ResponseWriter, rc *model.RequestContext, intent model.Intent) (*Response, error) {
	tracer := telemetry.GetTracer(p.Telemetry)
	return telemetry.RecordSpan(ctx, tracer, telemetry.SpanOptions{
		Name: "pipeline.handle",
		Attributes: []attribute.KeyValue{
			attribute.String("chatforge.user_id", rc.UserID.String()),
			attribute.String("chatforge.request_id", rc.RequestID),
			attribute.String("chatforge.conversation_id", rc.ConversationID.String()),
		},
		EndWhenDone: true,
	}, func(ctx context.Context, span trace.Span) (*Response, error) {
		return p.handle(ctx, w, rc, intent)
	})
}

// handle is Handle's body, split out so Handle can wrap it in the
// pipeline.handle telemetry span above without the early-return control
// flow below needing to thread a span through every branch.
func (p *Pipeline) handle(ctx context.Context, w http.ResponseWriter, rc *model.RequestContext, intent model.Intent) (*Response, error) {
	if intent.Type != model.IntentAppendMessage {
		return nil, apierr.New(apierr.KindValidation, "handle only accepts append_message intents").WithCode(apierr.CodeIntentRequired)
	}
	if intent.Completion.Model == "" {
		return nil, apierr.New(apierr.KindValidation, "completion.model is required").WithCode(apierr.CodeIntentRequired)
	}
	if len(intent.Messages) == 0 {
		return nil, apierr.New(apierr.KindValidation, "at least one message is required").WithCode(apierr.CodeIntentRequired)
	}

	log := p.Logger.With().
		Str("user_id", rc.UserID.String()).
		Str("request_id", rc.RequestID).
		Str("conversation_id", rc.ConversationID.String()).
		Logger()

	providerRec, err := p.resolveProvider(ctx, rc.UserID, intent.Completion.ProviderID)
	if err != nil {
		return nil, err
	}
	rc.Provider = providerRec

	prov, err := p.ProviderSet.Resolve(ctx, providerRec)
	if err != nil {
		return nil, apierr.Newf(apierr.KindProviderError, "resolve provider: %v", err)
	}
	modelID := registry.ResolveAlias(intent.Completion.Model)
	lm, err := prov.LanguageModel(modelID)
	if err != nil {
		return nil, apierr.Newf(apierr.KindProviderError, "resolve model %q: %v", modelID, err)
	}

	toolNames, warnings := ResolveTools(ctx, p.Tools, rc.UserID.String(), intent.Completion.Tools)
	for _, w := range warnings {
		log.Warn().Str("reason", w).Msg("tool not available for this request")
	}
	resolvedTools, _ := p.Tools.ResolveAvailable(ctx, rc.UserID.String(), toolNames)

	strategy := Select(toolNames, intent.Completion.Stream)
	rc.SelectedStrategy = strategy
	log.Info().Str("strategy", string(strategy)).Msg("dispatching request")

	ctx, handle, err := p.Abort.Register(ctx, rc.UserID.String(), rc.RequestID)
	if err != nil {
		return nil, err
	}
	rc.AbortHandle = handle
	defer p.Abort.Unregister(rc.UserID.String(), rc.RequestID)

	newContent := lastMessageContent(intent.Messages)
	clientMessageID := intent.ClientOperationID
	if clientMessageID == uuid.Nil {
		clientMessageID = uuid.New()
	}
	if _, err := p.Store.AppendUserMessage(ctx, rc.ConversationID, rc.UserID, intent.ExpectedLastSeq, newContent, clientMessageID); err != nil {
		return nil, err
	}

	history, err := p.buildHistory(ctx, rc, intent)
	if err != nil {
		return nil, err
	}

	assistantMsg, err := p.Store.BeginAssistantMessage(ctx, rc.ConversationID, rc.UserID, providerRec.ID, modelID)
	if err != nil {
		return nil, err
	}

	req := orchestrator.Request{
		History:        history,
		Tools:          resolvedTools,
		Model:          lm,
		Options:        buildGenerateOptions(intent.Completion),
		UserID:         rc.UserID.String(),
		ConversationID: rc.ConversationID.String(),
		RequestID:      rc.RequestID,
	}

	switch strategy {
	case model.StrategyStreaming, model.StrategyToolsIterative:
		framer, err := sse.Open(w)
		if err != nil {
			return nil, apierr.Newf(apierr.KindInternal, "open SSE stream: %v", err)
		}
		defer framer.Close()

		_, runErr := p.Orchestrator.Run(ctx, framer, p.Store, assistantMsg.ID, req)
		if runErr != nil && apierr.KindOf(runErr) != apierr.KindAborted {
			return nil, runErr
		}
		return nil, nil

	default: // StrategyDirect, StrategyToolsUnified
		sink := newDiscardSink()
		framer, err := sse.Open(sink)
		if err != nil {
			return nil, apierr.Newf(apierr.KindInternal, "open internal framer: %v", err)
		}
		result, runErr := p.Orchestrator.Run(ctx, framer, p.Store, assistantMsg.ID, req)
		_ = framer.Close()
		if runErr != nil {
			return nil, runErr
		}

		resp := &Response{MessageID: assistantMsg.ID, Seq: assistantMsg.Seq, Content: result.FinalText, FinishedAt: string(result.Status)}
		for _, tc := range result.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{Index: tc.CallIndex, Name: tc.ToolName, Status: string(tc.Status)})
		}
		return resp, nil
	}
}

// Stop implements spec.md §4.1's stop(request_id): signals the abort
// handle registered for the caller's user, if any.
func (p *Pipeline) Stop(userID, requestID string) bool {
	return p.Abort.Signal(userID, requestID)
}

func (p *Pipeline) resolveProvider(ctx context.Context, userID uuid.UUID, providerID string) (*model.Provider, error) {
	if providerID != "" {
		id, err := uuid.Parse(providerID)
		if err != nil {
			return nil, apierr.New(apierr.KindValidation, "provider_id is not a valid identifier")
		}
		return p.Store.GetProvider(ctx, id, userID)
	}
	return p.Store.DefaultProvider(ctx, userID)
}

// buildHistory loads the conversation's durable prefix and appends the
// caller-supplied messages on top, giving the orchestrator the full
// context for this turn.
func (p *Pipeline) buildHistory(ctx context.Context, rc *model.RequestContext, intent model.Intent) ([]types.Message, error) {
	persisted, err := p.Store.ListMessages(ctx, rc.ConversationID, rc.UserID)
	if err != nil {
		return nil, err
	}
	history := make([]types.Message, 0, len(persisted)+len(intent.Messages))
	for _, m := range persisted {
		history = append(history, types.Message{Role: types.MessageRole(m.Role), Content: m.Content})
	}
	history = append(history, intent.Messages...)
	return history, nil
}

func lastMessageContent(messages []types.Message) []types.ContentPart {
	if len(messages) == 0 {
		return nil
	}
	return messages[len(messages)-1].Content
}

// buildGenerateOptions maps the OpenAI-shaped completion parameters the
// client supplied onto the adapter-agnostic GenerateOptions every
// pkg/provider.LanguageModel accepts; Prompt/Tools/ToolChoice are
// overwritten per iteration by the orchestrator itself.
func buildGenerateOptions(c model.CompletionParams) provider.GenerateOptions {
	return provider.GenerateOptions{
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}
