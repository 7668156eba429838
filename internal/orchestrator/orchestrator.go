// Package orchestrator implements C7, the iterative tool orchestrator.
// It drives the model -> tool -> model loop of spec.md §4.7, bounded by
// the iteration cap and concurrency limit of its Config (one value each
// for every request the Orchestrator runs), replacing
// the teacher's sequential pkg/agent.ToolLoopAgent.executeTools with a
// golang.org/x/sync/semaphore.Weighted-bounded parallel version.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/internal/sse"
	"github.com/chatforge/backend/internal/tools"
	"github.com/chatforge/backend/pkg/ai"
	"github.com/chatforge/backend/pkg/provider"
	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/telemetry"
)

// Persister is the subset of C8 (internal/store.Coordinator) the
// orchestrator needs: appending journal events and finalizing the
// in-progress assistant message. Declared here, not in internal/store,
// so internal/store never needs to import internal/orchestrator.
type Persister interface {
	AppendEvent(ctx context.Context, messageID uuid.UUID, ev model.MessageEvent) (eventSeq int64, err error)
	Checkpoint(ctx context.Context, messageID uuid.UUID) error
	FinalizeMessage(ctx context.Context, messageID uuid.UUID, content []types.ContentPart, status model.MessageStatus, reasoning []string, toolCalls []model.ToolCall, usage types.Usage) error
}

// Config bounds one orchestrator run, per spec.md §4.7 "Detail floor".
type Config struct {
	// MaxIterations is the iteration cap (default 10, range 1-50),
	// applied to every request the Orchestrator runs; a conversation's
	// own max_tool_iterations setting is not read. Reaching it forces one
	// final turn with tool_choice=none.
	MaxIterations int
	// MaxConcurrency bounds how many tool calls from a single turn run
	// in parallel. cmd/chatforge sets it from pipeline.max_tool_concurrency,
	// a setting separate from the iteration cap.
	MaxConcurrency int
	// StreamInactivityTimeout bounds the gap between consecutive chunks
	// of a provider stream read (spec.md §5: "60s inactivity timeout,
	// resets on any byte"). Enforced per-chunk via pkg/ai.TimeoutConfig,
	// not as one deadline over the whole stream.
	StreamInactivityTimeout time.Duration
	// ToolTimeout is the per-call wall-clock cap (spec.md §5), applied
	// to every tool call; a tool's Definition has no override for it.
	ToolTimeout time.Duration
}

// DefaultConfig matches spec.md §4.7/§5's stated defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: 10, MaxConcurrency: 10, ToolTimeout: 60 * time.Second, StreamInactivityTimeout: 60 * time.Second}
}

// Request bundles the inputs for one orchestrator run: the seed
// history, the resolved tool set, and the generation parameters that
// stay constant across iterations.
type Request struct {
	History  []types.Message
	Tools    []types.Tool
	Model    provider.LanguageModel
	Options  provider.GenerateOptions // Prompt/Tools/ToolChoice overwritten per iteration
	UserID   string
	ConversationID string
	RequestID      string
}

// Result is what Run returns once the loop exits, for C9 to build the
// HTTP/SSE response tail from.
type Result struct {
	FinalText      string
	ReasoningParts []string
	ToolCalls      []model.ToolCall
	Usage          types.Usage
	Status         model.MessageStatus
	IterationsUsed int
}

// Orchestrator drives the loop. It holds no per-request state; Run is
// safe to call concurrently for distinct requests.
type Orchestrator struct {
	Tools  *tools.Registry
	Config Config

	// Telemetry configures the "orchestrator.step" span emitted around
	// every model turn. A nil value disables tracing.
	Telemetry *telemetry.Settings
}

// New builds an Orchestrator over reg with cfg (zero value falls back
// to DefaultConfig field-by-field).
func New(reg *tools.Registry, cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.MaxIterations > 50 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultConfig().ToolTimeout
	}
	if cfg.StreamInactivityTimeout <= 0 {
		cfg.StreamInactivityTimeout = DefaultConfig().StreamInactivityTimeout
	}
	return &Orchestrator{Tools: reg, Config: cfg}
}

// pendingCall is one assembled tool-call announcement awaiting
// execution within the current iteration.
type pendingCall struct {
	index     int
	id        string
	name      string
	arguments map[string]interface{}
}

// Run executes the model<->tool loop, emitting every event to framer
// and journaling every event through persister, until the model
// produces a turn with no tool calls, the iteration cap forces a final
// summarizing turn, or ctx is cancelled. messageID names the in-progress
// assistant Message row C8 already created via begin_assistant_message.
func (o *Orchestrator) Run(ctx context.Context, framer *sse.Framer, persister Persister, messageID uuid.UUID, req Request) (*Result, error) {
	history := append([]types.Message(nil), req.History...)
	var reasoningText []string
	var allToolCalls []model.ToolCall
	var usage types.Usage
	textBuf := ""

	iter := 0
	for {
		forceFinal := iter >= o.Config.MaxIterations
		opts := req.Options
		opts.Prompt = types.Prompt{Messages: history}
		if forceFinal {
			opts.Tools = nil
			opts.ToolChoice = types.ToolChoice{Type: types.ToolChoiceNone}
		} else {
			opts.Tools = req.Tools
			opts.ToolChoice = types.ToolChoice{Type: types.ToolChoiceAuto}
		}

		tracer := telemetry.GetTracer(o.Telemetry)
		outcome, err := telemetry.RecordSpan(ctx, tracer, telemetry.SpanOptions{
			Name: "orchestrator.step",
			Attributes: []attribute.KeyValue{
				attribute.Int("chatforge.iteration", iter),
				attribute.String("chatforge.request_id", req.RequestID),
			},
			EndWhenDone: true,
		}, func(ctx context.Context, span trace.Span) (turnOutcome, error) {
			acc, fr, u, p, turnErr := o.runTurn(ctx, framer, persister, messageID, req.Model, &opts, &textBuf, &allToolCalls)
			return turnOutcome{acc: acc, finishReason: fr, usage: u, pending: p}, turnErr
		})
		result, finishReason, turnUsage, pending := outcome.acc, outcome.finishReason, outcome.usage, outcome.pending
		if err != nil {
			if ctx.Err() != nil {
				return o.finalizeAborted(ctx, persister, messageID, textBuf, reasoningText, allToolCalls, usage)
			}
			return o.finalizeError(ctx, framer, persister, messageID, textBuf, reasoningText, allToolCalls, usage, err)
		}
		reasoningText = append(reasoningText, result.reasoning...)
		usage = mergeUsage(usage, turnUsage)

		if ctx.Err() != nil {
			return o.finalizeAborted(ctx, persister, messageID, textBuf, reasoningText, allToolCalls, usage)
		}

		if finishReason != types.FinishReasonToolCalls || len(pending) == 0 || forceFinal {
			break
		}

		toolMessages, executed := o.executeBatch(ctx, framer, persister, messageID, &textBuf, &allToolCalls, pending, req)
		history = append(history, toolMessages...)
		_ = executed
		iter++

		if ctx.Err() != nil {
			return o.finalizeAborted(ctx, persister, messageID, textBuf, reasoningText, allToolCalls, usage)
		}
	}

	content := []types.ContentPart{types.TextContent{Text: textBuf}}
	if err := persister.FinalizeMessage(ctx, messageID, content, model.MessageStatusFinal, reasoningText, allToolCalls, usage); err != nil {
		return nil, fmt.Errorf("finalize message: %w", err)
	}
	return &Result{
		FinalText:      textBuf,
		ReasoningParts: reasoningText,
		ToolCalls:      allToolCalls,
		Usage:          usage,
		Status:         model.MessageStatusFinal,
		IterationsUsed: iter,
	}, nil
}

type turnAccumulation struct {
	text      []string
	reasoning []string
}

// turnOutcome bundles runTurn's multiple return values into one type so
// it can flow through telemetry.RecordSpan's single-result generic.
type turnOutcome struct {
	acc          turnAccumulation
	finishReason types.FinishReason
	usage        types.Usage
	pending      []pendingCall
}

// runTurn drives one provider.DoStream call to completion, emitting
// content/reasoning/tool_call events as they arrive. Network/5xx
// failures are retried once per iteration per spec.md §4.7's retry
// semantics; tool failures are never retried here (they happen in
// executeBatch, and are surfaced as tool results, not retried).
func (o *Orchestrator) runTurn(ctx context.Context, framer *sse.Framer, persister Persister, messageID uuid.UUID, lm provider.LanguageModel, opts *provider.GenerateOptions, textBuf *string, allToolCalls *[]model.ToolCall) (turnAccumulation, types.FinishReason, types.Usage, []pendingCall, error) {
	stream, err := lm.DoStream(ctx, opts)
	if err != nil {
		stream, err = lm.DoStream(ctx, opts) // one retry, per spec.md §4.7
		if err != nil {
			return turnAccumulation{}, "", types.Usage{}, nil, fmt.Errorf("provider stream: %w", err)
		}
	}
	defer stream.Close()

	var acc turnAccumulation
	var pending []pendingCall
	var finishReason types.FinishReason
	var usage types.Usage

	inactivity := o.Config.StreamInactivityTimeout
	chunkTimeout := &ai.TimeoutConfig{PerChunk: &inactivity}

	for {
		if ctx.Err() != nil {
			return acc, finishReason, usage, pending, ctx.Err()
		}
		chunk, err := nextChunkWithTimeout(ctx, stream, chunkTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return acc, finishReason, usage, pending, fmt.Errorf("read stream: %w", err)
		}
		if chunk == nil {
			break
		}

		switch chunk.Type {
		case provider.ChunkTypeText:
			*textBuf += chunk.Text
			acc.text = append(acc.text, chunk.Text)
			if err := framer.Send(sse.Event{Type: sse.EventContentDelta, Text: chunk.Text}); err != nil {
				return acc, finishReason, usage, pending, err
			}
			if _, err := persister.AppendEvent(ctx, messageID, model.MessageEvent{Type: model.EventContentChunk, ContentChunk: chunk.Text}); err != nil {
				return acc, finishReason, usage, pending, err
			}

		case provider.ChunkTypeReasoning:
			acc.reasoning = append(acc.reasoning, chunk.Reasoning)
			if err := framer.Send(sse.Event{Type: sse.EventReasoningDelta, Text: chunk.Reasoning}); err != nil {
				return acc, finishReason, usage, pending, err
			}
			if _, err := persister.AppendEvent(ctx, messageID, model.MessageEvent{Type: model.EventReasoningChunk, ReasoningChunk: chunk.Reasoning}); err != nil {
				return acc, finishReason, usage, pending, err
			}

		case provider.ChunkTypeToolCall:
			if chunk.ToolCall == nil {
				continue
			}
			idx := len(*allToolCalls)
			offset := utf8.RuneCountInString(*textBuf)
			argsJSON, merr := json.Marshal(chunk.ToolCall.Arguments)
			if merr != nil {
				argsJSON = []byte("{}")
			}
			tc := model.ToolCall{
				MessageID:     messageID,
				CallIndex:     idx,
				ToolName:      chunk.ToolCall.ToolName,
				ArgumentsJSON: string(argsJSON),
				TextOffset:    offset,
				Status:        model.ToolCallPending,
			}
			*allToolCalls = append(*allToolCalls, tc)
			pending = append(pending, pendingCall{index: idx, id: chunk.ToolCall.ID, name: chunk.ToolCall.ToolName, arguments: chunk.ToolCall.Arguments})

			if err := framer.Send(sse.Event{Type: sse.EventToolCall, ID: chunk.ToolCall.ID, Index: idx, Name: chunk.ToolCall.ToolName, ArgumentsFragment: string(argsJSON)}); err != nil {
				return acc, finishReason, usage, pending, err
			}
			if _, err := persister.AppendEvent(ctx, messageID, model.MessageEvent{Type: model.EventToolCall, ToolCall: &model.ToolCallFragment{CallIndex: idx, ID: chunk.ToolCall.ID, Name: chunk.ToolCall.ToolName, Arguments: string(argsJSON)}}); err != nil {
				return acc, finishReason, usage, pending, err
			}

		case provider.ChunkTypeUsage:
			if chunk.Usage != nil {
				usage = mergeUsage(usage, *chunk.Usage)
			}

		case provider.ChunkTypeFinish:
			finishReason = chunk.FinishReason
			if chunk.Usage != nil {
				usage = mergeUsage(usage, *chunk.Usage)
			}

		case provider.ChunkTypeError:
			return acc, finishReason, usage, pending, apierr.Newf(apierr.KindProviderError, "upstream stream error")
		}
	}

	return acc, finishReason, usage, pending, nil
}

// nextChunkWithTimeout reads one chunk from stream, enforcing cfg's
// per-chunk inactivity timeout via pkg/ai.TimeoutConfig (the same
// race-a-goroutine-against-a-timer shape the teacher's pkg/ai.StreamTextResult
// uses), since provider.TextStream.Next has no context parameter of its
// own to carry a deadline through.
func nextChunkWithTimeout(ctx context.Context, stream provider.TextStream, cfg *ai.TimeoutConfig) (*provider.StreamChunk, error) {
	if !cfg.HasPerChunk() {
		return stream.Next()
	}

	chunkCtx, cancel := cfg.CreateTimeoutContext(ctx, "chunk")
	defer cancel()

	type chunkResult struct {
		chunk *provider.StreamChunk
		err   error
	}
	resultCh := make(chan chunkResult, 1)
	go func() {
		chunk, err := stream.Next()
		resultCh <- chunkResult{chunk: chunk, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.chunk, result.err
	case <-chunkCtx.Done():
		return nil, fmt.Errorf("stream inactivity timeout exceeded: %w", chunkCtx.Err())
	}
}

// executeBatch runs pending's tool calls with bounded parallelism
// (Config.MaxConcurrency), in tool-call-index order for emitted
// tool_output events (spec.md §5 "ordering guarantees"), and returns
// the role=tool history messages to append plus the number of calls in
// the batch (calls skipped because ctx was cancelled are counted too).
func (o *Orchestrator) executeBatch(ctx context.Context, framer *sse.Framer, persister Persister, messageID uuid.UUID, textBuf *string, allToolCalls *[]model.ToolCall, pending []pendingCall, req Request) ([]types.Message, int) {
	sem := semaphore.NewWeighted(int64(o.Config.MaxConcurrency))
	results := make([]types.ToolResultContent, len(pending))
	outcomes := make([]model.ToolCallStatus, len(pending))
	var wg sync.WaitGroup

	for i, call := range pending {
		i, call := i, call
		if err := sem.Acquire(ctx, 1); err != nil {
			// ctx cancelled while waiting for a slot: every call from here on
			// is treated as aborted without running.
			results[i] = types.ToolResultContent{ToolCallID: call.id, ToolName: call.name, Error: "aborted"}
			outcomes[i] = model.ToolCallError
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i], outcomes[i] = o.executeOne(ctx, call, req)
		}()
	}
	wg.Wait()

	history := make([]types.Message, 0, len(pending))
	for i, call := range pending {
		o.markAndEmit(ctx, framer, persister, messageID, allToolCalls, call.index, outcomes[i], results[i])
		history = append(history, types.Message{Role: types.RoleTool, Content: []types.ContentPart{results[i]}})
	}
	return history, len(pending)
}

// executeOne validates and runs a single tool call. Validation failures
// and tool-handler errors are both reported as a result payload, never
// by returning an error up the stack — per spec.md §4.7 neither aborts
// the loop.
func (o *Orchestrator) executeOne(ctx context.Context, call pendingCall, req Request) (types.ToolResultContent, model.ToolCallStatus) {
	if err := o.Tools.ValidateArguments(call.name, call.arguments); err != nil {
		detail := map[string]interface{}{"error": "invalid_arguments", "detail": err.Error()}
		payload, _ := json.Marshal(detail)
		return types.ToolResultContent{
			ToolCallID: call.id,
			ToolName:   call.name,
			Output:     &types.ToolResultOutput{Type: types.ToolResultOutputJSON, Value: json.RawMessage(payload)},
		}, model.ToolCallError
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, o.Config.ToolTimeout)
	defer cancel()

	out, err := o.Tools.Execute(timeoutCtx, call.name, call.arguments, types.ToolExecutionOptions{
		ToolCallID:  call.id,
		UserContext: req.UserID,
	})
	if err != nil {
		return types.ToolResultContent{ToolCallID: call.id, ToolName: call.name, Error: err.Error()}, model.ToolCallError
	}
	return types.ToolResultContent{ToolCallID: call.id, ToolName: call.name, Result: out}, model.ToolCallSuccess
}

// markAndEmit updates the in-memory ToolCall row's status, emits the
// ordered tool_output SSE event, and journals the tool_result event.
func (o *Orchestrator) markAndEmit(ctx context.Context, framer *sse.Framer, persister Persister, messageID uuid.UUID, allToolCalls *[]model.ToolCall, index int, status model.ToolCallStatus, result types.ToolResultContent) {
	now := time.Now()
	for i := range *allToolCalls {
		if (*allToolCalls)[i].CallIndex == index {
			(*allToolCalls)[i].Status = status
			(*allToolCalls)[i].CompletedAt = &now
			if b, err := json.Marshal(result); err == nil {
				(*allToolCalls)[i].OutputRef = string(b)
			}
			break
		}
	}

	var payload interface{} = result.Result
	if result.Output != nil {
		payload = result.Output.Value
	}
	if result.Error != "" {
		payload = map[string]interface{}{"error": result.Error}
	}

	_ = framer.Send(sse.Event{Type: sse.EventToolOutput, ID: result.ToolCallID, Index: index, Payload: payload})
	_, _ = persister.AppendEvent(ctx, messageID, model.MessageEvent{
		Type: model.EventToolResult,
		ToolResult: &model.ToolResultPayload{
			CallIndex: index,
			ID:        result.ToolCallID,
			Payload:   payload,
			IsError:   status == model.ToolCallError,
		},
	})
}

func (o *Orchestrator) finalizeAborted(ctx context.Context, persister Persister, messageID uuid.UUID, text string, reasoning []string, toolCalls []model.ToolCall, usage types.Usage) (*Result, error) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := persister.Checkpoint(flushCtx, messageID); err != nil {
		return nil, fmt.Errorf("checkpoint flush on abort: %w", err)
	}
	content := []types.ContentPart{types.TextContent{Text: text}}
	if err := persister.FinalizeMessage(flushCtx, messageID, content, model.MessageStatusAborted, reasoning, toolCalls, usage); err != nil {
		return nil, fmt.Errorf("finalize aborted message: %w", err)
	}
	return &Result{FinalText: text, ReasoningParts: reasoning, ToolCalls: toolCalls, Usage: usage, Status: model.MessageStatusAborted}, apierr.New(apierr.KindAborted, "request aborted")
}

func (o *Orchestrator) finalizeError(ctx context.Context, framer *sse.Framer, persister Persister, messageID uuid.UUID, text string, reasoning []string, toolCalls []model.ToolCall, usage types.Usage, cause error) (*Result, error) {
	content := []types.ContentPart{types.TextContent{Text: text}}
	_ = persister.FinalizeMessage(ctx, messageID, content, model.MessageStatusError, reasoning, toolCalls, usage)
	_ = framer.Send(sse.Event{Type: sse.EventError, ErrorKind: string(apierr.KindProviderError), ErrorMessage: cause.Error()})
	return &Result{FinalText: text, ReasoningParts: reasoning, ToolCalls: toolCalls, Usage: usage, Status: model.MessageStatusError}, cause
}

// mergeUsage sums token counts across turns; nil fields stay nil only
// if both sides are nil.
func mergeUsage(a, b types.Usage) types.Usage {
	a.InputTokens = addInt64Ptr(a.InputTokens, b.InputTokens)
	a.OutputTokens = addInt64Ptr(a.OutputTokens, b.OutputTokens)
	a.TotalTokens = addInt64Ptr(a.TotalTokens, b.TotalTokens)
	return a
}

func addInt64Ptr(a, b *int64) *int64 {
	if a == nil && b == nil {
		return nil
	}
	var sum int64
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}

// sortPendingByIndex sorts p in place by call index. Nothing in this
// package calls it: executeBatch emits tool_output in the order of
// pending, which runTurn already builds in index order.
func sortPendingByIndex(p []pendingCall) {
	sort.Slice(p, func(i, j int) bool { return p[i].index < p[j].index })
}
