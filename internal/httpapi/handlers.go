package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/pkg/provider/types"
)

type ctxKey int

const userIDKey ctxKey = iota

// requireAuth fails every route closed with unauthorized when s.Auth is
// nil or rejects the request, per SPEC_FULL.md §6: "the router itself
// never authenticates ... fails closed with unauthorized if absent."
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Auth == nil {
			writeError(w, apierr.New(apierr.KindUnauthorized, "no authenticator configured"))
			return
		}
		userID, ok := s.Auth.Authenticate(r)
		if !ok {
			writeError(w, apierr.New(apierr.KindUnauthorized, "authentication required"))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

func writeError(w http.ResponseWriter, err error) {
	status, env := apierr.ToEnvelope(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// intentEnvelope mirrors the wire shape of SPEC_FULL.md §6's "Intent
// envelope JSON": the outer {"intent": {...}} wrapper plus its inner
// fields, both the append_message and edit_message shapes folded into
// one struct since only one half is populated per request.
type intentEnvelope struct {
	Intent struct {
		Type            string          `json:"type"`
		ClientOperation uuid.UUID       `json:"client_operation"`
		ExpectedLastSeq int64           `json:"expected_last_seq"`
		Messages        []messageWire   `json:"messages,omitempty"`
		Completion      completionBody  `json:"completion,omitempty"`
		MessageID       uuid.UUID       `json:"message_id,omitempty"`
		Content         json.RawMessage `json:"content,omitempty"`
	} `json:"intent"`
}

// messageWire is the client-facing shape of spec.md §3's Message.content:
// "either a text string or an ordered mixed-content list of {text |
// image_ref | audio_ref | file_ref}". Raw content is resolved to
// []types.ContentPart by decodeClientContent once the envelope itself
// has parsed.
type messageWire struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// contentPartWire is one element of the array form of messageWire.Content.
type contentPartWire struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// decodeClientContent accepts either a bare JSON string (the common
// case — a single text part) or a JSON array of {type, ...} parts, per
// spec.md §3. Unlike internal/store's persisted content envelope, the
// client-facing tags are image_ref/audio_ref/file_ref rather than the
// concrete Go type names, since the client never sees inline bytes —
// only references it expects the server to resolve.
func decodeClientContent(raw json.RawMessage) ([]types.ContentPart, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []types.ContentPart{types.TextContent{Text: text}}, nil
	}

	var parts []contentPartWire
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, apierr.New(apierr.KindValidation, "message content must be a string or an array of content parts")
	}
	out := make([]types.ContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, types.TextContent{Text: p.Text})
		case "image_ref":
			out = append(out, types.ImageContent{URL: p.URL, MimeType: p.MimeType})
		case "audio_ref", "file_ref":
			out = append(out, types.FileContent{MimeType: p.MimeType, Filename: p.Filename})
		default:
			return nil, apierr.New(apierr.KindValidation, "unknown content part type: "+p.Type)
		}
	}
	return out, nil
}

func buildMessages(wire []messageWire) ([]types.Message, error) {
	out := make([]types.Message, 0, len(wire))
	for _, m := range wire {
		content, err := decodeClientContent(m.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Message{Role: types.MessageRole(m.Role), Content: content, Name: m.Name})
	}
	return out, nil
}

type completionBody struct {
	Model                 string   `json:"model"`
	Stream                bool     `json:"stream"`
	Tools                 []string `json:"tools"`
	ProviderID            string   `json:"provider_id"`
	ReasoningEffort       string   `json:"reasoning_effort"`
	Verbosity             string   `json:"verbosity"`
	CustomRequestParamsID string   `json:"custom_request_params_id"`
	Temperature           *float64 `json:"temperature"`
	MaxTokens             *int     `json:"max_tokens"`
}

// decodeIntent parses the envelope and fails validation_error with
// error_code=intent_required when it is absent or malformed — legacy
// bare chat-completions bodies are rejected, per spec.md §4.1.
func decodeIntent(r *http.Request) (model.Intent, error) {
	var env intentEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return model.Intent{}, apierr.New(apierr.KindValidation, "request body is not a valid intent envelope").WithCode(apierr.CodeIntentRequired)
	}
	switch env.Intent.Type {
	case string(model.IntentAppendMessage):
		messages, err := buildMessages(env.Intent.Messages)
		if err != nil {
			return model.Intent{}, err
		}
		return model.Intent{
			Type:              model.IntentAppendMessage,
			ClientOperationID: env.Intent.ClientOperation,
			ExpectedLastSeq:   env.Intent.ExpectedLastSeq,
			Messages:          messages,
			Completion: model.CompletionParams{
				Model:                 env.Intent.Completion.Model,
				Stream:                env.Intent.Completion.Stream,
				Tools:                 env.Intent.Completion.Tools,
				ProviderID:            env.Intent.Completion.ProviderID,
				ReasoningEffort:       env.Intent.Completion.ReasoningEffort,
				Verbosity:             env.Intent.Completion.Verbosity,
				CustomRequestParamsID: env.Intent.Completion.CustomRequestParamsID,
				Temperature:           env.Intent.Completion.Temperature,
				MaxTokens:             env.Intent.Completion.MaxTokens,
			},
		}, nil
	case string(model.IntentEditMessage):
		return model.Intent{
			Type:              model.IntentEditMessage,
			ClientOperationID: env.Intent.ClientOperation,
			ExpectedLastSeq:   env.Intent.ExpectedLastSeq,
			MessageID:         env.Intent.MessageID,
			Content:           env.Intent.Content,
		}, nil
	default:
		return model.Intent{}, apierr.New(apierr.KindValidation, "intent.type must be append_message or edit_message").WithCode(apierr.CodeIntentRequired)
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	intent, err := decodeIntent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if intent.Type != model.IntentAppendMessage {
		writeError(w, apierr.New(apierr.KindValidation, "this endpoint only accepts append_message intents").WithCode(apierr.CodeIntentRequired))
		return
	}

	conversationID, err := conversationIDFromRequest(r, intent)
	if err != nil {
		writeError(w, err)
		return
	}

	rc := &model.RequestContext{
		UserID:         userID,
		ConversationID: conversationID,
		RequestID:      requestIDFrom(r),
		StartedAt:      time.Now(),
	}

	resp, err := s.Pipeline.Handle(r.Context(), w, rc, intent)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindAborted {
			return // stream already ended; nothing left to write
		}
		writeError(w, err)
		return
	}
	if resp != nil {
		writeJSON(w, http.StatusOK, resp)
	}
}

// conversationIDFromRequest reads the target conversation from a query
// parameter, since the intent envelope itself carries no conversation
// id (it is scoped by the route in the conversation-aware mutation
// endpoints, and by this query parameter for the primary completions
// endpoint).
func conversationIDFromRequest(r *http.Request, intent model.Intent) (uuid.UUID, error) {
	raw := r.URL.Query().Get("conversation_id")
	if raw == "" {
		return uuid.Nil, apierr.New(apierr.KindValidation, "conversation_id query parameter is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.New(apierr.KindValidation, "conversation_id is not a valid identifier")
	}
	return id, nil
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.New().String()
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RequestID == "" {
		writeError(w, apierr.New(apierr.KindValidation, "request_id is required"))
		return
	}
	stopped := s.Pipeline.Stop(userID.String(), body.RequestID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	statuses, err := s.Pipeline.Tools.CredentialStatuses(r.Context(), userID.String())
	if err != nil {
		writeError(w, err)
		return
	}
	specs := s.Pipeline.Tools.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools":               specs,
		"tool_api_key_status": statuses,
	})
}

// handleListProviderModels lists the models a user's own provider
// reports as available (spec.md §4's Gemini /v1beta/models listing,
// generalized to whichever adapter implements providerset.modelLister),
// cached per internal/providerset.ListModels.
func (s *Server) handleListProviderModels(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid provider id"))
		return
	}

	rec, err := s.Pipeline.Store.GetProvider(r.Context(), providerID, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	models, err := s.Pipeline.ProviderSet.ListModels(r.Context(), rec)
	if err != nil {
		writeError(w, apierr.New(apierr.KindProviderError, "list models").Wrap(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	var body struct {
		Settings model.ConversationSettings    `json:"settings"`
		Metadata map[string]interface{}        `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid request body"))
		return
	}
	conv, err := s.Pipeline.Store.CreateConversation(r.Context(), userID, body.Settings, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	convs, err := s.Pipeline.Store.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid conversation id"))
		return
	}
	conv, err := s.Pipeline.Store.GetConversation(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid conversation id"))
		return
	}
	if err := s.Pipeline.Store.DeleteConversation(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid conversation id"))
		return
	}
	msgs, err := s.Pipeline.Store.ListMessages(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid conversation id"))
		return
	}
	clientMessageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "invalid message id"))
		return
	}

	intent, err := decodeIntent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if intent.Type != model.IntentEditMessage {
		writeError(w, apierr.New(apierr.KindValidation, "this endpoint only accepts edit_message intents").WithCode(apierr.CodeIntentRequired))
		return
	}

	rawContent, ok := intent.Content.(json.RawMessage)
	if !ok {
		writeError(w, apierr.New(apierr.KindValidation, "content is required"))
		return
	}
	newContent, err := decodeClientContent(rawContent)
	if err != nil {
		writeError(w, err)
		return
	}

	msg, forkID, err := s.Pipeline.Store.EditMessage(r.Context(), clientMessageID, conversationID, userID, newContent, intent.ExpectedLastSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg, "fork_id": forkID})
}
