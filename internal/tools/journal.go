package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/schema"
)

// JournalEntry is a per-user key/value note the journal tool reads and
// writes, per SPEC_FULL.md §3's data-model addition.
type JournalEntry struct {
	UserID    string
	Key       string
	Value     string
	UpdatedAt time.Time
}

// JournalStore is the persistence seam the journal tool depends on;
// internal/store provides the real implementation, tests provide an
// in-memory one.
type JournalStore interface {
	Get(ctx context.Context, userID, key string) (JournalEntry, bool, error)
	Set(ctx context.Context, userID, key, value string) error
	Delete(ctx context.Context, userID, key string) error
	List(ctx context.Context, userID string) ([]JournalEntry, error)
}

var journalSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"action": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"get", "set", "delete", "list"},
		},
		"key":   map[string]interface{}{"type": "string"},
		"value": map[string]interface{}{"type": "string"},
	},
	"required": []interface{}{"action"},
}

// NewJournalDefinition builds the credential-free journal tool: per-user
// notes keyed by a short string, scoped to the calling user via
// ToolExecutionOptions.UserContext (set by the orchestrator to the
// authenticated user id for every call, per spec.md §4.7's isolation
// requirement — a tool never receives another user's key/value space).
func NewJournalDefinition(store JournalStore) Definition {
	return Definition{
		Validator: schema.NewJSONSchema(journalSchema),
		Tool: types.Tool{
			Name:        "journal",
			Description: "Reads and writes short per-user notes across the conversation, keyed by name: get, set, delete, or list.",
			Parameters:  journalSchema,
			Execute: func(ctx context.Context, input map[string]interface{}, opts types.ToolExecutionOptions) (interface{}, error) {
				userID, _ := opts.UserContext.(string)
				if userID == "" {
					return nil, fmt.Errorf("journal tool requires an authenticated user context")
				}
				action, _ := input["action"].(string)
				switch action {
				case "get":
					key, _ := input["key"].(string)
					entry, ok, err := store.Get(ctx, userID, key)
					if err != nil {
						return nil, err
					}
					if !ok {
						return map[string]interface{}{"found": false}, nil
					}
					return map[string]interface{}{"found": true, "key": entry.Key, "value": entry.Value}, nil
				case "set":
					key, _ := input["key"].(string)
					value, _ := input["value"].(string)
					if key == "" {
						return nil, fmt.Errorf("journal set requires a key")
					}
					if err := store.Set(ctx, userID, key, value); err != nil {
						return nil, err
					}
					return map[string]interface{}{"ok": true}, nil
				case "delete":
					key, _ := input["key"].(string)
					if err := store.Delete(ctx, userID, key); err != nil {
						return nil, err
					}
					return map[string]interface{}{"ok": true}, nil
				case "list":
					entries, err := store.List(ctx, userID)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(entries))
					for _, e := range entries {
						out = append(out, map[string]interface{}{"key": e.Key, "value": e.Value})
					}
					return map[string]interface{}{"entries": out}, nil
				default:
					return nil, fmt.Errorf("unknown journal action %q", action)
				}
			},
		},
	}
}
