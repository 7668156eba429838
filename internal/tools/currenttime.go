package tools

import (
	"context"
	"time"

	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/schema"
)

var currentTimeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"timezone": map[string]interface{}{
			"type":        "string",
			"description": "IANA timezone name, e.g. \"America/Los_Angeles\". Defaults to UTC.",
		},
	},
}

// NewCurrentTimeDefinition builds the credential-free current-time tool
// named in SPEC_FULL.md §4.7.
func NewCurrentTimeDefinition() Definition {
	return Definition{
		Validator: schema.NewJSONSchema(currentTimeSchema),
		Tool: types.Tool{
			Name:        "current_time",
			Description: "Returns the current date and time, optionally in a named IANA timezone.",
			Parameters:  currentTimeSchema,
			Execute: func(ctx context.Context, input map[string]interface{}, _ types.ToolExecutionOptions) (interface{}, error) {
				loc := time.UTC
				if tz, ok := input["timezone"].(string); ok && tz != "" {
					l, err := time.LoadLocation(tz)
					if err != nil {
						return nil, err
					}
					loc = l
				}
				now := time.Now().In(loc)
				return map[string]interface{}{
					"iso8601":  now.Format(time.RFC3339),
					"timezone": loc.String(),
					"unix":     now.Unix(),
				}, nil
			},
		},
	}
}
