// Package pipeline holds C5, the strategy selector, and (in request.go)
// C9's orchestration of C2/C3/C7/C8 once a strategy has been chosen.
package pipeline

import (
	"context"

	"github.com/chatforge/backend/internal/model"
	"github.com/chatforge/backend/internal/tools"
)

// SelectionInput is the subset of an incoming request C5 needs to
// classify it, carved out of the full Intent so Select stays a pure
// function of its arguments (spec.md §4.2: "Pure function select(request)
// -> strategy").
type SelectionInput struct {
	RequestedTools []string
	Stream         bool
}

// Select implements the C5 decision table. The tie-break clause lives in
// ResolveTools, not here: by the time Select runs, toolNames has already
// been filtered down to what C1 can actually resolve for this user.
func Select(toolNames []string, stream bool) model.Strategy {
	hasTools := len(toolNames) > 0
	switch {
	case !hasTools && !stream:
		return model.StrategyDirect
	case !hasTools && stream:
		return model.StrategyStreaming
	case hasTools && !stream:
		return model.StrategyToolsUnified
	default:
		return model.StrategyToolsIterative
	}
}

// ResolveTools applies the tie-break rule from spec.md §4.2: requested
// tool names are only "non-empty" for strategy purposes once filtered to
// what C1 can resolve for userID. Unresolvable names (missing
// credential, unknown name) are dropped with a warning rather than
// failing the request.
func ResolveTools(ctx context.Context, registry *tools.Registry, userID string, requested []string) (names []string, warnings []string) {
	if registry == nil || len(requested) == 0 {
		return nil, nil
	}
	specs, warns := registry.ResolveAvailable(ctx, userID, requested)
	resolvedNames := make([]string, 0, len(specs))
	for _, s := range specs {
		resolvedNames = append(resolvedNames, s.Name)
	}
	return resolvedNames, warns
}
