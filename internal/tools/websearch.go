package tools

import (
	"context"
	"fmt"

	chfhttp "github.com/chatforge/backend/pkg/internal/http"
	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/schema"
)

// WebSearchResult is one ranked hit returned by any backend.
type WebSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchBackend performs a query and returns ranked results. The
// default backend needs no credential; pluggable backends (e.g. a paid
// search API) take the caller's decrypted ToolCredential value.
type WebSearchBackend interface {
	Name() string
	RequiresCredential() bool
	Search(ctx context.Context, query string, apiKey string, maxResults int) ([]WebSearchResult, error)
}

// CredentialResolver decrypts and returns a ToolCredential value for
// (userID, toolName, backend), the seam internal/store's encrypted
// ToolCredential table sits behind.
type CredentialResolver func(ctx context.Context, userID, toolName, backend string) (string, bool, error)

var webSearchSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"query":       map[string]interface{}{"type": "string"},
		"backend":     map[string]interface{}{"type": "string", "description": "Defaults to the built-in aggregator backend."},
		"max_results": map[string]interface{}{"type": "integer"},
	},
	"required": []interface{}{"query"},
}

// NewWebSearchDefinition builds the web-search tool over a default
// backend plus any number of pluggable backends. A backend needs a
// ToolCredential exactly when its RequiresCredential reports true; the
// Definition's RequiresCredential names the first such backend in
// backends (§4.7).
func NewWebSearchDefinition(defaultBackend WebSearchBackend, backends []WebSearchBackend, resolver CredentialResolver) Definition {
	byName := map[string]WebSearchBackend{defaultBackend.Name(): defaultBackend}
	for _, b := range backends {
		byName[b.Name()] = b
	}

	requiresCred := ""
	for _, b := range backends {
		if b.RequiresCredential() {
			requiresCred = b.Name()
			break
		}
	}

	return Definition{
		Validator:          schema.NewJSONSchema(webSearchSchema),
		RequiresCredential: requiresCred,
		Tool: types.Tool{
			Name:        "web_search",
			Description: "Searches the web and returns ranked title/url/snippet results.",
			Parameters:  webSearchSchema,
			Execute: func(ctx context.Context, input map[string]interface{}, opts types.ToolExecutionOptions) (interface{}, error) {
				query, _ := input["query"].(string)
				if query == "" {
					return nil, fmt.Errorf("web_search requires a query")
				}
				maxResults := 5
				if mr, ok := input["max_results"].(float64); ok && mr > 0 {
					maxResults = int(mr)
				}
				backendName, _ := input["backend"].(string)
				if backendName == "" {
					backendName = defaultBackend.Name()
				}
				backend, ok := byName[backendName]
				if !ok {
					return nil, fmt.Errorf("unknown web_search backend %q", backendName)
				}

				apiKey := ""
				if backend.RequiresCredential() {
					userID, _ := opts.UserContext.(string)
					if resolver == nil {
						return nil, fmt.Errorf("web_search backend %q requires a credential but no resolver is configured", backendName)
					}
					key, found, err := resolver(ctx, userID, "web_search", backendName)
					if err != nil {
						return nil, err
					}
					if !found {
						return nil, fmt.Errorf("web_search backend %q has no configured credential for this user", backendName)
					}
					apiKey = key
				}

				results, err := backend.Search(ctx, query, apiKey, maxResults)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"results": results}, nil
			},
		},
	}
}

// aggregatorBackend is the default, credential-free web-search backend:
// a single external aggregator reached through the teacher's
// pkg/internal/http client, per SPEC_FULL.md §4.7.
type aggregatorBackend struct {
	client *chfhttp.Client
}

// NewAggregatorBackend builds the default web-search backend against
// baseURL (an aggregator exposing a simple `GET /search?q=` JSON API).
func NewAggregatorBackend(baseURL string) WebSearchBackend {
	return &aggregatorBackend{client: chfhttp.NewClient(chfhttp.Config{BaseURL: baseURL})}
}

func (a *aggregatorBackend) Name() string             { return "default" }
func (a *aggregatorBackend) RequiresCredential() bool { return false }

func (a *aggregatorBackend) Search(ctx context.Context, query, _ string, maxResults int) ([]WebSearchResult, error) {
	var out struct {
		Results []WebSearchResult `json:"results"`
	}
	req := chfhttp.Request{
		Method: "GET",
		Path:   "/search",
		Query: map[string]string{
			"q":     query,
			"limit": fmt.Sprintf("%d", maxResults),
		},
	}
	if err := a.client.DoJSON(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("web search aggregator request failed: %w", err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	return out.Results, nil
}
