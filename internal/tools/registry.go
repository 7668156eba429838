// Package tools implements C1, the tool registry. It holds tool
// definitions {name, schema, validator, executor} and exposes
// capability discovery, grounded on pkg/provider/types.Tool (the
// teacher's tool shape) and pkg/schema for argument validation — the
// same santhosh-tekuri/jsonschema-backed validator the rest of the
// corpus (goadesign-goa-ai) uses for tool/action arguments.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/schema"
)

// CredentialStatus reports whether a tool (or one of its backends) has
// the user-supplied credential it needs, for GET /v1/tools.
type CredentialStatus struct {
	HasAPIKey        bool
	RequiresAPIKey   bool
	MissingKeyLabel  string
}

// CredentialChecker resolves whether userID has a usable credential for
// a tool; tools that need no credential (current-time, journal, the
// default web-search backend) are always reported as satisfied.
type CredentialChecker func(ctx context.Context, userID string, toolName string) (CredentialStatus, error)

// Definition is one registered tool: its wire-visible schema plus the
// validator and executor that back it. The registry enforces unique
// names and rejects a Definition with no Validator; it does not compare
// the Validator against Tool.Parameters (the built-in tools derive both
// from the same schema document).
type Definition struct {
	Tool      types.Tool
	Validator schema.Validator
	// RequiresCredential names the credential a non-default backend of
	// this tool needs (empty for credential-free tools).
	RequiresCredential string
}

// Registry is the process-wide set of tools C7 may dispatch to. It is
// built once at startup from a fixed set of Definitions — unlike the
// teacher's global pkg/registry (a runtime-mutable provider map), the
// tool set does not change after boot, so the registry's mutex only
// guards lookups in practice, not registrations after New.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	checker     CredentialChecker
}

// New builds a Registry from defs, rejecting an entry with an empty
// name, no Validator, or a name already registered; it does not compile
// or inspect the schemas themselves. A handler whose Tool.Execute is nil is
// rejected — the registry exists to prevent exactly that class of bug
// reaching the orchestrator.
func New(checker CredentialChecker, defs ...Definition) (*Registry, error) {
	r := &Registry{definitions: make(map[string]Definition, len(defs)), checker: checker}
	for _, d := range defs {
		if err := r.register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(d Definition) error {
	if d.Tool.Name == "" {
		return fmt.Errorf("tool registered with empty name")
	}
	if d.Tool.Execute == nil {
		return fmt.Errorf("tool %q has no executor", d.Tool.Name)
	}
	if d.Validator == nil {
		return fmt.Errorf("tool %q has no validator", d.Tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[d.Tool.Name]; exists {
		return fmt.Errorf("duplicate tool name %q", d.Tool.Name)
	}
	r.definitions[d.Tool.Name] = d
	return nil
}

// Get looks up a tool definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[name]
	return d, ok
}

// List returns every registered tool's OpenAI-function-schema-shaped
// spec, for GET /v1/tools.
func (r *Registry) List() []types.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Tool, 0, len(r.definitions))
	for _, d := range r.definitions {
		out = append(out, d.Tool)
	}
	return out
}

// ResolveAvailable filters a requested set of tool names down to the
// ones the registry knows and the user has credentials for, per the
// strategy selector's tie-break rule (spec.md §4.2): a name is dropped,
// with a warning, rather than failing the whole request.
func (r *Registry) ResolveAvailable(ctx context.Context, userID string, names []string) (resolved []types.Tool, warnings []string) {
	for _, name := range names {
		d, ok := r.Get(name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("tool %q is not registered", name))
			continue
		}
		if d.RequiresCredential != "" && r.checker != nil {
			status, err := r.checker(ctx, userID, name)
			if err != nil || !status.HasAPIKey {
				warnings = append(warnings, fmt.Sprintf("tool %q missing required credential %q", name, d.RequiresCredential))
				continue
			}
		}
		resolved = append(resolved, d.Tool)
	}
	return resolved, warnings
}

// CredentialStatuses reports the GET /v1/tools credential map.
func (r *Registry) CredentialStatuses(ctx context.Context, userID string) (map[string]CredentialStatus, error) {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.definitions))
	for _, d := range r.definitions {
		defs = append(defs, d)
	}
	r.mu.RUnlock()

	out := make(map[string]CredentialStatus, len(defs))
	for _, d := range defs {
		if d.RequiresCredential == "" {
			out[d.Tool.Name] = CredentialStatus{HasAPIKey: true, RequiresAPIKey: false}
			continue
		}
		if r.checker == nil {
			out[d.Tool.Name] = CredentialStatus{RequiresAPIKey: true, MissingKeyLabel: d.RequiresCredential}
			continue
		}
		status, err := r.checker(ctx, userID, d.Tool.Name)
		if err != nil {
			return nil, err
		}
		status.RequiresAPIKey = true
		if status.MissingKeyLabel == "" {
			status.MissingKeyLabel = d.RequiresCredential
		}
		out[d.Tool.Name] = status
	}
	return out, nil
}

// ValidateArguments runs the already-decoded args through the
// tool's validator, per spec.md §4.7 "Validation". A failure here is
// reported to the caller as a *apierr.PipelineError with Code
// apierr.CodeInvalidArguments — the orchestrator turns that into a
// tool_output{error:"invalid_arguments"} event, it does not abort the
// loop.
func (r *Registry) ValidateArguments(name string, args map[string]interface{}) error {
	d, ok := r.Get(name)
	if !ok {
		return apierr.Newf(apierr.KindValidation, "unknown tool %q", name).WithCode(apierr.CodeInvalidArguments)
	}
	if err := d.Validator.Validate(args); err != nil {
		return apierr.Newf(apierr.KindValidation, "invalid arguments for tool %q: %v", name, err).WithCode(apierr.CodeInvalidArguments)
	}
	return nil
}

// Execute runs a validated tool call. Handlers are expected to honor
// ctx cancellation on every suspension point, per spec.md §4.7.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, opts types.ToolExecutionOptions) (interface{}, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "unknown tool %q", name)
	}
	return d.Tool.Execute(ctx, args, opts)
}
