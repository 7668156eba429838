package tools

// Dependencies bundles the external collaborators the built-in tool set
// needs. cmd/chatforge constructs one of these from config and passes it
// to Build.
type Dependencies struct {
	JournalStore       JournalStore
	AggregatorBaseURL  string
	ExtraSearchBackends []WebSearchBackend
	CredentialResolver CredentialResolver
	Fetcher            WebFetcher
	CursorCache        *CursorCache
	Checker            CredentialChecker

	// MCPDefinitions are additional Definitions discovered from connected
	// MCP servers (see NewMCPDefinitions), built by the caller ahead of
	// time since that discovery is itself a network call the caller
	// already has a connection and context for at startup. Optional:
	// nil means no MCP server is configured.
	MCPDefinitions []Definition
}

// Build assembles the registry's fixed Definition set: current-time,
// journal, web_search, and web_fetch, per SPEC_FULL.md §4.7, plus any
// MCP-backed tools the caller discovered. It is the single place a new
// built-in tool gets wired in.
func Build(deps Dependencies) (*Registry, error) {
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = NewWebFetcher()
	}
	cache := deps.CursorCache
	if cache == nil {
		cache = NewCursorCache()
	}

	defs := []Definition{
		NewCurrentTimeDefinition(),
		NewJournalDefinition(deps.JournalStore),
		NewWebSearchDefinition(NewAggregatorBackend(deps.AggregatorBaseURL), deps.ExtraSearchBackends, deps.CredentialResolver),
		NewWebFetchDefinition(fetcher, cache),
	}
	defs = append(defs, deps.MCPDefinitions...)
	return New(deps.Checker, defs...)
}
