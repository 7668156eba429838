package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/chatforge/backend/internal/abort"
	"github.com/chatforge/backend/internal/config"
	"github.com/chatforge/backend/internal/crypto"
	"github.com/chatforge/backend/internal/httpapi"
	"github.com/chatforge/backend/internal/logging"
	"github.com/chatforge/backend/internal/orchestrator"
	"github.com/chatforge/backend/internal/pipeline"
	"github.com/chatforge/backend/internal/providerset"
	"github.com/chatforge/backend/internal/store"
	"github.com/chatforge/backend/internal/tools"
	"github.com/chatforge/backend/pkg/mcp"
	"github.com/chatforge/backend/pkg/registry"
	"github.com/chatforge/backend/pkg/telemetry"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ChatForge HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	mgr := config.New(configPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	dbCfg := store.DefaultConfig()
	dbCfg.DSN = cfg.Database.URL
	db, err := store.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	keyBytes, err := hex.DecodeString(cfg.Crypto.MasterKeyHex)
	if err != nil {
		return fmt.Errorf("decode crypto.master_key_hex: %w", err)
	}
	masterKey, err := crypto.NewMasterKey(keyBytes)
	if err != nil {
		return fmt.Errorf("build master key: %w", err)
	}

	for alias, target := range cfg.ModelAliases {
		registry.RegisterAlias(alias, target)
	}

	coordinator := store.New(db, masterKey)
	providerResolver := providerset.NewResolver(masterKey)

	var mcpDefs []tools.Definition
	if cfg.Tools.MCPServerURL != "" {
		mcpClient := mcp.NewMCPClient(mcp.NewHTTPTransport(mcp.HTTPTransportConfig{URL: cfg.Tools.MCPServerURL}), mcp.MCPClientConfig{ClientName: "chatforge"})
		if err := mcpClient.Connect(ctx); err != nil {
			return fmt.Errorf("connect mcp server: %w", err)
		}
		defer func() { _ = mcpClient.Close() }()
		mcpDefs, err = tools.NewMCPDefinitions(ctx, mcpClient)
		if err != nil {
			return fmt.Errorf("discover mcp tools: %w", err)
		}
	}

	cursorCache := tools.NewCursorCache()
	registry, err := tools.Build(tools.Dependencies{
		JournalStore:       store.NewJournalStore(db),
		AggregatorBaseURL:  cfg.Tools.WebSearchAggregatorBaseURL,
		CredentialResolver: coordinator.CredentialResolver(),
		Checker:            coordinator.CredentialChecker(),
		CursorCache:        cursorCache,
		MCPDefinitions:     mcpDefs,
	})
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Tools.CursorSweepCron, cursorCache.Sweep); err != nil {
		return fmt.Errorf("schedule cursor cache sweeper: %w", err)
	}
	if _, err := sweeper.AddFunc(cfg.Tools.CursorSweepCron, providerResolver.SweepModelCache); err != nil {
		return fmt.Errorf("schedule model-list cache sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	telemetrySettings := telemetry.DefaultSettings().WithEnabled(cfg.Telemetry.Enabled)

	orch := orchestrator.New(registry, orchestrator.Config{
		MaxIterations:  cfg.Pipeline.MaxToolIterations,
		MaxConcurrency: cfg.Pipeline.MaxToolConcurrency,
		ToolTimeout:    time.Duration(cfg.Pipeline.ToolTimeoutSeconds) * time.Second,
	})
	orch.Telemetry = telemetrySettings

	pl := &pipeline.Pipeline{
		Store:        coordinator,
		ProviderSet:  providerResolver,
		Tools:        registry,
		Orchestrator: orch,
		Abort:        abort.New(),
		Logger:       log,
		Telemetry:    telemetrySettings,
	}

	srv := &httpapi.Server{
		Pipeline: pl,
		Auth:     headerAuthenticator{},
		Logger:   log,
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("chatforge listening")
	return httpServer.ListenAndServe()
}

// headerAuthenticator trusts an X-User-Id header set by the out-of-scope
// authentication middleware spec.md §1 names as an external collaborator
// — this binary never verifies credentials itself, only parses the
// identity the upstream proxy already authenticated.
type headerAuthenticator struct{}

func (headerAuthenticator) Authenticate(r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
