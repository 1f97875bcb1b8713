package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/evanrhodes/tern/internal/config"
	"github.com/evanrhodes/tern/internal/credentials"
	"github.com/evanrhodes/tern/internal/logger"
	"github.com/evanrhodes/tern/internal/observability"
	"github.com/evanrhodes/tern/internal/tracing"
	"github.com/evanrhodes/tern/pkg/agent"
	"github.com/evanrhodes/tern/pkg/llm"
	"github.com/evanrhodes/tern/pkg/provider"
	"github.com/evanrhodes/tern/pkg/retry"
	"github.com/evanrhodes/tern/pkg/session"
	"github.com/evanrhodes/tern/pkg/toolexecutor"
)

// runtime wires configuration into the live pieces a command needs.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	creds  credentials.Store
	store  session.Store
	closer func()
}

// newRuntime loads config, starts logging and opens the session store.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs[0])
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	if err := tracing.InitOpenTelemetry("tern", version); err != nil {
		lg.Warn().Err(err).Msg("Tracing unavailable")
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		lg.Warn().Err(err).Msg("Audit log unavailable")
	}

	creds, err := credentials.NewFileStore("")
	if err != nil {
		lg.Close()
		return nil, err
	}

	var store session.Store
	var closeStore func()
	switch cfg.Session.Backend {
	case "sqlite":
		st, err := session.NewSQLiteStore(cfg.Session.DBPath, lg.GetZerolog())
		if err != nil {
			lg.Close()
			return nil, err
		}
		store = st
		closeStore = func() { st.Close() }
	case "memory":
		store = session.NewMemoryStore()
		closeStore = func() {}
	default:
		st, err := session.NewFileStore(cfg.Session.Dir, lg.GetZerolog())
		if err != nil {
			lg.Close()
			return nil, err
		}
		store = st
		closeStore = func() { st.Close() }
	}

	rt := &runtime{
		cfg:   cfg,
		log:   lg,
		creds: creds,
		store: store,
	}
	rt.closer = func() {
		closeStore()
		observability.GetAuditLogger().Close()
		lg.Close()
	}
	return rt, nil
}

func (r *runtime) close() {
	r.closer()
}

// providerConfig finds the named provider, defaulting to the configured
// default provider.
func (r *runtime) providerConfig(name string) (config.ProviderConfig, error) {
	if name == "" {
		name = r.cfg.DefaultProvider
	}
	for _, p := range r.cfg.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	return config.ProviderConfig{}, fmt.Errorf("provider %q is not configured", name)
}

// buildProvider resolves credentials and the compatibility profile, then
// constructs the matching wire adapter.
func (r *runtime) buildProvider(pc config.ProviderConfig) (provider.Provider, error) {
	apiKey, err := credentials.Resolve(r.creds, pc.Name, pc.APIKey, pc.APIKeyRef)
	if err != nil {
		return nil, err
	}

	profiles := provider.NewRegistry()
	prof := profiles.Resolve(pc.Profile)

	switch pc.Family {
	case "block_stream":
		return provider.NewBlockStream(provider.BlockStreamConfig{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  apiKey,
			Profile: prof,
			Logger:  r.log.GetZerolog(),
		})
	default:
		return provider.NewChatCompletions(provider.ChatCompletionsConfig{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  apiKey,
			Profile: prof,
			Logger:  r.log.GetZerolog(),
		})
	}
}

// buildRegistry constructs the tool registry with builtins under the
// configured mode and workspace.
func (r *runtime) buildRegistry() (*toolexecutor.Registry, error) {
	mode := toolexecutor.ModeReadOnly
	if r.cfg.Tools.Mode == "full" {
		mode = toolexecutor.ModeFull
	}
	registry := toolexecutor.NewRegistry(mode)
	if err := toolexecutor.RegisterBuiltins(registry, r.cfg.WorkspacePath); err != nil {
		return nil, err
	}
	return registry, nil
}

// loopConfig assembles the agent loop wiring for one provider.
func (r *runtime) loopConfig(pc config.ProviderConfig, prov provider.Provider, registry *toolexecutor.Registry, onEvent func(llm.Event)) agent.LoopConfig {
	policy := retry.Policy{
		MaxAttempts: r.cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(r.cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(r.cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:  r.cfg.Retry.Multiplier,
	}
	breaker := retry.NewBreaker(r.cfg.Breaker.FailureThreshold, r.cfg.Breaker.CooldownSecs)

	var toolPolicy *toolexecutor.Policy
	if len(r.cfg.Tools.Allow) > 0 || len(r.cfg.Tools.Deny) > 0 {
		toolPolicy = &toolexecutor.Policy{
			Allow: r.cfg.Tools.Allow,
			Deny:  r.cfg.Tools.Deny,
		}
	}

	temp := pc.Temp
	opts := llm.RequestOptions{
		Model:     pc.Model,
		MaxTokens: pc.MaxTokens,
	}
	if temp != 0 {
		opts.Temperature = &temp
	}

	return agent.LoopConfig{
		Config: agent.Config{
			MaxTurns:            r.cfg.Agent.MaxTurns,
			MaxToolCallsPerTurn: r.cfg.Agent.MaxToolCallsPerTurn,
			RequestTimeout:      time.Duration(r.cfg.Agent.RequestTimeoutSecs) * time.Second,
			ToolTimeout:         time.Duration(r.cfg.Agent.ToolTimeoutSecs) * time.Second,
			SystemPrompt:        r.cfg.Agent.SystemPrompt,
		},
		Options:     opts,
		Provider:    prov,
		Registry:    registry,
		RetryPolicy: &policy,
		Breaker:     breaker,
		ToolPolicy:  toolPolicy,
		Logger:      r.log.GetZerolog(),
		OnEvent:     onEvent,
	}
}
