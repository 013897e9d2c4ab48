package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/config"
	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/engine"
	"github.com/roach88/beastmode/internal/fallback"
	"github.com/roach88/beastmode/internal/learning"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/metrics"
	"github.com/roach88/beastmode/internal/patterns"
	"github.com/roach88/beastmode/internal/store"
	"github.com/roach88/beastmode/internal/trigger"
)

// app is the state a command works against: configuration, the database,
// and the loaded definitions with learned rules on top.
type app struct {
	cfg     *config.Config
	store   *store.Store
	library *patterns.Store
	flows   *dialogue.Flows
	catalog *catalog.Catalog
	learner *learning.Coordinator

	// load is the definitions load result, for reporting rejected sources.
	load    *loader.Result
	learned int
}

// loadConfig resolves configuration, applying the --definitions override.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.NewViper(), opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Definitions != "" {
		cfg.DefinitionsDir = opts.Definitions
	}
	return cfg, nil
}

// openApp loads configuration, opens the database and loads definitions
// and learned rules. Rejected definition sources are logged and skipped;
// a missing definitions directory is an error.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}
	slog.Debug("opening database", "path", cfg.DBPath())
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{
		cfg:     cfg,
		store:   st,
		library: patterns.NewStore(patterns.WithSequencer(engine.NewClock())),
		flows:   dialogue.NewFlows(),
		catalog: catalog.New(),
	}

	res, err := loader.LoadDir(ctx, cfg.DefinitionsDir, loader.Target{Store: a.library, Catalog: a.catalog, Flows: a.flows})
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	for _, le := range res.Errors {
		slog.Warn("definition rejected", "source", le.Source, "code", le.Code, "error", le.Message)
	}
	a.load = res

	a.learner = learning.New(a.library, st, learning.WithCatalog(a.catalog))
	if a.learned, err = a.learner.LoadLearned(ctx); err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load learned rules", err)
	}

	slog.Debug("definitions loaded",
		"dir", cfg.DefinitionsDir,
		"rules", a.library.Len(),
		"learned", a.learned,
		"flows", len(a.flows.List()),
		"workflows", a.catalog.Len())
	return a, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// backend returns the GitHub trigger when a repository is configured, and
// a dry-run backend otherwise.
func (a *app) backend() trigger.Trigger {
	if !a.cfg.GitHubEnabled() {
		slog.Warn("no github repository configured, dispatches are dry runs")
		return &trigger.DryRun{}
	}
	return trigger.NewGitHub(trigger.GitHubConfig{
		BaseURL:       a.cfg.GitHubAPIURL,
		Owner:         a.cfg.GitHubOwner,
		Repo:          a.cfg.GitHubRepo,
		Ref:           a.cfg.GitHubRef,
		Token:         a.cfg.GitHubToken,
		RatePerSecond: a.cfg.GitHubRatePerSec,
	})
}

// completer returns the local endpoint, with the remote one behind it when
// an API key is configured.
func (a *app) completer() fallback.Completer {
	d := fallback.DualCompleter{
		Local: fallback.NewOpenAICompleter(fallback.EndpointConfig{
			Name:    "local",
			BaseURL: a.cfg.LLMLocalURL,
			Model:   a.cfg.LLMLocalModel,
			Timeout: a.cfg.LLMLocalTimeout,
		}),
	}
	if a.cfg.RemoteLLMEnabled() {
		d.Remote = fallback.NewOpenAICompleter(fallback.EndpointConfig{
			Name:    "remote",
			BaseURL: a.cfg.LLMRemoteURL,
			Model:   a.cfg.LLMRemoteModel,
			APIKey:  a.cfg.LLMRemoteAPIKey,
			Timeout: a.cfg.LLMRemoteTimeout,
		})
	}
	return d
}

// conversation wires a conversation engine over the loaded state. trig and
// comp default to backend() and completer(); reg, when set, receives the
// dispatch and turn metrics.
func (a *app) conversation(trig trigger.Trigger, comp fallback.Completer, reg prometheus.Registerer) *engine.Conversation {
	if trig == nil {
		trig = a.backend()
	}
	if comp == nil {
		comp = a.completer()
	}

	dopts := []dispatch.Option{
		dispatch.WithCatalog(a.catalog),
		dispatch.WithAudit(a.store),
		dispatch.WithConfig(dispatch.Config{
			MaxAttempts:    uint(a.cfg.DispatchMaxAttempts),
			InitialBackoff: a.cfg.DispatchInitialBackoff,
		}),
	}
	sessions := dialogue.NewManager(
		dialogue.WithTTL(a.cfg.SessionTTL),
		dialogue.WithHistorySize(a.cfg.HistorySize))
	eopts := []engine.Option{
		engine.WithFallback(fallback.NewAdapter(comp, a.catalog)),
		engine.WithLearner(a.learner),
		engine.WithTurnTimeout(a.cfg.TurnTimeout),
	}

	if reg != nil {
		m := metrics.New(reg)
		metrics.RegisterGauge(reg, "sessions_active", "Number of live conversation sessions", sessions.Len)
		metrics.RegisterGauge(reg, "rules_loaded", "Number of rules in the pattern library", a.library.Len)
		dopts = append(dopts, dispatch.WithObserver(m))
		eopts = append(eopts, engine.WithObserver(m))
	}

	return engine.New(a.library, a.flows, sessions, dispatch.New(trig, dopts...), eopts...)
}

// describeLoad summarizes what was loaded for status lines.
func (a *app) describeLoad() string {
	return fmt.Sprintf("%d rules (%d learned), %d flows, %d workflows",
		a.library.Len(), a.learned, len(a.flows.List()), a.catalog.Len())
}
