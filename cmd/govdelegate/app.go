package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/entrhq/govdelegate/pkg/chain"
	"github.com/entrhq/govdelegate/pkg/config"
	"github.com/entrhq/govdelegate/pkg/decision"
	"github.com/entrhq/govdelegate/pkg/events"
	"github.com/entrhq/govdelegate/pkg/justification"
	"github.com/entrhq/govdelegate/pkg/llm/tokenizer"
	"github.com/entrhq/govdelegate/pkg/logging"
	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/memory/outcome"
	"github.com/entrhq/govdelegate/pkg/memory/preference"
	"github.com/entrhq/govdelegate/pkg/memory/proposal"
	"github.com/entrhq/govdelegate/pkg/memory/sentiment"
	"github.com/entrhq/govdelegate/pkg/metrics"
	"github.com/entrhq/govdelegate/pkg/orchestrator"
	"github.com/entrhq/govdelegate/pkg/source"
	"github.com/entrhq/govdelegate/pkg/types"
)

// app holds the wired delegate and the resources it must release.
type app struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	metrics *metrics.Collector
	logger  *logging.Logger
	closers []io.Closer
}

// newApp wires configuration into a ready orchestrator. llmFlags carries
// the command-line LLM overrides.
func newApp(ctx context.Context, cfg *config.Config, llmFlags config.LLMConfig) (_ *app, err error) {
	level, err := logging.ParseLevel(cfg.Logging.Verbosity)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.Logging.Dir, level)

	logger, logErr := logging.NewLogger("govdelegate")
	// logger is usable in fallback mode even when logErr is set
	if logErr != nil {
		logger.Warnf("logging to stderr: %v", logErr)
	}

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logger}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	j := journal.Discard
	if cfg.Storage.JournalPath != "" {
		sqlite, err := journal.OpenSQLite(cfg.Storage.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.closers = append(a.closers, sqlite)
		j = sqlite
		logger.Infof("journal: %s", sqlite.Path())
	}

	proposals := proposal.NewStore(proposal.WithJournal(j))
	signals := sentiment.NewStore(sentiment.WithJournal(j))
	prefs := preference.NewStore(
		preference.WithJournal(j),
		preference.WithRetention(cfg.Learning.PreferenceRetention),
	)
	outcomes := outcome.NewStore(
		outcome.WithJournal(j),
		outcome.WithRetention(cfg.Learning.AccuracyRetention),
	)
	for name, restore := range map[string]func(context.Context) error{
		"proposals":   proposals.Restore,
		"sentiment":   signals.Restore,
		"preferences": prefs.Restore,
		"outcomes":    outcomes.Restore,
	} {
		if err := restore(ctx); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}

	engine, err := newEngine(cfg, llmFlags, logger)
	if err != nil {
		return nil, err
	}

	agg, err := source.LoadFixture(cfg.Sources.Fixture)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal source: %w", err)
	}
	filter, err := source.NewSourceFilter(cfg.Sources.Allow, cfg.Sources.Ignore)
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.NewCollector()
	emitters := []types.EventEmitter{a.metrics.Observe}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub)
		emitters = append(emitters, pub.Emit)
		logger.Infof("publishing events to %s under %s", cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	}

	opts := []orchestrator.Option{
		orchestrator.WithAutonomousVoting(cfg.Voting.Autonomous),
		orchestrator.WithConfidenceThreshold(cfg.Voting.ConfidenceThreshold),
		orchestrator.WithApprovalTimeout(cfg.Voting.ApprovalTimeout),
		orchestrator.WithTimeouts(cfg.Cycle.FetchTimeout, cfg.Cycle.ChainTimeout),
		orchestrator.WithMaxProposals(cfg.Cycle.MaxProposals),
		orchestrator.WithConcurrency(cfg.Cycle.Concurrency),
		orchestrator.WithSourceFilter(filter),
		orchestrator.WithLogger(logger),
		orchestrator.WithEventEmitter(events.Fanout(emitters...)),
	}
	if cfg.Storage.ArchiveDir != "" {
		archive, err := justification.NewArchive(cfg.Storage.ArchiveDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithArchive(archive))
	}
	if cfg.Storage.ArtifactsDir != "" {
		opts = append(opts, orchestrator.WithArtifacts(orchestrator.NewArtifactWriter(cfg.Storage.ArtifactsDir)))
	}

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Proposals:   proposals,
		Sentiment:   signals,
		Preferences: prefs,
		Outcomes:    outcomes,
		Engine:      engine,
		Aggregator:  agg,
		Chain:       chain.NewLedger(cfg.Agent.Address),
	}, opts...)
	if err != nil {
		return nil, err
	}

	for _, v := range cfg.Learning.Values {
		if _, err := a.orch.SeedPreference(ctx, v.Name, v.Category, v.Description, v.Confidence); err != nil {
			return nil, fmt.Errorf("failed to seed value %s: %w", v.Name, err)
		}
	}
	return a, nil
}

// newEngine selects the decision backend.
func newEngine(cfg *config.Config, llmFlags config.LLMConfig, logger *logging.Logger) (*decision.Engine, error) {
	if cfg.Decision.Backend != config.BackendModel {
		return decision.NewEngine(nil), nil
	}

	provider, err := config.BuildProvider(config.ResolveLLM(llmFlags, cfg.LLM))
	if err != nil {
		return nil, err
	}
	opts := []decision.ModelOption{decision.WithMaxBodyTokens(cfg.Decision.MaxPromptTokens)}
	if tok, err := tokenizer.New(); err != nil {
		logger.Warnf("token counting unavailable, estimating prompt size: %v", err)
	} else {
		opts = append(opts, decision.WithTruncator(tok))
	}
	if cfg.Decision.Fallback {
		opts = append(opts, decision.WithFallback(decision.HeuristicBackend{}))
	}
	backend := decision.NewModelBackend(provider, opts...)
	logger.Infof("decision backend: %s", backend.Name())
	return decision.NewEngine(backend), nil
}

// registerIdentity registers the configured delegate address.
func (a *app) registerIdentity(ctx context.Context) error {
	ref, err := a.orch.RegisterIdentity(ctx, a.cfg.Agent.Address, a.cfg.Agent.Name, a.cfg.Agent.AgentID)
	if err != nil {
		return err
	}
	a.logger.Infof("registered delegate %s as %s (%s)", a.cfg.Agent.Name, a.cfg.Agent.Address, ref)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
