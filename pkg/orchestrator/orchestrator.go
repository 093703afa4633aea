// Package orchestrator runs the governance cycle for an organization:
// ingest proposals and sentiment, decide on the first few proposals,
// record a justification for each and either cast the vote or queue it
// for approval. It also closes the feedback loop when outcomes arrive.
package orchestrator

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/govdelegate/pkg/approval"
	"github.com/entrhq/govdelegate/pkg/chain"
	"github.com/entrhq/govdelegate/pkg/decision"
	"github.com/entrhq/govdelegate/pkg/justification"
	"github.com/entrhq/govdelegate/pkg/memory/outcome"
	"github.com/entrhq/govdelegate/pkg/memory/preference"
	"github.com/entrhq/govdelegate/pkg/memory/proposal"
	"github.com/entrhq/govdelegate/pkg/memory/sentiment"
	"github.com/entrhq/govdelegate/pkg/source"
	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

const (
	// MaxProposalsPerCycle caps how many fetched proposals one cycle decides on.
	MaxProposalsPerCycle = 3

	// DefaultConfidenceThreshold is the minimum confidence for an autonomous cast.
	DefaultConfidenceThreshold = 0.5

	DefaultFetchTimeout = 30 * time.Second
	DefaultChainTimeout = 30 * time.Second
)

// ErrCycleInProgress is returned when a cycle is requested for an
// organization whose previous cycle has not finished.
var ErrCycleInProgress = errors.New("orchestrator: cycle already running for organization")

// Logger is the logging surface the orchestrator writes to.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Deps are the collaborators an Orchestrator owns. Nil stores, engine and
// builder are replaced with empty in-memory ones; Aggregator and Chain are
// required.
type Deps struct {
	Proposals      *proposal.Store
	Sentiment      *sentiment.Store
	Preferences    *preference.Store
	Outcomes       *outcome.Store
	Engine         *decision.Engine
	Justifications *justification.Builder
	Aggregator     source.Aggregator
	Chain          chain.Chain
}

// Orchestrator sequences the stores, decision engine and collaborators.
type Orchestrator struct {
	proposals      *proposal.Store
	sentiment      *sentiment.Store
	preferences    *preference.Store
	outcomes       *outcome.Store
	engine         *decision.Engine
	justifications *justification.Builder
	aggregator     source.Aggregator
	chain          chain.Chain
	queue          *approval.Queue

	archive    *justification.Archive
	artifacts  *ArtifactWriter
	normalizer *source.Normalizer
	filter     *source.SourceFilter
	logger     Logger
	emitEvent  types.EventEmitter

	autonomous          bool
	confidenceThreshold float64
	fetchTimeout        time.Duration
	chainTimeout        time.Duration
	approvalTimeout     time.Duration
	maxProposals        int
	concurrency         int

	votesCast atomic.Int64

	orgLocks map[string]*sync.Mutex
	mu       sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAutonomousVoting casts confident decisions instead of queuing them.
func WithAutonomousVoting(enabled bool) Option {
	return func(o *Orchestrator) { o.autonomous = enabled }
}

// WithConfidenceThreshold sets the minimum confidence for autonomous casts.
func WithConfidenceThreshold(threshold float64) Option {
	return func(o *Orchestrator) { o.confidenceThreshold = threshold }
}

// WithTimeouts bounds aggregator and chain calls. Zero keeps the default.
func WithTimeouts(fetch, chain time.Duration) Option {
	return func(o *Orchestrator) {
		if fetch > 0 {
			o.fetchTimeout = fetch
		}
		if chain > 0 {
			o.chainTimeout = chain
		}
	}
}

// WithApprovalTimeout bounds how long AwaitApproval waits.
func WithApprovalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.approvalTimeout = d }
}

// WithMaxProposals overrides the per-cycle proposal cap.
func WithMaxProposals(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxProposals = n
		}
	}
}

// WithConcurrency limits how many organizations RunAll processes at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithArchive persists every justification to the archive.
func WithArchive(a *justification.Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithArtifacts writes a JSON and markdown record of every cycle.
func WithArtifacts(w *ArtifactWriter) Option {
	return func(o *Orchestrator) { o.artifacts = w }
}

// WithSourceFilter drops sentiment readings from ignored sources.
func WithSourceFilter(f *source.SourceFilter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEventEmitter receives every governance event.
func WithEventEmitter(emit types.EventEmitter) Option {
	return func(o *Orchestrator) {
		if emit != nil {
			o.emitEvent = emit
		}
	}
}

// New creates an orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Aggregator == nil {
		return nil, errors.New("orchestrator: aggregator is required")
	}
	if deps.Chain == nil {
		return nil, errors.New("orchestrator: chain is required")
	}

	o := &Orchestrator{
		proposals:           deps.Proposals,
		sentiment:           deps.Sentiment,
		preferences:         deps.Preferences,
		outcomes:            deps.Outcomes,
		engine:              deps.Engine,
		justifications:      deps.Justifications,
		aggregator:          deps.Aggregator,
		chain:               deps.Chain,
		normalizer:          source.NewNormalizer(),
		logger:              nopLogger{},
		emitEvent:           types.NopEmitter,
		confidenceThreshold: DefaultConfidenceThreshold,
		fetchTimeout:        DefaultFetchTimeout,
		chainTimeout:        DefaultChainTimeout,
		maxProposals:        MaxProposalsPerCycle,
		orgLocks:            make(map[string]*sync.Mutex),
	}
	if o.proposals == nil {
		o.proposals = proposal.NewStore()
	}
	if o.sentiment == nil {
		o.sentiment = sentiment.NewStore()
	}
	if o.preferences == nil {
		o.preferences = preference.NewStore()
	}
	if o.outcomes == nil {
		o.outcomes = outcome.NewStore()
	}
	if o.engine == nil {
		o.engine = decision.NewEngine(nil)
	}
	if o.justifications == nil {
		o.justifications = justification.NewBuilder()
	}
	for _, opt := range opts {
		opt(o)
	}

	o.queue = approval.NewQueue(o.chain, o.approvalTimeout, o.emit)
	return o, nil
}

func (o *Orchestrator) emit(e *types.Event) {
	o.emitEvent(e)
}

// orgLock returns the mutex serializing cycles for org.
func (o *Orchestrator) orgLock(org string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.orgLocks[org]
	if !ok {
		l = &sync.Mutex{}
		o.orgLocks[org] = l
	}
	return l
}

// Proposals returns the proposal store.
func (o *Orchestrator) Proposals() *proposal.Store { return o.proposals }

// Sentiment returns the sentiment store.
func (o *Orchestrator) Sentiment() *sentiment.Store { return o.sentiment }

// Preferences returns the preference store.
func (o *Orchestrator) Preferences() *preference.Store { return o.preferences }

// Outcomes returns the outcome store.
func (o *Orchestrator) Outcomes() *outcome.Store { return o.outcomes }

// Engine returns the decision engine.
func (o *Orchestrator) Engine() *decision.Engine { return o.engine }

// Justifications returns the justification builder.
func (o *Orchestrator) Justifications() *justification.Builder { return o.justifications }

func normalizeOrg(org string) string {
	return strings.ToLower(strings.TrimSpace(org))
}
