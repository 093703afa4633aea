// Package decision turns sentiment and preference signals into a vote
// recommendation. The Engine delegates to a Backend: HeuristicBackend is
// the deterministic reference; ModelBackend asks an LLM and can fall back
// to the heuristic.
package decision

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

// maxHistory bounds the in-memory decision history.
const maxHistory = 1000

// Context is everything a backend may consider for one proposal.
type Context struct {
	ProposalID   string
	Title        string
	Body         string
	Organization string
	Category     string
	Options      []string

	// Sentiment maps source name to mean score in [-1, 1].
	Sentiment map[string]float64
	// Preferences maps a preference signal name to a score in [0, 1].
	Preferences map[string]float64

	ArgumentsFor     []string
	ArgumentsAgainst []string
	ExpectedImpact   string
	SimilarProposals []string
}

// OverallSentiment is the mean of the sentiment scores, 0 when empty.
func (c Context) OverallSentiment() float64 { return mean(c.Sentiment) }

// PreferenceAlignment is the mean of the preference scores, 0 when empty.
func (c Context) PreferenceAlignment() float64 { return mean(c.Preferences) }

// Backend produces a decision for a context.
type Backend interface {
	Name() string
	Decide(ctx context.Context, c Context) (types.VoteDecision, error)
}

// Engine runs a backend and keeps a history of its decisions.
type Engine struct {
	backend Backend
	history []types.VoteDecision
	mu      sync.Mutex
}

// NewEngine creates an engine. A nil backend uses the heuristic.
func NewEngine(backend Backend) *Engine {
	if backend == nil {
		backend = HeuristicBackend{}
	}
	return &Engine{backend: backend}
}

// Backend returns the configured backend.
func (e *Engine) Backend() Backend { return e.backend }

// Analyze decides on a proposal and attaches a short reasoning summary.
func (e *Engine) Analyze(ctx context.Context, c Context) (types.VoteDecision, error) {
	if c.ProposalID == "" {
		return types.VoteDecision{}, &types.ValidationError{Field: "proposal_id"}
	}
	d, err := e.backend.Decide(ctx, c)
	if err != nil {
		return types.VoteDecision{}, fmt.Errorf("decide %s: %w", c.ProposalID, err)
	}
	d.ProposalID = c.ProposalID
	if d.Backend == "" {
		d.Backend = e.backend.Name()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = timeNow()
	}
	d.ReasoningSummary = Summarize(c, d)

	e.mu.Lock()
	e.history = append(e.history, d)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	e.mu.Unlock()

	return d, nil
}

// History returns past decisions, oldest first.
func (e *Engine) History() []types.VoteDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.VoteDecision, len(e.history))
	copy(out, e.history)
	return out
}

// Last returns the most recent decision for a proposal.
func (e *Engine) Last(proposalID string) (types.VoteDecision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ProposalID == proposalID {
			return e.history[i], true
		}
	}
	return types.VoteDecision{}, false
}

// Patterns summarizes the decision history.
type Patterns struct {
	TotalDecisions    int                `json:"total_decisions"`
	AverageConfidence float64            `json:"average_confidence"`
	MostCommonChoice  string             `json:"most_common_choice"`
	RiskDistribution  map[types.Risk]int `json:"risk_distribution"`
}

// AnalyzePatterns reports average confidence, the most common choice
// (ties broken alphabetically) and how often each risk level was assigned.
func (e *Engine) AnalyzePatterns() Patterns {
	history := e.History()
	p := Patterns{RiskDistribution: make(map[types.Risk]int)}
	if len(history) == 0 {
		return p
	}

	choices := make(map[string]int)
	var total float64
	for _, d := range history {
		total += d.Confidence
		choices[d.Choice]++
		p.RiskDistribution[d.Risk]++
	}
	p.TotalDecisions = len(history)
	p.AverageConfidence = total / float64(len(history))

	names := make([]string, 0, len(choices))
	for name := range choices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p.MostCommonChoice == "" || choices[name] > choices[p.MostCommonChoice] {
			p.MostCommonChoice = name
		}
	}
	return p
}

// mean averages values in key order so results do not depend on map iteration.
func mean(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sum float64
	for _, k := range keys {
		sum += m[k]
	}
	return sum / float64(len(m))
}
