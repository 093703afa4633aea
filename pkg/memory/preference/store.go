// Package preference holds the learned-preference memory layer: per-category
// success rates updated by exponential moving average, named value patterns
// with adjustable confidence, and final voting distributions.
package preference

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

const (
	// DefaultRetention is the weight kept by the previous category rate on each update.
	DefaultRetention = 0.7

	// DefaultRate is the success rate of a category with no outcomes yet.
	DefaultRate = 0.5

	defaultConfidence = 0.5
	defaultWeight     = 0.5

	likelySupportAbove = 0.65
	likelyOpposeBelow  = 0.35

	// controversialShare is the winning share under which a vote counts as controversial.
	controversialShare = 0.6
)

// PatternID builds the id of the pattern for a named value in a category.
func PatternID(category, name string) string {
	return fmt.Sprintf("preference_%s_%s", category, name)
}

type votingRecord struct {
	ProposalID string         `json:"proposal_id"`
	Votes      map[string]int `json:"votes"`
}

// Store is safe for concurrent use. Each category's moving average is updated
// under the write lock so concurrent outcomes never lose an update.
type Store struct {
	patterns     map[string]*types.PreferencePattern
	patternOrder []string
	rates        map[string]float64
	votes        map[string]map[string]int
	voteOrder    []string
	retention    float64
	journal      journal.Journal
	mu           sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithJournal persists every write through j.
func WithJournal(j journal.Journal) Option {
	return func(s *Store) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithRetention sets the moving-average retention in (0, 1). Out-of-range
// values keep the default.
func WithRetention(r float64) Option {
	return func(s *Store) {
		if r > 0 && r < 1 {
			s.retention = r
		}
	}
}

// NewStore creates an empty preference store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		patterns:  make(map[string]*types.PreferencePattern),
		rates:     make(map[string]float64),
		votes:     make(map[string]map[string]int),
		retention: DefaultRetention,
		journal:   journal.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the configured moving-average retention.
func (s *Store) Retention() float64 { return s.retention }

// Restore loads persisted patterns, rates and voting history.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.journal.Load(ctx, journal.KindPattern, func(_ string, payload []byte) error {
		var p types.PreferencePattern
		if err := journal.Decode(payload, &p); err != nil {
			return err
		}
		s.putPattern(&p)
		return nil
	})
	if err != nil {
		return err
	}
	err = s.journal.Load(ctx, journal.KindCategoryRate, func(key string, payload []byte) error {
		var rate float64
		if err := journal.Decode(payload, &rate); err != nil {
			return err
		}
		s.rates[key] = rate
		return nil
	})
	if err != nil {
		return err
	}
	return s.journal.Load(ctx, journal.KindVotingHistory, func(_ string, payload []byte) error {
		var rec votingRecord
		if err := journal.Decode(payload, &rec); err != nil {
			return err
		}
		s.putVotes(rec.ProposalID, rec.Votes)
		return nil
	})
}

// RecordOutcome folds one passed/failed observation into the category's
// success rate: rate = rate*retention + obs*(1-retention).
func (s *Store) RecordOutcome(ctx context.Context, category string, passed bool) (float64, error) {
	if category == "" {
		category = types.DefaultCategory
	}
	obs := 0.0
	if passed {
		obs = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rate, ok := s.rates[category]
	if !ok {
		rate = DefaultRate
	}
	next := rate*s.retention + obs*(1-s.retention)
	if err := s.journal.Put(ctx, journal.KindCategoryRate, category, next); err != nil {
		return rate, err
	}
	s.rates[category] = next
	return next, nil
}

// SuccessRate returns the category's success rate, DefaultRate if unseen.
func (s *Store) SuccessRate(category string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.rates[category]; ok {
		return rate
	}
	return DefaultRate
}

// Predict returns the likely stance for a category based on its success rate.
func (s *Store) Predict(category string) types.PreferencePrediction {
	rate := s.SuccessRate(category)
	switch {
	case rate > likelySupportAbove:
		return types.PredictLikelySupport
	case rate < likelyOpposeBelow:
		return types.PredictLikelyOppose
	default:
		return types.PredictUncertain
	}
}

// RecordValue upserts the pattern for a named value with default confidence
// and historical weight.
func (s *Store) RecordValue(ctx context.Context, name, category, description string, supporting []string) (types.PreferencePattern, error) {
	if name == "" {
		return types.PreferencePattern{}, &types.ValidationError{Field: "name"}
	}
	if category == "" {
		category = types.DefaultCategory
	}
	p := types.PreferencePattern{
		ID:                  PatternID(category, name),
		Name:                name,
		Category:            category,
		Description:         description,
		Confidence:          defaultConfidence,
		SupportingProposals: append([]string(nil), supporting...),
		HistoricalWeight:    defaultWeight,
		UpdatedAt:           timeNow(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Put(ctx, journal.KindPattern, p.ID, &p); err != nil {
		return types.PreferencePattern{}, err
	}
	s.putPattern(&p)
	return clonePattern(&p), nil
}

// UpdateConfidence sets a pattern's confidence, clamped to [0, 1].
func (s *Store) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.patterns[id]
	if !ok {
		return types.NotFound("preference pattern", id)
	}
	next := clonePattern(cur)
	next.Confidence = confidence
	next.UpdatedAt = timeNow()
	if err := s.journal.Put(ctx, journal.KindPattern, id, &next); err != nil {
		return err
	}
	s.patterns[id] = &next
	return nil
}

// putPattern installs p. Caller must hold the write lock.
func (s *Store) putPattern(p *types.PreferencePattern) {
	if _, ok := s.patterns[p.ID]; !ok {
		s.patternOrder = append(s.patternOrder, p.ID)
	}
	s.patterns[p.ID] = p
}

func clonePattern(p *types.PreferencePattern) types.PreferencePattern {
	out := *p
	out.SupportingProposals = append([]string(nil), p.SupportingProposals...)
	return out
}

// Pattern retrieves a pattern by id.
func (s *Store) Pattern(id string) (types.PreferencePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[id]
	if !ok {
		return types.PreferencePattern{}, types.NotFound("preference pattern", id)
	}
	return clonePattern(p), nil
}

// Patterns returns every pattern in first-insertion order.
func (s *Store) Patterns() []types.PreferencePattern {
	return s.filterPatterns(func(*types.PreferencePattern) bool { return true })
}

// CategoryPatterns returns the patterns recorded for one category.
func (s *Store) CategoryPatterns(category string) []types.PreferencePattern {
	return s.filterPatterns(func(p *types.PreferencePattern) bool { return p.Category == category })
}

func (s *Store) filterPatterns(keep func(*types.PreferencePattern) bool) []types.PreferencePattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.PreferencePattern
	for _, id := range s.patternOrder {
		if p := s.patterns[id]; keep(p) {
			out = append(out, clonePattern(p))
		}
	}
	return out
}

// RecordVotes keeps the final vote distribution of a proposal.
func (s *Store) RecordVotes(ctx context.Context, proposalID string, votes map[string]int) error {
	if proposalID == "" {
		return &types.ValidationError{Field: "proposal_id"}
	}
	rec := votingRecord{ProposalID: proposalID, Votes: make(map[string]int, len(votes))}
	for k, v := range votes {
		rec.Votes[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Put(ctx, journal.KindVotingHistory, proposalID, &rec); err != nil {
		return err
	}
	s.putVotes(proposalID, rec.Votes)
	return nil
}

func (s *Store) putVotes(proposalID string, votes map[string]int) {
	if _, ok := s.votes[proposalID]; !ok {
		s.voteOrder = append(s.voteOrder, proposalID)
	}
	s.votes[proposalID] = votes
}

// VotingAnalysis summarizes recent final vote distributions.
type VotingAnalysis struct {
	// Analyzed is the number of proposals considered.
	Analyzed int `json:"analyzed"`
	// WinningChoices counts how often each choice received the most votes.
	WinningChoices map[string]int `json:"winning_choices"`
	// Controversial lists proposals whose winning choice took less than 60% of votes.
	Controversial []string `json:"controversial"`
}

// AnalyzeVotingPatterns inspects the last n recorded distributions
// (all of them when n <= 0).
func (s *Store) AnalyzeVotingPatterns(n int) VotingAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.voteOrder
	if n > 0 && len(ids) > n {
		ids = ids[len(ids)-n:]
	}

	out := VotingAnalysis{WinningChoices: make(map[string]int)}
	for _, id := range ids {
		votes := s.votes[id]
		total, best, bestChoice := 0, -1, ""
		choices := make([]string, 0, len(votes))
		for choice := range votes {
			choices = append(choices, choice)
		}
		sort.Strings(choices)
		for _, choice := range choices {
			total += votes[choice]
			if votes[choice] > best {
				best, bestChoice = votes[choice], choice
			}
		}
		if total == 0 {
			continue
		}
		out.Analyzed++
		out.WinningChoices[bestChoice]++
		if float64(best)/float64(total) < controversialShare {
			out.Controversial = append(out.Controversial, id)
		}
	}
	return out
}
