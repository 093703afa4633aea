// Package outcome holds final proposal results and the per-organization
// prediction accuracy learned from them.
package outcome

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

const (
	// DefaultRetention is the weight kept by the previous accuracy on each prediction.
	DefaultRetention = 0.8

	// DefaultAccuracy is the accuracy of an organization with no predictions.
	DefaultAccuracy = 0.5

	// DefaultPassRate is reported for organizations with no outcomes.
	DefaultPassRate = 0.5
)

// Input describes a finished proposal vote.
type Input struct {
	ProposalID         string         `json:"proposal_id"`
	Organization       string         `json:"organization"`
	Passed             bool           `json:"passed"`
	FinalVotes         map[string]int `json:"final_votes,omitempty"`
	ParticipationCount int            `json:"participation_count"`
	TotalEligible      int            `json:"total_eligible"`
}

type accuracyRecord struct {
	Organization string  `json:"organization"`
	Accuracy     float64 `json:"accuracy"`
}

// Store keeps one outcome per proposal id; recording again overwrites it.
type Store struct {
	outcomes  map[string]*types.ProposalOutcome
	order     []string
	accuracy  map[string]float64
	retention float64
	journal   journal.Journal
	mu        sync.RWMutex
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

// WithRetention sets the accuracy moving-average retention in (0, 1).
// Out-of-range values keep the default.
func WithRetention(r float64) Option {
	return func(s *Store) {
		if r > 0 && r < 1 {
			s.retention = r
		}
	}
}

// NewStore creates an empty outcome store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		outcomes:  make(map[string]*types.ProposalOutcome),
		accuracy:  make(map[string]float64),
		retention: DefaultRetention,
		journal:   journal.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads persisted outcomes and accuracies.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.journal.Load(ctx, journal.KindOutcome, func(_ string, payload []byte) error {
		var o types.ProposalOutcome
		if err := journal.Decode(payload, &o); err != nil {
			return err
		}
		s.put(&o)
		return nil
	})
	if err != nil {
		return err
	}
	return s.journal.Load(ctx, journal.KindAccuracy, func(_ string, payload []byte) error {
		var rec accuracyRecord
		if err := journal.Decode(payload, &rec); err != nil {
			return err
		}
		s.accuracy[rec.Organization] = rec.Accuracy
		return nil
	})
}

// RecordOutcome stores the result of a proposal, replacing any earlier record.
// The participation rate is count/eligible, or 0 when eligible is not positive.
func (s *Store) RecordOutcome(ctx context.Context, in Input) (types.ProposalOutcome, error) {
	if in.ProposalID == "" {
		return types.ProposalOutcome{}, &types.ValidationError{Field: "proposal_id"}
	}
	if in.Organization == "" {
		return types.ProposalOutcome{}, &types.ValidationError{ID: in.ProposalID, Field: "organization"}
	}

	rate := 0.0
	if in.TotalEligible > 0 {
		rate = float64(in.ParticipationCount) / float64(in.TotalEligible)
	}
	o := types.ProposalOutcome{
		ProposalID:         in.ProposalID,
		Organization:       in.Organization,
		Passed:             in.Passed,
		FinalVotes:         copyVotes(in.FinalVotes),
		ParticipationCount: in.ParticipationCount,
		ParticipationRate:  rate,
		RecordedAt:         timeNow(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Put(ctx, journal.KindOutcome, o.ProposalID, &o); err != nil {
		return types.ProposalOutcome{}, err
	}
	s.put(&o)
	return cloneOutcome(&o), nil
}

func (s *Store) put(o *types.ProposalOutcome) {
	if _, ok := s.outcomes[o.ProposalID]; !ok {
		s.order = append(s.order, o.ProposalID)
	}
	s.outcomes[o.ProposalID] = o
}

// RecordPrediction scores a prediction against the recorded outcome, tags the
// outcome correct or incorrect, and folds the result into the organization's
// accuracy exactly once. It returns types.ErrNotFound, changing nothing, when
// no outcome exists for the proposal.
func (s *Store) RecordPrediction(ctx context.Context, proposalID, predicted, actual string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.outcomes[proposalID]
	if !ok {
		return false, types.NotFound("outcome", proposalID)
	}

	correct := predicted == actual
	next := cloneOutcome(cur)
	next.PredictedVsActual = types.PredictionIncorrect
	obs := 0.0
	if correct {
		next.PredictedVsActual = types.PredictionCorrect
		obs = 1.0
	}

	acc, seen := s.accuracy[next.Organization]
	if !seen {
		acc = DefaultAccuracy
	}
	acc = acc*s.retention + obs*(1-s.retention)

	if err := s.journal.Put(ctx, journal.KindOutcome, proposalID, &next); err != nil {
		return false, err
	}
	rec := accuracyRecord{Organization: next.Organization, Accuracy: acc}
	if err := s.journal.Put(ctx, journal.KindAccuracy, next.Organization, &rec); err != nil {
		return false, err
	}
	s.outcomes[proposalID] = &next
	s.accuracy[next.Organization] = acc
	return correct, nil
}

// Get retrieves the outcome recorded for a proposal.
func (s *Store) Get(proposalID string) (types.ProposalOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outcomes[proposalID]
	if !ok {
		return types.ProposalOutcome{}, types.NotFound("outcome", proposalID)
	}
	return cloneOutcome(o), nil
}

// ByOrganization returns the organization's outcomes in recording order.
func (s *Store) ByOrganization(org string) []types.ProposalOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byOrg(org)
}

func (s *Store) byOrg(org string) []types.ProposalOutcome {
	var out []types.ProposalOutcome
	for _, id := range s.order {
		if o := s.outcomes[id]; o.Organization == org {
			out = append(out, cloneOutcome(o))
		}
	}
	return out
}

// PassRate is passed/total for the organization, DefaultPassRate when none.
func (s *Store) PassRate(org string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return passRate(s.byOrg(org))
}

func passRate(outcomes []types.ProposalOutcome) float64 {
	if len(outcomes) == 0 {
		return DefaultPassRate
	}
	passed := 0
	for _, o := range outcomes {
		if o.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(outcomes))
}

// AverageParticipation is the mean participation rate, 0 when none.
func (s *Store) AverageParticipation(org string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return averageParticipation(s.byOrg(org))
}

func averageParticipation(outcomes []types.ProposalOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		sum += o.ParticipationRate
	}
	return sum / float64(len(outcomes))
}

// PredictionAccuracy returns the organization's accuracy, DefaultAccuracy if unseen.
func (s *Store) PredictionAccuracy(org string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if acc, ok := s.accuracy[org]; ok {
		return acc
	}
	return DefaultAccuracy
}

// OverallAccuracy is the mean accuracy across tracked organizations,
// DefaultAccuracy when none are tracked.
func (s *Store) OverallAccuracy() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.accuracy) == 0 {
		return DefaultAccuracy
	}
	orgs := make([]string, 0, len(s.accuracy))
	for org := range s.accuracy {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	var sum float64
	for _, org := range orgs {
		sum += s.accuracy[org]
	}
	return sum / float64(len(orgs))
}

// Trends summarizes an organization's recent results.
type Trends struct {
	Organization         string                  `json:"organization"`
	TotalOutcomes        int                     `json:"total_outcomes"`
	PassRate             float64                 `json:"pass_rate"`
	AverageParticipation float64                 `json:"average_participation"`
	PredictionAccuracy   float64                 `json:"prediction_accuracy"`
	Recent               []types.ProposalOutcome `json:"recent"`
}

// Trends returns rates over all outcomes plus the last n (all when n <= 0).
func (s *Store) Trends(org string, n int) Trends {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byOrg(org)
	recent := all
	if n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	acc, ok := s.accuracy[org]
	if !ok {
		acc = DefaultAccuracy
	}
	return Trends{
		Organization:         org,
		TotalOutcomes:        len(all),
		PassRate:             passRate(all),
		AverageParticipation: averageParticipation(all),
		PredictionAccuracy:   acc,
		Recent:               recent,
	}
}

// Count returns the number of recorded outcomes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}

func copyVotes(v map[string]int) map[string]int {
	if v == nil {
		return nil
	}
	out := make(map[string]int, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

func cloneOutcome(o *types.ProposalOutcome) types.ProposalOutcome {
	out := *o
	out.FinalVotes = copyVotes(o.FinalVotes)
	return out
}
