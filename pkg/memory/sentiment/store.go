// Package sentiment holds the append-only sentiment memory layer.
package sentiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

// Consensus thresholds; comparisons are strict.
const (
	strongSupportAbove   = 0.6
	moderateSupportAbove = 0.2
	neutralAbove         = -0.2
	concernAbove         = -0.6
)

// Store appends sentiment samples per proposal. Samples are never
// overwritten or removed.
type Store struct {
	samples map[string][]types.SentimentSample
	total   int
	journal journal.Journal
	mu      sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithJournal persists every recorded sample through j.
func WithJournal(j journal.Journal) Option {
	return func(s *Store) {
		if j != nil {
			s.journal = j
		}
	}
}

// NewStore creates an empty sentiment store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		samples: make(map[string][]types.SentimentSample),
		journal: journal.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore replays persisted samples in recording order.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.journal.Replay(ctx, journal.KindSentiment, func(_ string, payload []byte) error {
		var sample types.SentimentSample
		if err := journal.Decode(payload, &sample); err != nil {
			return err
		}
		s.samples[sample.ProposalID] = append(s.samples[sample.ProposalID], sample)
		s.total++
		return nil
	})
}

// Record appends a sample. The score is clamped to [-1, 1].
func (s *Store) Record(ctx context.Context, sample types.SentimentSample) error {
	if sample.ProposalID == "" {
		return &types.ValidationError{Field: "proposal_id"}
	}
	if sample.Source == "" {
		return &types.ValidationError{ID: sample.ProposalID, Field: "source"}
	}
	sample.Score = clamp(sample.Score)
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = timeNow()
	}
	sample.Topics = append([]string(nil), sample.Topics...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Append(ctx, journal.KindSentiment, sample.ProposalID, &sample); err != nil {
		return err
	}
	s.samples[sample.ProposalID] = append(s.samples[sample.ProposalID], sample)
	s.total++
	return nil
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// SourceAggregate summarizes one source's samples for a proposal.
type SourceAggregate struct {
	Source     string  `json:"source"`
	MeanScore  float64 `json:"mean_score"`
	Support    int     `json:"support"`
	Opposition int     `json:"opposition"`
	Neutral    int     `json:"neutral"`
	Entries    int     `json:"entries"`
}

// Aggregate summarizes every sample recorded for a proposal.
type Aggregate struct {
	ProposalID   string                     `json:"proposal_id"`
	Sources      map[string]SourceAggregate `json:"sources"`
	OverallScore float64                    `json:"overall_score"`
	TotalEntries int                        `json:"total_entries"`
	LastUpdated  time.Time                  `json:"last_updated"`
}

// Snapshot returns the per-source mean scores.
func (a Aggregate) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(a.Sources))
	for name, src := range a.Sources {
		out[name] = src.MeanScore
	}
	return out
}

// Aggregate computes per-source means and an overall score. The overall
// score is the mean of every sample, so sources with more samples weigh more.
func (s *Store) Aggregate(proposalID string) Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := Aggregate{ProposalID: proposalID, Sources: make(map[string]SourceAggregate)}
	samples := s.samples[proposalID]
	if len(samples) == 0 {
		return agg
	}

	sums := make(map[string]float64)
	var total float64
	for _, sample := range samples {
		src := agg.Sources[sample.Source]
		src.Source = sample.Source
		src.Support += sample.Support
		src.Opposition += sample.Opposition
		src.Neutral += sample.Neutral
		src.Entries++
		agg.Sources[sample.Source] = src

		sums[sample.Source] += sample.Score
		total += sample.Score
		if sample.RecordedAt.After(agg.LastUpdated) {
			agg.LastUpdated = sample.RecordedAt
		}
	}
	for name, src := range agg.Sources {
		src.MeanScore = sums[name] / float64(src.Entries)
		agg.Sources[name] = src
	}
	agg.TotalEntries = len(samples)
	agg.OverallScore = total / float64(len(samples))
	return agg
}

// Trend returns the raw scores in recording order.
func (s *Store) Trend(proposalID string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.samples[proposalID]
	out := make([]float64, len(samples))
	for i, sample := range samples {
		out[i] = sample.Score
	}
	return out
}

// Consensus classifies the proposal's overall score. Proposals without
// samples are neutral.
func (s *Store) Consensus(proposalID string) types.Consensus {
	agg := s.Aggregate(proposalID)
	if agg.TotalEntries == 0 {
		return types.ConsensusNeutral
	}
	return Classify(agg.OverallScore)
}

// Classify maps an overall score to a consensus label.
func Classify(score float64) types.Consensus {
	switch {
	case score > strongSupportAbove:
		return types.ConsensusStrongSupport
	case score > moderateSupportAbove:
		return types.ConsensusModerateSupport
	case score > neutralAbove:
		return types.ConsensusNeutral
	case score > concernAbove:
		return types.ConsensusConcern
	default:
		return types.ConsensusStrongOpposition
	}
}

// TopicCount is how often a topic was mentioned across a proposal's samples.
type TopicCount struct {
	Topic    string `json:"topic"`
	Mentions int    `json:"mentions"`
}

// TopTopics returns up to limit topics by mention count, ties by name.
// A non-positive limit returns all topics.
func (s *Store) TopTopics(proposalID string, limit int) []TopicCount {
	s.mu.RLock()
	counts := make(map[string]int)
	for _, sample := range s.samples[proposalID] {
		for _, topic := range sample.Topics {
			counts[topic]++
		}
	}
	s.mu.RUnlock()

	out := make([]TopicCount, 0, len(counts))
	for topic, n := range counts {
		out = append(out, TopicCount{Topic: topic, Mentions: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Topic < out[j].Topic
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the total number of samples across all proposals.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// ProposalCount returns the number of proposals with at least one sample.
func (s *Store) ProposalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}
