package sentiment

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/types"
)

func sample(id, source string, score float64) types.SentimentSample {
	return types.SentimentSample{ProposalID: id, Source: source, Score: score}
}

func TestAggregateWeightsEverySample(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "forum", Score: 0.8, Support: 10, Opposition: 2}))
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "forum", Score: 0.4, Support: 5, Opposition: 1}))
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "twitter", Score: -0.2, Support: 1, Opposition: 4}))

	agg := s.Aggregate("P")
	assert.Equal(t, 3, agg.TotalEntries)
	assert.InDelta(t, 0.6, agg.Sources["forum"].MeanScore, 1e-9)
	assert.Equal(t, 15, agg.Sources["forum"].Support)
	assert.Equal(t, 3, agg.Sources["forum"].Opposition)
	assert.InDelta(t, -0.2, agg.Sources["twitter"].MeanScore, 1e-9)
	// (0.8 + 0.4 - 0.2) / 3, not the mean of the two source means.
	assert.InDelta(t, 1.0/3.0, agg.OverallScore, 1e-9)

	snap := agg.Snapshot()
	assert.Len(t, snap, 2)
	assert.InDelta(t, 0.6, snap["forum"], 1e-9)
	assert.InDelta(t, -0.2, snap["twitter"], 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	s := NewStore()
	agg := s.Aggregate("missing")
	assert.Equal(t, 0, agg.TotalEntries)
	assert.Empty(t, agg.Sources)
	assert.Equal(t, types.ConsensusNeutral, s.Consensus("missing"))
	assert.Empty(t, s.Trend("missing"))
}

func TestTrendKeepsRecordingOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, v := range []float64{0.5, -0.1, 0.9, 2.0} {
		require.NoError(t, s.Record(ctx, sample("P", "forum", v)))
	}
	assert.Equal(t, []float64{0.5, -0.1, 0.9, 1.0}, s.Trend("P"), "scores are clamped to [-1,1]")
}

func TestClassifyThresholdsAreStrict(t *testing.T) {
	tests := []struct {
		score float64
		want  types.Consensus
	}{
		{0.61, types.ConsensusStrongSupport},
		{0.6, types.ConsensusModerateSupport},
		{0.21, types.ConsensusModerateSupport},
		{0.2, types.ConsensusNeutral},
		{-0.19, types.ConsensusNeutral},
		{-0.2, types.ConsensusConcern},
		{-0.59, types.ConsensusConcern},
		{-0.6, types.ConsensusStrongOpposition},
		{-1, types.ConsensusStrongOpposition},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

func TestConsensusFromSamples(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Record(ctx, sample("P", "forum", 0.7)))
	require.NoError(t, s.Record(ctx, sample("P", "discord", 0.7)))
	assert.Equal(t, types.ConsensusStrongSupport, s.Consensus("P"))
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	assert.Error(t, s.Record(ctx, sample("", "forum", 0.1)))
	assert.Error(t, s.Record(ctx, sample("P", "", 0.1)))
	assert.Equal(t, 0, s.Count())
}

func TestTopTopics(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "forum", Topics: []string{"fees", "treasury"}}))
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "twitter", Topics: []string{"fees", "governance"}}))

	top := s.TopTopics("P", 2)
	require.Len(t, top, 2)
	assert.Equal(t, TopicCount{Topic: "fees", Mentions: 2}, top[0])
	assert.Equal(t, "governance", top[1].Topic)
}

func TestConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Record(ctx, sample("P", "forum", 0.1))
			_ = s.Aggregate("P")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.Count())
	assert.Len(t, s.Trend("P"), 100)
}

func TestRestoreReplaysSamples(t *testing.T) {
	ctx := context.Background()
	j, err := journal.OpenSQLite(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithJournal(j))
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "forum", Score: 0.3, RecordedAt: at}))
	require.NoError(t, s.Record(ctx, types.SentimentSample{ProposalID: "P", Source: "forum", Score: -0.4, RecordedAt: at.Add(time.Hour)}))

	restored := NewStore(WithJournal(j))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, []float64{0.3, -0.4}, restored.Trend("P"))
	assert.Equal(t, 2, restored.Count())
	assert.True(t, restored.Aggregate("P").LastUpdated.Equal(at.Add(time.Hour)))
}
