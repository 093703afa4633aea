package preference

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/types"
)

func TestRecordOutcomeMovingAverage(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	assert.Equal(t, DefaultRate, s.SuccessRate("treasury"))

	rate, err := s.RecordOutcome(ctx, "treasury", true)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, rate, 1e-9)

	rate, err = s.RecordOutcome(ctx, "treasury", true)
	require.NoError(t, err)
	assert.InDelta(t, 0.755, rate, 1e-9)

	rate, err = s.RecordOutcome(ctx, "treasury", false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5285, rate, 1e-9)
	assert.InDelta(t, 0.5285, s.SuccessRate("treasury"), 1e-9)
}

func TestRetentionIsConfigurable(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithRetention(0.5))
	rate, err := s.RecordOutcome(ctx, "risk", true)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, rate, 1e-9)

	assert.Equal(t, DefaultRetention, NewStore(WithRetention(1.5)).Retention())
}

func TestPredict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	assert.Equal(t, types.PredictUncertain, s.Predict("unseen"))

	for i := 0; i < 3; i++ {
		_, err := s.RecordOutcome(ctx, "growth", true)
		require.NoError(t, err)
	}
	assert.Equal(t, types.PredictLikelySupport, s.Predict("growth"))

	for i := 0; i < 3; i++ {
		_, err := s.RecordOutcome(ctx, "fees", false)
		require.NoError(t, err)
	}
	assert.Equal(t, types.PredictLikelyOppose, s.Predict("fees"))
}

func TestRecordValueAndConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	p, err := s.RecordValue(ctx, "decentralization", "governance", "Prefers wider token distribution", []string{"UNI-1"})
	require.NoError(t, err)
	assert.Equal(t, "preference_governance_decentralization", p.ID)
	assert.Equal(t, 0.5, p.Confidence)
	assert.Equal(t, 0.5, p.HistoricalWeight)

	require.NoError(t, s.UpdateConfidence(ctx, p.ID, 1.7))
	got, err := s.Pattern(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)

	require.NoError(t, s.UpdateConfidence(ctx, p.ID, -0.3))
	got, _ = s.Pattern(p.ID)
	assert.Equal(t, 0.0, got.Confidence)

	assert.ErrorIs(t, s.UpdateConfidence(ctx, "missing", 0.4), types.ErrNotFound)

	_, err = s.RecordValue(ctx, "safety", "risk", "", nil)
	require.NoError(t, err)
	assert.Len(t, s.Patterns(), 2)
	assert.Len(t, s.CategoryPatterns("risk"), 1)
}

func TestRecordValueUpsertResetsConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	p, err := s.RecordValue(ctx, "safety", "risk", "v1", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateConfidence(ctx, p.ID, 0.9))

	_, err = s.RecordValue(ctx, "safety", "risk", "v2", nil)
	require.NoError(t, err)
	got, _ := s.Pattern(p.ID)
	assert.Equal(t, "v2", got.Description)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Len(t, s.Patterns(), 1)
}

func TestAnalyzeVotingPatterns(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.RecordVotes(ctx, "UNI-1", map[string]int{"For": 90, "Against": 10}))
	require.NoError(t, s.RecordVotes(ctx, "UNI-2", map[string]int{"For": 55, "Against": 45}))
	require.NoError(t, s.RecordVotes(ctx, "UNI-3", map[string]int{"Against": 70, "For": 30}))

	all := s.AnalyzeVotingPatterns(0)
	assert.Equal(t, 3, all.Analyzed)
	assert.Equal(t, 2, all.WinningChoices["For"])
	assert.Equal(t, 1, all.WinningChoices["Against"])
	assert.Equal(t, []string{"UNI-2"}, all.Controversial)

	recent := s.AnalyzeVotingPatterns(1)
	assert.Equal(t, 1, recent.Analyzed)
	assert.Empty(t, recent.Controversial)
}

func TestConcurrentOutcomesDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordOutcome(ctx, "treasury", true)
		}()
	}
	wg.Wait()

	// Twenty sequential passes from 0.5: 1 - 0.5*0.7^20.
	expected := 1.0
	decay := 0.5
	for i := 0; i < 20; i++ {
		decay *= 0.7
	}
	expected -= decay
	assert.InDelta(t, expected, s.SuccessRate("treasury"), 1e-9)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	j, err := journal.OpenSQLite(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	defer j.Close()

	s := NewStore(WithJournal(j))
	_, err = s.RecordOutcome(ctx, "treasury", true)
	require.NoError(t, err)
	p, err := s.RecordValue(ctx, "safety", "risk", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateConfidence(ctx, p.ID, 0.8))
	require.NoError(t, s.RecordVotes(ctx, "UNI-1", map[string]int{"For": 1}))

	restored := NewStore(WithJournal(j))
	require.NoError(t, restored.Restore(ctx))
	assert.InDelta(t, 0.65, restored.SuccessRate("treasury"), 1e-9)
	got, err := restored.Pattern(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, 1, restored.AnalyzeVotingPatterns(0).Analyzed)
}
