package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/govdelegate/pkg/chain"
	"github.com/entrhq/govdelegate/pkg/justification"
	"github.com/entrhq/govdelegate/pkg/source"
	"github.com/entrhq/govdelegate/pkg/types"
)

// mockEventEmitter captures emitted events for testing
type mockEventEmitter struct {
	events []*types.Event
	mu     sync.Mutex
}

func (m *mockEventEmitter) emit(event *types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockEventEmitter) count(t types.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) RegisterDelegate(ctx context.Context, address, name, agentID string) (string, error) {
	args := m.Called(ctx, address, name, agentID)
	return args.String(0), args.Error(1)
}

func (m *mockChain) Verify(ctx context.Context, address string) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *mockChain) CastVote(ctx context.Context, proposalID, choice, contentHash string) (chain.CastResult, error) {
	args := m.Called(ctx, proposalID, choice, contentHash)
	return args.Get(0).(chain.CastResult), args.Error(1)
}

func fixture(t *testing.T) *source.FixtureAggregator {
	t.Helper()
	agg, err := source.LoadFixture("")
	require.NoError(t, err)
	return agg
}

func newTestOrchestrator(t *testing.T, agg source.Aggregator, c chain.Chain, opts ...Option) (*Orchestrator, *mockEventEmitter) {
	t.Helper()
	emitter := &mockEventEmitter{}
	opts = append([]Option{WithEventEmitter(emitter.emit)}, opts...)
	o, err := New(Deps{Aggregator: agg, Chain: c}, opts...)
	require.NoError(t, err)
	return o, emitter
}

func proposals(n int) []types.Proposal {
	out := make([]types.Proposal, n)
	for i := range out {
		out[i] = types.Proposal{
			ID:      fmt.Sprintf("P-%d", i+1),
			Title:   fmt.Sprintf("Proposal %d", i+1),
			Body:    "body",
			Choices: []string{"For", "Against"},
		}
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Chain: chain.NewLedger("0xabc")})
	assert.Error(t, err)

	_, err = New(Deps{Aggregator: fixture(t)})
	assert.Error(t, err)
}

func TestRunCycleQueuesWithoutAutonomousVoting(t *testing.T) {
	ledger := chain.NewLedger("0xabc")
	o, emitter := newTestOrchestrator(t, fixture(t), ledger)

	res, err := o.RunCycle(context.Background(), "Uniswap")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, "uniswap", res.Organization)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 2, res.ProposalsFetched)
	assert.Equal(t, 2, res.ProposalsAnalyzed)
	assert.Equal(t, 2, res.Decisions)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Votes)
	assert.Len(t, res.Queued, 2)
	assert.Equal(t, 0, ledger.Count())

	// Neutral preferences keep UNI-1 out of the strong-support rule.
	require.Len(t, res.Proposals, 2)
	assert.Equal(t, "Against", res.Proposals[0].Decision.Choice)
	assert.NotEmpty(t, res.Proposals[0].ContentHash)

	status := o.Status()
	assert.Equal(t, 2, status.ProposalsStored)
	assert.Equal(t, 2, status.PendingVotes)
	assert.Equal(t, 0, status.VotesCast)
	assert.Equal(t, 2, status.DecisionsMade)
	assert.Equal(t, "heuristic", status.DecisionBackend)
	// forum + twitter + discord for each proposal
	assert.Equal(t, 6, status.SentimentEntries)

	assert.Equal(t, 1, emitter.count(types.EventTypeCycleStarted))
	assert.Equal(t, 2, emitter.count(types.EventTypeDecisionMade))
	assert.Equal(t, 2, emitter.count(types.EventTypeJustificationBuilt))
	assert.Equal(t, 2, emitter.count(types.EventTypeVoteQueued))
	assert.Equal(t, 1, emitter.count(types.EventTypeCycleCompleted))

	stored, err := o.Proposals().Get("UNI-1")
	require.NoError(t, err)
	assert.NotContains(t, stored.Body, "<h2>")
	assert.NotContains(t, stored.Body, "alert")
	assert.Contains(t, stored.ReasoningPoints, "mixed_signals")
}

func TestRunCycleCastsConfidentVotes(t *testing.T) {
	ledger := chain.NewLedger("0xabc")
	o, emitter := newTestOrchestrator(t, fixture(t), ledger,
		WithAutonomousVoting(true),
		WithConfidenceThreshold(0.6),
	)
	_, err := o.SeedPreference(context.Background(), "liquidity_growth", "treasury", "Favors liquidity programs", 0.9)
	require.NoError(t, err)

	res, err := o.RunCycle(context.Background(), "uniswap")
	require.NoError(t, err)

	require.Len(t, res.Votes, 1)
	vote := res.Votes[0]
	assert.Equal(t, "UNI-1", vote.ProposalID)
	assert.Equal(t, "For", vote.Choice)
	assert.True(t, vote.Pending)
	assert.Equal(t, res.Proposals[0].ContentHash, vote.ContentHash)
	assert.True(t, res.Proposals[0].Cast)

	// UNI-2 has mixed signals and falls under the threshold.
	assert.Len(t, res.Queued, 1)
	assert.Equal(t, res.Queued[0], res.Proposals[1].ApprovalID)

	assert.Equal(t, 1, ledger.Count())
	assert.Equal(t, 1, o.Status().VotesCast)
	assert.Equal(t, 1, emitter.count(types.EventTypeVoteCast))
}

func TestRunCycleIngestFailure(t *testing.T) {
	agg := source.AggregatorFunc(func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{}, errors.New("connection refused")
	})
	dir := t.TempDir()
	o, emitter := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"), WithArtifacts(NewArtifactWriter(dir)))

	res, err := o.RunCycle(context.Background(), "aave")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSourceUnavailable))
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, 0, o.Status().ProposalsStored)
	assert.Equal(t, 1, emitter.count(types.EventTypeCycleFailed))
	assert.Equal(t, 0, emitter.count(types.EventTypeCycleCompleted))

	raw, readErr := os.ReadFile(filepath.Join(NewArtifactWriter(dir).Dir(&res), "summary.md"))
	require.NoError(t, readErr)
	assert.Contains(t, string(raw), "connection refused")
}

func TestRunCycleFetchTimeout(t *testing.T) {
	agg := source.AggregatorFunc(func(ctx context.Context, _ string) (source.FetchResult, error) {
		<-ctx.Done()
		return source.FetchResult{}, ctx.Err()
	})
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"), WithTimeouts(10*time.Millisecond, 0))

	res, err := o.RunCycle(context.Background(), "aave")
	assert.True(t, errors.Is(err, types.ErrSourceUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, PhaseFailed, res.Phase)
}

func TestRunCycleRejectsInvalidProposals(t *testing.T) {
	ps := proposals(2)
	ps[0].Title = ""
	agg := source.AggregatorFunc(func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{Proposals: ps}, nil
	})
	o, emitter := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))

	res, err := o.RunCycle(context.Background(), "dao")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, 2, res.ProposalsFetched)
	assert.Equal(t, 1, res.ProposalsAnalyzed)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "P-1", res.Errors[0].ProposalID)
	assert.Equal(t, PhaseIngest, res.Errors[0].Phase)
	assert.Equal(t, types.KindValidation, res.Errors[0].Kind)
	assert.Equal(t, 1, emitter.count(types.EventTypeProposalRejected))

	_, err = o.Proposals().Get("P-1")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRunCycleAnalyzesAtMostThreeProposals(t *testing.T) {
	agg := source.AggregatorFunc(func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{Proposals: proposals(5)}, nil
	})
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))

	res, err := o.RunCycle(context.Background(), "dao")
	require.NoError(t, err)
	assert.Equal(t, 5, res.ProposalsFetched)
	assert.Equal(t, MaxProposalsPerCycle, res.ProposalsAnalyzed)
	assert.Equal(t, 5, o.Status().ProposalsStored)

	ids := make([]string, 0, len(res.Proposals))
	for _, p := range res.Proposals {
		ids = append(ids, p.ProposalID)
	}
	assert.Equal(t, []string{"P-1", "P-2", "P-3"}, ids)
}

func TestRunCycleWindowCountsInvalidProposals(t *testing.T) {
	ps := proposals(5)
	ps[0].Title = ""
	agg := source.AggregatorFunc(func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{Proposals: ps}, nil
	})
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))

	res, err := o.RunCycle(context.Background(), "dao")
	require.NoError(t, err)
	assert.Equal(t, 5, res.ProposalsFetched)
	assert.Equal(t, 2, res.ProposalsAnalyzed)
	assert.Equal(t, 4, o.Status().ProposalsStored)

	ids := make([]string, 0, len(res.Proposals))
	for _, p := range res.Proposals {
		ids = append(ids, p.ProposalID)
	}
	assert.Equal(t, []string{"P-2", "P-3"}, ids)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "P-1", res.Errors[0].ProposalID)
	assert.Equal(t, PhaseIngest, res.Errors[0].Phase)
}

func TestRunCycleIgnoresFilteredSources(t *testing.T) {
	filter, err := source.NewSourceFilter(nil, []string{"twit*"})
	require.NoError(t, err)
	o, _ := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"), WithSourceFilter(filter))

	_, err = o.RunCycle(context.Background(), "uniswap")
	require.NoError(t, err)

	agg := o.Sentiment().Aggregate("UNI-1")
	assert.Contains(t, agg.Sources, "forum")
	assert.Contains(t, agg.Sources, "discord")
	assert.NotContains(t, agg.Sources, "twitter")
}

func TestRunCycleCastFailureIsPerProposal(t *testing.T) {
	c := &mockChain{}
	c.On("CastVote", mock.Anything, "P-1", mock.Anything, mock.Anything).
		Return(chain.CastResult{}, errors.New("rpc down"))
	c.On("CastVote", mock.Anything, "P-2", mock.Anything, mock.Anything).
		Return(chain.CastResult{TxRef: "0x02"}, nil)

	agg := source.AggregatorFunc(func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{Proposals: proposals(2)}, nil
	})
	o, _ := newTestOrchestrator(t, agg, c, WithAutonomousVoting(true))

	res, err := o.RunCycle(context.Background(), "dao")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PhaseCast, res.Errors[0].Phase)
	assert.Equal(t, types.KindSourceUnavailable, res.Errors[0].Kind)
	require.Len(t, res.Votes, 1)
	assert.Equal(t, "0x02", res.Votes[0].TxRef)
	assert.False(t, res.Votes[0].Pending)
	c.AssertExpectations(t)
}

type blockingAggregator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingAggregator) Fetch(ctx context.Context, _ string) (source.FetchResult, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return source.FetchResult{}, ctx.Err()
	}
	return source.FetchResult{}, nil
}

func TestRunCycleRefusesConcurrentCycleForSameOrganization(t *testing.T) {
	agg := &blockingAggregator{started: make(chan struct{}), release: make(chan struct{})}
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))

	done := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background(), "aave")
		done <- err
	}()
	<-agg.started

	_, err := o.RunCycle(context.Background(), "AAVE")
	assert.True(t, errors.Is(err, ErrCycleInProgress))

	close(agg.release)
	require.NoError(t, <-done)
}

func TestRunAll(t *testing.T) {
	o, _ := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"), WithConcurrency(2))

	results, err := o.RunAll(context.Background(), []string{"uniswap", "aave", "compound"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "uniswap", results[0].Organization)
	assert.Equal(t, "aave", results[1].Organization)
	assert.Equal(t, "compound", results[2].Organization)
	for _, r := range results {
		assert.Equal(t, PhaseDone, r.Phase)
	}
	assert.Equal(t, 5, o.Status().ProposalsStored)
}

func TestRunAllJoinsErrors(t *testing.T) {
	agg := source.AggregatorFunc(func(_ context.Context, org string) (source.FetchResult, error) {
		if org == "broken" {
			return source.FetchResult{}, errors.New("boom")
		}
		return source.FetchResult{Proposals: proposals(1)}, nil
	})
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))

	results, err := o.RunAll(context.Background(), []string{"ok", "broken"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSourceUnavailable))
	assert.Equal(t, PhaseDone, results[0].Phase)
	assert.Equal(t, PhaseFailed, results[1].Phase)
}

type failingRefresher struct {
	source.AggregatorFunc
}

func (failingRefresher) Refresh(context.Context, string, string) (types.Proposal, []source.Reading, error) {
	return types.Proposal{}, nil, errors.New("snapshot API down")
}

func TestRunCycleFallsBackToStoredProposal(t *testing.T) {
	agg := failingRefresher{AggregatorFunc: func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{Proposals: proposals(1)}, nil
	}}
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))

	res, err := o.RunCycle(context.Background(), "dao")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProposalsAnalyzed)
	assert.Empty(t, res.Errors)
}

func TestAnalyzeRejectsUnstoredProposalWhenRefreshFails(t *testing.T) {
	agg := failingRefresher{AggregatorFunc: func(context.Context, string) (source.FetchResult, error) {
		return source.FetchResult{}, nil
	}}
	o, _ := newTestOrchestrator(t, agg, chain.NewLedger("0xabc"))
	c := &cycle{o: o, result: &CycleResult{Organization: "dao"}}

	_, ok := c.analyze(context.Background(), proposals(1)[0])
	assert.False(t, ok)
	require.Len(t, c.result.Errors, 1)
	assert.Equal(t, "P-1", c.result.Errors[0].ProposalID)
	assert.Equal(t, PhaseAnalyze, c.result.Errors[0].Phase)
	assert.Contains(t, c.result.Errors[0].Message, "snapshot API down")
}

func TestRecordOutcomeClosesFeedbackLoop(t *testing.T) {
	o, emitter := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"))
	ctx := context.Background()

	_, err := o.RunCycle(ctx, "uniswap")
	require.NoError(t, err)

	// UNI-1 was decided "Against", so a passing result is a miss.
	fb, err := o.RecordOutcome(ctx, OutcomeReport{
		ProposalID:         "UNI-1",
		Passed:             true,
		FinalVotes:         map[string]int{"For": 800, "Against": 150},
		ParticipationCount: 950,
		TotalEligible:      2000,
	})
	require.NoError(t, err)

	assert.Equal(t, "uniswap", fb.Outcome.Organization)
	assert.InDelta(t, 0.475, fb.Outcome.ParticipationRate, 1e-9)
	assert.Equal(t, "treasury", fb.Category)
	assert.InDelta(t, 0.65, fb.SuccessRate, 1e-9)
	assert.Equal(t, "failed", fb.Predicted)
	require.NotNil(t, fb.Correct)
	assert.False(t, *fb.Correct)
	assert.InDelta(t, 0.4, fb.Accuracy, 1e-9)

	p, err := o.Proposals().Get("UNI-1")
	require.NoError(t, err)
	assert.Equal(t, types.ProposalEnded, p.Status)

	out, err := o.Outcomes().Get("UNI-1")
	require.NoError(t, err)
	assert.Equal(t, types.PredictionIncorrect, out.PredictedVsActual)

	assert.Equal(t, 1, o.VotingPatterns(0).Analyzed)
	assert.Equal(t, 1, o.Status().OutcomesRecorded)
	assert.Equal(t, 1, emitter.count(types.EventTypePredictionRecorded))
	assert.Equal(t, 1, o.Trends("Uniswap", 5).TotalOutcomes)
}

func TestRecordOutcomeWithoutDecision(t *testing.T) {
	o, emitter := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"))

	fb, err := o.RecordOutcome(context.Background(), OutcomeReport{ProposalID: "X-1", Organization: "dao", Passed: false})
	require.NoError(t, err)
	assert.Empty(t, fb.Predicted)
	assert.Nil(t, fb.Correct)
	assert.Equal(t, types.DefaultCategory, fb.Category)
	assert.Equal(t, 0, emitter.count(types.EventTypePredictionRecorded))

	_, err = o.RecordOutcome(context.Background(), OutcomeReport{ProposalID: "X-2"})
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestPredictedResult(t *testing.T) {
	tests := []struct {
		choice  string
		choices []string
		want    string
	}{
		{"For", []string{"For", "Against"}, "passed"},
		{"yae", []string{"YAE", "NAY"}, "passed"},
		{"Against", []string{"For", "Against"}, "failed"},
		{"for", nil, "passed"},
		{"abstain", nil, "failed"},
	}
	for _, tt := range tests {
		got := predictedResult(types.VoteDecision{Choice: tt.choice}, tt.choices)
		assert.Equal(t, tt.want, got, "choice %s", tt.choice)
	}
}

func TestApproveAndRejectQueuedVotes(t *testing.T) {
	ledger := chain.NewLedger("0xabc")
	o, _ := newTestOrchestrator(t, fixture(t), ledger)
	ctx := context.Background()

	_, err := o.RunCycle(ctx, "aave")
	require.NoError(t, err)
	require.Len(t, o.PendingVotes(), 2)

	ref, err := o.ApproveVote(ctx, "AAVE-1")
	require.NoError(t, err)
	assert.Equal(t, "AAVE-1", ref.ProposalID)
	assert.True(t, ref.Pending)
	assert.Equal(t, 1, ledger.Count())

	require.NoError(t, o.RejectVote("AAVE-2", "needs risk review"))
	assert.Empty(t, o.PendingVotes())
	assert.Equal(t, 1, o.Status().VotesCast)

	_, err = o.ApproveVote(ctx, "AAVE-2")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRegisterIdentity(t *testing.T) {
	ledger := chain.NewLedger("0xabc")
	o, _ := newTestOrchestrator(t, fixture(t), ledger)

	txRef, err := o.RegisterIdentity(context.Background(), "0xabc", "EternalGov", "agent-1")
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)

	c := &mockChain{}
	c.On("RegisterDelegate", mock.Anything, "0xdef", "gov", "a").Return("0x01", nil)
	c.On("Verify", mock.Anything, "0xdef").Return(false, nil)
	o, _ = newTestOrchestrator(t, fixture(t), c)
	_, err = o.RegisterIdentity(context.Background(), "0xdef", "gov", "a")
	assert.Error(t, err)
	c.AssertExpectations(t)
}

func TestReportFallsBackToArchive(t *testing.T) {
	dir := t.TempDir()
	archive, err := justification.NewArchive(dir)
	require.NoError(t, err)
	ctx := context.Background()

	o, _ := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"), WithArchive(archive))
	_, err = o.RunCycle(ctx, "compound")
	require.NoError(t, err)

	live, err := o.Report(ctx, "COMP-1")
	require.NoError(t, err)
	assert.Contains(t, live, "# Vote Justification Report")

	// a fresh process only has the archive
	restarted, _ := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"), WithArchive(archive))
	archived, err := restarted.Report(ctx, "COMP-1")
	require.NoError(t, err)
	assert.Contains(t, archived, "COMP-1")

	_, err = restarted.Report(ctx, "COMP-9")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// rerunning produces identical reasoning, which is already archived
	_, err = o.RunCycle(ctx, "compound")
	require.NoError(t, err)
	entries, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArtifactsWritten(t *testing.T) {
	dir := t.TempDir()
	w := NewArtifactWriter(dir)
	o, _ := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"), WithArtifacts(w))

	res, err := o.RunCycle(context.Background(), "uniswap")
	require.NoError(t, err)

	cycleDir := w.Dir(&res)
	assert.FileExists(t, filepath.Join(cycleDir, "cycle.json"))
	summary, err := os.ReadFile(filepath.Join(cycleDir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# Governance Cycle Summary")
	assert.Contains(t, string(summary), "UNI-1")
}

func TestScheduler(t *testing.T) {
	o, _ := newTestOrchestrator(t, fixture(t), chain.NewLedger("0xabc"))

	_, err := NewScheduler(o, "not a schedule", nil, nil)
	assert.Error(t, err)

	var got []CycleResult
	s, err := NewScheduler(o, "@every 1h", []string{"aave"}, func(results []CycleResult, err error) {
		assert.NoError(t, err)
		got = results
	})
	require.NoError(t, err)
	s.Start(context.Background())
	s.RunNow()
	s.Stop()

	require.Len(t, got, 1)
	assert.Equal(t, "aave", got[0].Organization)
}
