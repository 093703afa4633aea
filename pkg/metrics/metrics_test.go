package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/govdelegate/pkg/types"
)

func TestObserveCycles(t *testing.T) {
	c := NewCollector()

	c.Observe(types.NewCycleCompletedEvent("c1", "aave", 2, 0, 1500*time.Millisecond))
	c.Observe(types.NewCycleCompletedEvent("c2", "aave", 1, 1, time.Second))
	c.Observe(types.NewCycleFailedEvent("c3", "aave", errors.New("down")))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues("aave", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("aave", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.cycleDuration))
}

func TestObserveDecisionsAndVotes(t *testing.T) {
	c := NewCollector()
	d := types.VoteDecision{ProposalID: "UNI-1", Choice: "For", Confidence: 0.75, Risk: types.RiskLow}

	c.Observe(types.NewDecisionMadeEvent("c1", "uniswap", d))
	c.Observe(types.NewVoteQueuedEvent("a1", "uniswap", d))
	c.Observe(types.NewVoteApprovedEvent("a1", "uniswap", "UNI-1"))
	c.Observe(types.NewVoteCastEvent("uniswap", types.VoteRef{ProposalID: "UNI-1"}))
	c.Observe(types.NewVoteRejectedEvent("a2", "uniswap", "UNI-2", "no"))
	c.Observe(types.NewApprovalTimeoutEvent("a3", "uniswap", "UNI-3"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("uniswap", "low")))
	for _, state := range []string{"queued", "approved", "cast", "rejected", "timeout"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(c.votes.WithLabelValues("uniswap", state)), state)
	}
}

func TestObserveErrorsAndAccuracy(t *testing.T) {
	c := NewCollector()

	c.Observe(types.NewProposalRejectedEvent("c1", "aave", "AAVE-9", "INGEST", &types.ValidationError{Field: "title"}))
	c.Observe(types.NewPredictionRecordedEvent("aave", "AAVE-1", true, 0.6))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.proposalErrors.WithLabelValues("aave", "INGEST", "validation")))
	assert.Equal(t, 0.6, testutil.ToFloat64(c.predictionAccuracy.WithLabelValues("aave")))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.Observe(types.NewCycleFailedEvent("c1", "compound", errors.New("down")))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `govdelegate_cycles_total{organization="compound",result="failed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
