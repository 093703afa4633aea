package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/govdelegate/pkg/approval"
	"github.com/entrhq/govdelegate/pkg/chain"
	"github.com/entrhq/govdelegate/pkg/metrics"
	"github.com/entrhq/govdelegate/pkg/orchestrator"
	"github.com/entrhq/govdelegate/pkg/source"
	"github.com/entrhq/govdelegate/pkg/types"
)

func newTestServer(t *testing.T, agg source.Aggregator) (*Server, *orchestrator.Orchestrator, *chain.Ledger) {
	t.Helper()
	if agg == nil {
		fixture, err := source.LoadFixture("")
		require.NoError(t, err)
		agg = fixture
	}
	collector := metrics.NewCollector()
	ledger := chain.NewLedger("0xdelegate")
	o, err := orchestrator.New(
		orchestrator.Deps{Aggregator: agg, Chain: ledger},
		orchestrator.WithEventEmitter(collector.Observe),
	)
	require.NoError(t, err)
	return New("127.0.0.1:0", o, WithMetrics(collector)), o, ledger
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCycleThenStatusAndReports(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/cycles/uniswap", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result orchestrator.CycleResult
	decode(t, rec, &result)
	assert.Equal(t, orchestrator.PhaseDone, result.Phase)
	assert.Equal(t, 2, result.ProposalsAnalyzed)

	rec = do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status orchestrator.Status
	decode(t, rec, &status)
	assert.Equal(t, 2, status.ProposalsStored)
	assert.Equal(t, 2, status.PendingVotes)

	rec = do(t, s, http.MethodGet, "/reports/UNI-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "## Proposal UNI-1")

	rec = do(t, s, http.MethodGet, "/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var export map[string]map[string]interface{}
	decode(t, rec, &export)
	assert.Contains(t, export, "UNI-1")
	assert.Contains(t, export, "UNI-2")

	rec = do(t, s, http.MethodGet, "/decisions/patterns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var patterns struct {
		Decisions struct {
			TotalDecisions int `json:"total_decisions"`
		} `json:"decisions"`
	}
	decode(t, rec, &patterns)
	assert.Equal(t, 2, patterns.Decisions.TotalDecisions)
}

func TestReportNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/reports/NOPE-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestApproveAndRejectPendingVotes(t *testing.T) {
	s, _, ledger := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/cycles/uniswap", "").Code)

	rec := do(t, s, http.MethodGet, "/votes/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []approval.PendingVote
	decode(t, rec, &pending)
	require.Len(t, pending, 2)

	rec = do(t, s, http.MethodPost, "/votes/pending/"+pending[0].ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ref types.VoteRef
	decode(t, rec, &ref)
	assert.Equal(t, pending[0].ProposalID, ref.ProposalID)
	assert.NotEmpty(t, ref.TxRef)
	assert.Equal(t, 1, ledger.Count())

	// approval ids and proposal ids are both accepted
	rec = do(t, s, http.MethodPost, "/votes/pending/"+pending[1].ProposalID+"/reject", `{"reason":"needs review"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodPost, "/votes/pending/"+pending[1].ID+"/reject", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/votes/pending/x/reject", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	decode(t, do(t, s, http.MethodGet, "/votes/pending", ""), &pending)
	assert.Empty(t, pending)
}

func TestRecordOutcomeAndTrends(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/cycles/uniswap", "").Code)

	rec := do(t, s, http.MethodPost, "/outcomes", `{
		"proposal_id": "UNI-1",
		"organization": "uniswap",
		"passed": true,
		"final_votes": {"For": 120, "Against": 40},
		"participation_count": 160,
		"total_eligible": 400
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var feedback orchestrator.FeedbackResult
	decode(t, rec, &feedback)
	assert.Equal(t, "treasury", feedback.Category)
	assert.InDelta(t, 0.65, feedback.SuccessRate, 1e-9)
	require.NotNil(t, feedback.Correct)

	rec = do(t, s, http.MethodGet, "/organizations/uniswap/trends?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trends struct {
		TotalOutcomes int     `json:"total_outcomes"`
		PassRate      float64 `json:"pass_rate"`
	}
	decode(t, rec, &trends)
	assert.Equal(t, 1, trends.TotalOutcomes)
	assert.Equal(t, 1.0, trends.PassRate)
}

func TestRecordOutcomeValidation(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/outcomes", `{"organization":"uniswap","passed":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/outcomes", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCycleIngestFailure(t *testing.T) {
	agg := source.AggregatorFunc(func(ctx context.Context, org string) (source.FetchResult, error) {
		return source.FetchResult{}, errors.New("connection refused")
	})
	s, _, _ := newTestServer(t, agg)

	rec := do(t, s, http.MethodPost, "/cycles/compound", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var result orchestrator.CycleResult
	decode(t, rec, &result)
	assert.Equal(t, orchestrator.PhaseFailed, result.Phase)
	assert.Contains(t, result.Error, "connection refused")

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `govdelegate_cycles_total{organization="compound",result="failed"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.NotFound("proposal", "X"), http.StatusNotFound},
		{&types.ValidationError{Field: "organization"}, http.StatusBadRequest},
		{types.SourceUnavailable("chain", errors.New("down")), http.StatusBadGateway},
		{fmt.Errorf("%w: aave", orchestrator.ErrCycleInProgress), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
