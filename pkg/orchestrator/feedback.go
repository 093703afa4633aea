package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/govdelegate/pkg/approval"
	"github.com/entrhq/govdelegate/pkg/decision"
	"github.com/entrhq/govdelegate/pkg/memory/outcome"
	"github.com/entrhq/govdelegate/pkg/memory/preference"
	"github.com/entrhq/govdelegate/pkg/types"
)

// OutcomeReport is a finished proposal vote reported back to the delegate.
type OutcomeReport struct {
	ProposalID         string         `json:"proposal_id"`
	Organization       string         `json:"organization"`
	Passed             bool           `json:"passed"`
	FinalVotes         map[string]int `json:"final_votes,omitempty"`
	ParticipationCount int            `json:"participation_count"`
	TotalEligible      int            `json:"total_eligible"`
}

// FeedbackResult is what RecordOutcome learned.
type FeedbackResult struct {
	Outcome     types.ProposalOutcome `json:"outcome"`
	Category    string                `json:"category"`
	SuccessRate float64               `json:"success_rate"`
	Predicted   string                `json:"predicted,omitempty"`
	Correct     *bool                 `json:"correct,omitempty"`
	Accuracy    float64               `json:"accuracy"`
}

const (
	resultPassed = "passed"
	resultFailed = "failed"
)

// RecordOutcome feeds a final result back into memory: the outcome store,
// the category success rate, the voting history, the proposal status and,
// when the delegate decided on the proposal, its prediction accuracy.
func (o *Orchestrator) RecordOutcome(ctx context.Context, report OutcomeReport) (FeedbackResult, error) {
	category := types.DefaultCategory
	if p, err := o.proposals.Get(report.ProposalID); err == nil {
		category = p.Category
		if report.Organization == "" {
			report.Organization = p.Organization
		}
	}
	org := normalizeOrg(report.Organization)

	out, err := o.outcomes.RecordOutcome(ctx, outcome.Input{
		ProposalID:         report.ProposalID,
		Organization:       org,
		Passed:             report.Passed,
		FinalVotes:         report.FinalVotes,
		ParticipationCount: report.ParticipationCount,
		TotalEligible:      report.TotalEligible,
	})
	if err != nil {
		return FeedbackResult{}, err
	}

	fb := FeedbackResult{Outcome: out, Category: category}
	fb.SuccessRate, err = o.preferences.RecordOutcome(ctx, category, report.Passed)
	if err != nil {
		return fb, fmt.Errorf("record category outcome: %w", err)
	}
	if len(report.FinalVotes) > 0 {
		if err := o.preferences.RecordVotes(ctx, report.ProposalID, report.FinalVotes); err != nil {
			return fb, fmt.Errorf("record voting history: %w", err)
		}
	}
	if err := o.proposals.UpdateStatus(ctx, report.ProposalID, types.ProposalEnded); err != nil && !errors.Is(err, types.ErrNotFound) {
		return fb, fmt.Errorf("update proposal status: %w", err)
	}

	fb.Accuracy = o.outcomes.PredictionAccuracy(org)
	d, ok := o.engine.Last(report.ProposalID)
	if !ok {
		return fb, nil
	}

	actual := resultFailed
	if report.Passed {
		actual = resultPassed
	}
	fb.Predicted = predictedResult(d, o.choicesFor(report.ProposalID))
	correct, err := o.outcomes.RecordPrediction(ctx, report.ProposalID, fb.Predicted, actual)
	if err != nil {
		return fb, fmt.Errorf("record prediction: %w", err)
	}
	fb.Correct = &correct
	fb.Accuracy = o.outcomes.PredictionAccuracy(org)

	o.logger.Infof("outcome %s: predicted %s, actual %s, accuracy %.2f", report.ProposalID, fb.Predicted, actual, fb.Accuracy)
	o.emit(types.NewPredictionRecordedEvent(org, report.ProposalID, correct, fb.Accuracy))
	return fb, nil
}

func (o *Orchestrator) choicesFor(proposalID string) []string {
	p, err := o.proposals.Get(proposalID)
	if err != nil {
		return nil
	}
	return p.Choices
}

// predictedResult maps a decision to the result it predicts: voting for
// the first option predicts the proposal passes.
func predictedResult(d types.VoteDecision, choices []string) string {
	first := types.ChoiceFor
	if len(choices) > 0 {
		first = choices[0]
	}
	if strings.EqualFold(d.Choice, first) {
		return resultPassed
	}
	return resultFailed
}

// PendingVotes returns votes waiting for approval.
func (o *Orchestrator) PendingVotes() []approval.PendingVote {
	return o.queue.Pending()
}

// ApproveVote casts a queued vote. id is an approval id or a proposal id.
func (o *Orchestrator) ApproveVote(ctx context.Context, id string) (types.VoteRef, error) {
	castCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	defer cancel()

	ref, err := o.queue.Approve(castCtx, id)
	if err != nil {
		return types.VoteRef{}, err
	}
	o.votesCast.Add(1)
	o.logger.Infof("approved vote %s on %s (%s)", ref.Choice, ref.ProposalID, ref.TxRef)
	return ref, nil
}

// RejectVote drops a queued vote.
func (o *Orchestrator) RejectVote(id, reason string) error {
	if err := o.queue.Reject(id, reason); err != nil {
		return err
	}
	o.logger.Infof("rejected queued vote %s: %s", id, reason)
	return nil
}

// AwaitApproval blocks until a queued vote is approved or rejected, or
// the approval timeout passes.
func (o *Orchestrator) AwaitApproval(ctx context.Context, id string) (approval.Resolution, error) {
	return o.queue.Await(ctx, id)
}

// RegisterIdentity registers the delegate on the chain and verifies it.
func (o *Orchestrator) RegisterIdentity(ctx context.Context, address, name, agentID string) (string, error) {
	castCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	defer cancel()

	txRef, err := o.chain.RegisterDelegate(castCtx, address, name, agentID)
	if err != nil {
		return "", types.SourceUnavailable("chain", err)
	}
	ok, err := o.chain.Verify(castCtx, address)
	if err != nil {
		return txRef, types.SourceUnavailable("chain", err)
	}
	if !ok {
		return txRef, fmt.Errorf("delegate %s not verified after registration", address)
	}
	o.logger.Infof("registered delegate %s as %s (%s)", name, address, txRef)
	return txRef, nil
}

// SeedPreference records a value the delegate holds before any outcome
// has been observed.
func (o *Orchestrator) SeedPreference(ctx context.Context, name, category, description string, confidence float64) (types.PreferencePattern, error) {
	p, err := o.preferences.RecordValue(ctx, name, category, description, nil)
	if err != nil {
		return types.PreferencePattern{}, err
	}
	if err := o.preferences.UpdateConfidence(ctx, p.ID, confidence); err != nil {
		return types.PreferencePattern{}, err
	}
	return o.preferences.Pattern(p.ID)
}

// DecisionPatterns summarizes the decision history.
func (o *Orchestrator) DecisionPatterns() decision.Patterns {
	return o.engine.AnalyzePatterns()
}

// VotingPatterns analyzes the last n recorded vote distributions.
func (o *Orchestrator) VotingPatterns(n int) preference.VotingAnalysis {
	return o.preferences.AnalyzeVotingPatterns(n)
}

// Trends summarizes an organization's recent outcomes.
func (o *Orchestrator) Trends(org string, n int) outcome.Trends {
	return o.outcomes.Trends(normalizeOrg(org), n)
}
