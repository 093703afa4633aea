package orchestrator

import (
	"context"
	"errors"

	"github.com/entrhq/govdelegate/pkg/justification"
	"github.com/entrhq/govdelegate/pkg/types"
)

// Status is a point-in-time view of the delegate's memory and votes.
type Status struct {
	ProposalsStored     int     `json:"proposals_stored"`
	SentimentEntries    int     `json:"sentiment_entries"`
	OutcomesRecorded    int     `json:"outcomes_recorded"`
	VotesCast           int     `json:"votes_cast"`
	PendingVotes        int     `json:"pending_votes"`
	PredictionAccuracy  float64 `json:"prediction_accuracy"`
	DecisionsMade       int     `json:"decisions_made"`
	Justifications      int     `json:"justifications"`
	AutonomousVoting    bool    `json:"autonomous_voting"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	DecisionBackend     string  `json:"decision_backend"`
}

// Status reports counts across the stores.
func (o *Orchestrator) Status() Status {
	return Status{
		ProposalsStored:     o.proposals.Count(),
		SentimentEntries:    o.sentiment.Count(),
		OutcomesRecorded:    o.outcomes.Count(),
		VotesCast:           int(o.votesCast.Load()),
		PendingVotes:        o.queue.Len(),
		PredictionAccuracy:  o.outcomes.OverallAccuracy(),
		DecisionsMade:       len(o.engine.History()),
		Justifications:      len(o.justifications.List()),
		AutonomousVoting:    o.autonomous,
		ConfidenceThreshold: o.confidenceThreshold,
		DecisionBackend:     o.engine.Backend().Name(),
	}
}

// Report renders the justification report for a proposal, looking in the
// builder's registry first and then in the archive.
func (o *Orchestrator) Report(ctx context.Context, proposalID string) (string, error) {
	report, err := o.justifications.Report(proposalID)
	if err == nil || !errors.Is(err, types.ErrNotFound) || o.archive == nil {
		return report, err
	}

	entry, archiveErr := o.archive.FindByProposal(ctx, proposalID)
	if archiveErr != nil {
		return "", archiveErr
	}
	return entry.Report, nil
}

// ExportJustifications renders every justification built this session.
func (o *Orchestrator) ExportJustifications() ([]byte, error) {
	return o.justifications.ExportJSON()
}

// Archive returns the justification archive, nil when none is configured.
func (o *Orchestrator) Archive() *justification.Archive { return o.archive }
