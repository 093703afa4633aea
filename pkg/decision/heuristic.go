package decision

import (
	"context"

	"github.com/entrhq/govdelegate/pkg/types"
)

const (
	supportThreshold       = 0.5
	sentimentConcernBelow  = -0.3
	preferenceConcernBelow = 0.3
)

// HeuristicBackend is a pure rule set over mean sentiment and mean
// preference. The same context always produces the same decision.
type HeuristicBackend struct{}

// Name identifies the backend in decisions and reports.
func (HeuristicBackend) Name() string { return "heuristic" }

// Decide applies, in order:
//  1. sentiment > 0.5 and preference > 0.5: first option, confidence 0.75, low risk
//  2. sentiment < -0.3 or preference < 0.3: last option, confidence 0.6, medium risk
//  3. otherwise: second option (or abstain), confidence 0.5, medium risk
func (h HeuristicBackend) Decide(_ context.Context, c Context) (types.VoteDecision, error) {
	sentiment := c.OverallSentiment()
	preference := c.PreferenceAlignment()

	d := types.VoteDecision{
		ProposalID: c.ProposalID,
		Alignment:  (sentiment + preference) / 2,
		Backend:    h.Name(),
	}

	switch {
	case sentiment > supportThreshold && preference > supportThreshold:
		d.Choice = firstOption(c.Options)
		d.Confidence = 0.75
		d.Risk = types.RiskLow
		d.PrimaryFactors = []string{"strong_community_support", "alignment_with_values"}
		d.SecondaryFactors = []string{"positive_expected_impact"}
	case sentiment < sentimentConcernBelow || preference < preferenceConcernBelow:
		d.Choice = lastOption(c.Options)
		d.Confidence = 0.6
		d.Risk = types.RiskMedium
		d.PrimaryFactors = []string{"community_concerns", "misalignment_with_preferences"}
		d.SecondaryFactors = []string{"potential_risks"}
	default:
		d.Choice = middleOption(c.Options)
		d.Confidence = 0.5
		d.Risk = types.RiskMedium
		d.PrimaryFactors = []string{"mixed_signals"}
		d.SecondaryFactors = []string{"requires_further_analysis"}
	}
	return d, nil
}

func firstOption(options []string) string {
	if len(options) == 0 {
		return types.ChoiceFor
	}
	return options[0]
}

func lastOption(options []string) string {
	if len(options) == 0 {
		return types.ChoiceAgainst
	}
	return options[len(options)-1]
}

func middleOption(options []string) string {
	if len(options) < 2 {
		return types.ChoiceAbstain
	}
	return options[1]
}
