package types

import "time"

// SentimentSample is one appended sentiment observation for a proposal.
type SentimentSample struct {
	ProposalID   string    `json:"proposal_id"`
	Organization string    `json:"organization,omitempty"`
	Source       string    `json:"source"`
	Score        float64   `json:"score"`
	Support      int       `json:"support"`
	Opposition   int       `json:"opposition"`
	Neutral      int       `json:"neutral"`
	Topics       []string  `json:"topics,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Consensus is the classification of an overall sentiment score.
type Consensus string

const (
	ConsensusStrongSupport    Consensus = "strong_support"
	ConsensusModerateSupport  Consensus = "moderate_support"
	ConsensusNeutral          Consensus = "neutral"
	ConsensusConcern          Consensus = "concern"
	ConsensusStrongOpposition Consensus = "strong_opposition"
)

// PreferencePattern is a learned value the delegate holds for a category.
type PreferencePattern struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	Description         string    `json:"description"`
	Confidence          float64   `json:"confidence"`
	SupportingProposals []string  `json:"supporting_proposals,omitempty"`
	HistoricalWeight    float64   `json:"historical_weight"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PreferencePrediction is the predicted stance for a category.
type PreferencePrediction string

const (
	PredictLikelySupport PreferencePrediction = "likely_support"
	PredictLikelyOppose  PreferencePrediction = "likely_oppose"
	PredictUncertain     PreferencePrediction = "uncertain"
)

// PredictionResult tags whether a recorded prediction matched the outcome.
type PredictionResult string

const (
	PredictionCorrect   PredictionResult = "correct"
	PredictionIncorrect PredictionResult = "incorrect"
)

// ProposalOutcome is the final result of a proposal vote.
type ProposalOutcome struct {
	ProposalID         string           `json:"proposal_id"`
	Organization       string           `json:"organization"`
	Passed             bool             `json:"passed"`
	FinalVotes         map[string]int   `json:"final_votes,omitempty"`
	ParticipationCount int              `json:"participation_count"`
	ParticipationRate  float64          `json:"participation_rate"`
	RecordedAt         time.Time        `json:"recorded_at"`
	PredictedVsActual  PredictionResult `json:"predicted_vs_actual,omitempty"`
}
