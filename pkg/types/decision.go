package types

import "time"

// Risk is the risk level attached to a vote decision.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Fallback choices used when a proposal carries no voting options.
const (
	ChoiceFor     = "for"
	ChoiceAgainst = "against"
	ChoiceAbstain = "abstain"
)

// VoteDecision is a recommended vote with its confidence and factors.
type VoteDecision struct {
	ProposalID       string    `json:"proposal_id"`
	Choice           string    `json:"choice"`
	Confidence       float64   `json:"confidence"`
	PrimaryFactors   []string  `json:"primary_factors"`
	SecondaryFactors []string  `json:"secondary_factors"`
	Alignment        float64   `json:"alignment"`
	Risk             Risk      `json:"risk"`
	ReasoningSummary string    `json:"reasoning_summary,omitempty"`
	Backend          string    `json:"backend,omitempty"`
	DecidedAt        time.Time `json:"decided_at"`
}

// VoteJustification is the auditable record produced for a decision.
type VoteJustification struct {
	ProposalID          string             `json:"proposal_id"`
	Choice              string             `json:"choice"`
	Confidence          float64            `json:"confidence"`
	ContentHash         string             `json:"content_hash"`
	Summary             string             `json:"summary"`
	DetailedReasoning   string             `json:"detailed_reasoning"`
	DataSources         map[string]string  `json:"data_sources"`
	SentimentSnapshot   map[string]float64 `json:"sentiment_snapshot"`
	PreferenceAlignment float64            `json:"preference_alignment"`
	Risk                Risk               `json:"risk"`
	TransparencyScore   float64            `json:"transparency_score"`
	Timestamp           time.Time          `json:"timestamp"`
}

// VoteRef identifies a vote submitted to the chain collaborator.
type VoteRef struct {
	ProposalID  string `json:"proposal_id"`
	Choice      string `json:"choice"`
	TxRef       string `json:"tx_ref"`
	Pending     bool   `json:"pending"`
	ContentHash string `json:"content_hash"`
}
