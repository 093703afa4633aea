package source

import (
	"strings"

	"github.com/entrhq/govdelegate/pkg/types"
)

// Reading is one raw sentiment observation. It carries either a numeric
// score in [-1, 1] or a label. An empty ProposalID applies the reading to
// every proposal in the same fetch.
type Reading struct {
	ProposalID string   `json:"proposal_id,omitempty" yaml:"proposal_id,omitempty"`
	Source     string   `json:"source" yaml:"source"`
	Score      *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Label      string   `json:"label,omitempty" yaml:"label,omitempty"`
	Support    int      `json:"support,omitempty" yaml:"support,omitempty"`
	Opposition int      `json:"opposition,omitempty" yaml:"opposition,omitempty"`
	Neutral    int      `json:"neutral,omitempty" yaml:"neutral,omitempty"`
	Topics     []string `json:"topics,omitempty" yaml:"topics,omitempty"`
}

// labelScores maps sentiment labels to scores.
var labelScores = map[string]float64{
	"strong_support":    0.8,
	"very_bullish":      0.8,
	"support":           0.5,
	"positive":          0.5,
	"bullish":           0.5,
	"moderate_support":  0.4,
	"neutral":           0,
	"question":          0,
	"concern":           -0.4,
	"risk":              -0.4,
	"negative":          -0.5,
	"bearish":           -0.5,
	"oppose":            -0.5,
	"strong_opposition": -0.8,
	"very_bearish":      -0.8,
}

// LabelScore returns the score for a sentiment label.
func LabelScore(label string) (float64, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	s, ok := labelScores[key]
	return s, ok
}

// ResolveScore resolves the reading's score, preferring the numeric score.
func (r Reading) ResolveScore() (float64, error) {
	if r.Score != nil {
		return *r.Score, nil
	}
	if r.Label == "" {
		return 0, &types.ValidationError{ID: r.ProposalID, Field: "score", Reason: "or label is required"}
	}
	s, ok := LabelScore(r.Label)
	if !ok {
		return 0, &types.ValidationError{ID: r.ProposalID, Field: "label", Reason: "is not a known sentiment label: " + r.Label}
	}
	return s, nil
}

// Sample converts the reading into a sentiment sample for proposalID.
func (r Reading) Sample(org, proposalID string) (types.SentimentSample, error) {
	score, err := r.ResolveScore()
	if err != nil {
		return types.SentimentSample{}, err
	}
	return types.SentimentSample{
		ProposalID:   proposalID,
		Organization: org,
		Source:       r.Source,
		Score:        score,
		Support:      r.Support,
		Opposition:   r.Opposition,
		Neutral:      r.Neutral,
		Topics:       append([]string(nil), r.Topics...),
	}, nil
}

// Float returns a pointer to v, for building readings with a score.
func Float(v float64) *float64 { return &v }
