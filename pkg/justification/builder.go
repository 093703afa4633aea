// Package justification builds the auditable record kept for every vote
// decision: a content hash of the reasoning, a transparency score and a
// rendered markdown report.
package justification

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

// hashLength is the number of hex characters kept from the SHA-256 digest.
const hashLength = 16

var detailKeywords = []string{"analyze", "consider", "evidence", "data", "pattern", "trend"}

// Hash returns the content hash of reasoning text. Empty text hashes fine.
func Hash(reasoning string) string {
	sum := sha256.Sum256([]byte(reasoning))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// TransparencyScore rates how well a reasoning text documents itself:
// a length tier, a data source tier and a bonus per detail keyword.
func TransparencyScore(reasoning string, dataSources map[string]string) float64 {
	var score float64

	switch n := utf8.RuneCountInString(reasoning); {
	case n > 1000:
		score += 0.3
	case n > 500:
		score += 0.2
	}

	switch n := len(dataSources); {
	case n >= 3:
		score += 0.4
	case n >= 2:
		score += 0.3
	case n >= 1:
		score += 0.2
	}

	lower := strings.ToLower(reasoning)
	found := 0
	for _, kw := range detailKeywords {
		if strings.Contains(lower, kw) {
			found++
		}
	}
	score += min(0.3, float64(found)*0.05)

	return max(0, min(1, score))
}

// Builder creates justifications and keeps the latest one per proposal.
type Builder struct {
	records map[string]types.VoteJustification
	order   []string
	mu      sync.RWMutex
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{records: make(map[string]types.VoteJustification)}
}

// Build assembles the justification for d and registers it under its
// proposal id, replacing any earlier one.
func (b *Builder) Build(d types.VoteDecision, reasoning string, sentiment map[string]float64, preferenceAlignment float64, dataSources map[string]string) types.VoteJustification {
	j := types.VoteJustification{
		ProposalID:          d.ProposalID,
		Choice:              d.Choice,
		Confidence:          d.Confidence,
		ContentHash:         Hash(reasoning),
		Summary:             summary(d, sentiment, preferenceAlignment),
		DetailedReasoning:   reasoning,
		DataSources:         copyStrings(dataSources),
		SentimentSnapshot:   copyScores(sentiment),
		PreferenceAlignment: preferenceAlignment,
		Risk:                d.Risk,
		TransparencyScore:   TransparencyScore(reasoning, dataSources),
		Timestamp:           timeNow(),
	}

	b.mu.Lock()
	if _, ok := b.records[j.ProposalID]; !ok {
		b.order = append(b.order, j.ProposalID)
	}
	b.records[j.ProposalID] = j
	b.mu.Unlock()

	return j
}

// Get returns the justification registered for a proposal.
func (b *Builder) Get(proposalID string) (types.VoteJustification, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	j, ok := b.records[proposalID]
	if !ok {
		return types.VoteJustification{}, types.NotFound("justification", proposalID)
	}
	return j, nil
}

// List returns every registered justification in first-built order.
func (b *Builder) List() []types.VoteJustification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.VoteJustification, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.records[id])
	}
	return out
}

// Report renders the markdown report for a proposal.
func (b *Builder) Report(proposalID string) (string, error) {
	j, err := b.Get(proposalID)
	if err != nil {
		return "", err
	}
	return Render(j), nil
}

// exportRecord is the per-proposal shape of ExportJSON.
type exportRecord struct {
	Choice            string     `json:"vote_choice"`
	Confidence        float64    `json:"confidence"`
	Timestamp         time.Time  `json:"timestamp"`
	ContentHash       string     `json:"reasoning_hash"`
	Summary           string     `json:"summary"`
	Risk              types.Risk `json:"risk_level"`
	TransparencyScore float64    `json:"transparency_score"`
}

// ExportJSON renders all justifications as an object keyed by proposal id.
func (b *Builder) ExportJSON() ([]byte, error) {
	out := make(map[string]exportRecord)
	for _, j := range b.List() {
		out[j.ProposalID] = exportRecord{
			Choice:            j.Choice,
			Confidence:        j.Confidence,
			Timestamp:         j.Timestamp,
			ContentHash:       j.ContentHash,
			Summary:           j.Summary,
			Risk:              j.Risk,
			TransparencyScore: j.TransparencyScore,
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("justification: export: %w", err)
	}
	return data, nil
}

func summary(d types.VoteDecision, sentiment map[string]float64, alignment float64) string {
	var total float64
	for _, source := range sortedKeys(sentiment) {
		total += sentiment[source]
	}
	var avg float64
	if len(sentiment) > 0 {
		avg = total / float64(len(sentiment))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recommend voting **%s** with %.0f%% confidence.\n\n", d.Choice, d.Confidence*100)
	sb.WriteString("**Key Metrics:**\n")
	fmt.Fprintf(&sb, "- Community Sentiment: %+.2f\n", avg)
	fmt.Fprintf(&sb, "- Preference Alignment: %.0f%%\n", alignment*100)
	fmt.Fprintf(&sb, "- Risk Assessment: %s", d.Risk)
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyScores(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
