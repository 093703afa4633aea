package decision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/govdelegate/pkg/types"
)

const (
	maxListedArguments = 3
	maxImpactChars     = 200
)

// Summarize renders a short human-readable account of a decision.
func Summarize(c Context, d types.VoteDecision) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Vote analysis for: %s\n\n", c.Title)
	fmt.Fprintf(&sb, "Recommendation: %s\n\n", strings.ToUpper(d.Choice))
	writeBullets(&sb, "Primary factors:", d.PrimaryFactors)
	writeBullets(&sb, "Secondary factors:", d.SecondaryFactors)

	if len(c.Sentiment) > 0 {
		sb.WriteString("Community sentiment:\n")
		for _, source := range sortedKeys(c.Sentiment) {
			fmt.Fprintf(&sb, "  - %s: %.2f\n", source, c.Sentiment[source])
		}
		sb.WriteString("\n")
	}
	if c.ExpectedImpact != "" {
		fmt.Fprintf(&sb, "Expected impact: %s\n", truncateRunes(c.ExpectedImpact, maxImpactChars))
	}
	return strings.TrimSpace(sb.String())
}

// Explain renders the detailed reasoning recorded in a justification. The
// text depends only on its inputs so its hash is reproducible.
func Explain(c Context, d types.VoteDecision) string {
	sentiment := c.OverallSentiment()
	preference := c.PreferenceAlignment()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Proposal %s (%s) from %s.\n\n", c.ProposalID, c.Title, c.Organization)

	sb.WriteString("We analyze community sentiment across ")
	if len(c.Sentiment) == 0 {
		sb.WriteString("no sources; no sentiment data was available, so sentiment counts as neutral (0.00).\n")
	} else {
		fmt.Fprintf(&sb, "%d source(s) with a mean score of %+.2f:\n", len(c.Sentiment), sentiment)
		for _, source := range sortedKeys(c.Sentiment) {
			fmt.Fprintf(&sb, "  - %s: %+.2f\n", source, c.Sentiment[source])
		}
	}
	sb.WriteString("\n")

	sb.WriteString("Historical preference data ")
	if len(c.Preferences) == 0 {
		sb.WriteString("is empty for this category; preference alignment counts as 0.00.\n")
	} else {
		fmt.Fprintf(&sb, "gives a mean alignment of %.2f:\n", preference)
		for _, name := range sortedKeys(c.Preferences) {
			fmt.Fprintf(&sb, "  - %s: %.2f\n", name, c.Preferences[name])
		}
	}
	sb.WriteString("\n")

	if len(c.ArgumentsFor) > 0 || len(c.ArgumentsAgainst) > 0 {
		sb.WriteString("We consider the strongest arguments on each side as evidence:\n")
		for _, arg := range head(c.ArgumentsFor, maxListedArguments) {
			fmt.Fprintf(&sb, "  + %s\n", arg)
		}
		for _, arg := range head(c.ArgumentsAgainst, maxListedArguments) {
			fmt.Fprintf(&sb, "  - %s\n", arg)
		}
		sb.WriteString("\n")
	}

	if len(c.SimilarProposals) > 0 {
		sb.WriteString("Similar past proposals that inform the pattern:\n")
		for _, p := range head(c.SimilarProposals, maxListedArguments) {
			fmt.Fprintf(&sb, "  - %s\n", p)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Decision: %s with %.0f%% confidence (%s risk, backend %s).\n",
		d.Choice, d.Confidence*100, d.Risk, d.Backend)
	fmt.Fprintf(&sb, "Primary factors: %s.\n", strings.Join(d.PrimaryFactors, ", "))
	if len(d.SecondaryFactors) > 0 {
		fmt.Fprintf(&sb, "Secondary factors: %s.\n", strings.Join(d.SecondaryFactors, ", "))
	}
	fmt.Fprintf(&sb, "Combined alignment of sentiment and preference: %.2f.\n", d.Alignment)
	if c.ExpectedImpact != "" {
		fmt.Fprintf(&sb, "Expected impact: %s\n", c.ExpectedImpact)
	}
	return sb.String()
}

func writeBullets(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(title + "\n")
	for _, item := range items {
		fmt.Fprintf(sb, "  - %s\n", item)
	}
	sb.WriteString("\n")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
