package justification

import (
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/govdelegate/pkg/types"
)

// Render formats a justification as a markdown report. Tables and lists
// are sorted by source so the output is stable.
func Render(j types.VoteJustification) string {
	var sb strings.Builder

	sb.WriteString("# Vote Justification Report\n\n")
	fmt.Fprintf(&sb, "## Proposal %s\n\n", j.ProposalID)
	fmt.Fprintf(&sb, "**Vote Choice:** %s  \n", j.Choice)
	fmt.Fprintf(&sb, "**Confidence:** %.1f%%  \n", j.Confidence*100)
	fmt.Fprintf(&sb, "**Risk Level:** %s  \n", j.Risk)
	fmt.Fprintf(&sb, "**Transparency Score:** %.1f%%  \n", j.TransparencyScore*100)
	fmt.Fprintf(&sb, "**Timestamp:** %s\n\n", j.Timestamp.UTC().Format(time.RFC3339))

	sb.WriteString("## Summary\n\n")
	sb.WriteString(j.Summary)
	sb.WriteString("\n\n")

	sb.WriteString("## Sentiment Analysis\n\n")
	sb.WriteString("| Source | Score |\n")
	sb.WriteString("|--------|-------|\n")
	for _, source := range sortedKeys(j.SentimentSnapshot) {
		fmt.Fprintf(&sb, "| %s | %+.2f |\n", source, j.SentimentSnapshot[source])
	}
	fmt.Fprintf(&sb, "\n**Preference Alignment:** %.1f%%\n\n", j.PreferenceAlignment*100)

	sb.WriteString("## Data Sources\n\n")
	if len(j.DataSources) == 0 {
		sb.WriteString("_none recorded_\n")
	}
	for _, source := range sortedKeys(j.DataSources) {
		fmt.Fprintf(&sb, "- **%s:** %s\n", source, j.DataSources[source])
	}
	sb.WriteString("\n")

	sb.WriteString("## Detailed Reasoning\n\n")
	sb.WriteString(strings.TrimSpace(j.DetailedReasoning))
	sb.WriteString("\n\n---\n\n")
	fmt.Fprintf(&sb, "*Reasoning Hash: %s*\n", j.ContentHash)

	return sb.String()
}
