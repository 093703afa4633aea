package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactWriter writes a record of every cycle to a directory, one
// subdirectory per cycle: cycle.json with the full result and summary.md
// for humans.
type ArtifactWriter struct {
	outputDir string
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string) *ArtifactWriter {
	return &ArtifactWriter{
		outputDir: outputDir,
	}
}

// Dir returns the directory artifacts for result are written to.
func (w *ArtifactWriter) Dir(result *CycleResult) string {
	stamp := result.StartedAt.UTC().Format("20060102T150405Z")
	return filepath.Join(w.outputDir, result.Organization, stamp+"-"+shortID(result.ID))
}

// WriteAll writes the JSON result and the markdown summary.
func (w *ArtifactWriter) WriteAll(result *CycleResult) error {
	dir := w.Dir(result)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if err := w.WriteCycleJSON(dir, result); err != nil {
		return err
	}
	return w.WriteSummaryMarkdown(dir, result)
}

// WriteCycleJSON writes the full cycle result as JSON
func (w *ArtifactWriter) WriteCycleJSON(dir string, result *CycleResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cycle result: %w", err)
	}

	if writeErr := os.WriteFile(filepath.Join(dir, "cycle.json"), data, 0600); writeErr != nil {
		return fmt.Errorf("failed to write cycle JSON: %w", writeErr)
	}
	return nil
}

// WriteSummaryMarkdown writes a human-readable markdown summary
func (w *ArtifactWriter) WriteSummaryMarkdown(dir string, result *CycleResult) error {
	var md strings.Builder

	md.WriteString("# Governance Cycle Summary\n\n")
	md.WriteString(fmt.Sprintf("**Organization:** %s\n\n", result.Organization))
	md.WriteString(fmt.Sprintf("**Cycle:** %s\n\n", result.ID))
	md.WriteString(fmt.Sprintf("**Phase:** %s\n\n", result.Phase))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", result.StartedAt.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Completed:** %s\n\n", result.CompletedAt.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", result.Duration))

	md.WriteString("## Result\n\n")
	if result.Error != "" {
		md.WriteString(fmt.Sprintf("❌ **Error:** %s\n\n", result.Error))
	} else {
		md.WriteString(fmt.Sprintf("✅ **%d of %d proposals analyzed**\n\n", result.ProposalsAnalyzed, result.ProposalsFetched))
	}

	if len(result.Proposals) > 0 {
		md.WriteString("## Decisions\n\n")
		md.WriteString("| Proposal | Choice | Confidence | Risk | Outcome |\n")
		md.WriteString("|----------|--------|------------|------|---------|\n")
		for _, p := range result.Proposals {
			outcome := "not cast"
			switch {
			case p.Cast:
				outcome = "cast"
			case p.ApprovalID != "":
				outcome = "queued " + shortID(p.ApprovalID)
			}
			md.WriteString(fmt.Sprintf("| %s | %s | %.0f%% | %s | %s |\n",
				p.ProposalID, p.Decision.Choice, p.Decision.Confidence*100, p.Decision.Risk, outcome))
		}
		md.WriteString("\n")
	}

	if len(result.Votes) > 0 {
		md.WriteString("## Votes\n\n")
		for _, v := range result.Votes {
			md.WriteString(fmt.Sprintf("- `%s` %s on %s", v.TxRef, v.Choice, v.ProposalID))
			if v.Pending {
				md.WriteString(" (pending)")
			}
			md.WriteString("\n")
		}
		md.WriteString("\n")
	}

	if len(result.Errors) > 0 {
		md.WriteString("## Errors\n\n")
		for _, e := range result.Errors {
			md.WriteString(fmt.Sprintf("- **%s** [%s/%s]: %s\n", e.ProposalID, e.Phase, e.Kind, e.Message))
		}
		md.WriteString("\n")
	}

	if writeErr := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(md.String()), 0600); writeErr != nil {
		return fmt.Errorf("failed to write summary markdown: %w", writeErr)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
