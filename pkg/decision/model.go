package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/entrhq/govdelegate/pkg/llm"
	"github.com/entrhq/govdelegate/pkg/types"
)

// DefaultMaxBodyTokens bounds the proposal body included in the prompt.
const DefaultMaxBodyTokens = 1500

const systemPrompt = `You are an autonomous governance delegate for decentralized organizations.
You weigh community sentiment, the delegate's historical preferences and the arguments
on each side, then recommend exactly one of the listed voting options.
Respond with a single JSON object:
{"choice": "<one of the options>", "confidence": <0..1>, "primary_factors": ["..."],
 "secondary_factors": ["..."], "risk": "low|medium|high"}`

// Truncator cuts text to a token budget.
type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// ModelBackend asks an LLM for the decision. Sentiment and preference means
// still determine the alignment so it is comparable across backends.
type ModelBackend struct {
	provider      llm.Provider
	truncator     Truncator
	maxBodyTokens int
	fallback      Backend
}

// ModelOption configures a ModelBackend.
type ModelOption func(*ModelBackend)

// WithTruncator bounds the proposal body by tokens rather than characters.
func WithTruncator(t Truncator) ModelOption {
	return func(m *ModelBackend) { m.truncator = t }
}

// WithMaxBodyTokens sets the prompt budget for the proposal body.
func WithMaxBodyTokens(n int) ModelOption {
	return func(m *ModelBackend) {
		if n > 0 {
			m.maxBodyTokens = n
		}
	}
}

// WithFallback decides with b when the model call or its answer fails.
func WithFallback(b Backend) ModelOption {
	return func(m *ModelBackend) { m.fallback = b }
}

// NewModelBackend creates a backend over provider.
func NewModelBackend(provider llm.Provider, opts ...ModelOption) *ModelBackend {
	m := &ModelBackend{provider: provider, maxBodyTokens: DefaultMaxBodyTokens}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name identifies the backend in decisions and reports.
func (m *ModelBackend) Name() string {
	return "model:" + m.provider.GetModel()
}

type verdict struct {
	Choice           string   `json:"choice"`
	Confidence       float64  `json:"confidence"`
	PrimaryFactors   []string `json:"primary_factors"`
	SecondaryFactors []string `json:"secondary_factors"`
	Risk             string   `json:"risk"`
}

// Decide queries the model. Failures fall back when a fallback is set.
func (m *ModelBackend) Decide(ctx context.Context, c Context) (types.VoteDecision, error) {
	d, err := m.decide(ctx, c)
	if err == nil {
		return d, nil
	}
	if m.fallback == nil || ctx.Err() != nil {
		return types.VoteDecision{}, err
	}
	fd, ferr := m.fallback.Decide(ctx, c)
	if ferr != nil {
		return types.VoteDecision{}, fmt.Errorf("%w (fallback: %v)", err, ferr)
	}
	fd.Backend = m.fallback.Name() + " (model unavailable)"
	return fd, nil
}

func (m *ModelBackend) decide(ctx context.Context, c Context) (types.VoteDecision, error) {
	completion, err := m.provider.Complete(ctx, []llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(m.prompt(c)),
	})
	if err != nil {
		return types.VoteDecision{}, fmt.Errorf("model completion: %w", err)
	}

	v, err := parseVerdict(completion.Message.Content)
	if err != nil {
		return types.VoteDecision{}, err
	}
	choice, ok := matchOption(v.Choice, c.Options)
	if !ok {
		return types.VoteDecision{}, fmt.Errorf("model chose %q, not one of %v", v.Choice, optionsOrDefault(c.Options))
	}

	confidence := v.Confidence
	if confidence > 1 && confidence <= 100 {
		confidence /= 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	risk := types.Risk(strings.ToLower(strings.TrimSpace(v.Risk)))
	switch risk {
	case types.RiskLow, types.RiskMedium, types.RiskHigh:
	default:
		risk = types.RiskMedium
	}

	return types.VoteDecision{
		ProposalID:       c.ProposalID,
		Choice:           choice,
		Confidence:       confidence,
		PrimaryFactors:   v.PrimaryFactors,
		SecondaryFactors: v.SecondaryFactors,
		Alignment:        (c.OverallSentiment() + c.PreferenceAlignment()) / 2,
		Risk:             risk,
		Backend:          m.Name(),
	}, nil
}

func (m *ModelBackend) prompt(c Context) string {
	body := c.Body
	if m.truncator != nil {
		body = m.truncator.Truncate(body, m.maxBodyTokens)
	} else {
		body = truncateRunes(body, m.maxBodyTokens*4)
	}

	var sb strings.Builder
	sb.WriteString("Analyze this governance proposal and determine the optimal vote.\n\n")
	fmt.Fprintf(&sb, "Title: %s\nOrganization: %s\n", c.Title, c.Organization)
	if c.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", c.Category)
	}
	fmt.Fprintf(&sb, "\nProposal details:\n%s\n\n", body)
	fmt.Fprintf(&sb, "Voting options: %s\n\n", strings.Join(optionsOrDefault(c.Options), ", "))

	if len(c.Sentiment) > 0 {
		sb.WriteString("Community sentiment (-1..1):\n")
		for _, source := range sortedKeys(c.Sentiment) {
			fmt.Fprintf(&sb, "  - %s: %.2f\n", source, c.Sentiment[source])
		}
		sb.WriteString("\n")
	}
	if len(c.Preferences) > 0 {
		sb.WriteString("Delegate preferences (0..1):\n")
		for _, name := range sortedKeys(c.Preferences) {
			fmt.Fprintf(&sb, "  - %s: %.2f\n", name, c.Preferences[name])
		}
		sb.WriteString("\n")
	}
	writeBullets(&sb, "Arguments for:", head(c.ArgumentsFor, maxListedArguments))
	writeBullets(&sb, "Arguments against:", head(c.ArgumentsAgainst, maxListedArguments))
	writeBullets(&sb, "Similar past proposals:", head(c.SimilarProposals, maxListedArguments))
	return sb.String()
}

// parseVerdict reads the first JSON object in content, ignoring any prose
// or reasoning tags the model wrapped around it.
func parseVerdict(content string) (verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return verdict{}, fmt.Errorf("model response has no JSON object")
	}
	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return verdict{}, fmt.Errorf("parse model response: %w", err)
	}
	if v.Choice == "" {
		return verdict{}, fmt.Errorf("model response has no choice")
	}
	return v, nil
}

func optionsOrDefault(options []string) []string {
	if len(options) == 0 {
		return []string{types.ChoiceFor, types.ChoiceAgainst, types.ChoiceAbstain}
	}
	return options
}

// matchOption returns the canonical option equal to choice ignoring case.
func matchOption(choice string, options []string) (string, bool) {
	choice = strings.TrimSpace(choice)
	for _, opt := range optionsOrDefault(options) {
		if strings.EqualFold(opt, choice) {
			return opt, true
		}
	}
	return "", false
}
