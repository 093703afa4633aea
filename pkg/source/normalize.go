package source

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/entrhq/govdelegate/pkg/types"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

var timeNow = time.Now

// Normalizer cleans proposal bodies. Bodies that contain HTML are
// sanitized and converted to markdown; plain text and markdown pass
// through with whitespace tidied.
type Normalizer struct {
	policy      *bluemonday.Policy
	mdConverter *converter.Converter
}

// NewNormalizer creates a normalizer with a user-generated-content policy.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		policy: bluemonday.UGCPolicy(),
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Body returns the normalized body text.
func (n *Normalizer) Body(body string) (string, error) {
	if !containsHTML(body) {
		return tidy(body), nil
	}
	clean := n.policy.Sanitize(body)
	md, err := n.mdConverter.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("convert proposal body: %w", err)
	}
	return tidy(md), nil
}

// Proposal normalizes p for storage: organization lowercased, title
// trimmed, body converted, category and creation time defaulted.
func (n *Normalizer) Proposal(p types.Proposal) (types.Proposal, error) {
	out := p.Clone()
	out.ID = strings.TrimSpace(out.ID)
	out.Organization = normalizeOrg(out.Organization)
	out.Title = strings.TrimSpace(out.Title)
	if out.Category == "" {
		out.Category = types.DefaultCategory
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = timeNow()
	}
	body, err := n.Body(out.Body)
	if err != nil {
		return types.Proposal{}, &types.ValidationError{ID: out.ID, Field: "body", Reason: err.Error()}
	}
	out.Body = body
	return out, nil
}

// containsHTML reports whether s has at least one HTML element.
func containsHTML(s string) bool {
	if !strings.Contains(s, "<") {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			return true
		}
	}
}

func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = excessiveLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
