// Package source defines the data aggregator collaborator and the helpers
// that turn its raw output into stored records: proposal body
// normalization, sentiment reading conversion and source filtering.
package source

import (
	"context"
	"strings"

	"github.com/entrhq/govdelegate/pkg/types"
)

// FetchResult is everything an aggregator returned for one organization.
type FetchResult struct {
	Proposals []types.Proposal `json:"proposals" yaml:"proposals"`
	Readings  []Reading        `json:"sentiment_readings" yaml:"sentiment_readings"`
}

// Aggregator fetches proposals and sentiment readings for an organization.
// The protocol behind it is not part of this module.
type Aggregator interface {
	Fetch(ctx context.Context, org string) (FetchResult, error)
}

// ProposalRefresher is implemented by aggregators that can re-fetch a
// single proposal right before it is analyzed.
type ProposalRefresher interface {
	Refresh(ctx context.Context, org, proposalID string) (types.Proposal, []Reading, error)
}

// AggregatorFunc adapts a function to Aggregator.
type AggregatorFunc func(ctx context.Context, org string) (FetchResult, error)

// Fetch calls f.
func (f AggregatorFunc) Fetch(ctx context.Context, org string) (FetchResult, error) {
	return f(ctx, org)
}

// normalizeOrg lowercases and trims an organization name.
func normalizeOrg(org string) string {
	return strings.ToLower(strings.TrimSpace(org))
}
