package source

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/govdelegate/pkg/types"
)

//go:embed fixtures/default.yaml
var defaultFixture []byte

// fixtureFile is the on-disk shape of a fixture.
type fixtureFile struct {
	Organizations map[string]FetchResult `yaml:"organizations"`
}

// FixtureAggregator serves proposals and readings from a YAML document.
// It stands in for live scrapers in development and tests.
type FixtureAggregator struct {
	data map[string]FetchResult
}

var (
	_ Aggregator        = (*FixtureAggregator)(nil)
	_ ProposalRefresher = (*FixtureAggregator)(nil)
)

// ParseFixture decodes a fixture document.
func ParseFixture(raw []byte) (*FixtureAggregator, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	data := make(map[string]FetchResult, len(f.Organizations))
	for org, res := range f.Organizations {
		org = normalizeOrg(org)
		for i := range res.Proposals {
			if res.Proposals[i].Organization == "" {
				res.Proposals[i].Organization = org
			}
		}
		data[org] = res
	}
	return &FixtureAggregator{data: data}, nil
}

// LoadFixture reads a fixture file. An empty path loads the built-in
// sample data.
func LoadFixture(path string) (*FixtureAggregator, error) {
	if path == "" {
		return ParseFixture(defaultFixture)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return ParseFixture(raw)
}

// Organizations returns the organizations the fixture has data for.
func (f *FixtureAggregator) Organizations() []string {
	return sortedOrgs(f.data)
}

// Fetch returns a copy of the organization's data. Unknown organizations
// yield an empty result.
func (f *FixtureAggregator) Fetch(ctx context.Context, org string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, types.SourceUnavailable("fixture", err)
	}
	res := f.data[normalizeOrg(org)]
	out := FetchResult{
		Proposals: make([]types.Proposal, 0, len(res.Proposals)),
		Readings:  append([]Reading(nil), res.Readings...),
	}
	for _, p := range res.Proposals {
		out.Proposals = append(out.Proposals, p.Clone())
	}
	return out, nil
}

// Refresh returns one proposal with the readings that apply to it.
func (f *FixtureAggregator) Refresh(ctx context.Context, org, proposalID string) (types.Proposal, []Reading, error) {
	if err := ctx.Err(); err != nil {
		return types.Proposal{}, nil, types.SourceUnavailable("fixture", err)
	}
	res := f.data[normalizeOrg(org)]
	for _, p := range res.Proposals {
		if p.ID != proposalID {
			continue
		}
		var readings []Reading
		for _, r := range res.Readings {
			if r.ProposalID == "" || r.ProposalID == proposalID {
				readings = append(readings, r)
			}
		}
		return p.Clone(), readings, nil
	}
	return types.Proposal{}, nil, types.NotFound("proposal", proposalID)
}

func sortedOrgs(m map[string]FetchResult) []string {
	out := make([]string, 0, len(m))
	for org := range m {
		out = append(out, org)
	}
	sort.Strings(out)
	return out
}
