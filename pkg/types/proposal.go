package types

import (
	"fmt"
	"time"
)

// ProposalStatus is the lifecycle state of a governance proposal.
type ProposalStatus string

const (
	ProposalActive   ProposalStatus = "active"
	ProposalEnded    ProposalStatus = "ended"
	ProposalCanceled ProposalStatus = "canceled"
)

// DefaultCategory is assigned to proposals that arrive without one.
const DefaultCategory = "general"

// Valid reports whether s is a known proposal status.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalActive, ProposalEnded, ProposalCanceled:
		return true
	}
	return false
}

// Proposal is a normalized governance proposal for one organization.
type Proposal struct {
	ID           string         `json:"id" yaml:"id"`
	Organization string         `json:"organization" yaml:"organization"`
	Title        string         `json:"title" yaml:"title"`
	Body         string         `json:"body" yaml:"body"`
	Author       string         `json:"author,omitempty" yaml:"author,omitempty"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	EndTime      time.Time      `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Choices      []string       `json:"choices" yaml:"choices"`
	Category     string         `json:"category" yaml:"category"`
	URL          string         `json:"url,omitempty" yaml:"url,omitempty"`
	Status       ProposalStatus `json:"status" yaml:"status"`

	// Annotations added after analysis.
	ReasoningPoints []string            `json:"reasoning_points,omitempty" yaml:"reasoning_points,omitempty"`
	KeyArguments    map[string][]string `json:"key_arguments,omitempty" yaml:"key_arguments,omitempty"`
	ExpectedImpact  string              `json:"expected_impact,omitempty" yaml:"expected_impact,omitempty"`
}

// Validate checks the fields every stored proposal must carry.
func (p *Proposal) Validate() error {
	switch {
	case p.ID == "":
		return &ValidationError{Field: "id"}
	case p.Organization == "":
		return &ValidationError{ID: p.ID, Field: "organization"}
	case p.Title == "":
		return &ValidationError{ID: p.ID, Field: "title"}
	}
	if p.Status != "" && !p.Status.Valid() {
		return &ValidationError{ID: p.ID, Field: "status", Reason: fmt.Sprintf("unknown status %q", p.Status)}
	}
	return nil
}

// Clone returns a deep copy so callers never alias stored slices or maps.
func (p Proposal) Clone() Proposal {
	out := p
	out.Choices = append([]string(nil), p.Choices...)
	out.ReasoningPoints = append([]string(nil), p.ReasoningPoints...)
	if p.KeyArguments != nil {
		out.KeyArguments = make(map[string][]string, len(p.KeyArguments))
		for k, v := range p.KeyArguments {
			out.KeyArguments[k] = append([]string(nil), v...)
		}
	}
	return out
}
