// Package proposal holds the proposal memory layer: normalized proposals per
// organization with substring search and post-analysis annotations.
package proposal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/govdelegate/pkg/memory/journal"
	"github.com/entrhq/govdelegate/pkg/types"
)

// Store keeps the latest version of every proposal. Stores are upserts:
// the most recent Store call for an id fully replaces the prior record.
// All operations are safe for concurrent use.
type Store struct {
	proposals map[string]*types.Proposal
	order     []string            // ids in first-insertion order
	byOrg     map[string][]string // org -> ids, appended only for new ids
	journal   journal.Journal
	mu        sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithJournal persists every write through j.
func WithJournal(j journal.Journal) Option {
	return func(s *Store) {
		if j != nil {
			s.journal = j
		}
	}
}

// NewStore creates an empty proposal store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		proposals: make(map[string]*types.Proposal),
		byOrg:     make(map[string][]string),
		journal:   journal.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads persisted proposals from the journal.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.journal.Load(ctx, journal.KindProposal, func(_ string, payload []byte) error {
		var p types.Proposal
		if err := journal.Decode(payload, &p); err != nil {
			return err
		}
		s.apply(&p)
		return nil
	})
}

// Store upserts p. It returns a *types.ValidationError, storing nothing, when
// the id, organization or title is missing.
func (s *Store) Store(ctx context.Context, p types.Proposal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	rec := p.Clone()
	if rec.Category == "" {
		rec.Category = types.DefaultCategory
	}
	if rec.Status == "" {
		rec.Status = types.ProposalActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal.Put(ctx, journal.KindProposal, rec.ID, &rec); err != nil {
		return err
	}
	s.apply(&rec)
	return nil
}

// apply installs rec. Caller must hold the write lock.
func (s *Store) apply(rec *types.Proposal) {
	prev, exists := s.proposals[rec.ID]
	if !exists {
		s.order = append(s.order, rec.ID)
	}
	if !exists || prev.Organization != rec.Organization {
		if !containsID(s.byOrg[rec.Organization], rec.ID) {
			s.byOrg[rec.Organization] = append(s.byOrg[rec.Organization], rec.ID)
		}
	}
	s.proposals[rec.ID] = rec
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Get retrieves a proposal by id.
func (s *Store) Get(id string) (types.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return types.Proposal{}, types.NotFound("proposal", id)
	}
	return p.Clone(), nil
}

// ByOrganization returns the organization's proposals in insertion order.
func (s *Store) ByOrganization(org string) []types.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOrg[org]
	out := make([]types.Proposal, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.proposals[id]; ok && p.Organization == org {
			out = append(out, p.Clone())
		}
	}
	return out
}

// SearchOptions configures Search.
type SearchOptions struct {
	Query        string // Case-insensitive substring of title or body (empty matches all)
	Organization string // Optional organization filter
	Category     string // Optional category filter
}

// Search returns proposals whose title or body contains the query, in the
// order proposals were first stored.
func (s *Store) Search(opts SearchOptions) []types.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(opts.Query)
	var out []types.Proposal
	for _, id := range s.order {
		p := s.proposals[id]
		if opts.Organization != "" && p.Organization != opts.Organization {
			continue
		}
		if opts.Category != "" && p.Category != opts.Category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Title), query) &&
			!strings.Contains(strings.ToLower(p.Body), query) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

// Count returns the number of stored proposals.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.proposals)
}

// SetReasoningPoints replaces the analysis notes of a stored proposal.
func (s *Store) SetReasoningPoints(ctx context.Context, id string, points []string) error {
	return s.mutate(ctx, id, func(p *types.Proposal) error {
		p.ReasoningPoints = append([]string(nil), points...)
		return nil
	})
}

// SetKeyArguments replaces the arguments recorded for one choice.
func (s *Store) SetKeyArguments(ctx context.Context, id, choice string, args []string) error {
	return s.mutate(ctx, id, func(p *types.Proposal) error {
		if p.KeyArguments == nil {
			p.KeyArguments = make(map[string][]string)
		}
		p.KeyArguments[choice] = append([]string(nil), args...)
		return nil
	})
}

// SetExpectedImpact records the expected impact assessment.
func (s *Store) SetExpectedImpact(ctx context.Context, id, impact string) error {
	return s.mutate(ctx, id, func(p *types.Proposal) error {
		p.ExpectedImpact = impact
		return nil
	})
}

// UpdateStatus moves a proposal to a new lifecycle status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.ProposalStatus) error {
	if !status.Valid() {
		return &types.ValidationError{ID: id, Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return s.mutate(ctx, id, func(p *types.Proposal) error {
		p.Status = status
		return nil
	})
}

// mutate applies fn to a copy of the stored proposal and persists the result.
func (s *Store) mutate(ctx context.Context, id string, fn func(*types.Proposal) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.proposals[id]
	if !ok {
		return types.NotFound("proposal", id)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.journal.Put(ctx, journal.KindProposal, id, &next); err != nil {
		return err
	}
	s.proposals[id] = &next
	return nil
}
