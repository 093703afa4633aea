// Package approval holds vote decisions that need human approval before
// they are cast.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/govdelegate/pkg/chain"
	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

// ErrTimeout is returned by Await when no decision arrives in time.
var ErrTimeout = errors.New("approval: timed out waiting for decision")

// Caster submits an approved vote.
type Caster interface {
	CastVote(ctx context.Context, proposalID, choice, contentHash string) (chain.CastResult, error)
}

// PendingVote is a decision waiting for approval.
type PendingVote struct {
	ID           string             `json:"id"`
	Organization string             `json:"organization"`
	ProposalID   string             `json:"proposal_id"`
	Decision     types.VoteDecision `json:"decision"`
	ContentHash  string             `json:"content_hash"`
	QueuedAt     time.Time          `json:"queued_at"`
}

// Resolution is how a pending vote left the queue.
type Resolution struct {
	Approved bool           `json:"approved"`
	Vote     *types.VoteRef `json:"vote,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// pendingEntry tracks a queued vote and the goroutines waiting on it
type pendingEntry struct {
	vote       PendingVote
	done       chan struct{}
	resolution Resolution
	closeOnce  sync.Once // done is closed exactly once
}

func (e *pendingEntry) resolve(r Resolution) {
	e.closeOnce.Do(func() {
		e.resolution = r
		close(e.done)
	})
}

// Queue holds pending votes keyed by approval id, at most one per proposal.
type Queue struct {
	caster     Caster
	timeout    time.Duration
	pending    map[string]*pendingEntry
	byProposal map[string]string
	order      []string
	emitEvent  types.EventEmitter
	mu         sync.Mutex
}

// NewQueue creates a queue that casts approved votes through caster. The
// timeout bounds Await; zero waits until the context ends.
func NewQueue(caster Caster, timeout time.Duration, emitEvent types.EventEmitter) *Queue {
	if emitEvent == nil {
		emitEvent = types.NopEmitter
	}
	return &Queue{
		caster:     caster,
		timeout:    timeout,
		pending:    make(map[string]*pendingEntry),
		byProposal: make(map[string]string),
		emitEvent:  emitEvent,
	}
}

// Enqueue queues d for approval. Queuing a proposal that is already pending
// replaces its decision and keeps its approval id.
func (q *Queue) Enqueue(org string, d types.VoteDecision, contentHash string) PendingVote {
	q.mu.Lock()
	if id, ok := q.byProposal[d.ProposalID]; ok {
		e := q.pending[id]
		e.vote.Decision = d
		e.vote.ContentHash = contentHash
		e.vote.QueuedAt = timeNow()
		pv := e.vote
		q.mu.Unlock()
		q.emitEvent(types.NewVoteQueuedEvent(pv.ID, org, d))
		return pv
	}

	pv := PendingVote{
		ID:           uuid.New().String(),
		Organization: org,
		ProposalID:   d.ProposalID,
		Decision:     d,
		ContentHash:  contentHash,
		QueuedAt:     timeNow(),
	}
	q.pending[pv.ID] = &pendingEntry{vote: pv, done: make(chan struct{})}
	q.byProposal[pv.ProposalID] = pv.ID
	q.order = append(q.order, pv.ID)
	q.mu.Unlock()

	q.emitEvent(types.NewVoteQueuedEvent(pv.ID, org, d))
	return pv
}

// Pending returns queued votes, oldest first.
func (q *Queue) Pending() []PendingVote {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingVote, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.pending[id].vote)
	}
	return out
}

// Len returns the number of queued votes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Get returns a queued vote by approval id or proposal id.
func (q *Queue) Get(id string) (PendingVote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.lookup(id)
	if err != nil {
		return PendingVote{}, err
	}
	return e.vote, nil
}

// Approve removes the vote from the queue and casts it. If the cast fails
// the vote is queued again under the same id.
func (q *Queue) Approve(ctx context.Context, id string) (types.VoteRef, error) {
	q.mu.Lock()
	e, err := q.lookup(id)
	if err != nil {
		q.mu.Unlock()
		return types.VoteRef{}, err
	}
	q.remove(e.vote.ID)
	q.mu.Unlock()

	pv := e.vote
	res, err := q.caster.CastVote(ctx, pv.ProposalID, pv.Decision.Choice, pv.ContentHash)
	if err != nil {
		q.restore(e)
		return types.VoteRef{}, types.SourceUnavailable("chain", err)
	}

	ref := types.VoteRef{
		ProposalID:  pv.ProposalID,
		Choice:      pv.Decision.Choice,
		TxRef:       res.TxRef,
		Pending:     res.Pending,
		ContentHash: pv.ContentHash,
	}
	q.emitEvent(types.NewVoteApprovedEvent(pv.ID, pv.Organization, pv.ProposalID))
	q.emitEvent(types.NewVoteCastEvent(pv.Organization, ref))
	e.resolve(Resolution{Approved: true, Vote: &ref})
	return ref, nil
}

// Reject removes the vote from the queue without casting it.
func (q *Queue) Reject(id, reason string) error {
	q.mu.Lock()
	e, err := q.lookup(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	q.remove(e.vote.ID)
	q.mu.Unlock()

	q.emitEvent(types.NewVoteRejectedEvent(e.vote.ID, e.vote.Organization, e.vote.ProposalID, reason))
	e.resolve(Resolution{Reason: reason})
	return nil
}

// Await blocks until the vote is approved or rejected, the queue timeout
// passes, or ctx ends.
func (q *Queue) Await(ctx context.Context, id string) (Resolution, error) {
	q.mu.Lock()
	e, err := q.lookup(id)
	q.mu.Unlock()
	if err != nil {
		return Resolution{}, err
	}

	var timeout <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()

	case <-timeout:
		q.emitEvent(types.NewApprovalTimeoutEvent(e.vote.ID, e.vote.Organization, e.vote.ProposalID))
		return Resolution{}, ErrTimeout

	case <-e.done:
		return e.resolution, nil
	}
}

// lookup must be called with q.mu held.
func (q *Queue) lookup(id string) (*pendingEntry, error) {
	if e, ok := q.pending[id]; ok {
		return e, nil
	}
	if aid, ok := q.byProposal[id]; ok {
		return q.pending[aid], nil
	}
	return nil, types.NotFound("pending vote", id)
}

// remove must be called with q.mu held.
func (q *Queue) remove(id string) {
	e, ok := q.pending[id]
	if !ok {
		return
	}
	delete(q.pending, id)
	delete(q.byProposal, e.vote.ProposalID)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) restore(e *pendingEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byProposal[e.vote.ProposalID]; ok {
		// a newer decision was queued while casting
		return
	}
	q.pending[e.vote.ID] = e
	q.byProposal[e.vote.ProposalID] = e.vote.ID
	q.order = append(q.order, e.vote.ID)
}
