package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/entrhq/govdelegate/pkg/types"
)

var timeNow = time.Now // injected for testability

// Capabilities advertised for a registered delegate.
var Capabilities = []string{
	"proposal_analysis",
	"autonomous_voting",
	"memory_persistence",
}

// Identity is a registered delegate.
type Identity struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	AgentID      string    `json:"agent_id"`
	Capabilities []string  `json:"capabilities"`
	Active       bool      `json:"active"`
	TxRef        string    `json:"tx_ref"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Vote is a recorded vote with the data needed to verify it later.
type Vote struct {
	ProposalID   string    `json:"proposal_id"`
	Choice       string    `json:"choice"`
	VoterAddress string    `json:"voter_address"`
	TxRef        string    `json:"tx_ref"`
	ContentHash  string    `json:"content_hash"`
	CastAt       time.Time `json:"cast_at"`
}

// Ledger is an in-process Chain that records registrations and votes
// without submitting anything. Every cast is reported as pending.
type Ledger struct {
	delegate   string
	identities map[string]Identity
	votes      map[string]Vote
	order      []string
	mu         sync.RWMutex
}

var _ Chain = (*Ledger)(nil)

// NewLedger creates a ledger voting as delegateAddress.
func NewLedger(delegateAddress string) *Ledger {
	return &Ledger{
		delegate:   delegateAddress,
		identities: make(map[string]Identity),
		votes:      make(map[string]Vote),
	}
}

// RegisterDelegate records the identity and returns its reference.
func (l *Ledger) RegisterDelegate(ctx context.Context, address, name, agentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if address == "" {
		return "", &types.ValidationError{Field: "address"}
	}

	ref := txRef("register", address, name, agentID)
	l.mu.Lock()
	l.identities[address] = Identity{
		Address:      address,
		Name:         name,
		AgentID:      agentID,
		Capabilities: append([]string(nil), Capabilities...),
		Active:       true,
		TxRef:        ref,
		RegisteredAt: timeNow(),
	}
	l.mu.Unlock()
	return ref, nil
}

// Verify reports whether address has an active registration.
func (l *Ledger) Verify(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.identities[address]
	return ok && id.Active, nil
}

// Identity returns the registration for address.
func (l *Ledger) Identity(address string) (Identity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.identities[address]
	if !ok {
		return Identity{}, types.NotFound("delegate", address)
	}
	return id, nil
}

// CastVote records the vote. A later vote on the same proposal replaces
// the earlier record.
func (l *Ledger) CastVote(ctx context.Context, proposalID, choice, contentHash string) (CastResult, error) {
	if err := ctx.Err(); err != nil {
		return CastResult{}, err
	}
	if proposalID == "" {
		return CastResult{}, &types.ValidationError{Field: "proposal_id"}
	}
	if choice == "" {
		return CastResult{}, &types.ValidationError{ID: proposalID, Field: "choice"}
	}

	ref := txRef("vote", proposalID, choice, contentHash)
	l.mu.Lock()
	if _, ok := l.votes[proposalID]; !ok {
		l.order = append(l.order, proposalID)
	}
	l.votes[proposalID] = Vote{
		ProposalID:   proposalID,
		Choice:       choice,
		VoterAddress: l.delegate,
		TxRef:        ref,
		ContentHash:  contentHash,
		CastAt:       timeNow(),
	}
	l.mu.Unlock()
	return CastResult{TxRef: ref, Pending: true}, nil
}

// Votes returns the vote history in first-cast order.
func (l *Ledger) Votes() []Vote {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Vote, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.votes[id])
	}
	return out
}

// VerificationData returns the recorded vote for a proposal.
func (l *Ledger) VerificationData(proposalID string) (Vote, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.votes[proposalID]
	if !ok {
		return Vote{}, types.NotFound("vote", proposalID)
	}
	return v, nil
}

// Count returns the number of proposals voted on.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.votes)
}

// txRef derives a deterministic reference from the recorded fields.
func txRef(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))[:32]
}
