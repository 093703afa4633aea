// Package chain defines the collaborator that registers the delegate and
// submits votes, and a dry-run Ledger that records instead of submitting.
package chain

import "context"

// CastResult is the outcome of submitting a vote. Pending is true when the
// vote was accepted but not yet confirmed, which is always the case for the
// dry-run ledger.
type CastResult struct {
	TxRef   string `json:"tx_ref"`
	Pending bool   `json:"pending"`
}

// Chain registers the delegate identity and casts votes.
type Chain interface {
	// RegisterDelegate registers the delegate address under name and the
	// agent's memory identity, returning a transaction reference.
	RegisterDelegate(ctx context.Context, address, name, agentID string) (string, error)

	// Verify reports whether address is registered and active.
	Verify(ctx context.Context, address string) (bool, error)

	// CastVote submits choice for proposalID, referencing the justification
	// content hash.
	CastVote(ctx context.Context, proposalID, choice, contentHash string) (CastResult, error)
}
