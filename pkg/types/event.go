package types

import "time"

// EventType defines the type of event emitted during a governance cycle.
type EventType string

const (
	EventTypeCycleStarted       EventType = "cycle_started"       // EventTypeCycleStarted indicates a cycle began for an organization.
	EventTypeCycleCompleted     EventType = "cycle_completed"     // EventTypeCycleCompleted indicates a cycle reached DONE.
	EventTypeCycleFailed        EventType = "cycle_failed"        // EventTypeCycleFailed indicates a cycle ended in FAILED.
	EventTypeProposalRejected   EventType = "proposal_rejected"   // EventTypeProposalRejected indicates a proposal failed processing.
	EventTypeDecisionMade       EventType = "decision_made"       // EventTypeDecisionMade indicates a vote decision was produced.
	EventTypeJustificationBuilt EventType = "justification_built" // EventTypeJustificationBuilt indicates a justification record was built.
	EventTypeVoteCast           EventType = "vote_cast"           // EventTypeVoteCast indicates a vote was submitted to the chain.
	EventTypeVoteQueued         EventType = "vote_queued"         // EventTypeVoteQueued indicates a vote awaits human approval.
	EventTypeVoteApproved       EventType = "vote_approved"       // EventTypeVoteApproved indicates a queued vote was approved.
	EventTypeVoteRejected       EventType = "vote_rejected"       // EventTypeVoteRejected indicates a queued vote was rejected.
	EventTypeApprovalTimeout    EventType = "approval_timeout"    // EventTypeApprovalTimeout indicates waiting on an approval timed out.
	EventTypePredictionRecorded EventType = "prediction_recorded" // EventTypePredictionRecorded indicates a prediction was scored against an outcome.
)

// Event is emitted by the orchestrator and approval queue.
type Event struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Error contains error information for failure events.
	Error string `json:"error,omitempty"`

	// Type indicates the kind of event.
	Type EventType `json:"type"`

	// Organization is the DAO the event belongs to.
	Organization string `json:"organization,omitempty"`

	// CycleID identifies the cycle that produced the event.
	CycleID string `json:"cycle_id,omitempty"`

	// ProposalID is set for proposal-scoped events.
	ProposalID string `json:"proposal_id,omitempty"`

	// ApprovalID is set for approval queue events.
	ApprovalID string `json:"approval_id,omitempty"`

	// Decision is set for decision and vote events.
	Decision *VoteDecision `json:"decision,omitempty"`

	// Vote is set when a vote reached the chain.
	Vote *VoteRef `json:"vote,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func newEvent(t EventType, org string) *Event {
	return &Event{
		Type:         t,
		Organization: org,
		Metadata:     make(map[string]interface{}),
		Timestamp:    time.Now(),
	}
}

// NewCycleStartedEvent creates a cycle started event.
func NewCycleStartedEvent(cycleID, org string) *Event {
	e := newEvent(EventTypeCycleStarted, org)
	e.CycleID = cycleID
	return e
}

// NewCycleCompletedEvent creates a cycle completed event.
func NewCycleCompletedEvent(cycleID, org string, analyzed, failures int, duration time.Duration) *Event {
	e := newEvent(EventTypeCycleCompleted, org)
	e.CycleID = cycleID
	e.Metadata["proposals_analyzed"] = analyzed
	e.Metadata["errors"] = failures
	e.Metadata["duration_seconds"] = duration.Seconds()
	return e
}

// NewCycleFailedEvent creates a cycle failed event.
func NewCycleFailedEvent(cycleID, org string, err error) *Event {
	e := newEvent(EventTypeCycleFailed, org)
	e.CycleID = cycleID
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewProposalRejectedEvent creates an event for a proposal that failed in phase.
func NewProposalRejectedEvent(cycleID, org, proposalID, phase string, err error) *Event {
	e := newEvent(EventTypeProposalRejected, org)
	e.CycleID = cycleID
	e.ProposalID = proposalID
	e.Metadata["phase"] = phase
	e.Metadata["kind"] = string(KindOf(err))
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewDecisionMadeEvent creates a decision made event.
func NewDecisionMadeEvent(cycleID, org string, d VoteDecision) *Event {
	e := newEvent(EventTypeDecisionMade, org)
	e.CycleID = cycleID
	e.ProposalID = d.ProposalID
	e.Decision = &d
	return e
}

// NewJustificationBuiltEvent creates a justification built event.
func NewJustificationBuiltEvent(cycleID, org string, j VoteJustification) *Event {
	e := newEvent(EventTypeJustificationBuilt, org)
	e.CycleID = cycleID
	e.ProposalID = j.ProposalID
	e.Metadata["content_hash"] = j.ContentHash
	e.Metadata["transparency_score"] = j.TransparencyScore
	return e
}

// NewVoteCastEvent creates a vote cast event.
func NewVoteCastEvent(org string, ref VoteRef) *Event {
	e := newEvent(EventTypeVoteCast, org)
	e.ProposalID = ref.ProposalID
	e.Vote = &ref
	return e
}

// NewVoteQueuedEvent creates an event for a vote awaiting human approval.
func NewVoteQueuedEvent(approvalID, org string, d VoteDecision) *Event {
	e := newEvent(EventTypeVoteQueued, org)
	e.ApprovalID = approvalID
	e.ProposalID = d.ProposalID
	e.Decision = &d
	return e
}

// NewVoteApprovedEvent creates a vote approved event.
func NewVoteApprovedEvent(approvalID, org, proposalID string) *Event {
	e := newEvent(EventTypeVoteApproved, org)
	e.ApprovalID = approvalID
	e.ProposalID = proposalID
	return e
}

// NewVoteRejectedEvent creates a vote rejected event.
func NewVoteRejectedEvent(approvalID, org, proposalID, reason string) *Event {
	e := newEvent(EventTypeVoteRejected, org)
	e.ApprovalID = approvalID
	e.ProposalID = proposalID
	if reason != "" {
		e.Metadata["reason"] = reason
	}
	return e
}

// NewApprovalTimeoutEvent creates an approval timeout event.
func NewApprovalTimeoutEvent(approvalID, org, proposalID string) *Event {
	e := newEvent(EventTypeApprovalTimeout, org)
	e.ApprovalID = approvalID
	e.ProposalID = proposalID
	return e
}

// NewPredictionRecordedEvent creates an event carrying the organization's updated accuracy.
func NewPredictionRecordedEvent(org, proposalID string, correct bool, accuracy float64) *Event {
	e := newEvent(EventTypePredictionRecorded, org)
	e.ProposalID = proposalID
	e.Metadata["correct"] = correct
	e.Metadata["accuracy"] = accuracy
	return e
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsCycleEvent returns true if this is a cycle lifecycle event.
func (e *Event) IsCycleEvent() bool {
	return e.Type == EventTypeCycleStarted ||
		e.Type == EventTypeCycleCompleted ||
		e.Type == EventTypeCycleFailed
}

// IsVoteEvent returns true if this event concerns a vote submission or approval.
func (e *Event) IsVoteEvent() bool {
	return e.Type == EventTypeVoteCast ||
		e.Type == EventTypeVoteQueued ||
		e.Type == EventTypeVoteApproved ||
		e.Type == EventTypeVoteRejected ||
		e.Type == EventTypeApprovalTimeout
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(event *Event)

// NopEmitter discards events.
func NopEmitter(*Event) {}
