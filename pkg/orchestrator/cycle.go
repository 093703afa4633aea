package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/govdelegate/pkg/decision"
	"github.com/entrhq/govdelegate/pkg/justification"
	"github.com/entrhq/govdelegate/pkg/memory/proposal"
	"github.com/entrhq/govdelegate/pkg/source"
	"github.com/entrhq/govdelegate/pkg/types"
)

// Phase is a step of the governance cycle.
type Phase string

const (
	PhaseIngest  Phase = "INGEST"
	PhaseAnalyze Phase = "ANALYZE"
	PhaseDecide  Phase = "DECIDE"
	PhaseJustify Phase = "JUSTIFY"
	PhaseCast    Phase = "CAST"
	PhaseDone    Phase = "DONE"
	PhaseFailed  Phase = "FAILED"
)

// maxSimilarProposals bounds the similar-proposal list handed to the engine.
const maxSimilarProposals = 3

// ProposalError records a failure isolated to one proposal.
type ProposalError struct {
	ProposalID string          `json:"proposal_id"`
	Phase      Phase           `json:"phase"`
	Kind       types.ErrorKind `json:"kind"`
	Message    string          `json:"message"`
}

// ProposalResult is what a cycle produced for one analyzed proposal.
type ProposalResult struct {
	ProposalID        string             `json:"proposal_id"`
	Title             string             `json:"title"`
	Decision          types.VoteDecision `json:"decision"`
	ContentHash       string             `json:"content_hash,omitempty"`
	TransparencyScore float64            `json:"transparency_score"`
	Cast              bool               `json:"cast"`
	ApprovalID        string             `json:"approval_id,omitempty"`
}

// CycleResult summarizes one governance cycle.
type CycleResult struct {
	ID                string           `json:"id"`
	Organization      string           `json:"organization"`
	Phase             Phase            `json:"phase"`
	ProposalsFetched  int              `json:"proposals_fetched"`
	ProposalsAnalyzed int              `json:"proposals_analyzed"`
	Decisions         int              `json:"decisions"`
	Proposals         []ProposalResult `json:"proposals"`
	Errors            []ProposalError  `json:"errors"`
	Votes             []types.VoteRef  `json:"votes"`
	Queued            []string         `json:"queued"`
	Error             string           `json:"error,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       time.Time        `json:"completed_at"`
	Duration          time.Duration    `json:"duration"`
}

// Failed reports whether the cycle ended in FAILED.
func (r *CycleResult) Failed() bool { return r.Phase == PhaseFailed }

func (r *CycleResult) addError(proposalID string, phase Phase, err error) {
	r.Errors = append(r.Errors, ProposalError{
		ProposalID: proposalID,
		Phase:      phase,
		Kind:       types.KindOf(err),
		Message:    err.Error(),
	})
}

// cycle carries the state of one RunCycle call.
type cycle struct {
	o      *Orchestrator
	result *CycleResult
}

func (c *cycle) reject(proposalID string, phase Phase, err error) {
	c.result.addError(proposalID, phase, err)
	c.o.logger.Warnf("cycle %s: proposal %s failed in %s: %v", c.result.ID, proposalID, phase, err)
	c.o.emit(types.NewProposalRejectedEvent(c.result.ID, c.result.Organization, proposalID, string(phase), err))
}

// RunCycle runs one governance cycle for org. The returned result is
// always populated; the error is non-nil only when the cycle could not
// start or ended in FAILED.
func (o *Orchestrator) RunCycle(ctx context.Context, org string) (CycleResult, error) {
	org = normalizeOrg(org)
	if org == "" {
		return CycleResult{}, &types.ValidationError{Field: "organization"}
	}

	lock := o.orgLock(org)
	if !lock.TryLock() {
		return CycleResult{Organization: org}, fmt.Errorf("%w: %s", ErrCycleInProgress, org)
	}
	defer lock.Unlock()

	result := &CycleResult{
		ID:           uuid.New().String(),
		Organization: org,
		Phase:        PhaseIngest,
		Proposals:    []ProposalResult{},
		Errors:       []ProposalError{},
		Votes:        []types.VoteRef{},
		Queued:       []string{},
		StartedAt:    timeNow(),
	}
	c := &cycle{o: o, result: result}

	o.logger.Infof("cycle %s: starting for %s", result.ID, org)
	o.emit(types.NewCycleStartedEvent(result.ID, org))

	window, err := c.ingest(ctx)
	if err != nil {
		result.Phase = PhaseFailed
		result.Error = err.Error()
		o.finish(result)
		o.logger.Errorf("cycle %s: ingest failed for %s: %v", result.ID, org, err)
		o.emit(types.NewCycleFailedEvent(result.ID, org, err))
		return *result, err
	}

	for _, p := range window {
		if ctx.Err() != nil {
			c.reject(p.ID, PhaseAnalyze, ctx.Err())
			continue
		}
		c.process(ctx, p)
	}

	result.Phase = PhaseDone
	o.finish(result)
	o.logger.Infof("cycle %s: %s done, %d analyzed, %d errors in %s",
		result.ID, org, result.ProposalsAnalyzed, len(result.Errors), result.Duration)
	o.emit(types.NewCycleCompletedEvent(result.ID, org, result.ProposalsAnalyzed, len(result.Errors), result.Duration))
	return *result, nil
}

func (o *Orchestrator) finish(result *CycleResult) {
	result.CompletedAt = timeNow()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if o.artifacts == nil {
		return
	}
	if err := o.artifacts.WriteAll(result); err != nil {
		o.logger.Warnf("cycle %s: failed to write artifacts: %v", result.ID, err)
	}
}

// ingest fetches and stores the organization's proposals and readings.
// Every valid proposal is stored, but only those among the first
// maxProposals fetched are returned for analysis, in fetch order.
func (c *cycle) ingest(ctx context.Context) ([]types.Proposal, error) {
	o := c.o
	org := c.result.Organization

	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	res, err := o.aggregator.Fetch(fetchCtx, org)
	cancel()
	if err != nil {
		if !errors.Is(err, types.ErrSourceUnavailable) {
			err = types.SourceUnavailable("aggregator", err)
		}
		return nil, err
	}
	c.result.ProposalsFetched = len(res.Proposals)

	stored := make([]types.Proposal, 0, len(res.Proposals))
	var window []types.Proposal
	for i, raw := range res.Proposals {
		if raw.Organization == "" {
			raw.Organization = org
		}
		p, err := o.normalizer.Proposal(raw)
		if err == nil {
			err = o.proposals.Store(ctx, p)
		}
		if err != nil {
			c.reject(raw.ID, PhaseIngest, err)
			continue
		}
		stored = append(stored, p)
		if i < o.maxProposals {
			window = append(window, p)
		}
	}

	c.recordReadings(ctx, res.Readings, stored)
	o.logger.Debugf("cycle %s: ingested %d of %d proposals, %d readings",
		c.result.ID, len(stored), len(res.Proposals), len(res.Readings))
	return window, nil
}

// recordReadings stores readings that pass the source filter. Readings
// without a proposal id apply to every proposal stored in this fetch.
func (c *cycle) recordReadings(ctx context.Context, readings []source.Reading, stored []types.Proposal) {
	o := c.o
	for _, r := range readings {
		if !o.filter.Allows(r.Source) {
			o.logger.Debugf("cycle %s: ignoring reading from %s", c.result.ID, r.Source)
			continue
		}
		targets := []string{r.ProposalID}
		if r.ProposalID == "" {
			targets = targets[:0]
			for _, p := range stored {
				targets = append(targets, p.ID)
			}
		}
		for _, id := range targets {
			s, err := r.Sample(c.result.Organization, id)
			if err == nil {
				err = o.sentiment.Record(ctx, s)
			}
			if err != nil {
				c.reject(id, PhaseIngest, err)
			}
		}
	}
}

// process takes one proposal through ANALYZE, DECIDE, JUSTIFY and CAST.
// Failures are recorded against the proposal and stop its processing only.
func (c *cycle) process(ctx context.Context, p types.Proposal) {
	o := c.o

	p, ok := c.analyze(ctx, p)
	if !ok {
		return
	}
	c.result.ProposalsAnalyzed++
	dc := o.buildContext(p)

	d, err := o.engine.Analyze(ctx, dc)
	if err != nil {
		c.reject(p.ID, PhaseDecide, err)
		return
	}
	c.result.Decisions++
	o.emit(types.NewDecisionMadeEvent(c.result.ID, c.result.Organization, d))
	if len(d.PrimaryFactors) > 0 {
		if err := o.proposals.SetReasoningPoints(ctx, p.ID, d.PrimaryFactors); err != nil {
			o.logger.Warnf("cycle %s: failed to annotate %s: %v", c.result.ID, p.ID, err)
		}
	}

	pr := ProposalResult{ProposalID: p.ID, Title: p.Title, Decision: d}

	j, err := c.justify(ctx, dc, d)
	if err != nil {
		c.reject(p.ID, PhaseJustify, err)
		c.result.Proposals = append(c.result.Proposals, pr)
		return
	}
	pr.ContentHash = j.ContentHash
	pr.TransparencyScore = j.TransparencyScore

	c.cast(ctx, &pr, d, j.ContentHash)
	c.result.Proposals = append(c.result.Proposals, pr)
}

// analyze refreshes the proposal when the aggregator supports it.
func (c *cycle) analyze(ctx context.Context, p types.Proposal) (types.Proposal, bool) {
	o := c.o
	refresher, ok := o.aggregator.(source.ProposalRefresher)
	if !ok {
		return p, true
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	fresh, readings, err := refresher.Refresh(fetchCtx, c.result.Organization, p.ID)
	cancel()
	if err != nil {
		stored, getErr := o.proposals.Get(p.ID)
		if getErr != nil {
			c.reject(p.ID, PhaseAnalyze, err)
			return types.Proposal{}, false
		}
		o.logger.Warnf("cycle %s: refresh of %s failed, using stored data: %v", c.result.ID, p.ID, err)
		return stored, true
	}

	if fresh.Organization == "" {
		fresh.Organization = c.result.Organization
	}
	normalized, err := o.normalizer.Proposal(fresh)
	if err == nil {
		err = o.proposals.Store(ctx, normalized)
	}
	if err != nil {
		o.logger.Warnf("cycle %s: refreshed %s rejected, using stored data: %v", c.result.ID, p.ID, err)
	}
	// Refreshed readings only fill in proposals that have no sentiment yet;
	// readings already ingested this cycle would otherwise count twice.
	if o.sentiment.Aggregate(p.ID).TotalEntries > 0 {
		readings = nil
	}
	for _, r := range readings {
		if r.ProposalID == "" {
			r.ProposalID = p.ID
		}
		if r.ProposalID != p.ID || !o.filter.Allows(r.Source) {
			continue
		}
		s, sErr := r.Sample(c.result.Organization, p.ID)
		if sErr == nil {
			sErr = o.sentiment.Record(ctx, s)
		}
		if sErr != nil {
			o.logger.Debugf("cycle %s: dropped refreshed reading for %s: %v", c.result.ID, p.ID, sErr)
		}
	}

	stored, err := o.proposals.Get(p.ID)
	if err != nil {
		return p, true
	}
	return stored, true
}

// buildContext gathers the signals the decision engine sees for p.
func (o *Orchestrator) buildContext(p types.Proposal) decision.Context {
	prefs := map[string]float64{
		"category_success_rate:" + p.Category: o.preferences.SuccessRate(p.Category),
	}
	for _, pattern := range o.preferences.CategoryPatterns(p.Category) {
		prefs[pattern.Name] = pattern.Confidence
	}

	dc := decision.Context{
		ProposalID:     p.ID,
		Title:          p.Title,
		Body:           p.Body,
		Organization:   p.Organization,
		Category:       p.Category,
		Options:        append([]string(nil), p.Choices...),
		Sentiment:      o.sentiment.Aggregate(p.ID).Snapshot(),
		Preferences:    prefs,
		ExpectedImpact: p.ExpectedImpact,
	}
	if len(p.Choices) > 0 {
		dc.ArgumentsFor = p.KeyArguments[p.Choices[0]]
	}
	if len(p.Choices) > 1 {
		dc.ArgumentsAgainst = p.KeyArguments[p.Choices[1]]
	}

	similar := o.proposals.Search(proposal.SearchOptions{Organization: p.Organization, Category: p.Category})
	for _, s := range similar {
		if len(dc.SimilarProposals) == maxSimilarProposals {
			break
		}
		if s.ID == p.ID {
			continue
		}
		label := "pending"
		if out, err := o.outcomes.Get(s.ID); err == nil {
			label = "failed"
			if out.Passed {
				label = "passed"
			}
		}
		dc.SimilarProposals = append(dc.SimilarProposals, fmt.Sprintf("%s (%s)", s.Title, label))
	}
	return dc
}

// justify builds, registers and archives the justification for d.
func (c *cycle) justify(ctx context.Context, dc decision.Context, d types.VoteDecision) (types.VoteJustification, error) {
	o := c.o
	reasoning := decision.Explain(dc, d)

	dataSources := map[string]string{
		"decision_backend": d.Backend,
		"proposal_store":   "proposal " + dc.ProposalID,
	}
	for name := range dc.Sentiment {
		dataSources["sentiment:"+name] = "aggregated " + name + " sentiment"
	}
	if len(dc.Preferences) > 0 {
		dataSources["preferences"] = strings.Join(sortedNames(dc.Preferences), ", ")
	}

	j := o.justifications.Build(d, reasoning, dc.Sentiment, dc.PreferenceAlignment(), dataSources)
	if o.archive != nil {
		if err := o.archive.Write(ctx, j); err != nil && !errors.Is(err, justification.ErrAlreadyExists) {
			return types.VoteJustification{}, fmt.Errorf("archive justification: %w", err)
		}
	}
	o.emit(types.NewJustificationBuiltEvent(c.result.ID, c.result.Organization, j))
	return j, nil
}

// cast submits confident decisions when autonomous voting is on and
// queues everything else for approval.
func (c *cycle) cast(ctx context.Context, pr *ProposalResult, d types.VoteDecision, hash string) {
	o := c.o
	org := c.result.Organization

	if !o.autonomous || d.Confidence < o.confidenceThreshold {
		pending := o.queue.Enqueue(org, d, hash)
		pr.ApprovalID = pending.ID
		c.result.Queued = append(c.result.Queued, pending.ID)
		o.logger.Infof("cycle %s: queued %s vote on %s for approval (%s)", c.result.ID, d.Choice, d.ProposalID, pending.ID)
		return
	}

	castCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	res, err := o.chain.CastVote(castCtx, d.ProposalID, d.Choice, hash)
	cancel()
	if err != nil {
		if !errors.Is(err, types.ErrSourceUnavailable) {
			err = types.SourceUnavailable("chain", err)
		}
		c.reject(d.ProposalID, PhaseCast, err)
		return
	}

	ref := types.VoteRef{
		ProposalID:  d.ProposalID,
		Choice:      d.Choice,
		TxRef:       res.TxRef,
		Pending:     res.Pending,
		ContentHash: hash,
	}
	pr.Cast = true
	c.result.Votes = append(c.result.Votes, ref)
	o.votesCast.Add(1)
	o.logger.Infof("cycle %s: cast %s on %s (%s)", c.result.ID, d.Choice, d.ProposalID, res.TxRef)
	o.emit(types.NewVoteCastEvent(org, ref))
}

// RunAll runs one cycle per organization concurrently. Results keep the
// order of orgs; errors of individual cycles are joined.
func (o *Orchestrator) RunAll(ctx context.Context, orgs []string) ([]CycleResult, error) {
	results := make([]CycleResult, len(orgs))
	errs := make([]error, len(orgs))

	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i, org := range orgs {
		g.Go(func() error {
			results[i], errs[i] = o.RunCycle(ctx, org)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
