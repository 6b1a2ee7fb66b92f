// Package process owns the evaluation-process state machine, legal-day
// accounting and the observation ledger. All mutation goes through the
// Tracker; reads either load snapshots from the Store or are pure functions
// over already-loaded records.
package process

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mquevedo/evalflow/internal/calendar"
)

// roundLimit is the legal cap on clarification rounds. A further round
// requires an explicit override and is flagged exceptional.
const roundLimit = 2

// TrackerConfig carries the deadline parameters, normally taken from
// config.Config.
type TrackerConfig struct {
	BudgetFullDays       int
	BudgetSimplifiedDays int
	ResponseWindowDays   int
	DeadlineAlertDays    int
}

// Tracker drives the evaluation lifecycle: admissibility, clarification
// rounds, suspensions and resolution. Transition writes are serialized per
// process by the store's version guard; on ErrVersionConflict the caller
// re-reads and retries.
type Tracker struct {
	store Store
	cal   *calendar.Calendar
	cfg   TrackerConfig
}

// NewTracker creates a Tracker over a store and a legal-day calendar.
func NewTracker(s Store, cal *calendar.Calendar, cfg TrackerConfig) *Tracker {
	return &Tracker{store: s, cal: cal, cfg: cfg}
}

// transitions is the legal forward edge set, keyed by operation. Terminal
// resolutions (withdrawn/lapsed) are handled in RecordResolution since they
// are reachable from any non-terminal state.
var transitions = map[string][]State{
	"mark_in_admissibility":    {StateSubmitted},
	"record_admissibility":     {StateSubmitted, StateInAdmissibility},
	"advance":                  {StateAdmitted, StateUnderReview, StateResponseUnderReview, StateConsolidatedReview},
	"open_clarification_round": {StateUnderReview, StateResponseUnderReview},
	"record_response":          {StateClarificationIssued},
	"record_resolution":        {StateConsolidatedReview, StateCommittee},
}

func allowed(op string, s State) bool {
	for _, st := range transitions[op] {
		if st == s {
			return true
		}
	}
	return false
}

// Start creates the evaluation process for a project in state submitted and
// fixes its legal-day budget from the instrument. ErrAlreadyStarted if the
// project already has a process.
func (t *Tracker) Start(ctx context.Context, projectID string, submission time.Time, instrument Instrument) (*EvaluationProcess, error) {
	if projectID == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if !instrument.Valid() {
		return nil, &ValidationError{Field: "instrument", Reason: fmt.Sprintf("unknown value %q", instrument)}
	}
	budget := t.cfg.BudgetFullDays
	if instrument == InstrumentSimplified {
		budget = t.cfg.BudgetSimplifiedDays
	}
	p := &EvaluationProcess{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Instrument:     instrument,
		State:          StateSubmitted,
		SubmissionDate: day(submission),
		BudgetDays:     budget,
		CreatedAt:      time.Now().UTC(),
	}
	if err := t.store.CreateProcess(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkInAdmissibility moves a freshly submitted process into the formal
// admissibility check.
func (t *Tracker) MarkInAdmissibility(ctx context.Context, processID uuid.UUID) (*EvaluationProcess, error) {
	return t.transition(ctx, processID, "mark_in_admissibility", func(p *EvaluationProcess) error {
		p.State = StateInAdmissibility
		return nil
	})
}

// RecordAdmissibility records the admissibility outcome. An admitted process
// moves to admitted; a rejected one reaches the terminal
// rejected_on_admissibility state.
func (t *Tracker) RecordAdmissibility(ctx context.Context, processID uuid.UUID, result AdmissibilityResult, date time.Time, notes string) (*EvaluationProcess, error) {
	if result != AdmissibilityAdmitted && result != AdmissibilityRejected {
		return nil, &ValidationError{Field: "result", Reason: fmt.Sprintf("unknown value %q", result)}
	}
	return t.transition(ctx, processID, "record_admissibility", func(p *EvaluationProcess) error {
		p.AdmissibilityResult = result
		p.AdmissibilityNotes = notes
		d := day(date)
		if result == AdmissibilityAdmitted {
			p.State = StateAdmitted
			p.AdmissionDate = &d
		} else {
			p.State = StateRejectedAdmissibility
		}
		return nil
	})
}

// Advance moves the process along the linear review edges:
// admitted → under_review, under_review/response_under_review →
// consolidated_review, consolidated_review → committee.
func (t *Tracker) Advance(ctx context.Context, processID uuid.UUID) (*EvaluationProcess, error) {
	return t.transition(ctx, processID, "advance", func(p *EvaluationProcess) error {
		switch p.State {
		case StateAdmitted:
			p.State = StateUnderReview
		case StateUnderReview, StateResponseUnderReview:
			p.State = StateConsolidatedReview
		case StateConsolidatedReview:
			p.State = StateCommittee
		}
		return nil
	})
}

// OpenClarificationRound opens the next-sequence clarification round, starts
// a suspension at the issue date and computes the response deadline. The
// round cap is 2; a third round requires override and is flagged
// exceptional.
func (t *Tracker) OpenClarificationRound(ctx context.Context, processID uuid.UUID, issueDate time.Time, items []ObservationItem, override bool) (*ObservationRound, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "a clarification round needs at least one item"}
	}
	seen := map[string]bool{}
	for i := range items {
		it := &items[i]
		if it.ID == "" {
			return nil, &ValidationError{Field: "items", Reason: "item id must not be empty"}
		}
		if seen[it.ID] {
			return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("duplicate item id %q", it.ID)}
		}
		seen[it.ID] = true
		switch it.Category {
		case ItemClarification, ItemRectification, ItemAmplification:
		default:
			return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("unknown category %q on item %s", it.Category, it.ID)}
		}
		it.Status = ItemPending
	}

	p, err := t.store.ProcessByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !allowed("open_clarification_round", p.State) {
		return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: "open_clarification_round"}
	}

	rounds, err := t.store.RoundsByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	seq := len(rounds) + 1
	if seq > roundLimit && !override {
		return nil, ErrRoundLimitExceeded
	}

	issue := day(issueDate)
	round := &ObservationRound{
		ID:          uuid.New(),
		ProcessID:   p.ID,
		Seq:         seq,
		Exceptional: seq > roundLimit,
		IssueDate:   issue,
		ResponseDue: t.cal.AddDays(issue, t.cfg.ResponseWindowDays),
		Items:       items,
		CreatedAt:   time.Now().UTC(),
	}

	// Issuing a round suspends the legal-day clock until the response lands.
	p.Suspensions = append(p.Suspensions, Suspension{From: issue})
	p.State = StateClarificationIssued

	if err := t.store.AppendRound(ctx, p, round); err != nil {
		return nil, err
	}
	return round, nil
}

// RecordResponse appends the submitter's response to a clarification round,
// updates the targeted item statuses, closes the running suspension at the
// submission date and resumes day counting.
func (t *Tracker) RecordResponse(ctx context.Context, roundID uuid.UUID, submission time.Time, items []ResponseItem) (*ResponseRound, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "a response needs at least one item"}
	}

	round, err := t.store.RoundByID(ctx, roundID)
	if err != nil {
		return nil, err
	}
	p, err := t.store.ProcessByID(ctx, round.ProcessID)
	if err != nil {
		return nil, err
	}
	if !allowed("record_response", p.State) {
		return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: "record_response"}
	}

	// Every response item must target an observation item of this process.
	known := map[string]bool{}
	rounds, err := t.store.RoundsByProcess(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range rounds {
		for _, it := range r.Items {
			known[it.ID] = true
		}
	}

	// Only the newest round is awaiting a response. Accepting a response
	// against an earlier round would close the current round's suspension at
	// the wrong date and wedge the state machine.
	latest := rounds[len(rounds)-1]
	if round.Seq != latest.Seq {
		return nil, &ValidationError{Field: "round_id",
			Reason: fmt.Sprintf("round %d is not awaiting a response (current round is %d)", round.Seq, latest.Seq)}
	}

	for i := range items {
		ri := &items[i]
		if !known[ri.ItemID] {
			return nil, &CrossProcessReferenceError{ProcessID: p.ID, Ref: "observation item " + ri.ItemID}
		}
		switch ri.Status {
		case ItemAnswered, ItemPartiallyAnswered, ItemPending:
		default:
			return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("unknown status %q on response for item %s", ri.Status, ri.ItemID)}
		}
		// Qualification is a reviewer judgment, recorded through
		// RecordVerdict; it never arrives with the submitter's payload.
		ri.Qualification = QualificationUnset
	}

	// Apply statuses to this round's own items; items from earlier rounds
	// keep their records, the ledger's latest-wins walk resolves them.
	byID := map[string]ItemStatus{}
	for _, ri := range items {
		byID[ri.ItemID] = ri.Status
	}
	answered, pending := 0, 0
	for i := range round.Items {
		if st, ok := byID[round.Items[i].ID]; ok {
			round.Items[i].Status = st
		}
		if round.Items[i].Status == ItemAnswered {
			answered++
		} else {
			pending++
		}
	}

	prior, err := t.store.ResponsesByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	resp := &ResponseRound{
		ID:             uuid.New(),
		RoundID:        roundID,
		Seq:            len(prior) + 1,
		SubmissionDate: day(submission),
		Items:          items,
		AnsweredCount:  answered,
		PendingCount:   pending,
		CreatedAt:      time.Now().UTC(),
	}

	if open := p.OpenSuspension(); open != nil {
		to := day(submission)
		open.To = &to
	}
	p.State = StateResponseUnderReview

	if err := t.store.AppendResponse(ctx, p, round, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RecordVerdict records the reviewer's judgment of a round's latest response:
// the aggregate verdict, the review date and optional per-item
// qualifications. The process state is unchanged; the reviewer then advances
// the process or opens a further round.
func (t *Tracker) RecordVerdict(ctx context.Context, roundID uuid.UUID, verdict Verdict, reviewDate time.Time, quals map[string]Qualification) (*ResponseRound, error) {
	switch verdict {
	case VerdictSufficient, VerdictInsufficient, VerdictPartiallySufficient:
	default:
		return nil, &ValidationError{Field: "verdict", Reason: fmt.Sprintf("unknown value %q", verdict)}
	}

	round, err := t.store.RoundByID(ctx, roundID)
	if err != nil {
		return nil, err
	}
	p, err := t.store.ProcessByID(ctx, round.ProcessID)
	if err != nil {
		return nil, err
	}
	if p.State != StateResponseUnderReview {
		return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: "record_verdict"}
	}
	responses, err := t.store.ResponsesByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, &ValidationError{Field: "round_id", Reason: "round has no response to review"}
	}
	resp := &responses[len(responses)-1]

	inResponse := map[string]bool{}
	for _, ri := range resp.Items {
		inResponse[ri.ItemID] = true
	}
	for id, q := range quals {
		if !inResponse[id] {
			return nil, &CrossProcessReferenceError{ProcessID: p.ID, Ref: "response item " + id}
		}
		switch q {
		case QualificationSufficient, QualificationInsufficient:
		default:
			return nil, &ValidationError{Field: "qualifications", Reason: fmt.Sprintf("unknown value %q for item %s", q, id)}
		}
	}
	for i := range resp.Items {
		if q, ok := quals[resp.Items[i].ItemID]; ok {
			resp.Items[i].Qualification = q
		}
	}
	d := day(reviewDate)
	resp.Verdict = verdict
	resp.ReviewDate = &d

	if err := t.store.SaveVerdict(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MarkRoundLapsed marks a round whose response deadline passed without any
// response. The suspension closes at the due date and the process returns to
// under_review, so a next round may be opened.
func (t *Tracker) MarkRoundLapsed(ctx context.Context, roundID uuid.UUID, asOf time.Time) (*ObservationRound, error) {
	round, err := t.store.RoundByID(ctx, roundID)
	if err != nil {
		return nil, err
	}
	p, err := t.store.ProcessByID(ctx, round.ProcessID)
	if err != nil {
		return nil, err
	}
	if p.State != StateClarificationIssued {
		return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: "mark_round_lapsed"}
	}
	if !day(asOf).After(round.ResponseDue) {
		return nil, &ValidationError{Field: "as_of", Reason: "response deadline has not passed"}
	}
	responses, err := t.store.ResponsesByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if len(responses) > 0 {
		return nil, &ValidationError{Field: "round_id", Reason: "round already has a response"}
	}

	round.Lapsed = true
	if open := p.OpenSuspension(); open != nil {
		due := round.ResponseDue
		open.To = &due
	}
	p.State = StateUnderReview

	if err := t.store.LapseRound(ctx, p, round); err != nil {
		return nil, err
	}
	return round, nil
}

// RecordResolution records the final outcome. Favorable and unfavorable
// resolutions are valid from consolidated_review/committee; withdrawn and
// lapsed terminate any non-terminal process.
func (t *Tracker) RecordResolution(ctx context.Context, processID uuid.UUID, resolution Resolution, date time.Time, ref string) (*EvaluationProcess, error) {
	if !resolution.Valid() {
		return nil, &ValidationError{Field: "resolution", Reason: fmt.Sprintf("unknown value %q", resolution)}
	}

	p, err := t.store.ProcessByID(ctx, processID)
	if err != nil {
		return nil, err
	}

	anyState := resolution == ResolutionWithdrawn || resolution == ResolutionLapsed
	if anyState {
		if p.State.Terminal() {
			return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: "record_resolution"}
		}
	} else if !allowed("record_resolution", p.State) {
		return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: "record_resolution"}
	}

	d := day(date)
	switch resolution {
	case ResolutionFavorable:
		p.State = StateApproved
	case ResolutionFavorableConditions:
		p.State = StateApprovedWithConditions
	case ResolutionUnfavorable:
		p.State = StateRejected
	case ResolutionWithdrawn:
		p.State = StateWithdrawn
	case ResolutionLapsed:
		p.State = StateLapsed
	}
	p.Resolution = resolution
	p.ResolutionDate = &d
	p.ResolutionRef = ref
	if open := p.OpenSuspension(); open != nil {
		open.To = &d
	}

	if err := t.store.UpdateProcess(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// transition loads, guards, mutates and writes a process in one pass.
func (t *Tracker) transition(ctx context.Context, processID uuid.UUID, op string, mutate func(*EvaluationProcess) error) (*EvaluationProcess, error) {
	p, err := t.store.ProcessByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !allowed(op, p.State) {
		return nil, &InvalidTransitionError{ProcessID: p.ID, State: p.State, Op: op}
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := t.store.UpdateProcess(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ElapsedDays counts consumed legal days as of a date: legal days between
// submission and asOf minus any suspended legal days overlapping that range.
// Pure over the loaded process; safe to call concurrently.
func (t *Tracker) ElapsedDays(p *EvaluationProcess, asOf time.Time) int {
	to := day(asOf)
	elapsed := t.cal.DaysBetween(p.SubmissionDate, to)
	return elapsed - t.suspendedDays(p, to)
}

// suspendedDays sums legal days covered by suspensions clipped to
// [submission, asOf]. Intervals entirely outside the range contribute 0.
func (t *Tracker) suspendedDays(p *EvaluationProcess, asOf time.Time) int {
	total := 0
	for _, s := range p.Suspensions {
		from := day(s.From)
		if from.Before(p.SubmissionDate) {
			from = p.SubmissionDate
		}
		to := asOf
		if s.To != nil && s.To.Before(asOf) {
			to = day(*s.To)
		}
		if to.After(from) {
			total += t.cal.DaysBetween(from, to)
		}
	}
	return total
}

// RemainingDays is budget plus extension minus elapsed, floored at the
// negative range so overruns stay visible.
func (t *Tracker) RemainingDays(p *EvaluationProcess, asOf time.Time) int {
	return p.BudgetDays + p.ExtensionDays - t.ElapsedDays(p, asOf)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
