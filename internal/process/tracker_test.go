package process_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mquevedo/evalflow/internal/calendar"
	"github.com/mquevedo/evalflow/internal/process"
	"github.com/mquevedo/evalflow/internal/store"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestTracker(t *testing.T) (*process.Tracker, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	tracker := process.NewTracker(st, calendar.New(), process.TrackerConfig{
		BudgetFullDays:       120,
		BudgetSimplifiedDays: 60,
		ResponseWindowDays:   30,
		DeadlineAlertDays:    10,
	})
	return tracker, st
}

// startedUnderReview drives a fresh process to under_review.
func startedUnderReview(t *testing.T, tracker *process.Tracker, projectID string) *process.EvaluationProcess {
	t.Helper()
	ctx := context.Background()
	p, err := tracker.Start(ctx, projectID, date("2026-01-05"), process.InstrumentFull)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := tracker.RecordAdmissibility(ctx, p.ID, process.AdmissibilityAdmitted, date("2026-01-12"), ""); err != nil {
		t.Fatalf("record admissibility: %v", err)
	}
	p, err = tracker.Advance(ctx, p.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if p.State != process.StateUnderReview {
		t.Fatalf("state = %s, want under_review", p.State)
	}
	return p
}

func items(ids ...string) []process.ObservationItem {
	out := make([]process.ObservationItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, process.ObservationItem{
			ID:            id,
			ReviewingBody: "water authority",
			Chapter:       "3",
			Category:      process.ItemClarification,
			Description:   "clarify " + id,
			Priority:      1,
		})
	}
	return out
}

func TestStartSetsBudgetFromInstrument(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	full, err := tracker.Start(ctx, "proj-full", date("2026-01-05"), process.InstrumentFull)
	if err != nil {
		t.Fatalf("start full: %v", err)
	}
	if full.BudgetDays != 120 {
		t.Errorf("full budget = %d, want 120", full.BudgetDays)
	}

	simplified, err := tracker.Start(ctx, "proj-simple", date("2026-01-05"), process.InstrumentSimplified)
	if err != nil {
		t.Fatalf("start simplified: %v", err)
	}
	if simplified.BudgetDays != 60 {
		t.Errorf("simplified budget = %d, want 60", simplified.BudgetDays)
	}
}

func TestStartTwiceFails(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, "proj-1", date("2026-01-05"), process.InstrumentFull); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := tracker.Start(ctx, "proj-1", date("2026-01-06"), process.InstrumentFull)
	if !errors.Is(err, process.ErrAlreadyStarted) {
		t.Errorf("second start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartRejectsUnknownInstrument(t *testing.T) {
	tracker, _ := newTestTracker(t)
	_, err := tracker.Start(context.Background(), "proj-1", date("2026-01-05"), process.Instrument("expedited"))
	var verr *process.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	p, err := tracker.Start(ctx, "proj-1", date("2026-01-05"), process.InstrumentFull)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Cannot open a round before admission and review.
	_, err = tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-01"), items("OBS-1"), false)
	var ite *process.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("open round from submitted: error = %v, want InvalidTransitionError", err)
	}
	if ite.State != process.StateSubmitted || ite.Op != "open_clarification_round" {
		t.Errorf("error context = %s/%s, want submitted/open_clarification_round", ite.State, ite.Op)
	}

	// Cannot resolve favorably before consolidated review.
	_, err = tracker.RecordResolution(ctx, p.ID, process.ResolutionFavorable, date("2026-02-01"), "RES-1")
	if !errors.As(err, &ite) {
		t.Errorf("resolve from submitted: error = %v, want InvalidTransitionError", err)
	}

	// Admissibility twice: second call finds state admitted.
	if _, err := tracker.RecordAdmissibility(ctx, p.ID, process.AdmissibilityAdmitted, date("2026-01-12"), ""); err != nil {
		t.Fatalf("record admissibility: %v", err)
	}
	_, err = tracker.RecordAdmissibility(ctx, p.ID, process.AdmissibilityAdmitted, date("2026-01-13"), "")
	if !errors.As(err, &ite) {
		t.Errorf("second admissibility: error = %v, want InvalidTransitionError", err)
	}
}

func TestRejectedOnAdmissibilityIsTerminal(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	p, _ := tracker.Start(ctx, "proj-1", date("2026-01-05"), process.InstrumentFull)
	p, err := tracker.RecordAdmissibility(ctx, p.ID, process.AdmissibilityRejected, date("2026-01-12"), "missing baseline")
	if err != nil {
		t.Fatalf("record admissibility: %v", err)
	}
	if p.State != process.StateRejectedAdmissibility {
		t.Fatalf("state = %s, want rejected_on_admissibility", p.State)
	}
	if _, err := tracker.Advance(ctx, p.ID); err == nil {
		t.Error("advance from terminal state should fail")
	}
	// Even withdrawal is no longer possible.
	if _, err := tracker.RecordResolution(ctx, p.ID, process.ResolutionWithdrawn, date("2026-02-01"), ""); err == nil {
		t.Error("withdraw from terminal state should fail")
	}
}

func TestRoundLimit(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	// Round 1
	r1, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1"), false)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if r1.Seq != 1 || r1.Exceptional {
		t.Errorf("round 1 seq/exceptional = %d/%v, want 1/false", r1.Seq, r1.Exceptional)
	}
	if _, err := tracker.RecordResponse(ctx, r1.ID, date("2026-02-20"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "done", Status: process.ItemAnswered},
	}); err != nil {
		t.Fatalf("response 1: %v", err)
	}

	// Round 2
	r2, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-03-02"), items("OBS-2"), false)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if _, err := tracker.RecordResponse(ctx, r2.ID, date("2026-03-20"), []process.ResponseItem{
		{ItemID: "OBS-2", Answer: "done", Status: process.ItemAnswered},
	}); err != nil {
		t.Fatalf("response 2: %v", err)
	}

	// Round 3 without override is capped.
	_, err = tracker.OpenClarificationRound(ctx, p.ID, date("2026-04-01"), items("OBS-3"), false)
	if !errors.Is(err, process.ErrRoundLimitExceeded) {
		t.Fatalf("round 3 error = %v, want ErrRoundLimitExceeded", err)
	}

	// With override it succeeds and is flagged exceptional.
	r3, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-04-01"), items("OBS-3"), true)
	if err != nil {
		t.Fatalf("round 3 with override: %v", err)
	}
	if r3.Seq != 3 || !r3.Exceptional {
		t.Errorf("round 3 seq/exceptional = %d/%v, want 3/true", r3.Seq, r3.Exceptional)
	}
}

func TestResponseDueDateUsesLegalDays(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	r, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-03-01"), items("OBS-1"), false)
	if err != nil {
		t.Fatalf("open round: %v", err)
	}
	want := calendar.New().AddDays(date("2026-03-01"), 30)
	if !r.ResponseDue.Equal(want) {
		t.Errorf("response due = %s, want %s", r.ResponseDue.Format("2006-01-02"), want.Format("2006-01-02"))
	}
}

func TestSuspensionArithmetic(t *testing.T) {
	// Full instrument, submission 2026-01-05, admitted
	// 2026-01-12, round 1 opened 2026-03-01, response 2026-03-25. Elapsed at
	// 2026-04-01 must equal legal(01-05..04-01) - legal(03-01..03-25).
	tracker, st := newTestTracker(t)
	ctx := context.Background()
	cal := calendar.New()
	p := startedUnderReview(t, tracker, "proj-1")

	r, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-03-01"), items("OBS-1"), false)
	if err != nil {
		t.Fatalf("open round: %v", err)
	}
	if _, err := tracker.RecordResponse(ctx, r.ID, date("2026-03-25"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "clarified", Status: process.ItemAnswered},
	}); err != nil {
		t.Fatalf("record response: %v", err)
	}

	p, err = st.ProcessByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.State != process.StateResponseUnderReview {
		t.Errorf("state = %s, want response_under_review", p.State)
	}

	want := cal.DaysBetween(date("2026-01-05"), date("2026-04-01")) -
		cal.DaysBetween(date("2026-03-01"), date("2026-03-25"))
	if got := tracker.ElapsedDays(p, date("2026-04-01")); got != want {
		t.Errorf("elapsed days = %d, want %d", got, want)
	}
}

func TestElapsedDaysMonotonic(t *testing.T) {
	tracker, st := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	r, _ := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1"), false)
	tracker.RecordResponse(ctx, r.ID, date("2026-02-16"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "ok", Status: process.ItemAnswered},
	})
	p, _ = st.ProcessByID(ctx, p.ID)

	prev := -1
	for d := date("2026-01-05"); d.Before(date("2026-06-01")); d = d.AddDate(0, 0, 1) {
		got := tracker.ElapsedDays(p, d)
		if got < prev {
			t.Fatalf("elapsed days decreased at %s: %d < %d", d.Format("2006-01-02"), got, prev)
		}
		prev = got
	}
}

func TestElapsedDaysIgnoresOutsideSuspensions(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	cal := calendar.New()

	p, err := tracker.Start(ctx, "proj-1", date("2026-01-05"), process.InstrumentFull)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// A suspension entirely after as_of must not affect the count.
	to := date("2026-07-30")
	p.Suspensions = []process.Suspension{{From: date("2026-07-01"), To: &to}}

	want := cal.DaysBetween(date("2026-01-05"), date("2026-03-01"))
	if got := tracker.ElapsedDays(p, date("2026-03-01")); got != want {
		t.Errorf("elapsed = %d, want %d (suspension outside range counted)", got, want)
	}
}

func TestRecordResponseCrossProcessReference(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	r, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1"), false)
	if err != nil {
		t.Fatalf("open round: %v", err)
	}
	_, err = tracker.RecordResponse(ctx, r.ID, date("2026-02-20"), []process.ResponseItem{
		{ItemID: "OBS-OTHER", Answer: "answer to a foreign item", Status: process.ItemAnswered},
	})
	var cpr *process.CrossProcessReferenceError
	if !errors.As(err, &cpr) {
		t.Errorf("error = %v, want CrossProcessReferenceError", err)
	}
}

func TestWithdrawalFromAnyNonTerminalState(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	p, _ := tracker.Start(ctx, "proj-1", date("2026-01-05"), process.InstrumentFull)
	p, err := tracker.RecordResolution(ctx, p.ID, process.ResolutionWithdrawn, date("2026-01-20"), "WD-1")
	if err != nil {
		t.Fatalf("withdraw from submitted: %v", err)
	}
	if p.State != process.StateWithdrawn {
		t.Errorf("state = %s, want withdrawn", p.State)
	}

	p2 := startedUnderReview(t, tracker, "proj-2")
	if _, err := tracker.OpenClarificationRound(ctx, p2.ID, date("2026-02-02"), items("OBS-1"), false); err != nil {
		t.Fatalf("open round: %v", err)
	}
	p2got, err := tracker.RecordResolution(ctx, p2.ID, process.ResolutionLapsed, date("2026-03-01"), "")
	if err != nil {
		t.Fatalf("lapse from clarification_issued: %v", err)
	}
	if p2got.State != process.StateLapsed {
		t.Errorf("state = %s, want lapsed", p2got.State)
	}
	// The lapse closes the running suspension.
	if open := p2got.OpenSuspension(); open != nil {
		t.Error("open suspension should be closed by terminal resolution")
	}
}

func TestFullLifecycleToApproval(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	r, _ := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1"), false)
	tracker.RecordResponse(ctx, r.ID, date("2026-02-20"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "done", Status: process.ItemAnswered},
	})

	p2, err := tracker.Advance(ctx, p.ID) // -> consolidated_review
	if err != nil {
		t.Fatalf("advance to consolidated: %v", err)
	}
	if p2.State != process.StateConsolidatedReview {
		t.Fatalf("state = %s, want consolidated_review", p2.State)
	}
	p2, err = tracker.Advance(ctx, p.ID) // -> committee
	if err != nil {
		t.Fatalf("advance to committee: %v", err)
	}
	p2, err = tracker.RecordResolution(ctx, p.ID, process.ResolutionFavorableConditions, date("2026-05-01"), "RCA-123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p2.State != process.StateApprovedWithConditions {
		t.Errorf("state = %s, want approved_with_conditions", p2.State)
	}
	if p2.ResolutionRef != "RCA-123" {
		t.Errorf("resolution ref = %q, want RCA-123", p2.ResolutionRef)
	}
}

func TestRecordResponseRejectsSupersededRound(t *testing.T) {
	tracker, st := newTestTracker(t)
	ctx := context.Background()
	cal := calendar.New()
	p := startedUnderReview(t, tracker, "proj-1")

	r1, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1"), false)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if _, err := tracker.RecordResponse(ctx, r1.ID, date("2026-02-16"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "done", Status: process.ItemAnswered},
	}); err != nil {
		t.Fatalf("response 1: %v", err)
	}
	r2, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-03-02"), items("OBS-2"), false)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}

	// A response posted against round 1 while round 2 is issued must be
	// rejected, or it would close round 2's suspension at the wrong date.
	_, err = tracker.RecordResponse(ctx, r1.ID, date("2026-03-10"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "again", Status: process.ItemAnswered},
	})
	var verr *process.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("superseded-round response error = %v, want ValidationError", err)
	}

	got, _ := st.ProcessByID(ctx, p.ID)
	if got.State != process.StateClarificationIssued {
		t.Fatalf("state = %s, want clarification_issued (rejected response must not apply)", got.State)
	}
	if open := got.OpenSuspension(); open == nil {
		t.Fatal("round 2's suspension was closed by the rejected response")
	}

	// The genuine response to round 2 still lands and closes the suspension
	// at its own submission date.
	if _, err := tracker.RecordResponse(ctx, r2.ID, date("2026-03-20"), []process.ResponseItem{
		{ItemID: "OBS-2", Answer: "done", Status: process.ItemAnswered},
	}); err != nil {
		t.Fatalf("response 2: %v", err)
	}
	got, _ = st.ProcessByID(ctx, p.ID)
	if got.State != process.StateResponseUnderReview {
		t.Errorf("state = %s, want response_under_review", got.State)
	}
	want := cal.DaysBetween(date("2026-01-05"), date("2026-04-01")) -
		cal.DaysBetween(date("2026-02-02"), date("2026-02-16")) -
		cal.DaysBetween(date("2026-03-02"), date("2026-03-20"))
	if elapsed := tracker.ElapsedDays(got, date("2026-04-01")); elapsed != want {
		t.Errorf("elapsed days = %d, want %d", elapsed, want)
	}
}

func TestRecordVerdict(t *testing.T) {
	tracker, st := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	r, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1", "OBS-2"), false)
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	// Before any response there is nothing to review.
	_, err = tracker.RecordVerdict(ctx, r.ID, process.VerdictSufficient, date("2026-02-10"), nil)
	var ite *process.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("verdict before response: error = %v, want InvalidTransitionError", err)
	}

	// Qualifications in the submitter's payload are discarded.
	resp, err := tracker.RecordResponse(ctx, r.ID, date("2026-02-16"), []process.ResponseItem{
		{ItemID: "OBS-1", Answer: "done", Status: process.ItemAnswered, Qualification: process.QualificationSufficient},
		{ItemID: "OBS-2", Answer: "partly", Status: process.ItemPartiallyAnswered},
	})
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	for _, ri := range resp.Items {
		if ri.Qualification != process.QualificationUnset {
			t.Errorf("item %s qualification = %q, want unset before review", ri.ItemID, ri.Qualification)
		}
	}

	_, err = tracker.RecordVerdict(ctx, r.ID, process.Verdict("maybe"), date("2026-02-20"), nil)
	var verr *process.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("unknown verdict error = %v, want ValidationError", err)
	}
	_, err = tracker.RecordVerdict(ctx, r.ID, process.VerdictPartiallySufficient, date("2026-02-20"),
		map[string]process.Qualification{"OBS-GHOST": process.QualificationSufficient})
	var cpr *process.CrossProcessReferenceError
	if !errors.As(err, &cpr) {
		t.Errorf("foreign qualification error = %v, want CrossProcessReferenceError", err)
	}

	reviewed, err := tracker.RecordVerdict(ctx, r.ID, process.VerdictPartiallySufficient, date("2026-02-20"),
		map[string]process.Qualification{
			"OBS-1": process.QualificationSufficient,
			"OBS-2": process.QualificationInsufficient,
		})
	if err != nil {
		t.Fatalf("record verdict: %v", err)
	}
	if reviewed.Verdict != process.VerdictPartiallySufficient {
		t.Errorf("verdict = %s, want partially_sufficient", reviewed.Verdict)
	}
	if reviewed.ReviewDate == nil || !reviewed.ReviewDate.Equal(date("2026-02-20")) {
		t.Errorf("review date = %v, want 2026-02-20", reviewed.ReviewDate)
	}
	quals := map[string]process.Qualification{}
	for _, ri := range reviewed.Items {
		quals[ri.ItemID] = ri.Qualification
	}
	if quals["OBS-1"] != process.QualificationSufficient || quals["OBS-2"] != process.QualificationInsufficient {
		t.Errorf("qualifications = %v", quals)
	}

	// The verdict persists on the stored response.
	stored, err := st.ResponsesByRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("reload responses: %v", err)
	}
	if len(stored) != 1 || stored[0].Verdict != process.VerdictPartiallySufficient {
		t.Errorf("stored responses = %+v, want one with the recorded verdict", stored)
	}
}

func TestConcurrentModification(t *testing.T) {
	tracker, st := newTestTracker(t)
	ctx := context.Background()

	p, _ := tracker.Start(ctx, "proj-1", date("2026-01-05"), process.InstrumentFull)
	stale, err := st.ProcessByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// A successful transition bumps the version.
	if _, err := tracker.RecordAdmissibility(ctx, p.ID, process.AdmissibilityAdmitted, date("2026-01-12"), ""); err != nil {
		t.Fatalf("record admissibility: %v", err)
	}

	stale.State = process.StateInAdmissibility
	err = st.UpdateProcess(ctx, stale)
	if !errors.Is(err, process.ErrVersionConflict) {
		t.Errorf("stale write error = %v, want ErrVersionConflict", err)
	}
}

func TestMarkRoundLapsed(t *testing.T) {
	tracker, st := newTestTracker(t)
	ctx := context.Background()
	p := startedUnderReview(t, tracker, "proj-1")

	r, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-02-02"), items("OBS-1"), false)
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	// Too early: the deadline has not passed.
	if _, err := tracker.MarkRoundLapsed(ctx, r.ID, r.ResponseDue); err == nil {
		t.Error("lapse before deadline should fail")
	}

	lapsed, err := tracker.MarkRoundLapsed(ctx, r.ID, r.ResponseDue.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("mark lapsed: %v", err)
	}
	if !lapsed.Lapsed {
		t.Error("round not flagged lapsed")
	}

	p, _ = st.ProcessByID(ctx, p.ID)
	if p.State != process.StateUnderReview {
		t.Errorf("state = %s, want under_review", p.State)
	}
	if open := p.OpenSuspension(); open != nil {
		t.Error("suspension should be closed at the due date")
	}
	// A next round can now be opened.
	if _, err := tracker.OpenClarificationRound(ctx, p.ID, date("2026-04-01"), items("OBS-2"), false); err != nil {
		t.Errorf("open round after lapse: %v", err)
	}
}
