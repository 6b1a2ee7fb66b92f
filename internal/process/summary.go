package process

import (
	"context"
	"fmt"
	"time"
)

// Summary is the per-project process snapshot served to the UI layer.
type Summary struct {
	ProjectID     string      `json:"project_id"`
	ProcessID     string      `json:"process_id"`
	State         State       `json:"state"`
	Instrument    Instrument  `json:"instrument"`
	BudgetDays    int         `json:"budget_days"`
	ExtensionDays int         `json:"extension_days,omitempty"`
	ElapsedDays   int         `json:"elapsed_days"`
	SuspendedDays int         `json:"suspended_days"`
	RemainingDays int         `json:"remaining_days"`
	RoundCount    int         `json:"round_count"`
	PendingItems  int         `json:"pending_items"`
	PendingByBody []BodyCount `json:"pending_by_body,omitempty"`
	NextAction    string      `json:"next_action"`
	DeadlineAlert string      `json:"deadline_alert,omitempty"`
	Resolution    Resolution  `json:"resolution,omitempty"`
	ResponseDue   *time.Time  `json:"response_due,omitempty"`
	Version       int64       `json:"version"`
}

// Summary assembles the process snapshot for a project as of a date.
func (t *Tracker) Summary(ctx context.Context, ledger *Ledger, projectID string, asOf time.Time) (*Summary, error) {
	p, err := t.store.ProcessByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rounds, err := t.store.RoundsByProcess(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	byBody, err := ledger.ItemsByReviewingBody(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	pending := 0
	for _, bc := range byBody {
		pending += bc.Pending
	}

	s := &Summary{
		ProjectID:     p.ProjectID,
		ProcessID:     p.ID.String(),
		State:         p.State,
		Instrument:    p.Instrument,
		BudgetDays:    p.BudgetDays,
		ExtensionDays: p.ExtensionDays,
		ElapsedDays:   t.ElapsedDays(p, asOf),
		SuspendedDays: t.suspendedDays(p, day(asOf)),
		RoundCount:    len(rounds),
		PendingItems:  pending,
		PendingByBody: byBody,
		Resolution:    p.Resolution,
		Version:       p.Version,
	}
	s.RemainingDays = p.BudgetDays + p.ExtensionDays - s.ElapsedDays

	if p.State == StateClarificationIssued && len(rounds) > 0 {
		due := rounds[len(rounds)-1].ResponseDue
		s.ResponseDue = &due
	}
	s.NextAction = nextAction(p.State, s.ResponseDue)

	if !p.State.Terminal() && s.RemainingDays <= t.cfg.DeadlineAlertDays {
		s.DeadlineAlert = fmt.Sprintf("%d legal days remaining of %d", s.RemainingDays, p.BudgetDays+p.ExtensionDays)
	}
	return s, nil
}

func nextAction(state State, due *time.Time) string {
	switch state {
	case StateSubmitted, StateInAdmissibility:
		return "record admissibility result"
	case StateAdmitted:
		return "begin technical review"
	case StateUnderReview:
		return "open a clarification round or advance to consolidated review"
	case StateClarificationIssued:
		if due != nil {
			return "awaiting response, due " + due.Format("2006-01-02")
		}
		return "awaiting response"
	case StateResponseUnderReview:
		return "review response; open another round or advance to consolidated review"
	case StateConsolidatedReview:
		return "send to committee or record resolution"
	case StateCommittee:
		return "record resolution"
	default:
		return "none"
	}
}
