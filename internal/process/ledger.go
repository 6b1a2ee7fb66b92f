package process

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// Ledger is the read-only bookkeeping view over clarification rounds and
// their responses. All mutation happens through the Tracker.
type Ledger struct {
	store Store
}

// NewLedger creates a Ledger over the shared store.
func NewLedger(s Store) *Ledger {
	return &Ledger{store: s}
}

// LedgerItem is an observation item annotated with its round and its latest
// authoritative status.
type LedgerItem struct {
	ObservationItem
	RoundSeq     int        `json:"round_seq"`
	LatestStatus ItemStatus `json:"latest_status"`
}

// BodyCount groups pending counts for one reviewing body.
type BodyCount struct {
	ReviewingBody string `json:"reviewing_body"`
	Total         int    `json:"total"`
	Pending       int    `json:"pending"`
	Answered      int    `json:"answered"`
}

// items loads every observation item of the process with its latest status
// applied.
func (l *Ledger) items(ctx context.Context, processID uuid.UUID) ([]LedgerItem, error) {
	rounds, err := l.store.RoundsByProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	statuses, err := l.latestStatuses(ctx, rounds)
	if err != nil {
		return nil, err
	}

	var out []LedgerItem
	for _, r := range rounds {
		for _, it := range r.Items {
			li := LedgerItem{ObservationItem: it, RoundSeq: r.Seq, LatestStatus: it.Status}
			if st, ok := statuses[it.ID]; ok {
				li.LatestStatus = st
			}
			out = append(out, li)
		}
	}
	return out, nil
}

// latestStatuses walks rounds and their responses in descending sequence
// order; the first status found per item id wins.
func (l *Ledger) latestStatuses(ctx context.Context, rounds []ObservationRound) (map[string]ItemStatus, error) {
	statuses := map[string]ItemStatus{}
	for i := len(rounds) - 1; i >= 0; i-- {
		responses, err := l.store.ResponsesByRound(ctx, rounds[i].ID)
		if err != nil {
			return nil, err
		}
		for j := len(responses) - 1; j >= 0; j-- {
			for _, ri := range responses[j].Items {
				if _, seen := statuses[ri.ItemID]; !seen {
					statuses[ri.ItemID] = ri.Status
				}
			}
		}
	}
	return statuses, nil
}

// PendingItems returns every item of the process whose latest status is not
// answered, ordered by priority then round sequence.
func (l *Ledger) PendingItems(ctx context.Context, processID uuid.UUID) ([]LedgerItem, error) {
	all, err := l.items(ctx, processID)
	if err != nil {
		return nil, err
	}
	var out []LedgerItem
	for _, it := range all {
		if it.LatestStatus != ItemAnswered {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].RoundSeq < out[j].RoundSeq
	})
	return out, nil
}

// ItemsByReviewingBody groups item counts per reviewing body, ordered by
// pending count descending for prioritization.
func (l *Ledger) ItemsByReviewingBody(ctx context.Context, processID uuid.UUID) ([]BodyCount, error) {
	all, err := l.items(ctx, processID)
	if err != nil {
		return nil, err
	}
	byBody := map[string]*BodyCount{}
	for _, it := range all {
		bc, ok := byBody[it.ReviewingBody]
		if !ok {
			bc = &BodyCount{ReviewingBody: it.ReviewingBody}
			byBody[it.ReviewingBody] = bc
		}
		bc.Total++
		if it.LatestStatus == ItemAnswered {
			bc.Answered++
		} else {
			bc.Pending++
		}
	}
	out := make([]BodyCount, 0, len(byBody))
	for _, bc := range byBody {
		out = append(out, *bc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pending != out[j].Pending {
			return out[i].Pending > out[j].Pending
		}
		return out[i].ReviewingBody < out[j].ReviewingBody
	})
	return out, nil
}

// LatestStatus returns the authoritative status for one item id: the status
// from the response round with the highest sequence that mentions it, or the
// item's own recorded status when never answered. ErrNotFound for unknown
// ids.
func (l *Ledger) LatestStatus(ctx context.Context, processID uuid.UUID, itemID string) (ItemStatus, error) {
	all, err := l.items(ctx, processID)
	if err != nil {
		return "", err
	}
	for _, it := range all {
		if it.ID == itemID {
			return it.LatestStatus, nil
		}
	}
	return "", ErrNotFound
}
