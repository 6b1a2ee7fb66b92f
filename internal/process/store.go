package process

import (
	"context"

	"github.com/google/uuid"
)

// Store is the per-project record store the Tracker and Ledger operate on.
// Implemented by store.Postgres and store.Memory. Composite methods
// (AppendRound, AppendResponse) commit the process update and the nested
// record in one transaction: they either fully apply or fully fail. All
// process writes are guarded by the version counter and fail with
// ErrVersionConflict on a stale read.
type Store interface {
	CreateProcess(ctx context.Context, p *EvaluationProcess) error
	ProcessByID(ctx context.Context, id uuid.UUID) (*EvaluationProcess, error)
	ProcessByProject(ctx context.Context, projectID string) (*EvaluationProcess, error)
	UpdateProcess(ctx context.Context, p *EvaluationProcess) error

	AppendRound(ctx context.Context, p *EvaluationProcess, r *ObservationRound) error
	RoundByID(ctx context.Context, id uuid.UUID) (*ObservationRound, error)
	RoundsByProcess(ctx context.Context, processID uuid.UUID) ([]ObservationRound, error)

	AppendResponse(ctx context.Context, p *EvaluationProcess, r *ObservationRound, resp *ResponseRound) error
	ResponsesByRound(ctx context.Context, roundID uuid.UUID) ([]ResponseRound, error)
	// SaveVerdict writes the reviewer fields (verdict, review date, item
	// qualifications) of an existing response.
	SaveVerdict(ctx context.Context, resp *ResponseRound) error

	// LapseRound commits the process update and the round's lapsed flag
	// atomically.
	LapseRound(ctx context.Context, p *EvaluationProcess, r *ObservationRound) error

	Impacts(ctx context.Context, projectID string) ([]EnvironmentalImpact, error)
	ImpactLinks(ctx context.Context, projectID string) ([]ImpactMeasureLink, error)
	SaveImpact(ctx context.Context, imp *EnvironmentalImpact) error
	SaveMeasure(ctx context.Context, m *MitigationMeasure) error
	LinkMeasure(ctx context.Context, link ImpactMeasureLink) error
}
