package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mquevedo/evalflow/internal/process"
)

// Postgres is the production Store backed by pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const processColumns = `id, project_id, instrument, state, submission_date, admission_date,
	admissibility_result, admissibility_notes, budget_days, extension_days,
	suspensions, resolution, resolution_date, resolution_ref, version, created_at, updated_at`

// CreateProcess inserts a new process row. process.ErrAlreadyStarted when the
// project already has one.
func (s *Postgres) CreateProcess(ctx context.Context, p *process.EvaluationProcess) error {
	p.Version = 1
	susp, _ := json.Marshal(p.Suspensions)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evaluation_processes
			(id, project_id, instrument, state, submission_date, budget_days, extension_days, suspensions, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
	`, p.ID, p.ProjectID, p.Instrument, p.State, p.SubmissionDate, p.BudgetDays, p.ExtensionDays, susp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return process.ErrAlreadyStarted
		}
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

// ProcessByID loads one process.
func (s *Postgres) ProcessByID(ctx context.Context, id uuid.UUID) (*process.EvaluationProcess, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+processColumns+` FROM evaluation_processes WHERE id = $1`, id)
	return scanProcess(row)
}

// ProcessByProject loads the project's process.
func (s *Postgres) ProcessByProject(ctx context.Context, projectID string) (*process.EvaluationProcess, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+processColumns+` FROM evaluation_processes WHERE project_id = $1`, projectID)
	return scanProcess(row)
}

// UpdateProcess writes p under its version guard and bumps the version.
func (s *Postgres) UpdateProcess(ctx context.Context, p *process.EvaluationProcess) error {
	tag, err := s.updateProcessExec(ctx, s.pool, p)
	if err != nil {
		return err
	}
	return s.checkGuard(ctx, tag, p)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Postgres) updateProcessExec(ctx context.Context, ex execer, p *process.EvaluationProcess) (pgconn.CommandTag, error) {
	susp, _ := json.Marshal(p.Suspensions)
	tag, err := ex.Exec(ctx, `
		UPDATE evaluation_processes SET
			state = $3, admission_date = $4, admissibility_result = NULLIF($5, ''),
			admissibility_notes = $6, budget_days = $7, extension_days = $8,
			suspensions = $9, resolution = NULLIF($10, ''), resolution_date = $11,
			resolution_ref = $12, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, p.ID, p.Version, p.State, p.AdmissionDate, string(p.AdmissibilityResult),
		p.AdmissibilityNotes, p.BudgetDays, p.ExtensionDays, susp,
		string(p.Resolution), p.ResolutionDate, p.ResolutionRef)
	if err != nil {
		return tag, fmt.Errorf("update process: %w", err)
	}
	return tag, nil
}

// checkGuard distinguishes a missing row from a version conflict when the
// guarded UPDATE touched nothing.
func (s *Postgres) checkGuard(ctx context.Context, tag pgconn.CommandTag, p *process.EvaluationProcess) error {
	if tag.RowsAffected() == 1 {
		p.Version++
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM evaluation_processes WHERE id = $1)`, p.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check process existence: %w", err)
	}
	if !exists {
		return process.ErrNotFound
	}
	return process.ErrVersionConflict
}

// AppendRound commits the process update and the new round in one
// transaction.
func (s *Postgres) AppendRound(ctx context.Context, p *process.EvaluationProcess, r *process.ObservationRound) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := s.updateProcessExec(ctx, tx, p)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return process.ErrVersionConflict
		}
		items, _ := json.Marshal(r.Items)
		if _, err := tx.Exec(ctx, `
			INSERT INTO observation_rounds (id, process_id, seq, exceptional, issue_date, response_due, items)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.ID, r.ProcessID, r.Seq, r.Exceptional, r.IssueDate, r.ResponseDue, items); err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		p.Version++
		return nil
	})
}

// RoundByID loads one clarification round.
func (s *Postgres) RoundByID(ctx context.Context, id uuid.UUID) (*process.ObservationRound, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, process_id, seq, exceptional, issue_date, response_due, items, lapsed, created_at
		FROM observation_rounds WHERE id = $1
	`, id)
	return scanRound(row)
}

// RoundsByProcess loads the process's rounds ordered by sequence.
func (s *Postgres) RoundsByProcess(ctx context.Context, processID uuid.UUID) ([]process.ObservationRound, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, process_id, seq, exceptional, issue_date, response_due, items, lapsed, created_at
		FROM observation_rounds WHERE process_id = $1 ORDER BY seq
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []process.ObservationRound
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// AppendResponse commits the process update, the round's item statuses and
// the new response in one transaction.
func (s *Postgres) AppendResponse(ctx context.Context, p *process.EvaluationProcess, r *process.ObservationRound, resp *process.ResponseRound) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := s.updateProcessExec(ctx, tx, p)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return process.ErrVersionConflict
		}
		items, _ := json.Marshal(r.Items)
		if _, err := tx.Exec(ctx,
			`UPDATE observation_rounds SET items = $2, lapsed = $3 WHERE id = $1`,
			r.ID, items, r.Lapsed); err != nil {
			return fmt.Errorf("update round items: %w", err)
		}
		respItems, _ := json.Marshal(resp.Items)
		if _, err := tx.Exec(ctx, `
			INSERT INTO response_rounds
				(id, round_id, seq, submission_date, items, answered_count, pending_count, verdict, review_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		`, resp.ID, resp.RoundID, resp.Seq, resp.SubmissionDate, respItems,
			resp.AnsweredCount, resp.PendingCount, string(resp.Verdict), resp.ReviewDate); err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
		p.Version++
		return nil
	})
}

// LapseRound commits the process update and the round's lapsed flag in one
// transaction.
func (s *Postgres) LapseRound(ctx context.Context, p *process.EvaluationProcess, r *process.ObservationRound) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := s.updateProcessExec(ctx, tx, p)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return process.ErrVersionConflict
		}
		if _, err := tx.Exec(ctx,
			`UPDATE observation_rounds SET lapsed = TRUE WHERE id = $1`, r.ID); err != nil {
			return fmt.Errorf("mark round lapsed: %w", err)
		}
		p.Version++
		return nil
	})
}

// SaveVerdict writes the reviewer fields of an existing response.
func (s *Postgres) SaveVerdict(ctx context.Context, resp *process.ResponseRound) error {
	items, _ := json.Marshal(resp.Items)
	tag, err := s.pool.Exec(ctx, `
		UPDATE response_rounds SET verdict = NULLIF($2, ''), review_date = $3, items = $4
		WHERE id = $1
	`, resp.ID, string(resp.Verdict), resp.ReviewDate, items)
	if err != nil {
		return fmt.Errorf("update response verdict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return process.ErrNotFound
	}
	return nil
}

// ResponsesByRound loads the round's responses ordered by sequence.
func (s *Postgres) ResponsesByRound(ctx context.Context, roundID uuid.UUID) ([]process.ResponseRound, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, round_id, seq, submission_date, items, answered_count, pending_count,
			COALESCE(verdict, ''), review_date, created_at
		FROM response_rounds WHERE round_id = $1 ORDER BY seq
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	var out []process.ResponseRound
	for rows.Next() {
		var resp process.ResponseRound
		var items []byte
		var verdict string
		if err := rows.Scan(&resp.ID, &resp.RoundID, &resp.Seq, &resp.SubmissionDate,
			&items, &resp.AnsweredCount, &resp.PendingCount, &verdict,
			&resp.ReviewDate, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal(items, &resp.Items); err != nil {
			return nil, fmt.Errorf("decode response items: %w", err)
		}
		resp.Verdict = process.Verdict(verdict)
		out = append(out, resp)
	}
	return out, rows.Err()
}

// Impacts loads the project's declared impacts.
func (s *Postgres) Impacts(ctx context.Context, projectID string) ([]process.EnvironmentalImpact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, COALESCE(character, ''), COALESCE(probability, ''),
			COALESCE(extent, ''), COALESCE(duration, ''), COALESCE(reversibility, ''),
			COALESCE(magnitude, 0), significance
		FROM environmental_impacts WHERE project_id = $1 ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query impacts: %w", err)
	}
	defer rows.Close()

	var out []process.EnvironmentalImpact
	for rows.Next() {
		var imp process.EnvironmentalImpact
		if err := rows.Scan(&imp.ID, &imp.ProjectID, &imp.Name, &imp.Character,
			&imp.Probability, &imp.Extent, &imp.Duration, &imp.Reversibility,
			&imp.Magnitude, &imp.Significance); err != nil {
			return nil, fmt.Errorf("scan impact: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// ImpactLinks loads measure links for the project's impacts.
func (s *Postgres) ImpactLinks(ctx context.Context, projectID string) ([]process.ImpactMeasureLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT im.impact_id, im.measure_id, im.expected_reduction_pct
		FROM impact_measures im
		JOIN environmental_impacts ei ON ei.id = im.impact_id
		WHERE ei.project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query impact links: %w", err)
	}
	defer rows.Close()

	var out []process.ImpactMeasureLink
	for rows.Next() {
		var l process.ImpactMeasureLink
		if err := rows.Scan(&l.ImpactID, &l.MeasureID, &l.ExpectedReductionPct); err != nil {
			return nil, fmt.Errorf("scan impact link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveImpact upserts an impact.
func (s *Postgres) SaveImpact(ctx context.Context, imp *process.EnvironmentalImpact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO environmental_impacts
			(id, project_id, name, character, probability, extent, duration, reversibility, magnitude, significance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = $3, character = $4, probability = $5, extent = $6, duration = $7,
			reversibility = $8, magnitude = $9, significance = $10
	`, imp.ID, imp.ProjectID, imp.Name, imp.Character, imp.Probability, imp.Extent,
		imp.Duration, imp.Reversibility, imp.Magnitude, imp.Significance)
	if err != nil {
		return fmt.Errorf("upsert impact: %w", err)
	}
	return nil
}

// SaveMeasure upserts a measure.
func (s *Postgres) SaveMeasure(ctx context.Context, m *process.MitigationMeasure) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mitigation_measures (id, name, tier, phases)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, tier = $3, phases = $4
	`, m.ID, m.Name, m.Tier, m.Phases)
	if err != nil {
		return fmt.Errorf("upsert measure: %w", err)
	}
	return nil
}

// LinkMeasure upserts an impact-measure link.
func (s *Postgres) LinkMeasure(ctx context.Context, link process.ImpactMeasureLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO impact_measures (impact_id, measure_id, expected_reduction_pct)
		VALUES ($1, $2, $3)
		ON CONFLICT (impact_id, measure_id) DO UPDATE SET expected_reduction_pct = $3
	`, link.ImpactID, link.MeasureID, link.ExpectedReductionPct)
	if err != nil {
		return fmt.Errorf("upsert impact link: %w", err)
	}
	return nil
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*process.EvaluationProcess, error) {
	var p process.EvaluationProcess
	var susp []byte
	var admResult, resolution *string
	err := row.Scan(&p.ID, &p.ProjectID, &p.Instrument, &p.State, &p.SubmissionDate,
		&p.AdmissionDate, &admResult, &p.AdmissibilityNotes, &p.BudgetDays,
		&p.ExtensionDays, &susp, &resolution, &p.ResolutionDate, &p.ResolutionRef,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, process.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}
	if err := json.Unmarshal(susp, &p.Suspensions); err != nil {
		return nil, fmt.Errorf("decode suspensions: %w", err)
	}
	if admResult != nil {
		p.AdmissibilityResult = process.AdmissibilityResult(*admResult)
	}
	if resolution != nil {
		p.Resolution = process.Resolution(*resolution)
	}
	return &p, nil
}

func scanRound(row rowScanner) (*process.ObservationRound, error) {
	var r process.ObservationRound
	var items []byte
	err := row.Scan(&r.ID, &r.ProcessID, &r.Seq, &r.Exceptional, &r.IssueDate,
		&r.ResponseDue, &items, &r.Lapsed, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, process.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan round: %w", err)
	}
	if err := json.Unmarshal(items, &r.Items); err != nil {
		return nil, fmt.Errorf("decode round items: %w", err)
	}
	return &r, nil
}
