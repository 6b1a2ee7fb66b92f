package process

import (
	"time"

	"github.com/google/uuid"
)

// Instrument is the regulatory track a project follows. It determines the
// legal-day budget and which catalog requirements become mandatory.
type Instrument string

const (
	InstrumentFull       Instrument = "full"
	InstrumentSimplified Instrument = "simplified"
)

// Valid reports whether the instrument is a known value.
func (i Instrument) Valid() bool {
	return i == InstrumentFull || i == InstrumentSimplified
}

// State is the evaluation-process state. Transitions are validated by the
// Tracker; terminal states admit no further mutation.
type State string

const (
	StateSubmitted              State = "submitted"
	StateInAdmissibility        State = "in_admissibility"
	StateAdmitted               State = "admitted"
	StateRejectedAdmissibility  State = "rejected_on_admissibility"
	StateUnderReview            State = "under_review"
	StateClarificationIssued    State = "clarification_issued"
	StateResponseUnderReview    State = "response_under_review"
	StateConsolidatedReview     State = "consolidated_review"
	StateCommittee              State = "committee"
	StateApproved               State = "approved"
	StateApprovedWithConditions State = "approved_with_conditions"
	StateRejected               State = "rejected"
	StateWithdrawn              State = "withdrawn"
	StateLapsed                 State = "lapsed"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateRejectedAdmissibility, StateApproved, StateApprovedWithConditions,
		StateRejected, StateWithdrawn, StateLapsed:
		return true
	}
	return false
}

// Resolution is the final outcome of an evaluation process.
type Resolution string

const (
	ResolutionFavorable           Resolution = "favorable"
	ResolutionFavorableConditions Resolution = "favorable_with_conditions"
	ResolutionUnfavorable         Resolution = "unfavorable"
	ResolutionWithdrawn           Resolution = "withdrawn"
	ResolutionLapsed              Resolution = "lapsed"
)

// Valid reports whether the resolution is a known value.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionFavorable, ResolutionFavorableConditions, ResolutionUnfavorable,
		ResolutionWithdrawn, ResolutionLapsed:
		return true
	}
	return false
}

// AdmissibilityResult is the outcome of the admissibility check.
type AdmissibilityResult string

const (
	AdmissibilityAdmitted AdmissibilityResult = "admitted"
	AdmissibilityRejected AdmissibilityResult = "rejected"
)

// Suspension is a closed or running interval during which legal-day counting
// is paused. An open suspension has a nil To.
type Suspension struct {
	From time.Time  `json:"from"`
	To   *time.Time `json:"to,omitempty"`
}

// EvaluationProcess tracks one project through admissibility, review,
// clarification rounds and resolution. One-to-one with a project.
type EvaluationProcess struct {
	ID                  uuid.UUID           `json:"id" db:"id"`
	ProjectID           string              `json:"project_id" db:"project_id"`
	Instrument          Instrument          `json:"instrument" db:"instrument"`
	State               State               `json:"state" db:"state"`
	SubmissionDate      time.Time           `json:"submission_date" db:"submission_date"`
	AdmissionDate       *time.Time          `json:"admission_date,omitempty" db:"admission_date"`
	AdmissibilityResult AdmissibilityResult `json:"admissibility_result,omitempty" db:"admissibility_result"`
	AdmissibilityNotes  string              `json:"admissibility_notes,omitempty" db:"admissibility_notes"`
	BudgetDays          int                 `json:"budget_days" db:"budget_days"`
	ExtensionDays       int                 `json:"extension_days" db:"extension_days"`
	Suspensions         []Suspension        `json:"suspensions"`
	Resolution          Resolution          `json:"resolution,omitempty" db:"resolution"`
	ResolutionDate      *time.Time          `json:"resolution_date,omitempty" db:"resolution_date"`
	ResolutionRef       string              `json:"resolution_ref,omitempty" db:"resolution_ref"`
	Version             int64               `json:"version" db:"version"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" db:"updated_at"`
}

// OpenSuspension returns the running suspension, if any.
func (p *EvaluationProcess) OpenSuspension() *Suspension {
	for i := range p.Suspensions {
		if p.Suspensions[i].To == nil {
			return &p.Suspensions[i]
		}
	}
	return nil
}

// ItemCategory classifies an observation item.
type ItemCategory string

const (
	ItemClarification ItemCategory = "clarification"
	ItemRectification ItemCategory = "rectification"
	ItemAmplification ItemCategory = "amplification"
)

// ItemStatus is the per-item answer status. The latest response round that
// mentions an item is authoritative for its status.
type ItemStatus string

const (
	ItemPending           ItemStatus = "pending"
	ItemAnswered          ItemStatus = "answered"
	ItemPartiallyAnswered ItemStatus = "partially_answered"
)

// ObservationItem is one observation inside a clarification round.
type ObservationItem struct {
	ID            string       `json:"id"`
	ReviewingBody string       `json:"reviewing_body"`
	Chapter       string       `json:"chapter"`
	Section       string       `json:"section,omitempty"`
	Category      ItemCategory `json:"category"`
	Description   string       `json:"description"`
	Priority      int          `json:"priority"`
	Status        ItemStatus   `json:"status"`
}

// ObservationRound is one numbered clarification round with its items and
// response deadline. Rounds are appended, never deleted.
type ObservationRound struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	ProcessID   uuid.UUID         `json:"process_id" db:"process_id"`
	Seq         int               `json:"seq" db:"seq"`
	Exceptional bool              `json:"exceptional" db:"exceptional"`
	IssueDate   time.Time         `json:"issue_date" db:"issue_date"`
	ResponseDue time.Time         `json:"response_due" db:"response_due"`
	Items       []ObservationItem `json:"items"`
	Lapsed      bool              `json:"lapsed" db:"lapsed"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Verdict is the reviewer's aggregate judgment of a response round.
type Verdict string

const (
	VerdictSufficient          Verdict = "sufficient"
	VerdictInsufficient        Verdict = "insufficient"
	VerdictPartiallySufficient Verdict = "partially_sufficient"
)

// Qualification is the reviewer's per-item judgment of one response item.
type Qualification string

const (
	QualificationUnset        Qualification = ""
	QualificationSufficient   Qualification = "sufficient"
	QualificationInsufficient Qualification = "insufficient"
)

// ResponseItem answers one observation item, optionally citing supporting
// artifacts.
type ResponseItem struct {
	ItemID        string        `json:"item_id"`
	Answer        string        `json:"answer"`
	ArtifactRefs  []string      `json:"artifact_refs,omitempty"`
	Status        ItemStatus    `json:"status"`
	Qualification Qualification `json:"qualification,omitempty"`
}

// ResponseRound is the submitter's formal reply to one clarification round.
type ResponseRound struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	RoundID        uuid.UUID      `json:"round_id" db:"round_id"`
	Seq            int            `json:"seq" db:"seq"`
	SubmissionDate time.Time      `json:"submission_date" db:"submission_date"`
	Items          []ResponseItem `json:"items"`
	AnsweredCount  int            `json:"answered_count" db:"answered_count"`
	PendingCount   int            `json:"pending_count" db:"pending_count"`
	Verdict        Verdict        `json:"verdict,omitempty" db:"verdict"`
	ReviewDate     *time.Time     `json:"review_date,omitempty" db:"review_date"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// Significance classifies an impact's severity. SignificanceSignificant and
// above require at least one linked mitigation measure.
type Significance string

const (
	SignificanceNegligible  Significance = "negligible"
	SignificanceModerate    Significance = "moderate"
	SignificanceSignificant Significance = "significant"
	SignificanceCritical    Significance = "critical"
)

// RequiresMitigation reports whether the significance level triggers the
// mandatory measure-linkage rule.
func (s Significance) RequiresMitigation() bool {
	return s == SignificanceSignificant || s == SignificanceCritical
}

// EnvironmentalImpact is a classified environmental effect declared in the
// submission package.
type EnvironmentalImpact struct {
	ID            string       `json:"id" db:"id"`
	ProjectID     string       `json:"project_id" db:"project_id"`
	Name          string       `json:"name" db:"name"`
	Character     string       `json:"character,omitempty" db:"character"`
	Probability   string       `json:"probability,omitempty" db:"probability"`
	Extent        string       `json:"extent,omitempty" db:"extent"`
	Duration      string       `json:"duration,omitempty" db:"duration"`
	Reversibility string       `json:"reversibility,omitempty" db:"reversibility"`
	Magnitude     float64      `json:"magnitude,omitempty" db:"magnitude"`
	Significance  Significance `json:"significance" db:"significance"`
}

// MeasureTier is the mitigation-hierarchy tier of a measure.
type MeasureTier string

const (
	TierPrevention   MeasureTier = "prevention"
	TierMinimization MeasureTier = "minimization"
	TierRestoration  MeasureTier = "restoration"
	TierCompensation MeasureTier = "compensation"
)

// MitigationMeasure is a declared measure, linkable to impacts.
type MitigationMeasure struct {
	ID     string      `json:"id" db:"id"`
	Name   string      `json:"name" db:"name"`
	Tier   MeasureTier `json:"tier" db:"tier"`
	Phases []string    `json:"phases,omitempty" db:"phases"`
}

// ImpactMeasureLink ties one impact to one measure with an expected
// reduction percentage.
type ImpactMeasureLink struct {
	ImpactID             string  `json:"impact_id" db:"impact_id"`
	MeasureID            string  `json:"measure_id" db:"measure_id"`
	ExpectedReductionPct float64 `json:"expected_reduction_pct" db:"expected_reduction_pct"`
}

// Classification carries the project attributes that drive requirement
// resolution. Owned by the surrounding application.
type Classification struct {
	Category    string `json:"category"`
	SubCategory string `json:"sub_category,omitempty"`
}
