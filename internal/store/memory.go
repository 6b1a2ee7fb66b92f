package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mquevedo/evalflow/internal/process"
)

// Memory is an in-memory Store with the same versioning semantics as the
// Postgres store. Used by tests and by evaluators run against fixtures.
type Memory struct {
	mu        sync.RWMutex
	processes map[uuid.UUID]*process.EvaluationProcess
	byProject map[string]uuid.UUID
	rounds    map[uuid.UUID]*process.ObservationRound
	responses map[uuid.UUID][]*process.ResponseRound // keyed by round id
	impacts   map[string][]*process.EnvironmentalImpact
	measures  map[string]*process.MitigationMeasure
	links     []process.ImpactMeasureLink
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		processes: map[uuid.UUID]*process.EvaluationProcess{},
		byProject: map[string]uuid.UUID{},
		rounds:    map[uuid.UUID]*process.ObservationRound{},
		responses: map[uuid.UUID][]*process.ResponseRound{},
		impacts:   map[string][]*process.EnvironmentalImpact{},
		measures:  map[string]*process.MitigationMeasure{},
	}
}

// CreateProcess stores a new process. process.ErrAlreadyStarted if the
// project already has one.
func (m *Memory) CreateProcess(_ context.Context, p *process.EvaluationProcess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byProject[p.ProjectID]; ok {
		return process.ErrAlreadyStarted
	}
	p.Version = 1
	cp := cloneProcess(p)
	m.processes[p.ID] = cp
	m.byProject[p.ProjectID] = p.ID
	return nil
}

// ProcessByID returns a copy of the process.
func (m *Memory) ProcessByID(_ context.Context, id uuid.UUID) (*process.EvaluationProcess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[id]
	if !ok {
		return nil, process.ErrNotFound
	}
	return cloneProcess(p), nil
}

// ProcessByProject returns a copy of the project's process.
func (m *Memory) ProcessByProject(_ context.Context, projectID string) (*process.EvaluationProcess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProject[projectID]
	if !ok {
		return nil, process.ErrNotFound
	}
	return cloneProcess(m.processes[id]), nil
}

// UpdateProcess writes p under its version guard and bumps the version.
func (m *Memory) UpdateProcess(_ context.Context, p *process.EvaluationProcess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(p)
}

func (m *Memory) updateLocked(p *process.EvaluationProcess) error {
	cur, ok := m.processes[p.ID]
	if !ok {
		return process.ErrNotFound
	}
	if cur.Version != p.Version {
		return process.ErrVersionConflict
	}
	p.Version++
	m.processes[p.ID] = cloneProcess(p)
	return nil
}

// AppendRound commits the process update and the new round together.
func (m *Memory) AppendRound(_ context.Context, p *process.EvaluationProcess, r *process.ObservationRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateLocked(p); err != nil {
		return err
	}
	m.rounds[r.ID] = cloneRound(r)
	return nil
}

// RoundByID returns a copy of the round.
func (m *Memory) RoundByID(_ context.Context, id uuid.UUID) (*process.ObservationRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, process.ErrNotFound
	}
	return cloneRound(r), nil
}

// RoundsByProcess returns the process's rounds ordered by sequence.
func (m *Memory) RoundsByProcess(_ context.Context, processID uuid.UUID) ([]process.ObservationRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []process.ObservationRound
	for _, r := range m.rounds {
		if r.ProcessID == processID {
			out = append(out, *cloneRound(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// AppendResponse commits the process update, the round's item statuses and
// the new response together.
func (m *Memory) AppendResponse(_ context.Context, p *process.EvaluationProcess, r *process.ObservationRound, resp *process.ResponseRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; !ok {
		return process.ErrNotFound
	}
	if err := m.updateLocked(p); err != nil {
		return err
	}
	m.rounds[r.ID] = cloneRound(r)
	m.responses[r.ID] = append(m.responses[r.ID], cloneResponse(resp))
	return nil
}

// LapseRound commits the process update and the round's lapsed flag together.
func (m *Memory) LapseRound(_ context.Context, p *process.EvaluationProcess, r *process.ObservationRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; !ok {
		return process.ErrNotFound
	}
	if err := m.updateLocked(p); err != nil {
		return err
	}
	m.rounds[r.ID] = cloneRound(r)
	return nil
}

// SaveVerdict writes the reviewer fields of an existing response.
func (m *Memory) SaveVerdict(_ context.Context, resp *process.ResponseRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.responses[resp.RoundID]
	for i, r := range list {
		if r.ID == resp.ID {
			list[i] = cloneResponse(resp)
			return nil
		}
	}
	return process.ErrNotFound
}

// ResponsesByRound returns the round's responses ordered by sequence.
func (m *Memory) ResponsesByRound(_ context.Context, roundID uuid.UUID) ([]process.ResponseRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []process.ResponseRound
	for _, resp := range m.responses[roundID] {
		out = append(out, *cloneResponse(resp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Impacts returns the project's declared impacts.
func (m *Memory) Impacts(_ context.Context, projectID string) ([]process.EnvironmentalImpact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []process.EnvironmentalImpact
	for _, imp := range m.impacts[projectID] {
		out = append(out, *imp)
	}
	return out, nil
}

// ImpactLinks returns measure links for the project's impacts.
func (m *Memory) ImpactLinks(_ context.Context, projectID string) ([]process.ImpactMeasureLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := map[string]bool{}
	for _, imp := range m.impacts[projectID] {
		ids[imp.ID] = true
	}
	var out []process.ImpactMeasureLink
	for _, l := range m.links {
		if ids[l.ImpactID] {
			out = append(out, l)
		}
	}
	return out, nil
}

// SaveImpact upserts an impact.
func (m *Memory) SaveImpact(_ context.Context, imp *process.EnvironmentalImpact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.impacts[imp.ProjectID]
	for i, existing := range list {
		if existing.ID == imp.ID {
			cp := *imp
			list[i] = &cp
			return nil
		}
	}
	cp := *imp
	m.impacts[imp.ProjectID] = append(list, &cp)
	return nil
}

// SaveMeasure upserts a measure.
func (m *Memory) SaveMeasure(_ context.Context, ms *process.MitigationMeasure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ms
	m.measures[ms.ID] = &cp
	return nil
}

// LinkMeasure upserts an impact-measure link.
func (m *Memory) LinkMeasure(_ context.Context, link process.ImpactMeasureLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.links {
		if l.ImpactID == link.ImpactID && l.MeasureID == link.MeasureID {
			m.links[i] = link
			return nil
		}
	}
	m.links = append(m.links, link)
	return nil
}

func cloneProcess(p *process.EvaluationProcess) *process.EvaluationProcess {
	cp := *p
	cp.Suspensions = make([]process.Suspension, len(p.Suspensions))
	copy(cp.Suspensions, p.Suspensions)
	for i, s := range p.Suspensions {
		if s.To != nil {
			to := *s.To
			cp.Suspensions[i].To = &to
		}
	}
	return &cp
}

func cloneRound(r *process.ObservationRound) *process.ObservationRound {
	cp := *r
	cp.Items = make([]process.ObservationItem, len(r.Items))
	copy(cp.Items, r.Items)
	return &cp
}

func cloneResponse(r *process.ResponseRound) *process.ResponseRound {
	cp := *r
	cp.Items = make([]process.ResponseItem, len(r.Items))
	copy(cp.Items, r.Items)
	return &cp
}
