package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

// memStorage is an in-memory storage.Storage for controller tests. It mimics
// the postgres behavior the controller depends on: id assignment, transition
// validation inside ChangeProjectState, and audit appends. Spatial queries
// return nothing.
type memStorage struct {
	mu          sync.Mutex
	projects    map[string]*types.Project
	moratoriums map[string]*types.Moratorium
	comments    map[string][]*types.Comment
	audits      []*types.AuditEntry
}

var _ storage.Storage = (*memStorage)(nil)

func newMemStorage() *memStorage {
	return &memStorage{
		projects:    map[string]*types.Project{},
		moratoriums: map[string]*types.Moratorium{},
		comments:    map[string][]*types.Comment{},
	}
}

func (s *memStorage) CreateProject(_ context.Context, p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	clone := *p
	s.projects[p.ID] = &clone
	return nil
}

func (s *memStorage) GetProject(_ context.Context, id string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *memStorage) SearchProjects(_ context.Context, _ types.ProjectFilter, _ types.Page) (*types.PagedProjects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &types.PagedProjects{}
	for _, p := range s.projects {
		clone := *p
		out.Items = append(out.Items, &clone)
	}
	out.Total = len(out.Items)
	return out, nil
}

func (s *memStorage) UpdateProject(ctx context.Context, id string, patch *types.ProjectPatch) (*types.Project, error) {
	if err := s.applyPatch(id, patch); err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

func (s *memStorage) ChangeProjectState(_ context.Context, id string, newState types.State, actorID string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if err := types.ValidateTransition(p.State, newState); err != nil {
		return nil, err
	}
	before := p.State
	p.State = newState
	p.UpdatedAt = time.Now().UTC()
	s.audits = append(s.audits, &types.AuditEntry{
		ID:       uuid.NewString(),
		EntityID: id,
		ActorID:  actorID,
		Action:   types.AuditActionStateChange,
		Before:   map[string]any{"state": before},
		After:    map[string]any{"state": newState},
	})
	clone := *p
	return &clone, nil
}

func (s *memStorage) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.projects, id)
	delete(s.comments, id)
	return nil
}

func (s *memStorage) UpdateConflictStatus(_ context.Context, id string, hasConflict bool, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		p.HasConflict = hasConflict
		p.ConflictingProjectIDs = ids
	}
	return nil
}

func (s *memStorage) UpdateAffectedMunicipalities(_ context.Context, id string, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		p.AffectedMunicipalities = codes
	}
	return nil
}

func (s *memStorage) AddPeerConflict(_ context.Context, id, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok && !p.ConflictsWith(peerID) {
		p.ConflictingProjectIDs = append(p.ConflictingProjectIDs, peerID)
		p.HasConflict = true
	}
	return nil
}

func (s *memStorage) AddComment(_ context.Context, projectID, authorID, content, attachmentURL string) (*types.Comment, error) {
	trimmed, err := types.ValidateCommentContent(content)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return nil, storage.ErrNotFound
	}
	c := &types.Comment{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		AuthorID:      authorID,
		Content:       trimmed,
		AttachmentURL: attachmentURL,
		CreatedAt:     time.Now().UTC(),
	}
	s.comments[projectID] = append(s.comments[projectID], c)
	return c, nil
}

func (s *memStorage) GetComments(_ context.Context, projectID string) ([]*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Comment(nil), s.comments[projectID]...), nil
}

func (s *memStorage) FindSpatiallyIntersecting(context.Context, types.Geometry, float64, []types.State, string) ([]*types.Project, error) {
	return nil, nil
}

func (s *memStorage) FindTemporallyOverlapping(context.Context, types.Date, types.Date, string) ([]*types.Project, error) {
	return nil, nil
}

func (s *memStorage) CreateMoratorium(_ context.Context, m *types.Moratorium) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()
	clone := *m
	s.moratoriums[m.ID] = &clone
	return nil
}

func (s *memStorage) GetMoratorium(_ context.Context, id string) (*types.Moratorium, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moratoriums[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *memStorage) SearchMoratoriums(context.Context, types.MoratoriumFilter, types.Page) (*types.PagedMoratoriums, error) {
	return &types.PagedMoratoriums{}, nil
}

func (s *memStorage) UpdateMoratorium(_ context.Context, id string, patch map[string]any) (*types.Moratorium, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moratoriums[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for key, value := range patch {
		if !types.MoratoriumPatchKeys[key] {
			return nil, fmt.Errorf("%q: %w", key, storage.ErrUnknownPatchKey)
		}
		switch key {
		case "name":
			m.Name = value.(string)
		case "reason":
			m.Reason = value.(string)
		case "reason_detail":
			m.ReasonDetail = value.(string)
		case "exceptions":
			m.Exceptions = value.(string)
		case "valid_from":
			m.ValidFrom = value.(types.Date)
		case "valid_to":
			m.ValidTo = value.(types.Date)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	clone := *m
	return &clone, nil
}

func (s *memStorage) DeleteMoratorium(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moratoriums[id]; !ok {
		return false, nil
	}
	delete(s.moratoriums, id)
	return true, nil
}

func (s *memStorage) FindActiveIntersecting(context.Context, types.Geometry, types.Date) ([]*types.Moratorium, error) {
	return nil, nil
}

func (s *memStorage) CheckViolations(context.Context, types.Geometry, types.Date, types.Date) ([]*types.Moratorium, error) {
	return nil, nil
}

func (s *memStorage) ValidateMoratoriumOverlap(context.Context, types.Geometry, types.Date, types.Date, string, string) (*types.OverlapReport, error) {
	return &types.OverlapReport{}, nil
}

func (s *memStorage) GetActiveMoratoriumsInArea(context.Context, types.Geometry, float64, types.Date) ([]*types.Moratorium, error) {
	return nil, nil
}

func (s *memStorage) FindExpiringSoon(context.Context, int, []string) ([]*types.Moratorium, error) {
	return nil, nil
}

func (s *memStorage) CheckProjectViolations(context.Context, types.Geometry, types.Date, types.Date, []string) (*types.ViolationReport, error) {
	return &types.ViolationReport{CanProceed: true}, nil
}

func (s *memStorage) MoratoriumStatistics(context.Context, string) (*types.MoratoriumStatistics, error) {
	return &types.MoratoriumStatistics{}, nil
}

func (s *memStorage) AppendAudit(_ context.Context, entry *types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	s.audits = append(s.audits, entry)
	return nil
}

func (s *memStorage) MunicipalitiesIntersecting(context.Context, types.Geometry) ([]string, error) {
	return nil, nil
}

func (s *memStorage) RunInTransaction(_ context.Context, fn func(tx storage.Transaction) error) error {
	return fn(&memTx{s: s})
}

func (s *memStorage) Ping(context.Context) error { return nil }
func (s *memStorage) Close() error               { return nil }

func (s *memStorage) applyPatch(id string, patch *types.ProjectPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return storage.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.ContractorOrganization != nil {
		p.ContractorOrganization = *patch.ContractorOrganization
	}
	if patch.ContractorContact != nil {
		p.ContractorContact = patch.ContractorContact
	}
	if patch.StartDate != nil {
		p.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		p.EndDate = *patch.EndDate
	}
	if patch.Geometry != nil {
		p.Geometry = *patch.Geometry
	}
	if patch.WorkType != nil {
		p.WorkType = *patch.WorkType
	}
	if patch.WorkCategory != nil {
		p.WorkCategory = *patch.WorkCategory
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStorage) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.audits))
	for i, a := range s.audits {
		out[i] = a.Action
	}
	return out
}

// memTx reuses the store directly; tests do not exercise rollback.
type memTx struct {
	s *memStorage
}

var _ storage.Transaction = (*memTx)(nil)

func (t *memTx) CreateProject(ctx context.Context, p *types.Project) error {
	return t.s.CreateProject(ctx, p)
}

func (t *memTx) GetProjectForUpdate(ctx context.Context, id string) (*types.Project, error) {
	return t.s.GetProject(ctx, id)
}

func (t *memTx) SetProjectState(_ context.Context, id string, state types.State) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.projects[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.State = state
	return nil
}

func (t *memTx) ApplyProjectPatch(_ context.Context, id string, patch *types.ProjectPatch) error {
	return t.s.applyPatch(id, patch)
}

func (t *memTx) DeleteProject(ctx context.Context, id string) error {
	return t.s.DeleteProject(ctx, id)
}

func (t *memTx) CreateMoratorium(ctx context.Context, m *types.Moratorium) error {
	return t.s.CreateMoratorium(ctx, m)
}

func (t *memTx) UpdateMoratorium(ctx context.Context, id string, patch map[string]any) (*types.Moratorium, error) {
	return t.s.UpdateMoratorium(ctx, id, patch)
}

func (t *memTx) DeleteMoratorium(ctx context.Context, id string) (bool, error) {
	return t.s.DeleteMoratorium(ctx, id)
}

func (t *memTx) AddComment(ctx context.Context, projectID, authorID, content, attachmentURL string) (*types.Comment, error) {
	return t.s.AddComment(ctx, projectID, authorID, content, attachmentURL)
}

func (t *memTx) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	return t.s.AppendAudit(ctx, entry)
}
