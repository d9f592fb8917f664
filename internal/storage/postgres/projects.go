package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

// projectColumns is the select list shared by every project query. Geometry
// comes back as GeoJSON text so what was ingested round-trips.
const projectColumns = `id, name, applicant_id, contractor_organization, contractor_contact,
	state, start_date, end_date, ST_AsGeoJSON(geometry) AS geometry,
	work_type, work_category, description, has_conflict,
	conflicting_project_ids, affected_municipalities, created_at, updated_at`

// geomFromJSON is the ingest expression for GeoJSON input in WGS84.
const geomFromJSON = `ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p           types.Project
		contactJSON []byte
		geoJSON     []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.ApplicantID, &p.ContractorOrganization, &contactJSON,
		&p.State, &p.StartDate, &p.EndDate, &geoJSON,
		&p.WorkType, &p.WorkCategory, &p.Description, &p.HasConflict,
		&p.ConflictingProjectIDs, &p.AffectedMunicipalities, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(contactJSON) > 0 {
		var contact types.ContractorContact
		if err := json.Unmarshal(contactJSON, &contact); err != nil {
			return nil, fmt.Errorf("postgres: decode contractor contact: %w", err)
		}
		p.ContractorContact = &contact
	}
	if len(geoJSON) > 0 {
		geom, err := types.ParseGeometry(geoJSON)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode geometry: %w", err)
		}
		p.Geometry = geom
	}
	return &p, nil
}

func collectProjects(ctx context.Context, q querier, sql string, args ...any) ([]*types.Project, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertProject(ctx context.Context, q querier, p *types.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	// Derived fields always start clean; the detector owns them.
	p.HasConflict = false
	p.ConflictingProjectIDs = nil
	p.AffectedMunicipalities = nil

	var contactJSON []byte
	if p.ContractorContact != nil {
		var err error
		contactJSON, err = json.Marshal(p.ContractorContact)
		if err != nil {
			return fmt.Errorf("postgres: encode contractor contact: %w", err)
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO projects (
			id, name, applicant_id, contractor_organization, contractor_contact,
			state, start_date, end_date, geometry,
			work_type, work_category, description,
			has_conflict, conflicting_project_ids, affected_municipalities,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			ST_SetSRID(ST_GeomFromGeoJSON($9), 4326),
			$10, $11, $12, false, '{}', '{}', $13, $14
		)`,
		p.ID, p.Name, p.ApplicantID, p.ContractorOrganization, contactJSON,
		p.State, p.StartDate, p.EndDate, string(p.Geometry.GeoJSON()),
		p.WorkType, p.WorkCategory, p.Description,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert project: %w", err)
	}
	return nil
}

// CreateProject persists a new project with clean derived fields.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	return insertProject(ctx, s.pool, p)
}

func (t *storeTx) CreateProject(ctx context.Context, p *types.Project) error {
	return insertProject(ctx, t.tx, p)
}

// GetProject loads one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// GetProjectForUpdate loads one project with FOR UPDATE row locking.
func (t *storeTx) GetProjectForUpdate(ctx context.Context, id string) (*types.Project, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id)
	return scanProject(row)
}

// SearchProjects returns one page ordered by creation time descending plus
// the total count.
func (s *Store) SearchProjects(ctx context.Context, filter types.ProjectFilter, page types.Page) (*types.PagedProjects, error) {
	where, args := buildProjectWhere(filter)
	page = page.Normalize()

	var total int
	countSQL := `SELECT count(*) FROM projects` + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: count projects: %w", err)
	}

	pageSQL := fmt.Sprintf(`SELECT %s FROM projects%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		projectColumns, where, page.Limit, page.Offset())
	items, err := collectProjects(ctx, s.pool, pageSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search projects: %w", err)
	}
	return &types.PagedProjects{Total: total, Items: items}, nil
}

// buildProjectWhere assembles the WHERE clause for a filter. Zero-value
// fields contribute nothing.
func buildProjectWhere(filter types.ProjectFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}
	if len(filter.States) > 0 {
		conds = append(conds, fmt.Sprintf("state = ANY($%d)", arg(filter.States)))
	}
	if filter.MunicipalityCode != "" {
		conds = append(conds, fmt.Sprintf("$%d = ANY(affected_municipalities)", arg(filter.MunicipalityCode)))
	}
	if len(filter.Municipalities) > 0 {
		conds = append(conds, fmt.Sprintf("affected_municipalities && $%d", arg(filter.Municipalities)))
	}
	if filter.DateFrom != nil && filter.DateTo != nil {
		// Closed-interval overlap with [DateFrom, DateTo].
		conds = append(conds, fmt.Sprintf("start_date <= $%d", arg(*filter.DateTo)))
		conds = append(conds, fmt.Sprintf("end_date >= $%d", arg(*filter.DateFrom)))
	}
	if filter.WorkCategory != "" {
		conds = append(conds, fmt.Sprintf("work_category = $%d", arg(filter.WorkCategory)))
	}
	if filter.HasConflict != nil {
		conds = append(conds, fmt.Sprintf("has_conflict = $%d", arg(*filter.HasConflict)))
	}
	if filter.ApplicantID != "" {
		conds = append(conds, fmt.Sprintf("applicant_id = $%d", arg(filter.ApplicantID)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// applyProjectPatch builds and runs the dynamic UPDATE for an
// attribute-only patch.
func applyProjectPatch(ctx context.Context, q querier, id string, patch *types.ProjectPatch) error {
	if patch.State != nil {
		return fmt.Errorf("postgres: state changes must go through ChangeProjectState")
	}
	var (
		sets []string
		args []any
	)
	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}
	if patch.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", arg(*patch.Name)))
	}
	if patch.ContractorOrganization != nil {
		sets = append(sets, fmt.Sprintf("contractor_organization = $%d", arg(*patch.ContractorOrganization)))
	}
	if patch.ContractorContact != nil {
		contactJSON, err := json.Marshal(patch.ContractorContact)
		if err != nil {
			return fmt.Errorf("postgres: encode contractor contact: %w", err)
		}
		sets = append(sets, fmt.Sprintf("contractor_contact = $%d", arg(contactJSON)))
	}
	if patch.StartDate != nil {
		sets = append(sets, fmt.Sprintf("start_date = $%d", arg(*patch.StartDate)))
	}
	if patch.EndDate != nil {
		sets = append(sets, fmt.Sprintf("end_date = $%d", arg(*patch.EndDate)))
	}
	if patch.Geometry != nil {
		sets = append(sets, fmt.Sprintf("geometry = ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)", arg(string(patch.Geometry.GeoJSON()))))
	}
	if patch.WorkType != nil {
		sets = append(sets, fmt.Sprintf("work_type = $%d", arg(*patch.WorkType)))
	}
	if patch.WorkCategory != nil {
		sets = append(sets, fmt.Sprintf("work_category = $%d", arg(*patch.WorkCategory)))
	}
	if patch.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", arg(*patch.Description)))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", arg(time.Now().UTC())))

	sql := "UPDATE projects SET " + sets[0]
	for _, set := range sets[1:] {
		sql += ", " + set
	}
	sql += fmt.Sprintf(" WHERE id = $%d", arg(id))

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres: update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateProject applies an attribute-only patch and returns the fresh row.
func (s *Store) UpdateProject(ctx context.Context, id string, patch *types.ProjectPatch) (*types.Project, error) {
	if err := applyProjectPatch(ctx, s.pool, id, patch); err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

func (t *storeTx) ApplyProjectPatch(ctx context.Context, id string, patch *types.ProjectPatch) error {
	return applyProjectPatch(ctx, t.tx, id, patch)
}

// ChangeProjectState atomically validates the transition, writes the state,
// and appends the audit entry. A crash between the two writes is not
// observable: both happen in the same transaction.
func (s *Store) ChangeProjectState(ctx context.Context, id string, newState types.State, actorID string) (*types.Project, error) {
	var updated *types.Project
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		current, err := tx.GetProjectForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := types.ValidateTransition(current.State, newState); err != nil {
			return err
		}
		if err := tx.SetProjectState(ctx, id, newState); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &types.AuditEntry{
			EntityID: id,
			ActorID:  actorID,
			Action:   types.AuditActionStateChange,
			Before:   map[string]any{"state": current.State},
			After:    map[string]any{"state": newState},
		}); err != nil {
			return err
		}
		current.State = newState
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (t *storeTx) SetProjectState(ctx context.Context, id string, state types.State) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE projects SET state = $1, updated_at = $2 WHERE id = $3`,
		state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: set state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func deleteProject(ctx context.Context, q querier, id string) error {
	if _, err := q.Exec(ctx, `DELETE FROM project_comments WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete comments: %w", err)
	}
	tag, err := q.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteProject hard-deletes the row and its comments.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.pool, id)
}

func (t *storeTx) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, t.tx, id)
}

// UpdateConflictStatus overwrites the derived conflict columns. The id set
// is deduplicated and never contains the subject itself.
func (s *Store) UpdateConflictStatus(ctx context.Context, id string, hasConflict bool, conflictingIDs []string) error {
	clean := dedupeExcluding(conflictingIDs, id)
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET has_conflict = $1, conflicting_project_ids = $2, updated_at = $3 WHERE id = $4`,
		hasConflict, clean, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: update conflict status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateAffectedMunicipalities overwrites the derived municipality column.
func (s *Store) UpdateAffectedMunicipalities(ctx context.Context, id string, codes []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET affected_municipalities = $1, updated_at = $2 WHERE id = $3`,
		dedupeExcluding(codes, ""), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: update municipalities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddPeerConflict appends peerID to the project's conflict set under row
// locking. Concurrent detectors on the same subject dedupe here, on
// read-modify-write.
func (s *Store) AddPeerConflict(ctx context.Context, id, peerID string) error {
	if id == peerID {
		return nil
	}
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		stx := tx.(*storeTx)
		var current []string
		err := stx.tx.QueryRow(ctx,
			`SELECT conflicting_project_ids FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			return mapNotFound(err)
		}
		for _, existing := range current {
			if existing == peerID {
				return nil
			}
		}
		current = append(current, peerID)
		_, err = stx.tx.Exec(ctx,
			`UPDATE projects SET conflicting_project_ids = $1, has_conflict = true, updated_at = $2 WHERE id = $3`,
			current, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("postgres: add peer conflict: %w", err)
		}
		return nil
	})
}

// FindSpatiallyIntersecting returns projects in the given states within
// bufferMeters of geom, metric distance on the geography cast.
func (s *Store) FindSpatiallyIntersecting(ctx context.Context, geom types.Geometry, bufferMeters float64, states []types.State, excludeID string) ([]*types.Project, error) {
	sql := `SELECT ` + projectColumns + ` FROM projects
		WHERE ST_DWithin(geometry::geography, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326)::geography, $2)
		  AND ($3::text[] IS NULL OR state = ANY($3))
		  AND ($4 = '' OR id <> $4)
		ORDER BY created_at DESC`
	var stateArg []types.State
	if len(states) > 0 {
		stateArg = states
	}
	out, err := collectProjects(ctx, s.pool, sql, string(geom.GeoJSON()), bufferMeters, stateArg, excludeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: spatial query: %w", err)
	}
	return out, nil
}

// FindTemporallyOverlapping returns projects whose closed date interval
// shares at least one day with [start, end].
func (s *Store) FindTemporallyOverlapping(ctx context.Context, start, end types.Date, excludeID string) ([]*types.Project, error) {
	sql := `SELECT ` + projectColumns + ` FROM projects
		WHERE start_date <= $2 AND end_date >= $1
		  AND ($3 = '' OR id <> $3)
		ORDER BY created_at DESC`
	out, err := collectProjects(ctx, s.pool, sql, start, end, excludeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: temporal query: %w", err)
	}
	return out, nil
}

// dedupeExcluding copies values, dropping duplicates and the excluded id.
// Always returns a non-nil slice so the array column never reads NULL.
func dedupeExcluding(values []string, exclude string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || v == exclude || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
