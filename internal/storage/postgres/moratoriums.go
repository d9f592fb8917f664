package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

const moratoriumColumns = `id, name, ST_AsGeoJSON(geometry) AS geometry, reason, reason_detail,
	valid_from, valid_to, exceptions, created_by, municipality_code, created_at`

// expiringSoonDays is the statistics horizon for "expiring soon".
const expiringSoonDays = 30

func scanMoratorium(row rowScanner) (*types.Moratorium, error) {
	var (
		m       types.Moratorium
		geoJSON []byte
	)
	err := row.Scan(
		&m.ID, &m.Name, &geoJSON, &m.Reason, &m.ReasonDetail,
		&m.ValidFrom, &m.ValidTo, &m.Exceptions, &m.CreatedBy, &m.MunicipalityCode, &m.CreatedAt,
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(geoJSON) > 0 {
		geom, err := types.ParseGeometry(geoJSON)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode geometry: %w", err)
		}
		m.Geometry = geom
	}
	return &m, nil
}

func collectMoratoriums(ctx context.Context, q querier, sql string, args ...any) ([]*types.Moratorium, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Moratorium
	for rows.Next() {
		m, err := scanMoratorium(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertMoratorium(ctx context.Context, q querier, m *types.Moratorium) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO moratoriums (
			id, name, geometry, reason, reason_detail,
			valid_from, valid_to, exceptions, created_by, municipality_code, created_at
		) VALUES (
			$1, $2, ST_SetSRID(ST_GeomFromGeoJSON($3), 4326), $4, $5,
			$6, $7, $8, $9, $10, $11
		)`,
		m.ID, m.Name, string(m.Geometry.GeoJSON()), m.Reason, m.ReasonDetail,
		m.ValidFrom, m.ValidTo, m.Exceptions, m.CreatedBy, m.MunicipalityCode, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert moratorium: %w", err)
	}
	return nil
}

// CreateMoratorium persists a new moratorium after enforcing the five-year
// bound.
func (s *Store) CreateMoratorium(ctx context.Context, m *types.Moratorium) error {
	return insertMoratorium(ctx, s.pool, m)
}

func (t *storeTx) CreateMoratorium(ctx context.Context, m *types.Moratorium) error {
	return insertMoratorium(ctx, t.tx, m)
}

// GetMoratorium loads one moratorium by id.
func (s *Store) GetMoratorium(ctx context.Context, id string) (*types.Moratorium, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+moratoriumColumns+` FROM moratoriums WHERE id = $1`, id)
	return scanMoratorium(row)
}

// SearchMoratoriums returns one page ordered by creation time descending.
func (s *Store) SearchMoratoriums(ctx context.Context, filter types.MoratoriumFilter, page types.Page) (*types.PagedMoratoriums, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}
	if filter.MunicipalityCode != "" {
		conds = append(conds, fmt.Sprintf("municipality_code = $%d", arg(filter.MunicipalityCode)))
	}
	if len(filter.MunicipalityCodes) > 0 {
		conds = append(conds, fmt.Sprintf("municipality_code = ANY($%d)", arg(filter.MunicipalityCodes)))
	}
	if filter.ActiveOn != nil {
		conds = append(conds, fmt.Sprintf("valid_from <= $%d", arg(*filter.ActiveOn)))
		conds = append(conds, fmt.Sprintf("valid_to >= $%d", arg(*filter.ActiveOn)))
	}
	if filter.OverlapFrom != nil && filter.OverlapTo != nil {
		conds = append(conds, fmt.Sprintf("valid_from <= $%d", arg(*filter.OverlapTo)))
		conds = append(conds, fmt.Sprintf("valid_to >= $%d", arg(*filter.OverlapFrom)))
	}
	if filter.CreatedBy != "" {
		conds = append(conds, fmt.Sprintf("created_by = $%d", arg(filter.CreatedBy)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + conds[0]
		for _, c := range conds[1:] {
			where += " AND " + c
		}
	}
	page = page.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM moratoriums`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: count moratoriums: %w", err)
	}
	sql := fmt.Sprintf(`SELECT %s FROM moratoriums%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		moratoriumColumns, where, page.Limit, page.Offset())
	items, err := collectMoratoriums(ctx, s.pool, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search moratoriums: %w", err)
	}
	return &types.PagedMoratoriums{Total: total, Items: items}, nil
}

// patchDate coerces a patch value into a Date.
func patchDate(key string, v any) (types.Date, error) {
	switch val := v.(type) {
	case types.Date:
		return val, nil
	case string:
		return types.ParseDate(val)
	default:
		return types.Date{}, &types.ValidationError{Field: key, Message: fmt.Sprintf("cannot use %T as date", v)}
	}
}

// updateMoratorium applies a dynamic patch keyed by column name. Unknown
// keys are rejected; a change to either date re-validates the five-year
// bound against the merged record.
func updateMoratorium(ctx context.Context, q querier, id string, patch map[string]any) (*types.Moratorium, error) {
	for key := range patch {
		if !types.MoratoriumPatchKeys[key] {
			return nil, fmt.Errorf("%w: %q", storage.ErrUnknownPatchKey, key)
		}
	}

	row := q.QueryRow(ctx, `SELECT `+moratoriumColumns+` FROM moratoriums WHERE id = $1 FOR UPDATE`, id)
	current, err := scanMoratorium(row)
	if err != nil {
		return nil, err
	}

	merged := *current
	var (
		sets []string
		args []any
	)
	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}
	for key, v := range patch {
		switch key {
		case "name":
			merged.Name = fmt.Sprint(v)
			sets = append(sets, fmt.Sprintf("name = $%d", arg(merged.Name)))
		case "reason":
			merged.Reason = fmt.Sprint(v)
			sets = append(sets, fmt.Sprintf("reason = $%d", arg(merged.Reason)))
		case "reason_detail":
			merged.ReasonDetail = fmt.Sprint(v)
			sets = append(sets, fmt.Sprintf("reason_detail = $%d", arg(merged.ReasonDetail)))
		case "exceptions":
			merged.Exceptions = fmt.Sprint(v)
			sets = append(sets, fmt.Sprintf("exceptions = $%d", arg(merged.Exceptions)))
		case "municipality_code":
			merged.MunicipalityCode = fmt.Sprint(v)
			sets = append(sets, fmt.Sprintf("municipality_code = $%d", arg(merged.MunicipalityCode)))
		case "valid_from":
			d, err := patchDate(key, v)
			if err != nil {
				return nil, err
			}
			merged.ValidFrom = d
			sets = append(sets, fmt.Sprintf("valid_from = $%d", arg(d)))
		case "valid_to":
			d, err := patchDate(key, v)
			if err != nil {
				return nil, err
			}
			merged.ValidTo = d
			sets = append(sets, fmt.Sprintf("valid_to = $%d", arg(d)))
		case "geometry":
			var geom types.Geometry
			switch g := v.(type) {
			case types.Geometry:
				geom = g
			case string:
				geom, err = types.ParseGeometry([]byte(g))
				if err != nil {
					return nil, err
				}
			case []byte:
				geom, err = types.ParseGeometry(g)
				if err != nil {
					return nil, err
				}
			default:
				return nil, &types.ValidationError{Field: "geometry", Message: fmt.Sprintf("cannot use %T as geometry", v)}
			}
			merged.Geometry = geom
			sets = append(sets, fmt.Sprintf("geometry = ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)", arg(string(geom.GeoJSON()))))
		}
	}
	if len(sets) == 0 {
		return current, nil
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	sql := "UPDATE moratoriums SET " + sets[0]
	for _, set := range sets[1:] {
		sql += ", " + set
	}
	sql += fmt.Sprintf(" WHERE id = $%d", arg(id))
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("postgres: update moratorium: %w", err)
	}
	return &merged, nil
}

// UpdateMoratorium applies a dynamic partial update inside a transaction so
// the validation read and the write are one unit.
func (s *Store) UpdateMoratorium(ctx context.Context, id string, patch map[string]any) (*types.Moratorium, error) {
	var updated *types.Moratorium
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		updated, err = tx.UpdateMoratorium(ctx, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (t *storeTx) UpdateMoratorium(ctx context.Context, id string, patch map[string]any) (*types.Moratorium, error) {
	return updateMoratorium(ctx, t.tx, id, patch)
}

func deleteMoratorium(ctx context.Context, q querier, id string) (bool, error) {
	tag, err := q.Exec(ctx, `DELETE FROM moratoriums WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: delete moratorium: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteMoratorium hard-deletes the row.
func (s *Store) DeleteMoratorium(ctx context.Context, id string) (bool, error) {
	return deleteMoratorium(ctx, s.pool, id)
}

func (t *storeTx) DeleteMoratorium(ctx context.Context, id string) (bool, error) {
	return deleteMoratorium(ctx, t.tx, id)
}

// FindActiveIntersecting returns moratoriums in force on asOf whose geometry
// intersects geom.
func (s *Store) FindActiveIntersecting(ctx context.Context, geom types.Geometry, asOf types.Date) ([]*types.Moratorium, error) {
	if asOf.IsZero() {
		asOf = types.Today(time.UTC)
	}
	sql := `SELECT ` + moratoriumColumns + ` FROM moratoriums
		WHERE valid_from <= $2 AND valid_to >= $2
		  AND ST_Intersects(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))
		ORDER BY created_at DESC`
	out, err := collectMoratoriums(ctx, s.pool, sql, string(geom.GeoJSON()), asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: active intersecting: %w", err)
	}
	return out, nil
}

// CheckViolations returns moratoriums whose validity interval has any shared
// day with [start, end] (closed intervals) and whose geometry intersects
// geom.
func (s *Store) CheckViolations(ctx context.Context, geom types.Geometry, start, end types.Date) ([]*types.Moratorium, error) {
	sql := `SELECT ` + moratoriumColumns + ` FROM moratoriums
		WHERE valid_from <= $3 AND valid_to >= $2
		  AND ST_Intersects(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))
		ORDER BY created_at DESC`
	out, err := collectMoratoriums(ctx, s.pool, sql, string(geom.GeoJSON()), start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: check violations: %w", err)
	}
	return out, nil
}

// ValidateMoratoriumOverlap is the advisory check run before creating or
// editing a moratorium: same overlap predicate, restricted to one
// municipality.
func (s *Store) ValidateMoratoriumOverlap(ctx context.Context, geom types.Geometry, from, to types.Date, municipalityCode, excludeID string) (*types.OverlapReport, error) {
	sql := `SELECT ` + moratoriumColumns + ` FROM moratoriums
		WHERE municipality_code = $4
		  AND valid_from <= $3 AND valid_to >= $2
		  AND ST_Intersects(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))
		  AND ($5 = '' OR id <> $5)
		ORDER BY created_at DESC`
	overlapping, err := collectMoratoriums(ctx, s.pool, sql, string(geom.GeoJSON()), from, to, municipalityCode, excludeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: validate overlap: %w", err)
	}
	report := &types.OverlapReport{
		HasOverlap:  len(overlapping) > 0,
		Overlapping: overlapping,
	}
	for _, m := range overlapping {
		report.Warnings = append(report.Warnings, moratoriumWarning(m))
	}
	return report, nil
}

// GetActiveMoratoriumsInArea expands the query geometry by a metric buffer
// before intersecting.
func (s *Store) GetActiveMoratoriumsInArea(ctx context.Context, geom types.Geometry, bufferMeters float64, asOf types.Date) ([]*types.Moratorium, error) {
	if asOf.IsZero() {
		asOf = types.Today(time.UTC)
	}
	sql := `SELECT ` + moratoriumColumns + ` FROM moratoriums
		WHERE valid_from <= $3 AND valid_to >= $3
		  AND ST_Intersects(geometry::geography, ST_Buffer(ST_SetSRID(ST_GeomFromGeoJSON($1), 4326)::geography, $2))
		ORDER BY created_at DESC`
	out, err := collectMoratoriums(ctx, s.pool, sql, string(geom.GeoJSON()), bufferMeters, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: active in area: %w", err)
	}
	return out, nil
}

// FindExpiringSoon returns moratoriums with valid_to in [today, today+days].
func (s *Store) FindExpiringSoon(ctx context.Context, days int, municipalityCodes []string) ([]*types.Moratorium, error) {
	today := types.Today(time.UTC)
	until := today.AddDays(days)
	sql := `SELECT ` + moratoriumColumns + ` FROM moratoriums
		WHERE valid_to >= $1 AND valid_to <= $2
		  AND ($3::text[] IS NULL OR municipality_code = ANY($3))
		ORDER BY valid_to ASC`
	var codesArg []string
	if len(municipalityCodes) > 0 {
		codesArg = municipalityCodes
	}
	out, err := collectMoratoriums(ctx, s.pool, sql, today, until, codesArg)
	if err != nil {
		return nil, fmt.Errorf("postgres: expiring soon: %w", err)
	}
	return out, nil
}

// CheckProjectViolations is the advisory project-facing check. Moratoriums
// warn, they never block: CanProceed is always true.
func (s *Store) CheckProjectViolations(ctx context.Context, geom types.Geometry, start, end types.Date, municipalityCodes []string) (*types.ViolationReport, error) {
	violations, err := s.CheckViolations(ctx, geom, start, end)
	if err != nil {
		return nil, err
	}
	if len(municipalityCodes) > 0 {
		allowed := make(map[string]bool, len(municipalityCodes))
		for _, c := range municipalityCodes {
			allowed[c] = true
		}
		filtered := violations[:0]
		for _, m := range violations {
			if allowed[m.MunicipalityCode] {
				filtered = append(filtered, m)
			}
		}
		violations = filtered
	}
	report := &types.ViolationReport{Violations: violations, CanProceed: true}
	for _, m := range violations {
		report.Warnings = append(report.Warnings, moratoriumWarning(m))
	}
	return report, nil
}

// MoratoriumStatistics computes counts and the summed metric area of active
// moratoriums for one municipality in a single scan.
func (s *Store) MoratoriumStatistics(ctx context.Context, municipalityCode string) (*types.MoratoriumStatistics, error) {
	today := types.Today(time.UTC)
	until := today.AddDays(expiringSoonDays)
	var stats types.MoratoriumStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE valid_from <= $2 AND valid_to >= $2),
		       count(*) FILTER (WHERE valid_to >= $2 AND valid_to <= $3),
		       COALESCE(sum(ST_Area(geometry::geography)) FILTER (WHERE valid_from <= $2 AND valid_to >= $2), 0)
		FROM moratoriums WHERE municipality_code = $1`,
		municipalityCode, today, until,
	).Scan(&stats.Total, &stats.Active, &stats.ExpiringSoon, &stats.TotalAreaM2)
	if err != nil {
		return nil, fmt.Errorf("postgres: moratorium statistics: %w", err)
	}
	return &stats, nil
}

// moratoriumWarning renders the human-readable advisory line for a
// moratorium, including validity dates and exceptions when present.
func moratoriumWarning(m *types.Moratorium) string {
	w := fmt.Sprintf("moratorium %q (%s) is in force from %s to %s in municipality %s",
		m.Name, m.Reason, m.ValidFrom, m.ValidTo, m.MunicipalityCode)
	if m.Exceptions != "" {
		w += "; exceptions: " + m.Exceptions
	}
	return w
}
