package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/digcoord/digcoord/internal/types"
)

// municipalitiesMissingOnce gates the degradation log line so an absent
// table is reported once per process, not once per detection.
var municipalitiesMissingOnce sync.Once

// MunicipalitiesIntersecting returns the codes of municipalities whose
// boundary intersects geom. The municipalities table is optional: when it is
// absent the result is the empty set, never an error.
func (s *Store) MunicipalitiesIntersecting(ctx context.Context, geom types.Geometry) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code FROM municipalities
		WHERE ST_Intersects(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))
		ORDER BY code`, string(geom.GeoJSON()))
	if err != nil {
		if isUndefinedTable(err) {
			municipalitiesMissingOnce.Do(func() {
				slog.Warn("municipalities table absent; affected-municipality detection degrades to empty set")
			})
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: municipalities intersecting: %w", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
