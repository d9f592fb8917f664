package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Geometry wraps a GeoJSON geometry. Coordinates are WGS84 longitude/latitude;
// all metric predicates (buffers, distances, areas) are computed by the
// spatial store on a geography cast, never in Go.
//
// The raw GeoJSON bytes are kept verbatim so that what went in comes back out
// (modulo the store's coordinate precision).
type Geometry struct {
	geomType string
	raw      json.RawMessage
}

// geoJSONTypes are the geometry types accepted on ingest.
var geoJSONTypes = map[string]bool{
	"Point":           true,
	"LineString":      true,
	"Polygon":         true,
	"MultiPoint":      true,
	"MultiLineString": true,
	"MultiPolygon":    true,
}

// ParseGeometry validates raw GeoJSON and wraps it. The type must be a
// (multi) point, line, or polygon and coordinates must be present.
func ParseGeometry(raw []byte) (Geometry, error) {
	var probe struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Geometry{}, &ValidationError{Field: "geometry", Message: fmt.Sprintf("invalid GeoJSON: %v", err)}
	}
	if !geoJSONTypes[probe.Type] {
		return Geometry{}, &ValidationError{Field: "geometry", Message: fmt.Sprintf("unsupported geometry type %q", probe.Type)}
	}
	if len(probe.Coordinates) == 0 || string(probe.Coordinates) == "null" {
		return Geometry{}, &ValidationError{Field: "geometry", Message: "coordinates are required"}
	}
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, raw); err != nil {
		return Geometry{}, &ValidationError{Field: "geometry", Message: fmt.Sprintf("invalid GeoJSON: %v", err)}
	}
	return Geometry{geomType: probe.Type, raw: json.RawMessage(compact.Bytes())}, nil
}

// MustParseGeometry is ParseGeometry for fixtures; panics on bad input.
func MustParseGeometry(raw string) Geometry {
	g, err := ParseGeometry([]byte(raw))
	if err != nil {
		panic(err)
	}
	return g
}

// PointGeometry builds a GeoJSON Point from longitude/latitude.
func PointGeometry(lon, lat float64) Geometry {
	raw := fmt.Sprintf(`{"type":"Point","coordinates":[%g,%g]}`, lon, lat)
	return Geometry{geomType: "Point", raw: json.RawMessage(raw)}
}

// Type returns the GeoJSON geometry type, e.g. "Polygon".
func (g Geometry) Type() string { return g.geomType }

// IsZero reports whether the geometry is unset.
func (g Geometry) IsZero() bool { return len(g.raw) == 0 }

// GeoJSON returns the raw GeoJSON bytes for handing to the spatial store.
func (g Geometry) GeoJSON() []byte { return g.raw }

func (g Geometry) String() string { return string(g.raw) }

// Equal compares compacted GeoJSON bytes.
func (g Geometry) Equal(o Geometry) bool { return bytes.Equal(g.raw, o.raw) }

// MarshalJSON emits the stored GeoJSON verbatim, or null when unset.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.IsZero() {
		return []byte("null"), nil
	}
	return g.raw, nil
}

// UnmarshalJSON validates and stores incoming GeoJSON.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = Geometry{}
		return nil
	}
	parsed, err := ParseGeometry(data)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
