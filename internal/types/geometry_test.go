package types

import (
	"encoding/json"
	"testing"
)

func TestParseGeometry(t *testing.T) {
	g, err := ParseGeometry([]byte(`{"type": "LineString", "coordinates": [[14.4, 50.0], [14.5, 50.1]]}`))
	if err != nil {
		t.Fatal(err)
	}
	if g.Type() != "LineString" {
		t.Errorf("type = %q", g.Type())
	}

	invalid := []string{
		`{"coordinates":[[0,0]]}`,                 // no type
		`{"type":"Circle","coordinates":[[0,0]]}`, // not a GeoJSON type
		`{"type":"Point"}`,                        // no coordinates
		`not json`,
		``,
	}
	for _, s := range invalid {
		if _, err := ParseGeometry([]byte(s)); err == nil {
			t.Errorf("ParseGeometry(%q) should fail", s)
		}
	}
}

func TestGeometryJSONRoundTrip(t *testing.T) {
	raw := `{"type":"Polygon","coordinates":[[[14.4,50.0],[14.5,50.0],[14.5,50.1],[14.4,50.0]]]}`
	g := MustParseGeometry(raw)

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}

	var back Geometry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !g.Equal(back) {
		t.Errorf("round trip changed geometry: %s vs %s", g.GeoJSON(), back.GeoJSON())
	}
}

func TestPointGeometry(t *testing.T) {
	p := PointGeometry(14.42076, 50.08804)
	if p.Type() != "Point" {
		t.Errorf("type = %q", p.Type())
	}
	var doc struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(p.GeoJSON()), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Coordinates) != 2 || doc.Coordinates[0] != 14.42076 {
		t.Errorf("coordinates = %v", doc.Coordinates)
	}
}
