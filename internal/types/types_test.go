package types

import (
	"errors"
	"strings"
	"testing"
)

func validMoratorium() Moratorium {
	return Moratorium{
		Name:             "Main street resurfacing protection",
		Geometry:         MustParseGeometry(`{"type":"Polygon","coordinates":[[[14.4,50.0],[14.5,50.0],[14.5,50.1],[14.4,50.0]]]}`),
		Reason:           "new_surface",
		ValidFrom:        MustParseDate("2024-01-01"),
		ValidTo:          MustParseDate("2026-01-01"),
		MunicipalityCode: "CZ0100",
	}
}

func TestMoratoriumFiveYearBound(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr bool
	}{
		{"one year", "2024-01-01", "2025-01-01", false},
		{"exactly five years", "2024-01-01", "2029-01-01", false},
		{"one day over", "2024-01-01", "2029-01-02", true},
		{"six years", "2024-01-01", "2030-01-01", true},
		{"single day", "2024-06-15", "2024-06-15", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMoratorium()
			m.ValidFrom = MustParseDate(tt.from)
			m.ValidTo = MustParseDate(tt.to)
			err := m.Validate()
			if tt.wantErr {
				var exceeded *DurationExceededError
				if !errors.As(err, &exceeded) {
					t.Fatalf("want DurationExceededError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMoratoriumValidateRejectsReversedInterval(t *testing.T) {
	m := validMoratorium()
	m.ValidFrom = MustParseDate("2026-01-01")
	m.ValidTo = MustParseDate("2025-12-31")
	var invalid *ValidationError
	if err := m.Validate(); !errors.As(err, &invalid) || invalid.Field != "valid_to" {
		t.Fatalf("want valid_to validation error, got %v", err)
	}
}

func TestMoratoriumActiveOn(t *testing.T) {
	m := validMoratorium()
	for date, want := range map[string]bool{
		"2023-12-31": false,
		"2024-01-01": true, // first day inclusive
		"2025-06-15": true,
		"2026-01-01": true, // last day inclusive
		"2026-01-02": false,
	} {
		if got := m.ActiveOn(MustParseDate(date)); got != want {
			t.Errorf("ActiveOn(%s) = %v, want %v", date, got, want)
		}
	}
}

func TestValidateCommentContent(t *testing.T) {
	got, err := ValidateCommentContent("  note about the trench  ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "note about the trench" {
		t.Errorf("trimmed = %q", got)
	}

	if _, err := ValidateCommentContent("   "); err == nil {
		t.Error("whitespace-only content should fail")
	}

	// Length counts runes, not bytes.
	if _, err := ValidateCommentContent(strings.Repeat("ž", MaxCommentLength)); err != nil {
		t.Errorf("exactly %d runes should pass: %v", MaxCommentLength, err)
	}
	if _, err := ValidateCommentContent(strings.Repeat("ž", MaxCommentLength+1)); err == nil {
		t.Error("over-length content should fail")
	}
}

func TestProjectValidate(t *testing.T) {
	p := Project{
		Name:        "Water main replacement",
		ApplicantID: "user-1",
		State:       StateDraft,
		StartDate:   MustParseDate("2026-09-01"),
		EndDate:     MustParseDate("2026-09-30"),
		Geometry:    MustParseGeometry(`{"type":"Point","coordinates":[14.42,50.08]}`),
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid project rejected: %v", err)
	}

	bad := p
	bad.EndDate = MustParseDate("2026-08-01")
	if err := bad.Validate(); err == nil {
		t.Error("end before start should fail")
	}

	bad = p
	bad.State = State("finished")
	if err := bad.Validate(); err == nil {
		t.Error("unknown state should fail")
	}
}

func TestActorInTerritory(t *testing.T) {
	coordinator := Actor{ID: "c1", Role: RoleMunicipalCoordinator, Territories: []string{"CZ0100", "CZ0201"}}
	if !coordinator.InTerritory([]string{"CZ0201"}) {
		t.Error("coordinator should cover assigned municipality")
	}
	if coordinator.InTerritory([]string{"CZ0999"}) {
		t.Error("coordinator should not cover foreign municipality")
	}
	if coordinator.InTerritory(nil) {
		t.Error("empty code set matches nothing")
	}

	admin := Actor{ID: "a1", Role: RoleRegionalAdmin}
	if !admin.InTerritory([]string{"CZ0999"}) {
		t.Error("regional admin covers everything")
	}
	if !admin.InTerritory(nil) {
		t.Error("regional admin covers the empty set too")
	}
}

func TestConflictsWith(t *testing.T) {
	p := Project{ConflictingProjectIDs: []string{"a", "b"}}
	if !p.ConflictsWith("b") {
		t.Error("recorded peer not found")
	}
	if p.ConflictsWith("c") {
		t.Error("unrecorded peer found")
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	tests := []struct {
		name string
		errs ValidationErrors
		want string
	}{
		{"empty", ValidationErrors{}, "invalid input"},
		{"single", ValidationErrors{
			{Field: "name", Message: "required"},
		}, "invalid name: required"},
		{"several", ValidationErrors{
			{Field: "name", Message: "required"},
			{Field: "start_date", Message: "required"},
			{Field: "end_date", Message: "required"},
		}, "invalid name: required (and 2 more)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.errs.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
