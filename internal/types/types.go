// Package types defines core data structures for the digcoord
// excavation-works coordinator.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Project represents an excavation project submitted by an applicant and
// reviewed by municipal coordinators.
type Project struct {
	ID                     string             `json:"id"`
	Name                   string             `json:"name"`
	ApplicantID            string             `json:"applicant_id"`
	ContractorOrganization string             `json:"contractor_organization,omitempty"`
	ContractorContact      *ContractorContact `json:"contractor_contact,omitempty"`
	State                  State              `json:"state"`
	StartDate              Date               `json:"start_date"`
	EndDate                Date               `json:"end_date"`
	Geometry               Geometry           `json:"geometry"`
	WorkType               string             `json:"work_type,omitempty"`
	WorkCategory           string             `json:"work_category,omitempty"`
	Description            string             `json:"description,omitempty"`

	// Derived fields, owned by the conflict detector. HasConflict is true
	// iff ConflictingProjectIDs is non-empty or an active moratorium
	// intersects the geometry. Eventually consistent with geometry and
	// date edits.
	HasConflict            bool     `json:"has_conflict"`
	ConflictingProjectIDs  []string `json:"conflicting_project_ids,omitempty"`
	AffectedMunicipalities []string `json:"affected_municipalities,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContractorContact is the optional contact person of the contractor
// organization carrying out the work.
type ContractorContact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Validate checks structural invariants that hold regardless of state.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if p.ApplicantID == "" {
		return &ValidationError{Field: "applicant_id", Message: "must not be empty"}
	}
	if !p.State.IsValid() {
		return &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", p.State)}
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return &ValidationError{Field: "start_date", Message: "start and end dates are required"}
	}
	if p.EndDate.Before(p.StartDate) {
		return &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	if p.Geometry.IsZero() {
		return &ValidationError{Field: "geometry", Message: "geometry is required"}
	}
	return nil
}

// ConflictsWith reports whether other's id is recorded in p's conflict set.
func (p *Project) ConflictsWith(otherID string) bool {
	for _, id := range p.ConflictingProjectIDs {
		if id == otherID {
			return true
		}
	}
	return false
}

// MaxMoratoriumYears bounds a moratorium's validity span. The bound uses
// exact-year arithmetic: ValidTo must not be after ValidFrom with the year
// field advanced by five.
const MaxMoratoriumYears = 5

// Moratorium is a time- and space-bounded advisory restriction on digging,
// declared by a municipal coordinator or regional admin.
type Moratorium struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Geometry         Geometry  `json:"geometry"`
	Reason           string    `json:"reason"`
	ReasonDetail     string    `json:"reason_detail,omitempty"`
	ValidFrom        Date      `json:"valid_from"`
	ValidTo          Date      `json:"valid_to"`
	Exceptions       string    `json:"exceptions,omitempty"`
	CreatedBy        string    `json:"created_by"`
	MunicipalityCode string    `json:"municipality_code"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks the moratorium invariants, including the bounded-duration
// rule: validFrom ≤ validTo ≤ validFrom + 5 years.
func (m *Moratorium) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if m.MunicipalityCode == "" {
		return &ValidationError{Field: "municipality_code", Message: "must not be empty"}
	}
	if m.Geometry.IsZero() {
		return &ValidationError{Field: "geometry", Message: "geometry is required"}
	}
	if m.ValidFrom.IsZero() || m.ValidTo.IsZero() {
		return &ValidationError{Field: "valid_from", Message: "valid_from and valid_to are required"}
	}
	if m.ValidTo.Before(m.ValidFrom) {
		return &ValidationError{Field: "valid_to", Message: "must not be before valid_from"}
	}
	if limit := m.ValidFrom.AddYears(MaxMoratoriumYears); m.ValidTo.After(limit) {
		return &DurationExceededError{ValidFrom: m.ValidFrom, ValidTo: m.ValidTo, Limit: limit}
	}
	return nil
}

// ActiveOn reports whether the moratorium is in force on the given date
// (closed interval on both ends).
func (m *Moratorium) ActiveOn(d Date) bool {
	return !d.Before(m.ValidFrom) && !d.After(m.ValidTo)
}

// MaxCommentLength caps comment content length in characters.
const MaxCommentLength = 1000

// Comment is a free-text note attached to a project by a coordinator or the
// applicant, optionally carrying an attachment URL.
type Comment struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	AuthorID      string    `json:"author_id"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValidateCommentContent trims and checks comment content. Returns the
// trimmed content or a validation error.
func ValidateCommentContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", &ValidationError{Field: "content", Message: "must not be empty"}
	}
	if len([]rune(trimmed)) > MaxCommentLength {
		return "", &ValidationError{Field: "content", Message: fmt.Sprintf("exceeds %d characters", MaxCommentLength)}
	}
	return trimmed, nil
}

// AuditEntry is an append-only record of a state transition or attribute
// change. Entries are never mutated or deleted.
type AuditEntry struct {
	ID        string         `json:"id"`
	EntityID  string         `json:"entity_id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit action tags.
const (
	AuditActionCreate      = "create"
	AuditActionUpdate      = "update"
	AuditActionStateChange = "state_change"
	AuditActionDelete      = "delete"
)

// Role identifies the authority level of an actor.
type Role string

const (
	RoleApplicant            Role = "applicant"
	RoleMunicipalCoordinator Role = "municipal_coordinator"
	RoleRegionalAdmin        Role = "regional_admin"
)

// IsCoordinator reports whether the role may drive approval decisions.
func (r Role) IsCoordinator() bool {
	return r == RoleMunicipalCoordinator || r == RoleRegionalAdmin
}

// Actor is the authenticated principal performing an operation. Territories
// is the set of municipality codes a municipal coordinator is assigned to;
// empty for applicants and regional admins (admins are region-wide).
type Actor struct {
	ID          string
	Role        Role
	Territories []string
}

// InTerritory reports whether any of the given municipality codes falls in
// the actor's territory. Regional admins cover every municipality.
func (a Actor) InTerritory(codes []string) bool {
	if a.Role == RoleRegionalAdmin {
		return true
	}
	for _, t := range a.Territories {
		for _, c := range codes {
			if t == c {
				return true
			}
		}
	}
	return false
}

// Municipality is one row of the optional municipalities reference table.
type Municipality struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Geometry Geometry `json:"geometry"`
}
