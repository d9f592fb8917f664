package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared struct validator. Struct tags carry the
// field-level rules; CheckStruct translates failures into ValidationErrors
// so callers never see validator internals.
var validate = validator.New(validator.WithRequiredStructEnabled())

// CheckStruct runs struct-tag validation and converts the result into
// field-level ValidationErrors.
func CheckStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Field: "input", Message: err.Error()}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, &ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
		})
	}
	return out
}

// ProjectInput is the payload for creating a project. State may be empty
// (defaults to draft) or pending_approval for direct submission.
type ProjectInput struct {
	Name                   string             `json:"name" validate:"required"`
	ContractorOrganization string             `json:"contractor_organization,omitempty"`
	ContractorContact      *ContractorContact `json:"contractor_contact,omitempty"`
	State                  State              `json:"state,omitempty"`
	StartDate              Date               `json:"start_date" validate:"required"`
	EndDate                Date               `json:"end_date" validate:"required"`
	Geometry               Geometry           `json:"geometry" validate:"required"`
	WorkType               string             `json:"work_type,omitempty"`
	WorkCategory           string             `json:"work_category,omitempty"`
	Description            string             `json:"description,omitempty"`
}

// Validate checks the create payload. Only draft and pending_approval are
// legal initial states.
func (in *ProjectInput) Validate() error {
	if err := CheckStruct(in); err != nil {
		return err
	}
	if in.State != "" && in.State != StateDraft && in.State != StatePendingApproval {
		return &ValidationError{Field: "state", Message: fmt.Sprintf("initial state must be %s or %s", StateDraft, StatePendingApproval)}
	}
	if in.EndDate.Before(in.StartDate) {
		return &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	if in.Geometry.IsZero() {
		return &ValidationError{Field: "geometry", Message: "geometry is required"}
	}
	if in.ContractorContact != nil && in.ContractorContact.Email != "" {
		if err := validate.Var(in.ContractorContact.Email, "email"); err != nil {
			return &ValidationError{Field: "contractor_contact.email", Message: "not a valid email address"}
		}
	}
	return nil
}

// ProjectPatch is a partial project update. Nil fields are left untouched.
// A non-nil State requests a state transition validated against the state
// machine.
type ProjectPatch struct {
	Name                   *string            `json:"name,omitempty"`
	ContractorOrganization *string            `json:"contractor_organization,omitempty"`
	ContractorContact      *ContractorContact `json:"contractor_contact,omitempty"`
	State                  *State             `json:"state,omitempty"`
	StartDate              *Date              `json:"start_date,omitempty"`
	EndDate                *Date              `json:"end_date,omitempty"`
	Geometry               *Geometry          `json:"geometry,omitempty"`
	WorkType               *string            `json:"work_type,omitempty"`
	WorkCategory           *string            `json:"work_category,omitempty"`
	Description            *string            `json:"description,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *ProjectPatch) IsEmpty() bool {
	return p.Name == nil && p.ContractorOrganization == nil && p.ContractorContact == nil &&
		p.State == nil && p.StartDate == nil && p.EndDate == nil && p.Geometry == nil &&
		p.WorkType == nil && p.WorkCategory == nil && p.Description == nil
}

// TouchesGeometryOrDates reports whether the patch changes the footprint or
// the time window; such edits re-trigger conflict detection downstream.
func (p *ProjectPatch) TouchesGeometryOrDates() bool {
	return p.Geometry != nil || p.StartDate != nil || p.EndDate != nil
}

// MoratoriumInput is the payload for declaring a moratorium.
type MoratoriumInput struct {
	Name             string   `json:"name" validate:"required"`
	Geometry         Geometry `json:"geometry" validate:"required"`
	Reason           string   `json:"reason" validate:"required"`
	ReasonDetail     string   `json:"reason_detail,omitempty"`
	ValidFrom        Date     `json:"valid_from" validate:"required"`
	ValidTo          Date     `json:"valid_to" validate:"required"`
	Exceptions       string   `json:"exceptions,omitempty"`
	MunicipalityCode string   `json:"municipality_code" validate:"required"`
}

// Validate checks the create payload including the five-year bound.
func (in *MoratoriumInput) Validate() error {
	if err := CheckStruct(in); err != nil {
		return err
	}
	m := Moratorium{
		Name:             in.Name,
		Geometry:         in.Geometry,
		Reason:           in.Reason,
		ValidFrom:        in.ValidFrom,
		ValidTo:          in.ValidTo,
		MunicipalityCode: in.MunicipalityCode,
	}
	return m.Validate()
}

// MoratoriumPatchKeys are the columns a moratorium patch may touch. Any
// other key in a patch map is rejected.
var MoratoriumPatchKeys = map[string]bool{
	"name":              true,
	"geometry":          true,
	"reason":            true,
	"reason_detail":     true,
	"valid_from":        true,
	"valid_to":          true,
	"exceptions":        true,
	"municipality_code": true,
}
