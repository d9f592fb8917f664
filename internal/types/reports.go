package types

// MoratoriumStatistics summarizes the moratoriums of one municipality.
// TotalAreaM2 is the summed metric area of the active ones.
type MoratoriumStatistics struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	ExpiringSoon int     `json:"expiring_soon"`
	TotalAreaM2  float64 `json:"total_area_m2"`
}

// OverlapReport is the advisory result of checking a proposed moratorium
// against existing ones in the same municipality. It never blocks creation.
type OverlapReport struct {
	HasOverlap  bool          `json:"has_overlap"`
	Overlapping []*Moratorium `json:"overlapping,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// ViolationReport is the advisory result of checking a project footprint and
// window against moratoriums. CanProceed is always true: a moratorium warns,
// it does not block.
type ViolationReport struct {
	Violations []*Moratorium `json:"violations,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	CanProceed bool          `json:"can_proceed"`
}
