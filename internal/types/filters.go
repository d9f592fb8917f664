package types

// Pagination bounds. Limit requests above MaxPageLimit are clamped, not
// rejected.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page selects one page of a filtered query. Results are always ordered by
// creation time descending.
type Page struct {
	Number int // 1-based
	Limit  int
}

// Normalize clamps the page to valid bounds: page ≥ 1, 1 ≤ limit ≤ 100,
// defaulting the limit to 20.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset returns the row offset of the normalized page.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.Limit
}

// ProjectFilter narrows project queries. Zero-value fields are ignored.
type ProjectFilter struct {
	States           []State
	MunicipalityCode string
	// Municipalities selects projects whose affected-municipality set
	// intersects this set.
	Municipalities []string
	// DateFrom/DateTo select projects whose [start,end] interval overlaps
	// [DateFrom, DateTo] (closed intervals).
	DateFrom     *Date
	DateTo       *Date
	WorkCategory string
	HasConflict  *bool
	ApplicantID  string
}

// PagedProjects is one page of a filtered project query plus the total count
// across all pages.
type PagedProjects struct {
	Total int        `json:"total"`
	Items []*Project `json:"items"`
}

// MoratoriumFilter narrows moratorium queries. Zero-value fields are ignored.
type MoratoriumFilter struct {
	MunicipalityCode  string
	MunicipalityCodes []string
	// ActiveOn selects moratoriums whose validity interval contains the date.
	ActiveOn *Date
	// OverlapFrom/OverlapTo select moratoriums overlapping the closed range.
	OverlapFrom *Date
	OverlapTo   *Date
	CreatedBy   string
}

// PagedMoratoriums is one page of a filtered moratorium query.
type PagedMoratoriums struct {
	Total int           `json:"total"`
	Items []*Moratorium `json:"items"`
}
