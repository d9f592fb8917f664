// Package storage defines the persistence contract for projects,
// moratoriums, comments, and the audit log.
//
// The concrete implementation lives in the postgres sub-package. Consumers
// depend on this interface rather than on the concrete type so that
// alternative implementations (fakes, proxies) can be substituted.
package storage

import (
	"context"
	"errors"

	"github.com/digcoord/digcoord/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownPatchKey is returned when a dynamic patch names a column that is
// not part of the entity.
var ErrUnknownPatchKey = errors.New("unknown patch key")

// DefaultBufferMeters is the metric adjacency threshold: two footprints
// within this buffered distance of each other are spatially conflicting.
const DefaultBufferMeters = 20.0

// Storage is the full persistence surface, satisfied by *postgres.Store.
type Storage interface {
	ProjectStore
	MoratoriumStore
	AuditStore

	// MunicipalitiesIntersecting returns the codes of municipalities whose
	// boundary geometry intersects the given geometry. When the
	// municipalities table is absent the result is empty, never an error.
	MunicipalitiesIntersecting(ctx context.Context, geom types.Geometry) ([]string, error)

	// RunInTransaction executes fn within a single database transaction.
	// The transaction is rolled back if fn returns an error or panics,
	// committed otherwise.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// ProjectStore covers project rows, their comments, and the derived
// conflict/municipality columns.
type ProjectStore interface {
	// CreateProject persists a new project. Assigns the id (UUID) when
	// empty and sets both timestamps. Derived fields start false/empty.
	CreateProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, id string) (*types.Project, error)
	// SearchProjects returns one page ordered by creation time descending,
	// plus the total count across pages.
	SearchProjects(ctx context.Context, filter types.ProjectFilter, page types.Page) (*types.PagedProjects, error)
	// UpdateProject applies an attribute-only patch (State must be nil;
	// transitions go through ChangeProjectState). Bumps updated_at.
	UpdateProject(ctx context.Context, id string, patch *types.ProjectPatch) (*types.Project, error)
	// ChangeProjectState atomically validates the transition, writes the
	// new state, and appends the audit entry, all in one transaction.
	ChangeProjectState(ctx context.Context, id string, newState types.State, actorID string) (*types.Project, error)
	// DeleteProject hard-deletes the row and its comments.
	DeleteProject(ctx context.Context, id string) error

	// Derived-field mutators used by the conflict detector. Both are
	// idempotent and never emit events.
	UpdateConflictStatus(ctx context.Context, id string, hasConflict bool, conflictingIDs []string) error
	UpdateAffectedMunicipalities(ctx context.Context, id string, codes []string) error
	// AddPeerConflict appends peerID to the project's conflict set (and
	// flips has_conflict) under row locking, deduplicating on write.
	AddPeerConflict(ctx context.Context, id, peerID string) error

	AddComment(ctx context.Context, projectID, authorID, content, attachmentURL string) (*types.Comment, error)
	GetComments(ctx context.Context, projectID string) ([]*types.Comment, error)

	// FindSpatiallyIntersecting returns projects in the given states whose
	// geometry lies within bufferMeters of geom (metric distance on the
	// geography cast). excludeID is omitted from the result.
	FindSpatiallyIntersecting(ctx context.Context, geom types.Geometry, bufferMeters float64, states []types.State, excludeID string) ([]*types.Project, error)
	// FindTemporallyOverlapping returns projects whose closed
	// [start_date, end_date] interval shares at least one day with
	// [start, end].
	FindTemporallyOverlapping(ctx context.Context, start, end types.Date, excludeID string) ([]*types.Project, error)
}

// MoratoriumStore covers moratorium rows and their spatial/temporal queries.
type MoratoriumStore interface {
	CreateMoratorium(ctx context.Context, m *types.Moratorium) error
	GetMoratorium(ctx context.Context, id string) (*types.Moratorium, error)
	SearchMoratoriums(ctx context.Context, filter types.MoratoriumFilter, page types.Page) (*types.PagedMoratoriums, error)
	// UpdateMoratorium applies a dynamic patch keyed by column name.
	// Unknown keys fail with ErrUnknownPatchKey; date changes re-validate
	// the five-year bound.
	UpdateMoratorium(ctx context.Context, id string, patch map[string]any) (*types.Moratorium, error)
	// DeleteMoratorium hard-deletes; reports whether a row was removed.
	DeleteMoratorium(ctx context.Context, id string) (bool, error)

	// FindActiveIntersecting returns moratoriums in force on asOf whose
	// geometry intersects geom.
	FindActiveIntersecting(ctx context.Context, geom types.Geometry, asOf types.Date) ([]*types.Moratorium, error)
	// CheckViolations returns moratoriums whose validity interval overlaps
	// [start, end] (closed intervals, any shared day counts) and whose
	// geometry intersects geom.
	CheckViolations(ctx context.Context, geom types.Geometry, start, end types.Date) ([]*types.Moratorium, error)
	// ValidateMoratoriumOverlap is the advisory pre-creation check,
	// restricted to one municipality. excludeID omits the moratorium being
	// edited.
	ValidateMoratoriumOverlap(ctx context.Context, geom types.Geometry, from, to types.Date, municipalityCode, excludeID string) (*types.OverlapReport, error)
	// GetActiveMoratoriumsInArea expands geom by a metric buffer first,
	// then behaves like FindActiveIntersecting.
	GetActiveMoratoriumsInArea(ctx context.Context, geom types.Geometry, bufferMeters float64, asOf types.Date) ([]*types.Moratorium, error)
	// FindExpiringSoon returns moratoriums with valid_to in
	// [today, today+days], optionally restricted to municipalities.
	FindExpiringSoon(ctx context.Context, days int, municipalityCodes []string) ([]*types.Moratorium, error)
	// CheckProjectViolations is the advisory project-facing check;
	// CanProceed is always true.
	CheckProjectViolations(ctx context.Context, geom types.Geometry, start, end types.Date, municipalityCodes []string) (*types.ViolationReport, error)
	// MoratoriumStatistics computes counts and summed active area for one
	// municipality in a single scan.
	MoratoriumStatistics(ctx context.Context, municipalityCode string) (*types.MoratoriumStatistics, error)
}

// AuditStore is the append-only audit log. Entries are never updated or
// deleted; the core performs no reads beyond eventual export.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
}

// Transaction exposes the subset of storage operations that execute within a
// single database transaction. The lifecycle controller uses it to keep a
// state write and its audit entry in one atomic unit.
//
// All operations share one connection; changes are invisible to other
// connections until commit; an error or panic from the callback rolls
// everything back.
type Transaction interface {
	CreateProject(ctx context.Context, p *types.Project) error
	// GetProjectForUpdate loads the row with FOR UPDATE so concurrent
	// writers serialize on it.
	GetProjectForUpdate(ctx context.Context, id string) (*types.Project, error)
	SetProjectState(ctx context.Context, id string, state types.State) error
	ApplyProjectPatch(ctx context.Context, id string, patch *types.ProjectPatch) error
	DeleteProject(ctx context.Context, id string) error

	CreateMoratorium(ctx context.Context, m *types.Moratorium) error
	UpdateMoratorium(ctx context.Context, id string, patch map[string]any) (*types.Moratorium, error)
	DeleteMoratorium(ctx context.Context, id string) (bool, error)

	AddComment(ctx context.Context, projectID, authorID, content, attachmentURL string) (*types.Comment, error)

	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
}
