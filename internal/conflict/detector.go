// Package conflict classifies projects against the existing corpus and
// active moratoriums, and keeps the derived conflict fields coherent.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/telemetry"
	"github.com/digcoord/digcoord/internal/types"
)

// DefaultSoftBudget is the detection duration above which a warning is
// logged. Exceeding it never fails the request.
const DefaultSoftBudget = 10 * time.Second

// DefaultBatchConcurrency bounds how many detections a batch runs at once.
const DefaultBatchConcurrency = 5

// Store is the slice of the storage surface the detector needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*types.Project, error)
	FindSpatiallyIntersecting(ctx context.Context, geom types.Geometry, bufferMeters float64, states []types.State, excludeID string) ([]*types.Project, error)
	CheckViolations(ctx context.Context, geom types.Geometry, start, end types.Date) ([]*types.Moratorium, error)
	UpdateConflictStatus(ctx context.Context, id string, hasConflict bool, conflictingIDs []string) error
	AddPeerConflict(ctx context.Context, id, peerID string) error
	UpdateAffectedMunicipalities(ctx context.Context, id string, codes []string) error
	MunicipalitiesIntersecting(ctx context.Context, geom types.Geometry) ([]string, error)
}

// Publisher is the async event sink; satisfied by *eventbus.Publisher.
type Publisher interface {
	Publish(event *eventbus.Event)
}

// Result classifies one geometry + interval against the corpus.
// TemporalConflicts is the time-filtered subset of SpatialConflicts — the
// two slices share entities and are not disjoint.
type Result struct {
	HasConflict          bool                `json:"has_conflict"`
	SpatialConflicts     []*types.Project    `json:"spatial_conflicts,omitempty"`
	TemporalConflicts    []*types.Project    `json:"temporal_conflicts,omitempty"`
	MoratoriumViolations []*types.Moratorium `json:"moratorium_violations,omitempty"`
}

// DetectionError wraps a spatial-store failure bubbling out of detection.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("conflict detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Detector runs conflict classification and derived-state propagation. It
// owns no persistent state: it reads through Store and writes only through
// the derived-field mutators, which never emit further events (that breaks
// the detector/controller cycle).
type Detector struct {
	store        Store
	publisher    Publisher
	bufferMeters float64
	log          *slog.Logger

	// SoftBudget and BatchConcurrency may be adjusted after New, before
	// first use.
	SoftBudget       time.Duration
	BatchConcurrency int
}

// New creates a detector. publisher may be nil (no events emitted, used by
// one-shot CLI runs).
func New(store Store, publisher Publisher, bufferMeters float64, log *slog.Logger) *Detector {
	if bufferMeters <= 0 {
		bufferMeters = storage.DefaultBufferMeters
	}
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		store:            store,
		publisher:        publisher,
		bufferMeters:     bufferMeters,
		log:              log,
		SoftBudget:       DefaultSoftBudget,
		BatchConcurrency: DefaultBatchConcurrency,
	}
}

// Detect classifies a geometry and closed date interval against the corpus.
// The spatial-candidate query and the moratorium-violation query run
// concurrently and are joined.
func (d *Detector) Detect(ctx context.Context, geom types.Geometry, start, end types.Date, excludeID string) (*Result, error) {
	began := time.Now()

	var (
		spatial    []*types.Project
		violations []*types.Moratorium
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		spatial, err = d.store.FindSpatiallyIntersecting(gctx, geom, d.bufferMeters, types.ActiveConflictStates, excludeID)
		if err != nil {
			return fmt.Errorf("spatial candidates: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		violations, err = d.store.CheckViolations(gctx, geom, start, end)
		if err != nil {
			return fmt.Errorf("moratorium violations: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, &DetectionError{Err: err}
	}

	var temporal []*types.Project
	for _, p := range spatial {
		if types.Overlaps(start, end, p.StartDate, p.EndDate) {
			temporal = append(temporal, p)
		}
	}

	result := &Result{
		HasConflict:          len(spatial) > 0 || len(violations) > 0,
		SpatialConflicts:     spatial,
		TemporalConflicts:    temporal,
		MoratoriumViolations: violations,
	}

	elapsed := time.Since(began)
	telemetry.RecordDetection(ctx, elapsed.Seconds(), result.HasConflict)
	if elapsed > d.SoftBudget {
		d.log.Warn("conflict detection exceeded soft budget",
			"elapsed", elapsed, "budget", d.SoftBudget, "exclude_id", excludeID)
	}
	return result, nil
}

// RunForProject recomputes the project's conflict classification and
// propagates it: subject conflict flags, peer conflict sets (bidirectional
// invariant), and the affected-municipality set. Municipality and peer
// failures are logged, never fatal to the primary update.
func (d *Detector) RunForProject(ctx context.Context, id string) (*Result, error) {
	project, err := d.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := d.Detect(ctx, project.Geometry, project.StartDate, project.EndDate, id)
	if err != nil {
		return nil, err
	}

	peerIDs := make([]string, 0, len(result.SpatialConflicts))
	for _, p := range result.SpatialConflicts {
		peerIDs = append(peerIDs, p.ID)
	}
	if err := d.store.UpdateConflictStatus(ctx, id, result.HasConflict, peerIDs); err != nil {
		return nil, fmt.Errorf("update conflict status: %w", err)
	}

	// Maintain the bidirectional invariant: every spatial peer records the
	// subject too. Each peer write is a single row under its own lock;
	// AddPeerConflict dedupes on read-modify-write.
	for _, peer := range result.SpatialConflicts {
		if peer.ConflictsWith(id) {
			continue
		}
		if err := d.store.AddPeerConflict(ctx, peer.ID, id); err != nil {
			d.log.Warn("peer conflict update failed", "project", id, "peer", peer.ID, "error", err)
		}
	}

	d.refreshAffectedMunicipalities(ctx, project)

	if result.HasConflict && d.publisher != nil {
		d.publisher.Publish(&eventbus.Event{
			Type:      eventbus.EventConflictsDetected,
			Project:   project,
			Conflicts: uniqueProjects(result.SpatialConflicts, result.TemporalConflicts),
		})
	}
	return result, nil
}

// refreshAffectedMunicipalities recomputes the derived municipality set.
// Failures are swallowed: the set is a cache and may go stale.
func (d *Detector) refreshAffectedMunicipalities(ctx context.Context, project *types.Project) {
	codes, err := d.store.MunicipalitiesIntersecting(ctx, project.Geometry)
	if err != nil {
		d.log.Warn("municipality detection failed", "project", project.ID, "error", err)
		return
	}
	if err := d.store.UpdateAffectedMunicipalities(ctx, project.ID, codes); err != nil {
		d.log.Warn("municipality update failed", "project", project.ID, "error", err)
	}
}

// RunBatch detects conflicts for many projects with at most
// d.BatchConcurrency in flight. Per-id failures are logged and omitted
// from the result map.
func (d *Detector) RunBatch(ctx context.Context, projectIDs []string) map[string]*Result {
	type outcome struct {
		id     string
		result *Result
	}
	results := make(chan outcome, len(projectIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.BatchConcurrency)
	for _, id := range projectIDs {
		g.Go(func() error {
			r, err := d.RunForProject(gctx, id)
			if err != nil {
				d.log.Warn("batch detection failed", "project", id, "error", err)
				return nil
			}
			results <- outcome{id: id, result: r}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make(map[string]*Result, len(projectIDs))
	for o := range results {
		out[o.id] = o.result
	}
	return out
}

// uniqueProjects merges slices, deduplicating by project id while keeping
// first-seen order.
func uniqueProjects(lists ...[]*types.Project) []*types.Project {
	seen := make(map[string]bool)
	var out []*types.Project
	for _, list := range lists {
		for _, p := range list {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}
