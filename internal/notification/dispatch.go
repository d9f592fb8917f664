// Package notification turns domain events into email-queue messages.
//
// The dispatcher subscribes to the event bus, resolves recipients through
// the external directory, deduplicates them per event, and hands each
// message to the external email queue exactly once. Failures are logged and
// swallowed: notifications are best-effort and never reach back into the
// write path.
package notification

import (
	"context"
	"log/slog"

	"github.com/digcoord/digcoord/internal/directory"
	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/mailqueue"
	"github.com/digcoord/digcoord/internal/telemetry"
	"github.com/digcoord/digcoord/internal/types"
)

// Template tags handed to the email queue; rendering happens out of process.
const (
	TemplateProjectSubmitted    = "project_submitted"
	TemplateProjectStateChanged = "project_state_changed"
	TemplateProjectUpdated      = "project_updated"
	TemplateConflictsDetected   = "conflicts_detected"
	TemplateConflictPeer        = "conflict_peer"
	TemplateCommentAdded        = "comment_added"
	TemplateMoratoriumCreated   = "moratorium_created"
	TemplateUserRegistered      = "user_registered"
	TemplateDeadline            = "deadline_approaching"
)

// ProjectFinder is the slice of storage the dispatcher needs: re-reading a
// project's derived fields and resolving applicants active in a
// municipality.
type ProjectFinder interface {
	GetProject(ctx context.Context, id string) (*types.Project, error)
	SearchProjects(ctx context.Context, filter types.ProjectFilter, page types.Page) (*types.PagedProjects, error)
}

// Dispatcher consumes domain events and fans out notifications.
type Dispatcher struct {
	dir      directory.Service
	queue    mailqueue.Queue
	projects ProjectFinder
	log      *slog.Logger
}

var _ eventbus.Handler = (*Dispatcher)(nil)

// New creates a dispatcher.
func New(dir directory.Service, queue mailqueue.Queue, projects ProjectFinder, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{dir: dir, queue: queue, projects: projects, log: log}
}

func (d *Dispatcher) ID() string { return "notification-dispatcher" }

func (d *Dispatcher) Priority() int { return 100 }

func (d *Dispatcher) Handles() []eventbus.EventType {
	return []eventbus.EventType{
		eventbus.EventProjectCreated,
		eventbus.EventProjectUpdated,
		eventbus.EventProjectStateChanged,
		eventbus.EventCommentAdded,
		eventbus.EventConflictsDetected,
		eventbus.EventMoratoriumCreated,
		eventbus.EventUserRegistered,
		eventbus.EventDeadlineApproaching,
	}
}

// Handle routes one event. It never returns an error to the bus: recipient
// resolution and enqueue failures are logged here and swallowed.
func (d *Dispatcher) Handle(ctx context.Context, event *eventbus.Event) error {
	switch event.Type {
	case eventbus.EventProjectCreated:
		d.onProjectCreated(ctx, event)
	case eventbus.EventProjectUpdated:
		d.onProjectUpdated(ctx, event)
	case eventbus.EventProjectStateChanged:
		d.onStateChanged(ctx, event)
	case eventbus.EventCommentAdded:
		d.onCommentAdded(ctx, event)
	case eventbus.EventConflictsDetected:
		d.onConflictsDetected(ctx, event)
	case eventbus.EventMoratoriumCreated:
		d.onMoratoriumCreated(ctx, event)
	case eventbus.EventUserRegistered:
		d.onUserRegistered(ctx, event)
	case eventbus.EventDeadlineApproaching:
		d.onDeadline(ctx, event)
	}
	return nil
}

// onProjectCreated notifies territory coordinators when a project arrives
// directly in pending_approval.
func (d *Dispatcher) onProjectCreated(ctx context.Context, event *eventbus.Event) {
	project := event.Project
	if project == nil || project.State != types.StatePendingApproval {
		return
	}
	recipients := d.coordinatorsFor(ctx, d.municipalitiesOf(ctx, project))
	d.send(ctx, recipients, TemplateProjectSubmitted, projectPayload(project))
}

// onProjectUpdated notifies coordinators about footprint/window edits of
// projects already approved or underway.
func (d *Dispatcher) onProjectUpdated(ctx context.Context, event *eventbus.Event) {
	project, old := event.Project, event.OldProject
	if project == nil {
		return
	}
	if old != nil && !geometryOrDatesChanged(old, project) {
		return
	}
	if project.State != types.StateApproved && project.State != types.StateInProgress {
		return
	}
	recipients := d.coordinatorsFor(ctx, d.municipalitiesOf(ctx, project))
	d.send(ctx, recipients, TemplateProjectUpdated, projectPayload(project))
}

func (d *Dispatcher) onStateChanged(ctx context.Context, event *eventbus.Event) {
	project := event.Project
	if project == nil {
		return
	}
	var recipients []*directory.User
	switch project.State {
	case types.StateApproved, types.StateRejected:
		recipients = d.applicantOf(ctx, project)
	case types.StateInProgress, types.StateCompleted:
		recipients = append(d.applicantOf(ctx, project), d.coordinatorsFor(ctx, d.municipalitiesOf(ctx, project))...)
	default:
		return
	}
	payload := projectPayload(project)
	payload["old_state"] = string(event.OldState)
	payload["new_state"] = string(project.State)
	d.send(ctx, recipients, TemplateProjectStateChanged, payload)
}

// onCommentAdded notifies the applicant and coordinators, excluding the
// comment's author.
func (d *Dispatcher) onCommentAdded(ctx context.Context, event *eventbus.Event) {
	project, comment := event.Project, event.Comment
	if project == nil || comment == nil {
		return
	}
	recipients := append(d.applicantOf(ctx, project), d.coordinatorsFor(ctx, d.municipalitiesOf(ctx, project))...)
	filtered := recipients[:0]
	for _, u := range recipients {
		if u.ID != comment.AuthorID {
			filtered = append(filtered, u)
		}
	}
	payload := projectPayload(project)
	payload["comment_id"] = comment.ID
	payload["comment_author"] = comment.AuthorID
	d.send(ctx, filtered, TemplateCommentAdded, payload)
}

// onConflictsDetected notifies the subject's applicant and coordinators,
// then each peer project's applicant — each peer sees itself as the project
// and the new project as the conflict.
func (d *Dispatcher) onConflictsDetected(ctx context.Context, event *eventbus.Event) {
	project := event.Project
	if project == nil {
		return
	}
	recipients := append(d.applicantOf(ctx, project), d.coordinatorsFor(ctx, d.municipalitiesOf(ctx, project))...)
	payload := projectPayload(project)
	conflictIDs := make([]string, 0, len(event.Conflicts))
	for _, c := range event.Conflicts {
		conflictIDs = append(conflictIDs, c.ID)
	}
	payload["conflicting_project_ids"] = conflictIDs
	d.send(ctx, recipients, TemplateConflictsDetected, payload)

	notified := map[string]bool{}
	for _, u := range recipients {
		notified[u.ID] = true
	}
	for _, peer := range event.Conflicts {
		peerApplicants := d.applicantOf(ctx, peer)
		peerPayload := projectPayload(peer)
		peerPayload["conflict_project_id"] = project.ID
		peerPayload["conflict_project_name"] = project.Name
		var fresh []*directory.User
		for _, u := range peerApplicants {
			if !notified[u.ID] {
				notified[u.ID] = true
				fresh = append(fresh, u)
			}
		}
		d.send(ctx, fresh, TemplateConflictPeer, peerPayload)
	}
}

// onMoratoriumCreated notifies coordinators covering the municipality and
// applicants with projects touching it.
func (d *Dispatcher) onMoratoriumCreated(ctx context.Context, event *eventbus.Event) {
	m := event.Moratorium
	if m == nil {
		return
	}
	recipients := d.coordinatorsFor(ctx, []string{m.MunicipalityCode})
	recipients = append(recipients, d.applicantsIn(ctx, m.MunicipalityCode)...)
	payload := map[string]any{
		"moratorium_id":     m.ID,
		"moratorium_name":   m.Name,
		"reason":            m.Reason,
		"valid_from":        m.ValidFrom.String(),
		"valid_to":          m.ValidTo.String(),
		"municipality_code": m.MunicipalityCode,
	}
	if m.Exceptions != "" {
		payload["exceptions"] = m.Exceptions
	}
	d.send(ctx, recipients, TemplateMoratoriumCreated, payload)
}

func (d *Dispatcher) onUserRegistered(ctx context.Context, event *eventbus.Event) {
	admins, err := directory.AllUsersByRole(ctx, d.dir, types.RoleRegionalAdmin, true)
	if err != nil {
		d.log.Warn("resolve regional admins failed", "error", err)
		return
	}
	d.send(ctx, admins, TemplateUserRegistered, map[string]any{"user_id": event.UserID})
}

// onDeadline notifies the applicant, plus coordinators for approved
// projects.
func (d *Dispatcher) onDeadline(ctx context.Context, event *eventbus.Event) {
	project := event.Project
	if project == nil {
		return
	}
	recipients := d.applicantOf(ctx, project)
	if project.State == types.StateApproved {
		recipients = append(recipients, d.coordinatorsFor(ctx, d.municipalitiesOf(ctx, project))...)
	}
	payload := projectPayload(project)
	payload["deadline_kind"] = string(event.DeadlineKind)
	payload["days_until"] = event.DaysUntil
	d.send(ctx, recipients, TemplateDeadline, payload)
}

// send deduplicates recipients by user id and enqueues one message each.
// Enqueue is at-most-one attempt; the external queue owns retries.
func (d *Dispatcher) send(ctx context.Context, recipients []*directory.User, template string, payload map[string]any) {
	seen := make(map[string]bool, len(recipients))
	for _, user := range recipients {
		if user == nil || user.Email == "" || seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		msg := &mailqueue.Message{
			RecipientEmail: user.Email,
			Template:       template,
			Payload:        payload,
		}
		if err := d.queue.Enqueue(ctx, msg); err != nil {
			d.log.Warn("notification enqueue failed",
				"template", template, "recipient", user.ID, "error", err)
			continue
		}
		telemetry.RecordNotification(ctx, template)
	}
}

// municipalitiesOf returns the project's current affected-municipality set
// from storage. The event snapshot was taken before the conflict detector
// derived the set, so recipients must be resolved from the persisted copy;
// the snapshot is the fallback when the re-read fails.
func (d *Dispatcher) municipalitiesOf(ctx context.Context, project *types.Project) []string {
	if d.projects == nil {
		return project.AffectedMunicipalities
	}
	fresh, err := d.projects.GetProject(ctx, project.ID)
	if err != nil {
		d.log.Warn("refresh project failed, using event snapshot",
			"project", project.ID, "error", err)
		return project.AffectedMunicipalities
	}
	return fresh.AffectedMunicipalities
}

// coordinatorsFor resolves municipal coordinators whose territory
// intersects the given municipality codes.
func (d *Dispatcher) coordinatorsFor(ctx context.Context, codes []string) []*directory.User {
	if len(codes) == 0 {
		return nil
	}
	coordinators, err := directory.AllUsersByRole(ctx, d.dir, types.RoleMunicipalCoordinator, true)
	if err != nil {
		d.log.Warn("resolve coordinators failed", "error", err)
		return nil
	}
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	var out []*directory.User
	for _, coordinator := range coordinators {
		territories, err := d.dir.UserTerritories(ctx, coordinator.ID)
		if err != nil {
			d.log.Warn("resolve territories failed", "user", coordinator.ID, "error", err)
			continue
		}
		for _, t := range territories {
			if wanted[t] {
				out = append(out, coordinator)
				break
			}
		}
	}
	return out
}

func (d *Dispatcher) applicantOf(ctx context.Context, project *types.Project) []*directory.User {
	user, err := d.dir.FindUserByID(ctx, project.ApplicantID)
	if err != nil {
		d.log.Warn("resolve applicant failed", "project", project.ID, "applicant", project.ApplicantID, "error", err)
		return nil
	}
	return []*directory.User{user}
}

// applicantsIn resolves applicants with a project touching the
// municipality.
func (d *Dispatcher) applicantsIn(ctx context.Context, municipalityCode string) []*directory.User {
	if d.projects == nil {
		return nil
	}
	paged, err := d.projects.SearchProjects(ctx,
		types.ProjectFilter{MunicipalityCode: municipalityCode},
		types.Page{Number: 1, Limit: types.MaxPageLimit})
	if err != nil {
		d.log.Warn("resolve municipality applicants failed", "municipality", municipalityCode, "error", err)
		return nil
	}
	seen := map[string]bool{}
	var out []*directory.User
	for _, p := range paged.Items {
		if seen[p.ApplicantID] {
			continue
		}
		seen[p.ApplicantID] = true
		out = append(out, d.applicantOf(ctx, p)...)
	}
	return out
}

func projectPayload(p *types.Project) map[string]any {
	return map[string]any{
		"project_id":   p.ID,
		"project_name": p.Name,
		"state":        string(p.State),
		"start_date":   p.StartDate.String(),
		"end_date":     p.EndDate.String(),
	}
}

func geometryOrDatesChanged(old, updated *types.Project) bool {
	return !old.Geometry.Equal(updated.Geometry) ||
		!old.StartDate.Equal(updated.StartDate) ||
		!old.EndDate.Equal(updated.EndDate)
}
