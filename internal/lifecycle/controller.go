// Package lifecycle is the orchestration facade the transport layer calls.
// For every mutating action it authorizes, transacts (write + audit in one
// unit), returns the new entity, and publishes a domain event afterwards. It
// never waits for subscribers.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

// Publisher is the async event sink; satisfied by *eventbus.Publisher.
type Publisher interface {
	Publish(event *eventbus.Event)
}

// Controller drives the project and moratorium lifecycles.
type Controller struct {
	store     storage.Storage
	publisher Publisher
	log       *slog.Logger
}

// New creates a controller. publisher may be nil in one-shot CLI contexts.
func New(store storage.Storage, publisher Publisher, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{store: store, publisher: publisher, log: log}
}

func (c *Controller) publish(event *eventbus.Event) {
	if c.publisher != nil {
		c.publisher.Publish(event)
	}
}

// CreateProject creates a project owned by the actor. Initial state defaults
// to draft; pending_approval submits directly.
func (c *Controller) CreateProject(ctx context.Context, actor types.Actor, in *types.ProjectInput) (*types.Project, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	state := in.State
	if state == "" {
		state = types.StateDraft
	}
	project := &types.Project{
		Name:                   in.Name,
		ApplicantID:            actor.ID,
		ContractorOrganization: in.ContractorOrganization,
		ContractorContact:      in.ContractorContact,
		State:                  state,
		StartDate:              in.StartDate,
		EndDate:                in.EndDate,
		Geometry:               in.Geometry,
		WorkType:               in.WorkType,
		WorkCategory:           in.WorkCategory,
		Description:            in.Description,
	}

	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &types.AuditEntry{
			EntityID: project.ID,
			ActorID:  actor.ID,
			Action:   types.AuditActionCreate,
			After:    projectSnapshot(project),
		})
	})
	if err != nil {
		return nil, err
	}

	c.publish(&eventbus.Event{Type: eventbus.EventProjectCreated, Project: project})
	return project, nil
}

// UpdateProject applies a partial update. A state change in the patch is
// routed through ChangeState after the attribute columns are written;
// attribute edits require ownership and an editable state.
func (c *Controller) UpdateProject(ctx context.Context, actor types.Actor, id string, patch *types.ProjectPatch) (*types.Project, error) {
	old, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	var newState *types.State
	if patch.State != nil {
		newState = patch.State
		patch = clearState(patch)
	}

	updated := old
	if !patch.IsEmpty() {
		if err := c.authorizeEdit(actor, old); err != nil {
			return nil, err
		}
		if err := validatePatchDates(old, patch); err != nil {
			return nil, err
		}
		err = c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			if err := tx.ApplyProjectPatch(ctx, id, patch); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, &types.AuditEntry{
				EntityID: id,
				ActorID:  actor.ID,
				Action:   types.AuditActionUpdate,
				Before:   projectSnapshot(old),
				After:    patchSnapshot(patch),
			})
		})
		if err != nil {
			return nil, err
		}
		updated, err = c.store.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		c.publish(&eventbus.Event{
			Type:       eventbus.EventProjectUpdated,
			Project:    updated,
			OldProject: old,
		})
	}

	if newState != nil {
		return c.ChangeState(ctx, actor, id, *newState)
	}
	return updated, nil
}

// ChangeState validates authorization here and the state machine in the
// repository, which also appends the audit entry in the same transaction.
func (c *Controller) ChangeState(ctx context.Context, actor types.Actor, id string, newState types.State) (*types.Project, error) {
	project, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.authorizeTransition(actor, project, newState); err != nil {
		return nil, err
	}

	oldState := project.State
	updated, err := c.store.ChangeProjectState(ctx, id, newState, actor.ID)
	if err != nil {
		return nil, err
	}

	c.publish(&eventbus.Event{
		Type:     eventbus.EventProjectStateChanged,
		Project:  updated,
		OldState: oldState,
	})
	return updated, nil
}

// DeleteProject hard-deletes drafts and cancels approved projects. From
// other states the cancel transition is illegal and surfaces as
// invalid-transition.
func (c *Controller) DeleteProject(ctx context.Context, actor types.Actor, id string) error {
	project, err := c.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if project.State == types.StateDraft {
		if err := c.authorizeEdit(actor, project); err != nil {
			return err
		}
		return c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			if err := tx.AppendAudit(ctx, &types.AuditEntry{
				EntityID: id,
				ActorID:  actor.ID,
				Action:   types.AuditActionDelete,
				Before:   projectSnapshot(project),
			}); err != nil {
				return err
			}
			return tx.DeleteProject(ctx, id)
		})
	}
	_, err = c.ChangeState(ctx, actor, id, types.StateCancelled)
	return err
}

// AddComment attaches a comment and notifies project parties.
func (c *Controller) AddComment(ctx context.Context, actor types.Actor, projectID, content, attachmentURL string) (*types.Comment, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := c.authorizeParticipant(actor, project); err != nil {
		return nil, err
	}
	comment, err := c.store.AddComment(ctx, projectID, actor.ID, content, attachmentURL)
	if err != nil {
		return nil, err
	}
	c.publish(&eventbus.Event{
		Type:    eventbus.EventCommentAdded,
		Project: project,
		Comment: comment,
	})
	return comment, nil
}

// GetComments lists a project's comments.
func (c *Controller) GetComments(ctx context.Context, projectID string) ([]*types.Comment, error) {
	return c.store.GetComments(ctx, projectID)
}

// NotifyUserRegistered publishes the registration event for the external
// identity service; registration itself happens out of process.
func (c *Controller) NotifyUserRegistered(userID string) {
	c.publish(&eventbus.Event{Type: eventbus.EventUserRegistered, UserID: userID})
}

// authorizeEdit gates attribute edits and draft deletion: the owning
// applicant while the project is editable, or a regional admin.
func (c *Controller) authorizeEdit(actor types.Actor, project *types.Project) error {
	if actor.Role == types.RoleRegionalAdmin {
		return nil
	}
	if project.ApplicantID != actor.ID {
		return &types.ForbiddenError{ActorID: actor.ID, Action: "edit project", Reason: "not the applicant"}
	}
	if !project.State.IsEditable() {
		return &types.ForbiddenError{ActorID: actor.ID, Action: "edit project",
			Reason: fmt.Sprintf("state %s is not editable", project.State)}
	}
	return nil
}

// authorizeParticipant admits the owner, regional admins, and municipal
// coordinators covering the project.
func (c *Controller) authorizeParticipant(actor types.Actor, project *types.Project) error {
	if actor.Role == types.RoleRegionalAdmin || project.ApplicantID == actor.ID {
		return nil
	}
	if actor.Role == types.RoleMunicipalCoordinator {
		if actor.InTerritory(project.AffectedMunicipalities) {
			return nil
		}
		return &types.ForbiddenError{ActorID: actor.ID, Action: "access project", Reason: "outside coordinator territory"}
	}
	return &types.ForbiddenError{ActorID: actor.ID, Action: "access project", Reason: "not a project party"}
}

// authorizeTransition enforces the role matrix: approval decisions belong
// to coordinators (territory-gated for municipal ones); everything else to
// the owner or a covering coordinator.
func (c *Controller) authorizeTransition(actor types.Actor, project *types.Project, newState types.State) error {
	switch newState {
	case types.StateApproved, types.StateRejected:
		if !actor.Role.IsCoordinator() {
			return &types.ForbiddenError{ActorID: actor.ID, Action: "approve/reject project",
				Reason: "requires municipal_coordinator or regional_admin"}
		}
		if actor.Role == types.RoleMunicipalCoordinator && !actor.InTerritory(project.AffectedMunicipalities) {
			return &types.ForbiddenError{ActorID: actor.ID, Action: "approve/reject project",
				Reason: "outside coordinator territory"}
		}
		return nil
	default:
		if project.ApplicantID == actor.ID {
			return nil
		}
		if actor.Role == types.RoleRegionalAdmin {
			return nil
		}
		if actor.Role == types.RoleMunicipalCoordinator && actor.InTerritory(project.AffectedMunicipalities) {
			return nil
		}
		return &types.ForbiddenError{ActorID: actor.ID, Action: "change project state", Reason: "not a project party"}
	}
}

func clearState(patch *types.ProjectPatch) *types.ProjectPatch {
	clone := *patch
	clone.State = nil
	return &clone
}

// validatePatchDates keeps endDate ≥ startDate across partial date edits.
func validatePatchDates(current *types.Project, patch *types.ProjectPatch) error {
	start, end := current.StartDate, current.EndDate
	if patch.StartDate != nil {
		start = *patch.StartDate
	}
	if patch.EndDate != nil {
		end = *patch.EndDate
	}
	if end.Before(start) {
		return &types.ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return nil
}

func projectSnapshot(p *types.Project) map[string]any {
	return map[string]any{
		"name":       p.Name,
		"state":      string(p.State),
		"start_date": p.StartDate.String(),
		"end_date":   p.EndDate.String(),
	}
}

func patchSnapshot(patch *types.ProjectPatch) map[string]any {
	out := map[string]any{}
	if patch.Name != nil {
		out["name"] = *patch.Name
	}
	if patch.StartDate != nil {
		out["start_date"] = patch.StartDate.String()
	}
	if patch.EndDate != nil {
		out["end_date"] = patch.EndDate.String()
	}
	if patch.Geometry != nil {
		out["geometry"] = "changed"
	}
	if patch.WorkType != nil {
		out["work_type"] = *patch.WorkType
	}
	if patch.WorkCategory != nil {
		out["work_category"] = *patch.WorkCategory
	}
	if patch.Description != nil {
		out["description"] = "changed"
	}
	return out
}
