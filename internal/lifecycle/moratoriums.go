package lifecycle

import (
	"context"

	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

// CreateMoratorium registers a dig moratorium. Only coordinators may create
// them; a municipal coordinator must cover the municipality.
func (c *Controller) CreateMoratorium(ctx context.Context, actor types.Actor, in *types.MoratoriumInput) (*types.Moratorium, error) {
	if err := c.authorizeMoratorium(actor, in.MunicipalityCode, "create moratorium"); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m := &types.Moratorium{
		Name:             in.Name,
		Geometry:         in.Geometry,
		Reason:           in.Reason,
		ReasonDetail:     in.ReasonDetail,
		ValidFrom:        in.ValidFrom,
		ValidTo:          in.ValidTo,
		Exceptions:       in.Exceptions,
		CreatedBy:        actor.ID,
		MunicipalityCode: in.MunicipalityCode,
	}

	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateMoratorium(ctx, m); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &types.AuditEntry{
			EntityID: m.ID,
			ActorID:  actor.ID,
			Action:   types.AuditActionCreate,
			After:    moratoriumSnapshot(m),
		})
	})
	if err != nil {
		return nil, err
	}

	c.publish(&eventbus.Event{Type: eventbus.EventMoratoriumCreated, Moratorium: m})
	return m, nil
}

// UpdateMoratorium applies a column-keyed patch. The repository re-validates
// the five-year bound when the validity interval changes.
func (c *Controller) UpdateMoratorium(ctx context.Context, actor types.Actor, id string, patch map[string]any) (*types.Moratorium, error) {
	current, err := c.store.GetMoratorium(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.authorizeMoratorium(actor, current.MunicipalityCode, "update moratorium"); err != nil {
		return nil, err
	}

	var updated *types.Moratorium
	err = c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		updated, err = tx.UpdateMoratorium(ctx, id, patch)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &types.AuditEntry{
			EntityID: id,
			ActorID:  actor.ID,
			Action:   types.AuditActionUpdate,
			Before:   moratoriumSnapshot(current),
			After:    moratoriumSnapshot(updated),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteMoratorium hard-deletes the moratorium. Missing rows surface as
// storage.ErrNotFound.
func (c *Controller) DeleteMoratorium(ctx context.Context, actor types.Actor, id string) error {
	current, err := c.store.GetMoratorium(ctx, id)
	if err != nil {
		return err
	}
	if err := c.authorizeMoratorium(actor, current.MunicipalityCode, "delete moratorium"); err != nil {
		return err
	}

	return c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		deleted, err := tx.DeleteMoratorium(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return storage.ErrNotFound
		}
		return tx.AppendAudit(ctx, &types.AuditEntry{
			EntityID: id,
			ActorID:  actor.ID,
			Action:   types.AuditActionDelete,
			Before:   moratoriumSnapshot(current),
		})
	})
}

// ValidateMoratoriumOverlap previews overlaps with existing moratoriums in
// the same municipality before creation or edit. Advisory only.
func (c *Controller) ValidateMoratoriumOverlap(ctx context.Context, geom types.Geometry, from, to types.Date, municipalityCode, excludeID string) (*types.OverlapReport, error) {
	return c.store.ValidateMoratoriumOverlap(ctx, geom, from, to, municipalityCode, excludeID)
}

// authorizeMoratorium requires a coordinator role; municipal coordinators
// must cover the target municipality.
func (c *Controller) authorizeMoratorium(actor types.Actor, municipalityCode, action string) error {
	if !actor.Role.IsCoordinator() {
		return &types.ForbiddenError{ActorID: actor.ID, Action: action,
			Reason: "requires municipal_coordinator or regional_admin"}
	}
	if actor.Role == types.RoleMunicipalCoordinator && !actor.InTerritory([]string{municipalityCode}) {
		return &types.ForbiddenError{ActorID: actor.ID, Action: action,
			Reason: "outside coordinator territory"}
	}
	return nil
}

func moratoriumSnapshot(m *types.Moratorium) map[string]any {
	return map[string]any{
		"name":              m.Name,
		"reason":            m.Reason,
		"valid_from":        m.ValidFrom.String(),
		"valid_to":          m.ValidTo.String(),
		"municipality_code": m.MunicipalityCode,
	}
}
