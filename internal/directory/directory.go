// Package directory is the client contract for the external user/territory
// service. The core never joins across this boundary: it asks for users and
// territories and works with what it gets.
package directory

import (
	"context"

	"github.com/digcoord/digcoord/internal/types"
)

// User is the directory's view of an account. Email is where notifications
// land.
type User struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Role   types.Role `json:"role"`
	Active bool       `json:"active"`
}

// Service resolves users and coordinator territories.
type Service interface {
	// FindUserByID returns the user or storage-style not-found.
	FindUserByID(ctx context.Context, id string) (*User, error)
	// FindUsersByRole returns one page of users with the role plus the
	// total count.
	FindUsersByRole(ctx context.Context, role types.Role, activeOnly bool, page types.Page) ([]*User, int, error)
	// UserTerritories returns the municipality codes assigned to a
	// coordinator.
	UserTerritories(ctx context.Context, userID string) ([]string, error)
}

// AllUsersByRole walks every page of FindUsersByRole.
func AllUsersByRole(ctx context.Context, svc Service, role types.Role, activeOnly bool) ([]*User, error) {
	var out []*User
	page := types.Page{Number: 1, Limit: types.MaxPageLimit}
	for {
		users, total, err := svc.FindUsersByRole(ctx, role, activeOnly, page)
		if err != nil {
			return nil, err
		}
		out = append(out, users...)
		if len(out) >= total || len(users) == 0 {
			return out, nil
		}
		page.Number++
	}
}
