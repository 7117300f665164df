package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateUsername is returned by Create and Update when the username is
// taken.
var ErrDuplicateUsername = errors.New("username already exists")

// Filter controls user listing.
type Filter struct {
	Role     *Role
	Status   *Status
	Username *string
}

// Repository defines persistence for users.
type Repository interface {
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*User, error)
	Count(ctx context.Context) (int, error)
	// ActiveAdmins returns every active admin ordered by creation.
	ActiveAdmins(ctx context.Context) ([]*User, error)
}
