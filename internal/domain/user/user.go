package user

import (
	"context"

	"github.com/go-faster/errors"
)

// Role tags a marketplace account as either a buyer or a seller.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ErrNotFound is returned when no account with the requested ID and role exists.
var ErrNotFound = errors.New("user not found")

// User is a marketplace account. Buyers and sellers share the same record and
// are distinguished by Role.
type User struct {
	ID       string
	Username string
	Email    string
	Role     Role
}

// IsSeller reports whether the account can issue coupons.
func (u *User) IsSeller() bool { return u.Role == RoleSeller }

// Repository looks up accounts by ID, constrained to a role. Implementations
// return ErrNotFound when the ID is unknown or belongs to the other role.
type Repository interface {
	FindBuyer(ctx context.Context, id string) (*User, error)
	FindSeller(ctx context.Context, id string) (*User, error)
}
