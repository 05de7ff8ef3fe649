package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/user"
)

const getUserByRoleSQL = `SELECT id, username, email, role FROM users WHERE id = $1 AND role = $2`

var _ user.Repository = (*UserRepository)(nil)

// UserRepository resolves buyers and sellers from the users table.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindBuyer(ctx context.Context, id string) (*user.User, error) {
	return r.find(ctx, id, user.RoleBuyer)
}

func (r *UserRepository) FindSeller(ctx context.Context, id string) (*user.User, error) {
	return r.find(ctx, id, user.RoleSeller)
}

func (r *UserRepository) find(ctx context.Context, id string, role user.Role) (*user.User, error) {
	var (
		u    user.User
		kind string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, getUserByRoleSQL, id, string(role)).
		Scan(&u.ID, &u.Username, &u.Email, &kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("finding %s %q: %w", role, id, err)
	}
	u.Role = user.Role(kind)
	return &u, nil
}
