package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

const userColumns = `id, user_id, username, display_name, password_hash, role, status, created_at, updated_at`

// UserRepository implements user.Repository.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO users
		(user_id, username, display_name, password_hash, role, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, u.UserID, u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Status, u.CreatedAt, u.UpdatedAt)
	if err := row.Scan(&u.ID); err != nil {
		if isUniqueViolation(err) {
			return user.ErrDuplicateUsername
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET username=$1, display_name=$2, password_hash=$3, role=$4, status=$5, updated_at=$6
		WHERE user_id=$7
	`, u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Status, u.UpdatedAt, u.UserID)
	if err != nil {
		if isUniqueViolation(err) {
			return user.ErrDuplicateUsername
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID)
	return scanUser(row)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	return scanUser(row)
}

func (r *UserRepository) List(ctx context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	var w where
	if filter.Role != nil {
		w.add("role=?", *filter.Role)
	}
	if filter.Status != nil {
		w.add("status=?", *filter.Status)
	}
	if filter.Username != nil {
		w.add("username=?", *filter.Username)
	}
	query := `SELECT ` + userColumns + ` FROM users` + w.String() + ` ORDER BY id ASC` + w.page(limit, offset)
	return r.query(ctx, query, w.args...)
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) ActiveAdmins(ctx context.Context) ([]*user.User, error) {
	return r.query(ctx, `SELECT `+userColumns+` FROM users WHERE role=$1 AND status=$2 ORDER BY id ASC`,
		user.RoleAdmin, user.StatusActive)
}

func (r *UserRepository) query(ctx context.Context, query string, args ...interface{}) ([]*user.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	var users []*user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.UserID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
