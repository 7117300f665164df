package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

type userRepo struct {
	st *state
}

func (r *userRepo) Create(_ context.Context, u *user.User) error {
	for _, cur := range r.st.users {
		if cur.Username == u.Username {
			return user.ErrDuplicateUsername
		}
	}
	u.ID = r.st.id()
	cp := *u
	r.st.users[u.UserID] = &cp
	return nil
}

func (r *userRepo) Update(_ context.Context, u *user.User) error {
	if _, ok := r.st.users[u.UserID]; !ok {
		return fmt.Errorf("user %s does not exist", u.UserID)
	}
	for id, cur := range r.st.users {
		if id != u.UserID && cur.Username == u.Username {
			return user.ErrDuplicateUsername
		}
	}
	cp := *u
	r.st.users[u.UserID] = &cp
	return nil
}

func (r *userRepo) GetByID(_ context.Context, userID uuid.UUID) (*user.User, error) {
	u, ok := r.st.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetByUsername(_ context.Context, username string) (*user.User, error) {
	for _, u := range r.st.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *userRepo) List(_ context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	var out []*user.User
	for _, u := range r.st.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		if filter.Username != nil && u.Username != *filter.Username {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	start, end := paginate(len(out), limit, offset)
	return out[start:end], nil
}

func (r *userRepo) Count(_ context.Context) (int, error) {
	return len(r.st.users), nil
}

func (r *userRepo) ActiveAdmins(_ context.Context) ([]*user.User, error) {
	var out []*user.User
	for _, u := range r.st.users {
		if u.IsAdmin() && u.IsActive() {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UserRepository serves users outside a transaction.
type UserRepository struct {
	store *Store
}

func (s *Store) UserRepository() *UserRepository {
	return &UserRepository{store: s}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	return r.store.view(func(st *state) error { return (&userRepo{st: st}).Create(ctx, u) })
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	return r.store.view(func(st *state) error { return (&userRepo{st: st}).Update(ctx, u) })
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	var out *user.User
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&userRepo{st: st}).GetByID(ctx, userID)
		return err
	})
	return out, err
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	var out *user.User
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&userRepo{st: st}).GetByUsername(ctx, username)
		return err
	})
	return out, err
}

func (r *UserRepository) List(ctx context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	var out []*user.User
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&userRepo{st: st}).List(ctx, filter, limit, offset)
		return err
	})
	return out, err
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var out int
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&userRepo{st: st}).Count(ctx)
		return err
	})
	return out, err
}

func (r *UserRepository) ActiveAdmins(ctx context.Context) ([]*user.User, error) {
	var out []*user.User
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&userRepo{st: st}).ActiveAdmins(ctx)
		return err
	})
	return out, err
}
