package repository

import (
	"context"

	"userhub/internal/async"
	"userhub/internal/domain"
)

// DeleteGuard inspects the stored user right before removal. A non-nil
// error vetoes the delete and is returned to the caller unchanged.
type DeleteGuard func(user domain.User) error

// CreateCallback receives the outcome of a Create call: either a user or an
// error, exactly once.
type CreateCallback func(user *domain.User, err error)

// UserRepository owns the user collection. Each operation uses one of three
// invocation styles:
//   - Create reports through a callback and returns immediately;
//   - Update returns a future the caller attaches continuations to;
//   - the lookups, Delete and DeleteIf block until their result is ready.
//
// Absence is not an error for lookups and deletes: they return nil, an empty
// slice or false. DeleteIf runs its guard in the same critical section as
// the removal, so the guard never sees a stale user.
type UserRepository interface {
	Create(ctx context.Context, in domain.CreateUserInput, cb CreateCallback)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	ListActive(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, id string, patch domain.UserPatch) *async.Future[domain.User]
	Delete(ctx context.Context, id string) (bool, error)
	DeleteIf(ctx context.Context, id string, guard DeleteGuard) (bool, error)
}

// SnapshotStore persists whole copies of the user collection.
type SnapshotStore interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, users []domain.User) error
	Load(ctx context.Context) ([]domain.User, error)
}
