package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"userhub/internal/async"
	"userhub/internal/domain"
	"userhub/internal/repository"
)

// Observer is told about every finished repository operation.
type Observer interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
}

// Option customises a UserRepository.
type Option func(*UserRepository)

// WithClock replaces the wall clock used for delays and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(r *UserRepository) { r.clock = clk }
}

// WithLatency replaces the simulated delays.
func WithLatency(l Latency) Option {
	return func(r *UserRepository) { r.latency = l }
}

// WithLogger sets the logger operations are traced to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *UserRepository) { r.logger = logger }
}

// WithObserver reports operation outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *UserRepository) { r.observer = o }
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *UserRepository) { r.newID = fn }
}

// WithSeed preloads the demo users.
func WithSeed() Option {
	return func(r *UserRepository) { r.seed = true }
}

// UserRepository keeps users in insertion order behind a single lock. All
// read-modify-write sequences run under the write lock, so no caller can
// observe a half-applied change.
type UserRepository struct {
	mu    sync.RWMutex
	users []domain.User

	clock    clock.Clock
	latency  Latency
	logger   logrus.FieldLogger
	observer Observer
	newID    func() string
	seed     bool
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(opts ...Option) (*UserRepository, error) {
	r := &UserRepository{
		clock:   clock.WallClock,
		latency: DefaultLatency(),
		logger:  logrus.StandardLogger(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.seed {
		users, err := seedUsers(r.newID, r.clock.Now())
		if err != nil {
			return nil, errors.Annotate(err, "seed users")
		}
		r.users = users
	}
	return r, nil
}

// Create inserts a new user after the simulated insert delay. The callback
// fires exactly once on another goroutine. Once issued, the insert runs to
// completion even if ctx is cancelled.
func (r *UserRepository) Create(ctx context.Context, in domain.CreateUserInput, cb repository.CreateCallback) {
	ctx = context.WithoutCancel(ctx)
	async.Notify(func() (domain.User, error) {
		return r.create(ctx, in)
	}, func(u domain.User, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		cb(&u, nil)
	})
}

func (r *UserRepository) create(ctx context.Context, in domain.CreateUserInput) (u domain.User, err error) {
	started := r.clock.Now()
	defer func() { r.finish("create", started, err, logrus.Fields{"email": in.Email, "user_id": u.ID}) }()

	_ = pause(ctx, r.clock, r.latency.Create)

	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.TrimSpace(in.Email)
	if r.indexWhere(func(existing domain.User) bool { return existing.Email == email }) >= 0 {
		return domain.User{}, errors.AlreadyExistsf("email %q", email)
	}

	u, err = domain.NewUser(r.newID(), in, r.clock.Now())
	if err != nil {
		return domain.User{}, err
	}
	r.users = append(r.users, u)
	return u, nil
}

// GetByID returns the user with id, or nil when there is none.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(ctx, "get_by_id", func(u domain.User) bool { return u.ID == id })
}

// GetByEmail returns the user with an exactly matching email, or nil.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(ctx, "get_by_email", func(u domain.User) bool { return u.Email == email })
}

// List returns a copy of every user in insertion order.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	return r.filter(ctx, "list", nil)
}

func (r *UserRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return r.filter(ctx, "list_by_role", func(u domain.User) bool { return u.Role == role })
}

func (r *UserRepository) ListActive(ctx context.Context) ([]domain.User, error) {
	return r.filter(ctx, "list_active", func(u domain.User) bool { return u.IsActive })
}

// Update merges patch over the stored user and swaps the result into the
// same position. The future rejects with NotFound for an unknown id, and
// with NotValid or AlreadyExists when the merged user breaks an invariant;
// in those cases nothing changes.
func (r *UserRepository) Update(ctx context.Context, id string, patch domain.UserPatch) *async.Future[domain.User] {
	ctx = context.WithoutCancel(ctx)
	return async.Go(func() (domain.User, error) {
		return r.update(ctx, id, patch)
	})
}

func (r *UserRepository) update(ctx context.Context, id string, patch domain.UserPatch) (u domain.User, err error) {
	started := r.clock.Now()
	defer func() { r.finish("update", started, err, logrus.Fields{"user_id": id}) }()

	_ = pause(ctx, r.clock, r.latency.Update)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexWhere(func(existing domain.User) bool { return existing.ID == id })
	if idx < 0 {
		return domain.User{}, errors.NotFoundf("user %q", id)
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		clash := r.indexWhere(func(existing domain.User) bool { return existing.Email == email && existing.ID != id })
		if clash >= 0 {
			return domain.User{}, errors.AlreadyExistsf("email %q", email)
		}
	}

	u, err = r.users[idx].Apply(patch, r.clock.Now())
	if err != nil {
		return domain.User{}, err
	}
	r.users[idx] = u
	return u, nil
}

// Delete removes the user with id. It reports false when there was nothing
// to remove.
func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.DeleteIf(ctx, id, nil)
}

// DeleteIf removes the user with id unless guard rejects it. The guard sees
// the stored user under the write lock, so no update can land between the
// check and the removal. A nil guard accepts every user.
func (r *UserRepository) DeleteIf(ctx context.Context, id string, guard repository.DeleteGuard) (removed bool, err error) {
	ctx = context.WithoutCancel(ctx)
	started := r.clock.Now()
	defer func() { r.finish("delete", started, err, logrus.Fields{"user_id": id, "removed": removed}) }()

	_ = pause(ctx, r.clock, r.latency.Read)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexWhere(func(existing domain.User) bool { return existing.ID == id })
	if idx < 0 {
		return false, nil
	}
	if guard != nil {
		if err := guard(r.users[idx]); err != nil {
			return false, err
		}
	}
	r.users = slices.Delete(r.users, idx, idx+1)
	return true, nil
}

// Snapshot copies the collection without any simulated delay.
func (r *UserRepository) Snapshot() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users)
}

// Restore replaces the collection with users. Every user must be valid and
// ids and emails must be unique; otherwise the current collection is kept.
func (r *UserRepository) Restore(users []domain.User) error {
	ids := make(map[string]struct{}, len(users))
	emails := make(map[string]struct{}, len(users))
	for _, u := range users {
		if err := u.Validate(); err != nil {
			return errors.Annotatef(err, "restore user %q", u.ID)
		}
		if _, dup := ids[u.ID]; dup {
			return errors.AlreadyExistsf("user id %q", u.ID)
		}
		if _, dup := emails[u.Email]; dup {
			return errors.AlreadyExistsf("email %q", u.Email)
		}
		ids[u.ID] = struct{}{}
		emails[u.Email] = struct{}{}
	}

	r.mu.Lock()
	r.users = slices.Clone(users)
	r.mu.Unlock()
	return nil
}

func (r *UserRepository) find(ctx context.Context, op string, match func(domain.User) bool) (*domain.User, error) {
	matches, err := r.filter(ctx, op, match)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	u := matches[0]
	return &u, nil
}

func (r *UserRepository) filter(ctx context.Context, op string, match func(domain.User) bool) (out []domain.User, err error) {
	started := r.clock.Now()
	defer func() { r.finish(op, started, err, logrus.Fields{"results": len(out)}) }()

	if err := pause(ctx, r.clock, r.latency.Read); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out = make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		if match == nil || match(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// indexWhere must be called with r.mu held.
func (r *UserRepository) indexWhere(match func(domain.User) bool) int {
	return slices.IndexFunc(r.users, match)
}

func (r *UserRepository) finish(op string, started time.Time, err error, fields logrus.Fields) {
	elapsed := r.clock.Now().Sub(started)
	if r.observer != nil {
		r.observer.ObserveOperation(op, elapsed, err)
	}
	entry := r.logger.WithFields(fields).WithFields(logrus.Fields{"op": op, "duration": elapsed})
	if err != nil {
		entry.WithError(err).Debug("user repository operation failed")
		return
	}
	entry.Debug("user repository operation")
}
