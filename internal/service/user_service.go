package service

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"userhub/internal/async"
	"userhub/internal/domain"
	"userhub/internal/repository"
)

const minPasswordLength = 6

// Statistics summarises one consistent snapshot of the directory.
type Statistics struct {
	Total    int                 `json:"total"`
	Active   int                 `json:"active"`
	Inactive int                 `json:"inactive"`
	ByRole   map[domain.Role]int `json:"byRole"`
}

// UserService applies input validation and business rules on top of the
// user repository.
type UserService interface {
	CreateUser(ctx context.Context, in domain.CreateUserInput, cb repository.CreateCallback)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetAllUsers(ctx context.Context) ([]domain.User, error)
	GetActiveUsers(ctx context.Context) ([]domain.User, error)
	GetUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, id string, patch domain.UserPatch) *async.Future[domain.User]
	DeleteUser(ctx context.Context, id string) (bool, error)
	GetUserStatistics(ctx context.Context) (Statistics, error)
}

// Option customises the user service.
type Option func(*userService)

// WithLogger sets the logger policy decisions are reported to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *userService) { s.logger = logger }
}

// WithPasswordCost overrides the bcrypt cost used for new password hashes.
func WithPasswordCost(cost int) Option {
	return func(s *userService) { s.passwordCost = cost }
}

type userService struct {
	users        repository.UserRepository
	logger       logrus.FieldLogger
	passwordCost int
}

func NewUserService(users repository.UserRepository, opts ...Option) UserService {
	s := &userService{
		users:        users,
		logger:       logrus.StandardLogger(),
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser validates in and hands it to the repository. Invalid input is
// reported to cb before CreateUser returns and never reaches the repository.
func (s *userService) CreateUser(ctx context.Context, in domain.CreateUserInput, cb repository.CreateCallback) {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := in.Validate(); err != nil {
		cb(nil, err)
		return
	}

	if in.Password != "" {
		hash, err := s.hashPassword(in.Password)
		if err != nil {
			cb(nil, errors.Annotate(err, "create user"))
			return
		}
		in.PasswordHash = hash
		in.Password = ""
	}

	s.users.Create(ctx, in, func(user *domain.User, err error) {
		if err != nil {
			cb(nil, errors.Annotate(err, "create user"))
			return
		}
		if user == nil {
			cb(nil, errors.New("create user: repository returned no user"))
			return
		}
		cb(user, nil)
	})
}

// GetUserByID returns nil without error when no user has id.
func (s *userService) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NotValidf("empty user id")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Annotate(err, "get user")
	}
	return user, nil
}

func (s *userService) GetAllUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "list users")
	}
	return users, nil
}

func (s *userService) GetActiveUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.ListActive(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "list active users")
	}
	return users, nil
}

func (s *userService) GetUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	users, err := s.users.ListByRole(ctx, role)
	if err != nil {
		return nil, errors.Annotatef(err, "list users with role %q", role)
	}
	return users, nil
}

// FindUserByEmail returns nil without error when the email is unknown.
func (s *userService) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.NotValidf("empty email")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, errors.Annotate(err, "find user by email")
	}
	return user, nil
}

// UpdateUser rejects a blank id or an empty patch without touching the
// repository. A missing user surfaces as a NotFound rejection.
func (s *userService) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) *async.Future[domain.User] {
	id = strings.TrimSpace(id)
	if id == "" {
		return async.Rejected[domain.User](errors.NotValidf("empty user id"))
	}
	if patch.IsEmpty() {
		return async.Rejected[domain.User](errors.NotValidf("empty update"))
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return async.Rejected[domain.User](errors.NotValidf("role %q", *patch.Role))
	}

	patch.PasswordHash = nil
	if patch.Password != nil {
		if len(*patch.Password) < minPasswordLength {
			return async.Rejected[domain.User](errors.NotValidf("password shorter than %d characters", minPasswordLength))
		}
		hash, err := s.hashPassword(*patch.Password)
		if err != nil {
			return async.Rejected[domain.User](errors.Annotate(err, "update user"))
		}
		patch.PasswordHash = &hash
		patch.Password = nil
	}

	return async.Go(func() (domain.User, error) {
		user, err := s.users.Update(ctx, id, patch).Await(context.WithoutCancel(ctx))
		if err != nil {
			return domain.User{}, errors.Annotate(err, "update user")
		}
		return user, nil
	})
}

// DeleteUser removes the user with id and reports whether anything was
// removed. Admin users are protected and cannot be deleted. The role is
// checked inside the repository's delete, against the user as stored at
// that moment.
func (s *userService) DeleteUser(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.NotValidf("empty user id")
	}

	removed, err := s.users.DeleteIf(ctx, id, func(user domain.User) error {
		if user.IsAdmin() {
			s.logger.WithFields(logrus.Fields{"user_id": id, "role": user.Role}).Info("refused to delete protected user")
			return errors.Forbiddenf("deleting admin user %q", id)
		}
		return nil
	})
	if err != nil {
		return false, errors.Annotate(err, "delete user")
	}
	return removed, nil
}

// GetUserStatistics counts users from a single listing so the totals always
// agree with each other.
func (s *userService) GetUserStatistics(ctx context.Context) (Statistics, error) {
	users, err := s.GetAllUsers(ctx)
	if err != nil {
		return Statistics{}, errors.Annotate(err, "user statistics")
	}

	stats := Statistics{
		Total:  len(users),
		ByRole: make(map[domain.Role]int),
	}
	for _, u := range users {
		if u.IsActive {
			stats.Active++
		}
		stats.ByRole[u.Role]++
	}
	stats.Inactive = stats.Total - stats.Active
	return stats, nil
}

func (s *userService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return "", errors.Annotate(err, "hash password")
	}
	return string(hash), nil
}
