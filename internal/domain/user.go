package domain

import (
	"strings"
	"time"
)

// Role categorises a user within the directory.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleEntrepreneur Role = "entrepreneur"
	RoleInvestor     Role = "investor"
	RoleMentor       Role = "mentor"
	RoleUser         Role = "user"
)

// Roles lists every known role in declaration order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleEntrepreneur, RoleInvestor, RoleMentor, RoleUser}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// User is an immutable directory entry. Changes go through Apply, which
// returns a new value and leaves the receiver untouched.
type User struct {
	ID           string    `json:"id" validate:"required"`
	Email        string    `json:"email" validate:"required,email"`
	FirstName    string    `json:"firstName" validate:"required,name"`
	LastName     string    `json:"lastName" validate:"required,name"`
	Age          int       `json:"age" validate:"gte=18,lte=120"`
	Role         Role      `json:"role" validate:"required,oneof=admin entrepreneur investor mentor user"`
	IsActive     bool      `json:"isActive"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateUserInput carries everything needed to create a user except the
// identifier and timestamps.
type CreateUserInput struct {
	Email     string `json:"email" validate:"required"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Age       int    `json:"age"`
	Role      Role   `json:"role" validate:"required,oneof=admin entrepreneur investor mentor user"`
	// IsActive defaults to true when nil.
	IsActive *bool  `json:"isActive,omitempty"`
	Password string `json:"password,omitempty" validate:"omitempty,min=6"`
	// PasswordHash is filled in by the service layer; never bound from requests.
	PasswordHash string `json:"-"`
}

// UserPatch lists optional replacements for the mutable fields of a user.
// Nil fields keep their current value.
type UserPatch struct {
	Email        *string `json:"email,omitempty"`
	FirstName    *string `json:"firstName,omitempty"`
	LastName     *string `json:"lastName,omitempty"`
	Age          *int    `json:"age,omitempty"`
	Role         *Role   `json:"role,omitempty"`
	IsActive     *bool   `json:"isActive,omitempty"`
	Password     *string `json:"password,omitempty"`
	PasswordHash *string `json:"-"`
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Email == nil &&
		p.FirstName == nil &&
		p.LastName == nil &&
		p.Age == nil &&
		p.Role == nil &&
		p.IsActive == nil &&
		p.Password == nil &&
		p.PasswordHash == nil
}

// NewUser builds a validated user. Either the full value or an error is
// returned, never a partially populated user.
func NewUser(id string, in CreateUserInput, now time.Time) (User, error) {
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	u := User{
		ID:           id,
		Email:        strings.TrimSpace(in.Email),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Age:          in.Age,
		Role:         in.Role,
		IsActive:     active,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return User{}, err
	}
	return u, nil
}

// Apply returns a copy of u with the patch merged over it. The result is
// validated as a whole; on failure u is still the authoritative value.
func (u User) Apply(p UserPatch, now time.Time) (User, error) {
	next := u
	if p.Email != nil {
		next.Email = strings.TrimSpace(*p.Email)
	}
	if p.FirstName != nil {
		next.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		next.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Age != nil {
		next.Age = *p.Age
	}
	if p.Role != nil {
		next.Role = *p.Role
	}
	if p.IsActive != nil {
		next.IsActive = *p.IsActive
	}
	if p.PasswordHash != nil {
		next.PasswordHash = *p.PasswordHash
	}
	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		return User{}, err
	}
	return next, nil
}

// FullName joins first and last name.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// IsAdmin reports whether u holds the protected admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasPassword reports whether a password hash is stored for u.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}
