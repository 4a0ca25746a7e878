package memory

import (
	"time"

	"github.com/juju/errors"

	"userhub/internal/domain"
)

func inactive() *bool {
	v := false
	return &v
}

var seedInputs = []domain.CreateUserInput{
	{Email: "admin@emprendimiento.com", FirstName: "María", LastName: "González", Age: 35, Role: domain.RoleAdmin},
	{Email: "carlos.martinez@startup.com", FirstName: "Carlos", LastName: "Martínez", Age: 28, Role: domain.RoleEntrepreneur},
	{Email: "ana.rodriguez@ventures.com", FirstName: "Ana", LastName: "Rodríguez", Age: 42, Role: domain.RoleInvestor},
	{Email: "luis.torres@mentor.com", FirstName: "Luis", LastName: "Torres", Age: 50, Role: domain.RoleMentor},
	{Email: "sofia.lopez@innovacion.com", FirstName: "Sofía", LastName: "López", Age: 26, Role: domain.RoleEntrepreneur},
	{Email: "diego.herrera@capital.com", FirstName: "Diego", LastName: "Herrera", Age: 38, Role: domain.RoleInvestor},
	{Email: "patricia.silva@coaching.com", FirstName: "Patricia", LastName: "Silva", Age: 45, Role: domain.RoleMentor},
	{Email: "miguel.castro@tech.com", FirstName: "Miguel", LastName: "Castro", Age: 31, Role: domain.RoleEntrepreneur},
	{Email: "carmen.ruiz@user.com", FirstName: "Carmen", LastName: "Ruiz", Age: 29, Role: domain.RoleUser},
	{Email: "fernando.ortiz@business.com", FirstName: "Fernando", LastName: "Ortiz", Age: 33, Role: domain.RoleEntrepreneur},
	{Email: "isabella.vargas@invest.com", FirstName: "Isabella", LastName: "Vargas", Age: 40, Role: domain.RoleInvestor, IsActive: inactive()},
}

// seedUsers builds the eleven demo users with fresh ids. One is an admin
// and one investor is inactive.
func seedUsers(newID func() string, now time.Time) ([]domain.User, error) {
	users := make([]domain.User, 0, len(seedInputs))
	for _, in := range seedInputs {
		u, err := domain.NewUser(newID(), in, now)
		if err != nil {
			return nil, errors.Annotatef(err, "seed %s", in.Email)
		}
		users = append(users, u)
	}
	return users, nil
}
