package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"userhub/internal/domain"
)

func newTestRepo(t *testing.T, opts ...Option) *UserRepository {
	t.Helper()
	logger, _ := test.NewNullLogger()
	base := []Option{WithLatency(NoLatency()), WithLogger(logger)}
	repo, err := NewUserRepository(append(base, opts...)...)
	require.NoError(t, err)
	return repo
}

func createSync(t *testing.T, repo *UserRepository, in domain.CreateUserInput) (*domain.User, error) {
	t.Helper()
	type outcome struct {
		user *domain.User
		err  error
	}
	done := make(chan outcome, 1)
	repo.Create(context.Background(), in, func(u *domain.User, err error) {
		done <- outcome{u, err}
	})
	select {
	case res := <-done:
		return res.user, res.err
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("create callback for %s never fired", in.Email)
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("user-%d", n.Add(1)) }
}

func newInput(email string) domain.CreateUserInput {
	return domain.CreateUserInput{
		Email:     email,
		FirstName: "Laura",
		LastName:  "Pérez",
		Age:       30,
		Role:      domain.RoleMentor,
	}
}

func TestSeedScenario(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	ctx := context.Background()

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 11)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 10)

	entrepreneurs, err := repo.ListByRole(ctx, domain.RoleEntrepreneur)
	require.NoError(t, err)
	var emails []string
	for _, u := range entrepreneurs {
		emails = append(emails, u.Email)
	}
	assert.Equal(t, []string{
		"carlos.martinez@startup.com",
		"sofia.lopez@innovacion.com",
		"miguel.castro@tech.com",
		"fernando.ortiz@business.com",
	}, emails)
}

func TestCreateThenGetByID(t *testing.T) {
	repo := newTestRepo(t)

	created, err := createSync(t, repo, newInput("laura@example.com"))
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	got, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *created, *got)
}

func TestCreateDuplicateEmail(t *testing.T) {
	repo := newTestRepo(t)

	_, err := createSync(t, repo, newInput("dup@example.com"))
	require.NoError(t, err)

	user, err := createSync(t, repo, newInput("dup@example.com"))
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, errors.Is(err, errors.AlreadyExists), "got %v", err)
	assert.Len(t, repo.Snapshot(), 1)
}

func TestCreateEmailMatchIsCaseSensitive(t *testing.T) {
	repo := newTestRepo(t)

	_, err := createSync(t, repo, newInput("case@example.com"))
	require.NoError(t, err)
	_, err = createSync(t, repo, newInput("Case@example.com"))
	require.NoError(t, err)
	assert.Len(t, repo.Snapshot(), 2)
}

func TestCreateInvalidLeavesCollectionUntouched(t *testing.T) {
	repo := newTestRepo(t)
	in := newInput("young@example.com")
	in.Age = 12

	user, err := createSync(t, repo, in)
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Empty(t, repo.Snapshot())
}

func TestGetByIDMissingIsNotAnError(t *testing.T) {
	repo := newTestRepo(t, WithSeed())

	u, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = repo.GetByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	none, err := repo.ListByRole(context.Background(), "unknown")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestListReturnsIndependentCopy(t *testing.T) {
	repo := newTestRepo(t, WithSeed())

	first, err := repo.List(context.Background())
	require.NoError(t, err)
	first[0].FirstName = "Mutated"
	first[1] = domain.User{}

	second, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 11)
	assert.Equal(t, "María", second[0].FirstName)
}

func TestUpdateMergesPatch(t *testing.T) {
	repo := newTestRepo(t)
	created, err := createSync(t, repo, newInput("merge@example.com"))
	require.NoError(t, err)

	age := 44
	updated, err := repo.Update(context.Background(), created.ID, domain.UserPatch{Age: &age}).Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 44, updated.Age)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.Email, updated.Email)
	assert.Equal(t, created.FirstName, updated.FirstName)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	got, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, *got)
}

func TestUpdateKeepsPosition(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	before := repo.Snapshot()
	target := before[4]

	name := "Sofía Elena"
	_, err := repo.Update(context.Background(), target.ID, domain.UserPatch{FirstName: &name}).Await(context.Background())
	require.NoError(t, err)

	after := repo.Snapshot()
	require.Len(t, after, len(before))
	assert.Equal(t, target.ID, after[4].ID)
	assert.Equal(t, "Sofía Elena", after[4].FirstName)
}

func TestUpdateUnknownRejectsWithNotFound(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	before := repo.Snapshot()

	age := 40
	_, err := repo.Update(context.Background(), "nonexistent-id", domain.UserPatch{Age: &age}).Await(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)
	assert.Equal(t, before, repo.Snapshot())
}

func TestUpdateInvalidRejectsWithoutMutation(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	before := repo.Snapshot()

	age := 130
	_, err := repo.Update(context.Background(), before[1].ID, domain.UserPatch{Age: &age}).Await(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Equal(t, before, repo.Snapshot())
}

func TestUpdateRejectsEmailTakenByAnotherUser(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	users := repo.Snapshot()

	taken := users[0].Email
	_, err := repo.Update(context.Background(), users[1].ID, domain.UserPatch{Email: &taken}).Await(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	same := users[1].Email
	_, err = repo.Update(context.Background(), users[1].ID, domain.UserPatch{Email: &same}).Await(context.Background())
	require.NoError(t, err)
}

func TestUpdateDeliversThroughContinuations(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	target := repo.Snapshot()[2]

	active := false
	got := make(chan domain.User, 1)
	repo.Update(context.Background(), target.ID, domain.UserPatch{IsActive: &active}).Then(
		func(u domain.User) { got <- u },
		func(err error) { t.Errorf("unexpected rejection: %v", err) },
	)

	select {
	case u := <-got:
		assert.False(t, u.IsActive)
	case <-time.After(5 * time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t, WithSeed())
	target := repo.Snapshot()[3]

	removed, err := repo.Delete(context.Background(), target.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	u, err := repo.GetByID(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Len(t, repo.Snapshot(), 10)

	removed, err = repo.Delete(context.Background(), target.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSeedUsesIDGenerator(t *testing.T) {
	repo := newTestRepo(t, WithSeed(), WithIDGenerator(sequentialIDs()))

	admin, err := repo.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, "admin@emprendimiento.com", admin.Email)

	created, err := createSync(t, repo, newInput("next@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "user-12", created.ID)
}

func TestDeleteIfGuardVetoes(t *testing.T) {
	repo := newTestRepo(t, WithSeed(), WithIDGenerator(sequentialIDs()))
	ctx := context.Background()
	veto := errors.Forbiddenf("deleting %q", "user-4")

	var seen domain.User
	removed, err := repo.DeleteIf(ctx, "user-4", func(u domain.User) error {
		seen = u
		return veto
	})
	assert.False(t, removed)
	assert.Equal(t, veto, err)
	assert.Equal(t, "luis.torres@mentor.com", seen.Email)
	assert.Len(t, repo.Snapshot(), 11)

	removed, err = repo.DeleteIf(ctx, "missing", func(domain.User) error {
		t.Error("guard called for a missing user")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = repo.DeleteIf(ctx, "user-4", func(domain.User) error { return nil })
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Len(t, repo.Snapshot(), 10)
}

func TestDeleteIfGuardSeesLatestUpdate(t *testing.T) {
	repo := newTestRepo(t, WithSeed(), WithIDGenerator(sequentialIDs()))
	ctx := context.Background()

	role := domain.RoleAdmin
	_, err := repo.Update(ctx, "user-4", domain.UserPatch{Role: &role}).Await(ctx)
	require.NoError(t, err)

	removed, err := repo.DeleteIf(ctx, "user-4", func(u domain.User) error {
		if u.IsAdmin() {
			return errors.Forbiddenf("deleting admin user %q", u.ID)
		}
		return nil
	})
	assert.False(t, removed)
	assert.True(t, errors.Is(err, errors.Forbidden), "got %v", err)

	u, err := repo.GetByID(ctx, "user-4")
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestConcurrentCreatesAreAtomic(t *testing.T) {
	repo := newTestRepo(t, WithLatency(Latency{
		Create: LatencyRange{Min: time.Millisecond, Max: 5 * time.Millisecond},
	}))

	const writers = 20
	var conflicts atomic.Int32
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < writers; i++ {
		email := fmt.Sprintf("user%d@example.com", i%10)
		g.Go(func() error {
			_, err := createSync(t, repo, newInput(email))
			if errors.Is(err, errors.AlreadyExists) {
				conflicts.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	users := repo.Snapshot()
	assert.Len(t, users, 10)
	assert.Equal(t, int32(writers-10), conflicts.Load())

	seen := make(map[string]bool)
	for _, u := range users {
		assert.False(t, seen[u.Email], "duplicate %s", u.Email)
		seen[u.Email] = true
	}
}

func TestCreateWaitsForSimulatedLatency(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := newTestRepo(t, WithClock(clk), WithLatency(Latency{
		Create: LatencyRange{Min: time.Second, Max: time.Second},
	}))

	done := make(chan error, 1)
	repo.Create(context.Background(), newInput("slow@example.com"), func(_ *domain.User, err error) {
		done <- err
	})

	select {
	case <-done:
		t.Fatal("create finished before the clock advanced")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("create never finished")
	}
	assert.Len(t, repo.Snapshot(), 1)
}

func TestReadHonoursContextWhileWaiting(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	repo := newTestRepo(t, WithClock(clk), WithLatency(Latency{
		Read: LatencyRange{Min: time.Hour, Max: time.Hour},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) ObserveOperation(op string, _ time.Duration, _ error) {
	o.ops = append(o.ops, op)
}

func TestObserverAndLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	obs := &recordingObserver{}
	repo, err := NewUserRepository(WithLatency(NoLatency()), WithLogger(logger), WithObserver(obs), WithSeed())
	require.NoError(t, err)

	_, err = repo.List(context.Background())
	require.NoError(t, err)
	_, err = repo.Delete(context.Background(), "missing")
	require.NoError(t, err)

	assert.Equal(t, []string{"list", "delete"}, obs.ops)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "list", hook.AllEntries()[0].Data["op"])
	assert.Equal(t, false, hook.LastEntry().Data["removed"])
}

func TestRestore(t *testing.T) {
	repo := newTestRepo(t)
	source := newTestRepo(t, WithSeed()).Snapshot()

	require.NoError(t, repo.Restore(source))
	assert.Equal(t, source, repo.Snapshot())

	dup := append([]domain.User{}, source[0], source[0])
	err := repo.Restore(dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.AlreadyExists))
	assert.Equal(t, source, repo.Snapshot())

	broken := append([]domain.User{}, source...)
	broken[2].Age = 3
	err = repo.Restore(broken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid))
}
