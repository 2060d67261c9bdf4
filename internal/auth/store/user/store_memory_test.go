package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intakehub/internal/auth/models"
	"intakehub/pkg/platform/sentinel"
)

type InMemoryUserStoreSuite struct {
	suite.Suite
	store *InMemoryUserStore
}

func (s *InMemoryUserStoreSuite) SetupTest() {
	s.store = New()
}

func TestInMemoryUserStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryUserStoreSuite))
}

func newUser(email string) *models.User {
	u, err := models.NewUser(email, "Jane Doe", "$2a$10$hash", "org_viewer", "chesapeake", "", time.Now())
	if err != nil {
		panic(err)
	}
	return u
}

func (s *InMemoryUserStoreSuite) TestLookupBehavior() {
	ctx := context.Background()
	u := newUser("Jane.Doe@Example.org")
	s.Require().NoError(s.store.Create(ctx, u))

	s.Run("returns user by ID", func() {
		found, err := s.store.FindByID(ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(u, found)
	})

	s.Run("returns user by normalized email", func() {
		found, err := s.store.FindByEmail(ctx, "jane.doe@example.org")
		s.Require().NoError(err)
		s.Equal(u.ID, found.ID)
		s.Equal("CHESAPEAKE", found.DistrictCode)
	})

	s.Run("returns ErrNotFound for unknown ID and email", func() {
		_, err := s.store.FindByID(ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByEmail(ctx, "missing@example.org")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned users are copies", func() {
		found, err := s.store.FindByID(ctx, u.ID)
		s.Require().NoError(err)
		found.Role = "full_admin"
		again, err := s.store.FindByID(ctx, u.ID)
		s.Require().NoError(err)
		s.Equal("org_viewer", again.Role)
	})
}

func (s *InMemoryUserStoreSuite) TestCreateRejectsDuplicateEmail() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newUser("dup@example.org")))
	err := s.store.Create(ctx, newUser("dup@example.org"))
	s.ErrorIs(err, sentinel.ErrConflict)

	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *InMemoryUserStoreSuite) TestSetActive() {
	ctx := context.Background()
	u := newUser("active@example.org")
	s.Require().NoError(s.store.Create(ctx, u))

	s.Require().NoError(s.store.SetActive(ctx, u.ID, false))
	found, err := s.store.FindByID(ctx, u.ID)
	s.Require().NoError(err)
	s.False(found.Active)

	s.ErrorIs(s.store.SetActive(ctx, uuid.New(), false), sentinel.ErrNotFound)
}

func (s *InMemoryUserStoreSuite) TestUpdateChangesOnlyProfileFields() {
	ctx := context.Background()
	u := newUser("update@example.org")
	s.Require().NoError(s.store.Create(ctx, u))

	changed := *u
	changed.FullName = "Jane Renamed"
	changed.PasswordHash = "$2a$10$newhash"
	changed.Role = "full_admin"
	s.Require().NoError(s.store.Update(ctx, &changed))

	found, err := s.store.FindByID(ctx, u.ID)
	s.Require().NoError(err)
	s.Equal("Jane Renamed", found.FullName)
	s.Equal("$2a$10$newhash", found.PasswordHash)
	s.Equal("org_viewer", found.Role)

	missing := newUser("missing@example.org")
	s.ErrorIs(s.store.Update(ctx, missing), sentinel.ErrNotFound)
}
