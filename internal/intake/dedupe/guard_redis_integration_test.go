//go:build integration

package dedupe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"intakehub/internal/intake/dedupe"
	"intakehub/pkg/testutil/containers"
)

type RedisGuardSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	guard *dedupe.RedisGuard
}

func TestRedisGuardSuite(t *testing.T) {
	suite.Run(t, new(RedisGuardSuite))
}

func (s *RedisGuardSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.guard = dedupe.NewRedis(s.redis.Client)
}

func (s *RedisGuardSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisGuardSuite) TestClaimIsExclusiveUntilReleased() {
	ctx := context.Background()

	fresh, err := s.guard.Claim(ctx, "fp-1", time.Minute)
	s.Require().NoError(err)
	s.True(fresh)

	fresh, err = s.guard.Claim(ctx, "fp-1", time.Minute)
	s.Require().NoError(err)
	s.False(fresh)

	s.Require().NoError(s.guard.Release(ctx, "fp-1"))
	fresh, err = s.guard.Claim(ctx, "fp-1", time.Minute)
	s.Require().NoError(err)
	s.True(fresh)
}

func (s *RedisGuardSuite) TestClaimCarriesTTL() {
	ctx := context.Background()

	_, err := s.guard.Claim(ctx, "fp-ttl", 90*time.Second)
	s.Require().NoError(err)

	ttl, err := s.redis.Client.TTL(ctx, "intake:fp:fp-ttl").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Minute)
	s.LessOrEqual(ttl, 90*time.Second)
}
