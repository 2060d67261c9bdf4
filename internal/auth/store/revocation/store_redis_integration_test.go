//go:build integration

package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"intakehub/pkg/testutil/containers"
)

type RedisTRLSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	trl   *RedisTRL
}

func TestRedisTRLSuite(t *testing.T) {
	suite.Run(t, new(RedisTRLSuite))
}

func (s *RedisTRLSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.trl = NewRedisTRL(s.redis.Client)
}

func (s *RedisTRLSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisTRLSuite) TestRevokeSetsExpiringKey() {
	ctx := context.Background()
	s.Require().NoError(s.trl.RevokeToken(ctx, "jti-redis", time.Minute))

	revoked, err := s.trl.IsRevoked(ctx, "jti-redis")
	s.Require().NoError(err)
	s.True(revoked)

	ttl, err := s.redis.Client.TTL(ctx, revokedTokenKeyPrefix+"jti-redis").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Minute)
}

func (s *RedisTRLSuite) TestUnknownTokenIsNotRevoked() {
	revoked, err := s.trl.IsRevoked(context.Background(), "never-seen")
	s.Require().NoError(err)
	s.False(revoked)
}
