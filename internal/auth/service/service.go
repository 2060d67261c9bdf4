// Package service implements staff authentication: password login, token
// issuance and revocation, and administrator-managed accounts.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intakehub/internal/auth/models"
	jwttoken "intakehub/internal/jwt_token"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/platform/sentinel"
	"intakehub/pkg/requestcontext"
)

// UserStore persists staff accounts.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Count(ctx context.Context) (int, error)
}

// RevocationList records logged-out token ids until their expiry.
type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	GenerateAccessToken(sub jwttoken.Subject, expiresIn time.Duration) (*jwttoken.IssuedToken, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

// ScopeValidator confirms an organization binding exists.
type ScopeValidator interface {
	ValidateScope(ctx context.Context, districtCode, schoolCode string) error
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Metrics counts login outcomes.
type Metrics interface {
	IncLogin(result string)
}

const defaultTokenTTL = 60 * time.Minute

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")

// Service authenticates staff and manages their accounts.
type Service struct {
	users    UserStore
	revoked  RevocationList
	tokens   TokenIssuer
	hasher   PasswordHasher
	scopes   ScopeValidator
	audit    AuditRecorder
	metrics  Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	tokenTTL time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithScopeValidator(v ScopeValidator) Option {
	return func(s *Service) {
		s.scopes = v
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func New(users UserStore, revoked RevocationList, tokens TokenIssuer, hasher PasswordHasher, recorder AuditRecorder, opts ...Option) *Service {
	s := &Service{
		users:    users,
		revoked:  revoked,
		tokens:   tokens,
		hasher:   hasher,
		audit:    recorder,
		metrics:  noopMetrics{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("intakehub/auth"),
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type noopMetrics struct{}

func (noopMetrics) IncLogin(string) {}

// Login checks credentials and issues an access token bound to the user's
// role and organization. Unknown emails, wrong passwords and disabled
// accounts fail identically.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, models.NormalizeEmail(req.Email))
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := s.hasher.Verify(req.Password, hash)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
	}
	if !ok || user == nil || !user.Active {
		s.metrics.IncLogin("failure")
		s.recordDenied(ctx, user, "login")
		return nil, errInvalidCredentials
	}

	issued, err := s.tokens.GenerateAccessToken(jwttoken.Subject{
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		DistrictCode: user.DistrictCode,
		SchoolCode:   user.SchoolCode,
	}, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      user.ID.String(),
		ActorRole:    user.Role,
		Action:       audit.ActionLogin,
		ResourceType: audit.ResourceUser,
		ResourceID:   user.ID.String(),
		DistrictCode: user.DistrictCode,
	}); err != nil {
		// A login that cannot be audited is refused.
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login")
	}

	s.metrics.IncLogin("success")
	span.SetAttributes(attribute.String("user.role", user.Role))
	s.logger.InfoContext(ctx, "user logged in",
		"user_id", user.ID.String(),
		"role", user.Role,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &models.LoginResult{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		User:        user.Profile(),
	}, nil
}

// Logout revokes the bearer token that authenticated the request for the
// rest of its lifetime.
func (s *Service) Logout(ctx context.Context) error {
	principal, ok := requestcontext.PrincipalFrom(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	token, ok := requestcontext.TokenFrom(ctx)
	if !ok || token.JTI == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	ttl := token.ExpiresAt.Sub(requestcontext.Now(ctx))
	if ttl > 0 {
		if err := s.revoked.RevokeToken(ctx, token.JTI, ttl); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token")
		}
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      principal.UserID,
		ActorRole:    principal.Role,
		Action:       audit.ActionLogout,
		ResourceType: audit.ResourceUser,
		ResourceID:   principal.UserID,
		DistrictCode: principal.DistrictCode,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit logout",
			"user_id", principal.UserID,
			"error", err,
		)
	}
	return nil
}

// IsTokenRevoked satisfies the auth middleware's revocation check.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked.IsRevoked(ctx, jti)
}

// Me returns the authenticated caller's profile.
func (s *Service) Me(ctx context.Context) (*models.Profile, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	profile := user.Profile()
	return &profile, nil
}

// UpdateProfile lets the caller rename themselves or change their password.
// A password change is refused unless the current password verifies.
func (s *Service) UpdateProfile(ctx context.Context, req models.UpdateProfileRequest) (*models.Profile, error) {
	ctx, span := s.tracer.Start(ctx, "auth.UpdateProfile")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	var changed []string
	if req.FullName != nil {
		user.FullName = strings.TrimSpace(*req.FullName)
		changed = append(changed, "full_name")
	}
	if req.NewPassword != "" {
		ok, err := s.hasher.Verify(req.CurrentPassword, user.PasswordHash)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
		}
		if !ok {
			s.recordDenied(ctx, user, "password_change")
			return nil, dErrors.Validation("invalid profile update",
				dErrors.FieldError{Field: "current_password", Message: "is incorrect"})
		}
		hash, err := s.hasher.Hash(req.NewPassword)
		if err != nil {
			if fields := dErrors.FieldsOf(err); len(fields) > 0 {
				return nil, dErrors.Validation("invalid profile update",
					dErrors.FieldError{Field: "new_password", Message: fields[0].Message})
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
		}
		user.PasswordHash = hash
		changed = append(changed, "password")
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update user")
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      user.ID.String(),
		ActorRole:    user.Role,
		Action:       audit.ActionUpdate,
		ResourceType: audit.ResourceUser,
		ResourceID:   user.ID.String(),
		DistrictCode: user.DistrictCode,
		Detail:       map[string]string{"fields": strings.Join(changed, ",")},
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit profile update",
			"user_id", user.ID.String(),
			"error", err,
		)
	}
	profile := user.Profile()
	return &profile, nil
}

func (s *Service) currentUser(ctx context.Context) (*models.User, error) {
	principal, ok := requestcontext.PrincipalFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(principal.UserID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return user, nil
}

// CreateUser adds a staff account. Full administrators only. Scoped roles
// must name a district and full administrators must not be bound to one.
func (s *Service) CreateUser(ctx context.Context, actor policy.Actor, req models.CreateUserRequest) (*models.Profile, error) {
	if policy.Authorize(actor, policy.Resource{Kind: policy.KindAggregateWrite}) == policy.Deny {
		return nil, dErrors.New(dErrors.CodeForbidden, "user management requires a full-access administrator")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	user, err := s.createUser(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceUser,
		ResourceID:   user.ID.String(),
		DistrictCode: user.DistrictCode,
		Detail:       map[string]string{"role": user.Role},
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit user creation",
			"user_id", user.ID.String(),
			"error", err,
		)
	}
	profile := user.Profile()
	return &profile, nil
}

// Bootstrap creates the first full administrator when no user exists. It
// is a no-op once any account is present.
func (s *Service) Bootstrap(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	n, err := s.users.Count(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count users")
	}
	if n > 0 {
		return nil
	}
	user, err := s.createUser(ctx, models.CreateUserRequest{
		Email:    email,
		FullName: "Administrator",
		Password: password,
		Role:     string(policy.RoleFullAdmin),
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "bootstrap administrator created", "user_id", user.ID.String())
	return nil
}

func (s *Service) createUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	role, err := policy.ParseRole(req.Role)
	if err != nil || role == policy.RolePublic {
		return nil, dErrors.Validation("invalid user",
			dErrors.FieldError{Field: "role", Message: "must be one of: full_admin org_admin org_viewer"})
	}
	if err := s.checkBinding(ctx, role, req.DistrictCode, req.SchoolCode); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	user, err := models.NewUser(req.Email, req.FullName, hash, string(role), req.DistrictCode, req.SchoolCode, requestcontext.Now(ctx))
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, dErrors.Validation("invalid user", dErrors.FieldError{Field: "email", Message: de.Message})
		}
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, nil
}

func (s *Service) checkBinding(ctx context.Context, role policy.Role, districtCode, schoolCode string) error {
	if !role.Scoped() {
		if districtCode != "" || schoolCode != "" {
			return dErrors.Validation("invalid user",
				dErrors.FieldError{Field: "district_code", Message: "must be empty for full_admin"})
		}
		return nil
	}
	if districtCode == "" {
		return dErrors.Validation("invalid user",
			dErrors.FieldError{Field: "district_code", Message: "is required for " + string(role)})
	}
	if s.scopes == nil {
		return nil
	}
	return s.scopes.ValidateScope(ctx, districtCode, schoolCode)
}

// recordDenied audits a failed credential check. The email is not recorded.
func (s *Service) recordDenied(ctx context.Context, user *models.User, operation string) {
	entry := audit.Entry{
		ActorID:      "anonymous",
		ActorRole:    string(policy.RolePublic),
		Action:       audit.ActionDenied,
		ResourceType: audit.ResourceUser,
		Detail:       map[string]string{"operation": operation},
	}
	if user != nil {
		entry.ResourceID = user.ID.String()
		entry.DistrictCode = user.DistrictCode
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to audit credential failure", "operation", operation, "error", err)
	}
}
