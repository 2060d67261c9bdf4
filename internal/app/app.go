// Package app is the composition root shared by the server and the purge
// command. Every optional backend falls back to an in-memory implementation
// when it is not configured.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	authhandler "intakehub/internal/auth/handler"
	"intakehub/internal/auth/password"
	authservice "intakehub/internal/auth/service"
	"intakehub/internal/auth/store/revocation"
	"intakehub/internal/auth/store/user"
	"intakehub/internal/captcha"
	httpapi "intakehub/internal/http"
	"intakehub/internal/intake/dedupe"
	"intakehub/internal/intake/documents"
	"intakehub/internal/intake/export"
	intakehandler "intakehub/internal/intake/handler"
	intakeservice "intakehub/internal/intake/service"
	intakestore "intakehub/internal/intake/store"
	jwttoken "intakehub/internal/jwt_token"
	"intakehub/internal/notify"
	orghandler "intakehub/internal/org/handler"
	orgservice "intakehub/internal/org/service"
	orgstore "intakehub/internal/org/store"
	"intakehub/internal/phicrypto"
	"intakehub/internal/platform/config"
	"intakehub/internal/platform/kafka"
	"intakehub/internal/platform/metrics"
	"intakehub/internal/platform/postgres"
	platformredis "intakehub/internal/platform/redis"
	rlmetrics "intakehub/internal/ratelimit/metrics"
	rlmiddleware "intakehub/internal/ratelimit/middleware"
	rlmodels "intakehub/internal/ratelimit/models"
	"intakehub/internal/ratelimit/service/requestlimit"
	"intakehub/internal/ratelimit/store/bucket"
	"intakehub/internal/retention"
	retentionhandler "intakehub/internal/retention/handler"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/platform/audit/outbox"
	auditmemory "intakehub/pkg/platform/audit/store/memory"
	auditpostgres "intakehub/pkg/platform/audit/store/postgres"
	"intakehub/pkg/platform/circuit"
	"intakehub/pkg/platform/middleware/admin"
	authmw "intakehub/pkg/platform/middleware/auth"
)

const (
	tokenIssuer   = "intakehub"
	tokenAudience = "intakehub-api"
)

// App holds the assembled service.
type App struct {
	Router http.Handler
	Purger *retention.Purger

	relay   *outbox.Relay
	logger  *slog.Logger
	closers []func(ctx context.Context)
}

// Build connects the configured backends and wires every module.
func Build(ctx context.Context, cfg config.Server, logger *slog.Logger, reg *prometheus.Registry) (*App, error) {
	a := &App{logger: logger}
	m := metrics.New(reg)

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.onClose(func(context.Context) { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if rdb != nil {
		a.onClose(func(context.Context) { _ = rdb.Close() })
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if producer != nil {
		a.onClose(producer.Close)
		if err := producer.EnsureTopics(ctx, cfg.Kafka.NotifyTopic, cfg.Kafka.AuditTopic); err != nil {
			logger.WarnContext(ctx, "kafka topic provisioning failed", "error", err)
		}
	}

	keys, err := keyProvider(cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	cipher := phicrypto.New(keys)

	docs, err := documentStore(ctx, cfg, logger, a)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if db != nil {
		auditStore = auditpostgres.New(db)
	}
	recorder := audit.NewRecorder(auditStore, audit.WithLogger(logger), audit.WithObserver(m))

	orgs, err := orgStore(ctx, cfg, db)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	orgSvc := orgservice.New(orgs, orgservice.WithLogger(logger), orgservice.WithAuditRecorder(recorder))

	var cases interface {
		intakeservice.Store
		retention.Store
	} = intakestore.NewInMemory()
	if db != nil {
		cases = intakestore.NewPostgres(db)
	}

	intakeOpts := []intakeservice.Option{
		intakeservice.WithLogger(logger),
		intakeservice.WithMetrics(m),
		intakeservice.WithDocumentStore(docs),
		intakeservice.WithSpreadsheetWriter(export.NewWriter()),
		intakeservice.WithNotifier(notifier(cfg, producer, logger)),
		intakeservice.WithConfig(intakeservice.Config{
			RetentionWindow: cfg.Retention.Window,
			DuplicateWindow: cfg.Intake.DuplicateWindow,
			MaxCardBytes:    cfg.Intake.MaxCardBytes,
			PurgeOnProcess:  cfg.Retention.PurgeOnProcess,
		}),
	}
	if rdb != nil {
		intakeOpts = append(intakeOpts, intakeservice.WithDuplicateGuard(dedupe.NewRedis(rdb.Client)))
	} else {
		intakeOpts = append(intakeOpts, intakeservice.WithDuplicateGuard(dedupe.NewInMemory()))
	}
	if cfg.Captcha.Secret != "" {
		verifier, err := captcha.New(cfg.Captcha.Provider, cfg.Captcha.Secret, captcha.WithLogger(logger))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		intakeOpts = append(intakeOpts, intakeservice.WithCaptcha(verifier))
	} else {
		logger.Warn("CAPTCHA verification disabled: CAPTCHA_SECRET_KEY not set")
	}
	intakeSvc := intakeservice.New(cases, orgSvc, cipher, recorder, intakeOpts...)

	a.Purger = retention.NewPurger(cases, recorder,
		retention.WithDocumentStore(docs),
		retention.WithMetrics(m),
		retention.WithLogger(logger),
		retention.WithPolicy(retention.Policy{ProcessedGrace: cfg.Retention.ProcessedGrace}),
		retention.WithBatchSize(cfg.Retention.BatchSize),
	)

	jwt := jwttoken.NewJWTService(cfg.JWTSigningKey, tokenIssuer, tokenAudience)
	authSvc := authservice.New(
		userStore(db),
		revocationList(db, rdb),
		jwt,
		password.NewHasher(cfg.Auth.BcryptCost),
		recorder,
		authservice.WithLogger(logger),
		authservice.WithMetrics(m),
		authservice.WithScopeValidator(orgSvc),
		authservice.WithTokenTTL(cfg.TokenTTL),
	)
	if err := authSvc.Bootstrap(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("bootstrap administrator: %w", err)
	}
	requireAuth := authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwt), authSvc, logger)

	limiter, err := rateLimiter(cfg, rdb, logger, reg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	checks := map[string]httpapi.HealthCheck{}
	if db != nil {
		checks["database"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = rdb.Health
	}

	a.Router = httpapi.NewRouter(httpapi.Config{
		Logger:         logger,
		Latency:        m,
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins,
		HealthChecks:   checks,
		Handlers: []httpapi.Registrar{
			intakehandler.New(intakeSvc, logger, requireAuth,
				intakehandler.WithSubmitGuard(limiter.RateLimit(rlmodels.ClassSubmit)),
				intakehandler.WithDebugErrors(cfg.Debug),
			),
			orghandler.New(orgSvc, logger, requireAuth),
			authhandler.New(authSvc, logger, requireAuth,
				authhandler.WithLoginGuard(limiter.RateLimit(rlmodels.ClassLogin)),
			),
			retentionhandler.New(a.Purger, logger, requireAuth,
				retentionhandler.WithScheduler(a.Purger, admin.RequireAdminToken(cfg.AdminToken, logger)),
			),
		},
	})

	if db != nil && producer != nil {
		a.relay = outbox.New(db, producer, cfg.Kafka.AuditTopic, logger)
	}
	return a, nil
}

// RunBackground blocks until ctx is cancelled, relaying the audit outbox
// when Kafka and Postgres are both configured.
func (a *App) RunBackground(ctx context.Context) error {
	if a.relay == nil {
		<-ctx.Done()
		return nil
	}
	return a.relay.Run(ctx)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func (a *App) onClose(fn func(ctx context.Context)) {
	a.closers = append(a.closers, fn)
}

func keyProvider(cfg config.Server, logger *slog.Logger) (phicrypto.KeyProvider, error) {
	if len(cfg.Crypto.Keys) > 0 {
		return phicrypto.NewStaticKeyProvider(cfg.Crypto.Keys, cfg.Crypto.ActiveKeyID)
	}
	if !cfg.Debug {
		return nil, fmt.Errorf("ENCRYPTION_KEYS is required outside debug mode")
	}
	logger.Warn("using an ephemeral encryption key: sensitive records will not survive a restart")
	return phicrypto.NewEphemeralKeyProvider()
}

func documentStore(ctx context.Context, cfg config.Server, logger *slog.Logger, a *App) (intakeservice.DocumentStore, error) {
	if cfg.Documents.Bucket == "" {
		return documents.NewInMemory(), nil
	}
	gcs, err := documents.NewGCS(ctx, cfg.Documents.Bucket, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) { _ = gcs.Close() })
	return gcs, nil
}

func orgStore(ctx context.Context, cfg config.Server, db *sql.DB) (orgservice.Store, error) {
	if db != nil {
		return orgstore.NewPostgres(db), nil
	}
	st := orgstore.NewInMemory()
	if cfg.Debug {
		if err := orgstore.SeedDevelopment(ctx, st); err != nil {
			return nil, fmt.Errorf("seed organizations: %w", err)
		}
	}
	return st, nil
}

func userStore(db *sql.DB) authservice.UserStore {
	if db != nil {
		return user.NewPostgres(db)
	}
	return user.New()
}

func revocationList(db *sql.DB, rdb *platformredis.Client) authservice.RevocationList {
	switch {
	case rdb != nil:
		return revocation.NewRedisTRL(rdb.Client)
	case db != nil:
		return revocation.NewPostgresTRL(db)
	}
	return revocation.NewInMemoryTRL()
}

func notifier(cfg config.Server, producer *kafka.Producer, logger *slog.Logger) intakeservice.Notifier {
	if producer == nil {
		return notify.NewLog(logger)
	}
	return notify.NewKafka(producer, cfg.Kafka.NotifyTopic)
}

// rateLimiter uses Redis when configured, with an in-memory fallback behind
// a circuit breaker. Without Redis the in-memory store is primary.
func rateLimiter(cfg config.Server, rdb *platformredis.Client, logger *slog.Logger, reg prometheus.Registerer) (*rlmiddleware.Middleware, error) {
	limits := map[rlmodels.EndpointClass]rlmodels.Limit{
		rlmodels.ClassSubmit: {RequestsPerWindow: cfg.Intake.SubmitLimit, Window: cfg.Intake.SubmitWindow},
		rlmodels.ClassLogin:  {RequestsPerWindow: cfg.Auth.LoginLimit, Window: cfg.Auth.LoginWindow},
	}
	rlm := rlmetrics.New(reg)

	var buckets requestlimit.BucketStore = bucket.NewInMemoryBucketStore()
	if rdb != nil {
		buckets = bucket.NewRedisBucketStore(rdb.Client)
	}
	opts := []requestlimit.Option{requestlimit.WithLogger(logger), requestlimit.WithMetrics(rlm)}
	for class, l := range limits {
		opts = append(opts, requestlimit.WithLimit(class, l))
	}
	primary, err := requestlimit.New(buckets, opts...)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	mwOpts := []rlmiddleware.Option{
		rlmiddleware.WithMetrics(rlm),
		rlmiddleware.WithBreaker(circuit.New("ratelimit")),
	}
	if rdb != nil {
		if fallback := rlmiddleware.NewFallbackLimiter(limits, logger); fallback != nil {
			mwOpts = append(mwOpts, rlmiddleware.WithFallback(fallback))
		}
	}
	return rlmiddleware.New(primary, logger, mwOpts...), nil
}
