// Package service implements the intake workflow: the dual-record submission,
// the public status check, the audited PHI view and the administrative case
// operations, plus the aggregate dashboard reads.
package service

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config holds intake policy knobs.
type Config struct {
	RetentionWindow time.Duration
	DuplicateWindow time.Duration
	MaxCardBytes    int
	// PurgeOnProcess destroys the sensitive record in the same transaction
	// that marks it processed.
	PurgeOnProcess bool
}

const (
	defaultRetentionWindow = 45 * 24 * time.Hour
	defaultDuplicateWindow = 5 * time.Minute
	defaultMaxCardBytes    = 5 << 20
)

// Service coordinates the intake stores, cipher and audit trail.
type Service struct {
	store     Store
	orgs      OrgResolver
	cipher    FieldCipher
	audit     AuditRecorder
	notifier  Notifier
	captcha   CaptchaVerifier
	dedupe    DuplicateGuard
	documents DocumentStore
	sheets    SpreadsheetWriter
	metrics   Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       Config
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithCaptcha(v CaptchaVerifier) Option {
	return func(s *Service) {
		s.captcha = v
	}
}

func WithDuplicateGuard(g DuplicateGuard) Option {
	return func(s *Service) {
		s.dedupe = g
	}
}

func WithDocumentStore(d DocumentStore) Option {
	return func(s *Service) {
		s.documents = d
	}
}

func WithSpreadsheetWriter(w SpreadsheetWriter) Option {
	return func(s *Service) {
		s.sheets = w
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// New wires the service. The store, resolver, cipher and audit recorder
// are mandatory; everything else degrades to a no-op.
func New(store Store, orgs OrgResolver, cipher FieldCipher, recorder AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:  store,
		orgs:   orgs,
		cipher: cipher,
		audit:  recorder,
		logger: slog.Default(),
		tracer: otel.Tracer("intakehub/intake"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.RetentionWindow <= 0 {
		s.cfg.RetentionWindow = defaultRetentionWindow
	}
	if s.cfg.DuplicateWindow <= 0 {
		s.cfg.DuplicateWindow = defaultDuplicateWindow
	}
	if s.cfg.MaxCardBytes <= 0 {
		s.cfg.MaxCardBytes = defaultMaxCardBytes
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s
}

type noopMetrics struct{}

func (noopMetrics) IncSubmission(string)    {}
func (noopMetrics) IncSensitiveRead()       {}
func (noopMetrics) IncProcessed()           {}
func (noopMetrics) IncNotificationFailure() {}
func (noopMetrics) IncExport()              {}
func (noopMetrics) AddPurged(string, int)   {}
