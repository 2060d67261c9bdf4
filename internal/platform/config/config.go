package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process-level configuration.
type Server struct {
	Addr           string
	Debug          bool
	JWTSigningKey  string
	TokenTTL       time.Duration
	AdminToken     string
	AllowedOrigins []string

	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Crypto    CryptoConfig
	Retention RetentionConfig
	Intake    IntakeConfig
	Captcha   CaptchaConfig
	Documents DocumentsConfig
	Bootstrap BootstrapConfig
}

// AuthConfig tunes staff login.
type AuthConfig struct {
	LoginLimit  int
	LoginWindow time.Duration
	BcryptCost  int
}

// DatabaseConfig selects postgres; an empty URL runs on in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the shared Redis client. Empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures notifications and the audit relay. No brokers disables both.
type KafkaConfig struct {
	Brokers     []string
	NotifyTopic string
	AuditTopic  string
}

// CryptoConfig lists field-encryption keys as "id:base64key" pairs.
type CryptoConfig struct {
	Keys        map[string]string
	ActiveKeyID string
}

// RetentionConfig drives the purge policy for sensitive records.
type RetentionConfig struct {
	Window         time.Duration
	ProcessedGrace time.Duration
	PurgeOnProcess bool
	BatchSize      int
}

// IntakeConfig tunes the public submission guards.
type IntakeConfig struct {
	SubmitLimit     int
	SubmitWindow    time.Duration
	DuplicateWindow time.Duration
	MaxCardBytes    int
}

// CaptchaConfig selects the CAPTCHA provider. Empty secret disables verification.
type CaptchaConfig struct {
	Provider string
	Secret   string
}

// DocumentsConfig selects insurance card storage. Empty bucket keeps cards in memory.
type DocumentsConfig struct {
	Bucket string
}

// BootstrapConfig seeds the first full-access administrator.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

// Load reads an optional .env file and then the environment.
func Load() (Server, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:           envOr("INTAKEHUB_ADDR", ":8080"),
		Debug:          envBool("DEBUG", false),
		JWTSigningKey:  os.Getenv("JWT_SIGNING_KEY"),
		TokenTTL:       envDuration("TOKEN_TTL", 60*time.Minute),
		AdminToken:     os.Getenv("ADMIN_API_TOKEN"),
		AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		Auth: AuthConfig{
			LoginLimit:  envInt("LOGIN_RATE_LIMIT", 10),
			LoginWindow: envDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
			BcryptCost:  envInt("BCRYPT_COST", 12),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     envList("KAFKA_BROKERS", nil),
			NotifyTopic: envOr("KAFKA_NOTIFY_TOPIC", "intake.submitted"),
			AuditTopic:  envOr("KAFKA_AUDIT_TOPIC", "audit.entries"),
		},
		Crypto: CryptoConfig{
			ActiveKeyID: os.Getenv("ENCRYPTION_ACTIVE_KEY"),
		},
		Retention: RetentionConfig{
			Window:         time.Duration(envInt("INTAKE_RETENTION_DAYS", 45)) * 24 * time.Hour,
			ProcessedGrace: time.Duration(envInt("PROCESSED_GRACE_DAYS", 0)) * 24 * time.Hour,
			PurgeOnProcess: envBool("PURGE_ON_PROCESS", false),
			BatchSize:      envInt("PURGE_BATCH_SIZE", 500),
		},
		Intake: IntakeConfig{
			SubmitLimit:     envInt("SUBMIT_RATE_LIMIT", 5),
			SubmitWindow:    envDuration("SUBMIT_RATE_WINDOW", time.Hour),
			DuplicateWindow: envDuration("DUPLICATE_WINDOW", 5*time.Minute),
			MaxCardBytes:    envInt("MAX_CARD_BYTES", 5*1024*1024),
		},
		Captcha: CaptchaConfig{
			Provider: envOr("CAPTCHA_PROVIDER", "recaptcha"),
			Secret:   os.Getenv("CAPTCHA_SECRET_KEY"),
		},
		Documents: DocumentsConfig{
			Bucket: os.Getenv("DOCUMENTS_BUCKET"),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
			AdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		},
	}

	keys, err := parseKeys(os.Getenv("ENCRYPTION_KEYS"))
	if err != nil {
		return Server{}, err
	}
	cfg.Crypto.Keys = keys

	if cfg.JWTSigningKey == "" {
		if !cfg.Debug {
			return Server{}, fmt.Errorf("JWT_SIGNING_KEY is required")
		}
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if cfg.Retention.Window <= 0 {
		return Server{}, fmt.Errorf("INTAKE_RETENTION_DAYS must be positive")
	}
	if len(cfg.Crypto.Keys) > 0 && cfg.Crypto.ActiveKeyID == "" {
		return Server{}, fmt.Errorf("ENCRYPTION_ACTIVE_KEY is required when ENCRYPTION_KEYS is set")
	}
	return cfg, nil
}

// parseKeys reads "id1:base64,id2:base64".
func parseKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, material, ok := strings.Cut(pair, ":")
		if !ok || id == "" || material == "" {
			return nil, fmt.Errorf("ENCRYPTION_KEYS entry %q must be id:base64key", id)
		}
		keys[id] = material
	}
	return keys, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
