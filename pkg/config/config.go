package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

const (
	EnvPrefix = "KISAAN"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "KISAAN_APP_ENV"
	EnvPort     = "KISAAN_APP_PORT"
	EnvLogLevel = "KISAAN_LOG_LEVEL"

	EnvDBDSN    = "KISAAN_DB_DSN"
	EnvDBDriver = "KISAAN_DB_DRIVER"
	EnvDBHost   = "KISAAN_DB_HOST"
	EnvDBUser   = "KISAAN_DB_USER"
	EnvDBName   = "KISAAN_DB_NAME"

	EnvRedisURL = "KISAAN_REDIS_URL"

	EnvJWTSecret  = "KISAAN_JWT_SECRET"
	EnvJWTIssuer  = "KISAAN_JWT_ISSUER"
	EnvJWTExpMins = "KISAAN_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "KISAAN_GCP_PROJECT_ID"

	EnvPubSubLedgerTopic = "KISAAN_PUBSUB_LEDGER_TOPIC"
	EnvPubSubLedgerSub   = "KISAAN_PUBSUB_LEDGER_SUBSCRIPTION"

	EnvAllocationMaxAttempts = "KISAAN_ALLOCATION_MAX_ATTEMPTS"
	EnvAllocationOrder       = "KISAAN_ALLOCATION_ORDER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Allocation   AllocationConfig
	Reconcile    ReconcileConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Allocation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KISAAN_APP_ENV" required:"true"`
	Port         string `envconfig:"KISAAN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KISAAN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KISAAN_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"KISAAN_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KISAAN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KISAAN_DB_DSN"`
	Driver string `envconfig:"KISAAN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KISAAN_DB_HOST"`
	LegacyPort     int    `envconfig:"KISAAN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KISAAN_DB_USER"`
	LegacyPassword string `envconfig:"KISAAN_DB_PASSWORD"`
	LegacyName     string `envconfig:"KISAAN_DB_NAME"`
	LegacySSLMode  string `envconfig:"KISAAN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KISAAN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KISAAN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KISAAN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KISAAN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KISAAN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KISAAN_REDIS_ADDR"`
	Password     string        `envconfig:"KISAAN_REDIS_PASSWORD"`
	DB           int           `envconfig:"KISAAN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KISAAN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KISAAN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KISAAN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KISAAN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KISAAN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KISAAN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KISAAN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KISAAN_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TokenTTL returns the access token lifetime.
func (j JWTConfig) TokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RateLimitConfig bounds how often a shop can submit bulk payment batches.
type RateLimitConfig struct {
	BulkWindow time.Duration `envconfig:"KISAAN_RATE_LIMIT_BULK_WINDOW" default:"1m"`
	BulkLimit  int           `envconfig:"KISAAN_RATE_LIMIT_BULK_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"KISAAN_AUTO_MIGRATE" default:"false"`
	DebtGuard         bool `envconfig:"KISAAN_FEATURE_DEBT_GUARD" default:"true"`
	AutoAllocatePaid  bool `envconfig:"KISAAN_FEATURE_AUTO_ALLOCATE" default:"true"`
	ExposeMetricsPath bool `envconfig:"KISAAN_FEATURE_METRICS_ENDPOINT" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"KISAAN_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KISAAN_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KISAAN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KISAAN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic        string `envconfig:"KISAAN_PUBSUB_LEDGER_TOPIC" default:"kl-ledger-events"`
	LedgerSubscription string `envconfig:"KISAAN_PUBSUB_LEDGER_SUBSCRIPTION" default:"kl-ledger-auditor"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"KISAAN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"KISAAN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"KISAAN_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"KISAAN_OUTBOX_RETENTION" default:"720h"`
}

// AllocationConfig tunes the allocation engine's concurrency behaviour.
type AllocationConfig struct {
	MaxAttempts int           `envconfig:"KISAAN_ALLOCATION_MAX_ATTEMPTS" default:"3"`
	Order       string        `envconfig:"KISAAN_ALLOCATION_ORDER" default:"fifo"`
	LockTimeout time.Duration `envconfig:"KISAAN_ALLOCATION_LOCK_TIMEOUT" default:"5s"`
	RetryDelay  time.Duration `envconfig:"KISAAN_ALLOCATION_RETRY_DELAY" default:"25ms"`
}

// OrderValue returns the parsed default allocation order.
func (a AllocationConfig) OrderValue() enums.AllocationOrder {
	order, err := enums.ParseAllocationOrder(a.Order)
	if err != nil {
		return enums.AllocationOrderFIFO
	}
	return order
}

func (a AllocationConfig) validate() error {
	if a.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvAllocationMaxAttempts)
	}
	if _, err := enums.ParseAllocationOrder(a.Order); err != nil {
		return fmt.Errorf("%s: %w", EnvAllocationOrder, err)
	}
	return nil
}

// ReconcileConfig drives the periodic drift sweep run by the cron worker.
type ReconcileConfig struct {
	Interval  time.Duration `envconfig:"KISAAN_RECONCILE_INTERVAL" default:"1h"`
	BatchSize int           `envconfig:"KISAAN_RECONCILE_BATCH_SIZE" default:"200"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
