package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "FIDELIZA_DB_DSN"
	EnvDBHost = "FIDELIZA_DB_HOST"
	EnvDBUser = "FIDELIZA_DB_USER"
	EnvDBName = "FIDELIZA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Gateways     GatewaysConfig
	Reconcile    ReconcileConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FIDELIZA_APP_ENV" required:"true"`
	Port         string `envconfig:"FIDELIZA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FIDELIZA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FIDELIZA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FIDELIZA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FIDELIZA_DB_DSN"`
	Driver string `envconfig:"FIDELIZA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FIDELIZA_DB_HOST"`
	LegacyPort     int    `envconfig:"FIDELIZA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FIDELIZA_DB_USER"`
	LegacyPassword string `envconfig:"FIDELIZA_DB_PASSWORD"`
	LegacyName     string `envconfig:"FIDELIZA_DB_NAME"`
	LegacySSLMode  string `envconfig:"FIDELIZA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FIDELIZA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FIDELIZA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FIDELIZA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FIDELIZA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FIDELIZA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FIDELIZA_REDIS_ADDR"`
	Password     string        `envconfig:"FIDELIZA_REDIS_PASSWORD"`
	DB           int           `envconfig:"FIDELIZA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FIDELIZA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FIDELIZA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FIDELIZA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FIDELIZA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FIDELIZA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig carries one provider's webhook secret and API access.
type GatewayConfig struct {
	WebhookSecret string
	APIBaseURL    string
	APIToken      string
}

type GatewaysConfig struct {
	PagarmeWebhookSecret string `envconfig:"FIDELIZA_PAGARME_WEBHOOK_SECRET"`
	PagarmeAPIBaseURL    string `envconfig:"FIDELIZA_PAGARME_API_BASE_URL" default:"https://api.pagar.me/core/v5"`
	PagarmeAPIToken      string `envconfig:"FIDELIZA_PAGARME_API_TOKEN"`

	MercadoPagoWebhookSecret string `envconfig:"FIDELIZA_MERCADOPAGO_WEBHOOK_SECRET"`
	MercadoPagoAPIBaseURL    string `envconfig:"FIDELIZA_MERCADOPAGO_API_BASE_URL" default:"https://api.mercadopago.com/v1"`
	MercadoPagoAPIToken      string `envconfig:"FIDELIZA_MERCADOPAGO_API_TOKEN"`

	OpenPixWebhookSecret string `envconfig:"FIDELIZA_OPENPIX_WEBHOOK_SECRET"`
	OpenPixAPIBaseURL    string `envconfig:"FIDELIZA_OPENPIX_API_BASE_URL" default:"https://api.openpix.com.br/api/v1"`
	OpenPixAPIToken      string `envconfig:"FIDELIZA_OPENPIX_API_TOKEN"`

	PagHiperAPIBaseURL string `envconfig:"FIDELIZA_PAGHIPER_API_BASE_URL" default:"https://pix.paghiper.com"`
	PagHiperAPIToken   string `envconfig:"FIDELIZA_PAGHIPER_API_TOKEN"`

	// SignatureFreshness bounds how old a signed timestamp may be before the
	// event is treated as a replay.
	SignatureFreshness time.Duration `envconfig:"FIDELIZA_GATEWAY_SIGNATURE_FRESHNESS" default:"10m"`
}

func (g GatewaysConfig) Pagarme() GatewayConfig {
	return GatewayConfig{WebhookSecret: g.PagarmeWebhookSecret, APIBaseURL: g.PagarmeAPIBaseURL, APIToken: g.PagarmeAPIToken}
}

func (g GatewaysConfig) MercadoPago() GatewayConfig {
	return GatewayConfig{WebhookSecret: g.MercadoPagoWebhookSecret, APIBaseURL: g.MercadoPagoAPIBaseURL, APIToken: g.MercadoPagoAPIToken}
}

func (g GatewaysConfig) OpenPix() GatewayConfig {
	return GatewayConfig{WebhookSecret: g.OpenPixWebhookSecret, APIBaseURL: g.OpenPixAPIBaseURL, APIToken: g.OpenPixAPIToken}
}

func (g GatewaysConfig) PagHiper() GatewayConfig {
	return GatewayConfig{APIBaseURL: g.PagHiperAPIBaseURL, APIToken: g.PagHiperAPIToken}
}

type ReconcileConfig struct {
	// PendingAge is how long an invoice may stay pending before the poll loop
	// asks its gateway for the charge status.
	PendingAge time.Duration `envconfig:"FIDELIZA_RECONCILE_PENDING_AGE" default:"15m"`
	// StuckAge is how long a ledger record may sit unprocessed before the
	// sweep replays it.
	StuckAge       time.Duration `envconfig:"FIDELIZA_RECONCILE_STUCK_AGE" default:"10m"`
	AuditRetention time.Duration `envconfig:"FIDELIZA_RECONCILE_AUDIT_RETENTION" default:"2160h"`
	PollInterval   time.Duration `envconfig:"FIDELIZA_RECONCILE_POLL_INTERVAL" default:"5m"`
	PollBatchSize  int           `envconfig:"FIDELIZA_RECONCILE_POLL_BATCH" default:"100"`
	StatusTimeout  time.Duration `envconfig:"FIDELIZA_RECONCILE_STATUS_TIMEOUT" default:"10s"`
	WebhookTimeout time.Duration `envconfig:"FIDELIZA_RECONCILE_WEBHOOK_TIMEOUT" default:"5s"`
	DedupTTL       time.Duration `envconfig:"FIDELIZA_RECONCILE_DEDUP_TTL" default:"720h"`

	// Per-gateway webhook throttle. Zero disables it.
	WebhookRateLimit  int64         `envconfig:"FIDELIZA_RECONCILE_WEBHOOK_RATE_LIMIT" default:"600"`
	WebhookRateWindow time.Duration `envconfig:"FIDELIZA_RECONCILE_WEBHOOK_RATE_WINDOW" default:"1m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FIDELIZA_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FIDELIZA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FIDELIZA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FIDELIZA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"FIDELIZA_PUBSUB_NOTIFICATION_TOPIC" default:"fz-cashback-events"`
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
