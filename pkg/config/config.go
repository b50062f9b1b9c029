package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "pesapoints"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvDBDSN  = "PESAPOINTS_DB_DSN"
	EnvDBHost = "PESAPOINTS_DB_HOST"
	EnvDBUser = "PESAPOINTS_DB_USER"
	EnvDBName = "PESAPOINTS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Mpesa        MpesaConfig
	Payments     PaymentsConfig
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
	Env          string `envconfig:"PESAPOINTS_APP_ENV" required:"true"`
	Port         string `envconfig:"PESAPOINTS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PESAPOINTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PESAPOINTS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PESAPOINTS_DB_DSN"`
	Driver string `envconfig:"PESAPOINTS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PESAPOINTS_DB_HOST"`
	LegacyPort     int    `envconfig:"PESAPOINTS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PESAPOINTS_DB_USER"`
	LegacyPassword string `envconfig:"PESAPOINTS_DB_PASSWORD"`
	LegacyName     string `envconfig:"PESAPOINTS_DB_NAME"`
	LegacySSLMode  string `envconfig:"PESAPOINTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PESAPOINTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PESAPOINTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PESAPOINTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PESAPOINTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PESAPOINTS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PESAPOINTS_REDIS_ADDR"`
	Password     string        `envconfig:"PESAPOINTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"PESAPOINTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PESAPOINTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PESAPOINTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PESAPOINTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PESAPOINTS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PESAPOINTS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PESAPOINTS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PESAPOINTS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PESAPOINTS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PESAPOINTS_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"PESAPOINTS_STRIPE_API_KEY"`
	Secret string `envconfig:"PESAPOINTS_STRIPE_SECRET"`
	Env    string `envconfig:"PESAPOINTS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type MpesaConfig struct {
	ConsumerKey    string        `envconfig:"PESAPOINTS_MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `envconfig:"PESAPOINTS_MPESA_CONSUMER_SECRET"`
	Passkey        string        `envconfig:"PESAPOINTS_MPESA_PASSKEY"`
	ShortCode      string        `envconfig:"PESAPOINTS_MPESA_SHORT_CODE"`
	Env            string        `envconfig:"PESAPOINTS_MPESA_ENV" default:"sandbox"`
	CallbackURL    string        `envconfig:"PESAPOINTS_MPESA_CALLBACK_URL"`
	CallbackToken  string        `envconfig:"PESAPOINTS_MPESA_CALLBACK_TOKEN"`
	HTTPTimeout    time.Duration `envconfig:"PESAPOINTS_MPESA_HTTP_TIMEOUT" default:"30s"`
}

// Environment returns the normalized Daraja environment (sandbox/production).
func (m MpesaConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(m.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentsConfig struct {
	MaxAmount int `envconfig:"PESAPOINTS_PAYMENTS_MAX_AMOUNT" default:"10000"`

	// MirrorWallet controls whether credits also bump the user's wallet
	// amount alongside points.
	MirrorWallet bool `envconfig:"PESAPOINTS_PAYMENTS_MIRROR_WALLET" default:"true"`

	// AllowUnverifiedWebhooks downgrades webhook signature failures to a
	// logged warning. Ignored in production.
	AllowUnverifiedWebhooks bool `envconfig:"PESAPOINTS_PAYMENTS_ALLOW_UNVERIFIED_WEBHOOKS" default:"false"`
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
