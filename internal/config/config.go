package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/dunning/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var defaultConfig []byte

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Auth       AuthConfig       `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Redis      RedisConfig      `validate:"required"`
	Cache      CacheConfig      `validate:"required"`
	Kafka      KafkaConfig      `validate:"required"`
	PubSub     PubSubConfig     `mapstructure:"pubsub" validate:"required"`
	Dunning    DunningConfig    `validate:"required"`
	Scheduler  SchedulerConfig  `validate:"required"`
	Gateway    GatewayConfig    `validate:"required"`
	Email      EmailConfig      `validate:"required"`
	Webhook    WebhookConfig    `validate:"required"`
	Outbox     OutboxConfig     `validate:"required"`
	Temporal   TemporalConfig   `validate:"required"`
	Sentry     SentryConfig     `validate:"required"`
	Pyroscope  PyroscopeConfig  `validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
	// APIKeyHash is a bcrypt hash of the static admin api key. Empty disables
	// api key authentication.
	APIKeyHash string        `mapstructure:"api_key_hash"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level          types.LogLevel `mapstructure:"level" validate:"required"`
	FluentdEnabled bool           `mapstructure:"fluentd_enabled"`
	FluentdHost    string         `mapstructure:"fluentd_host"`
	FluentdPort    int            `mapstructure:"fluentd_port"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host" validate:"required"`
	Port                   int    `mapstructure:"port" validate:"required"`
	User                   string `mapstructure:"user" validate:"required"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname" validate:"required"`
	SSLMode                string `mapstructure:"sslmode" validate:"required"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" validate:"min=1"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" validate:"min=0"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	UseTLS   bool          `mapstructure:"use_tls"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Type      string        `mapstructure:"type" validate:"oneof=inmemory redis"`
	PolicyTTL time.Duration `mapstructure:"policy_ttl"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	// SASLMechanism is a sarama mechanism name such as SCRAM-SHA-512.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUser      string `mapstructure:"sasl_user"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

type PubSubConfig struct {
	Type         string `mapstructure:"type" validate:"oneof=memory kafka"`
	OutputBuffer int64  `mapstructure:"output_buffer"`
	// Router settings apply to the webhook and email handlers.
	MaxRetries      int           `mapstructure:"max_retries" validate:"min=0"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	RateLimit       int64         `mapstructure:"rate_limit" validate:"min=1"`
}

// DunningConfig is the global default retry policy plus per segment overrides.
type DunningConfig struct {
	MaxRetries          int                             `mapstructure:"max_retries" validate:"min=0"`
	RetryIntervalsDays  []int                           `mapstructure:"retry_intervals_days" validate:"dive,min=0"`
	GracePeriodDays     int                             `mapstructure:"grace_period_days" validate:"min=0"`
	EmailOnFirstFailure bool                            `mapstructure:"email_on_first_failure"`
	EmailOnFinalFailure bool                            `mapstructure:"email_on_final_failure"`
	LateFeeAfterRetry   *int                            `mapstructure:"late_fee_after_retry" validate:"omitempty,min=1"`
	LateFeeAmount       string                          `mapstructure:"late_fee_amount"`
	ChargeTimeout       time.Duration                   `mapstructure:"charge_timeout"`
	Segments            map[string]DunningSegmentConfig `mapstructure:"segments" validate:"dive"`
}

// DunningSegmentConfig overrides any subset of the global policy keys for a
// named customer segment. Segment names are matched case insensitively.
type DunningSegmentConfig struct {
	MaxRetries          *int   `mapstructure:"max_retries" validate:"omitempty,min=0"`
	RetryIntervalsDays  []int  `mapstructure:"retry_intervals_days" validate:"dive,min=0"`
	GracePeriodDays     *int   `mapstructure:"grace_period_days" validate:"omitempty,min=0"`
	EmailOnFirstFailure *bool  `mapstructure:"email_on_first_failure"`
	EmailOnFinalFailure *bool  `mapstructure:"email_on_final_failure"`
	LateFeeAfterRetry   *int   `mapstructure:"late_fee_after_retry" validate:"omitempty,min=1"`
	LateFeeAmount       string `mapstructure:"late_fee_amount"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode" validate:"oneof=cron temporal"`
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"required"`
	BatchSize    int           `mapstructure:"batch_size" validate:"min=1"`
	Workers      int           `mapstructure:"workers" validate:"min=1"`
}

type GatewayConfig struct {
	Default            types.PaymentGateway `mapstructure:"default"`
	RateLimitPerSecond float64              `mapstructure:"rate_limit_per_second" validate:"min=0"`
	RateLimitBurst     int                  `mapstructure:"rate_limit_burst" validate:"min=0"`
	Stripe             StripeConfig         `mapstructure:"stripe"`
	Razorpay           RazorpayConfig       `mapstructure:"razorpay"`
	Moyasar            MoyasarConfig        `mapstructure:"moyasar"`
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

type RazorpayConfig struct {
	KeyID     string `mapstructure:"key_id"`
	KeySecret string `mapstructure:"key_secret"`
}

type MoyasarConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address" validate:"omitempty,email"`
	ReplyTo     string `mapstructure:"reply_to"`
	SupportURL  string `mapstructure:"support_url"`
}

type WebhookConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url" validate:"omitempty,url"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"min=0"`
	SvixEnabled   bool          `mapstructure:"svix_enabled"`
	SvixAuthToken string        `mapstructure:"svix_auth_token"`
	SvixAppID     string        `mapstructure:"svix_app_id"`
	SvixServerURL string        `mapstructure:"svix_server_url"`
}

type OutboxConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"required"`
	BatchSize      int           `mapstructure:"batch_size" validate:"min=1"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	SweepCron string `mapstructure:"sweep_cron"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
}

// NewConfig loads the embedded defaults, merges an optional config.yaml from
// the working directory and applies DUNNING_* environment overrides.
func NewConfig() (*Configuration, error) {
	// .env is optional, a missing file is not an error
	_ = godotenv.Load()

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetDefaultConfig returns the embedded defaults without reading the
// environment. It is used by tests and by the package level logger.
func GetDefaultConfig() *Configuration {
	v, err := newViper()
	if err != nil {
		panic(fmt.Sprintf("invalid embedded config: %v", err))
	}
	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid embedded config: %v", err))
	}
	return &cfg
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultConfig)); err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	v.SetEnvPrefix("DUNNING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func (c *Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Webhook.SvixEnabled && c.Webhook.SvixAuthToken == "" {
		return fmt.Errorf("invalid configuration: webhook.svix_auth_token is required when svix is enabled")
	}
	if c.Scheduler.Mode == "temporal" && !c.Temporal.Enabled {
		return fmt.Errorf("invalid configuration: scheduler.mode temporal requires temporal.enabled")
	}
	return nil
}
