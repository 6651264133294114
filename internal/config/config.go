// internal/config/config.go
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/pricing"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional YAML file layered under the environment.
const ConfigFileEnv = "CHECKOUT_CONFIG_FILE"

// CommonConfig holds infrastructure details shared by every binary.
type CommonConfig struct {
	//Database (PostgreSQL)
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string
	DB_HOST     string
	DB_PORT     string
	//Kafka
	KAFKA_TOPIC  string
	KAFKA_BROKER string
	//RabbitMQ
	RABBITMQ_USER     string
	RABBITMQ_PASSWORD string
	RABBITMQ_HOST     string
	RABBITMQ_PORT     string
	//Redis (distributed payment locks)
	REDIS_ADDR     string
	REDIS_PASSWORD string
	REDIS_DB       int
	//Temporal
	TEMPORAL_HOST_PORT string
	TEMPORAL_NAMESPACE string
}

// DBConfigured reports whether enough is set to reach PostgreSQL.
func (c *CommonConfig) DBConfigured() bool {
	return c.DB_HOST != "" && c.DB_NAME != ""
}

// GetDBURL formats the config into a PostgreSQL connection string.
func (c *CommonConfig) GetDBURL() string {
	port := c.DB_PORT
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DB_USER, c.DB_PASSWORD, c.DB_HOST, port, c.DB_NAME)
}

// GetRabbitMQURL formats the config into an AMQP url, defaulting host and port.
func (c *CommonConfig) GetRabbitMQURL() string {
	host := c.RABBITMQ_HOST
	if host == "" {
		host = "localhost"
	}
	port := c.RABBITMQ_PORT
	if port == "" {
		port = "5672"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RABBITMQ_USER, c.RABBITMQ_PASSWORD, host, port)
}

// CheckoutConfig is everything the checkout binaries need on top of CommonConfig.
type CheckoutConfig struct {
	Common *CommonConfig

	HTTPPort string
	LogLevel string

	Currency   string
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	MinorUnits int32
	Fees       map[payment.Kind]pricing.CategoryFee

	GatewayBaseURL       string
	GatewaySecretKey     string
	GatewayWebhookSecret string
	GatewayTimeout       time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	PollInterval  time.Duration
	PollAttempts  int
	ChargeTimeout time.Duration
	SweepInterval time.Duration

	JWTSecret string
}

// HostedConfigured reports whether the hosted gateway has credentials.
func (c *CheckoutConfig) HostedConfigured() bool {
	return c.GatewayBaseURL != "" && c.GatewaySecretKey != ""
}

// StripeConfigured reports whether card payments can go through Stripe.
func (c *CheckoutConfig) StripeConfigured() bool {
	return c.StripeSecretKey != ""
}

// RequireGateway fails unless at least one gateway can take a charge.
func (c *CheckoutConfig) RequireGateway() error {
	if !c.HostedConfigured() && !c.StripeConfigured() {
		return fmt.Errorf("%w: set GATEWAY_BASE_URL and GATEWAY_SECRET_KEY or STRIPE_SECRET_KEY", payment.ErrGatewayMisconfigured)
	}
	return nil
}

// Pricing returns the fee calculator settings.
func (c *CheckoutConfig) Pricing() pricing.Config {
	return pricing.Config{
		MaxAmount:  c.MaxAmount,
		MinorUnits: c.MinorUnits,
		Categories: c.Fees,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("currency", "ZMW")
	v.SetDefault("min_amount", "1")
	v.SetDefault("max_amount", "1000000")
	v.SetDefault("minor_units", 2)
	v.SetDefault("gateway_timeout", "15s")
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("poll_attempts", 12)
	v.SetDefault("charge_timeout", "15s")
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("kafka_topic", "payment-events")
	v.SetDefault("redis_db", 0)
	v.SetDefault("temporal_host_port", "temporal:7233")
	v.SetDefault("temporal_namespace", "default")
	for kind, rule := range pricing.DefaultCategories() {
		v.SetDefault(feeKey(kind, "percent"), rule.Percentage.String())
		v.SetDefault(feeKey(kind, "mode"), string(rule.Mode))
	}
}

// feeKey names the per-kind fee settings, e.g. FEE_DONATION_PERCENT.
func feeKey(kind payment.Kind, field string) string {
	return fmt.Sprintf("fee_%s_%s", kind, field)
}

// Load reads a local .env if present, then the optional YAML file named by
// CHECKOUT_CONFIG_FILE, then the process environment, which wins.
func Load() (*CheckoutConfig, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	if path := v.GetString(strings.ToLower(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper builds and validates the config from an already populated viper.
func FromViper(v *viper.Viper) (*CheckoutConfig, error) {
	setDefaults(v)

	minAmount, err := decimalValue(v, "min_amount")
	if err != nil {
		return nil, err
	}
	maxAmount, err := decimalValue(v, "max_amount")
	if err != nil {
		return nil, err
	}
	fees := make(map[payment.Kind]pricing.CategoryFee, 3)
	for _, kind := range []payment.Kind{payment.KindDonation, payment.KindOrder, payment.KindSubscription} {
		pct, err := decimalValue(v, feeKey(kind, "percent"))
		if err != nil {
			return nil, err
		}
		fees[kind] = pricing.CategoryFee{
			Percentage: pct,
			Mode:       payment.FeeMode(strings.ToLower(v.GetString(feeKey(kind, "mode")))),
		}
	}

	cfg := &CheckoutConfig{
		Common: &CommonConfig{
			DB_USER:            v.GetString("db_user"),
			DB_PASSWORD:        v.GetString("db_password"),
			DB_NAME:            v.GetString("db_name"),
			DB_HOST:            v.GetString("db_host"),
			DB_PORT:            v.GetString("db_port"),
			KAFKA_TOPIC:        v.GetString("kafka_topic"),
			KAFKA_BROKER:       v.GetString("kafka_broker"),
			RABBITMQ_USER:      v.GetString("rabbitmq_user"),
			RABBITMQ_PASSWORD:  v.GetString("rabbitmq_password"),
			RABBITMQ_HOST:      v.GetString("rabbitmq_host"),
			RABBITMQ_PORT:      v.GetString("rabbitmq_port"),
			REDIS_ADDR:         v.GetString("redis_addr"),
			REDIS_PASSWORD:     v.GetString("redis_password"),
			REDIS_DB:           v.GetInt("redis_db"),
			TEMPORAL_HOST_PORT: v.GetString("temporal_host_port"),
			TEMPORAL_NAMESPACE: v.GetString("temporal_namespace"),
		},
		HTTPPort:             v.GetString("http_port"),
		LogLevel:             v.GetString("log_level"),
		Currency:             strings.ToUpper(v.GetString("currency")),
		MinAmount:            minAmount,
		MaxAmount:            maxAmount,
		MinorUnits:           v.GetInt32("minor_units"),
		Fees:                 fees,
		GatewayBaseURL:       v.GetString("gateway_base_url"),
		GatewaySecretKey:     v.GetString("gateway_secret_key"),
		GatewayWebhookSecret: v.GetString("gateway_webhook_secret"),
		GatewayTimeout:       v.GetDuration("gateway_timeout"),
		StripeSecretKey:      v.GetString("stripe_secret_key"),
		StripeWebhookSecret:  v.GetString("stripe_webhook_secret"),
		StripeSuccessURL:     v.GetString("stripe_success_url"),
		StripeCancelURL:      v.GetString("stripe_cancel_url"),
		PollInterval:         v.GetDuration("poll_interval"),
		PollAttempts:         v.GetInt("poll_attempts"),
		ChargeTimeout:        v.GetDuration("charge_timeout"),
		SweepInterval:        v.GetDuration("sweep_interval"),
		JWTSecret:            v.GetString("jwt_secret"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decimalValue(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config %s: %q is not a number", strings.ToUpper(key), raw)
	}
	return d, nil
}

// Validate checks ranges. Gateway credentials are checked separately by
// RequireGateway because the CLI and the bridge run without them.
func (c *CheckoutConfig) Validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("config CURRENCY: %q is not an ISO code", c.Currency)
	}
	if c.MinAmount.Sign() <= 0 {
		return fmt.Errorf("config MIN_AMOUNT: must be positive")
	}
	if c.MaxAmount.LessThan(c.MinAmount) {
		return fmt.Errorf("config MAX_AMOUNT: %s is below MIN_AMOUNT %s", c.MaxAmount, c.MinAmount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config POLL_INTERVAL: must be positive")
	}
	if c.PollAttempts <= 0 {
		return fmt.Errorf("config POLL_ATTEMPTS: must be positive")
	}
	if c.ChargeTimeout <= 0 {
		return fmt.Errorf("config CHARGE_TIMEOUT: must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config SWEEP_INTERVAL: must be positive")
	}
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("config HTTP_PORT: %q is not a port", c.HTTPPort)
	}
	if err := c.Pricing().Validate(); err != nil {
		return fmt.Errorf("config fee table: %w", err)
	}
	return nil
}
