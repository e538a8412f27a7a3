package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/recoverly/dunning-engine/internal/model"
	brokerredis "github.com/recoverly/dunning-engine/pkg/messaging/redis"
)

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" validate:"required"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required,email"`
}

// DriverConfig drives the periodic stage evaluator in cmd/worker.
type DriverConfig struct {
	BatchSize     int           `mapstructure:"batch_size" validate:"min=1"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"required"`
	RetryAttempts int           `mapstructure:"retry_attempts" validate:"min=1"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"required"`
	// ClaimTTL is how long a claimed failure stays invisible to other
	// workers if its claim is never released (crashed worker).
	ClaimTTL time.Duration `mapstructure:"claim_ttl" validate:"required"`
}

type StageConfig struct {
	Name                string `mapstructure:"name" validate:"required"`
	DelayDays           int    `mapstructure:"delay_days" validate:"min=0"`
	Subject             string `mapstructure:"subject" validate:"required"`
	Template            string `mapstructure:"template" validate:"required"`
	Urgency             string `mapstructure:"urgency" validate:"oneof=low medium high critical"`
	RetryAttempt        bool   `mapstructure:"retry_attempt"`
	AmountAdjustment    bool   `mapstructure:"amount_adjustment"`
	PaymentMethodUpdate bool   `mapstructure:"payment_method_update"`
	GracePeriodOffer    bool   `mapstructure:"grace_period_offer"`
	PartialPaymentOffer bool   `mapstructure:"partial_payment_offer"`
	ManualIntervention  bool   `mapstructure:"manual_intervention"`
}

type SMSConfig struct {
	CriticalStages       []string `mapstructure:"critical_stages"`
	SupportPhone         string   `mapstructure:"support_phone"`
	OptOutKeywords       []string `mapstructure:"opt_out_keywords"`
	HelpKeywords         []string `mapstructure:"help_keywords"`
	PaymentUpdatePhrases []string `mapstructure:"payment_update_phrases"`
}

type GracePeriodConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	GracePeriodDays int      `mapstructure:"grace_period_days" validate:"min=0"`
	Offers          []string `mapstructure:"grace_period_offers"`
}

type PartialPaymentConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	MinimumPercentage float64  `mapstructure:"minimum_percentage" validate:"min=0,max=100"`
	Offers            []string `mapstructure:"partial_payment_offers"`
}

type RetryConfig struct {
	Enabled                   bool     `mapstructure:"enabled"`
	MaxRetriesPerStage        int      `mapstructure:"max_retries_per_stage" validate:"min=0"`
	RetryDelayHours           int      `mapstructure:"retry_delay_hours" validate:"min=0"`
	AmountReductionPercentage float64  `mapstructure:"amount_reduction_percentage" validate:"min=0,max=100"`
	RetryConditions           []string `mapstructure:"retry_conditions"`
}

// DunningConfig is the engine-specific configuration tree: the ordered
// stage table, per-channel keyword sets and the remediation policies.
type DunningConfig struct {
	PaymentUpdateURL string               `mapstructure:"payment_update_url" validate:"required"`
	Stages           []StageConfig        `mapstructure:"stages" validate:"required,min=1,dive"`
	SMS              SMSConfig            `mapstructure:"sms"`
	GracePeriod      GracePeriodConfig    `mapstructure:"grace_period"`
	PartialPayment   PartialPaymentConfig `mapstructure:"partial_payment"`
	Retry            RetryConfig          `mapstructure:"retry"`
}

// BillingConfig points at the payment processor's retry endpoint.
type BillingConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Dunning  DunningConfig  `mapstructure:"dunning"`
	LogLevel string         `mapstructure:"log_level"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("DB_PORT"); port != "" {
		config.Database.Port, _ = strconv.Atoi(port)
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		config.Database.Host = host
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Redis.URL = url
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// ToStageDefinitions converts the configured stage list into the typed
// stage table consumed by the registry.
func (c *DunningConfig) ToStageDefinitions() []model.DunningStageDefinition {
	stages := make([]model.DunningStageDefinition, 0, len(c.Stages))
	for _, s := range c.Stages {
		stages = append(stages, model.DunningStageDefinition{
			Name:                s.Name,
			DelayDays:           s.DelayDays,
			Subject:             s.Subject,
			Template:            s.Template,
			Urgency:             model.Urgency(s.Urgency),
			RetryAttempt:        s.RetryAttempt,
			AmountAdjustment:    s.AmountAdjustment,
			PaymentMethodUpdate: s.PaymentMethodUpdate,
			GracePeriodOffer:    s.GracePeriodOffer,
			PartialPaymentOffer: s.PartialPaymentOffer,
			ManualIntervention:  s.ManualIntervention,
		})
	}
	return stages
}

func (c *RedisConfig) ToBrokerConfig() brokerredis.Config {
	return brokerredis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// DefaultDunning is the stock six-stage escalation sequence. Deployments
// normally override it from config.yml; tests rely on it directly.
func DefaultDunning() DunningConfig {
	return DunningConfig{
		PaymentUpdateURL: "https://billing.example.com/payment-methods",
		Stages: []StageConfig{
			{
				Name:         "initial_notice",
				DelayDays:    0,
				Subject:      "We couldn't process your payment",
				Template:     "Hi {customer_name}, your payment of {amount} failed. We'll retry automatically.",
				Urgency:      "low",
				RetryAttempt: true,
			},
			{
				Name:                "first_reminder",
				DelayDays:           3,
				Subject:             "Payment reminder: action needed",
				Template:            "Hi {customer_name}, we still couldn't collect {amount}. Please check your payment method.",
				Urgency:             "low",
				RetryAttempt:        true,
				PaymentMethodUpdate: true,
			},
			{
				Name:                "second_reminder",
				DelayDays:           7,
				Subject:             "Your payment is {days} days overdue",
				Template:            "Hi {customer_name}, your payment of {amount} is now {days} days overdue.",
				Urgency:             "medium",
				RetryAttempt:        true,
				AmountAdjustment:    true,
				PaymentMethodUpdate: true,
			},
			{
				Name:                "urgent_notice",
				DelayDays:           14,
				Subject:             "Urgent: account at risk",
				Template:            "Hi {customer_name}, your account is at risk. We can extend your access while you fix this.",
				Urgency:             "high",
				PaymentMethodUpdate: true,
				GracePeriodOffer:    true,
			},
			{
				Name:                "final_warning",
				DelayDays:           21,
				Subject:             "Final warning before suspension",
				Template:            "Hi {customer_name}, this is your final warning. A partial payment keeps your account open.",
				Urgency:             "critical",
				PartialPaymentOffer: true,
			},
			{
				Name:               "final_notice",
				DelayDays:          30,
				Subject:            "Account suspension notice",
				Template:           "Hi {customer_name}, your account is being suspended for non-payment of {amount}.",
				Urgency:            "critical",
				ManualIntervention: true,
			},
		},
		SMS: SMSConfig{
			CriticalStages:       []string{"urgent_notice", "final_warning", "final_notice"},
			SupportPhone:         "+18005550199",
			OptOutKeywords:       []string{"STOP", "UNSUBSCRIBE", "CANCEL", "QUIT"},
			HelpKeywords:         []string{"HELP", "INFO", "SUPPORT"},
			PaymentUpdatePhrases: []string{"UPDATE PAYMENT", "UPDATE CARD", "PAY NOW"},
		},
		GracePeriod: GracePeriodConfig{
			Enabled:         true,
			GracePeriodDays: 7,
			Offers:          []string{"urgent_notice"},
		},
		PartialPayment: PartialPaymentConfig{
			Enabled:           true,
			MinimumPercentage: 50,
			Offers:            []string{"final_warning"},
		},
		Retry: RetryConfig{
			Enabled:                   true,
			MaxRetriesPerStage:        1,
			RetryDelayHours:           6,
			AmountReductionPercentage: 10,
			RetryConditions:           []string{"card_declined", "insufficient_funds", "processing_error"},
		},
	}
}
