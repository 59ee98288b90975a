package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"donation-alerts/moderation"
)

// Config is the full service configuration
type Config struct {
	Server struct {
		Port     string `mapstructure:"port"`
		UseHTTPS bool   `mapstructure:"use_https"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`

	Origins struct {
		Overlay []string `mapstructure:"overlay"`
		Admin   []string `mapstructure:"admin"`
	} `mapstructure:"origins"`

	Admin struct {
		Password   string        `mapstructure:"password"`
		JWTSecret  string        `mapstructure:"jwt_secret"`
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"admin"`

	AWS struct {
		Region   string `mapstructure:"region"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"aws"`

	DynamoDB struct {
		Enabled bool       `mapstructure:"enabled"`
		Tables  TableNames `mapstructure:"tables"`
	} `mapstructure:"dynamodb"`

	LLM struct {
		BaseURL   string        `mapstructure:"base_url"`
		APIKey    string        `mapstructure:"api_key"`
		Model     string        `mapstructure:"model"`
		Timeout   time.Duration `mapstructure:"timeout"`
		MaxTokens int           `mapstructure:"max_tokens"`
	} `mapstructure:"llm"`

	Filter struct {
		RedactionToken     string                `mapstructure:"redaction_token"`
		CacheTTL           time.Duration         `mapstructure:"cache_ttl"`
		CacheSweep         time.Duration         `mapstructure:"cache_sweep"`
		Phonetic           bool                  `mapstructure:"phonetic"`
		DirectAdjudication bool                  `mapstructure:"direct_adjudication"`
		AllowList          []string              `mapstructure:"allow_list"`
		Thresholds         moderation.Thresholds `mapstructure:"thresholds"`
	} `mapstructure:"filter"`

	Processing struct {
		StaleAfter time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"processing"`

	PayPal struct {
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		BaseURL      string `mapstructure:"base_url"`
		Currency     string `mapstructure:"currency"`
	} `mapstructure:"paypal"`

	Twitch struct {
		ClientID      string `mapstructure:"client_id"`
		BroadcasterID string `mapstructure:"broadcaster_id"`
		CreditAmount  string `mapstructure:"credit_amount"`
	} `mapstructure:"twitch"`

	YouTube struct {
		OEmbedURL string `mapstructure:"oembed_url"`
	} `mapstructure:"youtube"`

	Ingest struct {
		MaxAttempts  int           `mapstructure:"max_attempts"`
		BackoffBase  time.Duration `mapstructure:"backoff_base"`
		BackoffMax   time.Duration `mapstructure:"backoff_max"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		Lease        time.Duration `mapstructure:"lease"`
	} `mapstructure:"ingest"`

	Retention struct {
		HistoryMaxAge time.Duration `mapstructure:"history_max_age"`
		Interval      time.Duration `mapstructure:"interval"`
	} `mapstructure:"retention"`

	RateLimit struct {
		RPS   float64 `mapstructure:"rps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"ratelimit"`
}

// TableNames are the DynamoDB tables the service uses
type TableNames struct {
	Queue    string `mapstructure:"queue"`
	History  string `mapstructure:"history"`
	Settings string `mapstructure:"settings"`
	Bans     string `mapstructure:"bans"`
	Jobs     string `mapstructure:"jobs"`
	Drafts   string `mapstructure:"drafts"`
	Terms    string `mapstructure:"terms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.use_https", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("origins.overlay", []string{})
	v.SetDefault("origins.admin", []string{})

	v.SetDefault("admin.password", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.session_ttl", 12*time.Hour)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("dynamodb.enabled", false)
	v.SetDefault("dynamodb.tables.queue", "donation-alerts-queue")
	v.SetDefault("dynamodb.tables.history", "donation-alerts-history")
	v.SetDefault("dynamodb.tables.settings", "donation-alerts-settings")
	v.SetDefault("dynamodb.tables.bans", "donation-alerts-bans")
	v.SetDefault("dynamodb.tables.jobs", "donation-alerts-jobs")
	v.SetDefault("dynamodb.tables.drafts", "donation-alerts-drafts")
	v.SetDefault("dynamodb.tables.terms", "donation-alerts-terms")

	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", 300*time.Second)
	v.SetDefault("llm.max_tokens", 10000)

	thresholds := moderation.DefaultThresholds()
	v.SetDefault("filter.redaction_token", moderation.DefaultRedactionToken)
	v.SetDefault("filter.cache_ttl", time.Hour)
	v.SetDefault("filter.cache_sweep", 2*time.Minute)
	v.SetDefault("filter.phonetic", true)
	v.SetDefault("filter.direct_adjudication", true)
	v.SetDefault("filter.allow_list", []string{})
	v.SetDefault("filter.thresholds.strict", thresholds.Strict)
	v.SetDefault("filter.thresholds.moderate", thresholds.Moderate)
	v.SetDefault("filter.thresholds.lenient", thresholds.Lenient)
	v.SetDefault("filter.thresholds.direct_margin", thresholds.DirectMargin)
	v.SetDefault("filter.thresholds.borderline_margin", thresholds.BorderlineMargin)
	v.SetDefault("filter.thresholds.word_floor", thresholds.WordFloor)

	v.SetDefault("processing.stale_after", 5*time.Minute)

	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.client_secret", "")
	v.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("paypal.currency", "USD")

	v.SetDefault("twitch.client_id", "")
	v.SetDefault("twitch.broadcaster_id", "")
	v.SetDefault("twitch.credit_amount", "1.00")

	v.SetDefault("youtube.oembed_url", "")

	v.SetDefault("ingest.max_attempts", 8)
	v.SetDefault("ingest.backoff_base", time.Second)
	v.SetDefault("ingest.backoff_max", 5*time.Minute)
	v.SetDefault("ingest.poll_interval", 2*time.Second)
	v.SetDefault("ingest.lease", 2*time.Minute)

	v.SetDefault("retention.history_max_age", 72*time.Hour)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("ratelimit.rps", 2.0)
	v.SetDefault("ratelimit.burst", 5)
}

// LoadConfig reads defaults, the optional YAML file at path and
// DONATIONS_* environment overrides
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DONATIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Processing.StaleAfter <= 0 {
		return fmt.Errorf("processing.stale_after must be positive")
	}
	if c.Ingest.MaxAttempts < 1 {
		return fmt.Errorf("ingest.max_attempts must be at least 1")
	}
	if c.Admin.Password != "" && c.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret is required when admin.password is set")
	}
	return nil
}
