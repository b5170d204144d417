package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":3000"
	DefaultWebhookPath     = "/webhook"
	DefaultGraphAPIBase    = "https://graph.facebook.com"
	DefaultGraphAPIVersion = "v18.0"
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultVertexLocation  = "us-central1"
	DefaultQdrantHost      = "127.0.0.1"
	DefaultQdrantPort      = 6334
	DefaultQdrantColl      = "products"
	DefaultNATSSubject     = "pagebot.dispatch.failed"
	DefaultKafkaTopic      = "pagebot-dispatch-failed"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
	RateLimitBackendNone   = "none"

	CatalogBackendPostgres = "postgres"
	CatalogBackendQdrant   = "qdrant"
	CatalogBackendNone     = "none"

	DeadLetterBackendNone  = "none"
	DeadLetterBackendNATS  = "nats"
	DeadLetterBackendKafka = "kafka"
)

var (
	// ErrMissingSecret reports a required secret that is absent. The process
	// must not serve traffic when Validate returns it.
	ErrMissingSecret = errors.New("missing required secret")
	// ErrInvalidConfig reports an inconsistent or out-of-range setting.
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Messenger  MessengerConfig  `toml:"messenger"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	OpenAI     OpenAIConfig     `toml:"openai"`
	Vertex     VertexConfig     `toml:"vertex"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Qdrant     QdrantConfig     `toml:"qdrant"`
	DeadLetter DeadLetterConfig `toml:"deadletter"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr         string        `toml:"addr"`
	WebhookPath  string        `toml:"webhook_path" validate:"startswith=/"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type MessengerConfig struct {
	PageAccessToken string        `toml:"page_access_token" validate:"required"`
	VerifyToken     string        `toml:"verify_token" validate:"required"`
	AppSecret       string        `toml:"app_secret" validate:"required"`
	GraphAPIBase    string        `toml:"graph_api_base" validate:"url"`
	GraphAPIVersion string        `toml:"graph_api_version"`
	SendTimeout     time.Duration `toml:"send_timeout"`
	RetryMax        int           `toml:"retry_max" validate:"gte=1"`
	RetryBackoff    time.Duration `toml:"retry_backoff"`
}

type RateLimitConfig struct {
	Backend       string        `toml:"backend" validate:"oneof=memory redis none"`
	Window        time.Duration `toml:"window"`
	MaxEvents     int           `toml:"max_events" validate:"gte=1"`
	MaxSenders    int           `toml:"max_senders" validate:"gte=1"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	RedisURL      string        `toml:"redis_url"`
}

type DispatchConfig struct {
	MaxTextChars    int     `toml:"max_text_chars" validate:"gte=1"`
	MaxInFlight     int     `toml:"max_in_flight" validate:"gte=1"`
	SearchLimit     int     `toml:"search_limit" validate:"gte=1"`
	SearchThreshold float64 `toml:"search_threshold" validate:"gte=0,lte=1"`
}

type OpenAIConfig struct {
	APIKey      string        `toml:"api_key"`
	BaseURL     string        `toml:"base_url"`
	Model       string        `toml:"model"`
	Temperature float32       `toml:"temperature"`
	MaxTokens   int           `toml:"max_tokens"`
	Timeout     time.Duration `toml:"timeout"`
}

type VertexConfig struct {
	ProjectID string        `toml:"project_id"`
	Location  string        `toml:"location"`
	Dimension int           `toml:"dimension"`
	Timeout   time.Duration `toml:"timeout"`
}

type CatalogConfig struct {
	Backend  string `toml:"backend" validate:"oneof=postgres qdrant none"`
	TenantID string `toml:"tenant_id"`
}

type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

type QdrantConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	APIKey     string `toml:"api_key"`
	UseTLS     bool   `toml:"use_tls"`
	Collection string `toml:"collection"`
}

type DeadLetterConfig struct {
	Backend      string        `toml:"backend" validate:"oneof=none nats kafka"`
	NATSURL      string        `toml:"nats_url"`
	Subject      string        `toml:"subject"`
	KafkaBrokers []string      `toml:"kafka_brokers"`
	KafkaTopic   string        `toml:"kafka_topic"`
	Timeout      time.Duration `toml:"timeout"`
}

// Default returns a Config with every optional field populated.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         DefaultHTTPAddr,
			WebhookPath:  DefaultWebhookPath,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Messenger: MessengerConfig{
			GraphAPIBase:    DefaultGraphAPIBase,
			GraphAPIVersion: DefaultGraphAPIVersion,
			SendTimeout:     10 * time.Second,
			RetryMax:        3,
			RetryBackoff:    250 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Backend:       RateLimitBackendMemory,
			Window:        30 * time.Second,
			MaxEvents:     4,
			MaxSenders:    10000,
			SweepInterval: time.Minute,
		},
		Dispatch: DispatchConfig{
			MaxTextChars:    800,
			MaxInFlight:     64,
			SearchLimit:     5,
			SearchThreshold: 0.5,
		},
		OpenAI: OpenAIConfig{
			BaseURL:     DefaultOpenAIBaseURL,
			Model:       DefaultOpenAIModel,
			Temperature: 0.3,
			MaxTokens:   300,
			Timeout:     10 * time.Second,
		},
		Vertex: VertexConfig{
			Location:  DefaultVertexLocation,
			Dimension: 1408,
			Timeout:   15 * time.Second,
		},
		Catalog: CatalogConfig{
			Backend: CatalogBackendNone,
		},
		Qdrant: QdrantConfig{
			Host:       DefaultQdrantHost,
			Port:       DefaultQdrantPort,
			Collection: DefaultQdrantColl,
		},
		DeadLetter: DeadLetterConfig{
			Backend:    DeadLetterBackendNone,
			Subject:    DefaultNATSSubject,
			KafkaTopic: DefaultKafkaTopic,
			Timeout:    5 * time.Second,
		},
	}
}

// Load reads the TOML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Messenger.PageAccessToken, "PAGE_ACCESS_TOKEN")
	set(&c.Messenger.VerifyToken, "VERIFY_TOKEN")
	set(&c.Messenger.AppSecret, "APP_SECRET")
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Vertex.ProjectID, "VERTEX_AI_PROJECT_ID")
	set(&c.Vertex.Location, "VERTEX_AI_LOCATION")
	set(&c.Postgres.DSN, "DATABASE_URL")
	set(&c.RateLimit.RedisURL, "REDIS_URL")
	set(&c.Qdrant.APIKey, "QDRANT_API_KEY")
	if port, ok := lookup("PORT"); ok && strings.TrimSpace(port) != "" {
		c.Server.Addr = ":" + strings.TrimSpace(port)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks required secrets first, then backend consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		var missing, invalid []string
		for _, fe := range verrs {
			name := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Tag() == "required" {
				missing = append(missing, name)
				continue
			}
			invalid = append(invalid, fmt.Sprintf("%s (%s)", name, fe.Tag()))
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(invalid, ", "))
	}

	if c.RateLimit.Backend == RateLimitBackendRedis && strings.TrimSpace(c.RateLimit.RedisURL) == "" {
		return fmt.Errorf("%w: ratelimit.redis_url is required for the redis backend", ErrInvalidConfig)
	}
	if c.Catalog.Backend == CatalogBackendPostgres && strings.TrimSpace(c.Postgres.DSN) == "" {
		return fmt.Errorf("%w: postgres.dsn is required for the postgres catalog", ErrInvalidConfig)
	}
	if c.Catalog.Backend != CatalogBackendNone && strings.TrimSpace(c.Vertex.ProjectID) == "" {
		return fmt.Errorf("%w: vertex.project_id is required when a catalog backend is enabled", ErrInvalidConfig)
	}
	switch c.DeadLetter.Backend {
	case DeadLetterBackendNATS:
		if strings.TrimSpace(c.DeadLetter.NATSURL) == "" {
			return fmt.Errorf("%w: deadletter.nats_url is required for the nats backend", ErrInvalidConfig)
		}
	case DeadLetterBackendKafka:
		if len(c.DeadLetter.KafkaBrokers) == 0 {
			return fmt.Errorf("%w: deadletter.kafka_brokers is required for the kafka backend", ErrInvalidConfig)
		}
	}
	return nil
}

// GraphAPIURL returns the versioned Graph API root, e.g. https://graph.facebook.com/v18.0.
func (c MessengerConfig) GraphAPIURL() string {
	base := strings.TrimRight(c.GraphAPIBase, "/")
	version := strings.Trim(c.GraphAPIVersion, "/")
	if version == "" {
		return base
	}
	return base + "/" + version
}
