package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"docintel/poll"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Embedder   EmbedderConfig   `mapstructure:"embedder"`
	Completion CompletionConfig `mapstructure:"completion"`
	Index      IndexConfig      `mapstructure:"index"`
	Answer     AnswerConfig     `mapstructure:"answer"`
	KB         KBConfig         `mapstructure:"kb"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr" validate:"required"`
	BodyLimitMB int    `mapstructure:"body_limit_mb" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Env   string `mapstructure:"env" validate:"oneof=development production"`
}

type StorageConfig struct {
	Endpoint    string `mapstructure:"endpoint" validate:"required"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Region      string `mapstructure:"region"`
	UseSSL      bool   `mapstructure:"use_ssl"`
	Bucket      string `mapstructure:"bucket" validate:"required"`
	PersistText bool   `mapstructure:"persist_text"`
}

type OCRConfig struct {
	Region            string     `mapstructure:"region"`
	AccessKey         string     `mapstructure:"access_key"`
	SecretKey         string     `mapstructure:"secret_key"`
	RequestsPerSecond float64    `mapstructure:"requests_per_second" validate:"gt=0"`
	Poll              PollConfig `mapstructure:"poll"`
}

type EmbedderConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=openai ollama gemini"`
	Model     string `mapstructure:"model" validate:"required"`
	BaseURL   string `mapstructure:"base_url" validate:"required_if=Provider ollama"`
	APIKey    string `mapstructure:"api_key" validate:"required_unless=Provider ollama"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"gte=0"`
}

type CompletionConfig struct {
	Provider    string  `mapstructure:"provider" validate:"oneof=openai ollama gemini"`
	Model       string  `mapstructure:"model" validate:"required"`
	BaseURL     string  `mapstructure:"base_url" validate:"required_if=Provider ollama"`
	APIKey      string  `mapstructure:"api_key" validate:"required_unless=Provider ollama"`
	Temperature float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Collection string `mapstructure:"collection"`
}

type IndexConfig struct {
	Provider   string       `mapstructure:"provider" validate:"oneof=pgvector milvus memory"`
	Dimensions int          `mapstructure:"dimensions" validate:"gt=0"`
	PgDSN      string       `mapstructure:"pg_dsn" validate:"required_if=Provider pgvector"`
	Milvus     MilvusConfig `mapstructure:"milvus"`
}

type AnswerConfig struct {
	TopK                int     `mapstructure:"top_k" validate:"gt=0"`
	MaxContextTokens    int     `mapstructure:"max_context_tokens" validate:"gte=0"`
	MinGroundingOverlap float64 `mapstructure:"min_grounding_overlap" validate:"gte=0,lte=1"`
}

type KBConfig struct {
	BaseURL string     `mapstructure:"base_url" validate:"required,url"`
	APIKey  string     `mapstructure:"api_key"`
	LLMID   string     `mapstructure:"llm_id"`
	Poll    PollConfig `mapstructure:"poll"`
}

type JobsConfig struct {
	Provider      string        `mapstructure:"provider" validate:"oneof=memory postgres redis"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Provider redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	Workers       int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize     int           `mapstructure:"queue_size" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PollConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
	Interval     time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxInterval  time.Duration `mapstructure:"max_interval" validate:"gte=0"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

func (p PollConfig) Policy() poll.Policy {
	return poll.Policy{
		InitialDelay: p.InitialDelay,
		Interval:     p.Interval,
		MaxInterval:  p.MaxInterval,
		Multiplier:   p.Multiplier,
		MaxAttempts:  p.MaxAttempts,
		Timeout:      p.Timeout,
	}
}

// Load reads .env (if any), the optional config file and DOCINTEL_* env vars.
// path falls back to DOCINTEL_CONFIG.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DOCINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindLegacyEnv(v)

	if path == "" {
		path = os.Getenv("DOCINTEL_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.body_limit_mb", 25)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "production")

	v.SetDefault("storage.endpoint", "s3.amazonaws.com")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "ai-cfo-docs")
	v.SetDefault("storage.persist_text", false)

	v.SetDefault("ocr.region", "")
	v.SetDefault("ocr.access_key", "")
	v.SetDefault("ocr.secret_key", "")
	v.SetDefault("ocr.requests_per_second", 5.0)
	setPollDefaults(v, "ocr.poll", 2*time.Second, 2*time.Second, 15*time.Second, 10*time.Minute)

	v.SetDefault("embedder.provider", "openai")
	v.SetDefault("embedder.model", "text-embedding-3-small")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.max_tokens", 8191)

	v.SetDefault("completion.provider", "openai")
	v.SetDefault("completion.model", "gpt-4")
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.temperature", 0.0)

	v.SetDefault("index.provider", "pgvector")
	v.SetDefault("index.dimensions", 1536)
	v.SetDefault("index.pg_dsn", "")
	v.SetDefault("index.milvus.address", "localhost:19530")
	v.SetDefault("index.milvus.username", "")
	v.SetDefault("index.milvus.password", "")
	v.SetDefault("index.milvus.collection", "documents")

	v.SetDefault("answer.top_k", 5)
	v.SetDefault("answer.max_context_tokens", 6000)
	v.SetDefault("answer.min_grounding_overlap", 0.5)

	v.SetDefault("kb.base_url", "https://api.retellai.com")
	v.SetDefault("kb.api_key", "")
	v.SetDefault("kb.llm_id", "")
	setPollDefaults(v, "kb.poll", 0, 5*time.Second, 30*time.Second, 15*time.Minute)

	v.SetDefault("jobs.provider", "memory")
	v.SetDefault("jobs.redis_addr", "")
	v.SetDefault("jobs.redis_password", "")
	v.SetDefault("jobs.redis_db", 0)
	v.SetDefault("jobs.ttl", 24*time.Hour)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 32)

	v.SetDefault("metrics.enabled", true)
}

func setPollDefaults(v *viper.Viper, prefix string, initial, interval, max, timeout time.Duration) {
	v.SetDefault(prefix+".initial_delay", initial)
	v.SetDefault(prefix+".interval", interval)
	v.SetDefault(prefix+".max_interval", max)
	v.SetDefault(prefix+".multiplier", 1.5)
	v.SetDefault(prefix+".max_attempts", 0)
	v.SetDefault(prefix+".timeout", timeout)
}

// bindLegacyEnv keeps the variable names existing deployments already export.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("storage.bucket", "DOCINTEL_STORAGE_BUCKET", "BUCKET")
	_ = v.BindEnv("storage.region", "DOCINTEL_STORAGE_REGION", "AWS_REGION")
	_ = v.BindEnv("storage.access_key", "DOCINTEL_STORAGE_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_key", "DOCINTEL_STORAGE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("ocr.region", "DOCINTEL_OCR_REGION", "AWS_REGION")
	_ = v.BindEnv("ocr.access_key", "DOCINTEL_OCR_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("ocr.secret_key", "DOCINTEL_OCR_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("embedder.api_key", "DOCINTEL_EMBEDDER_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("completion.api_key", "DOCINTEL_COMPLETION_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("kb.api_key", "DOCINTEL_KB_API_KEY", "RETELL_API_KEY")
	_ = v.BindEnv("kb.llm_id", "DOCINTEL_KB_LLM_ID", "RETELL_LLM_ID")
	_ = v.BindEnv("server.addr", "DOCINTEL_SERVER_ADDR", "SERVER_ADDR")
}
