package config

import (
	"time"

	"redactly/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Language struct {
		Endpoint   string `yaml:"endpoint" env:"LANGUAGE_ENDPOINT"`
		APIKey     string `yaml:"api_key" env:"LANGUAGE_API_KEY"`
		APIVersion string `yaml:"api_version" env:"LANGUAGE_API_VERSION" env-default:"2023-04-01"`
	} `yaml:"language"`

	PII struct {
		Categories            []string `yaml:"categories" env:"PII_CATEGORIES"`
		RedactionSource       string   `yaml:"redaction_source" env:"PII_REDACTION_SOURCE" env-default:"lexical"`
		MaxChunkSize          int      `yaml:"max_chunk_size" env:"PII_MAX_CHUNK_SIZE" env-default:"5000"`
		IncludeAudioRedaction bool     `yaml:"include_audio_redaction" env:"PII_INCLUDE_AUDIO_REDACTION" env-default:"false"`
		DefaultLocale         string   `yaml:"default_locale" env:"PII_DEFAULT_LOCALE" env-default:"en-US"`
	} `yaml:"pii"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
	} `yaml:"postgres"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	} `yaml:"s3"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`

	Worker struct {
		Concurrency    int           `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
		PollInterval   time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL" env-default:"5s"`
		MaxWait        time.Duration `yaml:"max_wait" env:"WORKER_MAX_WAIT" env-default:"30m"`
		RequestTimeout time.Duration `yaml:"request_timeout" env:"WORKER_REQUEST_TIMEOUT" env-default:"3m"`
	} `yaml:"worker"`
}

func LoadConfig() (*Config, error) {
	// Load .env file
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadConfig("configs/config.yaml", &cfg); err != nil {
		return nil, err
	}

	if err := cleanenv.UpdateEnv(&cfg); err != nil {
		return nil, err
	}

	logger.Info("Config loaded successfully")
	return &cfg, nil
}
