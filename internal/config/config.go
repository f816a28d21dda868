package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"voicecollect/pkg/model"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Addr           string        `yaml:"addr" env:"SERVER_ADDR" env-default:":3000"`
		ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`
		WriteTimeout   time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"2m"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES" env-default:"52428800"`
		AllowedOrigin  string        `yaml:"allowed_origin" env:"CORS_ALLOWED_ORIGIN" env-default:"*"`
	} `yaml:"server"`

	Log struct {
		Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
		File        string `yaml:"file" env:"LOG_FILE"`
		MaxSizeMB   int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
		MaxBackups  int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"5"`
		MaxAgeDays  int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"30"`
	} `yaml:"log"`

	Storage struct {
		Provider        string        `yaml:"provider" env:"STORAGE_PROVIDER" env-default:"dropbox"`
		Namespace       string        `yaml:"namespace" env:"STORAGE_NAMESPACE" env-default:"voice-recordings"`
		CollisionPolicy string        `yaml:"collision_policy" env:"STORAGE_COLLISION_POLICY" env-default:"reject"`
		RequestTimeout  time.Duration `yaml:"request_timeout" env:"STORAGE_REQUEST_TIMEOUT" env-default:"30s"`
		RetryAttempts   int           `yaml:"retry_attempts" env:"STORAGE_RETRY_ATTEMPTS" env-default:"3"`
		RetryInitial    time.Duration `yaml:"retry_initial" env:"STORAGE_RETRY_INITIAL" env-default:"500ms"`
		RetryMax        time.Duration `yaml:"retry_max" env:"STORAGE_RETRY_MAX" env-default:"5s"`
		LinkCacheTTL    time.Duration `yaml:"link_cache_ttl" env:"STORAGE_LINK_CACHE_TTL" env-default:"24h"`
	} `yaml:"storage"`

	Dropbox struct {
		AppKey       string        `yaml:"app_key" env:"DROPBOX_APP_KEY"`
		AppSecret    string        `yaml:"app_secret" env:"DROPBOX_APP_SECRET"`
		RefreshToken string        `yaml:"refresh_token" env:"DROPBOX_REFRESH_TOKEN"`
		SafetyMargin time.Duration `yaml:"safety_margin" env:"DROPBOX_TOKEN_SAFETY_MARGIN" env-default:"5m"`
	} `yaml:"dropbox"`

	S3 struct {
		Endpoint      string `yaml:"endpoint" env:"S3_ENDPOINT"`
		Region        string `yaml:"region" env:"S3_REGION" env-default:"ru-central1"`
		AccessKey     string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey     string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket        string `yaml:"bucket" env:"S3_BUCKET"`
		PublicBaseURL string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
	} `yaml:"s3"`

	Minio struct {
		Endpoint      string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey     string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey     string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket        string `yaml:"bucket" env:"MINIO_BUCKET"`
		UseSSL        bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
		PublicBaseURL string `yaml:"public_base_url" env:"MINIO_PUBLIC_BASE_URL"`
	} `yaml:"minio"`

	Queue struct {
		Backend  string `yaml:"backend" env:"QUEUE_BACKEND" env-default:"file"`
		FilePath string `yaml:"file_path" env:"QUEUE_FILE_PATH" env-default:"data/texts.json"`
		RedisKey string `yaml:"redis_key" env:"QUEUE_REDIS_KEY" env-default:"voicecollect:prompts"`
	} `yaml:"queue"`

	Postgres struct {
		DSN            string `yaml:"dsn" env:"POSTGRES_DSN"`
		MigrationsPath string `yaml:"migrations_path" env:"POSTGRES_MIGRATIONS_PATH" env-default:"migrations"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Telegram struct {
		Token  string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
		ChatID int64  `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	} `yaml:"telegram"`

	Audio struct {
		TargetChannels int   `yaml:"target_channels" env:"AUDIO_TARGET_CHANNELS" env-default:"0"`
		MaxInputBytes  int64 `yaml:"max_input_bytes" env:"AUDIO_MAX_INPUT_BYTES" env-default:"52428800"`
	} `yaml:"audio"`

	Ingest struct {
		CommitTimeout time.Duration `yaml:"commit_timeout" env:"INGEST_COMMIT_TIMEOUT" env-default:"2m"`
	} `yaml:"ingest"`
}

// LoadConfig reads the YAML file at path when it exists, then applies the
// environment on top. Without a file the environment alone is used.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks provider selection and that the selected provider has credentials
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Provider {
	case "dropbox":
		if c.Dropbox.AppKey == "" || c.Dropbox.AppSecret == "" || c.Dropbox.RefreshToken == "" {
			errs = append(errs, errors.New("dropbox provider requires DROPBOX_APP_KEY, DROPBOX_APP_SECRET and DROPBOX_REFRESH_TOKEN"))
		}
	case "s3":
		if c.S3.Bucket == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, errors.New("s3 provider requires S3_BUCKET, S3_ACCESS_KEY and S3_SECRET_KEY"))
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("minio provider requires MINIO_ENDPOINT and MINIO_BUCKET"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage provider %q", c.Storage.Provider))
	}

	if strings.Trim(c.Storage.Namespace, "/ ") == "" {
		errs = append(errs, errors.New("storage namespace must not be empty"))
	}

	if !model.CollisionPolicy(c.Storage.CollisionPolicy).Valid() {
		errs = append(errs, fmt.Errorf("unknown collision policy %q", c.Storage.CollisionPolicy))
	}

	switch c.Queue.Backend {
	case "file", "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres queue requires POSTGRES_DSN"))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis queue requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}

	if c.Audio.TargetChannels < 0 || c.Audio.TargetChannels > 2 {
		errs = append(errs, fmt.Errorf("audio target channels must be 0, 1 or 2, got %d", c.Audio.TargetChannels))
	}

	if c.Storage.RetryAttempts < 1 {
		errs = append(errs, errors.New("storage retry attempts must be at least 1"))
	}

	return errors.Join(errs...)
}
