package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultIMEIAPIURL = "https://alpha.imeicheck.com/api/php-api/create"

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken   string  `envconfig:"BOT_TOKEN"`
	IMEIAPIKey string  `envconfig:"IMEI_CHECKER_API_KEY"`
	IMEIAPIURL string  `envconfig:"IMEI_API_URL" default:"https://alpha.imeicheck.com/api/php-api/create"`
	OwnerIDs   []int64 `envconfig:"OWNER_ID"`
	MySQLDSN   string  `envconfig:"MYSQL_DSN"`
	LogLevel   string  `envconfig:"LOG_LEVEL" default:"info"`

	RequestTimeoutSeconds int `envconfig:"REQUEST_TIMEOUT" default:"15"`
	MaxRetries            int `envconfig:"MAX_RETRIES" default:"3"`
	ProviderMaxConns      int `envconfig:"PROVIDER_MAX_CONNS" default:"10"`
	ProviderMaxIdleConns  int `envconfig:"PROVIDER_MAX_IDLE_CONNS" default:"5"`

	ServicesSeedPath string        `envconfig:"SERVICES_SEED_PATH" default:"configs/services.yaml"`
	SessionTTL       time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	BotMaxInflight   int           `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	UserRateLimit    float64       `envconfig:"USER_RATE_LIMIT" default:"1"`
	UserRateBurst    int           `envconfig:"USER_RATE_BURST" default:"5"`

	AutoPingerEnabled  bool   `envconfig:"AUTOPINGER_ENABLED" default:"true"`
	AutoPingerInterval int    `envconfig:"AUTOPINGER_INTERVAL" default:"300"`
	AutoPingerURL      string `envconfig:"AUTOPINGER_URL"`

	AdminListenAddr   string `envconfig:"ADMIN_LISTEN_ADDR" default:":8080"`
	AdminUsername     string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH"`

	BackupEnabled  bool   `envconfig:"BACKUP_ENABLED" default:"false"`
	BackupSchedule string `envconfig:"BACKUP_SCHEDULE" default:"@daily"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3Region       string `envconfig:"S3_REGION"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"S3_SECRET_KEY"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"backups"`
}

// Load reads configuration from an optional env file and the process environment.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.IMEIAPIURL = normalizeURL(cfg.IMEIAPIURL, defaultIMEIAPIURL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing required variable at once.
func (c Config) Validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.IMEIAPIKey == "" {
		missing = append(missing, "IMEI_CHECKER_API_KEY")
	}
	if len(c.OwnerIDs) == 0 {
		missing = append(missing, "OWNER_ID")
	}
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.AdminPasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	if c.BackupEnabled {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3Bucket == "" {
			missing = append(missing, "S3_BUCKET")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch {
	case c.RequestTimeoutSeconds <= 0:
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	case c.MaxRetries <= 0:
		return fmt.Errorf("MAX_RETRIES must be > 0")
	case c.ProviderMaxConns <= 0 || c.ProviderMaxIdleConns < 0:
		return fmt.Errorf("invalid PROVIDER_MAX_CONNS/PROVIDER_MAX_IDLE_CONNS")
	case c.BotMaxInflight <= 0:
		return fmt.Errorf("BOT_MAX_INFLIGHT must be > 0")
	case c.SessionTTL <= 0:
		return fmt.Errorf("SESSION_TTL must be > 0")
	case c.AutoPingerEnabled && c.AutoPingerInterval <= 0:
		return fmt.Errorf("AUTOPINGER_INTERVAL must be > 0")
	}
	return nil
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) AutoPingerEvery() time.Duration {
	return time.Duration(c.AutoPingerInterval) * time.Second
}

// IsOwner reports whether the user holds the elevated owner role.
func (c Config) IsOwner(userID int64) bool {
	return slices.Contains(c.OwnerIDs, userID)
}

func normalizeURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		host, path, _ := strings.Cut(parsed.Path, "/")
		parsed.Host = host
		parsed.Path = ""
		if path != "" {
			parsed.Path = "/" + path
		}
	}
	return parsed.String()
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Containers pass everything through the environment.
	return nil
}
