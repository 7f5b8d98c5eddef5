package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	ListenAddr            string
	MySQLDSN              string
	RequestTimeout        time.Duration
	AllowedOrigin         string
	MetricsUsername       string
	MetricsPassword       string
	PaymentCurrency       string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	RewardMinutes         int
	DeviceLockWindow      time.Duration
	RoomRefresh           time.Duration
	OpsBotToken           string
	OpsChatID             int64
	S3Endpoint            string
	S3Region              string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3UsePathStyle        bool
	S3Prefix              string
}

// ArchiveEnabled reports whether webhook payload archival to S3 is configured.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// OpsAlertsEnabled reports whether Telegram ops alerts are configured.
func (c Config) OpsAlertsEnabled() bool {
	return c.OpsBotToken != "" && c.OpsChatID != 0
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultRazorpayBaseURL = "https://api.razorpay.com"

	cfg := Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		RequestTimeout:   time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", "*"),
		MetricsUsername:  getEnv("METRICS_USERNAME", "metrics"),
		MetricsPassword:  getEnv("METRICS_PASSWORD", "change-me"),
		PaymentCurrency:  getEnv("PAYMENT_CURRENCY", "INR"),
		RazorpayBaseURL:  normalizeBaseURL(getEnv("RAZORPAY_BASE_URL", defaultRazorpayBaseURL), defaultRazorpayBaseURL),
		RewardMinutes:    getInt("SESSION_REWARD_MINUTES", 60),
		DeviceLockWindow: time.Minute * time.Duration(getInt("DEVICE_LOCK_MINUTES", 60)),
		RoomRefresh:      time.Second * time.Duration(getInt("ROOM_REFRESH_SECONDS", 30)),
		OpsChatID:        getInt64("OPS_ALERT_CHAT_ID", 0),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3Region:         os.Getenv("S3_REGION"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3UsePathStyle:   getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:         getEnv("S3_PREFIX", "webhooks"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.RazorpayKeyID = os.Getenv("RAZORPAY_KEY_ID")
	cfg.RazorpayKeySecret = os.Getenv("RAZORPAY_KEY_SECRET")
	cfg.RazorpayWebhookSecret = os.Getenv("RAZORPAY_WEBHOOK_SECRET")
	cfg.OpsBotToken = os.Getenv("OPS_BOT_TOKEN")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.RazorpayKeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if cfg.RazorpayKeySecret == "" {
		missing = append(missing, "RAZORPAY_KEY_SECRET")
	}
	if cfg.RazorpayWebhookSecret == "" {
		missing = append(missing, "RAZORPAY_WEBHOOK_SECRET")
	}
	if cfg.ArchiveEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.RewardMinutes <= 0 {
		cfg.RewardMinutes = 60
	}

	return cfg, nil
}

// normalizeBaseURL keeps the processor base URL usable when the env var is set
// without a scheme or with a trailing path.
func normalizeBaseURL(raw string, fallback string) string {
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
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
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
		if path == "" {
			continue
		}
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
	// No env file is fine; environment variables may be set directly.
	return nil
}
