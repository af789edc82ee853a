package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	AppEnv string
	Port   string

	JWTSecret string

	DatabaseURL string

	// DevUserID seeds the in-memory user store when no database is configured.
	DevUserID   string
	DevUserPlan string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	UploadDir           string
	OutputDir           string
	MaxUploadBytes      int64
	DeleteAfterDownload bool

	WorkerConcurrency int
	QueueCapacity     int

	Retention       time.Duration
	JanitorInterval time.Duration

	MagickBinary      string
	MagickInitTimeout time.Duration
	MagickExecTimeout time.Duration

	RemoteConverterURL         string
	RemoteConverterInitTimeout time.Duration
	RemoteConverterTimeout     time.Duration
	RemoteConverterMaxRetries  int
	RemoteConverterRetryDelay  time.Duration

	MinOutputBytes int64
}

// Load reads .env and .env.local when present; variables already set in
// the process environment keep precedence.
func Load() Config {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	return Config{
		AppEnv: getEnv("APP_ENV", "production"),
		Port:   getEnv("PORT", "5000"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		DevUserID:   getEnv("DEV_USER_ID", ""),
		DevUserPlan: getEnv("DEV_USER_PLAN", "free"),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "job:"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),

		UploadDir:           getEnv("UPLOAD_DIR", "uploads"),
		OutputDir:           getEnv("OUTPUT_DIR", "outputs"),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 100<<20)),
		DeleteAfterDownload: getEnvBool("DELETE_AFTER_DOWNLOAD", false),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		QueueCapacity:     getEnvInt("QUEUE_CAPACITY", 128),

		Retention:       getEnvMinutes("RETENTION_MINUTES", 30),
		JanitorInterval: getEnvMinutes("JANITOR_INTERVAL_MINUTES", 30),

		MagickBinary:      getEnv("MAGICK_BINARY", "magick"),
		MagickInitTimeout: getEnvSeconds("MAGICK_INIT_TIMEOUT_SECONDS", 10),
		MagickExecTimeout: getEnvSeconds("MAGICK_EXEC_TIMEOUT_SECONDS", 180),

		RemoteConverterURL:         getEnv("REMOTE_CONVERTER_URL", ""),
		RemoteConverterInitTimeout: getEnvSeconds("REMOTE_CONVERTER_INIT_TIMEOUT_SECONDS", 10),
		RemoteConverterTimeout:     getEnvSeconds("REMOTE_CONVERTER_TIMEOUT_SECONDS", 120),
		RemoteConverterMaxRetries:  getEnvInt("REMOTE_CONVERTER_MAX_RETRIES", 3),
		RemoteConverterRetryDelay:  getEnvSeconds("REMOTE_CONVERTER_RETRY_DELAY_SECONDS", 2),

		MinOutputBytes: int64(getEnvInt("MIN_OUTPUT_BYTES", 1024)),
	}
}

func (c Config) Development() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvMinutes(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Minute
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
