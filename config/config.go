package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Infrastructure settings come from the environment; the playback/royalty
// knobs all have working defaults so a bare process can serve traffic.
type Config struct {
	ServerAddr string
	LogLevel   string
	LogPath    string

	// MySQL 曲目目录
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis 配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 流媒体存储
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	StreamURLTTL   time.Duration // 预签名播放地址有效期

	JWTSecret string

	// 播放会话与分账参数
	PreviewSeconds    float64       // free 档试听上限（秒）
	ValidityThreshold float64       // 有效播放的进度比例阈值
	MinValidSeconds   float64       // 有效播放的最短收听时长（秒）
	SessionTimeout    time.Duration // 无进度上报多久后判定过期
	SweepInterval     time.Duration // 过期扫描周期
	SessionRetention  time.Duration // 终态会话保留时长
	PerPlayRate       int64         // 单次有效播放基础分账（微积分单位）
	StartRateLimit    int           // 每用户每窗口允许的 startPlayback 次数
	RateLimitWindow   time.Duration
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as duration or returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPath:    getEnv("LOG_PATH", ""),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "mintfm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "mintfm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		StreamURLTTL:   getEnvDuration("STREAM_URL_TTL", 4*time.Hour),

		JWTSecret: getEnv("JWT_SECRET", "mintfm-dev-secret"),

		PreviewSeconds:    getEnvFloat("PREVIEW_SECONDS", 30),
		ValidityThreshold: getEnvFloat("VALIDITY_THRESHOLD", 0.5),
		MinValidSeconds:   getEnvFloat("MIN_VALID_SECONDS", 30),
		SessionTimeout:    getEnvDuration("SESSION_TIMEOUT", 10*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 60*time.Second),
		SessionRetention:  getEnvDuration("SESSION_RETENTION", 24*time.Hour),
		PerPlayRate:       getEnvInt64("PER_PLAY_RATE", 1000000),
		StartRateLimit:    getEnvInt("START_RATE_LIMIT", 10),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}
