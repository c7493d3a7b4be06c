package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrPanicEnvNotSet      = errors.New("environment variable not set")
	ErrPanicEnvNotInt      = errors.New("environment variable is not an integer")
	ErrPanicEnvNotBool     = errors.New("environment variable is not a boolean")
	ErrPanicEnvNotDuration = errors.New("environment variable is not a duration")
)

const (
	EnvServerPort       = "VT_SERVER_PORT"
	EnvDatabaseHost     = "VT_DB_HOST"
	EnvDatabasePort     = "VT_DB_PORT"
	EnvDatabaseUser     = "VT_DB_USER"
	EnvDatabasePassword = "VT_DB_PASSWORD"
	EnvDatabaseName     = "VT_DB_NAME"

	EnvStorageDir   = "VT_STORAGE_DIR"
	EnvS3Bucket     = "VT_S3_BUCKET"
	EnvS3Region     = "VT_S3_REGION"
	EnvS3Endpoint   = "VT_S3_ENDPOINT"
	EnvS3AccessKey  = "VT_S3_ACCESS_KEY"
	EnvS3SecretKey  = "VT_S3_SECRET_KEY"
	EnvWorkDir      = "VT_WORK_DIR"
	EnvConcurrency  = "VT_WORKER_CONCURRENCY"
	EnvDeleteOutput = "VT_DELETE_AFTER_UPLOAD"
	EnvDeleteSource = "VT_DELETE_SOURCE_AFTER_UPLOAD"
	EnvFFmpegPath   = "VT_FFMPEG_PATH"
	EnvFFprobePath  = "VT_FFPROBE_PATH"
	EnvLadderFile   = "VT_LADDER_FILE"
	EnvRedisAddr    = "VT_REDIS_ADDR"
	EnvMetricsPort  = "VT_METRICS_PORT"

	EnvRetryMaxAttempts = "VT_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay   = "VT_RETRY_BASE_DELAY"
	EnvRetryMaxDelay    = "VT_RETRY_MAX_DELAY"

	EnvLogLevel  = "VT_LOG_LEVEL"
	EnvLogFormat = "VT_LOG_FORMAT"
)

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	Port     int
	Database *DatabaseConfig
	Retry    *RetryConfig
	Log      *LogConfig
}

// WorkerConfig contains configuration for the worker.
type WorkerConfig struct {
	Database *DatabaseConfig
	Storage  *StorageConfig
	Retry    *RetryConfig
	Log      *LogConfig

	WorkDir     string
	Concurrency int
	// DeleteAfterUpload removes the local output tree after a verified upload.
	DeleteAfterUpload       bool
	DeleteSourceAfterUpload bool
	FFmpegPath              string
	FFprobePath             string
	LadderFile              string
	RedisAddr               string
	MetricsPort             int
}

// CtlConfig contains configuration for the vtctl command line tool.
type CtlConfig struct {
	Database *DatabaseConfig
	Retry    *RetryConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// StorageConfig selects the object store. Dir takes precedence over S3.
type StorageConfig struct {
	Dir       string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadDotEnv loads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func mustGetenv(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrPanicEnvNotSet, key))
	}
	return value
}

func mustGetenvAtoi(key string) int {
	valueStr := mustGetenv(key)
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		panic(fmt.Errorf("%w: %q", ErrPanicEnvNotInt, key))
	}
	return value
}

func getenvDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvAtoiDefault(key string, fallback int) int {
	if _, ok := os.LookupEnv(key); !ok {
		return fallback
	}
	return mustGetenvAtoi(key)
}

func getenvBoolDefault(key string, fallback bool) bool {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		panic(fmt.Errorf("%w: %q", ErrPanicEnvNotBool, key))
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		panic(fmt.Errorf("%w: %q", ErrPanicEnvNotDuration, key))
	}
	return value
}

func databaseConfigFromEnv() *DatabaseConfig {
	return &DatabaseConfig{
		Host:     mustGetenv(EnvDatabaseHost),
		Port:     mustGetenvAtoi(EnvDatabasePort),
		User:     mustGetenv(EnvDatabaseUser),
		Password: mustGetenv(EnvDatabasePassword),
		Name:     mustGetenv(EnvDatabaseName),
	}
}

func retryConfigFromEnv() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: getenvAtoiDefault(EnvRetryMaxAttempts, 5),
		BaseDelay:   getenvDurationDefault(EnvRetryBaseDelay, 30*time.Second),
		MaxDelay:    getenvDurationDefault(EnvRetryMaxDelay, 30*time.Minute),
	}
}

func logConfigFromEnv() *LogConfig {
	return &LogConfig{
		Level:  getenvDefault(EnvLogLevel, "info"),
		Format: getenvDefault(EnvLogFormat, "json"),
	}
}

// storageConfigFromEnv requires either VT_STORAGE_DIR or VT_S3_BUCKET.
func storageConfigFromEnv() *StorageConfig {
	cfg := &StorageConfig{
		Dir:       os.Getenv(EnvStorageDir),
		Region:    getenvDefault(EnvS3Region, "us-east-1"),
		Endpoint:  os.Getenv(EnvS3Endpoint),
		AccessKey: os.Getenv(EnvS3AccessKey),
		SecretKey: os.Getenv(EnvS3SecretKey),
	}
	if cfg.Dir == "" {
		cfg.Bucket = mustGetenv(EnvS3Bucket)
	}
	return cfg
}

func NewServerConfigFromEnv() *ServerConfig {
	return &ServerConfig{
		Port:     mustGetenvAtoi(EnvServerPort),
		Database: databaseConfigFromEnv(),
		Retry:    retryConfigFromEnv(),
		Log:      logConfigFromEnv(),
	}
}

func NewWorkerConfigFromEnv() *WorkerConfig {
	return &WorkerConfig{
		Database:                databaseConfigFromEnv(),
		Storage:                 storageConfigFromEnv(),
		Retry:                   retryConfigFromEnv(),
		Log:                     logConfigFromEnv(),
		WorkDir:                 getenvDefault(EnvWorkDir, "/tmp/vt"),
		Concurrency:             getenvAtoiDefault(EnvConcurrency, 1),
		DeleteAfterUpload:       getenvBoolDefault(EnvDeleteOutput, true),
		DeleteSourceAfterUpload: getenvBoolDefault(EnvDeleteSource, false),
		FFmpegPath:              getenvDefault(EnvFFmpegPath, "ffmpeg"),
		FFprobePath:             getenvDefault(EnvFFprobePath, "ffprobe"),
		LadderFile:              os.Getenv(EnvLadderFile),
		RedisAddr:               os.Getenv(EnvRedisAddr),
		MetricsPort:             getenvAtoiDefault(EnvMetricsPort, 0),
	}
}

func NewCtlConfigFromEnv() *CtlConfig {
	return &CtlConfig{
		Database: databaseConfigFromEnv(),
		Retry:    retryConfigFromEnv(),
	}
}
