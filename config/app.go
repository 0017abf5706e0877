package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TaskConfig 任务生命周期参数
type TaskConfig struct {
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	LockTTL       time.Duration `yaml:"lockTtl"`
	SoftTimeLimit time.Duration `yaml:"softTimeLimit"`
	HardTimeLimit time.Duration `yaml:"hardTimeLimit"`
	Concurrency   int           `yaml:"concurrency"`
	FileWorkers   int           `yaml:"fileWorkers"`
}

// OCRConfig 识别引擎配置
type OCRConfig struct {
	Engine      string `yaml:"engine"` // tesseract | textract
	DefaultLang string `yaml:"defaultLang"`
}

// ExportConfig 导出配置
type ExportConfig struct {
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"` // local | minio | s3
	// Retention 过期清理窗口
	Retention time.Duration `yaml:"retention"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

// AppConfig 服务配置总览
type AppConfig struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Task   TaskConfig   `yaml:"task"`
	OCR    OCRConfig    `yaml:"ocr"`
	Export ExportConfig `yaml:"export"`
	Logger LoggerConfig `yaml:"logger"`
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Addr: ":8080", Mode: "release"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Task: TaskConfig{
			MaxRetries:    3,
			RetryDelay:    60 * time.Second,
			LockTTL:       time.Hour,
			SoftTimeLimit: 55 * time.Minute,
			HardTimeLimit: time.Hour,
			Concurrency:   4,
			FileWorkers:   4,
		},
		OCR:    OCRConfig{Engine: "tesseract", DefaultLang: "ch"},
		Export: ExportConfig{Dir: "exports", Backend: "local", Retention: 7 * 24 * time.Hour},
		Logger: LoggerConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
	}
}

// GetAppConfig loads the YAML file named by OCR_CONFIG_FILE (if any), then
// lets environment variables override individual fields.
func GetAppConfig() *AppConfig {
	appOnce.Do(func() {
		loadEnv()
		cfg := defaultAppConfig()

		if path := os.Getenv("OCR_CONFIG_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				panic(fmt.Sprintf("read config file %s: %v", path, err))
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				panic(fmt.Sprintf("parse config file %s: %v", path, err))
			}
		}

		cfg.Server.Addr = getEnv("SERVER_ADDR", cfg.Server.Addr)
		cfg.Server.Mode = getEnv("GIN_MODE", cfg.Server.Mode)

		cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
		cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
		cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

		cfg.Task.MaxRetries = getEnvInt("TASK_MAX_RETRIES", cfg.Task.MaxRetries)
		cfg.Task.RetryDelay = getEnvDuration("TASK_RETRY_DELAY", cfg.Task.RetryDelay)
		cfg.Task.LockTTL = getEnvDuration("TASK_LOCK_TTL", cfg.Task.LockTTL)
		cfg.Task.SoftTimeLimit = getEnvDuration("TASK_SOFT_TIME_LIMIT", cfg.Task.SoftTimeLimit)
		cfg.Task.HardTimeLimit = getEnvDuration("TASK_HARD_TIME_LIMIT", cfg.Task.HardTimeLimit)
		cfg.Task.Concurrency = getEnvInt("WORKER_CONCURRENCY", cfg.Task.Concurrency)
		cfg.Task.FileWorkers = getEnvInt("FILE_WORKERS", cfg.Task.FileWorkers)

		cfg.OCR.Engine = getEnv("OCR_ENGINE", cfg.OCR.Engine)
		cfg.OCR.DefaultLang = getEnv("OCR_DEFAULT_LANG", cfg.OCR.DefaultLang)

		cfg.Export.Dir = getEnv("EXPORT_DIR", cfg.Export.Dir)
		cfg.Export.Backend = getEnv("EXPORT_BACKEND", cfg.Export.Backend)
		cfg.Export.Retention = getEnvDuration("EXPORT_RETENTION", cfg.Export.Retention)

		cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)
		cfg.Logger.Encoding = getEnv("LOG_ENCODING", cfg.Logger.Encoding)

		appConfig = cfg
	})
	return appConfig
}
