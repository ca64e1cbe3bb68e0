package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"partnerqueue/internal/models"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Tenants      []models.Tenant    `yaml:"tenants"`
	PartnerQueue PartnerQueueConfig `yaml:"partner_queue"`
	API          APIConfig          `yaml:"api"`
	Redis        RedisConfig        `yaml:"redis"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Exports      ExportConfig       `yaml:"exports"`
	Backup       BackupConfig       `yaml:"backup"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	Timezone    string `yaml:"timezone"`
}

type DatabaseConfig struct {
	MasterPath string `yaml:"master_path"`
	TenantsDir string `yaml:"tenants_dir"`
}

// PartnerQueueConfig holds the global queue defaults. Tenants may override parts of it.
type PartnerQueueConfig struct {
	EnableQueueMode        bool   `yaml:"enable_queue_mode"`
	UseMiddleware          bool   `yaml:"use_middleware"`
	DefaultPartner         string `yaml:"default_partner"`
	EnableBackgroundWorker bool   `yaml:"enable_background_worker"`
	WorkerIntervalSeconds  int    `yaml:"worker_interval_seconds"`
	WorkerBatchSize        int    `yaml:"worker_batch_size"`
	Workers                int    `yaml:"workers"`
	AllTenants             *bool  `yaml:"all_tenants"`
}

// WorkerInterval is the background round period.
func (c PartnerQueueConfig) WorkerInterval() time.Duration {
	return time.Duration(c.WorkerIntervalSeconds) * time.Second
}

// SweepAllTenants reports whether background rounds cover every tenant.
func (c PartnerQueueConfig) SweepAllTenants() bool {
	return c.AllTenants == nil || *c.AllTenants
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	MaxRows int `yaml:"max_rows"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RedisConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Address         string `yaml:"address"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	PoolSize        int    `yaml:"pool_size"`
	KeyPrefix       string `yaml:"key_prefix"`
	DeadLetterLimit int64  `yaml:"dead_letter_limit"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.MasterPath == "" {
		return errors.New("database master_path is required")
	}
	if c.Database.TenantsDir == "" {
		return errors.New("database tenants_dir is required")
	}
	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			return fmt.Errorf("invalid app timezone %q: %w", c.App.Timezone, err)
		}
	}
	if c.PartnerQueue.WorkerIntervalSeconds < models.MinWorkerIntervalSeconds {
		return fmt.Errorf("partner_queue.worker_interval_seconds must be at least %d", models.MinWorkerIntervalSeconds)
	}
	if c.PartnerQueue.WorkerBatchSize < 1 {
		return errors.New("partner_queue.worker_batch_size must be at least 1")
	}

	return ValidateTenants(c.Tenants)
}

func ValidateTenants(tenants []models.Tenant) error {
	ids := make(map[int64]bool)
	codes := make(map[string]bool)
	for _, t := range tenants {
		if t.ID == 0 {
			return fmt.Errorf("tenant '%s' has invalid ID 0", t.Code)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate tenant ID found: %d", t.ID)
		}
		ids[t.ID] = true

		code := strings.ToLower(strings.TrimSpace(t.Code))
		if code == "" {
			return fmt.Errorf("tenant %d has empty code", t.ID)
		}
		if codes[code] {
			return fmt.Errorf("duplicate tenant code found: %s", t.Code)
		}
		codes[code] = true

		if strings.TrimSpace(t.DatabaseName) == "" {
			return fmt.Errorf("tenant '%s' has no database_name", t.Code)
		}
		if t.Timezone != "" {
			if _, err := time.LoadLocation(t.Timezone); err != nil {
				return fmt.Errorf("tenant '%s' has invalid timezone %q: %w", t.Code, t.Timezone, err)
			}
		}
		if t.WorkerBatchSize != nil && *t.WorkerBatchSize < 1 {
			return fmt.Errorf("tenant '%s' queue_worker_batch_size must be at least 1", t.Code)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "partnerqueue"
	}
	if c.Database.MasterPath == "" {
		c.Database.MasterPath = "data/master.db"
	}
	if c.Database.TenantsDir == "" {
		c.Database.TenantsDir = "data/tenants"
	}

	q := &c.PartnerQueue
	if strings.TrimSpace(q.DefaultPartner) == "" {
		q.DefaultPartner = models.DefaultPartner
	}
	if q.WorkerIntervalSeconds == 0 {
		q.WorkerIntervalSeconds = models.DefaultWorkerIntervalSeconds
	}
	if q.WorkerBatchSize == 0 {
		q.WorkerBatchSize = models.DefaultBatchSize
	}
	if q.Workers <= 0 {
		q.Workers = 1
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS > 0 && c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = int(c.API.RateLimit.RPS)
		if c.API.RateLimit.Burst < 1 {
			c.API.RateLimit.Burst = 1
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "partnerqueue"
	}
	if c.Redis.DeadLetterLimit == 0 {
		c.Redis.DeadLetterLimit = 1000
	}

	if c.Exports.MaxRows <= 0 || c.Exports.MaxRows > models.MaxExportRows {
		c.Exports.MaxRows = models.MaxExportRows
	}
}
