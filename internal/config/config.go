package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig                `yaml:"server" json:"server"`
	Database  DatabaseConfig              `yaml:"database" json:"database"`
	Auth      AuthConfig                  `yaml:"auth" json:"auth"`
	Security  SecurityConfig              `yaml:"security" json:"security"`
	Storage   StorageConfig               `yaml:"storage" json:"storage"`
	Logging   LoggingConfig               `yaml:"logging" json:"logging"`
	Memory    MemoryConfig                `yaml:"memory" json:"memory"`
	Java      JavaConfig                  `yaml:"java" json:"java"`
	Console   ConsoleConfig               `yaml:"console" json:"console"`
	Metrics   MetricsConfig               `yaml:"metrics" json:"metrics"`
	Backup    BackupConfig                `yaml:"backup" json:"backup"`
	Instances map[string]InstanceOverride `yaml:"instances" json:"instances"`
	Schedules []ScheduleConfig            `yaml:"schedules" json:"schedules"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// AuthConfig contains API token settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" json:"-"`
	TokenDuration string `yaml:"token_duration" json:"token_duration"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	ServersRoot string `yaml:"servers_root" json:"servers_root"`
	DataDir     string `yaml:"data_dir" json:"data_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`

	ActivityRetentionDays int `yaml:"activity_retention_days" json:"activity_retention_days"`
}

// MemoryConfig controls admission and the heap given to discovered servers.
// TotalGB of 0 means "read it from the host".
type MemoryConfig struct {
	TotalGB       int `yaml:"total_gb" json:"total_gb"`
	ReserveGB     int `yaml:"reserve_gb" json:"reserve_gb"`
	DefaultMaxGB  int `yaml:"default_max_gb" json:"default_max_gb"`
	DefaultInitGB int `yaml:"default_init_gb" json:"default_init_gb"`
}

// JavaConfig adds runtime search locations on top of the platform defaults.
type JavaConfig struct {
	ExtraHomes   []string `yaml:"extra_homes" json:"extra_homes"`
	ProbeTimeout string   `yaml:"probe_timeout" json:"probe_timeout"`
}

// ConsoleConfig contains live console and run log settings
type ConsoleConfig struct {
	HistoryLines     int      `yaml:"history_lines" json:"history_lines"`
	PollInterval     string   `yaml:"poll_interval" json:"poll_interval"`
	LogRetentionDays int      `yaml:"log_retention_days" json:"log_retention_days"`
	AllowedOrigins   []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// MetricsConfig contains memory snapshot settings
type MetricsConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	Interval      int  `yaml:"interval" json:"interval"` // seconds
	RetentionDays int  `yaml:"retention_days" json:"retention_days"`
}

// InstanceOverride replaces the default heap for one server directory.
type InstanceOverride struct {
	MaxHeapGB  int `yaml:"max_heap_gb" json:"max_heap_gb"`
	InitHeapGB int `yaml:"init_heap_gb" json:"init_heap_gb"`
}

// BackupConfig controls archives of server install directories. Include
// lists paths relative to the install; empty archives the whole install.
type BackupConfig struct {
	Enabled        bool                    `yaml:"enabled" json:"enabled"`
	Include        []string                `yaml:"include" json:"include"`
	Exclude        []string                `yaml:"exclude" json:"exclude"`
	Compression    string                  `yaml:"compression" json:"compression"`
	Level          int                     `yaml:"level" json:"level"`
	RetentionCount int                     `yaml:"retention_count" json:"retention_count"`
	SaveWait       string                  `yaml:"save_wait" json:"save_wait"`
	StagingDir     string                  `yaml:"staging_dir" json:"staging_dir"`
	Destination    BackupDestinationConfig `yaml:"destination" json:"destination"`
}

// BackupDestinationConfig selects where archives are stored: "local",
// "sftp" or "s3".
type BackupDestinationConfig struct {
	Type string `yaml:"type" json:"type"`
	Path string `yaml:"path" json:"path"`

	SFTPHost          string `yaml:"sftp_host" json:"sftp_host,omitempty"`
	SFTPPort          int    `yaml:"sftp_port" json:"sftp_port,omitempty"`
	SFTPUsername      string `yaml:"sftp_username" json:"sftp_username,omitempty"`
	SFTPPassword      string `yaml:"sftp_password" json:"-"`
	SFTPKeyPath       string `yaml:"sftp_key_path" json:"sftp_key_path,omitempty"`
	SFTPKeyPassphrase string `yaml:"sftp_key_passphrase" json:"-"`
	KnownHostsPath    string `yaml:"known_hosts_path" json:"known_hosts_path,omitempty"`
	TrustOnFirstUse   bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`

	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket,omitempty"`
	S3Region    string `yaml:"s3_region" json:"s3_region,omitempty"`
	S3AccessKey string `yaml:"s3_access_key" json:"-"`
	S3SecretKey string `yaml:"s3_secret_key" json:"-"`
	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint,omitempty"`
}

// Schedule actions.
const (
	ScheduleCommand = "command"
	ScheduleBackup  = "backup"
)

// ScheduleConfig sends a console command to a server, or backs it up, on a
// cron schedule. An empty Action means "command".
type ScheduleConfig struct {
	Name     string `yaml:"name" json:"name"`
	Server   string `yaml:"server" json:"server"`
	Cron     string `yaml:"cron" json:"cron"`
	Action   string `yaml:"action" json:"action"`
	Command  string `yaml:"command" json:"command"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// IsBackup reports whether the schedule archives the server.
func (s ScheduleConfig) IsBackup() bool {
	return strings.EqualFold(strings.TrimSpace(s.Action), ScheduleBackup)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Auth: AuthConfig{
			TokenDuration: "24h",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Storage: StorageConfig{
			ServersRoot: "./Servers",
			DataDir:     "./data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,

			ActivityRetentionDays: 90,
		},
		Memory: MemoryConfig{
			ReserveGB:     2,
			DefaultMaxGB:  4,
			DefaultInitGB: 2,
		},
		Java: JavaConfig{
			ProbeTimeout: "5s",
		},
		Console: ConsoleConfig{
			HistoryLines:     500,
			PollInterval:     "500ms",
			LogRetentionDays: 14,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Interval:      60,
			RetentionDays: 2,
		},
		Backup: BackupConfig{
			Enabled:        true,
			Exclude:        []string{"bot-logs", "logs", "cache", "session.lock"},
			Compression:    "gzip",
			Level:          6,
			RetentionCount: 10,
			SaveWait:       "5s",
			Destination: BackupDestinationConfig{
				Type:     "local",
				SFTPPort: 22,
			},
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	configPath := GetConfigPath()
	LoadEnvFile(filepath.Join(filepath.Dir(configPath), ".env"))
	return LoadFile(configPath)
}

// LoadFile reads the YAML file at configPath over the defaults, applies
// environment overrides and validates the result. A missing file is not
// an error.
func LoadFile(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Normalize storage paths based on config location
	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}
	if root := os.Getenv("SERVERS_ROOT"); root != "" {
		c.Storage.ServersRoot = root
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if key := os.Getenv("BACKUP_S3_ACCESS_KEY"); key != "" {
		c.Backup.Destination.S3AccessKey = key
	}
	if secret := os.Getenv("BACKUP_S3_SECRET_KEY"); secret != "" {
		c.Backup.Destination.S3SecretKey = secret
	}
	if password := os.Getenv("BACKUP_SFTP_PASSWORD"); password != "" {
		c.Backup.Destination.SFTPPassword = password
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"SERVER_PORT", &c.Server.Port},
		{"TOTAL_MEMORY_GB", &c.Memory.TotalGB},
		{"RESERVED_MEMORY_GB", &c.Memory.ReserveGB},
		{"DEFAULT_MAX_HEAP_GB", &c.Memory.DefaultMaxGB},
		{"DEFAULT_INIT_HEAP_GB", &c.Memory.DefaultInitGB},
	}
	for _, item := range ints {
		raw := os.Getenv(item.key)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", item.key, err)
		}
		*item.target = value
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Check for unexpanded environment variables
	if strings.HasPrefix(c.Auth.JWTSecret, "${") {
		return fmt.Errorf("JWT_SECRET contains unexpanded environment variable")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if _, err := c.TokenDuration(); err != nil {
		return err
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Storage.ServersRoot) == "" {
		return fmt.Errorf("storage.servers_root must be set")
	}

	if c.Memory.TotalGB < 0 || c.Memory.ReserveGB < 0 {
		return fmt.Errorf("memory.total_gb and memory.reserve_gb must not be negative")
	}
	if c.Memory.TotalGB > 0 && c.Memory.ReserveGB >= c.Memory.TotalGB {
		return fmt.Errorf("memory.reserve_gb must be below memory.total_gb")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"java.probe_timeout", c.Java.ProbeTimeout},
		{"console.poll_interval", c.Console.PollInterval},
		{"backup.save_wait", c.Backup.SaveWait},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	if err := c.Backup.validate(); err != nil {
		return err
	}

	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Server) == "" || strings.TrimSpace(s.Cron) == "" {
			return fmt.Errorf("schedule %d: server and cron are required", i)
		}
		switch strings.ToLower(strings.TrimSpace(s.Action)) {
		case "", ScheduleCommand:
			if strings.TrimSpace(s.Command) == "" {
				return fmt.Errorf("schedule %d: command is required", i)
			}
		case ScheduleBackup:
			if !c.Backup.Enabled {
				return fmt.Errorf("schedule %d: backups are disabled", i)
			}
		default:
			return fmt.Errorf("schedule %d: unknown action %q", i, s.Action)
		}
	}

	return nil
}

func (b BackupConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Compression)) {
	case "", "gzip", "none":
	default:
		return fmt.Errorf("backup.compression must be gzip or none")
	}
	if b.RetentionCount < 0 {
		return fmt.Errorf("backup.retention_count must not be negative")
	}

	d := b.Destination
	switch d.Type {
	case "", "local":
	case "sftp":
		if d.SFTPHost == "" || d.SFTPUsername == "" {
			return fmt.Errorf("backup.destination: sftp_host and sftp_username are required")
		}
		if d.SFTPPassword == "" && d.SFTPKeyPath == "" {
			return fmt.Errorf("backup.destination: sftp_password or sftp_key_path is required")
		}
	case "s3":
		if d.S3Bucket == "" {
			return fmt.Errorf("backup.destination: s3_bucket is required")
		}
	default:
		return fmt.Errorf("unsupported backup destination type: %s", d.Type)
	}
	return nil
}

// TokenDuration parses auth.token_duration.
func (c *Config) TokenDuration() (time.Duration, error) {
	if c.Auth.TokenDuration == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Auth.TokenDuration)
	if err != nil {
		return 0, fmt.Errorf("invalid auth.token_duration: %w", err)
	}
	return d, nil
}

// ProbeTimeout parses java.probe_timeout, defaulting to 5s.
func (c *Config) ProbeTimeout() time.Duration {
	return parseDurationOr(c.Java.ProbeTimeout, 5*time.Second)
}

// BackupSaveWait parses backup.save_wait, defaulting to 5s. It is how long
// a backup waits after asking a server to flush its world to disk.
func (c *Config) BackupSaveWait() time.Duration {
	return parseDurationOr(c.Backup.SaveWait, 5*time.Second)
}

// PollInterval parses console.poll_interval, defaulting to 500ms.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Console.PollInterval, 500*time.Millisecond)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.ServersRoot) == "" {
		c.Storage.ServersRoot = filepath.Join(rootDir, "Servers")
	}
	c.Storage.ServersRoot = resolvePath(c.Storage.ServersRoot)

	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Storage.DataDir, "mc-manager.db")
	}
	c.Database.Path = resolvePath(c.Database.Path)

	if c.Logging.File != "" {
		c.Logging.File = resolvePath(c.Logging.File)
	}

	dest := &c.Backup.Destination
	if dest.Type == "" {
		dest.Type = "local"
	}
	if dest.Type == "local" {
		if strings.TrimSpace(dest.Path) == "" {
			dest.Path = filepath.Join(c.Storage.DataDir, "backups")
		}
		dest.Path = resolvePath(dest.Path)
	}
	if dest.Type == "sftp" && strings.TrimSpace(dest.KnownHostsPath) == "" {
		dest.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
	}
	if strings.TrimSpace(c.Backup.StagingDir) == "" {
		c.Backup.StagingDir = filepath.Join(c.Storage.DataDir, "backup-staging")
	}
	c.Backup.StagingDir = resolvePath(c.Backup.StagingDir)
}

// ActivityLogDir is where daily activity JSON-lines files are written.
func (c *Config) ActivityLogDir() string {
	return filepath.Join(c.Storage.DataDir, "logs", "activity")
}
