package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfigPathPrefersParentConfigs(t *testing.T) {
	root := t.TempDir()
	configsDir := filepath.Join(root, "configs")
	if err := os.MkdirAll(configsDir, 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	configPath := filepath.Join(configsDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  host: 0.0.0.0\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	backendDir := filepath.Join(root, "backend")
	if err := os.MkdirAll(backendDir, 0755); err != nil {
		t.Fatalf("failed to create backend dir: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(backendDir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	resolved := resolveConfigPath()
	if resolved != "../configs/config.yaml" {
		t.Fatalf("expected ../configs/config.yaml, got %s", resolved)
	}
}

func TestResolveConfigPathUsesLocalConfigs(t *testing.T) {
	root := t.TempDir()
	configsDir := filepath.Join(root, "configs")
	if err := os.MkdirAll(configsDir, 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	configPath := filepath.Join(configsDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  host: 0.0.0.0\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(root); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	resolved := resolveConfigPath()
	if resolved != "./configs/config.yaml" {
		t.Fatalf("expected ./configs/config.yaml, got %s", resolved)
	}
}

func TestNormalizeStoragePathsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.normalizeStoragePaths("configs/config.yaml")

	if cfg.Storage.DataDir == "" || !filepath.IsAbs(cfg.Storage.DataDir) {
		t.Fatalf("expected absolute DataDir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.ServersRoot == "" {
		t.Fatalf("expected ServersRoot to be set")
	}
	if filepath.Dir(cfg.Database.Path) != cfg.Storage.DataDir {
		t.Fatalf("expected database under DataDir, got %s", cfg.Database.Path)
	}
	if cfg.Backup.Destination.Type != "local" || cfg.Backup.Destination.Path != filepath.Join(cfg.Storage.DataDir, "backups") {
		t.Fatalf("expected local backups under DataDir, got %+v", cfg.Backup.Destination)
	}
	if filepath.Dir(cfg.Backup.StagingDir) != cfg.Storage.DataDir {
		t.Fatalf("expected staging under DataDir, got %s", cfg.Backup.StagingDir)
	}
}

func TestLoadFileAppliesYAMLAndEnv(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "configs", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	content := `
server:
  port: 9090
storage:
  servers_root: ./mc
memory:
  total_gb: 32
  reserve_gb: 4
instances:
  modded:
    max_heap_gb: 12
    init_heap_gb: 6
schedules:
  - name: autosave
    server: survival
    cron: "0 */30 * * * *"
    command: save-all
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("RESERVED_MEMORY_GB", "6")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.ServersRoot != filepath.Join(root, "mc") {
		t.Fatalf("expected servers root relative to project root, got %s", cfg.Storage.ServersRoot)
	}
	if cfg.Memory.TotalGB != 32 || cfg.Memory.ReserveGB != 6 {
		t.Fatalf("unexpected memory config: %+v", cfg.Memory)
	}
	if cfg.Memory.DefaultMaxGB != 4 || cfg.Memory.DefaultInitGB != 2 {
		t.Fatalf("expected default heap to survive partial yaml: %+v", cfg.Memory)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected LOG_LEVEL override, got %s", cfg.Logging.Level)
	}
	if cfg.Instances["modded"].MaxHeapGB != 12 {
		t.Fatalf("expected instance override, got %+v", cfg.Instances)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Command != "save-all" {
		t.Fatalf("unexpected schedules: %+v", cfg.Schedules)
	}
}

func TestLoadFileRejectsBadEnv(t *testing.T) {
	t.Setenv("TOTAL_MEMORY_GB", "lots")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for non-numeric TOTAL_MEMORY_GB")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}

	cfg.Memory.TotalGB = 8
	cfg.Memory.ReserveGB = 8
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected reserve >= total to fail")
	}

	cfg = Default()
	cfg.Auth.JWTSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected short secret to fail")
	}

	cfg = Default()
	cfg.Schedules = []ScheduleConfig{{Server: "survival", Cron: "@hourly"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected schedule without command to fail")
	}

	cfg = Default()
	cfg.Schedules = []ScheduleConfig{{Server: "survival", Cron: "@daily", Action: "backup"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected backup schedule without command to validate: %v", err)
	}
	if !cfg.Schedules[0].IsBackup() {
		t.Fatalf("expected schedule to be a backup")
	}
	cfg.Backup.Enabled = false
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected backup schedule to fail when backups are disabled")
	}

	cfg = Default()
	cfg.Schedules = []ScheduleConfig{{Server: "survival", Cron: "@daily", Action: "reboot"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown action to fail")
	}
}

func TestValidateBackupDestination(t *testing.T) {
	cases := []struct {
		name string
		dest BackupDestinationConfig
		ok   bool
	}{
		{"local", BackupDestinationConfig{Type: "local"}, true},
		{"sftp without auth", BackupDestinationConfig{Type: "sftp", SFTPHost: "nas", SFTPUsername: "mc"}, false},
		{"sftp with key", BackupDestinationConfig{Type: "sftp", SFTPHost: "nas", SFTPUsername: "mc", SFTPKeyPath: "/k"}, true},
		{"s3 without bucket", BackupDestinationConfig{Type: "s3", S3Region: "eu-west-1"}, false},
		{"s3", BackupDestinationConfig{Type: "s3", S3Bucket: "worlds"}, true},
		{"ftp", BackupDestinationConfig{Type: "ftp"}, false},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Backup.Destination = tc.dest
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: expected valid, got %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestBackupSecretsFromEnv(t *testing.T) {
	t.Setenv("BACKUP_S3_ACCESS_KEY", "AKIA")
	t.Setenv("BACKUP_S3_SECRET_KEY", "shh")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Backup.Destination.S3AccessKey != "AKIA" || cfg.Backup.Destination.S3SecretKey != "shh" {
		t.Fatalf("expected S3 credentials from env, got %+v", cfg.Backup.Destination)
	}
	if cfg.BackupSaveWait().Seconds() != 5 {
		t.Fatalf("expected default save wait of 5s, got %v", cfg.BackupSaveWait())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := Default()
	cfg.Memory.TotalGB = 48
	if err := Save(cfg, path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Memory.TotalGB != 48 {
		t.Fatalf("expected saved total_gb, got %d", loaded.Memory.TotalGB)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nexport MCSM_TEST_A=\"quoted value\"\nMCSM_TEST_B='single'\nMCSM_TEST_C=kept\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("MCSM_TEST_C", "from-env")
	t.Setenv("MCSM_TEST_A", "")
	os.Unsetenv("MCSM_TEST_A")
	t.Setenv("MCSM_TEST_B", "")
	os.Unsetenv("MCSM_TEST_B")

	LoadEnvFile(path)

	if got := os.Getenv("MCSM_TEST_A"); got != "quoted value" {
		t.Fatalf("expected quoted value, got %q", got)
	}
	if got := os.Getenv("MCSM_TEST_B"); got != "single" {
		t.Fatalf("expected single, got %q", got)
	}
	if got := os.Getenv("MCSM_TEST_C"); got != "from-env" {
		t.Fatalf("expected existing variable to win, got %q", got)
	}
}

func TestLoadEnvFileMissingOrMalformed(t *testing.T) {
	dir := t.TempDir()
	LoadEnvFile(filepath.Join(dir, "missing.env"))

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MCSM_TEST_D=set\nbad-key=value\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("MCSM_TEST_D", "")
	os.Unsetenv("MCSM_TEST_D")

	LoadEnvFile(path)
	if _, ok := os.LookupEnv("MCSM_TEST_D"); ok {
		t.Fatalf("expected a malformed file to be skipped")
	}
}
