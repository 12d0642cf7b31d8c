package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const envPrefix = "KURA_"

// Config holds all of the runtime configuration. Values are loaded from an
// optional YAML config file and can be overridden with KURA_-prefixed
// environment variables (e.g. KURA_SERVER_PORT=8080).
type Config struct {
	DataDir      string `koanf:"data_dir" default:"./data"`
	StagingDir   string `koanf:"staging_dir"`
	LibraryDir   string `koanf:"library_dir"`
	ThumbnailDir string `koanf:"thumbnail_dir"`

	DatabaseFilePath          string        `koanf:"database_file_path"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"8787"`

	ScanInterval     time.Duration `koanf:"scan_interval" default:"1m"`
	ThumbnailHeight  int           `koanf:"thumbnail_height" default:"400"`
	ThumbnailTimeout time.Duration `koanf:"thumbnail_timeout" default:"15s"`
}

// New loads the configuration. The config file path is taken from
// KURA_CONFIG_FILE, falling back to ./kura.yaml if it exists.
func New() (*Config, error) {
	path := os.Getenv(envPrefix + "CONFIG_FILE")
	if path == "" {
		path = "kura.yaml"
	}
	return Load(path)
}

// Load reads the config file at path (if present) and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file: %s", path)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.WithStack(err)
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	cfg.fillDerived()
	return cfg, nil
}

// fillDerived computes the directory layout that wasn't set explicitly.
// Everything hangs off DataDir by default, matching the on-disk layout
// operators see: staging/ for uploads, library/ for the canonical tree,
// thumbnails/ for derived images.
func (cfg *Config) fillDerived() {
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(cfg.DataDir, "staging")
	}
	if cfg.LibraryDir == "" {
		cfg.LibraryDir = filepath.Join(cfg.DataDir, "library")
	}
	if cfg.ThumbnailDir == "" {
		cfg.ThumbnailDir = filepath.Join(cfg.DataDir, "thumbnails")
	}
	if cfg.DatabaseFilePath == "" {
		cfg.DatabaseFilePath = filepath.Join(cfg.DataDir, "kura.sqlite")
	}
}

// EnsureDirectories creates the data directories if they don't exist and
// verifies they're writable.
func (cfg *Config) EnsureDirectories() error {
	for _, dir := range []string{cfg.DataDir, cfg.StagingDir, cfg.LibraryDir, cfg.ThumbnailDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	}

	testFile := filepath.Join(cfg.DataDir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "data directory is not writable: %s", cfg.DataDir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
