package daemon

import (
	"os"

	vfs "github.com/govfsd/vfsd/fs"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's on-disk configuration.
type Config struct {
	// Listen is the unix socket path the broker serves on.
	Listen string `yaml:"listen"`
	// Workers sizes the dispatch queue's worker pool.
	Workers int `yaml:"workers"`
	// MountCacheSize bounds how many resolved mounts the registry keeps.
	MountCacheSize int `yaml:"mount_cache_size"`
	// LogLevel is one of logrus's level names ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:         "/run/vfsd/vfsd.sock",
		Workers:        8,
		MountCacheSize: 64,
		LogLevel:       "info",
	}
}

// LoadConfig reads path as YAML over the defaults. Keys absent from
// the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, vfs.New(vfs.KindNotFound, "daemon: cannot read config file "+path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, vfs.New(vfs.KindInvalidArgument, "daemon: malformed config file "+path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Listen == "" {
		return vfs.Errorf(vfs.KindInvalidArgument, "daemon: listen path must not be empty")
	}
	if c.Workers < 1 {
		return vfs.Errorf(vfs.KindInvalidArgument, "daemon: workers must be at least 1, got %d", c.Workers)
	}
	if c.MountCacheSize < 1 {
		return vfs.Errorf(vfs.KindInvalidArgument, "daemon: mount_cache_size must be at least 1, got %d", c.MountCacheSize)
	}
	return nil
}
