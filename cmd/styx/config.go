package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jrhy/styx"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	backendMapped = "mapped"
	backendFile   = "file"
	backendS3     = "s3"

	DefaultRegionSize = 64 << 20
)

// Config selects and tunes the backend. It is read from a YAML file and
// then overridden by any flag or STYX_* variable that is set.
type Config struct {
	Backend    string        `yaml:"backend"`
	Path       string        `yaml:"path"`
	RegionSize int64         `yaml:"region_size"`
	Poll       time.Duration `yaml:"poll_interval"`
	Serializer string        `yaml:"serializer"`
	LogLevel   string        `yaml:"log_level"`
	S3         S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
}

func defaultConfig() Config {
	return Config{
		Backend:    backendFile,
		RegionSize: DefaultRegionSize,
		LogLevel:   "warn",
	}
}

// parseConfig lays YAML over the defaults. Validation waits until the
// overrides are applied.
func parseConfig(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Backend {
	case backendMapped, backendFile:
		if cfg.Path == "" {
			return fmt.Errorf("backend %s needs a path", cfg.Backend)
		}
	case backendS3:
		if cfg.S3.Bucket == "" || cfg.S3.Key == "" {
			return fmt.Errorf("backend s3 needs a bucket and key")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if _, err := cfg.serializer(); err != nil {
		return err
	}
	if cfg.RegionSize <= 0 {
		return fmt.Errorf("region size must be positive, got %d", cfg.RegionSize)
	}
	return nil
}

// serializer returns nil when the backend's own default applies: text for
// files and objects, proto for blobs in a mapped region.
func (cfg Config) serializer() (styx.Serializer, error) {
	switch cfg.Serializer {
	case "":
		return nil, nil
	case "text":
		return styx.TextSerializer{}, nil
	case "proto":
		return styx.ProtoSerializer{}, nil
	}
	return nil, fmt.Errorf("unknown serializer %q", cfg.Serializer)
}

var configFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML config file",
		EnvVars: []string{"STYX_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "backend",
		Aliases: []string{"b"},
		Usage:   "mapped, file or s3",
		EnvVars: []string{"STYX_BACKEND"},
	},
	&cli.StringFlag{
		Name:    "path",
		Aliases: []string{"p"},
		Usage:   "region file (mapped) or value file (file)",
		EnvVars: []string{"STYX_PATH"},
	},
	&cli.Int64Flag{
		Name:    "region-size",
		Usage:   "size in bytes of a new mapped region",
		EnvVars: []string{"STYX_REGION_SIZE"},
	},
	&cli.DurationFlag{
		Name:    "poll",
		Usage:   "monitor poll interval",
		EnvVars: []string{"STYX_POLL_INTERVAL"},
	},
	&cli.StringFlag{
		Name:    "serializer",
		Usage:   "text or proto",
		EnvVars: []string{"STYX_SERIALIZER"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "debug, info, warn, error or off",
		EnvVars: []string{"STYX_LOG_LEVEL"},
	},
	&cli.StringFlag{Name: "s3-bucket", EnvVars: []string{"STYX_S3_BUCKET"}},
	&cli.StringFlag{Name: "s3-key", EnvVars: []string{"STYX_S3_KEY"}},
	&cli.StringFlag{Name: "s3-endpoint", EnvVars: []string{"STYX_S3_ENDPOINT"}},
	&cli.StringFlag{Name: "s3-region", EnvVars: []string{"STYX_S3_REGION"}},
}

func loadConfig(c *cli.Context) (Config, error) {
	cfg := defaultConfig()
	if path := c.String("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = parseConfig(data); err != nil {
			return Config{}, err
		}
	}
	override := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	override("backend", &cfg.Backend)
	override("path", &cfg.Path)
	override("serializer", &cfg.Serializer)
	override("log-level", &cfg.LogLevel)
	override("s3-bucket", &cfg.S3.Bucket)
	override("s3-key", &cfg.S3.Key)
	override("s3-endpoint", &cfg.S3.Endpoint)
	override("s3-region", &cfg.S3.Region)
	if c.IsSet("region-size") {
		cfg.RegionSize = c.Int64("region-size")
	}
	if c.IsSet("poll") {
		cfg.Poll = c.Duration("poll")
	}
	return cfg, cfg.validate()
}
