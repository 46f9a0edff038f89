// Package config loads skillsmith settings from flags, SKILLSMITH_* environment
// variables and an optional config.yaml, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/enhance"
	"github.com/jingkaihe/skillsmith/pkg/pipeline"
	"github.com/jingkaihe/skillsmith/pkg/router"
	"github.com/jingkaihe/skillsmith/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SKILLSMITH_BACKEND_MODEL.
const EnvPrefix = "SKILLSMITH"

// RouterConfig tunes query routing.
type RouterConfig struct {
	// Provider and Model pick a routing backend distinct from the
	// enhancement backend. Empty values inherit from Config.Backend.
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`

	router.PrefilterConfig `mapstructure:",squash"`

	MaxSelections int               `mapstructure:"max_selections"`
	CacheTTL      time.Duration     `mapstructure:"cache_ttl"`
	Retry         router.RetryConfig `mapstructure:"retry"`
}

// ServerConfig configures the HTTP routing API.
type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Watch bool   `mapstructure:"watch"`
}

// Config is the complete skillsmith configuration.
type Config struct {
	WorkspaceDir string `mapstructure:"workspace_dir"`
	SkillsDir    string `mapstructure:"skills_dir"`
	// DBPath is the run registry database. Empty means db.DefaultDBPath.
	DBPath    string `mapstructure:"db_path"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Ingest  pipeline.Config  `mapstructure:"ingest"`
	Enhance enhance.Config   `mapstructure:"enhance"`
	Backend backend.Config   `mapstructure:"backend"`
	Router  RouterConfig     `mapstructure:"router"`
	Tracing telemetry.Config `mapstructure:"tracing"`
	Server  ServerConfig     `mapstructure:"server"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		WorkspaceDir: "~/.skillsmith/workspace",
		SkillsDir:    "~/.skillsmith/skills",
		LogLevel:     "info",
		LogFormat:    "fmt",
		Ingest:       pipeline.NewConfig(),
		Enhance:      enhance.NewConfig(),
		Backend:      backend.NewConfig(),
		Router: RouterConfig{
			PrefilterConfig: router.NewPrefilterConfig(),
			MaxSelections:   router.DefaultMaxSelections,
			CacheTTL:        24 * time.Hour,
			Retry:           router.NewRetryConfig(),
		},
		Tracing: telemetry.Config{Sampler: "always", Ratio: 1},
		Server:  ServerConfig{Addr: "127.0.0.1:8080", Watch: true},
	}
}

// SetDefaults registers every default with v so that environment variables
// and config file entries are recognised for all keys.
func SetDefaults(v *viper.Viper) error {
	var flat map[string]any
	if err := mapstructure.Decode(Default(), &flat); err != nil {
		return errors.Wrap(err, "failed to flatten defaults")
	}
	setNested(v, "", flat)
	return nil
}

func setNested(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setNested(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// New returns a viper instance reading SKILLSMITH_* variables and, when
// present, config.yaml from ~/.skillsmith or the working directory.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.skillsmith")
	v.AddConfigPath(".")

	if err := SetDefaults(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}
	return v, nil
}

// Load decodes the settings held by v into a Config.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return cfg, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return cfg, errors.Wrap(err, "failed to decode configuration")
	}

	for _, p := range []*string{&cfg.WorkspaceDir, &cfg.SkillsDir, &cfg.DBPath, &cfg.Ingest.TaxonomyFile} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return cfg, err
		}
		*p = expanded
	}
	cfg.Ingest.WorkspaceDir = cfg.WorkspaceDir
	cfg.Ingest.SkillsDir = cfg.SkillsDir

	return cfg, cfg.Validate()
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch {
	case c.WorkspaceDir == "":
		return errors.New("workspace_dir must be set")
	case c.SkillsDir == "":
		return errors.New("skills_dir must be set")
	case c.Ingest.MaxChunkSize <= 0:
		return errors.Errorf("ingest.max_chunk_size must be positive, got %d", c.Ingest.MaxChunkSize)
	case c.Ingest.PageLimit < 0:
		return errors.Errorf("ingest.page_limit must not be negative, got %d", c.Ingest.PageLimit)
	case c.Router.FloorRatio < 0 || c.Router.FloorRatio > 1:
		return errors.Errorf("router.floor_ratio must be within [0, 1], got %v", c.Router.FloorRatio)
	case c.Router.CacheTTL < 0:
		return errors.New("router.cache_ttl must not be negative")
	}
	return nil
}

// RouterBackend is the backend configuration used for routing queries.
func (c Config) RouterBackend() backend.Config {
	b := c.Backend
	if c.Router.Provider != "" && c.Router.Provider != b.Provider {
		b.Provider = c.Router.Provider
		b.Model = ""
	}
	if c.Router.Model != "" {
		b.Model = c.Router.Model
	}
	return b
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
