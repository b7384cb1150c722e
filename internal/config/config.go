package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Engine   EngineConfig
	Learn    LearnConfig
	Advisor  AdvisorConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string
}

// EngineConfig holds guard thresholds and apply worker settings.
type EngineConfig struct {
	MaxMatchRatio float64
	MaxMatchCount int
	SampleLimit   int
	Workers       int
}

// LearnConfig holds suggestion miner thresholds and backup location.
type LearnConfig struct {
	MinSupport    int
	MinConfidence float64
	MaxMatchRatio float64
	BackupDir     string
}

// AdvisorConfig holds rule-drafting provider settings.
type AdvisorConfig struct {
	Provider string
	Model    string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from file and env. Env var overrides use prefix MONEYRULES_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "moneyrules", "moneyrules.db"))
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("engine.max_match_ratio", 0.5)
	v.SetDefault("engine.max_match_count", 1000)
	v.SetDefault("engine.sample_limit", 10)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("learn.min_support", 3)
	v.SetDefault("learn.min_confidence", 0.8)
	v.SetDefault("learn.max_match_ratio", 0.25)
	v.SetDefault("learn.backup_dir", filepath.Join(os.Getenv("HOME"), ".local", "share", "moneyrules", "backups"))
	v.SetDefault("advisor.provider", "heuristic")
	v.SetDefault("advisor.model", "gemini-2.0-flash")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("MONEYRULES_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "moneyrules"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MONEYRULES")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if
// needed. Used by the settings endpoint for non-sensitive preferences; API
// keys stay in env vars and are never written here.
func Save(cfg Config) error {
	path := os.Getenv("MONEYRULES_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "moneyrules", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("engine.max_match_ratio", cfg.Engine.MaxMatchRatio)
	v.Set("engine.max_match_count", cfg.Engine.MaxMatchCount)
	v.Set("engine.sample_limit", cfg.Engine.SampleLimit)
	v.Set("engine.workers", cfg.Engine.Workers)
	v.Set("learn.min_support", cfg.Learn.MinSupport)
	v.Set("learn.min_confidence", cfg.Learn.MinConfidence)
	v.Set("learn.max_match_ratio", cfg.Learn.MaxMatchRatio)
	v.Set("learn.backup_dir", cfg.Learn.BackupDir)
	v.Set("advisor.provider", cfg.Advisor.Provider)
	v.Set("advisor.model", cfg.Advisor.Model)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
