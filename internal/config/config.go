package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxUploadBytes caps a single uploaded file at 50 MiB.
	DefaultMaxUploadBytes = 50 << 20
	defaultUploadDir      = "uploads"
	defaultServerAddress  = ":8090"
	defaultGeminiModel    = "gemini-2.5-flash"

	geminiAPIKeyEnv = "GOOGLE_GENERATIVE_AI_API_KEY"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server       ServerConfig              `json:"server" yaml:"server" toml:"server"`
	Databases    map[string]DatabaseConfig `json:"databases" yaml:"databases" toml:"databases"`
	Redis        RedisConfig               `json:"redis" yaml:"redis" toml:"redis"`
	Upload       UploadConfig              `json:"upload" yaml:"upload" toml:"upload"`
	ContentStore ContentStoreConfig        `json:"content_store" yaml:"content_store" toml:"content_store"`
	Model        ModelConfig               `json:"model" yaml:"model" toml:"model"`
	Log          LogConfig                 `json:"log" yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Address     string   `json:"address" yaml:"address" toml:"address"`
	Mode        string   `json:"mode" yaml:"mode" toml:"mode"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	// TokenTTLHours is the default lifetime of issued access tokens.
	TokenTTLHours int `json:"token_ttl_hours" yaml:"token_ttl_hours" toml:"token_ttl_hours"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" toml:"dsn"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DBName   string `json:"dbname" yaml:"dbname" toml:"dbname"`
	Params   string `json:"params" yaml:"params" toml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
}

type UploadConfig struct {
	Dir                  string `json:"dir" yaml:"dir" toml:"dir"`
	MaxBytes             int64  `json:"max_bytes" yaml:"max_bytes" toml:"max_bytes"`
	OrphanTTLMinutes     int    `json:"orphan_ttl_minutes" yaml:"orphan_ttl_minutes" toml:"orphan_ttl_minutes"`
	SweepIntervalMinutes int    `json:"sweep_interval_minutes" yaml:"sweep_interval_minutes" toml:"sweep_interval_minutes"`
}

// ContentStoreConfig selects where finished uploads are handed off.
// Kind is one of "gemini", "gcs" or "local".
type ContentStoreConfig struct {
	Kind            string `json:"kind" yaml:"kind" toml:"kind"`
	APIKey          string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix" toml:"prefix"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file" toml:"credentials_file"`
}

// ModelConfig selects the chat model provider: "gemini", "openai" or "claude".
type ModelConfig struct {
	Provider       string `json:"provider" yaml:"provider" toml:"provider"`
	Model          string `json:"model" yaml:"model" toml:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key" toml:"api_key"`
	SystemPrompt   string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	MaxTokens      int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

type LogConfig struct {
	Mode  string `json:"mode" yaml:"mode" toml:"mode"`
	Level string `json:"level" yaml:"level" toml:"level"`
}

// Load reads configuration from the provided path (defaults to config.json).
// The decoder is picked from the file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	case ".toml":
		_, err = toml.Decode(string(raw), &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultServerAddress
	}
	if c.Server.TokenTTLHours <= 0 {
		c.Server.TokenTTLHours = 24
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = defaultUploadDir
	}
	if c.Upload.MaxBytes <= 0 {
		c.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Upload.OrphanTTLMinutes <= 0 {
		c.Upload.OrphanTTLMinutes = 24 * 60
	}
	if c.Upload.SweepIntervalMinutes <= 0 {
		c.Upload.SweepIntervalMinutes = 60
	}
	if c.ContentStore.Kind == "" {
		c.ContentStore.Kind = "gemini"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "gemini"
	}
	if c.Model.Model == "" && c.Model.Provider == "gemini" {
		c.Model.Model = defaultGeminiModel
	}
	if c.Model.TimeoutSeconds <= 0 {
		c.Model.TimeoutSeconds = 120
	}
	if key := strings.TrimSpace(os.Getenv(geminiAPIKeyEnv)); key != "" {
		if c.ContentStore.APIKey == "" && c.ContentStore.Kind == "gemini" {
			c.ContentStore.APIKey = key
		}
		if c.Model.APIKey == "" && c.Model.Provider == "gemini" {
			c.Model.APIKey = key
		}
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// resolvePaths makes relative file locations relative to the config file.
func (c *Config) resolvePaths(base string) {
	if !filepath.IsAbs(c.Upload.Dir) {
		c.Upload.Dir = filepath.Join(base, c.Upload.Dir)
	}
	if c.ContentStore.CredentialsFile != "" && !filepath.IsAbs(c.ContentStore.CredentialsFile) {
		c.ContentStore.CredentialsFile = filepath.Join(base, c.ContentStore.CredentialsFile)
	}
	for name, db := range c.Databases {
		if !isSQLite(name) || db.DSN == "" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(base, db.DSN)
			c.Databases[name] = db
		}
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	default:
		return false
	}
}
