package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "todo.db"
	DefaultListen         = "127.0.0.1:5000"
	DefaultBaseURL        = "http://127.0.0.1:5000"
	DefaultListFormat     = "[[.Title]] ([[.Slug]])"
	DefaultItemFormat     = "[[.Description]][[if .Due]] • due [[.Due.Format \"2006-01-02\"]][[end]]"
)

type Keymap struct {
	Quit    string `toml:"quit"`
	Add     string `toml:"add"`
	Up      string `toml:"up"`
	Down    string `toml:"down"`
	Toggle  string `toml:"toggle"`
	Open    string `toml:"open"`
	Back    string `toml:"back"`
	Refresh string `toml:"refresh"`
	Confirm string `toml:"confirm"`
	Cancel  string `toml:"cancel"`
}

type ServerConfig struct {
	Listen         string `toml:"listen"`
	Secret         string `toml:"secret"`
	TokenTTLHours  int    `toml:"token_ttl_hours"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
}

type ClientConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// UIConfig row formats are text/template strings using [[ ]] delimiters.
type UIConfig struct {
	ListFormat string `toml:"list_format"`
	ItemFormat string `toml:"item_format"`
}

type Config struct {
	DBPath string       `toml:"db_path"`
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
	Log    LogConfig    `toml:"log"`
	UI     UIConfig     `toml:"ui"`
	Keys   Keymap       `toml:"keys"`
}

// ResolveConfigPath honours TODO_CONFIG, then the user config directory,
// then the working directory.
func ResolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("TODO_CONFIG")); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "esther", DefaultConfigFileName)
	}
	return DefaultConfigFileName
}

// LoadOrCreate reads the config at path, writing the defaults there first
// if the file does not exist. Environment overrides are applied last.
func LoadOrCreate(fs afero.Fs, path string) (Config, error) {
	cfg := defaultConfig(filepath.Dir(path))
	if _, err := fs.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(fs, path, cfg); err != nil {
			return cfg, err
		}
		applyEnv(&cfg)
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(path), DefaultDBName)
	}
	if cfg.UI.ListFormat == "" {
		cfg.UI.ListFormat = DefaultListFormat
	}
	if cfg.UI.ItemFormat == "" {
		cfg.UI.ItemFormat = DefaultItemFormat
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TODO_BASE_URL")); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TODO_TOKEN")); v != "" {
		cfg.Client.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TODO_SECRET")); v != "" {
		cfg.Server.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("TODO_DB_PATH")); v != "" {
		cfg.DBPath = v
	}
}

// Save writes cfg to path, creating parent directories.
func Save(fs afero.Fs, path string, cfg Config) error {
	return write(fs, path, cfg)
}

func write(fs afero.Fs, path string, cfg Config) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0o600)
}

func defaultConfig(dir string) Config {
	return Config{
		DBPath: filepath.Join(dir, DefaultDBName),
		Server: ServerConfig{
			Listen:         DefaultListen,
			TokenTTLHours:  24 * 30,
			AllowAnonymous: true,
		},
		Client: ClientConfig{
			BaseURL:        DefaultBaseURL,
			TimeoutSeconds: 10,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		UI: UIConfig{
			ListFormat: DefaultListFormat,
			ItemFormat: DefaultItemFormat,
		},
		Keys: Keymap{
			Quit:    "q",
			Add:     "a",
			Up:      "k",
			Down:    "j",
			Toggle:  " ",
			Open:    "enter",
			Back:    "backspace",
			Refresh: "r",
			Confirm: "enter",
			Cancel:  "esc",
		},
	}
}
