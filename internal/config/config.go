package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models storecast.yml.
type Config struct {
	Platform struct {
		BaseURL        string   `yaml:"base_url"`
		Token          string   `yaml:"token,omitempty"`
		SpaceID        string   `yaml:"space_id"`
		StoreIDField   string   `yaml:"store_id_field"`
		Locales        []string `yaml:"locales"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		Retry          struct {
			MaxRetries int `yaml:"max_retries"`
			DelayMS    int `yaml:"delay_ms"`
		} `yaml:"retry"`
	} `yaml:"platform"`
	Directory struct {
		PageSize       int `yaml:"page_size"`
		PauseEveryRows int `yaml:"pause_every_rows"`
		PauseMS        int `yaml:"pause_ms"`
	} `yaml:"directory"`
	Distribution struct {
		PluginID              string `yaml:"plugin_id"`
		PlaceholderDepartment string `yaml:"placeholder_department"`
	} `yaml:"distribution"`
	Fanout struct {
		BatchSize       int `yaml:"batch_size"`
		ProjectPageSize int `yaml:"project_page_size"`
	} `yaml:"fanout"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Server struct {
		Addr        string `yaml:"addr"`
		MaxUploadMB int    `yaml:"max_upload_mb"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with storecast config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform.BaseURL) == "" {
		return fmt.Errorf("config.platform.base_url is required")
	}
	u, err := url.Parse(c.Platform.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.platform.base_url must be an absolute URL")
	}
	if strings.TrimSpace(c.Platform.SpaceID) == "" {
		return fmt.Errorf("config.platform.space_id is required")
	}
	if strings.TrimSpace(c.Platform.StoreIDField) == "" {
		return fmt.Errorf("config.platform.store_id_field is required")
	}
	// the platform wants a title per locale, and at least two of them
	if len(c.Platform.Locales) < 2 {
		return fmt.Errorf("config.platform.locales needs at least two locales")
	}
	for _, loc := range c.Platform.Locales {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("config.platform.locales contains an empty locale")
		}
	}
	if c.Platform.Retry.MaxRetries < 0 {
		return fmt.Errorf("config.platform.retry.max_retries must not be negative")
	}
	if c.Platform.Retry.DelayMS < 0 {
		return fmt.Errorf("config.platform.retry.delay_ms must not be negative")
	}
	if c.Directory.PageSize <= 0 {
		return fmt.Errorf("config.directory.page_size must be positive")
	}
	if c.Directory.PauseEveryRows < 0 || c.Directory.PauseMS < 0 {
		return fmt.Errorf("config.directory pause settings must not be negative")
	}
	if strings.TrimSpace(c.Distribution.PluginID) == "" {
		return fmt.Errorf("config.distribution.plugin_id is required")
	}
	if c.Fanout.BatchSize <= 0 {
		return fmt.Errorf("config.fanout.batch_size must be positive")
	}
	if c.Fanout.ProjectPageSize <= 0 {
		return fmt.Errorf("config.fanout.project_page_size must be positive")
	}
	if c.Server.MaxUploadMB < 0 {
		return fmt.Errorf("config.server.max_upload_mb must not be negative")
	}
	return nil
}

// RetryDelay is the fixed wait between rate-limited attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Platform.Retry.DelayMS) * time.Millisecond
}

// DirectoryPause is the pause injected every PauseEveryRows directory rows.
func (c *Config) DirectoryPause() time.Duration {
	return time.Duration(c.Directory.PauseMS) * time.Millisecond
}

// Timeout is the per-request HTTP timeout for platform calls.
func (c *Config) Timeout() time.Duration {
	if c.Platform.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Platform.TimeoutSeconds) * time.Second
}

// PlaceholderDepartment falls back to Uncategorized when unset.
func (c *Config) PlaceholderDepartment() string {
	if d := strings.TrimSpace(c.Distribution.PlaceholderDepartment); d != "" {
		return d
	}
	return "Uncategorized"
}

// JournalPath resolves the journal path against the workspace. Empty disables the journal.
func (c *Config) JournalPath(workspace string) string {
	p := strings.TrimSpace(c.Journal.Path)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "storecast.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(baseURL, spaceID string) string {
	return fmt.Sprintf(defaultTemplate, baseURL, spaceID)
}

// Default returns the default Config struct for a platform tenant.
func Default(baseURL, spaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(baseURL, spaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// tuning keys are filled from the defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("", "")
	cfg.Platform.Locales = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if len(cfg.Platform.Locales) == 0 {
		cfg.Platform.Locales = []string{"en_US", "de_DE"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `platform:
  base_url: "%s"
  space_id: "%s"
  store_id_field: storeId
  locales: [en_US, de_DE]
  timeout_seconds: 30
  retry:
    max_retries: 3
    delay_ms: 2000

directory:
  page_size: 100
  pause_every_rows: 1000
  pause_ms: 250

distribution:
  plugin_id: news
  placeholder_department: Uncategorized

fanout:
  batch_size: 5
  project_page_size: 100

journal:
  path: .storecast/journal.db

server:
  addr: 127.0.0.1:8080
  max_upload_mb: 10
`
