// Package config loads jex settings from the config file, JEX_* environment
// variables and command-line flags through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys used in the config file and as JEX_<KEY> environment variables
// (dots become underscores).
const (
	KeyJiraURL      = "jira.url"
	KeyJiraEmail    = "jira.email"
	KeyJiraToken    = "jira.token"
	KeyJiraCloud    = "jira.cloud"
	KeyPageSize     = "export.page_size"
	KeyWorkDir      = "export.work_dir"
	KeyDateFormat   = "export.date_format"
	KeyFlushTimeout = "export.flush_timeout"
	KeyCacheFile    = "cache.file"
	KeyCacheDays    = "cache.days"
	KeyWorkers      = "workers"
	KeyLogLevel     = "log.level"
	KeyLogConsole   = "log.console"
)

// DefaultDateFormat is the layout Jira uses for dates in CSV exports.
const DefaultDateFormat = "02/Jan/06 3:04 PM"

// Config is the resolved configuration for one jex invocation.
type Config struct {
	JiraURL      string
	JiraEmail    string
	JiraToken    string
	Cloud        bool
	PageSize     int
	WorkDir      string
	DateFormat   string
	FlushTimeout time.Duration // Upper bound on the JSON build; zero waits for every lookup
	CacheFile    string
	CacheDays    int
	Workers      int
	LogLevel     string
	LogConsole   bool
}

// CacheTTL returns the entity cache expiry as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheDays) * 24 * time.Hour
}

// Init wires file and environment lookup into v. An empty cfgFile searches
// ~/.jex/config.yaml and ./.jex/config.yaml.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".jex")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".jex"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("JEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".jex")

	v.SetDefault(KeyPageSize, 1000)
	v.SetDefault(KeyWorkDir, filepath.Join(base, "work"))
	v.SetDefault(KeyDateFormat, DefaultDateFormat)
	v.SetDefault(KeyFlushTimeout, time.Duration(0))
	v.SetDefault(KeyCacheFile, filepath.Join(base, "cache.json"))
	v.SetDefault(KeyCacheDays, 7)
	v.SetDefault(KeyWorkers, 8)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogConsole, true)
}

// Load reads the resolved values out of v and validates them.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		JiraURL:      strings.TrimRight(v.GetString(KeyJiraURL), "/"),
		JiraEmail:    v.GetString(KeyJiraEmail),
		JiraToken:    v.GetString(KeyJiraToken),
		PageSize:     v.GetInt(KeyPageSize),
		WorkDir:      v.GetString(KeyWorkDir),
		DateFormat:   v.GetString(KeyDateFormat),
		FlushTimeout: v.GetDuration(KeyFlushTimeout),
		CacheFile:    v.GetString(KeyCacheFile),
		CacheDays:    v.GetInt(KeyCacheDays),
		Workers:      v.GetInt(KeyWorkers),
		LogLevel:     v.GetString(KeyLogLevel),
		LogConsole:   v.GetBool(KeyLogConsole),
	}

	// Cloud is detected from the host unless set explicitly
	if v.IsSet(KeyJiraCloud) {
		cfg.Cloud = v.GetBool(KeyJiraCloud)
	} else {
		cfg.Cloud = strings.Contains(cfg.JiraURL, ".atlassian.net")
	}

	if cfg.JiraURL == "" {
		return cfg, fmt.Errorf("%s is required (config file or JEX_JIRA_URL)", KeyJiraURL)
	}
	if cfg.PageSize <= 0 {
		return cfg, fmt.Errorf("%s must be positive, got %d", KeyPageSize, cfg.PageSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CacheDays < 0 {
		return cfg, fmt.Errorf("%s must not be negative, got %d", KeyCacheDays, cfg.CacheDays)
	}

	return cfg, nil
}
