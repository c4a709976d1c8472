// config.go: settings struct and functions to load and save the application configuration.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/labelous/labelsync/internal/errors"
)

// SQLiteSettings contains settings for the SQLite database output.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite output
	Path    string // path to the SQLite database file
}

// MySQLSettings contains settings for the MySQL database output.
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL output
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL server host
	Port     string // MySQL server port
}

// OutputSettings selects and configures the backing database.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// WebServerLogSettings configures the web server request log.
type WebServerLogSettings struct {
	Enabled bool   // true to write an HTTP access log
	Path    string // path to the log file
}

// WebServerSettings contains settings for the HTTP server.
type WebServerSettings struct {
	Enabled     bool                 // true to start the HTTP server
	Port        string               // port to listen on
	Debug       bool                 // true to enable HTTP debug logging
	MaxBodySize string               // request body size cap for imports, e.g. "4M"
	Log         WebServerLogSettings // HTTP access log settings
}

// SyncSettings tunes the annotation synchronization protocol.
type SyncSettings struct {
	// StrictDeletedIdentity controls what happens when an import
	// references a polygon identity the server has no live record of
	// while marking it deleted. The default (false) treats it as a
	// no-op, matching a record that was already purged elsewhere.
	// When true the whole import is rejected instead.
	StrictDeletedIdentity bool
	// SubjectCacheTTL is the lifetime, in seconds, of cached subject
	// image visibility lookups. Zero disables the cache.
	SubjectCacheTTL int
}

// MainSettings contains top-level application settings.
type MainSettings struct {
	Name  string // name of this node, used to identify the source of the data
	Debug bool   // true to enable debug logging
}

// Settings is the root configuration for the application.
type Settings struct {
	Main      MainSettings
	Output    OutputSettings
	WebServer WebServerSettings
	Sync      SyncSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the shared settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		settingsInstance = &Settings{}
		if err := Load(settingsInstance); err != nil {
			panic(fmt.Sprintf("error loading settings: %v", err))
		}
	})
	return settingsInstance
}

// Load reads the configuration file (if any) and unmarshals it over the
// defaults into the given settings struct.
func Load(settings *Settings) error {
	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range configPaths() {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Build()
		}
		// No config file is fine, defaults apply.
	}

	if err := viper.Unmarshal(settings); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}
	return nil
}

// Save writes the settings as YAML to the given path, creating parent
// directories as needed.
func Save(settings *Settings, path string) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal_config").
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// configPaths returns the list of directories searched for config.yaml,
// in priority order.
func configPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "labelsync"))
	}
	paths = append(paths, "/etc/labelsync")
	return paths
}
