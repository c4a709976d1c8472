// defaults.go: default configuration values registered with viper.
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers the default value for every setting so a
// missing or partial config file always yields a runnable configuration.
func setDefaultConfig() {
	viper.SetDefault("main.name", "labelsync")
	viper.SetDefault("main.debug", false)

	// Database defaults: SQLite on, MySQL off.
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "labelsync.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "labelsync")
	viper.SetDefault("output.mysql.password", "labelsync")
	viper.SetDefault("output.mysql.database", "labelsync")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)
	// The annotation tool posts the full document on every edit; a few
	// MiB is plenty even for very dense label sets.
	viper.SetDefault("webserver.maxbodysize", "4M")
	viper.SetDefault("webserver.log.enabled", false)
	viper.SetDefault("webserver.log.path", "webserver.log")

	viper.SetDefault("sync.strictdeletedidentity", false)
	viper.SetDefault("sync.subjectcachettl", 60)
}
