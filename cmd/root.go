package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/labelous/labelsync/cmd/serve"
	"github.com/labelous/labelsync/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "labelsync",
		Short: "Annotation synchronization service",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(serve.Command(settings))

	return rootCmd
}

// setupFlags defines global flags and binds them over the config file
// values so command-line arguments take precedence.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVar(&settings.Main.Debug, "debug", settings.Main.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port", settings.WebServer.Port, "Port for the HTTP server")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "db", settings.Output.SQLite.Path, "Path to the SQLite database file")

	_ = viper.BindPFlag("main.debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("webserver.port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("output.sqlite.path", rootCmd.PersistentFlags().Lookup("db"))
}
