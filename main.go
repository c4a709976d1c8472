package main

import (
	"fmt"
	"os"

	"github.com/labelous/labelsync/cmd"
	"github.com/labelous/labelsync/internal/conf"
	"github.com/labelous/labelsync/internal/logging"
)

func main() {
	settings := conf.Setting()
	logging.Init(settings.Main.Debug)

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
