package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"usageprep/internal/app"
	"usageprep/internal/config"
	"usageprep/internal/logging"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath = flag.String("c", "", "Path to configuration file (e.g., usageprep.yaml). Defaults to ./usageprep.yaml, ~/.config/usageprep/usageprep.yaml, /etc/usageprep/usageprep.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, overrides log.path; defaults to stderr)")
	verbose    = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logPath != "" {
		cfg.Log.Path = *logPath
	}

	logger, closer, err := logging.New(cfg.Log, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	application, err := app.NewApp(cfg, logger, version)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		closer.Close()
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		logger.Error("application exited with error", "error", err)
		closer.Close()
		os.Exit(1)
	}
}
