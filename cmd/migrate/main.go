package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"satisledger/backend/internal/config"
	"satisledger/backend/internal/logger"
	pgstore "satisledger/backend/internal/store/postgres"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log := logger.New(logger.Config{Level: logLevel, Format: "console", Output: "stdout"})
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	m, err := pgstore.NewMigrator(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("failed to create migrator", zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "step":
		n, convErr := intArg(args, "step count")
		if convErr != nil {
			log.Fatal("usage: migrate step <n>", zap.Error(convErr))
		}
		err = m.Steps(n)
	case "force":
		v, convErr := intArg(args, "version")
		if convErr != nil {
			log.Fatal("usage: migrate force <version>", zap.Error(convErr))
		}
		err = m.Force(v)
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			log.Fatal("failed to read version", zap.Error(verErr))
		}
		if version == 0 {
			log.Info("no migrations applied")
		} else {
			log.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
}

func intArg(args []string, name string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s required", name)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, args[1])
	}
	return n, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [flags] <command> [args]

Commands:
  up              apply all pending migrations
  down            roll back all migrations
  step <n>        apply n migrations (negative rolls back)
  force <version> set the version without running migrations
  version         print the current version

Flags:
  -log-level      debug, info, warn or error (default info)

DATABASE_URL is read from the environment or a .env file.`)
}
