package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tpnats "github.com/Strob0t/TestPulse/internal/adapter/nats"
	"github.com/Strob0t/TestPulse/internal/adapter/postgres"
	"github.com/Strob0t/TestPulse/internal/config"
)

const adminTimeout = 2 * time.Minute

// runAdmin dispatches admin subcommands (migrate, rollback, version, rematch).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "rematch":
		return runAdminRematch(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: testpulse admin <command> [options]

Commands:
  migrate          Apply pending database migrations
  rollback         Roll back database migrations
  version          Print the current migration version
  rematch          Queue a matching pass for a finished run
  help             Show this help message

Examples:
  testpulse admin migrate
  testpulse admin rollback --steps 2
  testpulse admin rematch 4f1c2d3e-0000-0000-0000-000000000000
`)
}

// adminFlags parses the options shared by every admin command.
func adminFlags(name string, args []string, extra func(fs *flag.FlagSet)) (*config.Config, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config file")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, fs, nil
}

func runAdminMigrate(args []string) error {
	cfg, _, err := adminFlags("migrate", args, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("migrations applied, version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	var steps int
	cfg, _, err := adminFlags("rollback", args, func(fs *flag.FlagSet) {
		fs.IntVar(&steps, "steps", 1, "number of migrations to roll back")
	})
	if err != nil {
		return err
	}
	if steps < 1 {
		return fmt.Errorf("--steps must be >= 1")
	}
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("rolled back %d migration(s), version %d\n", steps, v)
	return nil
}

func runAdminVersion(args []string) error {
	cfg, _, err := adminFlags("version", args, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

// runAdminRematch queues a run on the trigger stream; a running server
// picks it up like any other finished run.
func runAdminRematch(args []string) error {
	cfg, fs, err := adminFlags("rematch", args, nil)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: testpulse admin rematch <run-id>")
	}
	runID := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	nq, err := tpnats.Connect(ctx, cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = nq.Close() }()

	if err := nq.PublishRunFinished(ctx, runID); err != nil {
		return err
	}
	fmt.Printf("queued matching pass for run %s\n", runID)
	return nil
}
