/*
main.go - Part status maintenance CLI

PURPOSE:
  Repairs and audits the Part.status flag against the entry log without
  running the server. Useful after restoring a backup or editing rows by
  hand.

COMMANDS:
  sync    Recompute every part's status and write the changes
  verify  Report parts whose status disagrees with the entry log;
          exits 1 when anything is inconsistent

FLAGS:
  -config  Optional YAML config file
  -db      SQLite database path (overrides database.path)

EXAMPLES:
  ./partsctl -db=./data/bonus.db verify
  ./partsctl sync
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/config"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/logging"
	"github.com/warp/bonus-engine/store/sqlite"
	"go.uber.org/zap"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitUsage        = 2
	exitInconsistent = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("partsctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "Optional YAML config file")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: partsctl [-config file] [-db path] sync|verify")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitFailure
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(logging.Config{
		Service:     "partsctl",
		Environment: cfg.Server.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid timezone", zap.Error(err))
		return exitFailure
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		return exitFailure
	}
	defer store.Close()

	svc := bonus.NewService(store, bonus.Options{
		Classifier: bonus.NewClassifier(loc),
		Logger:     logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd := fs.Arg(0); cmd {
	case "sync":
		return runSync(ctx, svc)
	case "verify":
		return runVerify(ctx, svc)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}
}

func runSync(ctx context.Context, svc *bonus.Service) int {
	run, err := svc.SyncPartStatus(ctx, generic.TriggerManual)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
		return exitFailure
	}
	printJSON(map[string]any{
		"run_id":          run.ID,
		"status":          run.Status,
		"updated_to_true": run.UpdatedToTrue,
		"reset_to_false":  run.ResetToFalse,
	})
	return exitOK
}

func runVerify(ctx context.Context, svc *bonus.Service) int {
	v, err := svc.VerifyPartStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		return exitFailure
	}
	printJSON(map[string]any{
		"consistent":   v.Consistent,
		"missing_true": v.MissingTrue,
		"extra_true":   v.ExtraTrue,
		"dangling":     v.Dangling,
	})
	if !v.Consistent {
		return exitInconsistent
	}
	return exitOK
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
