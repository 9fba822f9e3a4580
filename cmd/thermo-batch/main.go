package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/app"
	"github.com/joseph-ayodele/thermo-extraction/internal/async"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/ingest"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory of PDFs to process (required)")
		out        = flag.String("out", "", "directory for dataset workbooks (optional, defaults to <dir>/workbooks)")
		workers    = flag.Int("workers", 2, "sessions processed concurrently")
		skipHidden = flag.Bool("skip-hidden", true, "skip hidden files and directories")
		jobTimeout = flag.Duration("job-timeout", 15*time.Minute, "time limit for one paper across all stages")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(*dir, "workbooks")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	logger.Info("starting ingestion", "dir", *dir)
	results, stats, err := ingest.NewUsecase(a.Sessions, logger).IngestDirectory(ctx, *dir, *skipHidden)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestion complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)

	var (
		mu       sync.Mutex
		datasets = map[string]string{} // dataset id -> first session
		failures int
	)
	q := async.NewSessionQueue(a.Runner, logger,
		async.WithWorkers(*workers),
		async.WithJobTimeout(*jobTimeout),
		async.WithOnDone(func(r async.Result) {
			mu.Lock()
			defer mu.Unlock()
			if r.Err != nil {
				failures++
				return
			}
			id := r.Load.DatasetID.String()
			if _, ok := datasets[id]; !ok {
				datasets[id] = r.Job.SessionID
			}
		}))
	for _, r := range results {
		if r.SessionID == "" {
			continue
		}
		if err := q.Enqueue(ctx, async.Job{SessionID: r.SessionID}); err != nil {
			logger.Error("failed to enqueue session", "session_id", r.SessionID, "error", err)
			break
		}
	}
	q.Shutdown(ctx)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}
	written := 0
	for id := range datasets {
		wb, err := a.Export.Workbook(ctx, id)
		if err != nil {
			logger.Warn("workbook skipped", "dataset_id", id, "error", common.MessageOf(err))
			continue
		}
		path := filepath.Join(*out, wb.Filename)
		if err := os.WriteFile(path, wb.Data, 0o644); err != nil {
			logger.Error("failed to write workbook", "path", path, "error", err)
			continue
		}
		written++
	}

	logger.Info("batch processing complete",
		"sessions_created", stats.Succeeded,
		"datasets_loaded", len(datasets),
		"failures", failures+int(stats.Failed),
		"workbooks", written,
		"output_dir", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- PDFs found: %d\n", stats.Matched)
	fmt.Printf("- Sessions created: %d\n", stats.Succeeded)
	fmt.Printf("- Datasets loaded: %d\n", len(datasets))
	fmt.Printf("- Failures: %d\n", failures+int(stats.Failed))
	fmt.Printf("- Workbooks: %s (%d)\n", *out, written)
}
