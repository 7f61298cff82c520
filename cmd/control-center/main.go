package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conorfennell/homebase/internal/config"
	"github.com/conorfennell/homebase/internal/httpserver"
	"github.com/conorfennell/homebase/internal/ingest"
	"github.com/conorfennell/homebase/internal/logging"
	"github.com/conorfennell/homebase/internal/parser"
	"github.com/conorfennell/homebase/internal/storage"
	"github.com/conorfennell/homebase/internal/usage"
	"github.com/conorfennell/homebase/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "control-center:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Flags and configuration
	fs := pflag.NewFlagSet("control-center", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	configFile, _ := fs.GetString("config")

	cfg, err := config.Load(config.LoadOptions{File: configFile, Flags: fs})
	if err != nil {
		return err
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	// 2. Open the database
	db, err := storage.Open(cfg.Control.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	slog.Info("Database opened", "path", cfg.Control.DBPath)

	// 3. Wire the web server
	links := make([]web.Link, 0, len(cfg.Control.Links))
	for _, l := range cfg.Control.Links {
		links = append(links, web.Link{Label: l.Label, Path: l.Path})
	}
	in := ingest.New(ingest.ExecExecutor{}, ingest.Options{
		MaxChars:  cfg.Ingest.MaxChars,
		Timeout:   cfg.Ingest.Timeout,
		UploadDir: cfg.Ingest.UploadDir,
	})
	srv, err := web.NewServer(db, parser.New(cfg.LabelTable()), in, web.Options{
		InboxPath: cfg.Control.InboxPath,
		GitDir:    cfg.Control.GitDir,
		Links:     links,
		Usage: usage.Options{
			Dir:      cfg.Usage.Dir,
			Days:     cfg.Usage.WindowDays,
			MaxFiles: cfg.Usage.MaxFiles,
			Pricing:  &cfg.Usage.Pricing,

			EstimateMissing: cfg.Usage.EstimateMissing,
		},
		BotStoreURL: localURL(cfg.BotStore.Addr),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// 4. Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hs, err := httpserver.Listen(cfg.Control.Addr, logging.Middleware(logger, srv))
	if err != nil {
		return err
	}
	return hs.Serve(ctx)
}

// localURL turns a listen address like ":4677" into a browsable URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
