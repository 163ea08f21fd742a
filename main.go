package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// options are the command line flags
type options struct {
	configPath string
	listen     string
	dbPath     string
	debug      bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("summaly", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "path to a JSON config file")
	fs.StringVar(&opts.listen, "listen", "", "address to listen on (overrides config)")
	fs.StringVar(&opts.dbPath, "db", "", "path to the SQLite cache database (overrides config)")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig(opts *options) (*Config, error) {
	config := DefaultConfig()
	if opts.configPath != "" {
		loaded, err := loadConfigFromFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if opts.listen != "" {
		config.Listen = opts.listen
	}
	if opts.dbPath != "" {
		config.Database = opts.dbPath
	}
	if opts.debug {
		config.LogLevel = "debug"
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	config, err := loadConfig(opts)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.slogLevel()}))
	slog.SetDefault(logger)

	if err := run(config, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(config *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDB(config.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	go runCacheCleanup(ctx, db, config.cleanupInterval)

	server := NewServer(NewSummarizer(WithLogger(logger)), db, config, LoadCategoryMapper(config), logger)
	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", config.Listen, "database", config.Database)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
