package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/ico-scan/cmd"
	"github.com/dhcgn/ico-scan/config"
	"github.com/dhcgn/ico-scan/emldir"
	"github.com/dhcgn/ico-scan/imap"
	"github.com/dhcgn/ico-scan/mbox"
	"github.com/dhcgn/ico-scan/progress"
	"github.com/dhcgn/ico-scan/result"
	"github.com/dhcgn/ico-scan/runner"
	"github.com/dhcgn/ico-scan/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ico-scan [input dir] [output file]",
		Short: "Find declared IČO numbers in a directory of .eml files",
		Long: "Scan emails for Czech identification numbers (IČO) that pass the " +
			"checksum and report them for emails that contain a declaration " +
			"(čestné prohlášení). The result is an id,ico table.",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			return scan(c, config.ModeDir, args)
		},
	}

	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(
		cmd.NewMboxScanCommand(scan),
		cmd.NewIMAPScanCommand(scan),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func scan(c *cobra.Command, mode config.Mode, args []string) error {
	cfg, err := config.LoadConfig(c, mode, args)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	slog.SetDefault(logger)
	logger.Info("starting ico-scan", "mode", cfg.Mode, "output", cfg.OutputPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	return run(ctx, cfg, logger, src)
}

func openSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (runner.Source, error) {
	switch cfg.Mode {
	case config.ModeMbox:
		src, err := mbox.Open(cfg.MboxPath)
		if err != nil {
			return nil, fmt.Errorf("mbox.Open: %w", err)
		}
		return src, nil
	case config.ModeIMAP:
		src, err := imap.Open(ctx, imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Folder:             cfg.IMAPFolder,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("imap.Open: %w", err)
		}
		return src, nil
	default:
		src, err := emldir.Open(cfg.InputDir)
		if err != nil {
			return nil, fmt.Errorf("emldir.Open: %w", err)
		}
		return src, nil
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, src runner.Source) error {
	total, err := src.Count(ctx)
	if err != nil {
		return fmt.Errorf("count emails: %w", err)
	}

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)
	reporter := progress.NewReporter(r, progress.New(total, cfg.LogLevel, cfg.NoProgress))

	rows, err := r.Run(src)
	if err != nil {
		return err
	}

	if err := result.WriteFile(cfg.OutputPath, rows); err != nil {
		return err
	}
	logger.Info("result written", "path", cfg.OutputPath, "rows", len(rows))
	reporter.Print(cfg.OutputPath)
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("ico-scan-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
