// Command multipart-upload uploads files to S3 compatible storage or to the build cache API
// with parallel multipart uploads.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-multipart/analytics"
	"github.com/bitrise-io/go-multipart/output"
	"github.com/bitrise-io/go-multipart/source"
	"github.com/bitrise-io/go-multipart/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

func main() {
	logger := log.NewLogger()
	if err := run(logger); err != nil {
		logger.Println()
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	envRepo := env.NewRepository()

	var cfg config
	if err := stepconf.NewInputParser(envRepo).Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}
	stepconf.Print(cfg)
	logger.Println()
	logger.EnableDebugLog(cfg.Verbose)

	if err := cfg.validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b backend
	switch cfg.mode() {
	case modeCache:
		b = newCacheBackend(cfg, logger)
	default:
		s3Backend, err := newS3Backend(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		b = s3Backend
	}

	pathProvider := pathutil.NewPathProvider()
	workingDir, err := os.Getwd()
	if err != nil {
		return err
	}
	locator := source.NewLocator(pathProvider, pathutil.NewPathModifier(), logger)
	paths, err := expandPaths(ctx, workingDir, cfg.Paths, locator)
	if err != nil {
		return err
	}

	spoolDir, err := pathProvider.CreateTempDir("multipart-spool")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(spoolDir); err != nil {
			logger.Warnf("Failed to remove %s: %s", spoolDir, err)
		}
	}()

	partSize, err := cfg.partSize()
	if err != nil {
		return err
	}

	tracker := analytics.NewUploadTracker(envRepo, logger)
	defer tracker.Wait()

	u := &fileUploader{
		backend:          b,
		mode:             cfg.mode(),
		config:           cfg.uploaderConfig(),
		partSize:         partSize,
		retryAttempts:    cfg.RetryAttempts,
		compress:         cfg.Compress,
		compressionLevel: cfg.CompressionLevel,
		keyPrefix:        cfg.KeyPrefix,
		spoolDir:         spoolDir,
		tracker:          tracker,
		logger:           logger,
	}

	reports, failed := uploadAll(ctx, u, paths, logger)

	if cfg.ReportPath != "" {
		if err := output.ExportReports(cfg.ReportPath, reports, cfg.ReportEnvKey, output.NewRepository(envRepo)); err != nil {
			return fmt.Errorf("failed to export report: %w", err)
		}
		logger.Printf("Report written to %s", cfg.ReportPath)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(paths))
	}
	return nil
}

func uploadAll(ctx context.Context, u *fileUploader, paths []string, logger log.Logger) ([]output.Report, int) {
	var reports []output.Report
	failed := 0
	for _, path := range paths {
		logger.Println()
		logger.Infof("Uploading %s", path)

		report, err := u.upload(ctx, path)
		reports = append(reports, report)
		if err != nil {
			logger.Errorf("Upload of %s failed: %s", path, err)
			failed++
		}
	}
	return reports, failed
}
