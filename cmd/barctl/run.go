package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"barchive/internal/barconfig"
	"barchive/internal/barindex/sqlitecat"
	"barchive/internal/barjob"
	"barchive/internal/barpass"
	"barchive/internal/barpipeline"
)

type runFlags struct {
	dbPath          string
	source          string
	targets         []string
	includePatterns []string
	excludePatterns []string
	compression     string
	encryption      string
	mode            string
	partSizeMB      int64
	maxAttempts     int
	strict          bool
	workers         int
	askPass         bool
	passwordFile    string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backup job over a source tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.dbPath, "db", "barctl.sqlite", "index catalog database path")
	cmd.Flags().StringVar(&f.source, "source", "", "source directory to back up (required)")
	cmd.Flags().StringArrayVar(&f.targets, "target", nil, "destination, scheme:dest (local:/path, s3:bucket/prefix); repeatable")
	cmd.Flags().StringArrayVar(&f.includePatterns, "include", nil, "doublestar include pattern; repeatable, default is everything")
	cmd.Flags().StringArrayVar(&f.excludePatterns, "exclude", nil, "doublestar exclude pattern; repeatable")
	cmd.Flags().StringVar(&f.compression, "compression", "zstd", "none, zstd, or brotli")
	cmd.Flags().StringVar(&f.encryption, "encryption", "none", "none, aes, twofish, or chacha20")
	cmd.Flags().StringVar(&f.mode, "mode", "full", "full, incremental, differential, or continuous")
	cmd.Flags().Int64Var(&f.partSizeMB, "part-size-mb", 0, "split archive volumes at this size in MiB; 0 disables splitting")
	cmd.Flags().IntVar(&f.maxAttempts, "retry-attempts", 3, "storage retry attempts before a target fails")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "abort the whole job on the first entry error instead of counting and continuing")
	cmd.Flags().IntVar(&f.workers, "workers", 4, "worker pool size")
	cmd.Flags().BoolVar(&f.askPass, "ask-pass", false, "prompt for the encryption password on the controlling terminal")
	cmd.Flags().StringVar(&f.passwordFile, "password-file", "", "read the encryption password from this file's first line")

	cmd.MarkFlagRequired("source")
	return cmd
}

func runJob(ctx context.Context, f runFlags) error {
	logger, err := rootLogger()
	if err != nil {
		return err
	}

	cfg := barconfig.Config{
		IncludePatterns: f.includePatterns,
		ExcludePatterns: f.excludePatterns,
		Compression:     barconfig.Compression(f.compression),
		Encryption:      barconfig.Encryption(f.encryption),
		ArchivePartSize: f.partSizeMB * (1 << 20),
		Mode:            barconfig.Mode(f.mode),
		Retry:           barconfig.Retry{MaxAttempts: f.maxAttempts, BaseDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second},
		Strict:          f.strict,
	}

	pc, err := barpass.NewProcessContext(hostName())
	if err != nil {
		return fmt.Errorf("build process context: %w", err)
	}

	var password []byte
	if cfg.Encryption != barconfig.EncryptionNone {
		pass, err := readPassword(ctx, pc, f)
		if err != nil {
			return err
		}
		defer pass.Close()
		plaintext, undeploy := pass.Deploy()
		defer undeploy()
		password = plaintext
	}

	if err := cfg.Validate(password != nil); err != nil {
		return fmt.Errorf("invalid job configuration: %w", err)
	}

	catalog, err := sqlitecat.Open(f.dbPath, logger)
	if err != nil {
		return fmt.Errorf("open index catalog: %w", err)
	}
	defer catalog.Close()

	if len(f.targets) == 0 {
		return fmt.Errorf("at least one --target is required")
	}
	objectName := fmt.Sprintf("%s-%s", string(cfg.Mode), time.Now().UTC().Format("20060102T150405Z"))
	targets := make([]barjob.Target, 0, len(f.targets))
	for _, spec := range f.targets {
		t, err := parseTarget(ctx, spec, objectName)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	pool := barjob.NewPool(f.workers, logger)
	defer pool.Shutdown()

	pipeline := barpipeline.New(catalog, 0, logger)

	jobUUID := uuid.New()
	job := barjob.New(jobUUID, uuid.Nil, catalog, pool, pipeline, cfg, targets, logger)
	job.Password = password

	entries := barpipeline.Walk(ctx, f.source, cfg)

	outcome, err := job.Run(ctx, entries)
	if err != nil {
		return fmt.Errorf("job %s: %w", jobUUID, err)
	}

	fmt.Printf("job %s: %s, %d entries (%d bytes), %d errors, took %s\n",
		jobUUID, outcome.State, outcome.TotalEntryCount, outcome.TotalEntrySize,
		outcome.ErrorEntryCount, outcome.Duration)
	return nil
}

func hostName() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
