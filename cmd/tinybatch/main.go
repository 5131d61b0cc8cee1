package main

import (
	"context"
	"fmt"
	"os"

	"github.com/barasher/go-exiftool"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tinybatch/tinybatch/internal/backup"
	"github.com/tinybatch/tinybatch/internal/config"
	"github.com/tinybatch/tinybatch/internal/imaging"
	"github.com/tinybatch/tinybatch/internal/logger"
	"github.com/tinybatch/tinybatch/internal/tinify"
	"github.com/tinybatch/tinybatch/internal/tui"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "tinybatch",
	Short:   "Batch image compression and conversion through the tinify API",
	Long:    `Tinybatch recompresses or converts every image in a directory through the remote compression service, one bounded batch at a time.`,
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run [SOURCE_DIR]",
	Short: "Pick an operation interactively and process the source directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInteractive,
}

var compressCmd = &cobra.Command{
	Use:   "compress [SOURCE_DIR]",
	Short: "Recompress every image in the source directory in place",
	Long:  `Submits each eligible image to the remote service and writes the smaller result, same format and name, into the compressed output directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCompress,
}

var convertCmd = &cobra.Command{
	Use:   "convert [SOURCE_DIR]",
	Short: "Convert every image in the source directory to a target format",
	Long:  `Submits each eligible image to the remote service for re-encoding and writes the result, extension swapped, into the converted output directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConvert,
}

var backupCmd = &cobra.Command{
	Use:   "backup DIRECTORY BUCKET",
	Short: "Back up an output directory to S3",
	Long:  `Uploads every file in the directory to S3 with MD5 deduplication (unchanged files are skipped).`,
	Args:  cobra.ExactArgs(2),
	RunE:  runBackup,
}

var (
	maxConcurrent     int
	preserveMetadata  bool
	targetFormat      string
	backupPrefix      string
	backupConcurrency int
)

func init() {
	for _, cmd := range []*cobra.Command{runCmd, compressCmd, convertCmd} {
		cmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 0, "Maximum concurrent transforms (default 5)")
		cmd.Flags().BoolVarP(&preserveMetadata, "preserve-metadata", "p", false, "Copy EXIF dates and orientation onto compressed output")
	}

	convertCmd.Flags().StringVarP(&targetFormat, "format", "f", "", "Target format: png, webp or jpeg (required)")
	convertCmd.MarkFlagRequired("format")

	backupCmd.Flags().IntVarP(&backupConcurrency, "max-concurrent", "c", 5, "Maximum concurrent uploads")
	backupCmd.Flags().StringVar(&backupPrefix, "prefix", "", "Key prefix inside the bucket")

	rootCmd.AddCommand(runCmd, compressCmd, convertCmd, backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	op, err := tui.SelectOperation()
	if err != nil {
		return err
	}
	return runBatch(args, op)
}

func runCompress(cmd *cobra.Command, args []string) error {
	return runBatch(args, imaging.OperationConfig{Mode: imaging.ModeCompress})
}

func runConvert(cmd *cobra.Command, args []string) error {
	format, err := imaging.ParseFormat(targetFormat)
	if err != nil {
		return err
	}
	return runBatch(args, imaging.OperationConfig{Mode: imaging.ModeConvert, Format: format})
}

// runBatch wires the configuration, client and dispatcher together and
// executes one batch against the source directory.
func runBatch(args []string, op imaging.OperationConfig) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.SourceDir = args[0]
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrent = maxConcurrent
	}
	cfg.PreserveMetadata = preserveMetadata
	if err := cfg.Validate(); err != nil {
		return err
	}

	if info, err := os.Stat(cfg.SourceDir); err != nil || !info.IsDir() {
		return fmt.Errorf("source directory does not exist: %s", cfg.SourceDir)
	}

	client := tinify.NewClient(tinify.ClientOptions{
		BaseURL: cfg.APIBaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	})
	resolver := imaging.NewResolver(cfg.CompressedDir, cfg.ConvertedDir)

	opts := imaging.DispatcherOptions{MaxConcurrent: cfg.MaxConcurrent}
	if cfg.PreserveMetadata {
		et, err := exiftool.NewExiftool()
		if err != nil {
			return fmt.Errorf("failed to initialise exiftool: %w", err)
		}
		defer et.Close()
		opts.Preserver = imaging.NewMetadataPreserver(et)
	}

	events := make(chan imaging.ProgressEvent, 64)
	opts.Progress = events

	program := tea.NewProgram(tui.NewProgressModel(events))
	uiDone := make(chan struct{})
	go func() {
		_, _ = program.Run()
		close(uiDone)
	}()

	dispatcher := imaging.NewDispatcher(client, resolver, opts)
	summary, err := dispatcher.Run(context.Background(), cfg.SourceDir, op)
	close(events)
	<-uiDone
	if err != nil {
		return err
	}

	rows := []tui.SummaryRow{
		{Label: "Eligible files", Value: fmt.Sprintf("%d", summary.Eligible)},
		{Label: "Skipped entries", Value: fmt.Sprintf("%d", summary.Skipped)},
		{Label: "Succeeded", Value: fmt.Sprintf("%d", summary.Succeeded)},
		{Label: "Failed", Value: fmt.Sprintf("%d", summary.Failed)},
		{Label: "Bytes in", Value: fmt.Sprintf("%d", summary.BytesIn)},
		{Label: "Bytes out", Value: fmt.Sprintf("%d", summary.BytesOut)},
	}
	fmt.Fprintln(os.Stdout, tui.RenderSummary(rows))

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Eligible)
	}
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	dir := args[0]
	bucket := args[1]

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	ctx := context.Background()
	uploader, err := backup.NewUploader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialise backup: %w", err)
	}

	logger.Info("Starting backup", "directory", dir, "bucket", bucket, "max_concurrent", backupConcurrency)
	return uploader.UploadDirectory(ctx, dir, bucket, backupPrefix, backupConcurrency)
}
