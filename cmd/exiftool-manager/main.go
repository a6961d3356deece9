package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"exiftool-manager/internal/config"
	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/extractor"
	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/logger"
	"exiftool-manager/internal/manager"
	"exiftool-manager/internal/metrics"
	"exiftool-manager/internal/scanner"
	"exiftool-manager/internal/session"
	"exiftool-manager/internal/statistics"
	"exiftool-manager/internal/watcher"
	"exiftool-manager/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string

	outputName string
	overwrite  bool
	fixMissing bool
	dryRun     bool
	recursive  bool
	port       int

	cfg *config.Config
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "exiftool-manager",
	Short: "Read and write the original date of media files through exiftool",
	Long: `exiftool-manager drives the exiftool command line to answer one question
about photos, videos and audio files: when was this taken?

Features:
- Reads the original date from EXIF or QuickTime metadata
- Writes the original date into the right group for the file type
- Scans directory trees and fills in missing dates from the file date
- Watches directories and inspects new files as they arrive
- HTTP API with live scan events and Prometheus metrics`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// inspectCmd prints the original date and metadata of one file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the original date and metadata of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd.Context(), args[0])
	},
}

// setDateCmd writes the original date of one file.
var setDateCmd = &cobra.Command{
	Use:   "set-date <file> <date>",
	Short: "Write the original date of a file",
	Long: `Writes the original date of a file. The date uses the exiftool layout
"YYYY:MM:DD HH:MM:SS". By default the result is written next to the source as
<name>-1.<ext>; --overwrite rewrites the file in place.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetDate(cmd.Context(), args[0], args[1])
	},
}

// scanCmd reports the original dates of a directory tree.
var scanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Scan a directory and report original dates",
	Long: `Scans the directory recursively and reports, for every media file, whether
its original date can be read and what it is. With --fix, files without an
original date get it from their filesystem modification date.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context(), args[0])
	},
}

// watchCmd inspects files as they appear in directories.
var watchCmd = &cobra.Command{
	Use:   "watch <directory>...",
	Short: "Watch directories and inspect new files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), args)
	},
}

// extensionsCmd lists the supported extensions.
var extensionsCmd = &cobra.Command{
	Use:   "extensions",
	Short: "List the extensions whose original date can be read or written",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Readable: %s\n", strings.Join(manager.ReadableExtensions(), ", "))
		fmt.Printf("Editable: %s\n", strings.Join(manager.EditableExtensions(), ", "))
		return nil
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server exposing metadata lookups, original date writes and
directory scans. Scan progress is pushed to websocket clients on /ws and
Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// versionCmd prints the version of this tool and of exiftool.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("exiftool-manager %s", version)
		if buildTime != "" {
			fmt.Printf(" (built %s)", buildTime)
		}
		fmt.Println()

		m := newManager(exiftool.NewCommandRunner(), logger.Discard())
		toolVersion, err := m.ToolVersion(cmd.Context())
		if err != nil {
			fmt.Printf("exiftool: not detected (%v)\n", err)
			return nil
		}
		fmt.Printf("exiftool: %s\n", toolVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	setDateCmd.Flags().StringVar(&outputName, "output", "", "output file name, in the source directory")
	setDateCmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite the destination file")

	scanCmd.Flags().BoolVar(&fixMissing, "fix", false, "set missing original dates from the file modification date")
	scanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the fixes without writing")
	scanCmd.Flags().BoolVar(&overwrite, "overwrite", false, "write fixes in place")

	watchCmd.Flags().BoolVar(&recursive, "recursive", true, "watch subdirectories")
	watchCmd.Flags().BoolVar(&fixMissing, "fix", false, "set missing original dates of new files")
	watchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the fixes without writing")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	rootCmd.AddCommand(inspectCmd, setDateCmd, scanCmd, watchCmd, extensionsCmd, serveCmd, versionCmd)
}

// initConfig loads configuration and checks the built-in tag taxonomy.
func initConfig() error {
	keywords.MustValidate(keywords.Default())

	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := cfg.Logger()
	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger setup failed, using defaults: %v\n", err)
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// newRunner returns the instrumented exiftool runner and its metrics.
func newRunner() (exiftool.Runner, *metrics.Metrics) {
	m := metrics.New(nil)
	return m.Instrument(exiftool.NewCommandRunner()), m
}

func newManager(runner exiftool.Runner, log logrus.FieldLogger) *manager.Manager {
	opts := session.Options{
		ExiftoolPath: cfg.Exiftool.Path,
		Timeout:      cfg.Exiftool.Timeout,
	}
	return manager.New(session.New(runner, opts, log))
}

// newScanner builds a scanner wired to the native fallback and, when
// configured, a stay-open exiftool for batch reads. The returned func
// releases the batch process.
func newScanner(runner exiftool.Runner, m *metrics.Metrics, log *logrus.Logger, stats *statistics.Statistics) (*scanner.Scanner, func()) {
	opts := []scanner.Option{
		scanner.WithExtractor(extractor.NewEXIFExtractor(log)),
		scanner.WithMetrics(m),
	}

	release := func() {}
	if cfg.Exiftool.StayOpen {
		batch, err := exiftool.NewBatchReader(cfg.Exiftool.Path)
		if err != nil {
			log.WithError(err).Warn("Stay-open exiftool unavailable, loading files one by one")
		} else {
			opts = append(opts, scanner.WithBatchReader(batch))
			release = func() {
				if err := batch.Close(); err != nil {
					log.WithError(err).Warn("Failed to close stay-open exiftool")
				}
			}
		}
	}
	return scanner.New(cfg, runner, log, stats, opts...), release
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runInspect prints what exiftool knows about one file.
func runInspect(ctx context.Context, path string) error {
	log := setupLogger(cfg)
	runner, _ := newRunner()
	m := newManager(runner, log)

	if err := m.Load(ctx, path); err != nil {
		return err
	}
	if !m.Loaded() {
		return fmt.Errorf("exiftool could not read %s", path)
	}

	readable, _ := m.HasReadableMetadataSupport()
	editable, _ := m.HasEditableMetadataSupport()
	fmt.Printf("File:      %s\n", path)
	fmt.Printf("Readable:  %t\n", readable)
	fmt.Printf("Editable:  %t\n", editable)

	hasDate, _ := m.HasOriginalDate()
	switch {
	case !hasDate:
		fmt.Println("Original:  (none)")
	default:
		date, err := m.OriginalDate()
		if err != nil {
			return err
		}
		if session.IsMinDate(date) {
			fmt.Printf("Original:  %s (invalid)\n", m.OriginalDateString())
		} else {
			fmt.Printf("Original:  %s\n", m.OriginalDateString())
		}
	}
	if modified, err := m.File().ModifyDate(); err == nil {
		fmt.Printf("Modified:  %s\n", modified.Format(session.FileDateLayout))
	}
	if camera := strings.TrimSpace(m.Exif().CameraMake() + " " + m.Exif().CameraModel()); camera != "" {
		fmt.Printf("Camera:    %s\n", camera)
	}

	if !quiet {
		fmt.Println()
		fmt.Print(m.String())
	}
	return nil
}

// runSetDate writes the original date of path.
func runSetDate(ctx context.Context, path, value string) error {
	date := session.ParseMetaDate(value)
	if session.IsMinDate(date) {
		return fmt.Errorf("invalid date %q, expected YYYY:MM:DD HH:MM:SS", value)
	}

	log := setupLogger(cfg)
	runner, _ := newRunner()
	m := newManager(runner, log)

	if err := m.Load(ctx, path); err != nil {
		return err
	}
	if !m.Loaded() {
		return fmt.Errorf("exiftool could not read %s", path)
	}
	if err := m.SetOriginalDate(date); err != nil {
		return err
	}

	saved, err := m.Save(ctx, outputName, overwrite)
	if err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	if !saved {
		return fmt.Errorf("exiftool left %s unchanged", path)
	}
	if !quiet {
		fmt.Printf("Original date of %s set to %s\n", path, session.FormatMetaDate(date))
	}
	return nil
}

// runScan scans dir and prints statistics.
func runScan(ctx context.Context, dir string) error {
	if !dirExists(dir) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}
	if fixMissing {
		cfg.Scan.FixMissing = true
	}
	if dryRun {
		cfg.Scan.DryRun = true
	}
	if overwrite {
		cfg.Scan.Overwrite = true
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	log := setupLogger(cfg)
	runner, m := newRunner()
	stats := statistics.NewStatistics()
	s, release := newScanner(runner, m, log, stats)
	defer release()

	fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", dir)

	results, err := s.ScanDirectory(ctx, dir)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scan failed: %w", err)
	}

	if !quiet {
		for _, r := range results {
			fmt.Println(describe(r))
		}
		fmt.Println("\n" + stats.GetSummary())
	}
	return err
}

// runWatch processes new files in dirs until interrupted.
func runWatch(ctx context.Context, dirs []string) error {
	if fixMissing {
		cfg.Scan.FixMissing = true
	}
	if dryRun {
		cfg.Scan.DryRun = true
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	log := setupLogger(cfg)
	runner, m := newRunner()
	s, release := newScanner(runner, m, log, statistics.NewStatistics())
	defer release()

	handle := func(ctx context.Context, path string) {
		result, err := s.ProcessFile(ctx, path)
		if err != nil {
			logger.WithFileOperation(log, path, "watch").WithError(err).Error("Failed to process file")
			return
		}
		fmt.Println(describe(result))
	}
	filter := func(path string) bool {
		return manager.IsReadable(path) && cfg.ScanExtension(keywords.ExtensionOf(path))
	}

	w, err := watcher.New(dirs, watcher.Options{Recursive: recursive, Filter: filter}, handle, log, m)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Watching %d directories, press Ctrl+C to stop\n", w.WatchedDirs())
	return w.Run(ctx)
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	log := setupLogger(cfg)
	runner, m := newRunner()
	server := web.NewServer(cfg, runner, log, m, nil)

	if port == 0 {
		port = cfg.Server.Port
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("exiftool-manager API listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// describe renders one scan result as a single line.
func describe(r scanner.Result) string {
	switch {
	case r.Error != "":
		return fmt.Sprintf("ERROR    %s: %s", r.Path, r.Error)
	case !r.Readable:
		return fmt.Sprintf("SKIPPED  %s", r.Path)
	case r.Fixed:
		return fmt.Sprintf("FIXED    %s -> %s", r.Path, r.DateString)
	case r.WouldFix:
		return fmt.Sprintf("WOULDFIX %s -> %s", r.Path, r.DateString)
	case r.Invalid:
		return fmt.Sprintf("INVALID  %s (%s)", r.Path, r.Source)
	case r.HasDate:
		return fmt.Sprintf("OK       %s %s (%s)", r.Path, r.DateString, r.Source)
	default:
		return fmt.Sprintf("NODATE   %s", r.Path)
	}
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
