package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"exiftool-manager/internal/config"
	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/extractor"
	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/logger"
	"exiftool-manager/internal/manager"
	"exiftool-manager/internal/metrics"
	"exiftool-manager/internal/session"
	"exiftool-manager/internal/statistics"

	"github.com/sirupsen/logrus"
)

// ErrExiftoolMissing is returned by ScanDirectory when exiftool does not
// answer and no native fallback is available.
var ErrExiftoolMissing = errors.New("exiftool not detected and native fallback disabled")

// SourceNative marks dates read with the goexif fallback.
const SourceNative = "native"

// Result labels used for metrics.
const (
	resultWithDate    = "with_date"
	resultWithoutDate = "without_date"
	resultUnreadable  = "unreadable"
	resultError       = "error"
)

// LogHookFunc receives user-facing progress lines (for example to forward
// them over a WebSocket).
type LogHookFunc func(level, message string)

// MetadataReader reads grouped metadata for many files at once.
// *exiftool.BatchReader implements it.
type MetadataReader interface {
	Read(paths ...string) []exiftool.Record
}

// FileInfo describes a discovered file.
type FileInfo struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Extension string
}

// Result is what a scan learned about one file.
type Result struct {
	Path       string    `json:"path"`
	Readable   bool      `json:"readable"`
	Editable   bool      `json:"editable"`
	HasDate    bool      `json:"has_date"`
	Date       time.Time `json:"date,omitempty"`
	DateString string    `json:"date_string,omitempty"`
	Invalid    bool      `json:"invalid,omitempty"`
	Source     string    `json:"source,omitempty"`
	Fixed      bool      `json:"fixed,omitempty"`
	WouldFix   bool      `json:"would_fix,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Scanner reports and optionally fixes the original dates of a directory tree.
type Scanner struct {
	config    *config.Config
	runner    exiftool.Runner
	logger    logrus.FieldLogger
	stats     *statistics.Statistics
	metrics   *metrics.Metrics
	extractor extractor.DateExtractor
	batch     MetadataReader
	logHook   LogHookFunc
	workers   int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExtractor sets the reader used when exiftool is missing.
func WithExtractor(e extractor.DateExtractor) Option {
	return func(s *Scanner) { s.extractor = e }
}

// WithBatchReader makes workers read metadata in batches through r.
func WithBatchReader(r MetadataReader) Option {
	return func(s *Scanner) { s.batch = r }
}

// WithMetrics records scan results in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithLogHook forwards progress lines to hook.
func WithLogHook(hook LogHookFunc) Option {
	return func(s *Scanner) { s.logHook = hook }
}

// New returns a Scanner running exiftool through runner.
func New(cfg *config.Config, runner exiftool.Runner, logger logrus.FieldLogger, stats *statistics.Statistics, opts ...Option) *Scanner {
	workers := cfg.Scan.Workers
	if workers <= 0 {
		workers = 4
	}
	s := &Scanner{
		config:  cfg,
		runner:  runner,
		logger:  logger,
		stats:   stats,
		workers: workers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the statistics the scanner updates.
func (s *Scanner) Stats() *statistics.Statistics {
	return s.stats
}

// ScanDirectory inspects every known media file under dir. Results keep the
// discovery order; a cancelled scan returns what was done and ctx.Err().
func (s *Scanner) ScanDirectory(ctx context.Context, dir string) ([]Result, error) {
	s.logger.Infof("Starting scan of %s", dir)
	s.stats.StartTime = time.Now()
	defer s.stats.Finalize()

	native, err := s.useNative(ctx)
	if err != nil {
		return nil, err
	}

	files, err := s.discoverFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		s.logger.Info("No media files found to scan")
		return nil, nil
	}
	s.logger.Infof("Found %d media files to scan", len(files))

	if s.config.Scan.DryRun && s.config.Scan.FixMissing {
		s.logger.Info("Running in dry-run mode - no file will be modified")
	}

	results := s.processFiles(ctx, files, native)
	if cached, ok := s.extractor.(extractor.CachedDateExtractor); ok && native {
		cache := cached.GetCacheStats()
		s.logger.Infof("Native EXIF cache: %d hits, %d misses (%.1f%% hit rate)", cache.Hits, cache.Misses, cache.HitRate*100)
	}

	done := results[:0]
	for _, r := range results {
		if r.Path != "" {
			done = append(done, r)
		}
	}
	s.logger.Info("Scan completed")
	return done, ctx.Err()
}

// ProcessFile inspects a single file, fixing it when configured to.
func (s *Scanner) ProcessFile(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory", path)
	}

	native, err := s.useNative(ctx)
	if err != nil {
		return Result{}, err
	}

	file := s.fileInfo(path, info)
	s.stats.IncrementFilesFound()
	s.stats.IncrementFileType(file.Extension)

	if native {
		return s.processNative(file), nil
	}
	return s.processFile(ctx, s.newManager(), file, nil), nil
}

// useNative reports whether exiftool is missing and the fallback applies.
func (s *Scanner) useNative(ctx context.Context) (bool, error) {
	if exiftool.Detected(ctx, s.runner, s.config.Exiftool.Path) {
		return false, nil
	}
	if s.config.Scan.NativeFallback && s.extractor != nil {
		s.logger.Warn("exiftool not detected, reading EXIF dates natively")
		return true, nil
	}
	return false, ErrExiftoolMissing
}

func (s *Scanner) newManager() *manager.Manager {
	opts := session.Options{
		ExiftoolPath: s.config.Exiftool.Path,
		Timeout:      s.config.Exiftool.Timeout,
	}
	return manager.New(session.New(s.runner, opts, s.logger))
}

// discoverFiles finds every file whose extension the taxonomy knows.
func (s *Scanner) discoverFiles(dir string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, session.BackupSuffix) {
			return nil
		}

		ext := keywords.ExtensionOf(path)
		if !knownExtension(path, ext) || !s.config.ScanExtension(ext) {
			return nil
		}

		files = append(files, s.fileInfo(path, info))
		s.stats.IncrementFilesFound()
		s.stats.IncrementFileType(ext)
		return nil
	})

	return files, err
}

func (s *Scanner) fileInfo(path string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Extension: keywords.ExtensionOf(path),
	}
}

func knownExtension(path, ext string) bool {
	return manager.IsReadable(path) || keywords.IsImage(ext) || keywords.IsAudio(ext) || keywords.IsVideo(ext)
}

// job is a contiguous range of files handled by one worker.
type job struct {
	start, end int
}

// processFiles runs the worker pool. Each worker owns its Manager; with a
// batch reader a job covers BatchSize files, otherwise a single one.
func (s *Scanner) processFiles(ctx context.Context, files []FileInfo, native bool) []Result {
	results := make([]Result, len(files))

	size := 1
	if s.batch != nil && !native {
		size = s.config.Scan.BatchSize
	}

	var wg sync.WaitGroup
	jobs := make(chan job, s.workers)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, jobs, files, results, native)
		}()
	}

	go func() {
		defer close(jobs)
		for start := 0; start < len(files); start += size {
			end := min(start+size, len(files))
			select {
			case jobs <- job{start, end}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return results
}

func (s *Scanner) worker(ctx context.Context, jobs <-chan job, files []FileInfo, results []Result, native bool) {
	m := s.newManager()

	for j := range jobs {
		batch := files[j.start:j.end]

		if native {
			for i, file := range batch {
				results[j.start+i] = s.processNative(file)
			}
			continue
		}

		var records []exiftool.Record
		if s.batch != nil {
			paths := make([]string, len(batch))
			for i, file := range batch {
				paths[i] = file.Path
			}
			records = s.batch.Read(paths...)
		}

		for i, file := range batch {
			if ctx.Err() != nil {
				return
			}
			var fields map[string]string
			if i < len(records) && records[i].Err == nil {
				fields = records[i].Fields
			}
			results[j.start+i] = s.processFile(ctx, m, file, fields)
		}
	}
}

// processFile evaluates one file with m. Fields from a batch read are
// adopted; without them the file is loaded.
func (s *Scanner) processFile(ctx context.Context, m *manager.Manager, file FileInfo, fields map[string]string) Result {
	s.stats.IncrementFilesProcessed()
	result := Result{Path: file.Path}
	log := logger.WithFile(s.logger, file.Path)

	if fields != nil && m.Adopt(file.Path, fields) {
		s.stats.AddBatchReads(1)
	} else if err := m.Load(ctx, file.Path); err != nil {
		return s.fail(result, "load", err)
	}
	if !m.Loaded() {
		return s.fail(result, "load", errors.New("exiftool could not read the file"))
	}

	result.Readable, _ = m.HasReadableMetadataSupport()
	result.Editable, _ = m.HasEditableMetadataSupport()
	if !result.Readable {
		log.Debug("No readable original date support")
		s.stats.IncrementFilesSkipped()
		s.observe(resultUnreadable)
		return result
	}
	s.stats.IncrementFilesReadable()
	if result.Editable {
		s.stats.IncrementFilesEditable()
	}

	if a := dateAccessor(m); a != nil {
		result.HasDate = true
		result.Date, _ = a.OriginalDate()
		result.DateString, _ = a.OriginalDateString()
		result.Source = a.Group().String()
		result.Invalid = session.IsMinDate(result.Date)
		if result.Invalid {
			s.stats.IncrementInvalidDates()
		}
		s.stats.IncrementFilesWithDate(result.Source)
		s.observe(resultWithDate)
		s.emit("info", fmt.Sprintf("%s: original date %s (%s)", file.Path, result.DateString, result.Source))
		return result
	}

	s.stats.IncrementFilesWithoutDate()
	s.observe(resultWithoutDate)
	if !s.config.Scan.FixMissing || !result.Editable {
		s.emit("info", fmt.Sprintf("%s: no original date", file.Path))
		return result
	}

	return s.fix(ctx, m, result)
}

// fix sets the missing original date from the filesystem modification date
// exiftool reported.
func (s *Scanner) fix(ctx context.Context, m *manager.Manager, result Result) Result {
	modified, err := m.File().ModifyDate()
	if err != nil {
		return s.fail(result, "fix", fmt.Errorf("no usable %s: %w", keywords.TagFileModifyDate, err))
	}

	// HasDate keeps describing the file as scanned
	result.DateString = session.FormatMetaDate(modified)

	if s.config.Scan.DryRun {
		msg := fmt.Sprintf("DRY-RUN: Would set original date of %s to %s", result.Path, session.FormatMetaDate(modified))
		s.logger.Info(msg)
		s.emit("info", msg)
		result.WouldFix = true
		s.stats.IncrementDatesWouldFix()
		if s.metrics != nil {
			s.metrics.IncDatesFixed(true)
		}
		return result
	}

	if err := m.SetOriginalDate(modified); err != nil {
		return s.fail(result, "fix", err)
	}
	ok, err := m.Save(ctx, "", s.config.Scan.Overwrite)
	if err != nil {
		return s.fail(result, "save", err)
	}
	if !ok {
		s.stats.IncrementFixesUnchanged()
		s.emit("warning", fmt.Sprintf("%s: exiftool left the file unchanged", result.Path))
		return result
	}

	result.Fixed = true
	s.stats.IncrementDatesFixed()
	if s.metrics != nil {
		s.metrics.IncDatesFixed(false)
	}
	s.emit("info", fmt.Sprintf("%s: original date set to %s", result.Path, session.FormatMetaDate(modified)))
	return result
}

// processNative reads the original date with the goexif fallback. It never writes.
func (s *Scanner) processNative(file FileInfo) Result {
	s.stats.IncrementFilesProcessed()
	s.stats.IncrementNativeFallbacks()
	result := Result{Path: file.Path}

	if !s.extractor.SupportsFile(file.Path) {
		s.stats.IncrementFilesSkipped()
		s.observe(resultUnreadable)
		return result
	}
	result.Readable = true
	s.stats.IncrementFilesReadable()

	date, err := s.extractor.ExtractDate(file.Path)
	switch {
	case errors.Is(err, extractor.ErrNoDate):
		s.stats.IncrementFilesWithoutDate()
		s.observe(resultWithoutDate)
		if s.config.Scan.FixMissing {
			logger.WithFileOperation(s.logger, file.Path, "fix").Warn("Cannot fix original date without exiftool")
		}
		return result
	case err != nil:
		return s.fail(result, "native", err)
	}

	result.HasDate = true
	result.Date = date.Date
	result.DateString = date.Raw
	result.Source = SourceNative
	result.Invalid = session.IsMinDate(date.Date)
	if result.Invalid {
		s.stats.IncrementInvalidDates()
	}
	s.stats.IncrementFilesWithDate(SourceNative)
	s.observe(resultWithDate)
	return result
}

func (s *Scanner) fail(result Result, operation string, err error) Result {
	logger.WithFileOperation(s.logger, result.Path, operation).WithError(err).Errorf("Scan %s failed", operation)
	s.stats.AddError(result.Path, operation, err.Error())
	s.observe(resultError)
	s.emit("error", fmt.Sprintf("%s: %s failed: %v", result.Path, operation, err))
	result.Error = err.Error()
	return result
}

func (s *Scanner) observe(result string) {
	if s.metrics != nil {
		s.metrics.IncFilesScanned(result)
	}
}

func (s *Scanner) emit(level, message string) {
	if s.logHook != nil {
		s.logHook(level, message)
	}
}

// dateAccessor returns the accessor the original date is read from, or nil.
func dateAccessor(m *manager.Manager) manager.Accessor {
	for _, a := range m.Accessors() {
		if a.HasOriginalDate() {
			return a
		}
	}
	return nil
}
