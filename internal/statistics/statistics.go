package statistics

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxErrorsShown caps the error list in GetErrorSummary.
const maxErrorsShown = 10

// Statistics contains the counters of one directory scan.
type Statistics struct {
	FilesFound       int64
	FilesProcessed   int64
	FilesSkipped     int64
	FilesReadable    int64
	FilesEditable    int64
	FilesWithDate    int64
	FilesWithoutDate int64
	InvalidDates     int64
	FilesWithErrors  int64

	DatesFixed      int64
	DatesWouldFix   int64
	FixesUnchanged  int64
	NativeFallbacks int64
	BatchReads      int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	FileTypeStats map[string]int64
	DateSources   map[string]int64
}

// StatError represents an error that occurred during a scan.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the counters, safe to serialise.
type Snapshot struct {
	FilesFound       int64            `json:"files_found"`
	FilesProcessed   int64            `json:"files_processed"`
	FilesSkipped     int64            `json:"files_skipped"`
	FilesReadable    int64            `json:"files_readable"`
	FilesEditable    int64            `json:"files_editable"`
	FilesWithDate    int64            `json:"files_with_date"`
	FilesWithoutDate int64            `json:"files_without_date"`
	InvalidDates     int64            `json:"invalid_dates"`
	FilesWithErrors  int64            `json:"files_with_errors"`
	DatesFixed       int64            `json:"dates_fixed"`
	DatesWouldFix    int64            `json:"dates_would_fix"`
	FixesUnchanged   int64            `json:"fixes_unchanged"`
	NativeFallbacks  int64            `json:"native_fallbacks"`
	BatchReads       int64            `json:"batch_reads"`
	Duration         string           `json:"duration"`
	FilesPerSecond   float64          `json:"files_per_second"`
	FileTypes        map[string]int64 `json:"file_types"`
	DateSources      map[string]int64 `json:"date_sources"`
	Errors           []StatError      `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		DateSources:   make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

func (s *Statistics) IncrementFilesFound()       { atomic.AddInt64(&s.FilesFound, 1) }
func (s *Statistics) IncrementFilesProcessed()   { atomic.AddInt64(&s.FilesProcessed, 1) }
func (s *Statistics) IncrementFilesSkipped()     { atomic.AddInt64(&s.FilesSkipped, 1) }
func (s *Statistics) IncrementFilesReadable()    { atomic.AddInt64(&s.FilesReadable, 1) }
func (s *Statistics) IncrementFilesEditable()    { atomic.AddInt64(&s.FilesEditable, 1) }
func (s *Statistics) IncrementFilesWithoutDate() { atomic.AddInt64(&s.FilesWithoutDate, 1) }
func (s *Statistics) IncrementInvalidDates()     { atomic.AddInt64(&s.InvalidDates, 1) }
func (s *Statistics) IncrementDatesFixed()       { atomic.AddInt64(&s.DatesFixed, 1) }
func (s *Statistics) IncrementDatesWouldFix()    { atomic.AddInt64(&s.DatesWouldFix, 1) }
func (s *Statistics) IncrementFixesUnchanged()   { atomic.AddInt64(&s.FixesUnchanged, 1) }
func (s *Statistics) IncrementNativeFallbacks()  { atomic.AddInt64(&s.NativeFallbacks, 1) }

// AddBatchReads counts files whose metadata came from a stay-open batch.
func (s *Statistics) AddBatchReads(n int) {
	atomic.AddInt64(&s.BatchReads, int64(n))
}

// IncrementFilesWithDate counts a file whose original date came from source
// (a group name, or "native" for the fallback reader).
func (s *Statistics) IncrementFilesWithDate(source string) {
	atomic.AddInt64(&s.FilesWithDate, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.DateSources[source]++
}

// IncrementFileType increases the count for a specific extension by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[fileType]++
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	atomic.AddInt64(&s.FilesWithErrors, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(atomic.LoadInt64(&s.FilesProcessed)) / s.Duration.Seconds()
	}
}

// Snapshot copies the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := Snapshot{
		FilesFound:       atomic.LoadInt64(&s.FilesFound),
		FilesProcessed:   atomic.LoadInt64(&s.FilesProcessed),
		FilesSkipped:     atomic.LoadInt64(&s.FilesSkipped),
		FilesReadable:    atomic.LoadInt64(&s.FilesReadable),
		FilesEditable:    atomic.LoadInt64(&s.FilesEditable),
		FilesWithDate:    atomic.LoadInt64(&s.FilesWithDate),
		FilesWithoutDate: atomic.LoadInt64(&s.FilesWithoutDate),
		InvalidDates:     atomic.LoadInt64(&s.InvalidDates),
		FilesWithErrors:  atomic.LoadInt64(&s.FilesWithErrors),
		DatesFixed:       atomic.LoadInt64(&s.DatesFixed),
		DatesWouldFix:    atomic.LoadInt64(&s.DatesWouldFix),
		FixesUnchanged:   atomic.LoadInt64(&s.FixesUnchanged),
		NativeFallbacks:  atomic.LoadInt64(&s.NativeFallbacks),
		BatchReads:       atomic.LoadInt64(&s.BatchReads),
		Duration:         s.Duration.String(),
		FilesPerSecond:   s.FilesPerSecond,
		FileTypes:        make(map[string]int64, len(s.FileTypeStats)),
		DateSources:      make(map[string]int64, len(s.DateSources)),
		Errors:           slices.Clone(s.Errors),
	}
	for k, v := range s.FileTypeStats {
		snap.FileTypes[k] = v
	}
	for k, v := range s.DateSources {
		snap.DateSources[k] = v
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Scan Statistics Summary:

Files:
		Found: %d
		Processed: %d
		Skipped: %d
		Errors: %d

Metadata:
		Readable: %d
		Editable: %d
		With Original Date: %d
		Without Original Date: %d
		Invalid Dates: %d
		Native Fallback: %d
		Batch Reads: %d

Fixes:
		Written: %d
		Dry Run: %d
		Unchanged: %d

Performance:
		Duration: %s
		Files/Second: %.2f`,
		snap.FilesFound,
		snap.FilesProcessed,
		snap.FilesSkipped,
		snap.FilesWithErrors,
		snap.FilesReadable,
		snap.FilesEditable,
		snap.FilesWithDate,
		snap.FilesWithoutDate,
		snap.InvalidDates,
		snap.NativeFallbacks,
		snap.BatchReads,
		snap.DatesFixed,
		snap.DatesWouldFix,
		snap.FixesUnchanged,
		snap.Duration,
		snap.FilesPerSecond)
}

// GetFileTypeBreakdown returns a formatted breakdown of extensions processed.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	types := make([]string, 0, len(s.FileTypeStats))
	for t := range s.FileTypeStats {
		types = append(types, t)
	}
	slices.Sort(types)

	var b strings.Builder
	b.WriteString("File Type Breakdown:\n")
	for _, t := range types {
		fmt.Fprintf(&b, "  %s: %d\n", t, s.FileTypeStats[t])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= maxErrorsShown {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-maxErrorsShown)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}
