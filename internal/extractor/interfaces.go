package extractor

import (
	"errors"
	"time"
)

// ErrNoDate is returned when a file carries no original date tag.
var ErrNoDate = errors.New("no original date in EXIF")

// DateExtractor reads the original date of a file without exiftool.
type DateExtractor interface {
	ExtractDate(filePath string) (ExtractedDate, error)
	SupportsFile(filePath string) bool
}

// CachedDateExtractor extends DateExtractor with caching capabilities.
type CachedDateExtractor interface {
	DateExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	TotalQueries int64
}

// ExtractedDate is the original date found in a file. Date follows the
// exiftool session rules: a malformed Raw decodes to session.MinDate.
type ExtractedDate struct {
	Date  time.Time
	Raw   string
	Make  string
	Model string
}
