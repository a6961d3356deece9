package extractor

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// nativeExtensions are the EXIF group extensions goexif can decode: JPEG
// based containers (MPO is a JPEG sequence). PNG keeps EXIF in a chunk goexif
// does not look for.
var nativeExtensions = []string{"JPEG", "JPG", "MPO"}

// EXIFExtractor reads EXIF:DateTimeOriginal with goexif. The scanner uses it
// when exiftool is not installed.
type EXIFExtractor struct {
	logger logrus.FieldLogger
	cache  *sync.Map
	stats  CacheStats
	mutex  sync.RWMutex
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger logrus.FieldLogger) *EXIFExtractor {
	return &EXIFExtractor{
		logger: logger,
		cache:  &sync.Map{},
	}
}

// ExtractDate returns the original date of an image. Results are cached by
// path, size and modification time.
func (e *EXIFExtractor) ExtractDate(filePath string) (ExtractedDate, error) {
	if !e.SupportsFile(filePath) {
		return ExtractedDate{}, fmt.Errorf("file type not supported by extractor: %s", filePath)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return ExtractedDate{}, fmt.Errorf("failed to stat file: %w", err)
	}

	e.mutex.RLock()
	cache := e.cache
	e.mutex.RUnlock()

	key := cacheKey(filePath, fileInfo)
	if value, ok := cache.Load(key); ok {
		e.recordQuery(true)
		return value.(ExtractedDate), nil
	}
	e.recordQuery(false)

	date, err := e.extractWithGoExif(filePath)
	if err != nil {
		return ExtractedDate{}, err
	}
	cache.Store(key, date)
	return date, nil
}

// SupportsFile reports whether the file is supported by this extractor.
func (e *EXIFExtractor) SupportsFile(filePath string) bool {
	ext := keywords.ExtensionOf(filePath)
	for _, supported := range nativeExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *EXIFExtractor) ClearCache() {
	e.mutex.Lock()
	e.cache = &sync.Map{}
	e.stats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this extractor.
func (e *EXIFExtractor) GetCacheStats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	stats := e.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (e *EXIFExtractor) extractWithGoExif(filePath string) (ExtractedDate, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return ExtractedDate{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return ExtractedDate{}, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	raw, ok := stringField(x, exif.DateTimeOriginal)
	if !ok {
		return ExtractedDate{}, fmt.Errorf("%w: %s", ErrNoDate, filePath)
	}

	date := ExtractedDate{
		Date: session.ParseMetaDate(raw),
		Raw:  raw,
	}
	date.Make, _ = stringField(x, exif.Make)
	date.Model, _ = stringField(x, exif.Model)

	e.logger.Debugf("Extracted DateTimeOriginal %q with goexif for file %s", raw, filePath)
	return date, nil
}

func stringField(x *exif.Exif, name exif.FieldName) (string, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return "", false
	}
	s, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	return strings.TrimRight(s, "\x00 "), true
}

func cacheKey(filePath string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (e *EXIFExtractor) recordQuery(hit bool) {
	e.mutex.Lock()
	if hit {
		e.stats.Hits++
	} else {
		e.stats.Misses++
	}
	e.stats.TotalQueries++
	e.mutex.Unlock()
}
