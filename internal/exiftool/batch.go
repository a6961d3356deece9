package exiftool

import (
	"fmt"
	"sync"

	"github.com/barasher/go-exiftool"
)

// Record is the grouped metadata of one file read by a BatchReader.
type Record struct {
	Path   string
	Fields map[string]string
	Err    error
}

// BatchReader keeps a single "-stay_open" exiftool process and reads
// grouped ("-G") metadata for many files through it.
//
// go-exiftool decodes numbers as float64, so numeric tags come back in
// shortest form ("12.4" where DecodeJSON keeps "12.40"). Date and text tags
// are strings and are not affected.
type BatchReader struct {
	et *exiftool.Exiftool
	mu sync.Mutex
}

// NewBatchReader starts the exiftool process found at path.
func NewBatchReader(path string) (*BatchReader, error) {
	opts := []func(*exiftool.Exiftool) error{
		exiftool.PrintGroupNames("0"),
	}
	if path != "" && path != DefaultPath {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(path))
	}

	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exiftool: %w", err)
	}
	return &BatchReader{et: et}, nil
}

// Read extracts metadata for the given files. Records keep the input order.
func (b *BatchReader) Read(paths ...string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := b.et.ExtractMetadata(paths...)
	records := make([]Record, len(infos))
	for i, fi := range infos {
		records[i] = Record{Path: fi.File, Err: fi.Err}
		if fi.Err == nil {
			records[i].Fields = Flatten(fi.Fields)
		}
	}
	return records
}

// Close terminates the underlying exiftool process.
func (b *BatchReader) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.et.Close()
}
