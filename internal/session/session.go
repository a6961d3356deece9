package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/logger"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every exiftool invocation unless configured otherwise.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUsage marks calls that break a documented precondition.
	ErrUsage = errors.New("invalid session usage")
	// ErrFieldNotFound is returned by Get for tags the loaded file does not have.
	ErrFieldNotFound = errors.New("field not found")
)

// Options configures a Session.
type Options struct {
	ExiftoolPath string
	Timeout      time.Duration
}

// Session holds the metadata of one loaded file and the edits queued for it.
// A Session is not safe for concurrent use.
type Session struct {
	runner  exiftool.Runner
	logger  logrus.FieldLogger
	tool    string
	timeout time.Duration

	filePath string
	loaded   bool
	fields   map[string]string
	commands []string
}

// New returns an empty Session invoking exiftool through runner.
func New(runner exiftool.Runner, opts Options, logger logrus.FieldLogger) *Session {
	if opts.ExiftoolPath == "" {
		opts.ExiftoolPath = exiftool.DefaultPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Session{
		runner:  runner,
		logger:  logger,
		tool:    opts.ExiftoolPath,
		timeout: opts.Timeout,
		fields:  map[string]string{},
	}
}

// Load reads the metadata of path, replacing whatever was loaded before.
//
// A file exiftool can not read is not an error: the failure is logged and
// Loaded reports false. Errors are returned only for a path that is not a
// regular file (ErrUsage) and for an invocation that times out or is cancelled.
func (s *Session) Load(ctx context.Context, path string) error {
	if !isRegularFile(path) {
		return fmt.Errorf("%w: file not found -> %s", ErrUsage, path)
	}

	log := logger.WithFile(s.logger, path)
	log.Info("[ExiftoolMgr] Loading file")

	s.filePath = path
	s.loaded = false
	s.commands = nil
	s.fields = map[string]string{}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.runner.Run(ctx, []string{s.tool, "-G", "-J", path})
	if err != nil {
		if errors.Is(err, exiftool.ErrTimeout) || errors.Is(err, context.Canceled) {
			return err
		}
		log.WithError(err).Error("File not loaded")
		return nil
	}

	if !strings.Contains(raw, keywords.TagToolVersion) {
		log.Errorf("File not loaded, loading error: %s", strings.TrimSpace(raw))
		return nil
	}

	fields, err := exiftool.DecodeJSON(raw)
	if err != nil {
		log.WithError(err).Error("File not loaded")
		return nil
	}

	s.fields = fields
	s.commands = s.baseline()
	s.loaded = true
	log.Debugf("Loaded %d fields", len(fields))
	return nil
}

// Adopt installs fields read elsewhere (for example by a BatchReader) as if
// Load had returned them for path. The tool version marker is required.
func (s *Session) Adopt(path string, fields map[string]string) bool {
	s.filePath = path
	s.loaded = false
	s.commands = nil
	s.fields = map[string]string{}

	if _, ok := fields[keywords.TagToolVersion]; !ok {
		logger.WithFile(s.logger, path).Error("File not adopted: missing exiftool version marker")
		return false
	}

	s.fields = make(map[string]string, len(fields))
	for k, v := range fields {
		s.fields[k] = v
	}
	s.commands = s.baseline()
	s.loaded = true
	return true
}

// Loaded reports whether the last Load succeeded.
func (s *Session) Loaded() bool {
	return s.loaded
}

// FilePath returns the last file passed to Load, or "" before any load.
func (s *Session) FilePath() string {
	return s.filePath
}

// Has reports whether the loaded file carries tag.
func (s *Session) Has(tag string) bool {
	_, ok := s.fields[tag]
	return ok
}

// Get returns the raw value of tag. Check Has first: a missing tag is ErrFieldNotFound.
func (s *Session) Get(tag string) (string, error) {
	v, ok := s.fields[tag]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFieldNotFound, tag)
	}
	return v, nil
}

// Set queues "-tag=value" for the next Save. The file is not touched.
func (s *Session) Set(tag, value string) {
	s.commands = append(s.commands, "-"+tag+"="+value)
}

// SetDate queues tag to be written with the wall clock of t.
func (s *Session) SetDate(tag string, t time.Time) {
	s.commands = append(s.commands, DateArg(tag, t))
}

// Pending reports whether edits are queued.
func (s *Session) Pending() bool {
	return s.loaded && len(s.commands) > len(s.baseline())
}

// Commands returns a copy of the command line the next Save would start from.
func (s *Session) Commands() []string {
	return slices.Clone(s.commands)
}

// Metadata returns a copy of the loaded fields.
func (s *Session) Metadata() map[string]string {
	out := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// String renders the loaded fields as an aligned "tag | value" table.
func (s *Session) String() string {
	if len(s.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(s.fields))
	width := 0
	for k := range s.fields {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%-*s | %s\n", width, k, s.fields[k])
	}
	return b.String()
}

// ToolVersion returns the version of the configured exiftool.
func (s *Session) ToolVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return exiftool.Version(ctx, s.runner, s.tool)
}

// ToolDetected reports whether the configured exiftool answers.
func (s *Session) ToolDetected(ctx context.Context) bool {
	_, err := s.ToolVersion(ctx)
	return err == nil
}

func (s *Session) baseline() []string {
	return []string{s.tool, "-P"}
}
