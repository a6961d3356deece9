package manager

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"
)

var (
	// ErrPrecondition marks calls the caller should have ruled out with a
	// Has* check first. They are programming errors, never retried.
	ErrPrecondition = errors.New("precondition violated")

	ErrNoFileLoaded         = fmt.Errorf("%w: file not loaded", ErrPrecondition)
	ErrNoOriginalDate       = fmt.Errorf("%w: no metadata original date, check HasOriginalDate first", ErrPrecondition)
	ErrUnsupportedExtension = fmt.Errorf("%w: no compatible group to set the original date, check HasEditableMetadataSupport first", ErrPrecondition)
)

// dispatchOrder lists the groups that hold an original date, in the order
// they are consulted.
var dispatchOrder = []keywords.Group{keywords.GroupExif, keywords.GroupQuickTime}

var validateOnce sync.Once

// Manager is a Session plus one accessor per supported group. It answers
// original date questions for whatever file is loaded.
type Manager struct {
	*session.Session

	exif      *ExifAccessor
	quickTime *QuickTimeAccessor
	file      *FileAccessor
	accessors []Accessor

	readable []string
	editable []string
}

// New wraps s. The built-in taxonomy is validated on first use and a
// broken one panics.
func New(s *session.Session) *Manager {
	validateOnce.Do(func() {
		keywords.MustValidate(keywords.Default())
	})

	m := &Manager{
		Session:   s,
		exif:      NewExifAccessor(s),
		quickTime: NewQuickTimeAccessor(s),
		file:      NewFileAccessor(s),
	}
	m.accessors = []Accessor{m.exif, m.quickTime}
	m.readable = ReadableExtensions()
	m.editable = EditableExtensions()
	return m
}

// Exif returns the EXIF accessor.
func (m *Manager) Exif() *ExifAccessor { return m.exif }

// QuickTime returns the QuickTime accessor.
func (m *Manager) QuickTime() *QuickTimeAccessor { return m.quickTime }

// File returns the filesystem dates accessor.
func (m *Manager) File() *FileAccessor { return m.file }

// Accessors returns the accessors in dispatch order.
func (m *Manager) Accessors() []Accessor {
	return slices.Clone(m.accessors)
}

// ReadableExtensions returns every extension whose original date can be read.
func (m *Manager) ReadableExtensions() []string {
	return slices.Clone(m.readable)
}

// EditableExtensions returns every extension whose original date can be written.
func (m *Manager) EditableExtensions() []string {
	return slices.Clone(m.editable)
}

// HasReadableMetadataSupport reports whether the loaded file's extension is readable.
func (m *Manager) HasReadableMetadataSupport() (bool, error) {
	if m.FilePath() == "" {
		return false, ErrNoFileLoaded
	}
	return slices.Contains(m.readable, keywords.ExtensionOf(m.FilePath())), nil
}

// HasEditableMetadataSupport reports whether the loaded file's extension is editable.
func (m *Manager) HasEditableMetadataSupport() (bool, error) {
	if m.FilePath() == "" {
		return false, ErrNoFileLoaded
	}
	return slices.Contains(m.editable, keywords.ExtensionOf(m.FilePath())), nil
}

// HasOriginalDateField reports whether a readable file carries an original
// date tag in any group, valid or not.
func (m *Manager) HasOriginalDateField() (bool, error) {
	return m.anyReadable(Accessor.HasOriginalDateField)
}

// HasOriginalDate reports whether a readable file carries an original date
// in any group.
func (m *Manager) HasOriginalDate() (bool, error) {
	return m.anyReadable(Accessor.HasOriginalDate)
}

func (m *Manager) anyReadable(check func(Accessor) bool) (bool, error) {
	readable, err := m.HasReadableMetadataSupport()
	if err != nil || !readable {
		return false, err
	}
	for _, a := range m.accessors {
		if check(a) {
			return true, nil
		}
	}
	return false, nil
}

// OriginalDate returns the first original date found, EXIF before QuickTime.
// Without one it returns ErrNoOriginalDate.
func (m *Manager) OriginalDate() (time.Time, error) {
	for _, a := range m.accessors {
		if a.HasOriginalDate() {
			return a.OriginalDate()
		}
	}
	return time.Time{}, ErrNoOriginalDate
}

// OriginalDateString returns the first original date tag as printed by
// exiftool, or "" when no group has one.
func (m *Manager) OriginalDateString() string {
	for _, a := range m.accessors {
		if a.HasOriginalDateField() {
			v, _ := a.OriginalDateString()
			return v
		}
	}
	return ""
}

// SetOriginalDate queues the original date in the group owning the loaded
// file's extension. Unlike the getters it looks only at the extension, not
// at which tags the file carries.
func (m *Manager) SetOriginalDate(t time.Time) error {
	if m.FilePath() == "" {
		return ErrNoFileLoaded
	}

	ext := keywords.ExtensionOf(m.FilePath())
	for _, a := range m.accessors {
		if a.Descriptor().HasExtension(ext) {
			a.SetOriginalDate(t)
			return nil
		}
	}
	return fmt.Errorf("%w (extension %q)", ErrUnsupportedExtension, ext)
}

// ReadableExtensions returns the union of the extensions of every readable
// dispatch group.
func ReadableExtensions() []string {
	return collectExtensions(func(d keywords.Descriptor) bool { return d.Readable })
}

// EditableExtensions returns the union of the extensions of every editable
// dispatch group.
func EditableExtensions() []string {
	return collectExtensions(func(d keywords.Descriptor) bool { return d.Editable })
}

// IsReadable reports whether the original date of path could be read,
// judging by the extension alone.
func IsReadable(path string) bool {
	return slices.Contains(ReadableExtensions(), keywords.ExtensionOf(path))
}

// IsEditable reports whether the original date of path could be written,
// judging by the extension alone.
func IsEditable(path string) bool {
	return slices.Contains(EditableExtensions(), keywords.ExtensionOf(path))
}

func collectExtensions(keep func(keywords.Descriptor) bool) []string {
	var out []string
	for _, g := range dispatchOrder {
		d := keywords.MustLookup(g)
		if !keep(d) {
			continue
		}
		for _, ext := range d.Extensions {
			if !slices.Contains(out, ext) {
				out = append(out, ext)
			}
		}
	}
	return out
}
