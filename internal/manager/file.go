package manager

import (
	"time"

	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"
)

// FileAccessor reads the filesystem dates exiftool reports in the File group.
// It is read-only and takes no part in original date dispatch.
type FileAccessor struct {
	groupAccessor
}

// NewFileAccessor returns a FileAccessor reading from s.
func NewFileAccessor(s *session.Session) *FileAccessor {
	return &FileAccessor{newGroupAccessor(s, keywords.GroupFile)}
}

// HasModifyDate reports whether File:FileModifyDate exists and parses.
func (a *FileAccessor) HasModifyDate() bool {
	_, err := a.ModifyDate()
	return err == nil
}

// ModifyDate returns File:FileModifyDate in the zone exiftool reported.
func (a *FileAccessor) ModifyDate() (time.Time, error) {
	return a.fileDate(keywords.FieldModifyDate)
}

// AccessDate returns File:FileAccessDate.
func (a *FileAccessor) AccessDate() (time.Time, error) {
	return a.fileDate(keywords.FieldAccessDate)
}

// CreateDate returns File:FileCreateDate (only reported on some systems).
func (a *FileAccessor) CreateDate() (time.Time, error) {
	return a.fileDate(keywords.FieldCreateDate)
}
