package manager

import (
	"time"

	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"
)

// QuickTimeAccessor gives access to the QuickTime group of MOV and MP4 style files.
type QuickTimeAccessor struct {
	groupAccessor
}

// NewQuickTimeAccessor returns a QuickTimeAccessor reading from s.
func NewQuickTimeAccessor(s *session.Session) *QuickTimeAccessor {
	return &QuickTimeAccessor{newGroupAccessor(s, keywords.GroupQuickTime)}
}

// HasOriginalDateField reports whether QuickTime:CreateDate exists.
func (a *QuickTimeAccessor) HasOriginalDateField() bool {
	return a.hasField(keywords.FieldCreateDate)
}

// HasOriginalDate reports whether QuickTime:CreateDate can be read.
func (a *QuickTimeAccessor) HasOriginalDate() bool {
	return a.hasDate(keywords.FieldCreateDate)
}

// OriginalDate returns QuickTime:CreateDate.
func (a *QuickTimeAccessor) OriginalDate() (time.Time, error) {
	return a.metaDate(keywords.FieldCreateDate)
}

// OriginalDateString returns QuickTime:CreateDate as exiftool printed it.
func (a *QuickTimeAccessor) OriginalDateString() (string, error) {
	return a.s.Get(a.tag(keywords.FieldCreateDate))
}

// SetOriginalDate queues QuickTime:CreateDate.
func (a *QuickTimeAccessor) SetOriginalDate(t time.Time) {
	a.setDate(keywords.FieldCreateDate, t)
}

// Comment returns QuickTime:Comment.
func (a *QuickTimeAccessor) Comment() (string, error) {
	return a.s.Get(a.tag(keywords.FieldComment))
}

// SetComment queues QuickTime:Comment.
func (a *QuickTimeAccessor) SetComment(comment string) {
	a.s.Set(a.tag(keywords.FieldComment), comment)
}
