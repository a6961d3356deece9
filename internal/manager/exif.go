package manager

import (
	"time"

	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"
)

// ExifAccessor gives access to the EXIF group of JPEG, PNG and MPO files.
type ExifAccessor struct {
	groupAccessor
}

// NewExifAccessor returns an ExifAccessor reading from s.
func NewExifAccessor(s *session.Session) *ExifAccessor {
	return &ExifAccessor{newGroupAccessor(s, keywords.GroupExif)}
}

// HasOriginalDateField reports whether EXIF:DateTimeOriginal exists.
func (a *ExifAccessor) HasOriginalDateField() bool {
	return a.hasField(keywords.FieldDateTimeOriginal)
}

// HasOriginalDate reports whether EXIF:DateTimeOriginal can be read.
func (a *ExifAccessor) HasOriginalDate() bool {
	return a.hasDate(keywords.FieldDateTimeOriginal)
}

// OriginalDate returns EXIF:DateTimeOriginal.
func (a *ExifAccessor) OriginalDate() (time.Time, error) {
	return a.metaDate(keywords.FieldDateTimeOriginal)
}

// OriginalDateString returns EXIF:DateTimeOriginal as exiftool printed it.
func (a *ExifAccessor) OriginalDateString() (string, error) {
	return a.s.Get(a.tag(keywords.FieldDateTimeOriginal))
}

// SetOriginalDate queues EXIF:DateTimeOriginal.
func (a *ExifAccessor) SetOriginalDate(t time.Time) {
	a.setDate(keywords.FieldDateTimeOriginal, t)
}

// HasModifyDate reports whether EXIF:ModifyDate can be read.
func (a *ExifAccessor) HasModifyDate() bool {
	return a.hasDate(keywords.FieldModifyDate)
}

// ModifyDate returns EXIF:ModifyDate (the EXIF "DateTime").
func (a *ExifAccessor) ModifyDate() (time.Time, error) {
	return a.metaDate(keywords.FieldModifyDate)
}

// SetModifyDate queues EXIF:ModifyDate.
func (a *ExifAccessor) SetModifyDate(t time.Time) {
	a.setDate(keywords.FieldModifyDate, t)
}

// HasDigitizedDate reports whether EXIF:CreateDate can be read.
func (a *ExifAccessor) HasDigitizedDate() bool {
	return a.hasDate(keywords.FieldDateDigitized)
}

// DigitizedDate returns EXIF:CreateDate, which exiftool uses for DateTimeDigitized.
// There is no setter: writing it is unreliable, write the original date instead.
func (a *ExifAccessor) DigitizedDate() (time.Time, error) {
	return a.metaDate(keywords.FieldDateDigitized)
}

// CameraMake returns EXIF:Make, or "" when absent.
func (a *ExifAccessor) CameraMake() string {
	v, _ := a.s.Get(a.tag(keywords.FieldCameraMake))
	return v
}

// CameraModel returns EXIF:Model, or "" when absent.
func (a *ExifAccessor) CameraModel() string {
	v, _ := a.s.Get(a.tag(keywords.FieldCameraModel))
	return v
}
