package manager

import (
	"fmt"
	"time"

	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"
)

// Accessor reads and writes the original date kept by one tag group.
type Accessor interface {
	Group() keywords.Group
	Descriptor() keywords.Descriptor

	// HasOriginalDateField reports whether the tag exists, whatever its value.
	HasOriginalDateField() bool
	// HasOriginalDate reports whether the tag exists and reads as a date.
	HasOriginalDate() bool
	OriginalDate() (time.Time, error)
	OriginalDateString() (string, error)
	// SetOriginalDate queues the tag for the next save.
	SetOriginalDate(t time.Time)
}

// groupAccessor carries what every accessor needs.
type groupAccessor struct {
	s     *session.Session
	group keywords.Group
	desc  keywords.Descriptor
}

func newGroupAccessor(s *session.Session, g keywords.Group) groupAccessor {
	return groupAccessor{s: s, group: g, desc: keywords.MustLookup(g)}
}

func (a groupAccessor) Group() keywords.Group {
	return a.group
}

func (a groupAccessor) Descriptor() keywords.Descriptor {
	return a.desc
}

func (a groupAccessor) tag(field string) string {
	return a.desc.Tag(field)
}

func (a groupAccessor) hasField(field string) bool {
	return a.s.Has(a.tag(field))
}

// hasDate reports whether field is present and shaped like a date. A shaped
// value that is not a real date still counts and reads as session.MinDate.
func (a groupAccessor) hasDate(field string) bool {
	_, err := a.metaDate(field)
	return err == nil
}

func (a groupAccessor) metaDate(field string) (time.Time, error) {
	v, err := a.s.Get(a.tag(field))
	if err != nil {
		return time.Time{}, err
	}
	t, err := session.DecodeMetaDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s=%q: %w", a.tag(field), v, err)
	}
	return t, nil
}

func (a groupAccessor) fileDate(field string) (time.Time, error) {
	v, err := a.s.Get(a.tag(field))
	if err != nil {
		return time.Time{}, err
	}
	return session.ParseFileDate(v)
}

func (a groupAccessor) setDate(field string, t time.Time) {
	a.s.SetDate(a.tag(field), t)
}
