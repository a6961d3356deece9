package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MetaDateLayout is the ExifTool representation of EXIF and QuickTime dates.
const MetaDateLayout = "2006:01:02 15:04:05"

// FileDateLayout is the ExifTool representation of filesystem dates.
const FileDateLayout = "2006:01:02 15:04:05-07:00"

// MinDate is returned by ParseMetaDate for values that are present but not a date.
// Embedded dates carry no zone; they are held as wall clock values in UTC.
var MinDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrDateShape is returned by DecodeMetaDate for values missing the date or
// time token, or one of their three parts.
var ErrDateShape = errors.New("not a Y:M:D H:M:S value")

// ParseMetaDate converts an embedded metadata date ("Y:M:D H:M:S") to a time.
// Tokens after the time are ignored. Any malformed value yields MinDate.
func ParseMetaDate(value string) time.Time {
	t, err := DecodeMetaDate(value)
	if err != nil {
		return MinDate
	}
	return t
}

// DecodeMetaDate is ParseMetaDate telling shape apart from content. A value
// without a date token and a time token of at least three parts each returns
// ErrDateShape. A well shaped value whose parts are not numbers, or do not
// form a real date, returns MinDate and no error. Parts after the third are
// ignored.
func DecodeMetaDate(value string) (time.Time, error) {
	tokens := strings.Fields(value)
	if len(tokens) == 0 {
		return MinDate, ErrDateShape
	}

	// number checks run before shape checks, token by token
	ymd, ok := splitInts(tokens[0])
	if !ok {
		return MinDate, nil
	}
	if len(tokens) < 2 {
		return MinDate, ErrDateShape
	}
	hms, ok := splitInts(tokens[1])
	if !ok {
		return MinDate, nil
	}
	if len(ymd) < 3 || len(hms) < 3 {
		return MinDate, ErrDateShape
	}

	t, ok := civil(ymd, hms, time.UTC)
	if !ok {
		return MinDate, nil
	}
	return t, nil
}

// IsMinDate reports whether t is the MinDate sentinel.
func IsMinDate(t time.Time) bool {
	return t.Equal(MinDate)
}

// ParseFileDate converts a filesystem date ("Y:M:D H:M:S+HH:MM") to a time
// in the fixed zone given by the suffix.
func ParseFileDate(value string) (time.Time, error) {
	t, err := time.Parse(FileDateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid file date %q: %w", value, err)
	}
	return t, nil
}

// FormatMetaDate renders the wall clock of t as "YYYY:MM:DD HH:MM:SS".
func FormatMetaDate(t time.Time) string {
	return t.Format(MetaDateLayout)
}

// DateArg returns the exiftool argument writing t into tag.
func DateArg(tag string, t time.Time) string {
	return "-" + tag + "=" + FormatMetaDate(t)
}

func splitInts(token string) ([]int, bool) {
	parts := strings.Split(token, ":")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// civil builds a time and rejects values time.Date would normalise.
func civil(ymd, hms []int, loc *time.Location) (time.Time, bool) {
	if ymd[0] < 1 || ymd[0] > 9999 {
		return time.Time{}, false
	}
	if hms[0] < 0 || hms[0] > 23 || hms[1] < 0 || hms[1] > 59 || hms[2] < 0 || hms[2] > 59 {
		return time.Time{}, false
	}

	t := time.Date(ymd[0], time.Month(ymd[1]), ymd[2], hms[0], hms[1], hms[2], 0, loc)
	if t.Year() != ymd[0] || int(t.Month()) != ymd[1] || t.Day() != ymd[2] {
		return time.Time{}, false
	}
	return t, true
}
