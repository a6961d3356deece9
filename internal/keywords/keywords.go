package keywords

import (
	"path/filepath"
	"slices"
	"strings"
)

// Group identifies an ExifTool tag group (https://exiftool.org/TagNames/).
type Group int

const (
	GroupExifTool Group = iota
	GroupFile
	GroupExif
	GroupQuickTime
	GroupAsf
	GroupUnclassified
)

// Semantic field names used in Descriptor.Tags.
const (
	FieldToolVersion      = "tool_version"
	FieldModifyDate       = "modify_date"
	FieldAccessDate       = "access_date"
	FieldCreateDate       = "create_date"
	FieldCameraModel      = "camera_model"
	FieldCameraMake       = "camera_make"
	FieldDateDigitized    = "date_digitized"
	FieldDateTimeOriginal = "datetime_original"
	FieldTrackCreateDate  = "track_create_date"
	FieldTrackModifyDate  = "track_modify_date"
	FieldMediaCreateDate  = "media_create_date"
	FieldMediaModifyDate  = "media_modify_date"
	FieldComment          = "comment"
)

// Tag strings as reported by "exiftool -G".
const (
	TagToolVersion = "ExifTool:ExifToolVersion"

	TagFileModifyDate = "File:FileModifyDate"
	TagFileAccessDate = "File:FileAccessDate"
	TagFileCreateDate = "File:FileCreateDate"

	TagExifModel            = "EXIF:Model"
	TagExifMake             = "EXIF:Make"
	TagExifModifyDate       = "EXIF:ModifyDate"
	TagExifCreateDate       = "EXIF:CreateDate"
	TagExifDateTimeOriginal = "EXIF:DateTimeOriginal"

	TagQuickTimeCreateDate      = "QuickTime:CreateDate"
	TagQuickTimeModifyDate      = "QuickTime:ModifyDate"
	TagQuickTimeTrackCreateDate = "QuickTime:TrackCreateDate"
	TagQuickTimeTrackModifyDate = "QuickTime:TrackModifyDate"
	TagQuickTimeMediaCreateDate = "QuickTime:MediaCreateDate"
	TagQuickTimeMediaModifyDate = "QuickTime:MediaModifyDate"
	TagQuickTimeComment         = "QuickTime:Comment"

	TagAsfCreationDate = "ASF:CreationDate"
)

// Descriptor describes what can be done with a group.
// Extensions are uppercase without the leading dot.
type Descriptor struct {
	Readable   bool
	Editable   bool
	Extensions []string
	Tags       map[string]string
}

// Tag returns the tag string for a semantic field, or "" if the group has none.
func (d Descriptor) Tag(field string) string {
	return d.Tags[field]
}

// HasExtension reports whether ext (any case, with or without dot) belongs to the group.
func (d Descriptor) HasExtension(ext string) bool {
	return slices.Contains(d.Extensions, normalizeExtension(ext))
}

// Registry maps every group to its descriptor.
type Registry map[Group]Descriptor

// Sub-lists of the Unclassified group.
var (
	unclassifiedImage = []string{"BMP"}
	unclassifiedAudio = []string{"WAV", "MP3"}
	unclassifiedVideo = []string{"AVI", "MPG"}
)

var defaultRegistry = Registry{
	GroupExifTool: {
		Readable: true,
		Tags: map[string]string{
			FieldToolVersion: TagToolVersion,
		},
	},
	GroupFile: {
		Readable: true,
		Tags: map[string]string{
			FieldModifyDate: TagFileModifyDate,
			FieldAccessDate: TagFileAccessDate,
			FieldCreateDate: TagFileCreateDate,
		},
	},
	GroupExif: {
		Readable:   true,
		Editable:   true,
		Extensions: []string{"JPEG", "JPG", "PNG", "MPO"},
		Tags: map[string]string{
			FieldCameraModel:      TagExifModel,
			FieldCameraMake:       TagExifMake,
			FieldModifyDate:       TagExifModifyDate,
			FieldDateDigitized:    TagExifCreateDate, // not stable for writing, prefer datetime_original
			FieldDateTimeOriginal: TagExifDateTimeOriginal,
		},
	},
	GroupQuickTime: {
		Readable:   true,
		Editable:   true,
		Extensions: []string{"MOV", "3GP", "MP4", "M4V"},
		Tags: map[string]string{
			FieldCreateDate:      TagQuickTimeCreateDate,
			FieldModifyDate:      TagQuickTimeModifyDate,
			FieldTrackCreateDate: TagQuickTimeTrackCreateDate,
			FieldTrackModifyDate: TagQuickTimeTrackModifyDate,
			FieldMediaCreateDate: TagQuickTimeMediaCreateDate,
			FieldMediaModifyDate: TagQuickTimeMediaModifyDate,
			FieldComment:         TagQuickTimeComment,
		},
	},
	GroupAsf: {
		Tags: map[string]string{
			FieldCreateDate: TagAsfCreationDate,
		},
	},
	GroupUnclassified: {
		Extensions: append(append(append([]string(nil), unclassifiedImage...), unclassifiedAudio...), unclassifiedVideo...),
		Tags:       map[string]string{},
	},
}

// Groups returns every declared group in declaration order.
func Groups() []Group {
	return []Group{GroupExifTool, GroupFile, GroupExif, GroupQuickTime, GroupAsf, GroupUnclassified}
}

// Default returns a copy of the built-in registry.
func Default() Registry {
	out := make(Registry, len(defaultRegistry))
	for g, d := range defaultRegistry {
		out[g] = Descriptor{
			Readable:   d.Readable,
			Editable:   d.Editable,
			Extensions: slices.Clone(d.Extensions),
			Tags:       cloneTags(d.Tags),
		}
	}
	return out
}

// Lookup returns the built-in descriptor of a group.
func Lookup(g Group) (Descriptor, bool) {
	d, ok := defaultRegistry[g]
	return d, ok
}

// MustLookup is like Lookup but panics on an undeclared group.
func MustLookup(g Group) Descriptor {
	d, ok := Lookup(g)
	if !ok {
		panic("keywords: undeclared group " + g.String())
	}
	return d
}

// Tag returns the tag string of a semantic field in a built-in group.
func Tag(g Group, field string) string {
	return defaultRegistry[g].Tags[field]
}

// ExtensionOf returns the file extension of path in registry form: uppercase, no dot.
func ExtensionOf(path string) string {
	return normalizeExtension(filepath.Ext(path))
}

// IsImage reports whether the extension is one of the unclassified image formats.
func IsImage(ext string) bool {
	return slices.Contains(unclassifiedImage, normalizeExtension(ext))
}

// IsAudio reports whether the extension is one of the unclassified audio formats.
func IsAudio(ext string) bool {
	return slices.Contains(unclassifiedAudio, normalizeExtension(ext))
}

// IsVideo reports whether the extension is one of the unclassified video formats.
func IsVideo(ext string) bool {
	return slices.Contains(unclassifiedVideo, normalizeExtension(ext))
}

// String returns the ExifTool name of the group.
func (g Group) String() string {
	switch g {
	case GroupExifTool:
		return "ExifTool"
	case GroupFile:
		return "File"
	case GroupExif:
		return "Exif"
	case GroupQuickTime:
		return "QuickTime"
	case GroupAsf:
		return "Asf"
	case GroupUnclassified:
		return "Unclassified"
	default:
		return "Unknown"
	}
}

// ParseGroup returns the group with the given name, ignoring case.
func ParseGroup(name string) (Group, bool) {
	for _, g := range Groups() {
		if strings.EqualFold(g.String(), name) {
			return g, true
		}
	}
	return 0, false
}

func normalizeExtension(ext string) string {
	return strings.ToUpper(strings.TrimPrefix(ext, "."))
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
