package manager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/session"

	"github.com/sirupsen/logrus/hooks/test"
)

// newManager returns a Manager whose exiftool answers a load with fields.
func newManager(t *testing.T, fields map[string]string) *Manager {
	t.Helper()

	record := map[string]string{keywords.TagToolVersion: "12.76"}
	for k, v := range fields {
		record[k] = v
	}
	raw, err := json.Marshal([]map[string]string{record})
	if err != nil {
		t.Fatal(err)
	}

	runner := exiftool.RunnerFunc(func(ctx context.Context, argv []string) (string, error) {
		if slices.Contains(argv, "-J") {
			return string(raw), nil
		}
		return "    1 image files updated\n", nil
	})
	logger, _ := test.NewNullLogger()
	return New(session.New(runner, session.Options{}, logger))
}

func load(t *testing.T, m *Manager, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(context.Background(), path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return path
}

func TestExtensionsAreUnionOfGroups(t *testing.T) {
	m := newManager(t, nil)

	var readable, editable []string
	for _, g := range []keywords.Group{keywords.GroupExif, keywords.GroupQuickTime} {
		d := keywords.MustLookup(g)
		if d.Readable {
			readable = append(readable, d.Extensions...)
		}
		if d.Editable {
			editable = append(editable, d.Extensions...)
		}
	}

	if !slices.Equal(m.ReadableExtensions(), readable) {
		t.Errorf("ReadableExtensions() = %v, want %v", m.ReadableExtensions(), readable)
	}
	if !slices.Equal(m.EditableExtensions(), editable) {
		t.Errorf("EditableExtensions() = %v, want %v", m.EditableExtensions(), editable)
	}
	for _, ext := range m.EditableExtensions() {
		if !slices.Contains(m.ReadableExtensions(), ext) {
			t.Errorf("editable %s is not readable", ext)
		}
	}
}

func TestIsReadableIsEditable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.jpg", true},
		{"a.JPEG", true},
		{"b.mov", true},
		{"b.m4v", true},
		{"c.bmp", false},
		{"d.avi", false},
		{"e", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsReadable(tt.path); got != tt.want {
				t.Errorf("IsReadable(%q) = %v", tt.path, got)
			}
			if got := IsEditable(tt.path); got != tt.want {
				t.Errorf("IsEditable(%q) = %v", tt.path, got)
			}
		})
	}
}

func TestPreconditionsWithoutFile(t *testing.T) {
	m := newManager(t, nil)

	if _, err := m.HasReadableMetadataSupport(); !errors.Is(err, ErrNoFileLoaded) {
		t.Errorf("HasReadableMetadataSupport() error = %v", err)
	}
	if _, err := m.HasEditableMetadataSupport(); !errors.Is(err, ErrPrecondition) {
		t.Errorf("HasEditableMetadataSupport() error = %v", err)
	}
	if _, err := m.HasOriginalDate(); !errors.Is(err, ErrPrecondition) {
		t.Errorf("HasOriginalDate() error = %v", err)
	}
	if err := m.SetOriginalDate(time.Now()); !errors.Is(err, ErrNoFileLoaded) {
		t.Errorf("SetOriginalDate() error = %v", err)
	}
}

func TestJPEGOriginalDate(t *testing.T) {
	m := newManager(t, map[string]string{keywords.TagExifDateTimeOriginal: "2021:05:10 14:30:00"})
	load(t, m, "photo.JPG")

	has, err := m.HasOriginalDate()
	if err != nil || !has {
		t.Fatalf("HasOriginalDate() = %v, %v", has, err)
	}
	got, err := m.OriginalDate()
	if err != nil {
		t.Fatalf("OriginalDate() error = %v", err)
	}
	if want := time.Date(2021, 5, 10, 14, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("OriginalDate() = %v, want %v", got, want)
	}
	if s := m.OriginalDateString(); s != "2021:05:10 14:30:00" {
		t.Errorf("OriginalDateString() = %q", s)
	}
}

func TestMOVFallsBackToQuickTime(t *testing.T) {
	m := newManager(t, map[string]string{keywords.TagQuickTimeCreateDate: "2020:01:01 00:00:00"})
	load(t, m, "clip.mov")

	if m.Exif().HasOriginalDate() {
		t.Error("Exif should report no original date")
	}
	got, err := m.OriginalDate()
	if err != nil {
		t.Fatalf("OriginalDate() error = %v", err)
	}
	if want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("OriginalDate() = %v, want %v", got, want)
	}
}

func TestExifWinsOverQuickTime(t *testing.T) {
	m := newManager(t, map[string]string{
		keywords.TagExifDateTimeOriginal: "2021:05:10 14:30:00",
		keywords.TagQuickTimeCreateDate:  "2020:01:01 00:00:00",
	})
	load(t, m, "clip.mp4")

	got, _ := m.OriginalDate()
	if got.Year() != 2021 {
		t.Errorf("OriginalDate() = %v, want the EXIF value", got)
	}
}

func TestUnreadableExtensionHasNoOriginalDate(t *testing.T) {
	m := newManager(t, map[string]string{keywords.TagExifDateTimeOriginal: "2021:05:10 14:30:00"})
	load(t, m, "image.bmp")

	readable, err := m.HasReadableMetadataSupport()
	if err != nil || readable {
		t.Fatalf("HasReadableMetadataSupport() = %v, %v", readable, err)
	}
	if has, _ := m.HasOriginalDate(); has {
		t.Error("HasOriginalDate() = true for an unreadable extension")
	}
	if has, _ := m.HasOriginalDateField(); has {
		t.Error("HasOriginalDateField() = true for an unreadable extension")
	}
}

func TestNoOriginalDate(t *testing.T) {
	m := newManager(t, map[string]string{"EXIF:Make": "Canon"})
	load(t, m, "photo.jpg")

	if has, _ := m.HasOriginalDate(); has {
		t.Error("HasOriginalDate() = true")
	}
	if _, err := m.OriginalDate(); !errors.Is(err, ErrNoOriginalDate) {
		t.Errorf("OriginalDate() error = %v, want ErrNoOriginalDate", err)
	}
	if s := m.OriginalDateString(); s != "" {
		t.Errorf("OriginalDateString() = %q, want empty", s)
	}
}

func TestMalformedOriginalDate(t *testing.T) {
	m := newManager(t, map[string]string{keywords.TagExifDateTimeOriginal: "0000:00:00 00:00:00"})
	load(t, m, "photo.jpg")

	if has, _ := m.HasOriginalDateField(); !has {
		t.Error("HasOriginalDateField() = false")
	}
	got, err := m.OriginalDate()
	if err != nil {
		t.Fatalf("OriginalDate() error = %v", err)
	}
	if !session.IsMinDate(got) {
		t.Errorf("OriginalDate() = %v, want the MinDate sentinel", got)
	}
}

func TestMisshapenExifDateFallsBackToQuickTime(t *testing.T) {
	for _, value := range []string{"2021:05:10", "2021:05 10:00:00", ""} {
		t.Run(value, func(t *testing.T) {
			m := newManager(t, map[string]string{
				keywords.TagExifDateTimeOriginal: value,
				keywords.TagQuickTimeCreateDate:  "2020:01:01 00:00:00",
			})
			load(t, m, "clip.mp4")

			if m.Exif().HasOriginalDate() {
				t.Error("Exif().HasOriginalDate() = true")
			}
			if !m.Exif().HasOriginalDateField() {
				t.Error("Exif().HasOriginalDateField() = false")
			}
			if _, err := m.Exif().OriginalDate(); !errors.Is(err, session.ErrDateShape) {
				t.Errorf("Exif().OriginalDate() error = %v, want ErrDateShape", err)
			}

			got, err := m.OriginalDate()
			if err != nil {
				t.Fatalf("OriginalDate() error = %v", err)
			}
			if want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
				t.Errorf("OriginalDate() = %v, want %v", got, want)
			}
		})
	}
}

func TestMisshapenDateAloneIsNoDate(t *testing.T) {
	m := newManager(t, map[string]string{keywords.TagExifDateTimeOriginal: "2021:05:10"})
	load(t, m, "photo.jpg")

	if has, _ := m.HasOriginalDate(); has {
		t.Error("HasOriginalDate() = true")
	}
	if _, err := m.OriginalDate(); !errors.Is(err, ErrNoOriginalDate) {
		t.Errorf("OriginalDate() error = %v, want ErrNoOriginalDate", err)
	}
	if s := m.OriginalDateString(); s != "2021:05:10" {
		t.Errorf("OriginalDateString() = %q, want the raw tag", s)
	}
}

func TestSetOriginalDateDispatchesByExtension(t *testing.T) {
	date := time.Date(2023, 7, 8, 9, 10, 11, 0, time.UTC)
	tests := []struct {
		name string
		file string
		want string
	}{
		{"jpeg", "photo.jpeg", "-EXIF:DateTimeOriginal=2023:07:08 09:10:11"},
		{"png", "image.PNG", "-EXIF:DateTimeOriginal=2023:07:08 09:10:11"},
		{"mov", "clip.MOV", "-QuickTime:CreateDate=2023:07:08 09:10:11"},
		{"3gp", "clip.3gp", "-QuickTime:CreateDate=2023:07:08 09:10:11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// EXIF tags on a movie must not change where the date is written
			m := newManager(t, map[string]string{keywords.TagExifDateTimeOriginal: "2021:05:10 14:30:00"})
			load(t, m, tt.file)

			if err := m.SetOriginalDate(date); err != nil {
				t.Fatalf("SetOriginalDate() error = %v", err)
			}
			cmds := m.Commands()
			if got := cmds[len(cmds)-1]; got != tt.want {
				t.Errorf("queued %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetOriginalDateUnsupportedExtension(t *testing.T) {
	m := newManager(t, nil)
	load(t, m, "song.mp3")
	before := m.Commands()

	err := m.SetOriginalDate(time.Now())
	if !errors.Is(err, ErrUnsupportedExtension) || !errors.Is(err, ErrPrecondition) {
		t.Fatalf("SetOriginalDate() error = %v, want ErrUnsupportedExtension", err)
	}
	if !slices.Equal(m.Commands(), before) {
		t.Error("a command was queued for an unsupported extension")
	}
}

func TestSetOriginalDateThenSave(t *testing.T) {
	m := newManager(t, nil)
	load(t, m, "photo.jpg")

	if err := m.SetOriginalDate(time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	ok, err := m.Save(context.Background(), "fixed.jpg", false)
	if !ok || err != nil {
		t.Errorf("Save() = %v, %v", ok, err)
	}
}

func TestExifAccessorExtras(t *testing.T) {
	m := newManager(t, map[string]string{
		keywords.TagExifMake:       "Canon",
		keywords.TagExifModifyDate: "2022:01:01 10:00:00",
		keywords.TagExifCreateDate: "2022:01:01 09:00:00",
	})
	load(t, m, "photo.jpg")
	exif := m.Exif()

	if exif.CameraMake() != "Canon" || exif.CameraModel() != "" {
		t.Errorf("camera = %q %q", exif.CameraMake(), exif.CameraModel())
	}
	if !exif.HasModifyDate() || !exif.HasDigitizedDate() {
		t.Error("modify/digitized dates should be readable")
	}
	if d, _ := exif.DigitizedDate(); d.Hour() != 9 {
		t.Errorf("DigitizedDate() = %v", d)
	}

	exif.SetModifyDate(time.Date(2024, 4, 5, 6, 7, 8, 0, time.UTC))
	cmds := m.Commands()
	if cmds[len(cmds)-1] != "-EXIF:ModifyDate=2024:04:05 06:07:08" {
		t.Errorf("queued %q", cmds[len(cmds)-1])
	}
}

func TestQuickTimeComment(t *testing.T) {
	m := newManager(t, map[string]string{keywords.TagQuickTimeComment: "beach"})
	load(t, m, "clip.mov")

	if c, err := m.QuickTime().Comment(); err != nil || c != "beach" {
		t.Errorf("Comment() = %q, %v", c, err)
	}
	m.QuickTime().SetComment("mountains")
	cmds := m.Commands()
	if cmds[len(cmds)-1] != "-QuickTime:Comment=mountains" {
		t.Errorf("queued %q", cmds[len(cmds)-1])
	}
}

func TestFileAccessor(t *testing.T) {
	m := newManager(t, map[string]string{
		keywords.TagFileModifyDate: "2022:03:04 05:06:07+02:00",
		keywords.TagFileAccessDate: "garbage",
	})
	load(t, m, "photo.jpg")
	file := m.File()

	if !file.HasModifyDate() {
		t.Fatal("HasModifyDate() = false")
	}
	got, _ := file.ModifyDate()
	if want := time.Date(2022, 3, 4, 3, 6, 7, 0, time.UTC); !got.Equal(want) {
		t.Errorf("ModifyDate() = %v, want %v", got, want)
	}
	if _, err := file.AccessDate(); err == nil {
		t.Error("AccessDate() of a malformed value should fail")
	}
	if _, err := file.CreateDate(); !errors.Is(err, session.ErrFieldNotFound) {
		t.Errorf("CreateDate() error = %v, want ErrFieldNotFound", err)
	}
}
