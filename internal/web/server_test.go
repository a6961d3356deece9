package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"exiftool-manager/internal/config"
	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/keywords"
	"exiftool-manager/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeTool struct {
	mu    sync.Mutex
	files map[string]map[string]string // base name -> fields
	saves [][]string
}

func (f *fakeTool) Run(ctx context.Context, argv []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case slices.Contains(argv, "-ver"):
		return "12.76\n", nil
	case slices.Contains(argv, "-J"):
		fields, ok := f.files[filepath.Base(argv[len(argv)-1])]
		if !ok {
			return "Error: File format error", nil
		}
		record := map[string]string{keywords.TagToolVersion: "12.76"}
		for k, v := range fields {
			record[k] = v
		}
		raw, _ := json.Marshal([]map[string]string{record})
		return string(raw), nil
	default:
		f.saves = append(f.saves, slices.Clone(argv))
		return "    1 image files updated\n", nil
	}
}

func (f *fakeTool) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func newTestServer(t *testing.T, tool exiftool.Runner) (*Server, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Exiftool.Timeout = 5 * time.Second
	cfg.Scan.Workers = 2

	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.mov", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	return NewServer(cfg, tool, logger, metrics.New(reg), reg), dir
}

func mediaTool() *fakeTool {
	return &fakeTool{files: map[string]map[string]string{
		"a.jpg": {
			keywords.TagExifDateTimeOriginal: "2021:05:10 14:30:00",
			keywords.TagExifMake:             "Canon",
		},
		"b.mov": {keywords.TagQuickTimeCreateDate: "2020:01:01 00:00:00"},
		"c.jpg": {keywords.TagFileModifyDate: "2022:03:04 05:06:07+02:00"},
	}}
}

func do(t *testing.T, s *Server, method, target string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %#v, want object", resp.Data)
	}
	return data
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, mediaTool())
	rec, resp := do(t, s, "GET", "/api/status", nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
	}
	data := dataMap(t, resp)
	if data["running"] != false {
		t.Errorf("running = %v", data["running"])
	}
	if data["exiftool_detected"] != true || data["exiftool_version"] != "12.76" {
		t.Errorf("exiftool = %v %v", data["exiftool_detected"], data["exiftool_version"])
	}
}

func TestExtensions(t *testing.T) {
	s, _ := newTestServer(t, mediaTool())
	_, resp := do(t, s, "GET", "/api/extensions", nil)
	data := dataMap(t, resp)

	readable, _ := data["readable"].([]interface{})
	editable, _ := data["editable"].([]interface{})
	if len(readable) == 0 || len(editable) == 0 {
		t.Fatalf("extensions = %v", data)
	}
	if !slices.Contains(readable, interface{}("JPG")) {
		t.Errorf("readable %v missing JPG", readable)
	}
}

func TestMetadata(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())
	rec, resp := do(t, s, "GET", "/api/metadata?path="+filepath.Join(dir, "a.jpg"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	data := dataMap(t, resp)
	if data["original_date"] != "2021:05:10 14:30:00" {
		t.Errorf("original_date = %v", data["original_date"])
	}
	if data["has_original_date"] != true || data["readable"] != true || data["editable"] != true {
		t.Errorf("flags = %v", data)
	}
	if data["camera_make"] != "Canon" {
		t.Errorf("camera_make = %v", data["camera_make"])
	}
}

func TestMetadataErrors(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())
	if err := os.WriteFile(filepath.Join(dir, "junk.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/api/metadata", http.StatusBadRequest},
		{"/api/metadata?path=" + filepath.Join(dir, "absent.jpg"), http.StatusNotFound},
		{"/api/metadata?path=" + filepath.Join(dir, "junk.jpg"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		rec, resp := do(t, s, "GET", tt.target, nil)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
		}
		if resp.Success || resp.Error == "" {
			t.Errorf("GET %s resp = %+v", tt.target, resp)
		}
	}
}

func TestSetOriginalDate(t *testing.T) {
	tool := mediaTool()
	s, dir := newTestServer(t, tool)
	path := filepath.Join(dir, "c.jpg")

	rec, resp := do(t, s, "POST", "/api/original-date", OriginalDateRequest{
		Path: path,
		Date: "2022:03:04 05:06:07",
	})
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
	}
	if tool.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1", tool.saveCount())
	}
	argv := tool.saves[0]
	if !slices.Contains(argv, "-EXIF:DateTimeOriginal=2022:03:04 05:06:07") {
		t.Errorf("argv %q missing date", argv)
	}
	if !slices.Contains(argv, "-filename="+filepath.Join(dir, "c-1.jpg")) {
		t.Errorf("argv %q missing iterated name", argv)
	}
}

func TestSetOriginalDateErrors(t *testing.T) {
	tool := mediaTool()
	tool.files["song.mp3"] = map[string]string{}
	s, dir := newTestServer(t, tool)
	if err := os.WriteFile(filepath.Join(dir, "song.mp3"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"bad body", "not an object", http.StatusBadRequest},
		{"no path", OriginalDateRequest{Date: "2022:03:04 05:06:07"}, http.StatusBadRequest},
		{"bad date", OriginalDateRequest{Path: filepath.Join(dir, "a.jpg"), Date: "yesterday"}, http.StatusBadRequest},
		{"missing file", OriginalDateRequest{Path: filepath.Join(dir, "x.jpg"), Date: "2022:03:04 05:06:07"}, http.StatusNotFound},
		{"not editable", OriginalDateRequest{Path: filepath.Join(dir, "song.mp3"), Date: "2022:03:04 05:06:07"}, http.StatusUnprocessableEntity},
		{"parent output", OriginalDateRequest{Path: filepath.Join(dir, "a.jpg"), Date: "2022:03:04 05:06:07", Output: "../x.jpg"}, http.StatusBadRequest},
		{"nested output", OriginalDateRequest{Path: filepath.Join(dir, "a.jpg"), Date: "2022:03:04 05:06:07", Output: "sub/x.jpg"}, http.StatusBadRequest},
		{"absolute output", OriginalDateRequest{Path: filepath.Join(dir, "a.jpg"), Date: "2022:03:04 05:06:07", Output: "/tmp/x.jpg"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, s, "POST", "/api/original-date", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if n := tool.saveCount(); n != 0 {
		t.Errorf("saves = %d, want 0", n)
	}
}

func TestSetOriginalDateNamedOutput(t *testing.T) {
	tool := mediaTool()
	s, dir := newTestServer(t, tool)

	rec, resp := do(t, s, "POST", "/api/original-date", OriginalDateRequest{
		Path:   filepath.Join(dir, "a.jpg"),
		Date:   "2022:03:04 05:06:07",
		Output: "renamed.jpg",
	})
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
	}
	if !slices.Contains(tool.saves[0], "-filename="+filepath.Join(dir, "renamed.jpg")) {
		t.Errorf("argv %q missing output name", tool.saves[0])
	}
}

func TestPostRequiresJSON(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())

	for _, target := range []string{"/api/original-date", "/api/scan"} {
		body := strings.NewReader(`{"path":"` + filepath.Join(dir, "a.jpg") + `","directory":"` + dir + `"}`)
		req := httptest.NewRequest("POST", target, body)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("POST %s status = %d, want %d", target, rec.Code, http.StatusUnsupportedMediaType)
		}
	}
}

func TestScan(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())

	rec, resp := do(t, s, "POST", "/api/scan", ScanRequest{Directory: dir})
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, resp = %+v", rec.Code, resp)
	}
	if err := s.waitScan(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, resp = do(t, s, "GET", "/api/results", nil)
	results, ok := resp.Data.([]interface{})
	if !ok || len(results) != 3 {
		t.Fatalf("results = %#v", resp.Data)
	}

	_, resp = do(t, s, "GET", "/api/status", nil)
	data := dataMap(t, resp)
	stats, ok := data["statistics"].(map[string]interface{})
	if !ok {
		t.Fatalf("statistics = %#v", data["statistics"])
	}
	if !strings.Contains(stats["summary"].(string), "Scan Statistics Summary") {
		t.Errorf("summary = %v", stats["summary"])
	}
}

func TestScanValidation(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())

	rec, _ := do(t, s, "POST", "/api/scan", ScanRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty directory status = %d", rec.Code)
	}
	rec, _ = do(t, s, "POST", "/api/scan", ScanRequest{Directory: filepath.Join(dir, "a.jpg")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("file directory status = %d", rec.Code)
	}
	rec, _ = do(t, s, "POST", "/api/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("stop without scan status = %d", rec.Code)
	}
}

func TestScanConflict(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())
	s.operationMutex.Lock()
	s.isRunning = true
	s.operationMutex.Unlock()

	rec, _ := do(t, s, "POST", "/api/scan", ScanRequest{Directory: dir})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s.wsMutex.Lock()
		n := len(s.wsClients)
		s.wsMutex.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	raw, _ := json.Marshal(ScanRequest{Directory: dir})
	res, err := http.Post(ts.URL+"/api/scan", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v, got %v", err, types)
		}
		types = append(types, msg.Type)
		if msg.Type == "scan_completed" {
			break
		}
	}
	if types[0] != "scan_started" {
		t.Errorf("first message = %s, want scan_started", types[0])
	}
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	s, _ := newTestServer(t, mediaTool())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err == nil {
		t.Fatal("Dial() error = nil for a foreign origin")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", res)
	}
}

func TestStopWaitsForScan(t *testing.T) {
	s, dir := newTestServer(t, mediaTool())
	if rec, _ := do(t, s, "POST", "/api/scan", ScanRequest{Directory: dir}); rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	s.operationMutex.RLock()
	running := s.isRunning
	s.operationMutex.RUnlock()
	if running {
		t.Error("scan still running after Stop()")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, mediaTool())
	s.metrics.IncWatchEvent("create")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "watch_events_total") {
		t.Errorf("metrics body missing watch events:\n%s", rec.Body.String())
	}
}
