package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"sync"
	"time"

	"exiftool-manager/internal/config"
	"exiftool-manager/internal/exiftool"
	"exiftool-manager/internal/extractor"
	"exiftool-manager/internal/logger"
	"exiftool-manager/internal/manager"
	"exiftool-manager/internal/metrics"
	"exiftool-manager/internal/scanner"
	"exiftool-manager/internal/session"
	"exiftool-manager/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        logrus.FieldLogger
	runner     exiftool.Runner
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current scan state
	operationMutex sync.RWMutex
	isRunning      bool
	cancelScan     context.CancelFunc
	currentStats   *statistics.Statistics
	lastResults    []scanner.Result
	scanDone       chan struct{}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ScanRequest struct {
	Directory  string `json:"directory"`
	FixMissing bool   `json:"fix_missing"`
	DryRun     bool   `json:"dry_run"`
}

type OriginalDateRequest struct {
	Path      string `json:"path"`
	Date      string `json:"date"` // YYYY:MM:DD HH:MM:SS
	Output    string `json:"output,omitempty"`
	Overwrite bool   `json:"overwrite"`
}

type MetadataResponse struct {
	Path            string            `json:"path"`
	Readable        bool              `json:"readable"`
	Editable        bool              `json:"editable"`
	HasOriginalDate bool              `json:"has_original_date"`
	OriginalDate    string            `json:"original_date,omitempty"`
	CameraMake      string            `json:"camera_make,omitempty"`
	CameraModel     string            `json:"camera_model,omitempty"`
	FileModifyDate  string            `json:"file_modify_date,omitempty"`
	Metadata        map[string]string `json:"metadata"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer builds the API. m and gatherer may be nil; /metrics then serves
// the default Prometheus registry.
func NewServer(cfg *config.Config, runner exiftool.Runner, log logrus.FieldLogger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		runner:    runner,
		metrics:   m,
		gatherer:  gatherer,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		// nil CheckOrigin refuses cross-origin upgrades
		wsUpgrader: websocket.Upgrader{},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/extensions", s.handleExtensions).Methods("GET")
	api.HandleFunc("/metadata", s.handleMetadata).Methods("GET")
	api.HandleFunc("/original-date", s.handleOriginalDate).Methods("POST")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/results", s.handleResults).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.cfg.Server.Metrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.Exiftool.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running scan, waits for it to wind down and shuts the HTTP
// server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.RLock()
	cancel := s.cancelScan
	s.operationMutex.RUnlock()
	if cancel != nil {
		cancel()
	}
	if err := s.waitScan(ctx); err != nil {
		return fmt.Errorf("scan did not stop: %w", err)
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) newManager() *manager.Manager {
	opts := session.Options{
		ExiftoolPath: s.cfg.Exiftool.Path,
		Timeout:      s.cfg.Exiftool.Timeout,
	}
	return manager.New(session.New(s.runner, opts, s.log))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	s.operationMutex.RUnlock()

	version, err := s.newManager().ToolVersion(r.Context())
	detected := err == nil && version != ""

	var statsData interface{}
	if stats != nil {
		statsData = map[string]interface{}{
			"summary":  stats.GetSummary(),
			"counters": stats.Snapshot(),
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":           running,
			"exiftool_detected": detected,
			"exiftool_version":  version,
			"statistics":        statsData,
		},
	})
}

func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"readable": manager.ReadableExtensions(),
			"editable": manager.EditableExtensions(),
		},
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	m, status, err := s.load(r.Context(), path)
	if err != nil {
		s.writeError(w, err.Error(), status)
		return
	}

	resp := MetadataResponse{
		Path:     path,
		Metadata: m.Metadata(),
	}
	resp.Readable, _ = m.HasReadableMetadataSupport()
	resp.Editable, _ = m.HasEditableMetadataSupport()
	resp.HasOriginalDate, _ = m.HasOriginalDate()
	if resp.HasOriginalDate {
		resp.OriginalDate = m.OriginalDateString()
	}
	resp.CameraMake = m.Exif().CameraMake()
	resp.CameraModel = m.Exif().CameraModel()
	if modified, err := m.File().ModifyDate(); err == nil {
		resp.FileModifyDate = modified.Format(session.FileDateLayout)
	}

	s.writeJSON(w, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleOriginalDate(w http.ResponseWriter, r *http.Request) {
	var req OriginalDateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}
	if req.Output != "" && !session.ValidOutputName(req.Output) {
		s.writeError(w, "Output must be a file name without directories", http.StatusBadRequest)
		return
	}
	date := session.ParseMetaDate(req.Date)
	if session.IsMinDate(date) {
		s.writeError(w, fmt.Sprintf("Invalid date %q, expected YYYY:MM:DD HH:MM:SS", req.Date), http.StatusBadRequest)
		return
	}

	m, status, err := s.load(r.Context(), req.Path)
	if err != nil {
		s.writeError(w, err.Error(), status)
		return
	}

	if err := m.SetOriginalDate(date); err != nil {
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	saved, err := m.Save(r.Context(), req.Output, req.Overwrite)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, session.ErrUsage) {
			status = http.StatusBadRequest
		}
		s.writeError(w, fmt.Sprintf("Save failed: %v", err), status)
		return
	}

	s.broadcastWSMessage("file_saved", map[string]interface{}{
		"path":  req.Path,
		"date":  session.FormatMetaDate(date),
		"saved": saved,
	})

	message := "Original date written"
	if !saved {
		message = "exiftool left the file unchanged"
	}
	s.writeJSON(w, APIResponse{
		Success: saved,
		Message: message,
		Data:    map[string]interface{}{"saved": saved},
	})
}

// load returns a Manager holding path, or the HTTP status describing why not.
func (s *Server) load(ctx context.Context, path string) (*manager.Manager, int, error) {
	m := s.newManager()
	if err := m.Load(ctx, path); err != nil {
		return nil, statusFor(err), err
	}
	if !m.Loaded() {
		return nil, http.StatusUnprocessableEntity, fmt.Errorf("exiftool could not read %s", path)
	}
	return m, http.StatusOK, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUsage):
		return http.StatusNotFound
	case errors.Is(err, exiftool.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}

	if info, err := os.Stat(req.Directory); err != nil || !info.IsDir() {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Scan already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.isRunning = true
	s.cancelScan = cancel
	s.currentStats = statistics.NewStatistics()
	s.scanDone = make(chan struct{})
	stats, done := s.currentStats, s.scanDone
	s.operationMutex.Unlock()

	go s.runScanAsync(ctx, req, stats, done)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Scan started",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	cancel := s.cancelScan
	s.operationMutex.RUnlock()

	if cancel == nil {
		s.writeError(w, "No scan in progress", http.StatusConflict)
		return
	}
	cancel()

	s.broadcastWSMessage("operation_stopped", map[string]interface{}{
		"message": "Scan stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Scan stopped",
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	results := s.lastResults
	s.operationMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    results,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runScanAsync(ctx context.Context, req ScanRequest, stats *statistics.Statistics, done chan struct{}) {
	defer close(done)

	s.broadcastWSMessage("scan_started", map[string]interface{}{
		"directory":   req.Directory,
		"fix_missing": req.FixMissing,
		"dry_run":     req.DryRun,
	})

	cfg := *s.cfg
	cfg.Scan.FixMissing = req.FixMissing
	cfg.Scan.DryRun = req.DryRun

	opts := []scanner.Option{
		scanner.WithExtractor(extractor.NewEXIFExtractor(s.log)),
		scanner.WithLogHook(func(level, message string) {
			s.broadcastWSMessage("scan_log", map[string]interface{}{
				"level":   level,
				"message": message,
			})
		}),
	}
	if s.metrics != nil {
		opts = append(opts, scanner.WithMetrics(s.metrics))
	}
	log := logger.WithOperation(s.log, "scan")
	results, err := scanner.New(&cfg, s.runner, log, stats, opts...).ScanDirectory(ctx, req.Directory)

	s.operationMutex.Lock()
	s.isRunning = false
	s.cancelScan = nil
	s.lastResults = results
	s.operationMutex.Unlock()

	if err != nil {
		s.broadcastWSMessage("scan_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.broadcastWSMessage("scan_completed", map[string]interface{}{
		"summary":    stats.GetSummary(),
		"statistics": stats.Snapshot(),
	})
}

// waitScan blocks until the last started scan has finished or ctx is done.
func (s *Server) waitScan(ctx context.Context) error {
	s.operationMutex.RLock()
	done := s.scanDone
	s.operationMutex.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// one writer at a time per connection
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

// decodeJSON reads a JSON request body into v. Other content types are
// refused so that plain HTML forms can not reach the API.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		s.writeError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
