package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cjeanneret/photobox/internal/booth"
	"github.com/cjeanneret/photobox/internal/hw/camera"
	"github.com/cjeanneret/photobox/internal/layout"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/compose"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Booth is the photobooth driven by the handlers. *booth.Booth implements it.
type Booth interface {
	Start(ctx context.Context, layoutID string) (string, error)
	Retry() error
	Discard()
	Status() booth.Status
	Layouts() []layout.Layout
	Collage() (*compose.Collage, error)
	Export() (*compose.Export, error)
	Shot(index int) (*capture.PhotoArtifact, error)
}

// StartRequest is the body of POST /api/session.
type StartRequest struct {
	Layout string `json:"layout"` // empty selects the default layout
}

var layoutIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateStartRequest checks the layout id syntax; existence is checked by
// the booth.
func ValidateStartRequest(req StartRequest) error {
	if req.Layout == "" {
		return nil
	}
	if !layoutIDPattern.MatchString(req.Layout) {
		return fmt.Errorf("layout must match %s", layoutIDPattern)
	}
	return nil
}

// ClientConfig holds the values the page needs before the first event.
type ClientConfig struct {
	Title         string `json:"title"`
	DefaultLayout string `json:"default_layout"`
	CountdownFrom int    `json:"countdown_from"`
	TickMs        int    `json:"tick_ms"`
}

// ExportResponse is the download trigger: a filename and a PNG data URI.
type ExportResponse struct {
	Filename string `json:"filename"`
	Href     string `json:"href"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Booth       Booth
	Client      ClientConfig
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If b is nil, booth endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, b Booth, client ClientConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Booth:       b,
		Client:      client,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func (h *Handlers) available(w http.ResponseWriter) bool {
	if h.Booth == nil {
		http.Error(w, "booth not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// statusFor maps booth errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, booth.ErrUnknownLayout):
		return http.StatusBadRequest
	case errors.Is(err, booth.ErrTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, camera.ErrDeviceUnavailable), errors.Is(err, capture.ErrSequencerClosed), errors.Is(err, capture.ErrSourceClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, booth.ErrNoCollage), errors.Is(err, booth.ErrNoShot):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrNoSession), errors.Is(err, capture.ErrNoFailedShot):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// HandleConfig returns the client settings (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Client)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleLayouts handles GET /api/layouts.
func (h *Handlers) HandleLayouts(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Booth.Layouts())
}

// HandleStart handles POST /api/session to start a capture session.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateStartRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.available(w) {
		return
	}

	id, err := h.Booth.Start(r.Context(), req.Layout)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusServiceUnavailable {
			h.Broadcaster.Broadcast("error", "Camera unavailable: "+err.Error())
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "session_id": id})
}

// HandleRetry handles POST /api/session/retry.
func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	if err := h.Booth.Retry(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

// HandleDiscard handles DELETE /api/session.
func (h *Handlers) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	h.Booth.Discard()
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession handles GET /api/session.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Booth.Status())
}

// HandleShot handles GET /api/shots/{index} (zero-based) and serves the PNG.
func (h *Handlers) HandleShot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		http.Error(w, "index must be a non-negative integer", http.StatusBadRequest)
		return
	}
	if !h.available(w) {
		return
	}
	a, err := h.Booth.Shot(index)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writePNG(w, a.PNG)
}

// HandleCollage handles GET /api/collage.png.
func (h *Handlers) HandleCollage(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	c, err := h.Booth.Collage()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	data, err := c.PNG()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writePNG(w, data)
}

// HandleDownload handles GET /api/collage/download: the exported image as
// an attachment.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	e, err := h.Booth.Export()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", e.Filename))
	writePNG(w, e.PNG)
}

// HandleExport handles GET /api/collage/export: filename and data URI.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	e, err := h.Booth.Export()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{
		Filename: e.Filename,
		Href:     e.DataURI(),
		Width:    e.Width,
		Height:   e.Height,
	})
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
