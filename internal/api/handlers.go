package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kdimtricp/spectator/internal/gemini"
	"github.com/kdimtricp/spectator/internal/models"
	"github.com/kdimtricp/spectator/internal/resolver"
	"github.com/kdimtricp/spectator/internal/session"
)

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type App struct {
	Sessions      *session.Manager
	Resolver      *resolver.Resolver
	MaxUploadSize int64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// ResolveHandler is the media proxy endpoint. Restricted platforms come back
// as a JSON redirect to a direct link; everything else is relayed as bytes so
// the browser can save hotlink-hostile media it could not fetch itself.
func (app *App) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		app.writeError(w, http.StatusBadRequest, "url parameter is required", nil)
		return
	}

	// Every resolution failure is a 500 on this surface; a blocked platform
	// is distinguished by the error text, not the status code.
	resolution, err := app.Resolver.Resolve(r.Context(), rawURL)
	if err != nil {
		app.writeError(w, http.StatusInternalServerError, "failed to resolve media", err)
		return
	}

	if resolution.IsRedirect() {
		app.writeJSON(w, http.StatusOK, map[string]string{"downloadUrl": resolution.RedirectURL})
		return
	}
	defer resolution.Body.Close()

	w.Header().Set("Content-Type", resolution.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+remoteFilename(rawURL)+`"`)
	if _, err := io.Copy(w, resolution.Body); err != nil {
		// Headers are gone; all we can do is log the broken relay.
		app.Logger.Warn("media relay interrupted", "url", rawURL, "err", err)
	}
}

func (app *App) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	s := app.Sessions.Create()
	app.writeJSON(w, http.StatusCreated, app.sessionPayload(s))
}

// StageFileHandler buffers an operator-provided video from a multipart form.
func (app *App) StageFileHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessionFromRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)
	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		app.writeError(w, http.StatusBadRequest, "file too large", err)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		app.writeError(w, http.StatusBadRequest, "failed to get file", err)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") && contentType != "application/octet-stream" {
		if strings.ToLower(filepath.Ext(header.Filename)) != ".mp4" {
			app.writeError(w, http.StatusBadRequest, "only video files are allowed", nil)
			return
		}
		contentType = "video/mp4"
	}

	media, err := s.Stage(r.Context(), file, header.Filename, contentType, models.OriginLocal)
	if err != nil {
		app.writeError(w, http.StatusInternalServerError, "failed to buffer media", err)
		return
	}

	app.writeJSON(w, http.StatusOK, app.stagedPayload(s, media))
}

// StageURLHandler resolves a remote URL and buffers whatever comes back, so a
// network source ends up in exactly the same staged position as a local file.
func (app *App) StageURLHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		app.writeError(w, http.StatusBadRequest, "url is required", err)
		return
	}

	resolution, err := app.Resolver.Resolve(r.Context(), req.URL)
	if err != nil {
		app.writeError(w, http.StatusBadGateway, "failed to resolve media", err)
		return
	}

	body := resolution.Body
	contentType := resolution.ContentType
	if resolution.IsRedirect() {
		resp, err := app.HTTPClient.Get(resolution.RedirectURL)
		if err != nil {
			app.writeError(w, http.StatusBadGateway, "failed to fetch resolved media", err)
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			app.writeError(w, http.StatusBadGateway, "resolved media source refused the fetch", nil)
			return
		}
		body = resp.Body
		contentType = resp.Header.Get("Content-Type")
	}
	defer body.Close()

	media, err := s.Stage(r.Context(), body, remoteFilename(req.URL), contentType, models.OriginNetwork)
	if err != nil {
		app.writeError(w, http.StatusInternalServerError, "failed to buffer media", err)
		return
	}

	app.writeJSON(w, http.StatusOK, app.stagedPayload(s, media))
}

// IngestHandler ships the staged media to the inference service and blocks
// until remote indexing settles. Long by design; the client bounds it through
// request cancellation. An optional prompt in the body kicks off the first
// analysis turn as soon as the file goes ACTIVE.
func (app *App) IngestHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		app.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	handle, err := s.Upload(r.Context())
	if err != nil {
		app.writeSessionError(w, err)
		return
	}

	if err := s.AwaitReady(r.Context()); err != nil {
		app.writeSessionError(w, err)
		return
	}

	response := map[string]any{
		"id":      s.ID,
		"state":   s.State(),
		"fileUri": handle.URI,
	}

	if strings.TrimSpace(req.Prompt) != "" {
		entry, err := s.Converse(r.Context(), req.Prompt)
		if err != nil {
			app.writeSessionError(w, err)
			return
		}
		response["state"] = s.State()
		response["entry"] = entry
	}

	app.writeJSON(w, http.StatusOK, response)
}

func (app *App) MessageHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		app.writeError(w, http.StatusBadRequest, "text is required", err)
		return
	}

	entry, err := s.Converse(r.Context(), req.Text)
	if err != nil {
		app.writeSessionError(w, err)
		return
	}

	app.writeJSON(w, http.StatusOK, map[string]any{
		"state": s.State(),
		"entry": entry,
	})
}

func (app *App) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessionFromRequest(w, r)
	if !ok {
		return
	}

	entries, err := s.Transcript(r.Context())
	if err != nil {
		app.writeError(w, http.StatusInternalServerError, "failed to load transcript", err)
		return
	}

	app.writeJSON(w, http.StatusOK, map[string]any{
		"id":      s.ID,
		"state":   s.State(),
		"entries": entries,
	})
}

func (app *App) ResetHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := app.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.Reset(r.Context()); err != nil {
		app.writeError(w, http.StatusInternalServerError, "failed to reset session", err)
		return
	}

	app.writeJSON(w, http.StatusOK, app.sessionPayload(s))
}

func (app *App) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := app.Sessions.Remove(r.Context(), id); err != nil {
		app.writeError(w, http.StatusInternalServerError, "failed to remove session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s, exists := app.Sessions.Get(id)
	if !exists {
		app.writeError(w, http.StatusNotFound, "session not found", nil)
		return nil, false
	}
	return s, true
}

func (app *App) sessionPayload(s *session.Session) map[string]any {
	return map[string]any{
		"id":    s.ID,
		"state": s.State(),
	}
}

func (app *App) stagedPayload(s *session.Session, media *models.MediaSource) map[string]any {
	return map[string]any{
		"id":    s.ID,
		"state": s.State(),
		"media": map[string]any{
			"id":          media.ID,
			"name":        media.DisplayName,
			"contentType": media.ContentType,
			"size":        media.Size,
			"origin":      media.Origin,
		},
	}
}

// writeSessionError maps orchestrator failures onto HTTP statuses: operator
// sequencing mistakes are 409, upstream inference failures are 502.
func (app *App) writeSessionError(w http.ResponseWriter, err error) {
	var stateErr *session.InvalidStateError
	var handshakeErr *gemini.HandshakeError
	var txErr *gemini.TransmissionError
	var indexErr *gemini.IndexingError
	var infErr *gemini.InferenceError

	switch {
	case errors.As(err, &stateErr):
		app.writeError(w, http.StatusConflict, "operation not valid in current state", err)
	case errors.Is(err, session.ErrSessionReset):
		app.writeError(w, http.StatusConflict, "session was reset mid-operation", err)
	case errors.As(err, &handshakeErr), errors.As(err, &txErr),
		errors.As(err, &indexErr), errors.As(err, &infErr):
		app.writeError(w, http.StatusBadGateway, "inference service error", err)
	default:
		app.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func (app *App) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		app.Logger.Warn("failed to encode response", "err", err)
	}
}

func (app *App) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	app.writeJSON(w, status, body)
}

func remoteFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "remote.mp4"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "/" || name == "." || !strings.Contains(name, ".") {
		return "remote.mp4"
	}
	return name
}
