package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kdimtricp/spectator/internal/database"
	"github.com/kdimtricp/spectator/internal/evidence"
	"github.com/kdimtricp/spectator/internal/gemini"
	"github.com/kdimtricp/spectator/internal/resolver"
	"github.com/kdimtricp/spectator/internal/session"
	"github.com/kdimtricp/spectator/internal/storage"
)

type fakeInference struct {
	reply string
}

func (f *fakeInference) StartUpload(ctx context.Context, mimeType, displayName string) (string, error) {
	return "http://upload.example/session", nil
}

func (f *fakeInference) Upload(ctx context.Context, uploadURL string, data []byte) (*gemini.FileHandle, error) {
	return &gemini.FileHandle{URI: "files/api-test", State: gemini.StatePending, MIMEType: "video/mp4"}, nil
}

func (f *fakeInference) GetFileState(ctx context.Context, uri string) (gemini.FileState, error) {
	return gemini.StateActive, nil
}

func (f *fakeInference) GenerateContent(ctx context.Context, contents []gemini.Content) (string, error) {
	return f.reply, nil
}

type fakeCapturer struct{}

func (f *fakeCapturer) Capture(ctx context.Context, videoPath string, d evidence.Directive) ([]byte, error) {
	return []byte("frame"), nil
}

func newTestApp(t *testing.T, inference session.InferenceClient, res *resolver.Resolver) *App {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	db, err := database.NewDB()
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	manager := session.NewManager(inference, &fakeCapturer{}, store, database.NewTranscriptRepo(db),
		session.ManagerConfig{PollInterval: time.Millisecond}, slog.Default())

	if res == nil {
		res = resolver.New(resolver.Config{})
	}

	return &App{
		Sessions:      manager,
		Resolver:      res,
		MaxUploadSize: 10 << 20,
		HTTPClient:    &http.Client{Timeout: 5 * time.Second},
		Logger:        slog.Default(),
	}
}

func doRequest(t *testing.T, handler http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON response: %v (%s)", err, rec.Body.String())
	}
	return payload
}

func TestPing(t *testing.T) {
	router := NewRouter(newTestApp(t, &fakeInference{}, nil))

	rec := doRequest(t, router, http.MethodGet, "/ping", "", nil)

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestResolveMissingURL(t *testing.T) {
	router := NewRouter(newTestApp(t, &fakeInference{}, nil))

	rec := doRequest(t, router, http.MethodGet, "/resolve", "", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["error"] == "" {
		t.Errorf("expected error message in body")
	}
}

func TestResolveRedirect(t *testing.T) {
	delegate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"redirect","url":"https://cdn.example/direct.mp4"}`))
	}))
	defer delegate.Close()

	res := resolver.New(resolver.Config{DelegateURL: delegate.URL})
	router := NewRouter(newTestApp(t, &fakeInference{}, res))

	rec := doRequest(t, router, http.MethodGet, "/resolve?url=https%3A%2F%2Fyoutu.be%2Fabc", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeJSON(t, rec)
	if payload["downloadUrl"] != "https://cdn.example/direct.mp4" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestResolveStreamsAttachment(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		w.Write([]byte("relayed bytes"))
	}))
	defer origin.Close()

	router := NewRouter(newTestApp(t, &fakeInference{}, nil))

	rec := doRequest(t, router, http.MethodGet, "/resolve?url="+origin.URL+"/clip.webm", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/webm" {
		t.Errorf("expected relayed content type, got %s", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `attachment; filename="clip.webm"`) {
		t.Errorf("expected attachment disposition, got %s", got)
	}
	if rec.Body.String() != "relayed bytes" {
		t.Errorf("body not relayed unchanged: %q", rec.Body.String())
	}
}

func TestResolveBlockedPlatform(t *testing.T) {
	delegate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer delegate.Close()

	res := resolver.NewWithStrategies(resolver.NewDelegateStrategy(delegate.URL, &http.Client{Timeout: 5 * time.Second}))
	router := NewRouter(newTestApp(t, &fakeInference{}, res))

	rec := doRequest(t, router, http.MethodGet, "/resolve?url=https%3A%2F%2Fyoutu.be%2Fblocked", "", nil)

	// The surface reports every resolution failure as 500; the platform
	// rejection shows up in the error body.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	details, _ := payload["details"].(string)
	if !strings.Contains(details, "rejected automated access") {
		t.Errorf("expected platform rejection detail, got %q", details)
	}
}

func multipartVideo(t *testing.T, field, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write(content)
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func TestSessionLifecycle(t *testing.T) {
	inference := &fakeInference{reply: "Theft at 00:07 [THREAT: Snatching] [PROOF: 00:07]"}
	router := NewRouter(newTestApp(t, inference, nil))

	rec := doRequest(t, router, http.MethodPost, "/api/sessions", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	created := decodeJSON(t, rec)
	id, _ := created["id"].(string)
	if id == "" || created["state"] != "IDLE" {
		t.Fatalf("unexpected session payload: %v", created)
	}
	base := "/api/sessions/" + id

	body, contentType := multipartVideo(t, "video", "cam1.mp4", []byte("video bytes"))
	rec = doRequest(t, router, http.MethodPost, base+"/media", contentType, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("staging failed: %d (%s)", rec.Code, rec.Body.String())
	}
	staged := decodeJSON(t, rec)
	if staged["state"] != "STAGED" {
		t.Errorf("expected STAGED, got %v", staged["state"])
	}
	media, _ := staged["media"].(map[string]any)
	if media == nil || media["name"] != "cam1.mp4" || media["origin"] != "local" {
		t.Errorf("unexpected media payload: %v", staged["media"])
	}

	rec = doRequest(t, router, http.MethodPost, base+"/ingest", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest failed: %d (%s)", rec.Code, rec.Body.String())
	}
	ingested := decodeJSON(t, rec)
	if ingested["state"] != "ACTIVE" || ingested["fileUri"] != "files/api-test" {
		t.Errorf("unexpected ingest payload: %v", ingested)
	}

	rec = doRequest(t, router, http.MethodPost, base+"/messages", "application/json",
		[]byte(`{"text":"scan for theft"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("message failed: %d (%s)", rec.Code, rec.Body.String())
	}
	reply := decodeJSON(t, rec)
	entry, _ := reply["entry"].(map[string]any)
	if entry == nil || entry["role"] != "model" {
		t.Fatalf("unexpected entry payload: %v", reply)
	}
	evidenceList, _ := entry["evidence"].([]any)
	if len(evidenceList) != 1 {
		t.Fatalf("expected one evidence image, got %v", entry["evidence"])
	}
	frame, _ := evidenceList[0].(map[string]any)
	dataURL, _ := frame["data_url"].(string)
	if !strings.HasPrefix(dataURL, "data:image/jpeg;base64,") {
		t.Errorf("expected inline jpeg data URL, got %q", dataURL)
	}

	rec = doRequest(t, router, http.MethodGet, base+"/transcript", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript failed: %d", rec.Code)
	}
	transcriptPayload := decodeJSON(t, rec)
	entries, _ := transcriptPayload["entries"].([]any)
	if len(entries) == 0 {
		t.Errorf("expected transcript entries")
	}

	rec = doRequest(t, router, http.MethodPost, base+"/reset", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset failed: %d", rec.Code)
	}
	if decodeJSON(t, rec)["state"] != "IDLE" {
		t.Errorf("expected IDLE after reset")
	}

	rec = doRequest(t, router, http.MethodDelete, base+"/", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, base+"/transcript", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after removal, got %d", rec.Code)
	}
}

func TestStageFromURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("network video"))
	}))
	defer origin.Close()

	router := NewRouter(newTestApp(t, &fakeInference{}, nil))

	rec := doRequest(t, router, http.MethodPost, "/api/sessions", "", nil)
	id := decodeJSON(t, rec)["id"].(string)

	rec = doRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/media/url", "application/json",
		[]byte(`{"url":"`+origin.URL+`/feed.mp4"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("url staging failed: %d (%s)", rec.Code, rec.Body.String())
	}

	staged := decodeJSON(t, rec)
	media, _ := staged["media"].(map[string]any)
	if media == nil || media["origin"] != "network" || media["name"] != "feed.mp4" {
		t.Errorf("unexpected media payload: %v", staged["media"])
	}
	if size, _ := media["size"].(float64); int(size) != len("network video") {
		t.Errorf("unexpected buffered size: %v", media["size"])
	}
}

func TestIngestWithInitialPrompt(t *testing.T) {
	inference := &fakeInference{reply: "Nothing suspicious in the first pass."}
	router := NewRouter(newTestApp(t, inference, nil))

	rec := doRequest(t, router, http.MethodPost, "/api/sessions", "", nil)
	id := decodeJSON(t, rec)["id"].(string)
	base := "/api/sessions/" + id

	body, contentType := multipartVideo(t, "video", "cam2.mp4", []byte("video bytes"))
	rec = doRequest(t, router, http.MethodPost, base+"/media", contentType, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("staging failed: %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, base+"/ingest", "application/json",
		[]byte(`{"prompt":"run a full forensic scan"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest failed: %d (%s)", rec.Code, rec.Body.String())
	}

	payload := decodeJSON(t, rec)
	if payload["state"] != "CONVERSING" {
		t.Errorf("expected CONVERSING after the opening turn, got %v", payload["state"])
	}
	entry, _ := payload["entry"].(map[string]any)
	if entry == nil || entry["role"] != "model" {
		t.Fatalf("expected opening model entry, got %v", payload["entry"])
	}
	if entry["text"] != "Nothing suspicious in the first pass." {
		t.Errorf("unexpected reply text: %v", entry["text"])
	}
}

func TestIngestBeforeStagingConflicts(t *testing.T) {
	router := NewRouter(newTestApp(t, &fakeInference{}, nil))

	rec := doRequest(t, router, http.MethodPost, "/api/sessions", "", nil)
	id := decodeJSON(t, rec)["id"].(string)

	rec = doRequest(t, router, http.MethodPost, "/api/sessions/"+id+"/ingest", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	router := NewRouter(newTestApp(t, &fakeInference{}, nil))

	rec := doRequest(t, router, http.MethodGet, "/api/sessions/nope/transcript", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
