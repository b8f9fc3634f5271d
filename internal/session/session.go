package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/spectator/internal/database"
	"github.com/kdimtricp/spectator/internal/evidence"
	"github.com/kdimtricp/spectator/internal/gemini"
	"github.com/kdimtricp/spectator/internal/models"
	"github.com/kdimtricp/spectator/internal/storage"
	"github.com/kdimtricp/spectator/internal/transcript"
)

type State string

const (
	StateIdle       State = "IDLE"
	StateStaged     State = "STAGED"
	StateUploading  State = "UPLOADING"
	StateIndexing   State = "INDEXING"
	StateActive     State = "ACTIVE"
	StateConversing State = "CONVERSING"
	StateFailed     State = "FAILED"
)

const defaultPollInterval = 4 * time.Second

// InferenceClient is the slice of the Gemini client the orchestrator needs.
type InferenceClient interface {
	StartUpload(ctx context.Context, mimeType, displayName string) (string, error)
	Upload(ctx context.Context, uploadURL string, data []byte) (*gemini.FileHandle, error)
	GetFileState(ctx context.Context, uri string) (gemini.FileState, error)
	GenerateContent(ctx context.Context, contents []gemini.Content) (string, error)
}

// FrameCapturer renders one annotated evidence frame from buffered media.
type FrameCapturer interface {
	Capture(ctx context.Context, videoPath string, d evidence.Directive) ([]byte, error)
}

// ErrSessionReset reports that a reset superseded the operation mid-flight;
// its partial results were discarded.
var ErrSessionReset = errors.New("session was reset")

type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Op, e.State)
}

// Session owns one analysis exchange end to end: the single live media
// source, the remote file handle, and the append-only conversation history.
// Exactly one client owns a session; Converse is serialized so history reads
// and appends never interleave.
type Session struct {
	ID string

	mu     sync.Mutex
	convMu sync.Mutex

	state   State
	media   *models.MediaSource
	handle  *gemini.FileHandle
	history []gemini.Content

	// epoch increments on every stage/reset; in-flight work commits only
	// if its epoch still matches.
	epoch    int
	lifetime context.Context
	cancel   context.CancelFunc

	inference    InferenceClient
	capturer     FrameCapturer
	store        storage.Storage
	transcripts  *database.TranscriptRepo
	pollInterval time.Duration
	logger       *slog.Logger
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Media() *models.MediaSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// Stage buffers a new media source and makes it the session's one live
// source. Any previous source, handle and history are discarded wholesale;
// downstream state never survives a re-stage.
func (s *Session) Stage(ctx context.Context, r io.Reader, displayName, contentType string, origin models.MediaOrigin) (*models.MediaSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Unknown or text content types come from proxies that mislabel
	// streams; treat them as mp4.
	if contentType == "" || strings.Contains(contentType, "text/plain") {
		contentType = "video/mp4"
	}

	filename, err := s.store.SaveFile(r, storage.FileInfo{
		Filename:    displayName,
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to buffer media: %w", err)
	}

	var size int64
	if info, err := os.Stat(s.store.GetFilePath(filename)); err == nil {
		size = info.Size()
	}

	s.detachLocked()
	if s.media != nil {
		if err := s.store.DeleteFile(s.media.Filename); err != nil {
			s.logger.Warn("failed to delete superseded media", "session", s.ID, "err", err)
		}
	}
	if err := s.transcripts.DeleteBySession(ctx, s.ID); err != nil {
		s.logger.Warn("failed to clear transcript", "session", s.ID, "err", err)
	}

	s.media = models.NewMediaSource(displayName, contentType, size, origin, filename)
	s.handle = nil
	s.history = nil
	s.state = StateStaged

	s.appendSystem(ctx, fmt.Sprintf("Data buffered [%.1fMB]. Ready to ingest.", float64(size)/1024/1024))
	s.logger.Info("media staged", "session", s.ID, "name", displayName, "size", size, "origin", origin)

	return s.media, nil
}

// Upload runs the resumable transfer: initiate a session, then transmit and
// finalize the full payload. Both failure modes are terminal for this
// attempt; the operator re-stages to try again.
func (s *Session) Upload(ctx context.Context) (*gemini.FileHandle, error) {
	s.mu.Lock()
	if s.state != StateStaged {
		defer s.mu.Unlock()
		return nil, &InvalidStateError{Op: "upload", State: s.state}
	}
	media := s.media
	epoch := s.epoch
	s.state = StateUploading
	s.mu.Unlock()

	data, err := s.readMedia(media)
	if err != nil {
		return nil, s.failUpload(ctx, epoch, err)
	}

	s.appendSystem(ctx, "Initializing resumable upload...")

	uploadURL, err := s.inference.StartUpload(ctx, media.ContentType, media.DisplayName)
	if err != nil {
		return nil, s.failUpload(ctx, epoch, err)
	}

	handle, err := s.inference.Upload(ctx, uploadURL, data)
	if err != nil {
		return nil, s.failUpload(ctx, epoch, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, ErrSessionReset
	}
	s.handle = handle
	s.state = StateIndexing
	s.logger.Info("upload complete", "session", s.ID, "uri", handle.URI)

	return handle, nil
}

func (s *Session) readMedia(media *models.MediaSource) ([]byte, error) {
	file, err := s.store.OpenFile(media.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open buffered media: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffered media: %w", err)
	}
	return data, nil
}

func (s *Session) failUpload(ctx context.Context, epoch int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSessionReset
	}
	s.state = StateFailed
	s.appendSystem(ctx, fmt.Sprintf("CRITICAL FAILURE: %v", err))
	s.logger.Error("upload failed", "session", s.ID, "err", err)
	return err
}

// AwaitReady polls the remote handle at a fixed interval until the service
// reports ACTIVE or FAILED. The loop has no cap of its own; callers bound it
// through ctx, and a session reset wakes the loop immediately.
func (s *Session) AwaitReady(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIndexing || s.handle == nil {
		defer s.mu.Unlock()
		return &InvalidStateError{Op: "await readiness", State: s.state}
	}
	handle := s.handle
	epoch := s.epoch
	lifetime := s.lifetime
	s.mu.Unlock()

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lifetime.Done():
			return ErrSessionReset
		case <-timer.C:
		}

		s.logger.Debug("checking remote indexing state", "session", s.ID, "uri", handle.URI)

		state, err := s.inference.GetFileState(ctx, handle.URI)
		if err != nil {
			// A dropped status poll is not a verdict; keep polling.
			s.logger.Warn("status check failed", "session", s.ID, "err", err)
		}

		switch state {
		case gemini.StateActive:
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.epoch != epoch {
				return ErrSessionReset
			}
			s.handle.State = gemini.StateActive
			s.state = StateActive
			s.appendSystem(ctx, "Neural indexing complete.")
			s.logger.Info("remote file active", "session", s.ID, "uri", handle.URI)
			return nil

		case gemini.StateFailed:
			indexErr := &gemini.IndexingError{URI: handle.URI}
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.epoch != epoch {
				return ErrSessionReset
			}
			s.handle.State = gemini.StateFailed
			s.state = StateFailed
			s.appendSystem(ctx, fmt.Sprintf("CRITICAL FAILURE: %v", indexErr))
			return indexErr
		}

		timer.Reset(s.pollInterval)
	}
}

// Converse sends one operator turn through the accumulated history and
// appends the model's reply. The first turn of a session carries the file
// reference; later turns rely on history alone. Evidence directives in the
// reply are captured sequentially, in textual order, each one best-effort.
func (s *Session) Converse(ctx context.Context, text string) (*transcript.Entry, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	s.mu.Lock()
	if s.state != StateActive && s.state != StateConversing {
		defer s.mu.Unlock()
		return nil, &InvalidStateError{Op: "converse", State: s.state}
	}
	epoch := s.epoch
	media := s.media
	handle := s.handle
	prior := s.state
	history := make([]gemini.Content, len(s.history))
	copy(history, s.history)
	s.state = StateConversing
	s.mu.Unlock()

	s.appendEntry(ctx, transcript.RoleOperator, text, "", nil)

	parts := []gemini.Part{}
	if len(history) == 0 {
		parts = append(parts, gemini.Part{FileData: &gemini.FileData{
			FileURI:  handle.URI,
			MIMEType: media.ContentType,
		}})
	}
	parts = append(parts, gemini.Part{Text: buildPrompt(text)})
	outgoing := gemini.Content{Role: "user", Parts: parts}

	reply, err := s.inference.GenerateContent(ctx, append(history, outgoing))
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch {
			return nil, ErrSessionReset
		}
		// The handle stays valid after an inference error; the operator
		// just sends again.
		s.state = prior
		s.appendSystem(ctx, fmt.Sprintf("Inference error: %v", err))
		return nil, err
	}

	entry := s.captureEvidence(ctx, media, reply)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, ErrSessionReset
	}
	s.history = append(s.history, outgoing, gemini.Content{
		Role:  "model",
		Parts: []gemini.Part{{Text: reply}},
	})
	s.state = StateConversing

	if err := s.transcripts.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to record model entry", "session", s.ID, "err", err)
	}

	return entry, nil
}

// captureEvidence turns the reply's directives into annotated frames, one
// capture at a time: the decoder seeks one target at a time, and a failed
// directive never takes its siblings down with it.
func (s *Session) captureEvidence(ctx context.Context, media *models.MediaSource, reply string) *transcript.Entry {
	entry := &transcript.Entry{
		SessionID: s.ID,
		Role:      transcript.RoleModel,
		Text:      reply,
		HTML:      evidence.RenderDisplay(reply),
		CreatedAt: time.Now(),
	}

	mediaPath := s.store.GetFilePath(media.Filename)
	for _, directive := range evidence.ExtractDirectives(reply) {
		frame, err := s.capturer.Capture(ctx, mediaPath, directive)
		if err != nil {
			s.logger.Warn("evidence capture failed",
				"session", s.ID,
				"timestamp", directive.Timestamp(),
				"kind", directive.Kind,
				"err", err)
			s.appendSystem(ctx, fmt.Sprintf("Evidence capture failed: %v", err))
			continue
		}
		entry.Evidence = append(entry.Evidence, transcript.NewImage(len(entry.Evidence), "image/jpeg", frame))
	}

	return entry
}

// Transcript returns the full ordered log for this session.
func (s *Session) Transcript(ctx context.Context) ([]*transcript.Entry, error) {
	return s.transcripts.ListBySession(ctx, s.ID)
}

// Reset returns the session to IDLE from any state. The in-flight poll or
// conversation observes the cancellation and discards its results; the
// buffered blob is released.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detachLocked()

	if s.media != nil {
		if err := s.store.DeleteFile(s.media.Filename); err != nil {
			s.logger.Warn("failed to delete media on reset", "session", s.ID, "err", err)
		}
	}

	s.media = nil
	s.handle = nil
	s.history = nil
	s.state = StateIdle

	if err := s.transcripts.DeleteBySession(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	s.appendSystem(ctx, "--- SESSION CLEARED ---")
	s.logger.Info("session reset", "session", s.ID)

	return nil
}

// detachLocked invalidates in-flight work against the current source. Caller
// holds s.mu.
func (s *Session) detachLocked() {
	s.epoch++
	s.cancel()
	s.lifetime, s.cancel = context.WithCancel(context.Background())
}

func (s *Session) appendSystem(ctx context.Context, text string) {
	s.appendEntry(ctx, transcript.RoleSystem, text, "", nil)
}

func (s *Session) appendEntry(ctx context.Context, role transcript.Role, text, html string, images []transcript.Image) {
	entry := &transcript.Entry{
		SessionID: s.ID,
		Role:      role,
		Text:      text,
		HTML:      html,
		Evidence:  images,
		CreatedAt: time.Now(),
	}
	if err := s.transcripts.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append transcript entry", "session", s.ID, "role", role, "err", err)
	}
}

func newSession(inference InferenceClient, capturer FrameCapturer, store storage.Storage, transcripts *database.TranscriptRepo, pollInterval time.Duration, logger *slog.Logger) *Session {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           uuid.New().String(),
		state:        StateIdle,
		lifetime:     lifetime,
		cancel:       cancel,
		inference:    inference,
		capturer:     capturer,
		store:        store,
		transcripts:  transcripts,
		pollInterval: pollInterval,
		logger:       logger,
	}
}
