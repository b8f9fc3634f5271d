package gemini

import "fmt"

type FileState string

const (
	StatePending FileState = "PENDING"
	StateActive  FileState = "ACTIVE"
	StateFailed  FileState = "FAILED"
)

// FileHandle identifies a video uploaded to the Files API. It is only usable
// for conversation while its state is ACTIVE.
type FileHandle struct {
	URI      string
	State    FileState
	MIMEType string
}

// Content is one conversation turn on the wire.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is either text or a reference to an uploaded file, never both.
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"file_data,omitempty"`
}

type FileData struct {
	FileURI  string `json:"file_uri"`
	MIMEType string `json:"mime_type"`
}

type startUploadRequest struct {
	File struct {
		DisplayName string `json:"display_name"`
	} `json:"file"`
}

type fileMetadata struct {
	URI      string    `json:"uri"`
	State    FileState `json:"state"`
	MIMEType string    `json:"mimeType"`
}

type uploadResponse struct {
	File fileMetadata `json:"file"`
}

type generateRequest struct {
	Contents []Content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

// HandshakeError means the service refused to open an upload session,
// commonly because the credential is invalid. The attempt is over; the
// operator has to re-stage and retry.
type HandshakeError struct {
	Status  int
	Message string
}

func (e *HandshakeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload handshake failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upload handshake failed (status %d): check API key", e.Status)
}

// TransmissionError means the byte payload did not reach the upload session.
type TransmissionError struct {
	Status  int
	Message string
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("byte transmission failed (status %d): %s", e.Status, e.Message)
}

// IndexingError means the service reported FAILED while processing the
// uploaded video. The handle is dead; a fresh upload is required.
type IndexingError struct {
	URI string
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("video indexing failed for %s", e.URI)
}

// InferenceError carries the service's own message for a failed conversation
// call. The file handle stays valid; the turn can simply be retried.
type InferenceError struct {
	Message string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference error: %s", e.Message)
}
