package models

import (
	"time"

	"github.com/google/uuid"
)

type MediaOrigin string

const (
	OriginLocal   MediaOrigin = "local"
	OriginNetwork MediaOrigin = "network"
)

// MediaSource is the one video under analysis for a session. It is created
// whole on staging and replaced whole on re-stage or reset; Filename is the
// key of the buffered blob in storage.
type MediaSource struct {
	ID          string
	DisplayName string
	ContentType string
	Size        int64
	Origin      MediaOrigin
	Filename    string
	StagedAt    time.Time
}

func NewMediaSource(displayName, contentType string, size int64, origin MediaOrigin, filename string) *MediaSource {
	return &MediaSource{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		ContentType: contentType,
		Size:        size,
		Origin:      origin,
		Filename:    filename,
		StagedAt:    time.Now(),
	}
}
