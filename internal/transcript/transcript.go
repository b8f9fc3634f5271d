package transcript

import (
	"encoding/base64"
	"fmt"
	"time"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleModel    Role = "model"
	RoleSystem   Role = "system"
)

// Entry is one line of the analysis transcript. Entries are append-only for
// a session; they are removed only when the whole session resets.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	HTML      string    `json:"html,omitempty"`
	Evidence  []Image   `json:"evidence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Image is one annotated evidence frame, immutable once produced. Ordinal is
// its position among the evidence captured for the owning entry.
type Image struct {
	Ordinal  int    `json:"ordinal"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
	DataURL  string `json:"data_url"`
}

func NewImage(ordinal int, mimeType string, data []byte) Image {
	return Image{
		Ordinal:  ordinal,
		MIMEType: mimeType,
		Data:     data,
		DataURL:  fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
	}
}
