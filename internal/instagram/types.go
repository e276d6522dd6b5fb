package instagram

import (
	"time"

	"github.com/xpanddigital/CrateHQ/internal/device"
)

// Settings is the opaque session material persisted between runs. It is
// enough to resume an authenticated session without a fresh login handshake.
type Settings struct {
	UUID          string         `json:"uuid"`
	PhoneID       string         `json:"phone_id"`
	DeviceID      string         `json:"device_id"`
	UserID        int64          `json:"user_id,omitempty"`
	Authorization string         `json:"authorization,omitempty"`
	UserAgent     string         `json:"user_agent"`
	Device        device.Profile `json:"device"`
}

func (s Settings) IsZero() bool {
	return s.UUID == "" && s.DeviceID == "" && s.Authorization == ""
}

type User struct {
	PK       int64
	Username string
	FullName string
}

type Thread struct {
	ID    string
	Users []User
}

type Media struct {
	ThumbnailURL string
	VideoURL     string
}

// URL prefers the thumbnail and falls back to the video rendition.
func (m *Media) URL() string {
	if m == nil {
		return ""
	}
	if m.ThumbnailURL != "" {
		return m.ThumbnailURL
	}
	return m.VideoURL
}

type Message struct {
	ID        string
	UserID    int64
	Text      string
	ItemType  string
	Timestamp time.Time
	Media     *Media
}

type SentMessage struct {
	ID string
}
