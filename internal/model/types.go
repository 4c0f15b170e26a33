package model

import "keywatch-server/internal/category"

// Session tracks one monitored player account. Timestamps are unix millis;
// nullable timestamps are pointers.
type Session struct {
	ID64           string
	ID2            string
	Token          string
	StartedAt      int64
	Online         bool
	LastOnline     *int64
	LastOffline    *int64
	AnnouncementID *string
}

// KeyEvent is one captured key press. Append-only.
type KeyEvent struct {
	Time     int64             `json:"time"`
	Key      string            `json:"key"`
	Category category.Category `json:"category"`
}

// ClickEvent is one captured free click with the viewport it happened in.
type ClickEvent struct {
	Time int64   `json:"time"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    int     `json:"w"`
	H    int     `json:"h"`
}

type SessionSummary struct {
	ID2    string
	Token  string
	Online bool
}
