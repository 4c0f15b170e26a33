// Package view is the token-scoped read side: data assembly, category
// filtering and CSV export.
package view

import (
	"context"
	"encoding/csv"
	"strconv"
	"strings"

	"keywatch-server/internal/category"
	"keywatch-server/internal/model"
	"keywatch-server/internal/store"
	"keywatch-server/internal/timefmt"
)

// Presence is the session slice of the read payload.
type Presence struct {
	Online      bool   `json:"online"`
	LastOnline  *int64 `json:"lastOnline"`
	LastOffline *int64 `json:"lastOffline"`
}

// Data is everything a token grants access to. Both event lists are newest
// first.
type Data struct {
	Logs    []model.KeyEvent   `json:"logs"`
	Clicks  []model.ClickEvent `json:"clicks"`
	Session Presence           `json:"session"`
}

type Gateway struct {
	Store *store.Store
}

// Data returns the full telemetry payload for a token, or
// store.ErrNotFound when the token matches no session.
func (g *Gateway) Data(ctx context.Context, token string) (Data, error) {
	sess, err := g.Store.GetByToken(ctx, token)
	if err != nil {
		return Data{}, err
	}

	logs, err := g.Store.ListKeyEvents(ctx, sess.ID64)
	if err != nil {
		return Data{}, err
	}
	clicks, err := g.Store.ListClickEvents(ctx, sess.ID64)
	if err != nil {
		return Data{}, err
	}

	return Data{
		Logs:   logs,
		Clicks: clicks,
		Session: Presence{
			Online:      sess.Online,
			LastOnline:  sess.LastOnline,
			LastOffline: sess.LastOffline,
		},
	}, nil
}

// FilterKeys keeps only events of the given category; All passes
// everything through.
func FilterKeys(events []model.KeyEvent, cat category.Category) []model.KeyEvent {
	if cat == category.All {
		return events
	}
	result := make([]model.KeyEvent, 0, len(events))
	for _, ev := range events {
		if ev.Category == cat {
			result = append(result, ev)
		}
	}
	return result
}

// KeysCSV renders key events as CSV with Moscow-time timestamps.
func KeysCSV(events []model.KeyEvent) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"Time", "Key", "Category"})
	for _, ev := range events {
		_ = w.Write([]string{timefmt.Moscow(ev.Time), ev.Key, string(ev.Category)})
	}
	w.Flush()
	return sb.String()
}

// ClicksCSV renders click events as CSV with Moscow-time timestamps.
func ClicksCSV(events []model.ClickEvent) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"Time", "X", "Y", "W", "H"})
	for _, ev := range events {
		_ = w.Write([]string{
			timefmt.Moscow(ev.Time),
			strconv.FormatFloat(ev.X, 'f', -1, 64),
			strconv.FormatFloat(ev.Y, 'f', -1, 64),
			strconv.Itoa(ev.W),
			strconv.Itoa(ev.H),
		})
	}
	w.Flush()
	return sb.String()
}
