// Package telemetry is the quota-bounded write path for key, click and
// presence events.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"keywatch-server/internal/announce"
	"keywatch-server/internal/category"
	"keywatch-server/internal/hub"
	"keywatch-server/internal/model"
	"keywatch-server/internal/store"
)

const (
	DefaultMaxKeyEvents   = 1000
	DefaultMaxClickEvents = 50
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrQuotaExceeded   = store.ErrQuotaExceeded
)

type PresenceKind string

const (
	Entered PresenceKind = "entered"
	Exited  PresenceKind = "exited"
)

func ParsePresenceKind(raw string) (PresenceKind, bool) {
	switch PresenceKind(raw) {
	case Entered:
		return Entered, true
	case Exited:
		return Exited, true
	}
	return "", false
}

type Service struct {
	Store          *store.Store
	Announcer      announce.Announcer
	Hub            *hub.Hub
	PublicURL      string
	MaxKeyEvents   int
	MaxClickEvents int
	Now            func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) maxKeyEvents() int {
	if s.MaxKeyEvents > 0 {
		return s.MaxKeyEvents
	}
	return DefaultMaxKeyEvents
}

func (s *Service) maxClickEvents() int {
	if s.MaxClickEvents > 0 {
		return s.MaxClickEvents
	}
	return DefaultMaxClickEvents
}

func (s *Service) loadSession(ctx context.Context, id64 string) (model.Session, error) {
	sess, err := s.Store.GetByID64(ctx, id64)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Session{}, ErrSessionNotFound
		}
		return model.Session{}, err
	}
	return sess, nil
}

// RecordKey categorizes and appends one key event. The append is rejected
// with ErrQuotaExceeded once the session holds its maximum of key rows.
func (s *Service) RecordKey(ctx context.Context, id64, key string) error {
	sess, err := s.loadSession(ctx, id64)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	cat := category.Categorize(key)
	if err := s.Store.AppendKeyEvent(ctx, id64, now, key, cat, s.maxKeyEvents()); err != nil {
		return err
	}

	s.broadcast(sess.Token, model.KeyEvent{Time: now, Key: key, Category: cat}, "key")
	return nil
}

// RecordClick appends one click event verbatim, capped at the click quota.
func (s *Service) RecordClick(ctx context.Context, id64 string, x, y float64, w, h int) error {
	sess, err := s.loadSession(ctx, id64)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	if err := s.Store.AppendClickEvent(ctx, id64, now, x, y, w, h, s.maxClickEvents()); err != nil {
		return err
	}

	s.broadcast(sess.Token, model.ClickEvent{Time: now, X: x, Y: y, W: w, H: h}, "click")
	return nil
}

// RecordPresence applies an entered/exited transition. All three presence
// fields are written together, re-writing the untouched timestamp with its
// previous value so concurrent updates cannot leave a mixed state. An
// audit row lands in the key timeline regardless of the key quota, and the
// announcement is refreshed best-effort.
func (s *Service) RecordPresence(ctx context.Context, id64 string, kind PresenceKind) error {
	sess, err := s.loadSession(ctx, id64)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	var label string
	switch kind {
	case Entered:
		sess.Online = true
		sess.LastOnline = &now
		label = "Player entered"
	case Exited:
		sess.Online = false
		sess.LastOffline = &now
		label = "Player exited"
	default:
		return errors.New("unknown presence kind")
	}

	if err := s.Store.UpdatePresence(ctx, id64, sess.Online, sess.LastOnline, sess.LastOffline); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := s.Store.AppendKeyEvent(ctx, id64, now, label, category.All, 0); err != nil {
		return err
	}

	if sess.AnnouncementID != nil {
		viewURL := s.PublicURL + "/v1/data/" + sess.Token
		if err := s.Announcer.Update(ctx, *sess.AnnouncementID, sess, viewURL); err != nil {
			log.Printf("announce: update failed for %s: %v", id64, err)
		}
	}

	s.broadcast(sess.Token, presenceUpdate{Online: sess.Online, LastOnline: sess.LastOnline, LastOffline: sess.LastOffline}, "presence")
	return nil
}

type presenceUpdate struct {
	Online      bool   `json:"online"`
	LastOnline  *int64 `json:"lastOnline"`
	LastOffline *int64 `json:"lastOffline"`
}

type feedMessage struct {
	Type string `json:"type"`
	Body any    `json:"body"`
}

func (s *Service) broadcast(token string, body any, kind string) {
	if s.Hub == nil {
		return
	}
	out, err := json.Marshal(feedMessage{Type: kind, Body: body})
	if err != nil {
		return
	}
	s.Hub.Broadcast(token, out)
}
