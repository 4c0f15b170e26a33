// Package session owns the session lifecycle: creation, termination and
// listing, with the global ceiling and announcement side effects.
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"keywatch-server/internal/announce"
	"keywatch-server/internal/model"
	"keywatch-server/internal/steamid"
	"keywatch-server/internal/store"
)

const DefaultMaxSessions = 100

var (
	ErrInvalidSteamID = steamid.ErrInvalid
	ErrCapacity       = errors.New("session capacity reached")
)

type Manager struct {
	Store       *store.Store
	Announcer   announce.Announcer
	PublicURL   string
	MaxSessions int
	Now         func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) maxSessions() int {
	if m.MaxSessions > 0 {
		return m.MaxSessions
	}
	return DefaultMaxSessions
}

// ViewURL is the public read link for a session token.
func (m *Manager) ViewURL(token string) string {
	return m.PublicURL + "/v1/data/" + token
}

// Start creates a session for the given SteamID, or returns the existing
// one; created reports which happened. A successful create publishes an
// announcement best-effort and persists its reference.
func (m *Manager) Start(ctx context.Context, id2 string) (model.Session, bool, error) {
	id64, err := steamid.Resolve(id2)
	if err != nil {
		return model.Session{}, false, err
	}

	existing, err := m.Store.GetByID64(ctx, id64)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Session{}, false, err
	}

	count, err := m.Store.CountSessions(ctx)
	if err != nil {
		return model.Session{}, false, err
	}
	if count >= m.maxSessions() {
		return model.Session{}, false, ErrCapacity
	}

	sess := model.Session{
		ID64:      id64,
		ID2:       id2,
		Token:     uuid.NewString(),
		StartedAt: m.now().UnixMilli(),
	}
	if err := m.Store.CreateSession(ctx, sess); err != nil {
		// Lost a race to a concurrent start for the same id: idempotent.
		if errors.Is(err, store.ErrDuplicateSession) {
			existing, getErr := m.Store.GetByID64(ctx, id64)
			if getErr != nil {
				return model.Session{}, false, getErr
			}
			return existing, false, nil
		}
		return model.Session{}, false, err
	}

	ref, err := m.Announcer.Publish(ctx, sess, m.ViewURL(sess.Token))
	if err != nil {
		log.Printf("announce: publish failed for %s: %v", id64, err)
		return sess, true, nil
	}
	if ref != "" {
		if err := m.Store.SetAnnouncementID(ctx, id64, ref); err != nil {
			log.Printf("announce: persist ref failed for %s: %v", id64, err)
		} else {
			sess.AnnouncementID = &ref
		}
	}
	return sess, true, nil
}

// Stop retracts the announcement best-effort and deletes the session with
// all of its telemetry. Returns false when no session exists for the id.
func (m *Manager) Stop(ctx context.Context, id2 string) (bool, error) {
	id64, err := steamid.Resolve(id2)
	if err != nil {
		return false, err
	}

	sess, err := m.Store.GetByID64(ctx, id64)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if sess.AnnouncementID != nil {
		if err := m.Announcer.Retract(ctx, *sess.AnnouncementID); err != nil {
			log.Printf("announce: retract failed for %s: %v", id64, err)
		}
	}

	if err := m.Store.DeleteSession(ctx, id64); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns summaries for every live session.
func (m *Manager) List(ctx context.Context) ([]model.SessionSummary, error) {
	return m.Store.ListSummaries(ctx)
}

// ActiveIDs returns the id64 of every live session.
func (m *Manager) ActiveIDs(ctx context.Context) ([]string, error) {
	return m.Store.ListActiveIDs(ctx)
}
