// Package announce mirrors session state to an operator notification
// channel. Every call is best-effort: callers log failures and move on.
package announce

import (
	"context"

	"keywatch-server/internal/model"
)

// Announcer publishes, refreshes and retracts one message per session.
// The returned ref is opaque to the core; it is persisted on the session
// so later updates can find the message.
type Announcer interface {
	Publish(ctx context.Context, sess model.Session, viewURL string) (string, error)
	Update(ctx context.Context, ref string, sess model.Session, viewURL string) error
	Retract(ctx context.Context, ref string) error
}

// Noop is used when no channel is configured.
type Noop struct{}

func (Noop) Publish(context.Context, model.Session, string) (string, error) { return "", nil }
func (Noop) Update(context.Context, string, model.Session, string) error    { return nil }
func (Noop) Retract(context.Context, string) error                          { return nil }
