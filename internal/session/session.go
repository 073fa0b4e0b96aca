// Package session keeps per-visitor state: consent, the resolved profile, the
// chat log, the sealed scan and the last report. Each visitor has their own
// Session and nothing is shared between them.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/chat"
	"github.com/joelkehle/cancer-navigator/internal/report"
)

const DefaultTTL = 30 * time.Minute

type Session struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Consent   bool             `json:"consent"`
	Profile   *catalog.Profile `json:"profile,omitempty"`
	Chat      chat.Log         `json:"chat"`
	// Scan is the sealed imaging.Scan JSON; see vault.Sealer.
	Scan       []byte         `json:"scan,omitempty"`
	LastReport *report.Report `json:"last_report,omitempty"`
}

// Store implementations serialise Update calls per session ID.
type Store interface {
	Create(ctx context.Context) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	// Update applies fn to a copy of the session while holding its lock and
	// saves the copy if fn returns nil.
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

func newSession(now time.Time) Session {
	return Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now, Chat: chat.Log{}}
}

func (s Session) clone() Session {
	out := s
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	out.Chat = append(chat.Log{}, s.Chat...)
	if s.Scan != nil {
		out.Scan = append([]byte(nil), s.Scan...)
	}
	if s.LastReport != nil {
		r := *s.LastReport
		out.LastReport = &r
	}
	return out
}

func notFound(id string) error {
	return apperr.NotFound("session " + id + " not found or expired")
}
