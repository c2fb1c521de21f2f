// Package conversation holds per-session dialogue state: an ordered
// transcript of turns plus accumulated viewer preferences. The in-memory
// store is the default backing; internal/store provides a Postgres-backed
// implementation of the same interface.
package conversation

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's transcript. Turns are immutable once
// appended; append order is dialogue order.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Preferences maps a preference key (e.g. "platforms", "genres") to the set
// of values the viewer has stated for it.
type Preferences map[string][]string

// Merge folds other into p as a per-key set union. Value order within a key
// is first-seen order, so repeated statements of the same preference are
// stable across merges.
func (p Preferences) Merge(other Preferences) {
	for key, values := range other {
		existing := p[key]
		seen := make(map[string]bool, len(existing))
		for _, v := range existing {
			seen[v] = true
		}
		for _, v := range values {
			if !seen[v] {
				existing = append(existing, v)
				seen[v] = true
			}
		}
		p[key] = existing
	}
}

// Clone returns a deep copy, safe to hand to callers outside the store lock.
func (p Preferences) Clone() Preferences {
	out := make(Preferences, len(p))
	for key, values := range p {
		out[key] = append([]string(nil), values...)
	}
	return out
}

var ErrSessionNotFound = errors.New("session not found")

// Store is the conversation memory contract. Start with an empty id issues a
// new session identifier; Start with a known id resets that session rather
// than failing. Clear is idempotent: clearing an unknown session is a no-op.
type Store interface {
	Start(ctx context.Context, id string) (string, error)
	Append(ctx context.Context, id string, role Role, text string) error
	Read(ctx context.Context, id string) ([]Turn, error)
	MergePreferences(ctx context.Context, id string, prefs Preferences) error
	Preferences(ctx context.Context, id string) (Preferences, error)
	Clear(ctx context.Context, id string) error
}
