package credential

import (
	"context"
	"time"
)

// Snapshot is the persisted form of a session, keyed by Credentials.Key.
// Access tokens are never stored.
type Snapshot struct {
	Key            string
	UserAgent      string
	SessionToken   string
	ClearanceToken string
	Cookies        []Cookie
	UpdatedAt      time.Time
}

// NewSnapshot captures the persistable parts of s.
func NewSnapshot(key string, s *Session, now time.Time) *Snapshot {
	return &Snapshot{
		Key:            key,
		UserAgent:      s.UserAgent,
		SessionToken:   s.SessionToken,
		ClearanceToken: s.ClearanceToken,
		Cookies:        s.CookieList(),
		UpdatedAt:      now,
	}
}

// Repository persists session snapshots so a restart can reuse cookies.
type Repository interface {
	// FindByKey returns nil, nil if no snapshot exists.
	FindByKey(ctx context.Context, key string) (*Snapshot, error)

	// Save inserts or replaces the snapshot for snapshot.Key.
	Save(ctx context.Context, snapshot *Snapshot) error

	// Delete removes the snapshot for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
