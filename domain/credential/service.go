package credential

import (
	"context"
	"errors"
	"time"
)

// ErrSnapshotNotFound is returned by Service.Restore when nothing is stored.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

// Service wraps a Repository. A nil repository turns every call into a no-op.
type Service struct {
	repo Repository
	now  func() time.Time
	ttl  time.Duration
}

// NewService creates a snapshot service. Snapshots older than ttl are ignored
// on restore; ttl <= 0 disables expiry.
func NewService(repo Repository, ttl time.Duration) *Service {
	return &Service{repo: repo, now: time.Now, ttl: ttl}
}

// Enabled returns true if a repository is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.repo != nil
}

// Restore loads the snapshot for key.
func (s *Service) Restore(ctx context.Context, key string) (*Snapshot, error) {
	if !s.Enabled() {
		return nil, ErrSnapshotNotFound
	}
	snap, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if snap == nil || len(snap.Cookies) == 0 {
		return nil, ErrSnapshotNotFound
	}
	if s.ttl > 0 && s.now().Sub(snap.UpdatedAt) > s.ttl {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

// Save stores the persistable parts of session under key.
func (s *Service) Save(ctx context.Context, key string, session *Session) error {
	if !s.Enabled() || session.IsZero() {
		return nil
	}
	return s.repo.Save(ctx, NewSnapshot(key, session, s.now()))
}

// Forget deletes the snapshot for key.
func (s *Service) Forget(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	return s.repo.Delete(ctx, key)
}
