// /internal/store/store.go
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/lavamux/internal/datastore"
	"github.com/keshon/lavamux/internal/lavalink"
)

const sessionPrefix = "session:"

// Store persists node session records so a restarted process can resume them.
// It implements lavalink.SessionStore.
type Store struct {
	ds  *datastore.DataStore
	log zerolog.Logger
}

var _ lavalink.SessionStore = (*Store)(nil)

func New(filePath string, log zerolog.Logger) (*Store, error) {
	cfg := datastore.DefaultConfig(filePath)
	cfg.Logger = log
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{ds: ds, log: log.With().Str("component", "store").Logger()}, nil
}

func (s *Store) Close() error {
	return s.ds.Close()
}

func (s *Store) LoadSession(nodeID string) (lavalink.SessionRecord, bool) {
	var rec lavalink.SessionRecord
	if err := s.ds.Get(sessionPrefix+nodeID, &rec); err != nil {
		if !errors.Is(err, datastore.ErrNotFound) {
			s.log.Warn().Err(err).Str("node", nodeID).Msg("unreadable session record")
		}
		return lavalink.SessionRecord{}, false
	}
	return rec, rec.SessionID != "" || rec.ResumeKey != ""
}

func (s *Store) SaveSession(nodeID string, rec lavalink.SessionRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	return s.ds.Put(sessionPrefix+nodeID, rec)
}

// Sessions lists every stored record keyed by node id.
func (s *Store) Sessions() map[string]lavalink.SessionRecord {
	out := make(map[string]lavalink.SessionRecord)
	for _, key := range s.ds.Keys(sessionPrefix) {
		var rec lavalink.SessionRecord
		if err := s.ds.Get(key, &rec); err == nil {
			out[strings.TrimPrefix(key, sessionPrefix)] = rec
		}
	}
	return out
}

// PruneSessions drops records not refreshed within maxAge and returns how many were removed.
// A node can no longer resume such a session once the server side timeout elapsed.
func (s *Store) PruneSessions(maxAge time.Duration, now time.Time) int {
	removed := 0
	for id, rec := range s.Sessions() {
		if now.Sub(rec.UpdatedAt) > maxAge {
			s.ds.Delete(sessionPrefix + id)
			removed++
		}
	}
	return removed
}

// RunSessionPruner prunes expired session records every interval until ctx is done.
func RunSessionPruner(ctx context.Context, s *Store, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.PruneSessions(maxAge, now); n > 0 {
				s.log.Info().Int("removed", n).Msg("pruned expired sessions")
			}
		}
	}
}
