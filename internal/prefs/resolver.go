package prefs

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidems/murmur/internal/activation"
	"github.com/davidems/murmur/internal/cache"
	"github.com/davidems/murmur/internal/store"
)

const (
	sessionCacheTTL     = 5 * time.Minute
	sessionCacheEntries = 1000
)

// Resolved is everything the engine needs to judge one batch.
type Resolved struct {
	Session     store.Session
	UserID      string
	Preferences Preferences
	Pattern     *regexp.Regexp
}

// Resolver merges session-scope preference overrides over user defaults over
// the hardcoded baseline. The session-metadata lookup is cached for a short
// TTL; preference rows are read fresh every time, so a hit and a miss
// resolve identically.
type Resolver struct {
	store    store.Store
	sessions *cache.TTL[store.Session]
	log      zerolog.Logger
}

func NewResolver(st store.Store, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:    st,
		sessions: cache.NewTTL[store.Session](sessionCacheTTL, sessionCacheEntries),
		log:      log.With().Str("component", "prefs").Logger(),
	}
}

// Resolve looks up (and lazily creates) the session for key, then assembles
// its effective preferences. userIDHint, when set, wins over the user linked
// to the session row.
func (r *Resolver) Resolve(ctx context.Context, sessionKey, userIDHint string) (Resolved, error) {
	sess, err := r.sessions.GetOrLoad(ctx, sessionKey+"|"+userIDHint, func(ctx context.Context) (store.Session, error) {
		return r.store.UpsertSession(ctx, sessionKey)
	})
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve session %q: %w", sessionKey, err)
	}

	userID := userIDHint
	if userID == "" {
		userID = sess.UserID
	}

	resolved := Default()
	if userID != "" {
		rec, err := r.store.UserPreferences(ctx, userID)
		if err != nil {
			return Resolved{}, fmt.Errorf("user preferences for %q: %w", userID, err)
		}
		resolved.Apply(rec)
	}
	rec, err := r.store.SessionPreferences(ctx, sess.ID)
	if err != nil {
		return Resolved{}, fmt.Errorf("session preferences for %q: %w", sess.ID, err)
	}
	resolved.Apply(rec)

	pattern, perr := activation.BuildPattern(resolved.ActivationPattern)
	if perr != nil {
		// Never let a bad override take the pipeline down.
		r.log.Warn().Err(perr).Str("session_key", sessionKey).
			Msg("invalid activation pattern override, using default")
	}

	return Resolved{
		Session:     sess,
		UserID:      userID,
		Preferences: resolved,
		Pattern:     pattern,
	}, nil
}

// CachedSessions reports how many session lookups sit in the cache.
func (r *Resolver) CachedSessions() int { return r.sessions.Len() }
