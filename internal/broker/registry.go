package broker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
)

// keyBucket holds the ordered session collection for one API key plus the
// round-robin selection cursor
type keyBucket struct {
	sessions []*Session
	cursor   int
}

// Registry tracks which sessions exist per API key and selects one for
// outbound dispatch
type Registry struct {
	buckets     map[string]*keyBucket
	index       map[string]*Session // session id -> session
	maxSessions int
	strategy    SelectionStrategy
	correlator  *Correlator
	logger      zerolog.Logger
	mutex       sync.RWMutex
}

// NewRegistry creates a session registry. The correlator is notified when a
// session is destroyed so its pending requests fail instead of hanging.
func NewRegistry(maxSessions int, strategy SelectionStrategy, correlator *Correlator) *Registry {
	return &Registry{
		buckets:     make(map[string]*keyBucket),
		index:       make(map[string]*Session),
		maxSessions: maxSessions,
		strategy:    strategy,
		correlator:  correlator,
		logger:      logger.GetLogger("registry"),
	}
}

// Register allocates a new session for the given API key. It rejects with a
// MAX_SESSIONS_EXCEEDED failure once the key holds the configured maximum.
func (r *Registry) Register(apiKey string, transport Transport, meta Metadata) (*Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	bucket, exists := r.buckets[apiKey]
	if !exists {
		bucket = &keyBucket{}
		r.buckets[apiKey] = bucket
	}

	if len(bucket.sessions) >= r.maxSessions {
		return nil, NewSendError(CodeMaxSessionsExceeded,
			"maximum of %d sessions reached for this API key", r.maxSessions)
	}

	now := time.Now()
	session := &Session{
		ID:              uuid.NewString(),
		APIKey:          apiKey,
		Transport:       transport,
		Metadata:        meta,
		Active:          false,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
	}

	bucket.sessions = append(bucket.sessions, session)
	r.index[session.ID] = session

	r.logger.Info().
		Str("session_id", session.ID).
		Str("browser", meta.Browser).
		Str("extension_version", meta.ExtensionVersion).
		Int("key_session_count", len(bucket.sessions)).
		Msg("Session registered")

	return session, nil
}

// Unregister removes a session, failing every pending request it still owns
// with a connection-lost failure. Returns whether the session existed.
func (r *Registry) Unregister(sessionID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	session, exists := r.index[sessionID]
	if !exists {
		return false
	}

	r.correlator.FailSession(sessionID,
		NewSendError(CodeConnectionLost, "extension connection lost"))

	delete(r.index, sessionID)

	bucket := r.buckets[session.APIKey]
	if bucket != nil {
		for i, s := range bucket.sessions {
			if s.ID == sessionID {
				bucket.sessions = append(bucket.sessions[:i], bucket.sessions[i+1:]...)
				break
			}
		}
		// No dangling empty buckets: the cursor resets with the bucket
		if len(bucket.sessions) == 0 {
			delete(r.buckets, session.APIKey)
		}
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Msg("Session unregistered")

	return true
}

// SetActive updates the session's readiness from an inbound status message.
// A late status update for a session that no longer exists is a no-op.
func (r *Registry) SetActive(sessionID string, loggedIn, ready bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	session, exists := r.index[sessionID]
	if !exists {
		return
	}

	session.Active = loggedIn && ready

	r.logger.Debug().
		Str("session_id", sessionID).
		Bool("logged_in", loggedIn).
		Bool("ready", ready).
		Bool("active", session.Active).
		Msg("Session status updated")
}

// TouchHeartbeat refreshes the session's heartbeat timestamp; no-op if absent
func (r *Registry) TouchHeartbeat(sessionID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if session, exists := r.index[sessionID]; exists {
		session.LastHeartbeatAt = time.Now()
	}
}

// SelectForSending picks an active session for the given API key, or nil if
// none is active. With multiple candidates the configured strategy applies.
//
// Round-robin advances the bucket cursor even when the active set changed
// since the last call, so fairness is best-effort under churn.
func (r *Registry) SelectForSending(apiKey string) *Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	bucket, exists := r.buckets[apiKey]
	if !exists {
		return nil
	}

	active := make([]*Session, 0, len(bucket.sessions))
	for _, s := range bucket.sessions {
		if s.Active {
			active = append(active, s)
		}
	}

	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}

	if r.strategy == StrategyRandom {
		return active[rand.Intn(len(active))]
	}

	session := active[bucket.cursor%len(active)]
	bucket.cursor++
	return session
}

// ListSessions returns snapshots of every session under an API key
func (r *Registry) ListSessions(apiKey string) []SessionInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	bucket, exists := r.buckets[apiKey]
	if !exists {
		return nil
	}

	infos := make([]SessionInfo, 0, len(bucket.sessions))
	for _, s := range bucket.sessions {
		infos = append(infos, s.snapshot())
	}
	return infos
}

// ListActiveSessions returns snapshots of the active sessions under an API key
func (r *Registry) ListActiveSessions(apiKey string) []SessionInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	bucket, exists := r.buckets[apiKey]
	if !exists {
		return nil
	}

	infos := make([]SessionInfo, 0, len(bucket.sessions))
	for _, s := range bucket.sessions {
		if s.Active {
			infos = append(infos, s.snapshot())
		}
	}
	return infos
}

// StaleSessions returns the sessions whose last heartbeat is older than the
// given threshold, snapshotted so eviction cannot corrupt the scan
func (r *Registry) StaleSessions(threshold time.Duration) []*Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	now := time.Now()
	stale := make([]*Session, 0)
	for _, s := range r.index {
		if now.Sub(s.LastHeartbeatAt) > threshold {
			stale = append(stale, s)
		}
	}
	return stale
}

// AllSessionIDs returns the ids of every registered session
func (r *Registry) AllSessionIDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	return ids
}

// TotalCount returns the number of sessions across all API keys
func (r *Registry) TotalCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.index)
}

// HasKey reports whether any session exists for the given API key
func (r *Registry) HasKey(apiKey string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.buckets[apiKey]
	return exists
}
