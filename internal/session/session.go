// Package session implements the Session Registry: creation, lookup,
// listing, patching and idle-expiry of tunnel sessions.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/wordlist"
)

// Status is one of the allowed session lifecycle states.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusClosed  Status = "closed"
)

// Session is the tunnel binding between a public URL and a developer's
// local port.
type Session struct {
	ID           string                 `json:"id"`
	DeveloperID  string                 `json:"developerId"`
	TargetPort   int                    `json:"targetPort"`
	Status       Status                 `json:"status"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastActivity time.Time              `json:"lastActivity"`
	TunnelURL    string                 `json:"tunnelUrl"`
	Metadata     map[string]interface{} `json:"metadata"`
	Tags         []string               `json:"tags,omitempty"`
}

// IsPermanent reports whether metadata marks this session exempt from idle
// expiry.
func (s *Session) IsPermanent() bool {
	if s.Metadata == nil {
		return false
	}
	permanent, _ := s.Metadata["permanent"].(bool)
	return permanent
}

// Filter narrows listSessions by zero or more equality predicates.
type Filter struct {
	DeveloperID string
	TargetPort  int
	Status      Status
}

func (f Filter) matches(s *Session) bool {
	if f.DeveloperID != "" && s.DeveloperID != f.DeveloperID {
		return false
	}
	if f.TargetPort != 0 && s.TargetPort != f.TargetPort {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// Patch describes the allowed mutable fields of updateSession.
type Patch struct {
	Status   *Status
	Metadata map[string]interface{}
}

// Registry owns all Session records. The zero value is not usable; use New.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	idleTTL    time.Duration
	baseURL    string
	storageDir string
}

// New constructs a Registry. baseURL is used to derive tunnelUrl; storageDir,
// if non-empty, enables one-JSON-file-per-session durability and is loaded
// from immediately (a missing directory is not an error).
func New(baseURL string, idleTTL time.Duration, storageDir string) *Registry {
	r := &Registry{
		sessions:   make(map[string]*Session),
		idleTTL:    idleTTL,
		baseURL:    baseURL,
		storageDir: storageDir,
	}
	r.loadFromDisk()
	return r
}

func (r *Registry) tunnelURL(id string) string {
	return fmt.Sprintf("https://%s.%s", id, r.baseURL)
}

// CreateSession validates targetPort, generates a collision-free id and
// stores a new pending session.
func (r *Registry) CreateSession(developerID string, targetPort int, metadata map[string]interface{}) (*Session, error) {
	if targetPort < 1 || targetPort > 65535 {
		return nil, apperrors.InvalidPort(targetPort)
	}

	r.mu.Lock()
	id, ok := wordlist.New(func(candidate string) bool {
		_, exists := r.sessions[candidate]
		return exists
	})
	if !ok {
		r.mu.Unlock()
		return nil, apperrors.Internal("unable to allocate a unique session id")
	}

	now := time.Now()
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	s := &Session{
		ID:           id,
		DeveloperID:  developerID,
		TargetPort:   targetPort,
		Status:       StatusPending,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}
	s.TunnelURL = r.tunnelURL(id)
	r.sessions[id] = s
	r.mu.Unlock()

	r.persist(s)
	return s, nil
}

// GetSession looks up a session by id; nil if absent.
func (r *Registry) GetSession(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	clone := *s
	return &clone
}

// ListSessions returns sessions matching the filter, newest first.
func (r *Registry) ListSessions(filter Filter) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if filter.matches(s) {
			clone := *s
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdateSession applies patch to the session identified by id. Metadata is
// merged, not replaced. Returns nil if the session does not exist.
func (r *Registry) UpdateSession(id string, patch Patch) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	for k, v := range patch.Metadata {
		s.Metadata[k] = v
	}
	s.LastActivity = time.Now()
	clone := *s
	r.mu.Unlock()

	r.persist(&clone)
	return &clone
}

// TouchActivity bumps lastActivity and, on first developer registration,
// transitions pending -> active.
func (r *Registry) TouchActivity(id string, activate bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.LastActivity = time.Now()
	if activate && s.Status == StatusPending {
		s.Status = StatusActive
	}
	clone := *s
	r.mu.Unlock()

	r.persist(&clone)
}

// DeleteSession removes a session unconditionally (explicit close).
func (r *Registry) DeleteSession(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		r.removeFromDisk(id)
	}
	return ok
}

// CleanupExpiredSessions removes every non-permanent session whose
// lastActivity predates idleTTL, returning the ids removed.
func (r *Registry) CleanupExpiredSessions() []string {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Session
	for _, s := range r.sessions {
		if s.IsPermanent() {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			s.Status = StatusExpired
			expired = append(expired, s)
		}
	}
	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		delete(r.sessions, s.ID)
		ids = append(ids, s.ID)
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.removeFromDisk(s.ID)
	}
	if len(ids) > 0 {
		logger.Tunnel().Info().Strs("sessionIds", ids).Msg("expired idle sessions")
	}
	return ids
}

func (r *Registry) persist(s *Session) {
	if r.storageDir == "" {
		return
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		logger.Tunnel().Warn().Err(err).Str("sessionId", s.ID).Msg("failed to marshal session for persistence")
		return
	}
	path := filepath.Join(r.storageDir, s.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		logger.Tunnel().Warn().Err(err).Str("sessionId", s.ID).Msg("failed to persist session")
	}
}

func (r *Registry) removeFromDisk(id string) {
	if r.storageDir == "" {
		return
	}
	_ = os.Remove(filepath.Join(r.storageDir, id+".json"))
}

func (r *Registry) loadFromDisk() {
	if r.storageDir == "" {
		return
	}
	entries, err := os.ReadDir(r.storageDir)
	if err != nil {
		// Absence of the storage directory is not an error.
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.storageDir, entry.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			logger.Tunnel().Warn().Err(err).Str("file", entry.Name()).Msg("skipping malformed session file")
			continue
		}
		r.sessions[s.ID] = &s
	}
}
