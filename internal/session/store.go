package session

import (
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// controllerCache is the slice of the TTL cache the store relies on.
type controllerCache interface {
	Get(key string) (*Controller, bool)
	Set(key string, value *Controller)
	Touch(key string) bool
	Delete(key string)
	Len() int
}

// Store keeps live sessions. Idle sessions expire with the cache TTL.
type Store struct {
	sessions controllerCache
	ops      Operations
	defaults Defaults
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a session store.
func NewStore(sessions controllerCache, ops Operations, defaults Defaults, metrics *observability.Metrics, logger *zap.Logger, now func() time.Time) *Store {
	return &Store{
		sessions: sessions,
		ops:      ops,
		defaults: defaults,
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}
}

// Create starts a new session.
func (s *Store) Create() *Controller {
	id := uuid.NewString()
	c := NewController(id, s.ops, s.defaults, s.metrics, s.logger, s.now)
	s.sessions.Set(id, c)
	s.metrics.SetActiveSessions(s.sessions.Len())
	s.logger.Debug("session created", zap.String("session_id", id))
	return c
}

// Get returns a live session and extends its lifetime.
func (s *Store) Get(id string) (*Controller, error) {
	c, ok := s.sessions.Get(id)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	s.sessions.Touch(id)
	return c, nil
}

// Delete ends a session.
func (s *Store) Delete(id string) {
	s.sessions.Delete(id)
	s.metrics.SetActiveSessions(s.sessions.Len())
}
