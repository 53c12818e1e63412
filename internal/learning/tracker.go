package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/metrics"
	"github.com/khanglvm/review-memory/internal/storage"
)

// Session is the handle of an active learning session. A nil *Session is
// the idle state.
type Session struct {
	ID        int64
	Ref       string
	Project   string
	Commit    string
	StartedAt time.Time

	ended bool
}

// Active reports whether the handle still refers to an open session.
func (s *Session) Active() bool {
	return s != nil && !s.ended
}

// LearnResult reports what one review contributed.
type LearnResult struct {
	Concepts []string `json:"concepts"`

	// Pairs is the number of review associations reinforced.
	Pairs int `json:"pairs"`

	// AddedToSession is the number of new concepts recorded in the session.
	AddedToSession int `json:"added_to_session"`
}

// Tracker drives learning sessions and per-review learning.
type Tracker struct {
	store        storage.Storage
	memory       *AssociativeMemory
	deriver      *Deriver
	sessionBoost float64
	maxConcepts  int
	logger       *zap.Logger
	metrics      *metrics.Metrics

	enabled bool
	mu      sync.RWMutex
}

// NewTracker creates a tracker from the learning configuration.
func NewTracker(store storage.Storage, cfg config.LearningConfig, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionBoost < 1 {
		return nil, &config.ConfigError{Field: "learning.session_boost", Message: fmt.Sprintf("must be >= 1, got %g", cfg.SessionBoost)}
	}
	if cfg.MaxSessionConcepts < 2 {
		return nil, &config.ConfigError{Field: "learning.max_session_concepts", Message: fmt.Sprintf("must be >= 2, got %d", cfg.MaxSessionConcepts)}
	}

	memory, err := NewAssociativeMemory(store, cfg.LearningRate, cfg.BaseWeight, logger)
	if err != nil {
		return nil, err
	}
	deriver, err := NewDeriver(cfg.IgnoreFiles)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		store:        store,
		memory:       memory,
		deriver:      deriver,
		sessionBoost: cfg.SessionBoost,
		maxConcepts:  cfg.MaxSessionConcepts,
		logger:       logger,
		metrics:      metrics.Default(),
		enabled:      cfg.Enabled,
	}, nil
}

// Memory returns the associative memory the tracker reinforces.
func (t *Tracker) Memory() *AssociativeMemory {
	return t.memory
}

// Deriver returns the concept deriver used for reviews.
func (t *Tracker) Deriver() *Deriver {
	return t.deriver
}

// Disable turns every mutating call into a no-op.
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enable re-enables learning.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

// IsEnabled returns whether learning is enabled.
func (t *Tracker) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled && t.store != nil
}

// StartSession opens a session and returns its handle.
//
// An empty ref is a ConfigError. With learning disabled it returns a nil
// handle and no error. A session left active in the store (by a crashed or
// separate process) is ended first so at most one session is active.
func (t *Tracker) StartSession(ctx context.Context, ref, project, commit string) (*Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &config.ConfigError{Field: "session_ref", Message: "must not be empty"}
	}
	if !t.IsEnabled() {
		return nil, nil
	}

	stale, err := t.store.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if stale != nil {
		t.logger.Warn("ending stale active session",
			zap.Int64("session_id", stale.ID),
			zap.String("session_ref", stale.SessionRef))
		if _, err := t.closeSession(ctx, stale.ID); err != nil {
			return nil, err
		}
		t.metrics.Sessions.WithLabelValues("stale_ended").Inc()
	}

	startedAt := time.Now()
	id, err := t.store.CreateSession(ctx, storage.LearningSession{
		SessionRef: ref,
		Project:    project,
		Commit:     commit,
		StartedAt:  startedAt,
	})
	if err != nil {
		return nil, err
	}

	t.metrics.Sessions.WithLabelValues("started").Inc()
	t.logger.Debug("session started", zap.Int64("session_id", id), zap.String("session_ref", ref))

	return &Session{
		ID:        id,
		Ref:       ref,
		Project:   project,
		Commit:    commit,
		StartedAt: startedAt,
	}, nil
}

// ResumeSession returns a handle for a stored session that is still active,
// or nil for an unknown or ended id.
func (t *Tracker) ResumeSession(ctx context.Context, id int64) (*Session, error) {
	if !t.IsEnabled() {
		return nil, nil
	}

	ls, err := t.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ls.Active() {
		return nil, nil
	}
	return &Session{
		ID:        ls.ID,
		Ref:       ls.SessionRef,
		Project:   ls.Project,
		Commit:    ls.Commit,
		StartedAt: ls.StartedAt,
	}, nil
}

// ActiveSession returns a handle for the session currently active in the
// store, or nil.
func (t *Tracker) ActiveSession(ctx context.Context) (*Session, error) {
	if !t.IsEnabled() {
		return nil, nil
	}

	ls, err := t.store.ActiveSession(ctx)
	if err != nil || ls == nil {
		return nil, err
	}
	return t.ResumeSession(ctx, ls.ID)
}

// AddConcepts records concepts for an active session. A nil or ended handle
// is a no-op. Repeated concepts are recorded once; concepts beyond the
// session cap are dropped.
func (t *Tracker) AddConcepts(ctx context.Context, s *Session, concepts []string) error {
	_, err := t.addConcepts(ctx, s, concepts)
	return err
}

func (t *Tracker) addConcepts(ctx context.Context, s *Session, concepts []string) (int, error) {
	if !t.IsEnabled() || !s.Active() {
		return 0, nil
	}

	set := NormalizeAll(concepts)
	if len(set) == 0 {
		return 0, nil
	}

	count, err := t.store.CountSessionConcepts(ctx, s.ID)
	if err != nil {
		return 0, err
	}

	added, dropped := 0, 0
	now := time.Now()
	var recorded map[string]bool
	for _, c := range set {
		if count >= t.maxConcepts {
			if recorded == nil {
				if recorded, err = t.recordedConcepts(ctx, s.ID); err != nil {
					return added, err
				}
			}
			if !recorded[c] {
				dropped++
			}
			continue
		}
		ok, err := t.store.AddSessionConcept(ctx, s.ID, c, now)
		if err != nil {
			return added, err
		}
		if ok {
			added++
			count++
		}
	}

	if dropped > 0 {
		t.metrics.DroppedConcepts.Add(float64(dropped))
		t.logger.Debug("session concept cap reached",
			zap.Int64("session_id", s.ID),
			zap.Int("cap", t.maxConcepts),
			zap.Int("dropped", dropped))
	}
	return added, nil
}

func (t *Tracker) recordedConcepts(ctx context.Context, id int64) (map[string]bool, error) {
	concepts, err := t.store.SessionConcepts(ctx, id, -1)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		recorded[c] = true
	}
	return recorded, nil
}

// EndSession reinforces every pair of the session's concepts with the
// session boost, stamps the session ended and returns the number of pairs.
// A nil or ended handle returns (0, nil).
//
// Each pair is committed on its own. If a reinforcement fails the session
// stays active and the error is returned; pairs already applied are kept.
func (t *Tracker) EndSession(ctx context.Context, s *Session) (int, error) {
	if !s.Active() {
		return 0, nil
	}

	pairs, err := t.closeSession(ctx, s.ID)
	if err != nil {
		return pairs, err
	}
	s.ended = true
	t.metrics.Sessions.WithLabelValues("ended").Inc()
	return pairs, nil
}

func (t *Tracker) closeSession(ctx context.Context, id int64) (int, error) {
	concepts, err := t.store.SessionConcepts(ctx, id, t.maxConcepts)
	if err != nil {
		return 0, err
	}

	pairs, err := t.memory.ReinforceAll(ctx, concepts, storage.ContextSession, t.sessionBoost)
	if err != nil {
		return pairs, err
	}

	if err := t.store.EndSession(ctx, id, time.Now()); err != nil {
		return pairs, err
	}

	t.metrics.SessionPairs.Observe(float64(pairs))
	t.logger.Debug("session ended",
		zap.Int64("session_id", id),
		zap.Int("concepts", len(concepts)),
		zap.Int("pairs", pairs))
	return pairs, nil
}

// LearnFromReview derives the concept set of a review, reinforces every pair
// as a review association and, when s is active, records the same concepts
// in the session.
func (t *Tracker) LearnFromReview(ctx context.Context, s *Session, in ReviewInput) (LearnResult, error) {
	if !t.IsEnabled() {
		return LearnResult{Concepts: []string{}}, nil
	}

	res := LearnResult{Concepts: t.deriver.Derive(in)}

	pairs, err := t.memory.ReinforceAll(ctx, res.Concepts, storage.ContextReview, 1.0)
	res.Pairs = pairs
	if err != nil {
		return res, err
	}

	added, err := t.addConcepts(ctx, s, res.Concepts)
	res.AddedToSession = added
	if err != nil {
		return res, err
	}

	t.logger.Debug("learned from review",
		zap.Int("concepts", len(res.Concepts)),
		zap.Int("pairs", res.Pairs),
		zap.Bool("in_session", s.Active()))
	return res, nil
}

// SessionStats reports session history, most recent first.
func (t *Tracker) SessionStats(ctx context.Context, limit int) ([]storage.SessionStat, error) {
	return t.store.SessionStats(ctx, limit)
}
