/*
Package engine wires the review memory together for the CLI and the MCP
server.

Learning and retrieval are best-effort: store failures are logged, counted
and swallowed so the calling review pipeline always completes with emptier
output instead of an error.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/config"
	"github.com/khanglvm/review-memory/internal/disclosure"
	"github.com/khanglvm/review-memory/internal/insight"
	"github.com/khanglvm/review-memory/internal/learning"
	"github.com/khanglvm/review-memory/internal/metrics"
	"github.com/khanglvm/review-memory/internal/search"
	"github.com/khanglvm/review-memory/internal/storage"
)

// indexDirName is the bleve index directory next to the database.
const indexDirName = "reviews.bleve"

// Engine holds the components of one review-memory process.
type Engine struct {
	cfg       *config.Config
	store     storage.Storage
	tracker   *learning.Tracker
	extractor *insight.Extractor
	ranker    *search.Ranker
	builder   *disclosure.Builder
	indexer   *search.Indexer
	logger    *zap.Logger
	metrics   *metrics.Metrics

	ownsStore bool
}

// Open opens the SQLite store named by cfg and builds an engine on it.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := storage.NewStorage(cfg.Storage.Path, logger.Named("storage"))
	if err := store.Init(); err != nil {
		// Storage degrades to a disabled no-op store.
		logger.Warn("review memory storage unavailable", zap.Error(err))
	}

	var opts []Option
	if cfg.Retrieval.LexicalBackend == config.BackendBleve && store.Enabled() {
		indexer, err := search.NewIndexerWithPath(IndexPath(store.Path()), logger.Named("index"))
		if err != nil {
			logger.Warn("bleve index unavailable, using full-text search", zap.Error(err))
		} else {
			opts = append(opts, WithIndexer(indexer))
		}
	}

	e, err := New(cfg, store, logger, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.ownsStore = true

	if e.indexer != nil {
		if n, err := e.indexer.Sync(ctx, store); err != nil {
			e.bestEffort("index_sync", "failed to sync review index", err)
		} else if n > 0 {
			logger.Debug("indexed reviews", zap.Int("count", n))
		}
	}
	return e, nil
}

// IndexPath returns the bleve index directory kept next to the database.
func IndexPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), indexDirName)
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndexer uses a bleve index as the lexical backend. The engine closes
// it on Close.
func WithIndexer(indexer *search.Indexer) Option {
	return func(e *Engine) { e.indexer = indexer }
}

// WithExtractor replaces the default insight rules.
func WithExtractor(x *insight.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// New builds an engine over an initialized store.
func New(cfg *config.Config, store storage.Storage, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		extractor: insight.NewExtractor(),
		logger:    logger,
		metrics:   metrics.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	tracker, err := learning.NewTracker(store, cfg.Learning, logger.Named("learning"))
	if err != nil {
		return nil, err
	}
	e.tracker = tracker

	var rankerOpts []search.RankerOption
	if e.indexer != nil {
		rankerOpts = append(rankerOpts, search.WithLexical(e.indexer))
	}
	ranker, err := search.NewRanker(store, cfg.Retrieval, logger.Named("search"), rankerOpts...)
	if err != nil {
		return nil, err
	}
	e.ranker = ranker

	builder, err := disclosure.NewBuilder(store, cfg.Disclosure, logger.Named("disclosure"))
	if err != nil {
		return nil, err
	}
	e.builder = builder

	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Store returns the underlying store.
func (e *Engine) Store() storage.Storage { return e.store }

// Tracker returns the session tracker.
func (e *Engine) Tracker() *learning.Tracker { return e.tracker }

// Memory returns the associative memory.
func (e *Engine) Memory() *learning.AssociativeMemory { return e.tracker.Memory() }

// Builder returns the disclosure builder.
func (e *Engine) Builder() *disclosure.Builder { return e.builder }

// Close releases the index and, when opened by Open, the store.
func (e *Engine) Close() error {
	var errs []error
	if e.indexer != nil {
		errs = append(errs, e.indexer.Close())
	}
	if e.ownsStore {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}

// LearnRequest is one completed review.
type LearnRequest struct {
	Project  string   `json:"project"`
	Commit   string   `json:"commit"`
	Files    []string `json:"files"`
	Diff     string   `json:"diff"`
	Result   string   `json:"result"`
	Status   string   `json:"status"`
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model,omitempty"`

	// ConceptText overrides the text term concepts are derived from.
	ConceptText string `json:"concept_text,omitempty"`
}

// LearnResponse reports what was stored and learned.
type LearnResponse struct {
	ReviewID       int64            `json:"review_id"`
	Created        bool             `json:"created"`
	Insight        *storage.Insight `json:"insight,omitempty"`
	Concepts       []string         `json:"concepts"`
	Pairs          int              `json:"pairs"`
	AddedToSession int              `json:"added_to_session"`
}

// Learn stores a review, classifies it and reinforces its concepts. With an
// active session the concepts are also added to it. Store failures are
// logged and never returned.
func (e *Engine) Learn(ctx context.Context, s *learning.Session, req LearnRequest) (LearnResponse, error) {
	if err := ctx.Err(); err != nil {
		return LearnResponse{}, err
	}

	var resp LearnResponse
	review := storage.Review{
		Project:  req.Project,
		Commit:   req.Commit,
		Files:    req.Files,
		Diff:     req.Diff,
		Result:   req.Result,
		Status:   req.Status,
		Provider: req.Provider,
		Model:    req.Model,
	}
	id, created, err := e.store.UpsertReview(ctx, review)
	if err != nil {
		e.bestEffort("store_review", "failed to store review", err)
	}
	resp.ReviewID, resp.Created = id, created

	in := learning.ReviewInput{
		Files:       req.Files,
		ConceptText: req.ConceptText,
		Summary:     req.Result,
		Status:      req.Status,
	}
	if found := e.extractor.Extract(req.Result, req.Files); found != nil {
		found.ReviewID = id
		resp.Insight = found
		in.Insights = []storage.Insight{*found}
		if found.Description != "" && req.ConceptText == "" {
			in.Summary = found.Description
		}
		if created {
			if found.ID, err = e.store.SaveInsight(ctx, *found); err != nil {
				e.bestEffort("save_insight", "failed to save insight", err)
			}
		}
	}

	concepts := e.tracker.Deriver().Derive(in)
	resp.Concepts = concepts
	if id != 0 {
		if err := e.store.AddReviewConcepts(ctx, id, concepts); err != nil {
			e.bestEffort("review_concepts", "failed to record review concepts", err)
		}
	}

	learned, err := e.tracker.LearnFromReview(ctx, s, in)
	if err != nil {
		e.bestEffort("learn", "failed to learn from review", err)
	}
	resp.Pairs, resp.AddedToSession = learned.Pairs, learned.AddedToSession

	if e.indexer != nil && created {
		review.ID = id
		if stored, err := e.store.GetReview(ctx, id); err == nil && stored != nil {
			review = *stored
		}
		if err := e.indexer.IndexReviews([]storage.Review{review}); err != nil {
			e.bestEffort("index_review", "failed to index review", err)
		}
	}

	e.logger.Debug("learned review",
		zap.Int64("review_id", id),
		zap.Bool("created", created),
		zap.Int("concepts", len(concepts)),
		zap.Int("pairs", resp.Pairs))
	return resp, nil
}

// ContextRequest describes the review about to run.
type ContextRequest struct {
	Files   []string `json:"files"`
	Text    string   `json:"text,omitempty"`
	Project string   `json:"project,omitempty"`
	Limit   int      `json:"limit,omitempty"`

	// Budget is the token budget. Non-positive uses disclosure.max_tokens.
	Budget int `json:"budget,omitempty"`
}

// ContextResponse is the rendered historical context.
type ContextResponse struct {
	Concepts   []string           `json:"concepts"`
	Candidates []search.Candidate `json:"candidates"`
	Text       string             `json:"text"`
}

// Context ranks past reviews for the request and renders them under the
// token budget. Failures yield empty context, never an error.
func (e *Engine) Context(ctx context.Context, req ContextRequest) (ContextResponse, error) {
	if err := ctx.Err(); err != nil {
		return ContextResponse{}, err
	}

	resp := ContextResponse{
		Concepts:   e.Concepts(req.Files, req.Text),
		Candidates: []search.Candidate{},
	}

	candidates, err := e.ranker.Rank(ctx, search.Query{
		Concepts: resp.Concepts,
		Text:     req.Text,
		Project:  req.Project,
		Limit:    req.Limit,
	})
	if err != nil {
		e.bestEffort("rank", "failed to rank past reviews", err)
		return resp, nil
	}
	resp.Candidates = candidates

	text, err := e.builder.Render(ctx, candidates, req.Budget)
	if err != nil {
		e.bestEffort("render", "failed to render context", err)
		return resp, nil
	}
	resp.Text = text
	return resp, nil
}

// Concepts derives the concept set of files and free text.
func (e *Engine) Concepts(files []string, text string) []string {
	return e.tracker.Deriver().Derive(learning.ReviewInput{Files: files, ConceptText: text})
}

// StartSession opens a learning session. An empty ref is a ConfigError.
func (e *Engine) StartSession(ctx context.Context, ref, project, commit string) (*learning.Session, error) {
	return e.tracker.StartSession(ctx, ref, project, commit)
}

// Session resumes session id, or the store's active session when id is 0.
// It returns nil when no such session is active.
func (e *Engine) Session(ctx context.Context, id int64) (*learning.Session, error) {
	if id == 0 {
		return e.tracker.ActiveSession(ctx)
	}
	return e.tracker.ResumeSession(ctx, id)
}

// Maintain runs the retention sweep from storage.retention.
func (e *Engine) Maintain(ctx context.Context) error {
	if e.cfg.Storage.Retention <= 0 {
		return nil
	}
	if err := e.store.Cleanup(ctx, e.cfg.Storage.Retention); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

func (e *Engine) bestEffort(op, msg string, err error) {
	e.logger.Warn(msg, zap.String("op", op), zap.Error(err))
	e.metrics.BestEffortErrors.WithLabelValues(op).Inc()
}

// SplitList splits a comma or newline separated list, dropping blanks.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
