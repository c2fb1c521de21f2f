// Package recommender coordinates one recommendation pass: build a prompt
// from the session transcript, generate free text, extract candidate titles,
// enrich each candidate against the metadata catalog, and return the merged
// result in model order.
//
// Failure containment: a generation failure aborts the whole request and
// leaves the transcript untouched. Enrichment failures are per-candidate and
// degrade that entry's status; they never void the response.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/MikeSquared-Agency/marquee/internal/conversation"
	"github.com/MikeSquared-Agency/marquee/internal/extractor"
	"github.com/MikeSquared-Agency/marquee/internal/openai"
	"github.com/MikeSquared-Agency/marquee/internal/tmdb"
	"github.com/MikeSquared-Agency/marquee/internal/upstream"
)

const (
	maxReplyTokens       = 1024
	maxConcurrentLookups = 4
)

// GenerationClient produces free text from a rendered prompt.
type GenerationClient interface {
	Complete(ctx context.Context, system string, messages []openai.Message, maxTokens int) (string, error)
}

// MetadataClient resolves a title against the movie catalog.
type MetadataClient interface {
	Lookup(ctx context.Context, title string, year int) (*tmdb.Record, error)
}

// EventPublisher emits swarm events. May be absent.
type EventPublisher interface {
	Publish(subject string, data any) error
}

// Status marks the enrichment outcome for one recommendation.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"
	StatusNotFound    Status = "not_found"
)

// EnrichedResult is one recommendation in the final payload. The result
// sequence always mirrors candidate order: enrichment augments or marks
// entries, never reorders or drops them.
type EnrichedResult struct {
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	PosterURL string `json:"posterUrl,omitempty"`
	Synopsis  string `json:"synopsis,omitempty"`
	TMDBID    int    `json:"tmdbId,omitempty"`
	Status    Status `json:"status"`
}

// Result is the outcome of one recommendation pass.
type Result struct {
	SessionID       string
	Reply           string
	Recommendations []EnrichedResult
}

// RetryPolicy is the explicit retry strategy for the generation call.
// Only ErrUnavailable is retried; rejections and malformed responses are not
// transient. Tests disable retries by setting MaxAttempts to 1.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 2, Backoff: 500 * time.Millisecond}

type Recommender struct {
	store    conversation.Store
	llm      GenerationClient
	metadata MetadataClient
	events   EventPublisher
	retry    RetryPolicy
	breaker  *gobreaker.CircuitBreaker[*tmdb.Record]
	logger   *slog.Logger
}

func New(store conversation.Store, llm GenerationClient, metadata MetadataClient, events EventPublisher, retry RetryPolicy, logger *slog.Logger) *Recommender {
	breaker := gobreaker.NewCircuitBreaker[*tmdb.Record](gobreaker.Settings{
		Name:    "tmdb",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A catalog miss is a normal answer, not a failure signal.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, tmdb.ErrNoMatch)
		},
	})
	return &Recommender{
		store:    store,
		llm:      llm,
		metadata: metadata,
		events:   events,
		retry:    retry,
		breaker:  breaker,
		logger:   logger,
	}
}

// Recommend runs one recommendation pass, creating the session on first
// contact when the identifier is empty or unknown.
func (r *Recommender) Recommend(ctx context.Context, sessionID, message string, prefs conversation.Preferences) (*Result, error) {
	if sessionID == "" {
		id, err := r.store.Start(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("start session: %w", err)
		}
		sessionID = id
	} else if _, err := r.store.Read(ctx, sessionID); errors.Is(err, conversation.ErrSessionNotFound) {
		if _, err := r.store.Start(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("start session: %w", err)
		}
	}
	return r.run(ctx, sessionID, message, prefs)
}

// SendMessage runs one recommendation pass against an existing session.
// Unknown session identifiers surface conversation.ErrSessionNotFound.
func (r *Recommender) SendMessage(ctx context.Context, sessionID, message string, prefs conversation.Preferences) (*Result, error) {
	if _, err := r.store.Read(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.run(ctx, sessionID, message, prefs)
}

// StartConversation resets or creates the session and seeds the fixed
// opening assistant message.
func (r *Recommender) StartConversation(ctx context.Context, sessionID string) (string, string, error) {
	id, err := r.store.Start(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("start session: %w", err)
	}
	if err := r.store.Append(ctx, id, conversation.RoleAssistant, openingMessage); err != nil {
		return "", "", fmt.Errorf("seed opening message: %w", err)
	}
	return id, openingMessage, nil
}

func (r *Recommender) run(ctx context.Context, sessionID, message string, prefs conversation.Preferences) (*Result, error) {
	if len(prefs) > 0 {
		if err := r.store.MergePreferences(ctx, sessionID, prefs); err != nil {
			return nil, err
		}
	}
	if err := r.store.Append(ctx, sessionID, conversation.RoleUser, message); err != nil {
		return nil, err
	}

	turns, err := r.store.Read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stated, err := r.store.Preferences(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	system, messages := buildPrompt(turns, stated)

	// Generation failure is request-level fatal; the transcript keeps only
	// the user turn appended above.
	text, err := r.generate(ctx, system, messages)
	if err != nil {
		return nil, err
	}

	candidates := extractor.Extract(text)
	results := r.enrich(ctx, candidates)

	// The only post-generation mutation, sequenced after all fallible work
	// so a failed request never leaves a half-applied transcript.
	if err := r.store.Append(ctx, sessionID, conversation.RoleAssistant, text); err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}

	r.publishServed(sessionID, results)

	return &Result{
		SessionID:       sessionID,
		Reply:           text,
		Recommendations: results,
	}, nil
}

func (r *Recommender) generate(ctx context.Context, system string, messages []openai.Message) (string, error) {
	attempts := r.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			r.logger.Warn("retrying generation", "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generation aborted: %v: %w", ctx.Err(), upstream.ErrUnavailable)
			case <-time.After(r.retry.Backoff):
			}
		}

		text, err := r.llm.Complete(ctx, system, messages, maxReplyTokens)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, upstream.ErrUnavailable) {
			return "", fmt.Errorf("generate: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("generate: %w", lastErr)
}

// enrich looks up each candidate independently and concurrently. Completion
// order is irrelevant: results are assembled by candidate index, so the
// output always has the same length and order as the input.
func (r *Recommender) enrich(ctx context.Context, candidates []extractor.Candidate) []EnrichedResult {
	results := make([]EnrichedResult, len(candidates))

	sem := make(chan struct{}, maxConcurrentLookups)
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand extractor.Candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.enrichOne(ctx, cand)
		}(i, cand)
	}
	wg.Wait()

	return results
}

func (r *Recommender) enrichOne(ctx context.Context, cand extractor.Candidate) EnrichedResult {
	result := EnrichedResult{Title: cand.Title, Year: cand.Year}

	rec, err := r.breaker.Execute(func() (*tmdb.Record, error) {
		return r.metadata.Lookup(ctx, cand.Title, cand.Year)
	})
	switch {
	case err == nil:
		result.Status = StatusOK
		result.PosterURL = rec.PosterURL
		result.Synopsis = rec.Synopsis
		result.TMDBID = rec.TMDBID
		if result.Year == 0 {
			result.Year = rec.Year
		}
	case errors.Is(err, tmdb.ErrNoMatch):
		result.Status = StatusNotFound
	default:
		// Transport failures, refusals and an open breaker all degrade this
		// one entry; the rest of the response is unaffected.
		result.Status = StatusUnavailable
		r.logger.Warn("enrichment unavailable", "title", cand.Title, "error", err)
	}
	return result
}

func (r *Recommender) publishServed(sessionID string, results []EnrichedResult) {
	if r.events == nil {
		return
	}
	var enriched, unavailable, notFound int
	for _, res := range results {
		switch res.Status {
		case StatusOK:
			enriched++
		case StatusUnavailable:
			unavailable++
		case StatusNotFound:
			notFound++
		}
	}
	if err := r.events.Publish("swarm.marquee.recommendation.served", map[string]any{
		"session_id":  sessionID,
		"candidates":  len(results),
		"enriched":    enriched,
		"unavailable": unavailable,
		"not_found":   notFound,
	}); err != nil {
		r.logger.Warn("failed to publish served event", "error", err)
	}
}
