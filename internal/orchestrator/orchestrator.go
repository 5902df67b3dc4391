// Package orchestrator drives analysis sessions through their state machine:
// processing → completed on success, processing → failed on a hard
// collaborator error or sweeper timeout. Every durable transition publishes
// exactly one event to the observer hub.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/doclens/backend/internal/hub"
	"github.com/doclens/backend/internal/metrics"
	"github.com/doclens/backend/internal/session"
	"github.com/doclens/backend/internal/stage"
)

// ErrNoText rejects empty input before any session is created.
var ErrNoText = errors.New("no text provided")

// Options tune retrieval behavior.
type Options struct {
	QueryK       int
	HybridSearch bool
}

type Orchestrator struct {
	store     *session.Store
	hub       *hub.Hub
	retriever stage.Retriever
	analyzer  stage.Analyzer
	metrics   *metrics.Metrics
	opts      Options
}

func New(store *session.Store, h *hub.Hub, retriever stage.Retriever, analyzer stage.Analyzer, m *metrics.Metrics, opts Options) *Orchestrator {
	if opts.QueryK <= 0 {
		opts.QueryK = 5
	}
	return &Orchestrator{
		store:     store,
		hub:       h,
		retriever: retriever,
		analyzer:  analyzer,
		metrics:   m,
		opts:      opts,
	}
}

// StartAnalysis validates the input, creates a session, announces it, and
// drives the pipeline on its own goroutine. The caller gets the session id
// immediately; subsequent state is observable via the store or the hub.
func (o *Orchestrator) StartAnalysis(text string, useRetrieval bool) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}

	sess := o.store.Create(session.NewID(), useRetrieval)
	log.Printf("session %s: analysis started (retrieval: %v)", sess.ID, useRetrieval)
	o.metrics.SessionsStarted.Inc()
	o.metrics.ActiveSessions.Set(float64(o.store.ActiveCount()))

	o.publish(sess.ID, hub.EventAnalysisStart, map[string]any{
		"textId": sess.TextRef,
		"useRAG": useRetrieval,
	}, "Analysis started")

	go o.run(sess.ID, text, useRetrieval)
	return sess.ID, nil
}

// run executes the pipeline for one session. It deliberately uses a fresh
// context: sessions run to completion or sweeper timeout regardless of
// whether the caller or any observer is still connected.
func (o *Orchestrator) run(id, text string, useRetrieval bool) {
	ctx := context.Background()
	start := time.Now()

	// Index regardless of mode; it builds the corpus for future queries and
	// is advisory, never a correctness dependency.
	if docID, err := o.retriever.IndexDocument(ctx, text, map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"source":    "user_upload",
	}); err != nil {
		log.Printf("session %s: indexing failed, continuing: %v", id, err)
		o.step(id, nil, "Indexing unavailable, continuing without it")
	} else {
		o.step(id, map[string]any{"docId": docID}, "Document indexed")
	}

	mode := session.ModeDirect
	var docs []stage.Document
	if useRetrieval {
		if !o.retriever.ProbeAvailable(ctx) {
			log.Printf("session %s: retrieval unavailable, falling back to direct analysis", id)
			o.step(id, nil, "Retrieval unavailable, falling back to direct analysis")
		} else if found, err := o.retriever.Query(ctx, text, o.opts.QueryK, o.opts.HybridSearch); err != nil {
			log.Printf("session %s: retrieval query failed, falling back: %v", id, err)
			o.step(id, nil, "Retrieval query failed, falling back to direct analysis")
		} else {
			mode = session.ModeAugmented
			docs = found
			o.step(id, map[string]any{"contextCount": len(found)}, fmt.Sprintf("Retrieved %d context documents", len(found)))
		}
	}

	var analysis *stage.Analysis
	var err error
	if mode == session.ModeAugmented {
		analysis, err = o.analyzer.AnalyzeWithContext(ctx, text, docs)
	} else {
		analysis, err = o.analyzer.AnalyzeDirect(ctx, text)
	}
	if err != nil {
		o.Fail(id, "Failed to analyze text", err.Error())
		return
	}

	o.complete(id, analysis, mode, docs, time.Since(start))
}

// step appends a durable audit entry without changing status and publishes
// the corresponding update event. No-op on terminal or missing sessions.
func (o *Orchestrator) step(id string, changes map[string]any, message string) {
	var terminal bool
	sess, ok := o.store.Mutate(id, func(s *session.Session) {
		if s.IsTerminal() {
			terminal = true
			return
		}
		s.Steps = append(s.Steps, session.Step{
			Timestamp: time.Now(),
			Status:    s.Status,
			Message:   message,
		})
	})
	if !ok || terminal {
		return
	}

	if changes == nil {
		changes = make(map[string]any, 1)
	}
	changes["status"] = sess.Status.String()
	o.publish(id, hub.EventAnalysisUpdate, changes, message)
}

func (o *Orchestrator) complete(id string, analysis *stage.Analysis, mode session.Mode, docs []stage.Document, elapsed time.Duration) {
	result := &session.Result{
		Mode:             mode,
		Sections:         analysis.Sections,
		RawText:          analysis.RawText,
		Usage:            analysis.Usage,
		Context:          contextSources(docs),
		ProcessingTimeMS: elapsed.Milliseconds(),
	}

	var already bool
	sess, ok := o.store.Mutate(id, func(s *session.Session) {
		if s.IsTerminal() {
			already = true
			return
		}
		now := time.Now()
		s.Status = session.Completed
		s.Result = result
		s.CompletedAt = &now
		s.Steps = append(s.Steps, session.Step{
			Timestamp: now,
			Status:    session.Completed,
			Message:   "Analysis completed successfully",
		})
	})
	if !ok || already {
		return
	}

	log.Printf("session %s: analysis completed in %dms (mode: %s)", id, elapsed.Milliseconds(), mode)
	o.metrics.SessionsCompleted.Inc()
	o.metrics.AnalysisDuration.Observe(elapsed.Seconds())
	o.metrics.ActiveSessions.Set(float64(o.store.ActiveCount()))

	o.publish(id, hub.EventAnalysisComplete, map[string]any{
		"results": sess.Result,
	}, "Analysis completed successfully")
}

// Fail transitions a session to failed with the underlying message preserved.
// It is terminal-guarded and shared by the pipeline and the eviction sweeper,
// so a session already terminal cannot be re-transitioned.
func (o *Orchestrator) Fail(id, message, details string) {
	var already bool
	sess, ok := o.store.Mutate(id, func(s *session.Session) {
		if s.IsTerminal() {
			already = true
			return
		}
		now := time.Now()
		s.Status = session.Failed
		s.Error = &session.Error{
			Message:   message,
			Details:   details,
			Timestamp: now,
		}
		s.CompletedAt = &now
		s.Steps = append(s.Steps, session.Step{
			Timestamp: now,
			Status:    session.Failed,
			Message:   message,
		})
	})
	if !ok || already {
		return
	}

	log.Printf("session %s: analysis failed: %s", id, message)
	o.metrics.SessionsFailed.Inc()
	o.metrics.ActiveSessions.Set(float64(o.store.ActiveCount()))

	o.publish(id, hub.EventAnalysisFailed, map[string]any{
		"error": sess.Error,
	}, message)
}

func (o *Orchestrator) publish(id string, typ hub.EventType, changes map[string]any, message string) {
	o.hub.Publish(hub.NewEvent(id, typ, changes, message))
	o.metrics.EventsPublished.Inc()
}

func contextSources(docs []stage.Document) []session.ContextSource {
	if len(docs) == 0 {
		return nil
	}
	sources := make([]session.ContextSource, len(docs))
	for i, d := range docs {
		sources[i] = session.ContextSource{
			ID:       d.ID,
			Score:    d.Score,
			Metadata: d.Metadata,
		}
	}
	return sources
}
