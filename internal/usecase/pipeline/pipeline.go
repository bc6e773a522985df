package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"lookback/internal/domain"
	"lookback/internal/infra/tracer"
)

// contextWindow is how many stored activities feed the analysis context.
const contextWindow = 3

// Config holds the retention knobs applied by the cleanup stage.
type Config struct {
	KeepLastN     int // screenshots retained
	RetentionDays int // activity records retained
}

// Engine runs one recording cycle through four stages:
// capture -> analyze -> store -> cleanup. It never returns an error; every
// failure mode is folded into the CycleResult.
type Engine struct {
	capture  domain.CaptureService
	analysis domain.AnalysisService
	store    domain.ActivityStore
	cfg      Config
	logger   *slog.Logger
}

// New creates a pipeline engine.
func New(capture domain.CaptureService, analysis domain.AnalysisService, store domain.ActivityStore, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		capture:  capture,
		analysis: analysis,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// cycleState accumulates through the stages. Each stage receives a value and
// returns a new one; nothing downstream revises a field written upstream.
type cycleState struct {
	id         string
	timestamp  string
	shot       domain.Capture
	captured   bool
	desc       string
	confidence domain.Confidence
	success    bool
	errTrail   string
}

func (s cycleState) withError(msg string) cycleState {
	if s.errTrail == "" {
		s.errTrail = msg
	} else {
		s.errTrail = s.errTrail + "; " + msg
	}
	return s
}

func (s cycleState) result() domain.CycleResult {
	return domain.CycleResult{
		ID:             s.id,
		Timestamp:      s.timestamp,
		ScreenshotPath: s.shot.Path,
		Description:    s.desc,
		Confidence:     s.confidence,
		Success:        s.success,
		Error:          s.errTrail,
	}
}

// RunCycle executes one full cycle and returns its result. Exactly one
// CycleResult is produced per call, regardless of which stage fails, and it
// becomes visible only after all stages have finished.
func (e *Engine) RunCycle(ctx context.Context) domain.CycleResult {
	ctx, span := tracer.StartSpan(ctx, "pipeline.cycle")
	defer span.End()

	now := time.Now()
	st := cycleState{
		id:         ulid.Make().String(),
		timestamp:  domain.FormatTimestamp(now),
		confidence: domain.ConfidenceUnknown,
	}

	st = e.captureStage(ctx, st)
	if st.captured {
		st = e.analyzeStage(ctx, st)
	}
	st = e.storeStage(ctx, st)
	e.cleanupStage(ctx, now)

	res := st.result()
	span.SetAttributes(
		tracer.StringAttr("cycle.id", res.ID),
		tracer.BoolAttr("cycle.success", res.Success),
	)
	if res.Success {
		tracer.SetOK(span)
	}
	return res
}

func (e *Engine) captureStage(ctx context.Context, st cycleState) cycleState {
	ctx, span := tracer.StartSpan(ctx, "pipeline.capture")
	defer span.End()

	shot, err := e.capture.Capture(ctx)
	if err != nil {
		wrapped := domain.WrapOp("capture screenshot", err)
		tracer.RecordError(span, wrapped)
		e.logger.Error("screenshot capture failed", "error", err)
		return st.withError(wrapped.Error())
	}

	st.shot = shot
	st.captured = true
	e.logger.Info("screenshot captured", "path", shot.Path)
	tracer.SetOK(span)
	return st
}

func (e *Engine) analyzeStage(ctx context.Context, st cycleState) cycleState {
	ctx, span := tracer.StartSpan(ctx, "pipeline.analyze")
	defer span.End()

	analysis, err := e.analysis.Analyze(ctx, st.shot.PNG, e.buildContext(ctx))
	if err != nil {
		wrapped := domain.WrapOp("analyze activity", err)
		tracer.RecordError(span, wrapped)
		e.logger.Error("activity analysis failed", "error", err)
		st.desc = "Analysis failed"
		st.confidence = domain.ConfidenceLow
		return st.withError(wrapped.Error())
	}

	st.desc = analysis.Description
	st.confidence = analysis.Confidence
	st.success = analysis.Success
	if !analysis.Success {
		e.logger.Warn("activity analysis unsuccessful", "error", analysis.Error)
		if analysis.Error != "" {
			st = st.withError(analysis.Error)
		}
		return st
	}

	e.logger.Info("activity analyzed", "description", analysis.Description)
	tracer.SetOK(span)
	return st
}

// storeStage unconditionally persists the cycle, successful or failed. A
// store failure is folded into the returned result's error trail; it never
// raises to the caller and is not retried within the cycle.
func (e *Engine) storeStage(ctx context.Context, st cycleState) cycleState {
	ctx, span := tracer.StartSpan(ctx, "pipeline.store")
	defer span.End()

	if err := e.store.Append(ctx, st.result()); err != nil {
		wrapped := domain.WrapOp("store activity", err)
		tracer.RecordError(span, wrapped)
		e.logger.Error("failed to store activity", "error", err)
		return st.withError(wrapped.Error())
	}

	tracer.SetOK(span)
	return st
}

// cleanupStage applies retention. Failures are logged and do not affect the
// CycleResult already produced.
func (e *Engine) cleanupStage(ctx context.Context, now time.Time) {
	ctx, span := tracer.StartSpan(ctx, "pipeline.cleanup")
	defer span.End()

	if e.cfg.KeepLastN > 0 {
		if err := e.capture.RetainLatest(e.cfg.KeepLastN); err != nil {
			e.logger.Warn("screenshot cleanup failed", "error", err)
		}
	}
	if e.cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -e.cfg.RetentionDays)
		if removed, err := e.store.Prune(ctx, cutoff); err != nil {
			e.logger.Warn("activity prune failed", "error", err)
		} else if removed > 0 {
			e.logger.Info("pruned old activities", "removed", removed)
		}
	}
}

// buildContext assembles the analysis context from the most recent stored
// activities, newest last, so the model sees a short history of what the
// user was doing.
func (e *Engine) buildContext(ctx context.Context) string {
	recent, err := e.store.Recent(ctx, contextWindow)
	if err != nil {
		e.logger.Warn("failed to load recent activities for context", "error", err)
		return ""
	}

	var parts []string
	// Recent returns newest first; walk backwards for chronological order.
	for i := len(recent) - 1; i >= 0; i-- {
		r := recent[i]
		if r.Description == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.Timestamp, r.Description))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Recent activity: " + strings.Join(parts, "; ")
}
