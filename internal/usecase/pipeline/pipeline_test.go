package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"lookback/internal/domain"
)

type fakeCapture struct {
	shot     domain.Capture
	err      error
	retained []int
}

func (f *fakeCapture) Capture(context.Context) (domain.Capture, error) {
	if f.err != nil {
		return domain.Capture{}, f.err
	}
	return f.shot, nil
}

func (f *fakeCapture) RetainLatest(n int) error {
	f.retained = append(f.retained, n)
	return nil
}

type fakeAnalysis struct {
	analysis domain.Analysis
	err      error
	gotCtx   string
	calls    int
}

func (f *fakeAnalysis) Analyze(_ context.Context, _ []byte, contextText string) (domain.Analysis, error) {
	f.calls++
	f.gotCtx = contextText
	if f.err != nil {
		return domain.Analysis{}, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalysis) Summarize(context.Context, string, []domain.CycleResult) (string, error) {
	return "", nil
}

type fakeStore struct {
	appended  []domain.CycleResult
	appendErr error
	recent    []domain.CycleResult
	pruned    []time.Time
}

func (f *fakeStore) Append(_ context.Context, r domain.CycleResult) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, r)
	return nil
}

func (f *fakeStore) Recent(context.Context, int) ([]domain.CycleResult, error) {
	return f.recent, nil
}

func (f *fakeStore) ByDate(context.Context, string) ([]domain.CycleResult, error) { return nil, nil }

func (f *fakeStore) TimeRange(context.Context, string, string) ([]domain.CycleResult, error) {
	return nil, nil
}

func (f *fakeStore) Statistics(context.Context) (domain.Statistics, error) {
	return domain.Statistics{}, nil
}

func (f *fakeStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	f.pruned = append(f.pruned, olderThan)
	return 0, nil
}

func newTestEngine(cap *fakeCapture, an *fakeAnalysis, st *fakeStore) *Engine {
	return New(cap, an, st, Config{KeepLastN: 5, RetentionDays: 7}, slog.Default())
}

func TestRunCycle_Success(t *testing.T) {
	cap := &fakeCapture{shot: domain.Capture{Path: "/shots/a.png", PNG: []byte("png")}}
	an := &fakeAnalysis{analysis: domain.Analysis{
		Description: "Writing Go code in an editor",
		Confidence:  domain.ConfidenceHigh,
		Success:     true,
	}}
	st := &fakeStore{}

	res := newTestEngine(cap, an, st).RunCycle(context.Background())

	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if res.ID == "" {
		t.Error("ID is empty")
	}
	if res.Description != "Writing Go code in an editor" {
		t.Errorf("Description = %q", res.Description)
	}
	if res.Confidence != domain.ConfidenceHigh {
		t.Errorf("Confidence = %q", res.Confidence)
	}
	if res.ScreenshotPath != "/shots/a.png" {
		t.Errorf("ScreenshotPath = %q", res.ScreenshotPath)
	}
	if _, err := domain.ParseTimestamp(res.Timestamp); err != nil {
		t.Errorf("Timestamp %q not in canonical layout: %v", res.Timestamp, err)
	}
	if len(st.appended) != 1 {
		t.Fatalf("appended %d results, want 1", len(st.appended))
	}
	if st.appended[0].ID != res.ID {
		t.Error("stored result does not match returned result")
	}
}

func TestRunCycle_CaptureFailureSkipsAnalysis(t *testing.T) {
	cap := &fakeCapture{err: fmt.Errorf("no display")}
	an := &fakeAnalysis{analysis: domain.Analysis{Success: true}}
	st := &fakeStore{}

	res := newTestEngine(cap, an, st).RunCycle(context.Background())

	if res.Success {
		t.Fatal("Success = true after capture failure")
	}
	if !strings.Contains(res.Error, "no display") {
		t.Errorf("Error = %q, want capture failure detail", res.Error)
	}
	if an.calls != 0 {
		t.Errorf("Analyze ran %d times after capture failure, want 0", an.calls)
	}
	if res.Description != "" {
		t.Errorf("Description = %q, want empty", res.Description)
	}
	// The failed cycle is still recorded.
	if len(st.appended) != 1 {
		t.Fatalf("appended %d results, want 1", len(st.appended))
	}
}

func TestRunCycle_AnalysisTransportFailure(t *testing.T) {
	cap := &fakeCapture{shot: domain.Capture{Path: "/shots/a.png", PNG: []byte("png")}}
	an := &fakeAnalysis{err: fmt.Errorf("connection refused")}
	st := &fakeStore{}

	res := newTestEngine(cap, an, st).RunCycle(context.Background())

	if res.Success {
		t.Fatal("Success = true after analysis failure")
	}
	if res.Description != "Analysis failed" {
		t.Errorf("Description = %q, want %q", res.Description, "Analysis failed")
	}
	if res.Confidence != domain.ConfidenceLow {
		t.Errorf("Confidence = %q, want low", res.Confidence)
	}
	if !strings.Contains(res.Error, "connection refused") {
		t.Errorf("Error = %q", res.Error)
	}
	if len(st.appended) != 1 {
		t.Fatalf("appended %d results, want 1", len(st.appended))
	}
}

func TestRunCycle_AnalysisUnsuccessfulVerdict(t *testing.T) {
	cap := &fakeCapture{shot: domain.Capture{Path: "/shots/a.png", PNG: []byte("png")}}
	an := &fakeAnalysis{analysis: domain.Analysis{
		Description: "Analysis failed",
		Confidence:  domain.ConfidenceLow,
		Success:     false,
		Error:       "no answer content received",
	}}
	st := &fakeStore{}

	res := newTestEngine(cap, an, st).RunCycle(context.Background())

	if res.Success {
		t.Fatal("Success = true")
	}
	if !strings.Contains(res.Error, "no answer content received") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestRunCycle_StoreFailureFoldedIntoResult(t *testing.T) {
	cap := &fakeCapture{shot: domain.Capture{Path: "/shots/a.png", PNG: []byte("png")}}
	an := &fakeAnalysis{analysis: domain.Analysis{
		Description: "Reading documentation",
		Confidence:  domain.ConfidenceHigh,
		Success:     true,
	}}
	st := &fakeStore{appendErr: fmt.Errorf("disk full")}

	res := newTestEngine(cap, an, st).RunCycle(context.Background())

	// The analysis verdict stands; only the error trail records the store
	// failure.
	if !res.Success {
		t.Error("Success = false, analysis verdict should stand")
	}
	if !strings.Contains(res.Error, "disk full") {
		t.Errorf("Error = %q, want store failure detail", res.Error)
	}
}

func TestRunCycle_CleanupApplied(t *testing.T) {
	cap := &fakeCapture{shot: domain.Capture{Path: "/shots/a.png", PNG: []byte("png")}}
	an := &fakeAnalysis{analysis: domain.Analysis{Success: true, Confidence: domain.ConfidenceHigh}}
	st := &fakeStore{}

	newTestEngine(cap, an, st).RunCycle(context.Background())

	if len(cap.retained) != 1 || cap.retained[0] != 5 {
		t.Errorf("RetainLatest calls = %v, want [5]", cap.retained)
	}
	if len(st.pruned) != 1 {
		t.Fatalf("Prune calls = %d, want 1", len(st.pruned))
	}
	wantCutoff := time.Now().AddDate(0, 0, -7)
	if diff := st.pruned[0].Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("prune cutoff = %v, want about %v", st.pruned[0], wantCutoff)
	}
}

func TestBuildContext_NewestLast(t *testing.T) {
	st := &fakeStore{recent: []domain.CycleResult{
		{Timestamp: "2026-08-28T12:03:00", Description: "third"},
		{Timestamp: "2026-08-28T12:02:00", Description: "second"},
		{Timestamp: "2026-08-28T12:01:00", Description: "first"},
	}}
	cap := &fakeCapture{shot: domain.Capture{PNG: []byte("png")}}
	an := &fakeAnalysis{analysis: domain.Analysis{Success: true}}

	newTestEngine(cap, an, st).RunCycle(context.Background())

	want := "Recent activity: 2026-08-28T12:01:00: first; 2026-08-28T12:02:00: second; 2026-08-28T12:03:00: third"
	if an.gotCtx != want {
		t.Errorf("context = %q\nwant       %q", an.gotCtx, want)
	}
}

func TestBuildContext_SkipsEmptyDescriptions(t *testing.T) {
	st := &fakeStore{recent: []domain.CycleResult{
		{Timestamp: "2026-08-28T12:02:00", Description: ""},
		{Timestamp: "2026-08-28T12:01:00", Description: "first"},
	}}
	cap := &fakeCapture{shot: domain.Capture{PNG: []byte("png")}}
	an := &fakeAnalysis{analysis: domain.Analysis{Success: true}}

	newTestEngine(cap, an, st).RunCycle(context.Background())

	want := "Recent activity: 2026-08-28T12:01:00: first"
	if an.gotCtx != want {
		t.Errorf("context = %q, want %q", an.gotCtx, want)
	}
}
