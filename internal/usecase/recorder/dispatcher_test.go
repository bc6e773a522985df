package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookback/internal/domain"
	"lookback/internal/usecase/eventbus"
)

type stubStore struct {
	recent    []domain.CycleResult
	byDate    []domain.CycleResult
	timeRange []domain.CycleResult
	stats     domain.Statistics

	gotLimit int
	gotDate  string
	gotStart string
	gotEnd   string
}

func (s *stubStore) Append(context.Context, domain.CycleResult) error { return nil }

func (s *stubStore) Recent(_ context.Context, limit int) ([]domain.CycleResult, error) {
	s.gotLimit = limit
	return s.recent, nil
}

func (s *stubStore) ByDate(_ context.Context, date string) ([]domain.CycleResult, error) {
	s.gotDate = date
	return s.byDate, nil
}

func (s *stubStore) TimeRange(_ context.Context, start, end string) ([]domain.CycleResult, error) {
	s.gotStart, s.gotEnd = start, end
	return s.timeRange, nil
}

func (s *stubStore) Statistics(context.Context) (domain.Statistics, error) {
	return s.stats, nil
}

func (s *stubStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }

type stubAnalysis struct {
	summary  string
	gotQuery string
}

func (s *stubAnalysis) Analyze(context.Context, []byte, string) (domain.Analysis, error) {
	return domain.Analysis{}, nil
}

func (s *stubAnalysis) Summarize(_ context.Context, query string, _ []domain.CycleResult) (string, error) {
	s.gotQuery = query
	return s.summary, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	coord      *Coordinator
	engine     *fakeEngine
	store      *stubStore
	analysis   *stubAnalysis
	settings   *SettingsStore
	bus        *eventbus.Bus
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	log := slog.Default()
	bus := eventbus.New(log)
	t.Cleanup(bus.Close)

	engine := &fakeEngine{result: domain.CycleResult{
		ID:             "01TEST",
		Timestamp:      "2026-08-28T10:00:00",
		ScreenshotPath: "/shots/a.png",
		Description:    "Editing a spreadsheet",
		Confidence:     domain.ConfidenceHigh,
		Success:        true,
	}}
	settings := NewSettingsStore(domain.Settings{Interval: 180 * time.Second})
	coord := New(engine, bus, settings, 200*time.Millisecond, log)
	t.Cleanup(func() { coord.Shutdown(time.Second) })

	store := &stubStore{}
	analysis := &stubAnalysis{}
	return &dispatcherFixture{
		dispatcher: NewDispatcher(coord, store, analysis, settings, bus, log),
		coord:      coord,
		engine:     engine,
		store:      store,
		analysis:   analysis,
		settings:   settings,
		bus:        bus,
	}
}

func (f *dispatcherFixture) dispatch(cmd domain.Command) domain.Response {
	return f.dispatcher.Dispatch(context.Background(), cmd)
}

func TestDispatch_StartStop(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdStartRecording, Interval: 60})
	require.True(t, resp.Success)
	assert.Equal(t, "start_recording", resp.Command)
	assert.Equal(t, "Recording started", resp.Message)
	assert.Equal(t, 60, resp.Interval)

	resp = f.dispatch(domain.Command{Name: domain.CmdStartRecording, Interval: 60})
	require.False(t, resp.Success)
	assert.Equal(t, "Recording is already running", resp.Error)

	resp = f.dispatch(domain.Command{Name: domain.CmdStopRecording})
	require.True(t, resp.Success)
	assert.Equal(t, "Recording stopped", resp.Message)
}

func TestDispatch_StopWhileIdle(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdStopRecording})
	require.False(t, resp.Success)
	assert.Equal(t, "Recording is not running", resp.Error)
}

func TestDispatch_StartDefaultsToConfiguredInterval(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdStartRecording})
	require.True(t, resp.Success)
	assert.Equal(t, 180, resp.Interval)
}

func TestDispatch_CaptureNow(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdCaptureNow})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Activity)
	assert.Equal(t, "Editing a spreadsheet", resp.Activity.Description)
	assert.Equal(t, "/shots/a.png", resp.Activity.ScreenshotPath)
}

func TestDispatch_CaptureNowTimeout(t *testing.T) {
	f := newDispatcherFixture(t)
	f.engine.block = make(chan struct{})
	defer close(f.engine.block)

	resp := f.dispatch(domain.Command{Name: domain.CmdCaptureNow})
	require.False(t, resp.Success)
	assert.Equal(t, "timeout", resp.Error)
}

func TestDispatch_GetActivities(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.recent = []domain.CycleResult{
		{ID: "b", Timestamp: "2026-08-28T10:01:00"},
		{ID: "a", Timestamp: "2026-08-28T10:00:00"},
	}

	resp := f.dispatch(domain.Command{Name: domain.CmdGetActivities})
	require.True(t, resp.Success)
	assert.Equal(t, 10, f.store.gotLimit) // default limit
	require.NotNil(t, resp.Count)
	assert.Equal(t, 2, *resp.Count)
	require.NotNil(t, resp.Activities)
	assert.Len(t, *resp.Activities, 2)

	limit := 5
	f.dispatch(domain.Command{Name: domain.CmdGetActivities, Limit: &limit})
	assert.Equal(t, 5, f.store.gotLimit)
}

func TestDispatch_GetActivitiesEmptyStoreKeepsArray(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdGetActivities})
	require.True(t, resp.Success)

	// Clients index into activities; the key must be present as [] even when
	// nothing has been recorded yet.
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	arr, ok := m["activities"].([]any)
	require.True(t, ok, "activities key missing or not an array: %s", data)
	assert.Empty(t, arr)
	assert.EqualValues(t, 0, m["count"])
}

func TestDispatch_UpdateSettingsEmptyPatchKeepsArrays(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdUpdateSettings})
	require.True(t, resp.Success)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	updated, ok := m["updated"].([]any)
	require.True(t, ok, "updated key missing or not an array: %s", data)
	assert.Empty(t, updated)
	errs, ok := m["errors"].([]any)
	require.True(t, ok, "errors key missing or not an array: %s", data)
	assert.Empty(t, errs)
}

func TestDispatch_GetActivitiesByDate(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.byDate = []domain.CycleResult{{ID: "a"}}

	resp := f.dispatch(domain.Command{Name: domain.CmdGetActivities, Date: "2026-08-28"})
	require.True(t, resp.Success)
	assert.Equal(t, "2026-08-28", f.store.gotDate)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 1, *resp.Count)
}

func TestDispatch_QueryTimeRange(t *testing.T) {
	f := newDispatcherFixture(t)

	// Missing bounds.
	resp := f.dispatch(domain.Command{Name: domain.CmdQueryTimeRange})
	require.False(t, resp.Success)
	assert.Equal(t, "start_time and end_time are required", resp.Error)

	// Empty range succeeds with the canned summary.
	resp = f.dispatch(domain.Command{
		Name:      domain.CmdQueryTimeRange,
		StartTime: "2026-08-28T00:00:00",
		EndTime:   "2026-08-28T23:59:59",
	})
	require.True(t, resp.Success)
	assert.Equal(t, "no activity in range", resp.Summary)
	require.NotNil(t, resp.ActivitiesCount)
	assert.Equal(t, 0, *resp.ActivitiesCount)
	require.NotNil(t, resp.TimeRange)
	assert.Equal(t, "2026-08-28T00:00:00", resp.TimeRange.Start)

	// Populated range goes through the summarizer.
	f.store.timeRange = []domain.CycleResult{
		{Timestamp: "2026-08-28T09:00:00", Description: "Morning email"},
	}
	f.analysis.summary = "Mostly email triage."
	resp = f.dispatch(domain.Command{
		Name:      domain.CmdQueryTimeRange,
		StartTime: "2026-08-28T00:00:00",
		EndTime:   "2026-08-28T23:59:59",
		Query:     "What happened this morning?",
	})
	require.True(t, resp.Success)
	assert.Equal(t, "Mostly email triage.", resp.Summary)
	assert.Equal(t, "What happened this morning?", f.analysis.gotQuery)
	require.NotNil(t, resp.ActivitiesCount)
	assert.Equal(t, 1, *resp.ActivitiesCount)
}

func TestDispatch_GetStatus(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.stats = domain.Statistics{TotalActivities: 3, SuccessfulAnalyses: 2, FailedAnalyses: 1, SuccessRate: 66.67}

	resp := f.dispatch(domain.Command{Name: domain.CmdGetStatus})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Status)
	assert.False(t, resp.Status.IsRecording)
	assert.Equal(t, 180, resp.Status.Interval)
	assert.Equal(t, 3, resp.Status.Statistics.TotalActivities)

	f.dispatch(domain.Command{Name: domain.CmdStartRecording, Interval: 60})
	resp = f.dispatch(domain.Command{Name: domain.CmdGetStatus})
	require.True(t, resp.Success)
	assert.True(t, resp.Status.IsRecording)
	assert.Equal(t, 60, resp.Status.Interval)
}

func TestDispatch_UpdateSettings(t *testing.T) {
	f := newDispatcherFixture(t)

	key := "sk-new"
	resp := f.dispatch(domain.Command{
		Name: domain.CmdUpdateSettings,
		Settings: &domain.SettingsPatch{
			Interval: float64(300), // JSON numbers decode to float64
			APIKey:   &key,
		},
	})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Updated)
	assert.ElementsMatch(t, []string{"interval", "api_key"}, *resp.Updated)
	require.NotNil(t, resp.Errors)
	assert.Empty(t, *resp.Errors)
	assert.Equal(t, 300*time.Second, f.settings.Current().Interval)
	assert.Equal(t, "sk-new", f.settings.Current().APIKey)
}

func TestDispatch_UpdateSettingsInvalidInterval(t *testing.T) {
	f := newDispatcherFixture(t)
	before := f.settings.Current()

	resp := f.dispatch(domain.Command{
		Name:     domain.CmdUpdateSettings,
		Settings: &domain.SettingsPatch{Interval: "not-a-number"},
	})
	require.False(t, resp.Success)
	require.NotNil(t, resp.Errors)
	assert.Contains(t, *resp.Errors, "Invalid interval value")
	// Nothing is applied on a failed update.
	assert.Equal(t, before, f.settings.Current())
}

func TestDispatch_GetStatistics(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.stats = domain.Statistics{TotalActivities: 7, SuccessfulAnalyses: 7, SuccessRate: 100}

	resp := f.dispatch(domain.Command{Name: domain.CmdGetStatistics})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Statistics)
	assert.Equal(t, 7, resp.Statistics.TotalActivities)
	assert.Equal(t, 100.0, resp.Statistics.SuccessRate)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: "reboot"})
	require.False(t, resp.Success)
	assert.Equal(t, "reboot", resp.Command)
	assert.Equal(t, "unknown command", resp.Error)
}

func TestDispatch_ProtocolError(t *testing.T) {
	f := newDispatcherFixture(t)

	resp := f.dispatch(domain.Command{Name: domain.CmdProtocolError})
	require.False(t, resp.Success)
	assert.Equal(t, "error", resp.Command)
	assert.Equal(t, "invalid JSON payload", resp.Error)
}
