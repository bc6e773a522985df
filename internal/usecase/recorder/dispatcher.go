package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"lookback/internal/domain"
)

// User-facing response strings. Kept stable: the browser extension matches
// on them.
const (
	msgAlreadyRunning = "Recording is already running"
	msgNotRunning     = "Recording is not running"
	msgStarted        = "Recording started"
	msgStopped        = "Recording stopped"
	msgTimeout        = "timeout"
	msgUnknownCommand = "unknown command"
	msgEmptyRange     = "no activity in range"
	msgInvalidJSON    = "invalid JSON payload"
	msgBadInterval    = "Invalid interval value"
	defaultQuery      = "Summarize the activity in this period"
)

const defaultActivityLimit = 10

// Dispatcher routes decoded Commands to the coordinator and the store
// collaborators and normalizes every outcome into a Response. It never
// panics out and never leaves a caller without an answer.
type Dispatcher struct {
	coord    *Coordinator
	store    domain.ActivityStore
	analysis domain.AnalysisService
	settings *SettingsStore
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(coord *Coordinator, store domain.ActivityStore, analysis domain.AnalysisService, settings *SettingsStore, bus domain.EventBus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		coord:    coord,
		store:    store,
		analysis: analysis,
		settings: settings,
		bus:      bus,
		logger:   logger,
	}
}

// Dispatch handles one command and returns its response. Start/Stop
// acknowledge immediately; CaptureNow blocks up to the capture timeout;
// everything else answers synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.Command) (resp domain.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panicked", "command", cmd.Name, "panic", r)
			resp = domain.ErrResponse(cmd.Name, fmt.Sprintf("internal error: %v", r))
		}
	}()

	d.logger.Debug("dispatching command", "command", cmd.Name)

	switch cmd.Name {
	case domain.CmdStartRecording:
		return d.handleStart(cmd)
	case domain.CmdStopRecording:
		return d.handleStop()
	case domain.CmdCaptureNow:
		return d.handleCaptureNow(ctx)
	case domain.CmdGetActivities:
		return d.handleGetActivities(ctx, cmd)
	case domain.CmdQueryTimeRange:
		return d.handleQueryTimeRange(ctx, cmd)
	case domain.CmdGetStatus:
		return d.handleGetStatus(ctx)
	case domain.CmdUpdateSettings:
		return d.handleUpdateSettings(cmd)
	case domain.CmdGetStatistics:
		return d.handleGetStatistics(ctx)
	case domain.CmdProtocolError:
		return domain.ErrResponse(domain.CmdProtocolError, msgInvalidJSON)
	default:
		d.logger.Warn("unknown command", "command", cmd.Name)
		return domain.ErrResponse(cmd.Name, msgUnknownCommand)
	}
}

func (d *Dispatcher) handleStart(cmd domain.Command) domain.Response {
	interval := time.Duration(cmd.Interval) * time.Second
	if interval <= 0 {
		interval = d.settings.Current().Interval
	}

	if err := d.coord.Start(interval); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			return domain.ErrResponse(domain.CmdStartRecording, msgAlreadyRunning)
		}
		return domain.ErrResponse(domain.CmdStartRecording, err.Error())
	}

	resp := domain.OKResponse(domain.CmdStartRecording)
	resp.Interval = int(interval.Seconds())
	resp.Message = msgStarted
	return resp
}

func (d *Dispatcher) handleStop() domain.Response {
	if err := d.coord.Stop(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			return domain.ErrResponse(domain.CmdStopRecording, msgNotRunning)
		}
		return domain.ErrResponse(domain.CmdStopRecording, err.Error())
	}

	resp := domain.OKResponse(domain.CmdStopRecording)
	resp.Message = msgStopped
	return resp
}

func (d *Dispatcher) handleCaptureNow(ctx context.Context) domain.Response {
	res, err := d.coord.CaptureNow(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			return domain.ErrResponse(domain.CmdCaptureNow, msgTimeout)
		}
		return domain.ErrResponse(domain.CmdCaptureNow, err.Error())
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "capture failed"
		}
		return domain.ErrResponse(domain.CmdCaptureNow, msg)
	}

	resp := domain.OKResponse(domain.CmdCaptureNow)
	summary := res.Summary()
	resp.Activity = &summary
	return resp
}

func (d *Dispatcher) handleGetActivities(ctx context.Context, cmd domain.Command) domain.Response {
	var (
		activities []domain.CycleResult
		err        error
	)
	if cmd.Date != "" {
		activities, err = d.store.ByDate(ctx, cmd.Date)
	} else {
		limit := defaultActivityLimit
		if cmd.Limit != nil {
			limit = *cmd.Limit
		}
		activities, err = d.store.Recent(ctx, limit)
	}
	if err != nil {
		d.logger.Error("get_activities failed", "error", err)
		return domain.ErrResponse(domain.CmdGetActivities, err.Error())
	}
	if activities == nil {
		// The extension indexes into activities; the array must always exist.
		activities = []domain.CycleResult{}
	}

	resp := domain.OKResponse(domain.CmdGetActivities)
	resp.Activities = &activities
	count := len(activities)
	resp.Count = &count
	return resp
}

func (d *Dispatcher) handleQueryTimeRange(ctx context.Context, cmd domain.Command) domain.Response {
	if cmd.StartTime == "" || cmd.EndTime == "" {
		return domain.ErrResponse(domain.CmdQueryTimeRange, "start_time and end_time are required")
	}

	activities, err := d.store.TimeRange(ctx, cmd.StartTime, cmd.EndTime)
	if err != nil {
		d.logger.Error("query_time_range failed", "error", err)
		return domain.ErrResponse(domain.CmdQueryTimeRange, err.Error())
	}

	resp := domain.OKResponse(domain.CmdQueryTimeRange)
	resp.TimeRange = &domain.TimeRange{Start: cmd.StartTime, End: cmd.EndTime}
	count := len(activities)
	resp.ActivitiesCount = &count

	if count == 0 {
		resp.Summary = msgEmptyRange
		return resp
	}

	query := cmd.Query
	if query == "" {
		query = defaultQuery
	}
	summary, err := d.analysis.Summarize(ctx, query, activities)
	if err != nil {
		d.logger.Error("time range summarization failed", "error", err)
		return domain.ErrResponse(domain.CmdQueryTimeRange, err.Error())
	}
	resp.Summary = summary
	return resp
}

func (d *Dispatcher) handleGetStatus(ctx context.Context) domain.Response {
	stats, err := d.store.Statistics(ctx)
	if err != nil {
		d.logger.Error("get_status statistics failed", "error", err)
		return domain.ErrResponse(domain.CmdGetStatus, err.Error())
	}

	sess := d.coord.Status()
	interval := sess.Interval
	if !sess.IsRecording() {
		interval = d.settings.Current().Interval
	}

	resp := domain.OKResponse(domain.CmdGetStatus)
	resp.Status = &domain.StatusPayload{
		IsRecording: sess.IsRecording(),
		Interval:    int(interval.Seconds()),
		Statistics:  stats,
	}
	return resp
}

func (d *Dispatcher) handleUpdateSettings(cmd domain.Command) domain.Response {
	// Non-nil so the response always carries both arrays.
	updated := []string{}
	errs := []string{}

	next := d.settings.Current()
	if cmd.Settings != nil {
		if cmd.Settings.Interval != nil {
			if secs, ok := coerceInterval(cmd.Settings.Interval); ok {
				next.Interval = time.Duration(secs) * time.Second
				updated = append(updated, "interval")
			} else {
				errs = append(errs, msgBadInterval)
			}
		}
		if cmd.Settings.APIKey != nil {
			next.APIKey = *cmd.Settings.APIKey
			updated = append(updated, "api_key")
		}
		if cmd.Settings.ModelName != nil {
			next.ModelName = *cmd.Settings.ModelName
			updated = append(updated, "model_name")
		}
	}

	if len(errs) == 0 {
		d.settings.Swap(next)
		if len(updated) > 0 {
			d.bus.Publish(domain.NewEvent(domain.EventSettingsUpdated, updated))
		}
	}

	resp := domain.Response{
		Command: domain.CmdUpdateSettings,
		Success: len(errs) == 0,
		Updated: &updated,
		Errors:  &errs,
	}
	return resp
}

func (d *Dispatcher) handleGetStatistics(ctx context.Context) domain.Response {
	stats, err := d.store.Statistics(ctx)
	if err != nil {
		d.logger.Error("get_statistics failed", "error", err)
		return domain.ErrResponse(domain.CmdGetStatistics, err.Error())
	}

	resp := domain.OKResponse(domain.CmdGetStatistics)
	resp.Statistics = &stats
	return resp
}

// coerceInterval accepts the interval as a JSON number or a numeric string
// and returns it in whole seconds.
func coerceInterval(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n <= 0 || n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		if n <= 0 {
			return 0, false
		}
		return n, true
	case string:
		secs, err := strconv.Atoi(n)
		if err != nil || secs <= 0 {
			return 0, false
		}
		return secs, true
	default:
		return 0, false
	}
}
