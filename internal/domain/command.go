package domain

// Command names accepted on the control channel.
const (
	CmdStartRecording = "start_recording"
	CmdStopRecording  = "stop_recording"
	CmdCaptureNow     = "capture_now"
	CmdGetActivities  = "get_activities"
	CmdQueryTimeRange = "query_time_range"
	CmdGetStatus      = "get_status"
	CmdUpdateSettings = "update_settings"
	CmdGetStatistics  = "get_statistics"

	// CmdProtocolError is the synthetic command the framing layer feeds back
	// through dispatch when a frame payload fails to decode.
	CmdProtocolError = "error"
)

// Command is one decoded control message. The Name selects the handler; the
// remaining fields are per-command parameters and are zero when absent.
type Command struct {
	Name      string         `json:"command"`
	Interval  int            `json:"interval,omitempty"`
	Limit     *int           `json:"limit,omitempty"`
	Date      string         `json:"date,omitempty"`
	StartTime string         `json:"start_time,omitempty"`
	EndTime   string         `json:"end_time,omitempty"`
	Query     string         `json:"query,omitempty"`
	Settings  *SettingsPatch `json:"settings,omitempty"`
}

// SettingsPatch carries the update_settings payload. Interval is typed any
// because extension UIs send it either as a number or a numeric string; the
// dispatcher coerces and reports "Invalid interval value" when it cannot.
type SettingsPatch struct {
	Interval  any     `json:"interval,omitempty"`
	APIKey    *string `json:"api_key,omitempty"`
	ModelName *string `json:"model_name,omitempty"`
}

// TimeRange echoes the queried bounds in a query_time_range response.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// StatusPayload is the get_status response body.
type StatusPayload struct {
	IsRecording bool       `json:"is_recording"`
	Interval    int        `json:"interval"`
	Statistics  Statistics `json:"statistics"`
}

// Response is the reply to exactly one Command. Success is always explicit;
// the payload fields are populated per command and omitted otherwise. The
// slice fields are pointers so that a command which owns one always emits the
// array, even empty, while other commands omit the key entirely.
type Response struct {
	Command         string           `json:"command"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	Message         string           `json:"message,omitempty"`
	Interval        int              `json:"interval,omitempty"`
	Activity        *ActivitySummary `json:"activity,omitempty"`
	Activities      *[]CycleResult   `json:"activities,omitempty"`
	Count           *int             `json:"count,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	ActivitiesCount *int             `json:"activities_count,omitempty"`
	TimeRange       *TimeRange       `json:"time_range,omitempty"`
	Status          *StatusPayload   `json:"status,omitempty"`
	Statistics      *Statistics      `json:"statistics,omitempty"`
	Updated         *[]string        `json:"updated,omitempty"`
	Errors          *[]string        `json:"errors,omitempty"`
}

// OKResponse builds a success response for the given command.
func OKResponse(command string) Response {
	return Response{Command: command, Success: true}
}

// ErrResponse builds a failure response for the given command.
func ErrResponse(command, errMsg string) Response {
	return Response{Command: command, Success: false, Error: errMsg}
}
