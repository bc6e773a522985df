package domain

import "time"

// TimestampLayout is the canonical timestamp format used across the activity
// log and the extension wire protocol: local naive ISO-8601 without zone.
// Lexicographic comparison of two timestamps in this layout matches
// chronological order, which the date and range queries rely on.
const TimestampLayout = "2006-01-02T15:04:05"

// FormatTimestamp renders t in the canonical activity timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a canonical activity timestamp in local time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

// DateOf extracts the YYYY-MM-DD date prefix from a canonical timestamp.
func DateOf(timestamp string) string {
	if len(timestamp) < 10 {
		return timestamp
	}
	return timestamp[:10]
}

// Confidence expresses how certain the analysis service was about a
// description.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// CycleResult is the immutable outcome of one recording cycle. The pipeline
// creates exactly one per cycle; later stages only add fields, never revise
// fields written by earlier stages.
type CycleResult struct {
	ID             string     `json:"id"`
	Timestamp      string     `json:"timestamp"`
	ScreenshotPath string     `json:"screenshot_path,omitempty"`
	Description    string     `json:"activity_description,omitempty"`
	Confidence     Confidence `json:"confidence"`
	Success        bool       `json:"analysis_successful"`
	Error          string     `json:"error,omitempty"`
}

// ActivitySummary is the compact view of a cycle returned by capture_now.
type ActivitySummary struct {
	Timestamp      string `json:"timestamp"`
	Description    string `json:"description"`
	ScreenshotPath string `json:"screenshot_path"`
}

// Summary converts a CycleResult to its capture_now wire shape.
func (r CycleResult) Summary() ActivitySummary {
	return ActivitySummary{
		Timestamp:      r.Timestamp,
		Description:    r.Description,
		ScreenshotPath: r.ScreenshotPath,
	}
}

// Statistics summarizes the activity log.
type Statistics struct {
	TotalActivities    int     `json:"total_activities"`
	SuccessfulAnalyses int     `json:"successful_analyses"`
	FailedAnalyses     int     `json:"failed_analyses"`
	SuccessRate        float64 `json:"success_rate"`
	FirstActivity      string  `json:"first_activity,omitempty"`
	LastActivity       string  `json:"last_activity,omitempty"`
}
