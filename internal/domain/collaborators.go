package domain

import (
	"context"
	"time"
)

// Capture is the product of one screenshot: a stable on-disk reference and
// the raw PNG bytes handed to the analysis service.
type Capture struct {
	Path string
	PNG  []byte
}

// CaptureService produces screenshots and manages their retention.
type CaptureService interface {
	// Capture grabs the screen, writes the image under the screenshot
	// directory, and returns its path together with the encoded bytes.
	Capture(ctx context.Context) (Capture, error)

	// RetainLatest deletes all but the newest n screenshots.
	RetainLatest(n int) error
}

// Analysis is the outcome of one analysis call. Success and Error mirror the
// remote service's own verdict; a transport failure surfaces as a Go error
// from Analyze instead.
type Analysis struct {
	Description string
	Confidence  Confidence
	Success     bool
	Error       string
}

// AnalysisService classifies a screenshot and summarizes stored activity.
type AnalysisService interface {
	// Analyze describes the user activity visible in the image. The context
	// string carries recent activity descriptions to keep descriptions
	// consistent across cycles.
	Analyze(ctx context.Context, image []byte, contextText string) (Analysis, error)

	// Summarize produces a natural-language summary of the given activities
	// in response to a free-form query.
	Summarize(ctx context.Context, query string, activities []CycleResult) (string, error)
}

// ActivityStore is the append-only activity log. Reads must tolerate
// concurrent writes; no transactional guarantee is assumed beyond
// single-statement atomicity.
type ActivityStore interface {
	Append(ctx context.Context, r CycleResult) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]CycleResult, error)

	// ByDate returns the records whose timestamp falls on the given
	// YYYY-MM-DD date, oldest first.
	ByDate(ctx context.Context, date string) ([]CycleResult, error)

	// TimeRange returns the records with start <= timestamp <= end,
	// oldest first. Bounds use the canonical timestamp layout.
	TimeRange(ctx context.Context, start, end string) ([]CycleResult, error)

	Statistics(ctx context.Context) (Statistics, error)

	// Prune deletes records older than the cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}
