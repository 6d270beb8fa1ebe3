package util //nolint:revive // package name util hosts shared formatting helpers used across CLI output

import (
	"time"

	"github.com/countyops/countysync/internal/domain/model"
)

// FormatProcessingDuration formats a time.Duration for display, handling edge
// cases. Returns "—" for zero or negative durations, truncates to
// milliseconds for readability.
func FormatProcessingDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "—"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}

// JobDuration returns how long a job spent between creation and its last
// status write. Non-terminal jobs report the zero duration since their clock
// is still running.
func JobDuration(job *model.Job) time.Duration {
	if job == nil || !job.Status.Terminal() {
		return 0
	}
	return job.UpdatedAt.Sub(job.CreatedAt)
}
