// Package metrics standardizes job lifecycle metric emission so every
// transition carries the same tag set.
package metrics

import (
	"time"

	obserrors "github.com/countyops/countysync/internal/observability/errors"
	"github.com/countyops/countysync/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultAccepted  = "accepted"
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
	ResultDenied    = "denied"
)

// JobEvent captures a job lifecycle transition for metric emission.
type JobEvent struct {
	Plugin   string
	Status   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitJobLifecycle emits the standard transition counter plus a duration
// timing when the event carries one. A nil sink drops everything.
func EmitJobLifecycle(sink statsd.Sink, ev JobEvent) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"plugin": ev.Plugin,
		"status": ev.Status,
		"result": ev.Result,
	}
	if ev.Err != nil {
		if class := obserrors.Classify(ev.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if ev.Duration > 0 {
		sink.Timing("job.duration", ev.Duration, cloneTags(tags))
	}
}

// EmitSubmissionDenied counts authorization denials per plugin and role.
func EmitSubmissionDenied(sink statsd.Sink, pluginName, role string) {
	if sink == nil {
		return
	}
	sink.Count("job.denied", 1, map[string]string{
		"plugin": pluginName,
		"role":   role,
	})
}

func cloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
