// Package plugin defines the contract between the countysync control plane
// and its pluggable long-running operations, together with the registry that
// owns them.
package plugin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/countyops/countysync/internal/domain/auth"
)

// Handle is the opaque token a Runner hands back at submit time and expects
// on subsequent Execute/Cancel calls. The orchestrator never inspects it.
type Handle any

// Runner is the three-call contract every plugin implements. The control
// plane treats Execute as an opaque long-running operation; it must honor
// ctx cancellation cooperatively but is never forcibly terminated.
type Runner interface {
	// Submit validates parameters and prepares a unit of work.
	Submit(ctx context.Context, params json.RawMessage) (Handle, error)

	// Execute performs the work and returns the result payload. A returned
	// error is recorded on the job; it is never raised to the submitter.
	Execute(ctx context.Context, h Handle) (json.RawMessage, error)

	// Cancel requests best-effort cancellation of in-flight work. A nil
	// return acknowledges the request; an error means the work will run to
	// completion.
	Cancel(ctx context.Context, h Handle) error
}

// Descriptor ties a registered plugin name to its runner and the permission
// action it requires. Descriptors are owned exclusively by the Registry.
type Descriptor struct {
	// Name is the stable identifier used in URLs and job records.
	Name string
	// Version is reported by the plugin health endpoint.
	Version string
	// Action is the permission the caller's role must carry to submit.
	Action auth.Action
	// Timeout bounds a single Execute call. Zero falls back to the
	// orchestrator-wide default.
	Timeout time.Duration
	// Runner performs the actual work.
	Runner Runner
}
