// Package gisexport implements the GIS parcel-layer export plugin. The
// rendering pipeline itself lives outside the control plane; this runner
// stages layer exports and packages a manifest, which is enough to exercise
// the full submit/execute/cancel contract.
package gisexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/countyops/countysync/internal/domain/auth"
	"github.com/countyops/countysync/internal/plugin"
)

// Name is the registered plugin name.
const Name = "gis-export"

// Version is reported by the plugin health endpoint.
const Version = "1.2.0"

// ErrCancelled is returned from Execute when the cancel hook was acknowledged.
var ErrCancelled = errors.New("gis export cancelled")

// Params describes a single export request.
type Params struct {
	County string   `json:"county"`
	Format string   `json:"format"`
	Layers []string `json:"layers,omitempty"`
}

var supportedFormats = map[string]struct{}{
	"shapefile":  {},
	"geojson":    {},
	"geopackage": {},
}

var defaultLayers = []string{"parcels", "zoning", "floodplain"}

func (p *Params) validate() error {
	if strings.TrimSpace(p.County) == "" {
		return errors.New("county is required")
	}
	if _, ok := supportedFormats[p.Format]; !ok {
		return fmt.Errorf("unsupported format %q (shapefile, geojson, geopackage)", p.Format)
	}
	return nil
}

// export is the per-job work unit handed back as the opaque handle.
type export struct {
	params    Params
	cancelled chan struct{}
	once      sync.Once
}

func (e *export) cancel() {
	e.once.Do(func() { close(e.cancelled) })
}

// Runner implements plugin.Runner for GIS exports.
type Runner struct {
	// LayerDelay simulates per-layer rendering time. Tests set it near zero.
	LayerDelay time.Duration
}

// Descriptor returns the registry descriptor for this plugin.
func Descriptor(r *Runner) plugin.Descriptor {
	return plugin.Descriptor{
		Name:    Name,
		Version: Version,
		Action:  auth.ActionExport,
		Runner:  r,
	}
}

// Submit validates parameters and stages the export.
func (r *Runner) Submit(_ context.Context, raw json.RawMessage) (plugin.Handle, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode gis export parameters: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(p.Layers) == 0 {
		p.Layers = defaultLayers
	}
	return &export{params: p, cancelled: make(chan struct{})}, nil
}

// Execute renders each layer in turn, honoring both context cancellation and
// the plugin cancel hook between layers.
func (r *Runner) Execute(ctx context.Context, h plugin.Handle) (json.RawMessage, error) {
	e, ok := h.(*export)
	if !ok {
		return nil, fmt.Errorf("gis export: unexpected handle type %T", h)
	}

	delay := r.LayerDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	features := 0
	for i, layer := range e.params.Layers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.cancelled:
			return nil, ErrCancelled
		case <-time.After(delay):
		}
		// Stable per-layer counts keep result assertions deterministic.
		features += 1000 + i*137 + len(layer)
	}

	manifest := map[string]any{
		"county":        e.params.County,
		"format":        e.params.Format,
		"layers":        e.params.Layers,
		"feature_count": features,
		"artifact":      artifactKey(e.params),
	}
	out, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode export manifest: %w", err)
	}
	return out, nil
}

// Cancel acknowledges cancellation; the in-flight Execute observes it at the
// next layer boundary.
func (r *Runner) Cancel(_ context.Context, h plugin.Handle) error {
	e, ok := h.(*export)
	if !ok {
		return fmt.Errorf("gis export: unexpected handle type %T", h)
	}
	e.cancel()
	return nil
}

func artifactKey(p Params) string {
	county := strings.ToLower(strings.ReplaceAll(p.County, " ", "-"))
	return fmt.Sprintf("exports/%s/%s-%d-layers.%s.zip", county, county, len(p.Layers), p.Format)
}
