// Package devseed populates a job store with demo records so local CLI
// listings and dashboards have data in every lifecycle state.
package devseed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/countyops/countysync/internal/core"
	"github.com/countyops/countysync/internal/domain/model"
	"github.com/countyops/countysync/internal/plugin/gisexport"
	"github.com/countyops/countysync/internal/plugin/marketanalysis"
)

type seedJob struct {
	plugin      string
	requestedBy string
	params      string
	// transitions are applied in order after creation; empty leaves PENDING.
	transitions []model.JobStatus
	result      string
	errText     string
}

func seedJobs() []seedJob {
	return []seedJob{
		{
			plugin:      gisexport.Name,
			requestedBy: "mlopez",
			params:      `{"county":"Benton","format":"geojson","layers":["parcels","zoning"]}`,
			transitions: []model.JobStatus{model.JobStatusRunning, model.JobStatusSuccess},
			result:      `{"county":"Benton","format":"geojson","layers_rendered":2}`,
		},
		{
			plugin:      gisexport.Name,
			requestedBy: "jrivera",
			params:      `{"county":"Linn","format":"shapefile"}`,
			transitions: []model.JobStatus{model.JobStatusRunning, model.JobStatusFailed},
			errText:     "layer render failed: parcels source unreachable",
		},
		{
			plugin:      gisexport.Name,
			requestedBy: "mlopez",
			params:      `{"county":"Polk","format":"geojson"}`,
			transitions: []model.JobStatus{model.JobStatusCancelled},
		},
		{
			plugin:      marketanalysis.Name,
			requestedBy: "mlopez",
			params:      `{"county":"Benton","sale_year":2025}`,
			transitions: []model.JobStatus{model.JobStatusRunning},
		},
		{
			plugin:      marketanalysis.Name,
			requestedBy: "asmith",
			params:      `{"county":"Marion","sale_year":2024}`,
		},
	}
}

// Seed inserts the demo records. It is additive: nothing existing is touched,
// re-running grows the table.
func Seed(ctx context.Context, store core.JobStore, logger *slog.Logger) error {
	for _, s := range seedJobs() {
		job, err := store.Create(ctx, &model.SubmitRequest{
			Plugin:      s.plugin,
			Parameters:  json.RawMessage(s.params),
			RequestedBy: s.requestedBy,
		})
		if err != nil {
			return fmt.Errorf("seed %s job: %w", s.plugin, err)
		}

		for _, next := range s.transitions {
			upd := model.StatusUpdate{}
			if next.Terminal() {
				if s.result != "" {
					upd.Result = json.RawMessage(s.result)
				}
				upd.Error = s.errText
			}
			if _, err := store.UpdateStatus(ctx, job.ID, next, upd); err != nil {
				return fmt.Errorf("seed %s job transition to %s: %w", s.plugin, next, err)
			}
		}

		if logger != nil {
			logger.Info("seeded job", "job_id", job.ID, "plugin", s.plugin, "requested_by", s.requestedBy)
		}
	}
	return nil
}
