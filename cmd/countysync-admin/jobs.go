package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/countyops/countysync/config"
	"github.com/countyops/countysync/internal/bootstrap"
	"github.com/countyops/countysync/internal/data"
	"github.com/countyops/countysync/internal/devseed"
	"github.com/countyops/countysync/internal/domain/model"
	"github.com/countyops/countysync/internal/migrate"
	"github.com/countyops/countysync/internal/util"
)

const defaultMigrationTimeout = 5 * time.Minute

var errPostgresRequired = errors.New("command requires STORE_DRIVER=postgres")

// connectPG opens the durable store. Admin commands operate on shared state,
// so the in-memory driver is rejected rather than silently inspected empty.
func connectPG(cmdCtx *commandContext) (*sql.DB, *data.PGStore, error) {
	if cmdCtx.Config.Store.Driver != config.StoreDriverPostgres {
		return nil, nil, errPostgresRequired
	}
	db, err := bootstrap.ConnectDB(cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	return db, data.NewPGStore(db, data.PGStoreConfig{Logger: cmdCtx.Logger}), nil
}

func closeDB(cmdCtx *commandContext, db *sql.DB) {
	if err := db.Close(); err != nil {
		cmdCtx.Logger.Error("close database", "error", err)
	}
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, _, err := connectPG(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	cmdCtx.Logger.Info("migrations applied")
	return nil
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !cmdCtx.Config.IsDev {
		return errors.New("db-seed inserts demo data and requires DEV=true")
	}

	db, store, err := connectPG(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	return devseed.Seed(cmdCtx.Ctx, store, cmdCtx.Logger)
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	pluginName := fs.String("plugin", "", "filter by plugin name")
	statusStr := fs.String("status", "", "filter by status (PENDING, RUNNING, SUCCESS, FAILED, CANCELLED)")
	requestedBy := fs.String("requested-by", "", "filter by submitting user")
	limit := fs.Int("limit", model.DefaultListLimit, "maximum records to return")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := model.JobFilter{
		Plugin:      *pluginName,
		RequestedBy: *requestedBy,
		Limit:       *limit,
	}
	if *statusStr != "" {
		if err := filter.Status.UnmarshalText([]byte(*statusStr)); err != nil {
			return err
		}
	}

	db, store, err := connectPG(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	jobs, err := store.List(cmdCtx.Ctx, filter)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "JOB ID\tPLUGIN\tSTATUS\tREQUESTED BY\tCREATED\tDURATION\tERROR\n"); err != nil {
		return err
	}
	for _, job := range jobs {
		errText := ""
		if job.Error != nil {
			errText = truncate(*job.Error, 60)
		}
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Plugin, job.Status, job.RequestedBy,
			job.CreatedAt.Format(time.RFC3339),
			util.FormatProcessingDuration(util.JobDuration(job)),
			errText); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runShowJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("show-job", flag.ContinueOnError)
	id := fs.String("id", "", "job id (required)")
	rawJSON := fs.Bool("json", false, "print the full record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("-id is required")
	}

	db, store, err := connectPG(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	job, err := store.Get(cmdCtx.Ctx, *id)
	if err != nil {
		return err
	}

	if *rawJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Job ID", job.ID},
		{"Plugin", job.Plugin},
		{"Status", string(job.Status)},
		{"Requested by", job.RequestedBy},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.Format(time.RFC3339)},
		{"Duration", util.FormatProcessingDuration(util.JobDuration(job))},
	}
	if job.Deadline != nil {
		rows = append(rows, [2]string{"Deadline", job.Deadline.Format(time.RFC3339)})
	}
	if job.Error != nil {
		rows = append(rows, [2]string{"Error", *job.Error})
	}
	if len(job.Result) > 0 {
		rows = append(rows, [2]string{"Result", truncate(string(job.Result), 200)})
	}
	for _, row := range rows {
		if err := writef(w, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runExpireOverdue(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("expire-overdue", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*yes {
		return errors.New("expire-overdue fails RUNNING jobs past their deadline; re-run with -yes to confirm")
	}

	db, store, err := connectPG(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	ids, err := store.ExpireOverdue(cmdCtx.Ctx, time.Now())
	if err != nil {
		return fmt.Errorf("expire overdue jobs: %w", err)
	}
	if len(ids) == 0 {
		cmdCtx.Logger.Info("no overdue jobs")
		return nil
	}
	cmdCtx.Logger.Info("expired overdue jobs", "count", len(ids), "job_ids", ids)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
