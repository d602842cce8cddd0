package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/target/docflow/internal/adapters/reaper"
	"github.com/target/docflow/internal/bootstrap"
	"github.com/target/docflow/internal/domain/model"
)

type migrateOptions struct {
	Timeout time.Duration
}

type jobGetOptions struct {
	ID      string
	Owner   string
	RawJSON bool
}

type jobListOptions struct {
	Owner   string
	Status  *model.JobStatus
	Limit   int
	RawJSON bool
}

type jobMutateOptions struct {
	ID          string
	Owner       string
	Yes         bool
	AllowRemote bool
}

type reapOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	cmdCtx.Logger.Info("running job store migrations", "driver", cmdCtx.Config.DB.Driver)
	// Opening the store migrates it; SQLite always does, Postgres when asked to.
	cmdCtx.Config.DB.RunMigrationsOnStart = true
	return withStore(cmdCtx, opts.Timeout, func(context.Context, *bootstrap.Store) error {
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runJobGet(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobGetFlags(args)
	if err != nil {
		return err
	}
	return withJobs(cmdCtx, defaultCommandTimeout, func(ctx context.Context, deps adminDeps) error {
		job, err := deps.Jobs.GetJob(ctx, opts.ID, opts.Owner)
		if err != nil {
			return err
		}
		if opts.RawJSON {
			return printJSON(os.Stdout, job)
		}
		return printJobDetail(os.Stdout, job)
	})
}

func runJobList(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobListFlags(args)
	if err != nil {
		return err
	}
	return withJobs(cmdCtx, defaultCommandTimeout, func(ctx context.Context, deps adminDeps) error {
		jobs, err := deps.Jobs.ListJobsByOwner(ctx, model.ListByOwnerOptions{
			Owner:  opts.Owner,
			Status: opts.Status,
			Limit:  opts.Limit,
		})
		if err != nil {
			return err
		}
		if opts.RawJSON {
			return printJSON(os.Stdout, jobs)
		}
		return printJobTable(os.Stdout, jobs)
	})
}

func runJobReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobMutateFlags("job-reset", args, false)
	if err != nil {
		return err
	}
	if err := guardRemoteHost(cmdCtx.Config.DB, opts.AllowRemote, "reset job "+opts.ID); err != nil {
		return err
	}
	if err := confirmAction(opts.Yes, "reset failed job", fmt.Sprintf("job %q", opts.ID)); err != nil {
		return err
	}
	return withJobs(cmdCtx, defaultCommandTimeout, func(ctx context.Context, deps adminDeps) error {
		ok, err := deps.Jobs.ResetFailedJob(ctx, opts.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s is missing or not failed", opts.ID)
		}
		return writef(os.Stdout, "Job %s reset to %s\n", opts.ID, model.JobStatusReady)
	})
}

func runJobDelete(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobMutateFlags("job-delete", args, true)
	if err != nil {
		return err
	}
	if err := guardRemoteHost(cmdCtx.Config.DB, opts.AllowRemote, "delete job "+opts.ID); err != nil {
		return err
	}
	target := fmt.Sprintf("job %q", opts.ID)
	if opts.Owner != "" {
		target += fmt.Sprintf(" owned by %q", opts.Owner)
	}
	if err := confirmAction(opts.Yes, "delete job, blobs and staging files", target); err != nil {
		return err
	}
	return withJobs(cmdCtx, defaultCommandTimeout, func(ctx context.Context, deps adminDeps) error {
		ok, err := deps.Jobs.DeleteJob(ctx, opts.ID, opts.Owner)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s not found", opts.ID)
		}
		return writef(os.Stdout, "Job %s deleted\n", opts.ID)
	})
}

func runJobStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	rawJSON := fs.Bool("json", false, "Print stats as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withJobs(cmdCtx, defaultCommandTimeout, func(ctx context.Context, deps adminDeps) error {
		stats, err := deps.Jobs.Stats(ctx)
		if err != nil {
			return err
		}
		if *rawJSON {
			return printJSON(os.Stdout, stats)
		}
		return printStats(os.Stdout, stats)
	})
}

func runReap(cmdCtx *commandContext, args []string) error {
	opts, err := parseReapFlags(args)
	if err != nil {
		return err
	}
	if err := guardRemoteHost(cmdCtx.Config.DB, opts.AllowRemote, "reclaim stale jobs and purge old ones"); err != nil {
		return err
	}
	return withStore(cmdCtx, opts.Timeout, func(ctx context.Context, store *bootstrap.Store) error {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Repo:           store.Jobs,
			Blobs:          bootstrap.BuildBlobStore(ctx, cmdCtx.Config.Blob, cmdCtx.Logger),
			Config:         cmdCtx.Config.Reaper,
			PerFileTimeout: cmdCtx.Config.Worker.PerFileTimeout,
			Logger:         cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		if err := runner.RunOnce(ctx); err != nil {
			return fmt.Errorf("reaper sweep: %w", err)
		}
		cmdCtx.Logger.Info("reaper sweep completed")
		return nil
	})
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseJobGetFlags(args []string) (jobGetOptions, error) {
	fs := flag.NewFlagSet("job-get", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobGetOptions
	fs.StringVar(&opts.ID, "id", "", "Job ID (required)")
	fs.StringVar(&opts.Owner, "owner", "", "Only show the job if it belongs to this user")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the job as JSON")

	if err := fs.Parse(args); err != nil {
		return jobGetOptions{}, err
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return jobGetOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func parseJobListFlags(args []string) (jobListOptions, error) {
	fs := flag.NewFlagSet("job-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   jobListOptions
		status string
	)
	fs.StringVar(&opts.Owner, "owner", "", "User ID whose jobs to list (required)")
	fs.StringVar(&status, "status", "", "Only list jobs in this status")
	fs.IntVar(&opts.Limit, "limit", model.DefaultListLimit, "Maximum number of jobs to list")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print jobs as JSON")

	if err := fs.Parse(args); err != nil {
		return jobListOptions{}, err
	}
	opts.Owner = strings.TrimSpace(opts.Owner)
	if opts.Owner == "" {
		return jobListOptions{}, errors.New("--owner is required")
	}
	if status != "" {
		parsed, err := model.ParseJobStatus(status)
		if err != nil {
			return jobListOptions{}, fmt.Errorf("--status: %w", err)
		}
		opts.Status = &parsed
	}
	if opts.Limit <= 0 {
		return jobListOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func parseJobMutateFlags(name string, args []string, withOwner bool) (jobMutateOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobMutateOptions
	fs.StringVar(&opts.ID, "id", "", "Job ID (required)")
	if withOwner {
		fs.StringVar(&opts.Owner, "owner", "", "Only act if the job belongs to this user")
	}
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against database hosts that do not look local")

	if err := fs.Parse(args); err != nil {
		return jobMutateOptions{}, err
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return jobMutateOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func parseReapFlags(args []string) (reapOptions, error) {
	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := reapOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration of the sweep")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against database hosts that do not look local")

	if err := fs.Parse(args); err != nil {
		return reapOptions{}, err
	}
	if opts.Timeout <= 0 {
		return reapOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}
