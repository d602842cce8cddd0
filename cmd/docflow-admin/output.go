package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/target/docflow/internal/domain/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func printJobDetail(w io.Writer, job *model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"ID", job.ID},
		{"Status", string(job.Status)},
		{"Endpoint", string(job.EndpointType)},
		{"Owner", deref(job.UserID)},
		{"Document", deref(job.DocumentID)},
		{"Batch", deref(job.BatchID)},
		{"Files", fmt.Sprintf("%d/%d (%d%%)", job.ProcessedFiles, job.TotalFiles, job.Progress)},
		{"Retries", fmt.Sprintf("%d", job.RetryCount)},
		{"Created", formatTime(job.CreatedAt)},
		{"Updated", formatTime(job.UpdatedAt)},
	}
	if job.ClaimedAt != nil {
		rows = append(rows, [2]string{"Claimed", formatTime(*job.ClaimedAt)})
	}
	if job.Error != nil && *job.Error != "" {
		rows = append(rows, [2]string{"Error", *job.Error})
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("write job field: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush job detail: %w", err)
	}

	if len(job.Result) == 0 {
		return nil
	}
	if err := writeln(w, "\nResult:"); err != nil {
		return fmt.Errorf("write result header: %w", err)
	}
	var pretty any
	if err := json.Unmarshal(job.Result, &pretty); err != nil {
		return writeln(w, string(job.Result))
	}
	return printJSON(w, pretty)
}

func printJobTable(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writeln(w, "  (no jobs matched)")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tSTATUS\tENDPOINT\tFILES\tPROGRESS\tRETRIES\tCREATED"); err != nil {
		return fmt.Errorf("write job header row: %w", err)
	}
	for _, job := range jobs {
		if err := writef(tw, "%s\t%s\t%s\t%d/%d\t%d%%\t%d\t%s\n",
			job.ID,
			job.Status,
			job.EndpointType,
			job.ProcessedFiles,
			job.TotalFiles,
			job.Progress,
			job.RetryCount,
			formatTime(job.CreatedAt),
		); err != nil {
			return fmt.Errorf("write job row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return writef(w, "Total: %d\n", len(jobs))
}

// printStats lists every status, zeros included, in lifecycle order.
func printStats(w io.Writer, stats model.JobStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "STATUS\tJOBS"); err != nil {
		return fmt.Errorf("write stats header row: %w", err)
	}
	total := 0
	for _, status := range []model.JobStatus{
		model.JobStatusCreated,
		model.JobStatusReady,
		model.JobStatusProcessing,
		model.JobStatusCompleted,
		model.JobStatusFailed,
	} {
		total += stats[status]
		if err := writef(tw, "%s\t%d\n", status, stats[status]); err != nil {
			return fmt.Errorf("write stats row: %w", err)
		}
	}
	if err := writef(tw, "total\t%d\n", total); err != nil {
		return fmt.Errorf("write stats total: %w", err)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush stats table: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
