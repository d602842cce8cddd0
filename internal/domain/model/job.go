// Package model defines the core data types shared by the docflow ingestion API and worker.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EndpointType selects which per-file pipeline a job runs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type EndpointType string

// JobStatus represents the current status of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// EndpointClassify routes each document to INBOX or ARCHIVE.
	EndpointClassify EndpointType = "classify"
	// EndpointAnalyze produces a structured analysis for each document.
	EndpointAnalyze EndpointType = "analyze"

	// JobStatusCreated is the holding state while uploads are still being stored.
	JobStatusCreated JobStatus = "created"
	// JobStatusReady marks a job as visible to workers.
	JobStatusReady JobStatus = "ready"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates every file was processed and a result was stored.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates an unrecoverable job-level error.
	JobStatusFailed JobStatus = "failed"
)

// ErrNoJobsAvailable is returned when no jobs are available for claiming.
var ErrNoJobsAvailable = errors.New("no jobs available")

// ErrNoFileData is returned when none of a job's reference columns yields a file.
var ErrNoFileData = errors.New("No file data found") //nolint:staticcheck // message is part of the stored job error

// ErrJobMoved is returned by a guarded update when the job left the guarded status or
// was claimed again since the caller's claim.
var ErrJobMoved = errors.New("job moved on since it was claimed")

// legacyStatuses maps status strings written by earlier schema versions.
var legacyStatuses = map[string]JobStatus{
	"pending":     JobStatusReady,
	"queued":      JobStatusReady,
	"running":     JobStatusProcessing,
	"in_progress": JobStatusProcessing,
	"done":        JobStatusCompleted,
	"success":     JobStatusCompleted,
	"error":       JobStatusFailed,
	"cancelled":   JobStatusFailed,
}

// ParseJobStatus converts a stored or user supplied status string into a JobStatus,
// mapping legacy names onto the current states.
func ParseJobStatus(raw string) (JobStatus, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := JobStatus(v); s.Valid() {
		return s, nil
	}
	if s, ok := legacyStatuses[v]; ok {
		return s, nil
	}
	return "", fmt.Errorf("invalid JobStatus: %q", raw)
}

// UnmarshalText implements encoding.TextUnmarshaler and accepts legacy names.
func (s *JobStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Valid returns true if the JobStatus is one of the current states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusCreated, JobStatusReady, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// StoredNames returns s followed by every legacy name that maps onto it. Stores use it to
// match rows written by earlier schema versions.
func (s JobStatus) StoredNames() []string {
	names := []string{string(s)}
	for legacy, current := range legacyStatuses {
		if current == s {
			names = append(names, legacy)
		}
	}
	sort.Strings(names[1:])
	return names
}

// IsTerminal reports whether no worker will touch the job again without an explicit reset.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for EndpointType to allow env and query parsing.
func (t *EndpointType) UnmarshalText(text []byte) error {
	v := EndpointType(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*t = v
		return nil
	}
	return fmt.Errorf("invalid EndpointType: %q", string(text))
}

// Valid returns true if the EndpointType is valid.
func (t EndpointType) Valid() bool {
	return t == EndpointClassify || t == EndpointAnalyze
}

// Job represents one batch upload and its processing lifecycle.
type Job struct {
	ID             string          `json:"id"`
	Status         JobStatus       `json:"status"`
	EndpointType   EndpointType    `json:"endpoint_type"`
	DocumentID     *string         `json:"document_id,omitempty"`
	BatchID        *string         `json:"batch_id,omitempty"`
	TotalFiles     int             `json:"total_files"`
	ProcessedFiles int             `json:"processed_files"`
	Progress       int             `json:"progress"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
	UserID         *string         `json:"user_id,omitempty"`
	RetryCount     int             `json:"retry_count"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Files holds the raw file reference columns exactly as the store returned them.
	// Only the resolver reads it.
	Files RawFileSources `json:"-"`
}

// OwnedBy reports whether the job belongs to owner. An empty owner matches nothing.
func (j *Job) OwnedBy(owner string) bool {
	return owner != "" && j.UserID != nil && *j.UserID == owner
}

// RawFileSources carries the three historical file reference columns.
type RawFileSources struct {
	// Metadata is the full metadata column (file_storage_urls). It may be a native
	// sequence, JSON bytes, a JSON string, or a double encoded JSON string.
	Metadata any
	// Locators is the simple locator column (file_urls).
	Locators []string
	// Legacy is the pre-migration metadata column (file_data).
	Legacy any
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	EndpointType  EndpointType `json:"endpoint_type"`
	TotalFiles    int          `json:"total_files"`
	UserID        *string      `json:"user_id,omitempty"`
	DocumentID    *string      `json:"document_id,omitempty"`
	BatchID       *string      `json:"batch_id,omitempty"`
	InitialStatus JobStatus    `json:"initial_status,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.EndpointType.Valid() {
		return errors.New("invalid endpoint type")
	}
	if r.TotalFiles < 0 {
		return errors.New("total files must be >= 0")
	}
	if r.InitialStatus != "" && !r.InitialStatus.Valid() {
		return errors.New("invalid initial status")
	}
	return nil
}

// JobUpdate lists the fields merged by a partial job update. Nil fields are left untouched.
type JobUpdate struct {
	Status         *JobStatus
	Result         json.RawMessage
	Error          *string
	ClearError     bool
	Progress       *int
	ProcessedFiles *int
	TotalFiles     *int
	RetryCount     *int
}

// UpdateGuard fences a conditional update on the current state of the row.
type UpdateGuard struct {
	// Status the job must still be in. Legacy spellings of it match too.
	Status JobStatus
	// ClaimedAt, when set, must equal the claim stamp the caller holds.
	ClaimedAt *time.Time
}

// ClaimGuard fences worker writes to the claim that handed out j.
func ClaimGuard(j *Job) UpdateGuard {
	return UpdateGuard{Status: JobStatusProcessing, ClaimedAt: j.ClaimedAt}
}

// StatusUpdate is a convenience constructor for an update that only moves the status.
func StatusUpdate(s JobStatus) JobUpdate {
	return JobUpdate{Status: &s}
}

// WithProgress sets processed files and progress on the update.
func (u JobUpdate) WithProgress(processed, progress int) JobUpdate {
	u.ProcessedFiles = &processed
	u.Progress = &progress
	return u
}

// WithTotal sets total_files on the update.
func (u JobUpdate) WithTotal(total int) JobUpdate {
	u.TotalFiles = &total
	return u
}

// JobStats counts jobs per status.
type JobStats map[JobStatus]int

// JobStatusResponse is the payload returned to status pollers.
type JobStatusResponse struct {
	JobID          string          `json:"job_id"`
	Status         JobStatus       `json:"status"`
	Progress       int             `json:"progress"`
	TotalFiles     *int            `json:"total_files,omitempty"`
	ProcessedFiles *int            `json:"processed_files,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StatusResponse projects a job onto the poller payload. Result is only exposed on
// COMPLETED and error only on FAILED.
func (j *Job) StatusResponse() JobStatusResponse {
	resp := JobStatusResponse{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.TotalFiles > 0 {
		total, processed := j.TotalFiles, j.ProcessedFiles
		resp.TotalFiles = &total
		resp.ProcessedFiles = &processed
	}
	if j.Status == JobStatusCompleted && len(j.Result) > 0 {
		resp.Result = j.Result
	}
	if j.Status == JobStatusFailed && j.Error != nil && *j.Error != "" {
		resp.Error = j.Error
	}
	return resp
}

// LookupKind tags the outcome of a job read.
type LookupKind int

const (
	// LookupFound means the job exists and is visible to the caller.
	LookupFound LookupKind = iota
	// LookupNotFound means the job does not exist or belongs to someone else.
	LookupNotFound
	// LookupTransientFailure means the store could not be reached; retrying may help.
	LookupTransientFailure
	// LookupPermanentFailure means the store rejected the read.
	LookupPermanentFailure
)

// String implements fmt.Stringer.
func (k LookupKind) String() string {
	switch k {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	case LookupTransientFailure:
		return "transient_failure"
	case LookupPermanentFailure:
		return "permanent_failure"
	}
	return "unknown"
}

// LookupResult is the typed result of reading one job.
type LookupResult struct {
	Kind LookupKind
	Job  *Job
	Err  error
}

// Found wraps a job in a LookupResult.
func Found(j *Job) LookupResult { return LookupResult{Kind: LookupFound, Job: j} }

// NotFound returns a LookupResult for a missing job.
func NotFound() LookupResult { return LookupResult{Kind: LookupNotFound} }
