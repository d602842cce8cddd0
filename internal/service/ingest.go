package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/observability/statsd"
)

// Ingest limits.
const (
	DefaultMaxFilesPerRequest = 30
	DefaultMaxFileBytes       = 100 << 20
	DefaultMaxTotalBytes      = 2000 << 20
	DefaultUploadWorkers      = 2

	classifySecondsPerFile = 10
	analyzeSecondsPerFile  = 15
)

// UploadedFile is one file of a submission.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// SubmitRequest is a batch of files to run through one pipeline.
type SubmitRequest struct {
	EndpointType model.EndpointType
	UserID       string
	DocumentID   string
	BatchID      string
	Files        []UploadedFile
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	JobID                string `json:"job_id"`
	Status               string `json:"status"`
	TotalFiles           int    `json:"total_files"`
	StatusEndpoint       string `json:"status_endpoint"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// SizeLimitError reports a submission over the per-file or total size limit.
type SizeLimitError struct {
	Filename string // empty when the total is over the limit
	Limit    int64
}

func (e *SizeLimitError) Error() string {
	mb := e.Limit >> 20
	if e.Filename == "" {
		return fmt.Sprintf("Total upload size exceeds %dMB", mb)
	}
	return fmt.Sprintf("File %s exceeds the %dMB limit", e.Filename, mb)
}

// IsTotal reports whether the total size, not a single file, was too large.
func (e *SizeLimitError) IsTotal() bool { return e.Filename == "" }

// IngestConfig bounds submissions.
type IngestConfig struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
	UploadWorkers int
	// StagingRoot receives files the blob store refused. Empty uses <tmp>/docflow_jobs.
	StagingRoot string
}

// IngestServiceOptions groups dependencies for IngestService.
type IngestServiceOptions struct {
	Repo      core.JobRepository  // Required
	Blobs     core.BlobStore      // Required
	Publisher core.ReadyPublisher // Optional: wakes idle workers
	Config    IngestConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// IngestService is the front door: it persists uploads and hands jobs to workers.
type IngestService struct {
	repo      core.JobRepository
	blobs     core.BlobStore
	publisher core.ReadyPublisher
	cfg       IngestConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewIngestService validates dependencies and applies default limits.
func NewIngestService(opts IngestServiceOptions) (*IngestService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	cfg := opts.Config
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFilesPerRequest
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = DefaultUploadWorkers
	}
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = filepath.Join(os.TempDir(), StagingDirName)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		repo:      opts.Repo,
		blobs:     opts.Blobs,
		publisher: opts.Publisher,
		cfg:       cfg,
		logger:    logger.With("component", "ingest_service"),
		metrics:   opts.Metrics,
	}, nil
}

// Limits returns the effective submission limits.
func (s *IngestService) Limits() IngestConfig { return s.cfg }

func (s *IngestService) validate(req SubmitRequest) error {
	return validateUploads(s.cfg, req.EndpointType, req.Files)
}

// validateUploads enforces the count and size limits shared by queued and direct runs.
func validateUploads(cfg IngestConfig, kind model.EndpointType, files []UploadedFile) error {
	if !kind.Valid() {
		return apperrors.ValidationField("endpoint_type", "invalid endpoint type")
	}
	if len(files) == 0 {
		return apperrors.ValidationField("files", "No files provided")
	}
	if len(files) > cfg.MaxFiles {
		return apperrors.ValidationField("files", "Maximum "+strconv.Itoa(cfg.MaxFiles)+" files per request")
	}
	var total int64
	for _, f := range files {
		size := int64(len(f.Data))
		if size > cfg.MaxFileBytes {
			return &SizeLimitError{Filename: f.Filename, Limit: cfg.MaxFileBytes}
		}
		total += size
	}
	if total > cfg.MaxTotalBytes {
		return &SizeLimitError{Limit: cfg.MaxTotalBytes}
	}
	return nil
}

// createdGuard fences the front door's writes to jobs still being uploaded.
var createdGuard = model.UpdateGuard{Status: model.JobStatusCreated}

// Submit creates a job, stores every file, records the references and only then marks
// the job READY. Workers never see a job whose references are missing.
func (s *IngestService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	create := &model.CreateJobRequest{
		EndpointType:  req.EndpointType,
		TotalFiles:    len(req.Files),
		InitialStatus: model.JobStatusCreated,
	}
	if req.UserID != "" {
		create.UserID = &req.UserID
	}
	if req.DocumentID != "" {
		create.DocumentID = &req.DocumentID
	}
	if req.BatchID != "" {
		create.BatchID = &req.BatchID
	}
	job, err := s.repo.Create(ctx, create)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	refs, err := s.store(ctx, job.ID, req.Files)
	if err == nil {
		err = s.repo.WriteFileReferences(ctx, job.ID, refs)
	}
	if err != nil {
		msg := "Failed to store file data: " + err.Error()
		upd := model.StatusUpdate(model.JobStatusFailed)
		upd.Error = &msg
		if ferr := s.repo.UpdateIf(ctx, job.ID, createdGuard, upd); ferr != nil {
			s.logger.WarnContext(ctx, "mark job failed", "job_id", job.ID, "error", ferr)
		}
		s.logger.ErrorContext(ctx, "store file data failed", "job_id", job.ID, "error", err)
		return nil, fmt.Errorf("store files for job %s: %w", job.ID, err)
	}

	ready := model.StatusUpdate(model.JobStatusReady).WithProgress(0, 0)
	if err := s.repo.UpdateIf(ctx, job.ID, createdGuard, ready); err != nil {
		if apperrors.GetCode(err) == "" {
			err = apperrors.Unavailable(err, "mark job "+job.ID+" ready")
		}
		return nil, err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReady(ctx, job.ID); err != nil {
			s.logger.WarnContext(ctx, "publish job ready failed", "job_id", job.ID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.Count("jobs.submitted", 1, map[string]string{"endpoint_type": string(req.EndpointType)})
	}

	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"endpoint_type", req.EndpointType,
		"files", len(refs),
	)
	perFile := classifySecondsPerFile
	if req.EndpointType == model.EndpointAnalyze {
		perFile = analyzeSecondsPerFile
	}
	return &SubmitResponse{
		JobID:                job.ID,
		Status:               string(model.JobStatusCreated),
		TotalFiles:           len(req.Files),
		StatusEndpoint:       "/job/" + job.ID,
		EstimatedTimeSeconds: perFile * len(req.Files),
	}, nil
}

// store uploads files on a small pool. A file the blob store refuses is staged locally
// instead; references keep the submission order.
func (s *IngestService) store(ctx context.Context, jobID string, files []UploadedFile) ([]model.FileReference, error) {
	refs := make([]model.FileReference, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadWorkers)
	for i, f := range files {
		g.Go(func() error {
			size := int64(len(f.Data))
			ref := model.FileReference{Filename: f.Filename, Suffix: path.Ext(f.Filename), Size: &size}
			locator, err := s.blobs.Upload(gctx, jobID, f.Filename, f.Data)
			if err != nil {
				s.logger.WarnContext(gctx, "blob upload failed, staging locally",
					"job_id", jobID, "filename", f.Filename, "error", err)
				locator, err = s.stageLocal(jobID, i, f)
				if err != nil {
					return fmt.Errorf("store %s: %w", f.Filename, err)
				}
			}
			ref.Locator = locator
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *IngestService) stageLocal(jobID string, idx int, f UploadedFile) (string, error) {
	dir := StagingDir(s.cfg.StagingRoot, jobID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	p := filepath.Join(dir, stagedName(idx, f.Filename))
	if err := os.WriteFile(p, f.Data, 0o600); err != nil {
		return "", fmt.Errorf("write staged file: %w", err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve staged path: %w", err)
	}
	return abs, nil
}

// stagedName prefixes the upload's base name with its index so duplicates cannot collide.
func stagedName(idx int, filename string) string {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(filename, `\`, "/")))
	if name == "/" || name == "." {
		name = "file"
	}
	return strconv.Itoa(idx) + "_" + name
}
