package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/docflow/internal/data"
	"github.com/target/docflow/internal/domain/model"
)

// ErrNoFileData is returned when none of a job's reference columns yields a file.
var ErrNoFileData = model.ErrNoFileData

// referenceSource names a stored reference column in priority order.
type referenceSource string

const (
	sourceMetadata referenceSource = "file_storage_urls"
	sourceLocators referenceSource = "file_urls"
	sourceLegacy   referenceSource = "file_data"
)

// FileReferenceResolver turns a job's stored reference columns into canonical references.
type FileReferenceResolver struct {
	logger *slog.Logger
}

// NewFileReferenceResolver constructs a resolver. A nil logger uses slog.Default.
func NewFileReferenceResolver(logger *slog.Logger) *FileReferenceResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileReferenceResolver{logger: logger.With("component", "file_reference_resolver")}
}

// Resolve returns the references from the first non-empty, valid source: full metadata,
// then the simple locator list, then legacy metadata. Sources are never merged. A
// malformed source is logged and skipped.
func (r *FileReferenceResolver) Resolve(ctx context.Context, job *model.Job) ([]model.FileReference, error) {
	if job == nil {
		return nil, errors.New("resolve file references: nil job")
	}

	if refs, ok := r.fromDecoded(ctx, job.ID, sourceMetadata, data.DecodeFileReferences(job.Files.Metadata)); ok {
		return refs, nil
	}
	if refs := fromLocators(job.Files.Locators); len(refs) > 0 {
		r.logger.DebugContext(ctx, "file references resolved", "job_id", job.ID, "source", sourceLocators, "count", len(refs))
		return refs, nil
	}
	if refs, ok := r.fromDecoded(ctx, job.ID, sourceLegacy, data.DecodeFileReferences(job.Files.Legacy)); ok {
		return refs, nil
	}
	return nil, fmt.Errorf("%w for job %s", ErrNoFileData, job.ID)
}

func (r *FileReferenceResolver) fromDecoded(
	ctx context.Context,
	jobID string,
	src referenceSource,
	d data.Decoded,
) ([]model.FileReference, bool) {
	switch d.Outcome {
	case data.DecodeOK:
		r.logger.DebugContext(ctx, "file references resolved",
			"job_id", jobID,
			"source", src,
			"tier", d.Tier,
			"count", len(d.Refs),
		)
		return d.Refs, true
	case data.DecodeMalformed:
		r.logger.WarnContext(ctx, "malformed file references, trying next source",
			"job_id", jobID,
			"source", src,
			"error", d.Err,
		)
	}
	return nil, false
}

func fromLocators(locators []string) []model.FileReference {
	out := make([]model.FileReference, 0, len(locators))
	for _, l := range locators {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, model.FileReferenceFromLocator(l))
	}
	return out
}
