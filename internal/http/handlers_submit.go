package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/service"
)

const (
	// multipartMemory is how much of a form is held in memory before spilling to disk.
	multipartMemory = 32 << 20
	// multipartOverhead allows for boundaries and part headers on top of the file bytes.
	multipartOverhead = 1 << 20
)

// SubmitHandlers accepts document batches for the classify and analyze pipelines.
type SubmitHandlers struct {
	Svc    *service.IngestService
	Logger *slog.Logger
}

// Classify handles POST /classify-documents-async.
func (h *SubmitHandlers) Classify(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.EndpointClassify)
}

// Analyze handles POST /analyze-multiple-async.
func (h *SubmitHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.EndpointAnalyze)
}

func (h *SubmitHandlers) submit(w http.ResponseWriter, r *http.Request, endpoint model.EndpointType) {
	files, ok := parseUploads(w, r, "files", h.Svc.Limits(), h.Logger)
	if !ok {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	resp, err := h.Svc.Submit(r.Context(), service.SubmitRequest{
		EndpointType: endpoint,
		UserID:       OwnerFromContext(r.Context()),
		DocumentID:   r.FormValue("document_id"),
		BatchID:      r.FormValue("batch_id"),
		Files:        files,
	})
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// parseUploads reads the field parts of a multipart form under limits. On failure the
// error response is already written and ok is false.
func parseUploads(
	w http.ResponseWriter,
	r *http.Request,
	field string,
	limits service.IngestConfig,
	logger *slog.Logger,
) ([]service.UploadedFile, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxTotalBytes+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			writeSizeLimit(w, &service.SizeLimitError{Limit: limits.MaxTotalBytes})
			return nil, false
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return nil, false
	}

	headers := r.MultipartForm.File[field]
	if len(headers) > limits.MaxFiles {
		_ = r.MultipartForm.RemoveAll()
		writeServiceError(w, r, logger, apperrors.ValidationField(field,
			fmt.Sprintf("Maximum %d files allowed per request", limits.MaxFiles)))
		return nil, false
	}
	files, err := readUploads(headers, limits.MaxFileBytes)
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		writeServiceError(w, r, logger, err)
		return nil, false
	}
	return files, true
}

// readUploads loads each part into memory, refusing any file over maxFileBytes before
// reading it whole.
func readUploads(headers []*multipart.FileHeader, maxFileBytes int64) ([]service.UploadedFile, error) {
	files := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxFileBytes {
			return nil, &service.SizeLimitError{Filename: fh.Filename, Limit: maxFileBytes}
		}
		data, err := readPart(fh, maxFileBytes)
		if err != nil {
			return nil, err
		}
		files = append(files, service.UploadedFile{Filename: fh.Filename, Data: data})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader, maxFileBytes int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "Could not read %s", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "Could not read %s", fh.Filename)
	}
	if int64(len(data)) > maxFileBytes {
		return nil, &service.SizeLimitError{Filename: fh.Filename, Limit: maxFileBytes}
	}
	return data, nil
}

// isBodyTooLarge reports whether err came from the MaxBytesReader cap. The multipart
// reader does not always wrap the underlying error.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}
