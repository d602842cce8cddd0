package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/service"
)

// DirectHandlers serve the synchronous routes. The caller waits while the pipeline runs.
type DirectHandlers struct {
	Svc    *service.DirectService
	Logger *slog.Logger
}

type classifyResponse struct {
	TotalFiles        int                              `json:"total_files"`
	SuccessfulRouting int                              `json:"successful_routing"`
	FailedRouting     int                              `json:"failed_routing"`
	InboxCount        int                              `json:"inbox_count"`
	ArchiveCount      int                              `json:"archive_count"`
	RoutingResults    []model.FileProcessingResult     `json:"routing_results"`
	ChannelSummary    map[string]*model.ChannelSummary `json:"channel_summary"`
	AvailableChannels []string                         `json:"available_channels"`
	Status            string                           `json:"status"`
	ProcessingTime    float64                          `json:"processing_time"`
}

type analyzeResponse struct {
	model.FileProcessingResult
	ProcessingTime float64 `json:"processing_time"`
}

// ClassifyDocuments handles POST /classify-documents.
func (h *DirectHandlers) ClassifyDocuments(w http.ResponseWriter, r *http.Request) {
	res, ok := h.run(w, r, model.EndpointClassify)
	if !ok {
		return
	}
	summary, channels := model.SummarizeChannels(res.Results)
	if channels == nil {
		channels = []string{}
	}
	resp := classifyResponse{
		TotalFiles:        res.TotalFiles,
		SuccessfulRouting: res.Successful,
		FailedRouting:     res.Failed,
		RoutingResults:    res.Results,
		ChannelSummary:    summary,
		AvailableChannels: channels,
		Status:            "success",
		ProcessingTime:    res.ProcessingTime,
	}
	if res.InboxCount != nil {
		resp.InboxCount = *res.InboxCount
		resp.ArchiveCount = *res.ArchiveCount
	}
	WriteJSON(w, http.StatusOK, resp)
}

// AnalyzeMultiple handles POST /analyze-multiple.
func (h *DirectHandlers) AnalyzeMultiple(w http.ResponseWriter, r *http.Request) {
	res, ok := h.run(w, r, model.EndpointAnalyze)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Analyze handles POST /analyze for exactly one file. A failed analysis is a 500.
func (h *DirectHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	files, ok := parseUploads(w, r, "file", h.Svc.Limits(), h.Logger)
	if !ok {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	if len(files) != 1 {
		writeServiceError(w, r, h.Logger, apperrors.ValidationField("file", "Exactly one file is required"))
		return
	}

	res, err := h.Svc.Run(r.Context(), model.EndpointAnalyze, files)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	file := res.Results[0]
	if file.Status != model.FileStatusSuccess {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "analysis_failed", Err: publicError(file.Error)})
		return
	}
	WriteJSON(w, http.StatusOK, analyzeResponse{FileProcessingResult: file, ProcessingTime: time.Since(start).Seconds()})
}

func (h *DirectHandlers) run(w http.ResponseWriter, r *http.Request, kind model.EndpointType) (*model.JobResult, bool) {
	files, ok := parseUploads(w, r, "files", h.Svc.Limits(), h.Logger)
	if !ok {
		return nil, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	res, err := h.Svc.Run(r.Context(), kind, files)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return nil, false
	}
	return res, true
}
