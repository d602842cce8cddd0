package model

import "time"

// FileStatus is the outcome of running the pipeline on one file.
type FileStatus string

const (
	FileStatusSuccess FileStatus = "success"
	FileStatusFailed  FileStatus = "failed"
	FileStatusError   FileStatus = "error"
	FileStatusTimeout FileStatus = "timeout"
)

// Routing is the CLASSIFY decision for a document.
type Routing string

const (
	// RoutingInbox marks a document as actionable.
	RoutingInbox Routing = "INBOX"
	// RoutingArchive marks a document as requiring no action. It is the safe default.
	RoutingArchive Routing = "ARCHIVE"
)

// ErrNoTextExtracted is the per-file error recorded when extraction yields only whitespace.
const ErrNoTextExtracted = "No text extracted"

// Classification is the output of the classify collaborator.
type Classification struct {
	Routing    Routing `json:"routing"`
	Channel    string  `json:"channel"`
	TopicType  *string `json:"topic_type"`
	TopicTitle *string `json:"topic_title"`
	Urgency    string  `json:"urgency"`
	Deadline   *string `json:"deadline"`
	Authority  *string `json:"authority"`
	Reasoning  string  `json:"reasoning"`
}

// ArchiveClassification is returned whenever classification cannot be trusted.
func ArchiveClassification(reason string) Classification {
	return Classification{
		Routing:   RoutingArchive,
		Channel:   string(RoutingArchive),
		Urgency:   "LOW",
		Reasoning: reason,
	}
}

// AnalyzeHints carries optional routing context into analysis.
type AnalyzeHints struct {
	Channel    string
	TopicType  string
	TopicTitle string
}

// Analysis is the output of the analyze collaborator. Fields beyond these are dropped.
type Analysis struct {
	Summary         string           `json:"summary"`
	KeyData         map[string]any   `json:"key_data"`
	ActionableItems []map[string]any `json:"actionable_items"`
	RiskIfIgnored   string           `json:"risk_if_ignored"`
	Status          string           `json:"status"`
}

// FallbackAnalysis is returned when analysis could not be produced.
func FallbackAnalysis(summary, risk string) Analysis {
	return Analysis{
		Summary: summary,
		KeyData: map[string]any{},
		ActionableItems: []map[string]any{{
			"type":     "ai_chat",
			"action":   "ask_general_ai",
			"label":    "Ask AI for Guidance",
			"priority": 1,
		}},
		RiskIfIgnored: risk,
		Status:        "OPEN",
	}
}

// FileProcessingResult is the outcome of the pipeline for one FileReference.
type FileProcessingResult struct {
	Filename string     `json:"filename"`
	Status   FileStatus `json:"status"`
	Error    string     `json:"error,omitempty"`

	// CLASSIFY
	Routing    Routing `json:"routing,omitempty"`
	Channel    string  `json:"channel,omitempty"`
	TopicType  *string `json:"topic_type,omitempty"`
	TopicTitle *string `json:"topic_title,omitempty"`
	Urgency    string  `json:"urgency,omitempty"`
	Deadline   *string `json:"deadline,omitempty"`
	Authority  *string `json:"authority,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`

	// ANALYZE
	Analysis      *Analysis `json:"analysis,omitempty"`
	ExtractedText string    `json:"extracted_text,omitempty"`
}

// ApplyClassification copies a classification onto the result.
func (r *FileProcessingResult) ApplyClassification(c Classification) {
	r.Routing = c.Routing
	if r.Routing == "" {
		r.Routing = RoutingArchive
	}
	r.Channel = c.Channel
	r.TopicType = c.TopicType
	r.TopicTitle = c.TopicTitle
	r.Urgency = c.Urgency
	r.Deadline = c.Deadline
	r.Authority = c.Authority
	r.Reasoning = c.Reasoning
}

// NewFailedFileResult builds a non-success result. CLASSIFY results default to ARCHIVE.
func NewFailedFileResult(kind EndpointType, filename string, status FileStatus, msg string) FileProcessingResult {
	r := FileProcessingResult{Filename: filename, Status: status, Error: msg}
	if kind == EndpointClassify {
		r.Routing = RoutingArchive
		r.Channel = string(RoutingArchive)
	}
	return r
}

// JobResult is the aggregate payload stored on a COMPLETED job.
type JobResult struct {
	TotalFiles     int                    `json:"total_files"`
	Successful     int                    `json:"successful"`
	Failed         int                    `json:"failed"`
	InboxCount     *int                   `json:"inbox_count,omitempty"`
	ArchiveCount   *int                   `json:"archive_count,omitempty"`
	Results        []FileProcessingResult `json:"results"`
	ProcessingTime float64                `json:"processing_time"`
}

// NewJobResult aggregates per-file results. Routing tallies are only kept for CLASSIFY.
func NewJobResult(kind EndpointType, results []FileProcessingResult, elapsed time.Duration) JobResult {
	out := JobResult{
		TotalFiles:     len(results),
		Results:        results,
		ProcessingTime: elapsed.Seconds(),
	}
	inbox, archive := 0, 0
	for i := range results {
		if results[i].Status == FileStatusSuccess {
			out.Successful++
		}
		switch results[i].Routing {
		case RoutingInbox:
			inbox++
		case RoutingArchive:
			archive++
		}
	}
	out.Failed = out.TotalFiles - out.Successful
	if kind == EndpointClassify {
		out.InboxCount = &inbox
		out.ArchiveCount = &archive
	}
	return out
}

// ChannelSummary tallies the CLASSIFY results routed to one channel.
type ChannelSummary struct {
	Count        int      `json:"count"`
	InboxCount   int      `json:"inbox_count"`
	ArchiveCount int      `json:"archive_count"`
	Files        []string `json:"files"`
	Topics       []string `json:"topics"`
	UrgentItems  int      `json:"urgent_items"`
}

// SummarizeChannels groups results by channel. Channels are listed in first-seen order.
func SummarizeChannels(results []FileProcessingResult) (map[string]*ChannelSummary, []string) {
	summary := make(map[string]*ChannelSummary)
	var order []string
	for _, r := range results {
		channel := r.Channel
		if channel == "" {
			channel = string(RoutingArchive)
		}
		cs, ok := summary[channel]
		if !ok {
			cs = &ChannelSummary{Files: []string{}, Topics: []string{}}
			summary[channel] = cs
			order = append(order, channel)
		}
		cs.Count++
		cs.Files = append(cs.Files, r.Filename)
		if r.Routing != RoutingInbox {
			cs.ArchiveCount++
			continue
		}
		cs.InboxCount++
		if r.TopicTitle != nil && *r.TopicTitle != "" {
			cs.Topics = append(cs.Topics, *r.TopicTitle)
		}
		if r.Urgency == "HIGH" {
			cs.UrgentItems++
		}
	}
	return summary, order
}
