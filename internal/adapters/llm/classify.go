package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
)

// Reasons recorded on the ARCHIVE default.
const (
	ReasonUnexpectedFormat = "Classification failed - routing to archive"
	ReasonAllAttemptsFail  = "All classification attempts failed - routing to archive"
)

// Analysis defaults.
const (
	SummaryUnexpectedFormat = "Analysis completed but format was unexpected"
	RiskUnexpectedFormat    = "Please review this document manually"
	SummaryFailed           = "Failed to analyze this topic"
	RiskFailed              = "Unable to determine - please review manually"
)

var (
	_ core.Classifier = (*Client)(nil)
	_ core.Analyzer   = (*Client)(nil)
)

// decodeObject parses content as a JSON object. Anything else is an attempt failure.
func decodeObject(content []byte) (map[string]any, error) {
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse completion json: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("completion is %T, not an object", doc)
	}
	return obj, nil
}

// Classify routes text to INBOX or ARCHIVE. Transport and parse failures are retried; a
// well-formed response that fails validation yields the ARCHIVE default at once.
func (c *Client) Classify(ctx context.Context, text string) model.Classification {
	var out model.Classification
	ok := c.attempt(ctx, "classify", func(ctx context.Context) (bool, error) {
		content, err := c.complete(ctx, routingPrompt, text)
		if err != nil {
			return false, err
		}
		doc, err := decodeObject(content)
		if err != nil {
			return false, err
		}
		if err := validate(classificationSchema, doc); err != nil {
			c.logger.WarnContext(ctx, "unexpected classification format, routing to archive", "error", err)
			out = model.ArchiveClassification(ReasonUnexpectedFormat)
			return true, nil
		}
		if err := json.Unmarshal(content, &out); err != nil {
			return false, fmt.Errorf("decode classification: %w", err)
		}
		if out.Urgency == "" {
			out.Urgency = "LOW"
		}
		c.logger.InfoContext(ctx, "document routed",
			"routing", out.Routing,
			"channel", out.Channel,
			"urgency", out.Urgency,
		)
		return true, nil
	})
	if !ok {
		c.logger.ErrorContext(ctx, "all classification attempts failed, routing to archive")
		return model.ArchiveClassification(ReasonAllAttemptsFail)
	}
	return out
}

// Analyze produces the structured analysis of text. Field names are resolved through the
// configured mapping expressions.
func (c *Client) Analyze(ctx context.Context, text string, hints model.AnalyzeHints) model.Analysis {
	var out model.Analysis
	user := analysisUserPrompt(text, hints)
	ok := c.attempt(ctx, "analyze", func(ctx context.Context) (bool, error) {
		content, err := c.complete(ctx, analysisPrompt, user)
		if err != nil {
			return false, err
		}
		doc, err := decodeObject(content)
		if err != nil {
			return false, err
		}
		if err := validate(analysisSchema, doc); err != nil {
			c.logger.WarnContext(ctx, "unexpected analysis format", "error", err)
			out = model.FallbackAnalysis(SummaryUnexpectedFormat, RiskUnexpectedFormat)
			return true, nil
		}
		out = c.mapAnalysis(doc)
		c.logger.InfoContext(ctx, "document analyzed", "actionable_items", len(out.ActionableItems))
		return true, nil
	})
	if !ok {
		c.logger.ErrorContext(ctx, "all analysis attempts failed")
		return model.FallbackAnalysis(SummaryFailed, RiskFailed)
	}
	return out
}

func (c *Client) mapAnalysis(doc map[string]any) model.Analysis {
	m := c.cfg.Mapping
	a := model.Analysis{
		Summary:         mapString(c.eval, m.Summary, doc),
		KeyData:         mapObject(c.eval, m.KeyData, doc),
		ActionableItems: mapObjects(c.eval, m.ActionableItems, doc),
		RiskIfIgnored:   mapString(c.eval, m.RiskIfIgnored, doc),
		Status:          mapString(c.eval, m.Status, doc),
	}
	if a.ActionableItems == nil {
		a.ActionableItems = []map[string]any{}
	}
	if a.Status == "" {
		a.Status = "OPEN"
	}
	return a
}
