package llm

import (
	"strings"

	"github.com/target/docflow/internal/domain/model"
)

// Channels lists the fixed inbox channels a classification may name.
var Channels = []string{
	"TAX", "KVK", "LEGAL_COMPLIANCE", "PERMITS_LICENSES", "BANKING_FINANCIAL",
	"EMPLOYMENT_PAYROLL", "INTELLECTUAL_PROPERTY", "GENERAL_ACTIONABLE", "ARCHIVE",
}

var routingPrompt = `You route business correspondence for a compliance platform.

Decide whether a document belongs in the INBOX (the company must act on it) or should be
filed to ARCHIVE (no action). For INBOX documents create a short, actionable topic.

Inbox channels are fixed. Never invent new ones:
` + "- " + strings.Join(Channels, "\n- ") + `

Channel guide:
- TAX: VAT, corporate income tax, dividend tax, payroll and wage tax filings, assessments,
  payment reminders, refunds, penalties.
- KVK: chamber of commerce annual reports, UBO register, registration changes, director
  and shareholder changes.
- LEGAL_COMPLIANCE: statutory documents, board and shareholder meetings, regulatory change
  notices, information requests from authorities.
- PERMITS_LICENSES: permit applications, renewals, expiry notices, approvals and denials.
- BANKING_FINANCIAL: bank KYC or UBO requests, account changes, financing decisions and
  every non-tax payment reminder or overdue notice.
- EMPLOYMENT_PAYROLL: employee registration, social security, pension fund notices.
- INTELLECTUAL_PROPERTY: trademark and patent registrations, renewals, oppositions.
- GENERAL_ACTIONABLE: anything else with a clear required action.

Archive by default: plain invoices and receipts, bank statements, insurance policies,
certificates, informational letters, contracts without immediate action.

Payment reminders ("Reminder", "Overdue", "Pay within X days", "Mahnung", "Payment due")
are never archived. Route them to INBOX on BANKING_FINANCIAL.

Urgency is HIGH when the document has a deadline, penalties, "action required" wording or
an authority, bank or regulator as sender.

If you cannot name in one sentence the action the user must take, route to ARCHIVE.

Respond with strict JSON only:
{
  "channel": "one of the channels above",
  "topic_type": "short category such as VAT, CIT, UBO/Ownership Updates, or null",
  "topic_title": "short title with period when relevant such as Q1 2024 VAT, or null",
  "routing": "INBOX | ARCHIVE",
  "urgency": "HIGH | MEDIUM | LOW",
  "deadline": "YYYY-MM-DD or null",
  "authority": "sender or authority name",
  "reasoning": "why the document was routed this way"
}`

const analysisPrompt = `You are a compliance assistant. Analyze one official business or
government letter and explain what it means and what the company must do.

1. Identify what the document is about.
2. Explain the message in plain language.
3. Extract the important facts: amounts, dates, references, authorities.
4. List the exact actions required, based only on the document.
5. State the consequence of ignoring it.

Do not invent actions or give generic advice. Every action must be justified by the text.

Respond with strict JSON only:
{
  "language": "detected language",
  "document_type": "specific document type",
  "summary": "what the letter means, who sent it and why it matters",
  "key_details": {
    "authority": "issuing authority",
    "reference": "reference number or null",
    "amount": "amount or null",
    "deadline": "YYYY-MM-DD or null",
    "period": "tax or reporting period or null"
  },
  "required_actions": [
    {"action": "exact action with amounts and dates", "priority": 1}
  ],
  "risk_if_ignored": "concrete consequence"
}`

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// analysisUserPrompt prefixes the document text with the routing context, if any.
func analysisUserPrompt(text string, hints model.AnalyzeHints) string {
	var b strings.Builder
	b.WriteString("Channel: " + orNone(hints.Channel) + "\n")
	b.WriteString("Topic Type: " + orNone(hints.TopicType) + "\n")
	b.WriteString("Topic Title: " + orNone(hints.TopicTitle) + "\n\n")
	b.WriteString("Document text to analyze:\n")
	b.WriteString(text)
	b.WriteString("\n\nProvide a detailed analysis with specific actionable items for this topic.\n")
	return b.String()
}
