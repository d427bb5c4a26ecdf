package classifier

import (
	"fmt"
	"strings"

	"github.com/xaenox/legalsathi/internal/llm"
)

const SystemPrompt = "You are LegalSathi, an Indian AI legal assistant providing professional and lawful responses. " +
	"Do not invent statute text; mark uncertain references as [CITE_NEEDED]."

var intentContexts = map[Intent]string{
	IntentContract: "Draft a detailed legal agreement with clear clauses: parties, definitions, term, payment terms, " +
		"liability, indemnity, termination, dispute resolution and governing law. Use placeholders for names and " +
		"addresses and put a short summary at the top.",
	IntentTaxReply: "Draft a professional reply to the tax notice based on the facts provided: acknowledgement, " +
		"factual position, legal grounds, documents enclosed and next steps with timelines.",
	IntentNoticeReply: "Draft a reply to the legal notice. State the facts, deny or admit each allegation, " +
		"set out the legal position and the relief sought.",
	IntentClauseReview: "Review the clause below. Return the improved clause first, then a short explanation " +
		"of the risks removed and the protections added.",
	IntentDocumentSummary: "Summarize this legal document and highlight the main points, obligations, " +
		"deadlines and risks. Give a short actionable summary followed by bullet highlights.",
	IntentExplain: "Explain the law and its likely implications in plain language. Mention the relevant acts " +
		"and sections and practical next steps.",
	IntentLawyerMode: "Answer as a senior advocate preparing a research note: issues, applicable law, " +
		"leading precedents, arguments on both sides and a recommended strategy.",
	IntentGeneral: "Provide helpful legal assistance:",
}

var styleNotes = map[string]string{
	"formal":   "Use a formal, professional tone.",
	"concise":  "Keep the answer brief.",
	"friendly": "Use simple, friendly language a layperson can follow.",
	"legalese": "Use precise legal drafting language.",
}

// JurisdictionNote tells the model which legal system to assume
func JurisdictionNote(jurisdiction string) string {
	switch strings.ToLower(jurisdiction) {
	case "":
		return ""
	case "india":
		return "Consider Indian statutes and commonly accepted Indian drafting practice. Use INR where currency is involved."
	case "uk":
		return "Consider UK statutes and HMRC conventions."
	case "usa":
		return "Consider US federal law and note where state law may differ."
	default:
		return fmt.Sprintf("Consider the laws and conventions of %s.", jurisdiction)
	}
}

// TaskContext is the instruction block placed ahead of the user's text
func TaskContext(c Classification) string {
	ctx, ok := intentContexts[c.Intent]
	if !ok {
		ctx = intentContexts[IntentGeneral]
	}

	parts := []string{ctx}
	if note := JurisdictionNote(c.Jurisdiction); note != "" {
		parts = append(parts, note)
	}
	if note, ok := styleNotes[c.Style]; ok {
		parts = append(parts, note)
	}
	return strings.Join(parts, "\n")
}

// UserPrompt combines the task context with the user's request
func UserPrompt(c Classification, content string) string {
	return TaskContext(c) + "\n\nUser Request:\n" + content
}

// BuildPrompt assembles the system prompt, prior turns and the classified request.
// history must already be in chronological order.
func BuildPrompt(c Classification, history []llm.Message, content string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: UserPrompt(c, content)})
	return msgs
}
