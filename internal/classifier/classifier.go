package classifier

import (
	"strings"

	"github.com/xaenox/legalsathi/internal/models"
)

type Intent string

const (
	IntentContract        Intent = "contract"
	IntentTaxReply        Intent = "tax_reply"
	IntentClauseReview    Intent = "clause_review"
	IntentDocumentSummary Intent = "document_summary"
	IntentExplain         Intent = "explain"
	IntentLawyerMode      Intent = "lawyer_mode"
	IntentNoticeReply     Intent = "notice_reply"
	IntentGeneral         Intent = "general"
)

// Classification is what the keyword rules detect in a message
type Classification struct {
	Intent       Intent
	Jurisdiction string
	Style        string
}

type Classifier interface {
	Classify(content string, task models.Task) Classification
}

type rule struct {
	intent   Intent
	keywords []string
}

// Order matters: the first matching rule wins
var intentRules = []rule{
	{IntentTaxReply, []string{"gst", "tax", "income tax", "vat", "hmrc", "irs", "scn", "section 143", "143(1)", "143(2)"}},
	{IntentNoticeReply, []string{"legal notice", "notice reply", "demand notice", "s138", "cheque bounce", "notice under"}},
	{IntentContract, []string{"draft", "contract", "agreement", "nda", "moa", "mou"}},
	{IntentClauseReview, []string{"clause", "redline", "loophole", "risk"}},
	{IntentDocumentSummary, []string{"summarize", "summarise", "summary", "highlight", "key points", "extract"}},
	{IntentExplain, []string{"explain", "what does", "meaning of", "law", "act"}},
	{IntentLawyerMode, []string{"advise", "strategy", "case law", "precedent", "legal research", "citation", "argument"}},
}

var jurisdictionRules = []struct {
	name     string
	keywords []string
}{
	{"India", []string{"india", "gst", "income tax", "section 138", "rera", "ipc", "crpc", "rupees", "inr"}},
	{"UK", []string{"united kingdom", "hmrc", "england", "wales"}},
	{"USA", []string{"usa", "united states", "california", "new york", "irs"}},
	{"UAE", []string{"uae", "dubai", "abu dhabi"}},
}

var styleRules = []struct {
	name     string
	keywords []string
}{
	{"formal", []string{"formal", "professional"}},
	{"concise", []string{"brief", "concise", "short"}},
	{"friendly", []string{"friendly", "simple", "plain language"}},
}

var taskIntents = map[models.Task]Intent{
	models.TaskSummarize: IntentDocumentSummary,
	models.TaskExplain:   IntentExplain,
	models.TaskDraft:     IntentContract,
	models.TaskReview:    IntentClauseReview,
}

// KeywordClassifier matches lowercase keywords; an explicit task overrides the detected intent
type KeywordClassifier struct {
	defaultJurisdiction string
}

func NewKeywordClassifier(defaultJurisdiction string) *KeywordClassifier {
	if defaultJurisdiction == "" {
		defaultJurisdiction = "India"
	}
	return &KeywordClassifier{defaultJurisdiction: defaultJurisdiction}
}

func (c *KeywordClassifier) Classify(content string, task models.Task) Classification {
	text := strings.ToLower(content)

	intent, ok := taskIntents[task]
	if !ok {
		intent = detectIntent(text)
	}

	jurisdiction := c.defaultJurisdiction
	for _, r := range jurisdictionRules {
		if containsAny(text, r.keywords) {
			jurisdiction = r.name
			break
		}
	}

	style := "legalese"
	for _, r := range styleRules {
		if containsAny(text, r.keywords) {
			style = r.name
			break
		}
	}

	return Classification{Intent: intent, Jurisdiction: jurisdiction, Style: style}
}

func detectIntent(text string) Intent {
	for _, r := range intentRules {
		if containsAny(text, r.keywords) {
			return r.intent
		}
	}
	return IntentGeneral
}

// containsAny matches single words on word boundaries (plural s ignored) and phrases as substrings
func containsAny(text string, keywords []string) bool {
	var words map[string]struct{}
	for _, kw := range keywords {
		if strings.ContainsAny(kw, " ()") {
			if strings.Contains(text, kw) {
				return true
			}
			continue
		}
		if words == nil {
			words = make(map[string]struct{})
			for _, w := range strings.FieldsFunc(text, isSeparator) {
				words[w] = struct{}{}
				words[strings.TrimSuffix(w, "s")] = struct{}{}
			}
		}
		if _, ok := words[kw]; ok {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
		return false
	default:
		return true
	}
}
