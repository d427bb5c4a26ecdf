package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/legalsathi/internal/llm"
	"github.com/xaenox/legalsathi/internal/models"
)

func TestKeywordClassifier_Intent(t *testing.T) {
	c := NewKeywordClassifier("")

	cases := []struct {
		text string
		want Intent
	}{
		{"Please draft a rent agreement for my flat", IntentContract},
		{"I got a GST show cause notice", IntentTaxReply},
		{"Reply to this legal notice about a cheque bounce", IntentNoticeReply},
		{"Is there a loophole in this clause?", IntentClauseReview},
		{"Summarize the key points of this lease", IntentDocumentSummary},
		{"Explain the Consumer Protection Act", IntentExplain},
		{"Find precedent for anticipatory bail", IntentLawyerMode},
		{"hello", IntentGeneral},
		// "act" must not match inside "contractor"
		{"my contractor vanished", IntentGeneral},
		{"two agreements need review", IntentContract},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.text, "").Intent)
		})
	}
}

func TestKeywordClassifier_TaskOverrides(t *testing.T) {
	c := NewKeywordClassifier("")

	assert.Equal(t, IntentDocumentSummary, c.Classify("draft an NDA", models.TaskSummarize).Intent)
	assert.Equal(t, IntentExplain, c.Classify("anything", models.TaskExplain).Intent)
	assert.Equal(t, IntentContract, c.Classify("anything", models.TaskDraft).Intent)
	assert.Equal(t, IntentClauseReview, c.Classify("anything", models.TaskReview).Intent)
	assert.Equal(t, IntentContract, c.Classify("draft an NDA", "unknown-task").Intent)
}

func TestKeywordClassifier_JurisdictionAndStyle(t *testing.T) {
	c := NewKeywordClassifier("India")

	got := c.Classify("Explain HMRC penalties in brief", "")
	assert.Equal(t, "UK", got.Jurisdiction)
	assert.Equal(t, "concise", got.Style)

	got = c.Classify("A formal NDA for a company in Dubai", "")
	assert.Equal(t, "UAE", got.Jurisdiction)
	assert.Equal(t, "formal", got.Style)

	got = c.Classify("what is a will", "")
	assert.Equal(t, "India", got.Jurisdiction)
	assert.Equal(t, "legalese", got.Style)

	assert.Equal(t, "Global", NewKeywordClassifier("Global").Classify("hi", "").Jurisdiction)
}

func TestUserPrompt(t *testing.T) {
	p := UserPrompt(Classification{Intent: IntentContract, Jurisdiction: "India", Style: "friendly"}, "NDA between A and B")

	assert.Contains(t, p, "Draft a detailed legal agreement")
	assert.Contains(t, p, "Indian statutes")
	assert.Contains(t, p, "simple, friendly language")
	assert.Contains(t, p, "User Request:\nNDA between A and B")

	assert.Contains(t, TaskContext(Classification{Intent: "bogus"}), "Provide helpful legal assistance")
	assert.Equal(t, "Consider the laws and conventions of Singapore.", JurisdictionNote("Singapore"))
}

func TestBuildPrompt(t *testing.T) {
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	}
	cls := Classification{Intent: IntentExplain, Jurisdiction: "India", Style: "legalese"}

	msgs := BuildPrompt(cls, history, "What is RERA?")
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, SystemPrompt, msgs[0].Content)
	assert.Equal(t, history, msgs[1:3])
	assert.Equal(t, llm.RoleUser, msgs[3].Role)
	assert.True(t, strings.HasSuffix(msgs[3].Content, "What is RERA?"))

	assert.Len(t, BuildPrompt(cls, nil, "x"), 2)
}
