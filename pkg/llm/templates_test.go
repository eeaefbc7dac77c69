package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateManager(t *testing.T) {
	tm := NewTemplateManager()

	require.NoError(t, tm.Register("greeting", "Hello {{.Name}}!"))
	out, err := tm.Execute("greeting", map[string]string{"Name": "crew"})
	require.NoError(t, err)
	assert.Equal(t, "Hello crew!", out)

	require.NoError(t, tm.Register("greeting", "Morning {{.Name}}"))
	out, err = tm.Execute("greeting", map[string]string{"Name": "crew"})
	require.NoError(t, err)
	assert.Equal(t, "Morning crew", out)

	assert.Error(t, tm.Register("broken", "Hello {{.Name"))

	_, err = tm.Execute("nonexistent", nil)
	assert.ErrorContains(t, err, "not found")

	_, err = tm.Execute("greeting", map[string]string{})
	assert.Error(t, err, "missing keys must not render as <no value>")
}

func TestPromptBuilder(t *testing.T) {
	req := NewPromptBuilder().
		SetSystemPrompt("be brief").
		AddUserMessage("what's on site today?").
		BuildWithOptions(WithMaxTokens(300), WithTemperature(0.1), WithJSONResponse())

	assert.Equal(t, "be brief", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
	assert.Equal(t, 300, req.MaxTokens)
	assert.Equal(t, 0.1, req.Temperature)
	assert.True(t, req.JSONResponse)
}

func TestDefaultTemplates(t *testing.T) {
	tm, err := GetDefaultTemplates()
	require.NoError(t, err)

	classification, err := tm.Execute("intent_classification", map[string]interface{}{
		"Intents": []string{"schedule", "safety"},
		"Today":   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
		"Query":   "any incidents on level 3?",
	})
	require.NoError(t, err)
	assert.Contains(t, classification, "- schedule\n- safety")
	assert.Contains(t, classification, "Today is 2026-03-02")
	assert.Contains(t, classification, "Question: any incidents on level 3?")

	summary, err := tm.Execute("status_summary", map[string]interface{}{
		"MaxWords": 80,
		"Query":    "status?",
		"Lines":    []string{"whatsapp: pour delayed", "google_workspace: permit uploaded"},
	})
	require.NoError(t, err)
	assert.Contains(t, summary, "80 words")
	assert.Contains(t, summary, "- whatsapp: pour delayed\n- google_workspace: permit uploaded")
}
