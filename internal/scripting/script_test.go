package scripting

import (
	"context"
	"errors"
	"testing"

	"github.com/jonathan/content-pipeline/internal/llm"
	"github.com/jonathan/content-pipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	reply    string
	err      error
	received []llm.Message
}

func (f *fakeClient) Chat(_ context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	f.received = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func (f *fakeClient) Close() error { return nil }

var testPersona = &types.Persona{
	ID:           "p1",
	Name:         "Barista Bea",
	Traits:       []string{"warm", "nerdy"},
	WritingStyle: "short punchy sentences",
	TopicFocus:   []string{"coffee"},
}

func TestGenerateScript_ParsesJSON(t *testing.T) {
	client := &fakeClient{reply: "```json\n" + `{
		"title": "Why Cold Brew Hits Different",
		"script": "Cold brew is smoother. Here's why.",
		"description": "The science of cold brew.",
		"hashtags": ["#ColdBrew", "coffee", "coffee", "barista life"]
	}` + "\n```"}

	result, err := GenerateScript(context.Background(), client, testPersona, "cold brew", types.ScriptOptions{
		TargetSeconds: 20,
		IncludeHook:   true,
	})
	require.NoError(t, err)
	assert.False(t, result.Fallback)
	assert.Equal(t, "Why Cold Brew Hits Different", result.Title)
	assert.Equal(t, "Cold brew is smoother. Here's why.", result.Script)
	assert.Equal(t, []string{"coldbrew", "coffee", "baristalife"}, result.Hashtags)

	require.Len(t, client.received, 2)
	assert.Equal(t, llm.RoleSystem, client.received[0].Role)
	assert.Contains(t, client.received[0].Content, "Barista Bea")
	assert.Contains(t, client.received[0].Content, "about 20 seconds (roughly 50 words)")
	assert.Contains(t, client.received[0].Content, "hook")
	assert.Equal(t, "Topic: cold brew", client.received[1].Content)
}

func TestGenerateScript_FillsMissingMetadata(t *testing.T) {
	client := &fakeClient{reply: `Sure! {"script": "Espresso is just pressure and patience."}`}

	result, err := GenerateScript(context.Background(), client, testPersona, "espresso basics", types.ScriptOptions{})
	require.NoError(t, err)
	assert.False(t, result.Fallback)
	assert.Equal(t, "Espresso basics", result.Title)
	assert.Equal(t, "Espresso is just pressure and patience.", result.Description)
	assert.Equal(t, []string{"espresso", "basics"}, result.Hashtags)
}

func TestGenerateScript_FallbackOnFreeText(t *testing.T) {
	client := &fakeClient{reply: "Coffee was discovered by goats. True story."}

	result, err := GenerateScript(context.Background(), client, testPersona, "coffee history", types.ScriptOptions{})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, "Coffee was discovered by goats. True story.", result.Script)
	assert.NotEmpty(t, result.Title)
	assert.NotEmpty(t, result.Description)
	assert.Equal(t, []string{"coffee", "history"}, result.Hashtags)
}

func TestGenerateScript_FallbackOnEmptyScriptField(t *testing.T) {
	client := &fakeClient{reply: `{"title": "Nothing", "script": ""}`}

	result, err := GenerateScript(context.Background(), client, nil, "latte art", types.ScriptOptions{})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.NotEmpty(t, result.Script)
}

func TestGenerateScript_EmptyReplyStillHasScript(t *testing.T) {
	client := &fakeClient{reply: "   "}

	result, err := GenerateScript(context.Background(), client, testPersona, "decaf", types.ScriptOptions{})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, "Here is what you need to know about decaf.", result.Script)
}

func TestGenerateScript_TransportError(t *testing.T) {
	cause := &llm.APICallError{Message: "boom"}
	client := &fakeClient{err: cause}

	_, err := GenerateScript(context.Background(), client, testPersona, "decaf", types.ScriptOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
}

func TestGenerateScript_BlockedReplyFallsBack(t *testing.T) {
	client := &fakeClient{err: &llm.ParseError{Message: "no candidates in response"}}

	result, err := GenerateScript(context.Background(), client, testPersona, "decaf", types.ScriptOptions{})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, "Here is what you need to know about decaf.", result.Script)
}

func TestFallbackScript(t *testing.T) {
	result := fallbackScript("", "")
	assert.Equal(t, "Here is what you need to know about today's topic.", result.Script)
	assert.Equal(t, "Here is what you need to know about today's topic", result.Title)
	assert.Empty(t, result.Hashtags)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := "the quick brown fox jumps over the lazy dog"
	got := truncate(long, 20)
	assert.LessOrEqual(t, len(got), 20)
	assert.Equal(t, "the quick brown...", got)
}
