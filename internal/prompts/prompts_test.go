package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSetHasEveryPrompt(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, set.Version)
	for _, name := range required {
		assert.Contains(t, set.Names(), name)
	}
}

func TestRenderPrependsPersonaAndSubstitutes(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	r, err := set.Render(Gathering, map[string]string{
		"Missing":   "email",
		"Extracted": "{}",
		"History":   "user: hi",
		"Message":   "my github is janedoe99",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(r.System, "You are Nader"))
	assert.Contains(t, r.System, "You still need:\nemail.")
	assert.Contains(t, r.User, "Their latest message: my github is janedoe99")
	assert.NotContains(t, r.User, "{{.")
	assert.Equal(t, set.Version, r.Version)
	assert.NotEmpty(t, r.Schema)
}

func TestRenderUnknownPrompt(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	_, err = set.Render("nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownPrompt))
}

func TestReply(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	got := set.Reply(ReplyLink, map[string]string{"Company": "Acme", "Link": "https://cal.com/acme"})
	assert.Equal(t, "here's the link to book a call with Acme: https://cal.com/acme", got)
	assert.Equal(t, "I don't recognize you. Use /start to begin or /refer if you have a referral code.", set.Reply(ReplyUnknownUser, nil))
	assert.Empty(t, set.Reply("missing", nil))
}

func TestParseRejectsIncompleteSet(t *testing.T) {
	_, err := Parse([]byte("version: v1\nprompts:\n  seed:\n    system: hi\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inquire")

	_, err = Parse([]byte("prompts: {}\n"))
	require.Error(t, err)
}

func TestLoadOverrideFile(t *testing.T) {
	data := strings.Replace(string(defaultSet), `version: "2025-03-14"`, `version: "custom"`, 1)
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", set.Version)

	set, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", set.Version)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	got := Format("hi {{.Name}}, {{.Name}} again {{.Other}}", map[string]string{"Name": "eve"})
	assert.Equal(t, "hi eve, eve again {{.Other}}", got)
}
