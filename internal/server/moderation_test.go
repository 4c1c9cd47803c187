package server

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-relay/internal/config"
)

func moderationServer() *Server {
	return New(nil, config.Default(), nil)
}

func TestValidatePromptFormat(t *testing.T) {
	cases := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{"valid", "add a red balloon", false},
		{"missing", "", true},
		{"whitespace only", "   \t  ", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 501), true},
		{"exactly max", strings.Repeat("a", 500), false},
		{"no alphanumeric", "!!! ???", true},
		{"short after trim", "  a  ", true},
		{"two multibyte runes", "ü2", true},
		{"three multibyte runes", "üß3", false},
		{"max multibyte runes", strings.Repeat("ü", 499) + "x", false},
		{"over max multibyte runes", strings.Repeat("ü", 500) + "x", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePromptFormat(tc.prompt)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, kindValidation, errorKind(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckPromptBlocksWords(t *testing.T) {
	s := moderationServer()
	result := s.checkPrompt("make the sky a KILLer shade of red", 0, 0)
	require.True(t, result.Flagged)
	assert.Equal(t, "blocked word: kill", result.Reason)
	assert.Empty(t, result.CleanedPrompt)
}

func TestCheckPromptBlocksPatterns(t *testing.T) {
	s := moderationServer()
	cases := []struct {
		prompt string
		reason string
	}{
		{"shoot the man on the left", "violence against a person"},
		{"a naked woman by the lake", "nudity"},
		{"make it more sexy", "explicit content"},
		{"a child in danger near the cliff", "child in danger"},
	}
	for _, tc := range cases {
		result := s.checkPrompt(tc.prompt, 0, 0)
		require.True(t, result.Flagged, "prompt %q should be flagged", tc.prompt)
		assert.Equal(t, tc.reason, result.Reason)
	}
}

func TestCheckPromptIsDeterministic(t *testing.T) {
	s := moderationServer()
	first := s.checkPrompt("add   a	 small   boat", 0, 0)
	second := s.checkPrompt("add   a	 small   boat", 0, 0)
	assert.Equal(t, first, second)
}

func TestCheckPromptCleansWhitespace(t *testing.T) {
	s := moderationServer()
	result := s.checkPrompt("  add \t a   rainbow \n over the   hills ", 0, 0)
	require.False(t, result.Flagged)
	assert.Equal(t, "add a rainbow over the hills", result.CleanedPrompt)
}

func TestCheckPromptTruncatesByRune(t *testing.T) {
	s := moderationServer()
	result := s.checkPrompt("x1 "+strings.Repeat("ü", 600), 0, 0)
	require.False(t, result.Flagged)
	assert.Equal(t, 500, len([]rune(result.CleanedPrompt)))
	assert.True(t, utf8.ValidString(result.CleanedPrompt))
}

func TestCheckPromptAllowsBenign(t *testing.T) {
	s := moderationServer()
	result := s.checkPrompt("paint the house purple", 0, 0)
	require.False(t, result.Flagged)
	assert.Equal(t, "paint the house purple", result.CleanedPrompt)
}
