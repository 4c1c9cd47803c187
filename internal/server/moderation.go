package server

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const (
	promptMinLength = 3
	promptMaxLength = 500
)

// ModerationResult is the outcome of a prompt safety check. CleanedPrompt is
// the normalized form that reaches the image service when Flagged is false.
type ModerationResult struct {
	Flagged       bool
	Reason        string
	CleanedPrompt string
}

var blockedWords = []string{
	"kill",
	"murder",
	"behead",
	"torture",
	"mutilate",
	"rape",
	"suicide",
	"gore",
}

var blockedPatterns = []struct {
	reason  string
	pattern *regexp.Regexp
}{
	{
		reason:  "violence against a person",
		pattern: regexp.MustCompile(`(?i)\b(stab|shoot|strangle|beat|hurt|attack)\w*\s+(the\s+|a\s+|an\s+)?(man|woman|person|people|child|children|kid|boy|girl)\b`),
	},
	{
		reason:  "nudity",
		pattern: regexp.MustCompile(`(?i)\b(naked|nude|undressed|topless)\s+\w*\s*(man|woman|person|people|child|children|kid|boy|girl)\b`),
	},
	{
		reason:  "explicit content",
		pattern: regexp.MustCompile(`(?i)\b(sexual|sexy|porn\w*|erotic|xxx|nsfw)\b`),
	},
	{
		reason:  "child in danger",
		pattern: regexp.MustCompile(`(?i)\b(child|children|kid|kids|baby|babies|infant)\w*\s+(in\s+danger|drowning|bleeding|burning|trapped|abused)\b`),
	},
}

var alphanumeric = regexp.MustCompile(`[a-zA-Z0-9]`)

// validatePromptFormat rejects malformed prompts before they reach the
// moderation word lists or the image service.
func validatePromptFormat(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return errValidation("prompt is required")
	}
	// Limits count characters, not bytes, so multibyte prompts are
	// measured the same as ASCII ones.
	length := utf8.RuneCountInString(trimmed)
	if length < promptMinLength {
		return errValidation("prompt is too short")
	}
	if length > promptMaxLength {
		return errValidation("prompt is too long")
	}
	if !alphanumeric.MatchString(trimmed) {
		return errValidation("prompt must contain letters or numbers")
	}
	return nil
}

// checkPrompt runs the blocked-word and pattern filters. Deterministic for a
// given prompt: the word and pattern lists are fixed at build time. Every
// call is audit-logged best-effort; a failed audit write never fails the
// check.
func (s *Server) checkPrompt(prompt string, userID, roomID uint) ModerationResult {
	normalized := strings.ToLower(strings.TrimSpace(prompt))
	result := ModerationResult{}

	for _, word := range blockedWords {
		if strings.Contains(normalized, word) {
			result.Flagged = true
			result.Reason = "blocked word: " + word
			break
		}
	}
	if !result.Flagged {
		for _, blocked := range blockedPatterns {
			if blocked.pattern.MatchString(normalized) {
				result.Flagged = true
				result.Reason = blocked.reason
				break
			}
		}
	}
	if !result.Flagged {
		cleaned := strings.Join(strings.Fields(prompt), " ")
		if utf8.RuneCountInString(cleaned) > promptMaxLength {
			runes := []rune(cleaned)
			cleaned = string(runes[:promptMaxLength])
		}
		result.CleanedPrompt = cleaned
	}

	if err := s.auditModeration(prompt, result, userID, roomID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"room_id": roomID,
			"user_id": userID,
			"error":   err,
		}).Warn("moderation audit write failed")
	}
	return result
}
