package server

import (
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errValidation("username must be 3-32 characters: letters, digits, underscore, hyphen")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errValidation("password must be at least 8 characters")
	}
	if len(password) > 128 {
		return errValidation("password must be 128 characters or fewer")
	}
	if strings.TrimSpace(password) != password {
		return errValidation("password cannot start or end with whitespace")
	}
	return nil
}
