package service

import (
	"fmt"
	"html"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"task-management-api/internal/model"
	"task-management-api/internal/util"
	"task-management-api/pkg/apierror"
)

const (
	maxEmailLength    = 254
	maxFullNameLength = 100
	// bcrypt ignores everything past this many bytes.
	maxPasswordBytes = 72
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)
	stripTags       = bluemonday.StrictPolicy()
)

func invalidInput(field string, message string) error {
	return apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", message, field, http.StatusBadRequest)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", invalidInput("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", invalidInput("email", "email is too long")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalidInput("email", "email is not a valid address")
	}

	return strings.ToLower(email), nil
}

func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if !usernamePattern.MatchString(username) {
		return "", invalidInput("username", "username must be 3-50 characters of letters, digits, '_', '.' or '-'")
	}
	return username, nil
}

func validatePassword(password string, minLength int) error {
	if minLength < 1 {
		minLength = 1
	}
	if utf8.RuneCountInString(password) < minLength {
		return invalidInput("password", fmt.Sprintf("password must be at least %d characters", minLength))
	}
	if len(password) > maxPasswordBytes {
		return invalidInput("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}

// sanitizeFullName drops markup and invisible runes and keeps the visible text.
func sanitizeFullName(raw string) (string, error) {
	name := util.CollapseSpaces(util.StripInvisible(html.UnescapeString(stripTags.Sanitize(raw))))
	if utf8.RuneCountInString(name) > maxFullNameLength {
		return "", invalidInput("full_name", fmt.Sprintf("full_name must be at most %d characters", maxFullNameLength))
	}
	return name, nil
}
