package policy

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyPrompt   = errors.New("prompt is required")
	ErrPromptTooLong = errors.New("prompt too long")
)

// CheckPrompt validates a prompt before it is queued. maxRunes <= 0 disables
// the length check.
func CheckPrompt(prompt string, maxRunes int) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if maxRunes > 0 {
		if n := utf8.RuneCountInString(prompt); n > maxRunes {
			return fmt.Errorf("%w: %d runes, limit %d", ErrPromptTooLong, n, maxRunes)
		}
	}
	return nil
}
