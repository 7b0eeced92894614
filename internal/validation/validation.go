package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"

	"courier/internal/constants"
	"courier/internal/errors"
)

// ValidatePhoneNumber validates phone number format and length
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeInvalidInput, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(cleaned) > constants.MaxPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateEmail performs a structural check on an e-mail address.
// Full RFC validation is the mail relay's problem; this rejects the
// obviously malformed.
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New(errors.ErrCodeInvalidInput, "email cannot be empty")
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return errors.New(errors.ErrCodeInvalidInput, "email must contain a local part and a domain")
	}
	if !strings.Contains(email[at+1:], ".") {
		return errors.New(errors.ErrCodeInvalidInput, "email domain is malformed")
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return errors.New(errors.ErrCodeInvalidInput, "email contains whitespace")
	}

	return nil
}

// ValidateContent checks the message body bounds. Content may be empty
// only when a media URL accompanies it.
func ValidateContent(content, mediaURL string) error {
	if content == "" && mediaURL == "" {
		return errors.New(errors.ErrCodeInvalidInput, "content is required unless mediaUrl is given")
	}
	if len(content) > constants.MaxContentLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("content too long (max %d bytes)", constants.MaxContentLength))
	}
	return nil
}

// ValidatePriority checks the 1..10 priority bounds.
func ValidatePriority(priority int) error {
	if priority < constants.MinPriority || priority > constants.MaxPriority {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("priority must be between %d and %d", constants.MinPriority, constants.MaxPriority))
	}
	return nil
}

// ValidateWebhookURL requires a well-formed absolute http(s) URL with
// a host. Used before persisting a webhook endpoint.
func ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return errors.New(errors.ErrCodeInvalidInput, "webhook URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "webhook URL is malformed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported webhook URL scheme: %s", u.Scheme))
	}
	if u.Host == "" {
		return errors.New(errors.ErrCodeInvalidInput, "webhook URL must be absolute")
	}

	return nil
}

// ValidateEventNames checks a subscription list against the known
// event set.
func ValidateEventNames(events []string, known []string) error {
	if len(events) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "at least one event is required")
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, e := range known {
		knownSet[e] = struct{}{}
	}

	for _, e := range events {
		if len(e) > constants.MaxEventNameLength {
			return errors.New(errors.ErrCodeInvalidInput, "event name too long")
		}
		if _, ok := knownSet[e]; !ok {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("unknown event: %s", e))
		}
	}

	return nil
}

// ValidateFilePath validates that a file path is safe and doesn't
// contain directory traversal attempts.
func ValidateFilePath(path string) error {
	if path == "" {
		return errors.New(errors.ErrCodeInvalidInput, "file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("path contains directory traversal: %s", path))
	}

	return nil
}
