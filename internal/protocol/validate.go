package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// E.164-style numbers: a plus, then 1-15 digits with no leading zero
var phoneNumberPattern = regexp.MustCompile(`^\+[1-9][0-9]{0,14}$`)

// IsValidPhoneNumber reports whether s is an acceptable destination number.
// This single predicate gates every send operation.
func IsValidPhoneNumber(s string) bool {
	return phoneNumberPattern.MatchString(s)
}

// MessagePayload is the caller-facing input for a text message send
type MessagePayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// ImagePayload carries either an embedded image data URL or a fetchable URL
type ImagePayload struct {
	PhoneNumber  string `json:"phoneNumber"`
	ImageDataURL string `json:"imageDataUrl"`
	ImageURL     string `json:"imageUrl"`
	Caption      string `json:"caption"`
}

// VideoPayload carries either an embedded video data URL or a fetchable URL
type VideoPayload struct {
	PhoneNumber  string `json:"phoneNumber"`
	VideoDataURL string `json:"videoDataUrl"`
	VideoURL     string `json:"videoUrl"`
	Caption      string `json:"caption"`
}

// DocumentPayload carries a document plus its file name
type DocumentPayload struct {
	PhoneNumber     string `json:"phoneNumber"`
	DocumentDataURL string `json:"documentDataUrl"`
	DocumentURL     string `json:"documentUrl"`
	DocumentName    string `json:"documentName"`
	Caption         string `json:"caption"`
}

// ValidateMessagePayload validates a text message send request
func ValidateMessagePayload(p MessagePayload) error {
	if !IsValidPhoneNumber(p.PhoneNumber) {
		return fmt.Errorf("invalid phone number: %s", p.PhoneNumber)
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message body must not be empty")
	}
	return nil
}

// ValidateImagePayload validates an image send request
func ValidateImagePayload(p ImagePayload) error {
	if !IsValidPhoneNumber(p.PhoneNumber) {
		return fmt.Errorf("invalid phone number: %s", p.PhoneNumber)
	}
	return validateMediaSource(p.ImageDataURL, p.ImageURL, "data:image/")
}

// ValidateVideoPayload validates a video send request
func ValidateVideoPayload(p VideoPayload) error {
	if !IsValidPhoneNumber(p.PhoneNumber) {
		return fmt.Errorf("invalid phone number: %s", p.PhoneNumber)
	}
	return validateMediaSource(p.VideoDataURL, p.VideoURL, "data:video/")
}

// ValidateDocumentPayload validates a document send request
func ValidateDocumentPayload(p DocumentPayload) error {
	if !IsValidPhoneNumber(p.PhoneNumber) {
		return fmt.Errorf("invalid phone number: %s", p.PhoneNumber)
	}
	if strings.TrimSpace(p.DocumentName) == "" {
		return fmt.Errorf("document name must not be empty")
	}
	// Documents accept any media family
	return validateMediaSource(p.DocumentDataURL, p.DocumentURL, "data:")
}

// validateMediaSource enforces that exactly one of an embedded data URL or a
// fetchable URL is present, and that an embedded payload matches the expected
// media family.
func validateMediaSource(dataURL, fetchURL, expectedPrefix string) error {
	switch {
	case dataURL == "" && fetchURL == "":
		return fmt.Errorf("either a data URL or a media URL is required")
	case dataURL != "" && fetchURL != "":
		return fmt.Errorf("provide a data URL or a media URL, not both")
	case dataURL != "" && !strings.HasPrefix(dataURL, expectedPrefix):
		return fmt.Errorf("data URL must start with %s", expectedPrefix)
	}
	return nil
}
