package session

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrInvalidDataURL is returned when a stored preview cannot be split into
	// a header and a base64 payload.
	ErrInvalidDataURL = errors.New("invalid image data URL format")
	// ErrNoMimeType is returned when the header carries no usable MIME type.
	ErrNoMimeType = errors.New("could not determine image MIME type")
)

// EncodeDataURL renders raw bytes as a `data:<mime>;base64,<payload>` string.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a data URL on its first comma and extracts the MIME type
// from the `data:<mime>;...` header. Both checks are local and run before any
// network activity.
func ParseDataURL(dataURL string) (mimeType, payload string, err error) {
	parts := strings.SplitN(dataURL, ",", 2)
	if len(parts) != 2 {
		return "", "", ErrInvalidDataURL
	}

	header := parts[0]
	colon := strings.Index(header, ":")
	semi := strings.Index(header, ";")
	if colon < 0 || semi < 0 || semi <= colon+1 {
		return "", "", ErrNoMimeType
	}

	return header[colon+1 : semi], parts[1], nil
}
