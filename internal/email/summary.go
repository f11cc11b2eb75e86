package email

import (
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"

	"github.com/brandon/imap-gateway/pkg/types"
)

const (
	// PreviewLength is the number of body characters kept in a preview.
	PreviewLength = 100
	previewMarker = "..."

	defaultFrom    = "Unknown"
	defaultSubject = "(No Subject)"

	// dateLayout renders the fallback date like a JavaScript ISO string.
	dateLayout = "2006-01-02T15:04:05.000Z"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// headerValue returns the value of the first line in header starting with
// name followed by a colon, compared case-insensitively. Lines with an
// empty value do not match.
func headerValue(header, name string) (string, bool) {
	prefix := name + ":"
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
			continue
		}
		if value := strings.TrimSpace(line[len(prefix):]); value != "" {
			return value, true
		}
	}
	return "", false
}

// preview keeps the first PreviewLength characters of text and always
// appends the marker.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) > PreviewLength {
		runes = runes[:PreviewLength]
	}
	return string(runes) + previewMarker
}

// decodeWords expands RFC 2047 encoded words, keeping the raw value when
// decoding fails.
func decodeWords(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// buildSummary turns the buffered header subset and text part of one
// message into a summary with every field filled in.
func buildSummary(header, text string, now time.Time, decode bool) types.MessageSummary {
	summary := types.MessageSummary{
		From:    defaultFrom,
		Subject: defaultSubject,
		Date:    now.UTC().Format(dateLayout),
		Preview: preview(text),
	}

	if from, ok := headerValue(header, "From"); ok {
		summary.From = from
	}
	if subject, ok := headerValue(header, "Subject"); ok {
		summary.Subject = subject
	}
	if date, ok := headerValue(header, "Date"); ok {
		summary.Date = date
	}

	if decode {
		summary.From = decodeWords(summary.From)
		summary.Subject = decodeWords(summary.Subject)
	}
	return summary
}
