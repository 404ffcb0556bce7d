// Package otp pulls the storefront's six-digit login code out of a mailbox message and
// polls the mailbox until such a message arrives.
package otp

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/mailbox"
)

// ErrNotFound means the message holds no plain-text part or no code.
var ErrNotFound = errs.New(errs.NotFound, "no one-time code found")

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// ExtractCode returns the first six-digit code in the message's plain-text body.
func ExtractCode(msg *mailbox.Message) (string, error) {
	if msg == nil {
		return "", ErrNotFound
	}
	body, ok := plainText(msg.Payload, true)
	if !ok {
		return "", ErrNotFound
	}
	return FindCode(body)
}

// FindCode returns the first six-digit run bounded by word boundaries in text.
func FindCode(text string) (string, error) {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNotFound
	}
	return m[1], nil
}

// plainText walks the MIME tree depth-first in order and returns the first decodable
// text/plain body. Only a single-part payload without a declared type counts as plain
// text; parts inside a multipart must say text/plain.
func plainText(p mailbox.Part, top bool) (string, bool) {
	if len(p.Parts) > 0 {
		for _, child := range p.Parts {
			if body, ok := plainText(child, false); ok {
				return body, true
			}
		}
		return "", false
	}

	if !isPlain(p.MimeType, top) || p.Data == "" {
		return "", false
	}
	body, err := decodeBody(p.Data)
	if err != nil {
		return "", false
	}
	return body, true
}

func isPlain(mimeType string, allowUntyped bool) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt == "text/plain" || (allowUntyped && mt == "")
}

// decodeBody accepts base64url with or without padding.
func decodeBody(data string) (string, error) {
	data = strings.TrimSpace(data)
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
