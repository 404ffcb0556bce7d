package otp

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/kuitang/storefront-e2e/internal/mailbox"
)

func plainMessage(body string) *mailbox.Message {
	return &mailbox.Message{Payload: mailbox.Part{
		MimeType: "text/plain",
		Data:     base64.URLEncoding.EncodeToString([]byte(body)),
	}}
}

func TestExtractCode_Examples(t *testing.T) {
	t.Parallel()
	code, err := ExtractCode(plainMessage("Your code is 482913. Expires in 10 minutes."))
	if err != nil || code != "482913" {
		t.Fatalf("got %q, %v", code, err)
	}

	if _, err := ExtractCode(plainMessage("Order #1234567 shipped")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("seven-digit run must not match, got %v", err)
	}
	if _, err := ExtractCode(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nil message: %v", err)
	}
}

func TestExtractCode_NestedMultipart(t *testing.T) {
	t.Parallel()
	enc := base64.RawURLEncoding.EncodeToString
	msg := &mailbox.Message{Payload: mailbox.Part{
		MimeType: "multipart/mixed",
		Parts: []mailbox.Part{
			{MimeType: "multipart/related", Parts: []mailbox.Part{
				{MimeType: "text/html", Data: enc([]byte("<b>111111</b>"))},
			}},
			{MimeType: "multipart/alternative", Parts: []mailbox.Part{
				{MimeType: "text/plain", Data: ""},
				{MimeType: "text/plain; charset=UTF-8", Data: enc([]byte("Use 654321 to sign in"))},
				{MimeType: "text/plain", Data: enc([]byte("999999"))},
			}},
		},
	}}
	code, err := ExtractCode(msg)
	if err != nil || code != "654321" {
		t.Fatalf("got %q, %v", code, err)
	}
}

func TestExtractCode_NoPlainPart(t *testing.T) {
	t.Parallel()
	enc := base64.URLEncoding.EncodeToString
	multipart := &mailbox.Message{Payload: mailbox.Part{
		MimeType: "multipart/alternative",
		Parts: []mailbox.Part{
			{MimeType: "text/html", Data: enc([]byte("<p>Your code is 482913</p>"))},
		},
	}}
	if _, err := ExtractCode(multipart); !errors.Is(err, ErrNotFound) {
		t.Fatalf("html-only multipart: %v", err)
	}

	single := &mailbox.Message{Payload: mailbox.Part{MimeType: "text/html", Data: enc([]byte("482913"))}}
	if _, err := ExtractCode(single); !errors.Is(err, ErrNotFound) {
		t.Fatalf("html single part: %v", err)
	}
}

func TestExtractCode_UntypedSinglePartIsPlain(t *testing.T) {
	t.Parallel()
	msg := &mailbox.Message{Payload: mailbox.Part{Data: base64.URLEncoding.EncodeToString([]byte("code: 102938"))}}
	code, err := ExtractCode(msg)
	if err != nil || code != "102938" {
		t.Fatalf("got %q, %v", code, err)
	}
}

func TestExtractCode_UntypedChildPartIsIgnored(t *testing.T) {
	t.Parallel()
	enc := base64.URLEncoding.EncodeToString
	msg := &mailbox.Message{Payload: mailbox.Part{
		MimeType: "multipart/alternative",
		Parts: []mailbox.Part{
			{Data: enc([]byte("tracking 111111"))},
			{MimeType: "text/plain", Data: enc([]byte("Your code is 222222"))},
		},
	}}
	code, err := ExtractCode(msg)
	if err != nil || code != "222222" {
		t.Fatalf("got %q, %v", code, err)
	}

	untypedOnly := &mailbox.Message{Payload: mailbox.Part{
		MimeType: "multipart/mixed",
		Parts:    []mailbox.Part{{Data: enc([]byte("111111"))}},
	}}
	if _, err := ExtractCode(untypedOnly); !errors.Is(err, ErrNotFound) {
		t.Fatalf("untyped child part: %v", err)
	}
}

func TestExtractCode_SkipsUndecodablePart(t *testing.T) {
	t.Parallel()
	msg := &mailbox.Message{Payload: mailbox.Part{
		MimeType: "multipart/alternative",
		Parts: []mailbox.Part{
			{MimeType: "text/plain", Data: "!!not base64!!"},
			{MimeType: "text/plain", Data: base64.URLEncoding.EncodeToString([]byte("246810 is your code"))},
		},
	}}
	code, err := ExtractCode(msg)
	if err != nil || code != "246810" {
		t.Fatalf("got %q, %v", code, err)
	}
}

// A six-digit code surrounded by non-word text is always found, whatever the padding.
func testExtractCode_FindsBoundedCode(t *rapid.T) {
	code := rapid.StringMatching(`[0-9]{6}`).Draw(t, "code")
	prefix := rapid.StringMatching(`[A-Za-z ,.:]{0,30}`).Draw(t, "prefix")
	suffix := rapid.StringMatching(`[A-Za-z ,.:]{0,30}`).Draw(t, "suffix")
	body := prefix + " " + code + " " + suffix

	var data string
	if rapid.Bool().Draw(t, "padded") {
		data = base64.URLEncoding.EncodeToString([]byte(body))
	} else {
		data = base64.RawURLEncoding.EncodeToString([]byte(body))
	}
	got, err := ExtractCode(&mailbox.Message{Payload: mailbox.Part{MimeType: "text/plain", Data: data}})
	if err != nil {
		t.Fatalf("ExtractCode(%q): %v", body, err)
	}
	if got != code {
		t.Fatalf("got %q, want %q", got, code)
	}
}

func TestExtractCode_FindsBoundedCode(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testExtractCode_FindsBoundedCode)
}

// Digit runs that are not exactly six long never yield a code.
func testFindCode_RejectsOtherLengths(t *rapid.T) {
	n := rapid.IntRange(1, 20).Filter(func(v int) bool { return v != 6 }).Draw(t, "len")
	run := rapid.StringMatching(`[0-9]{`+strconv.Itoa(n)+`}`).Draw(t, "run")
	text := "ref " + run + " end"
	if _, err := FindCode(text); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindCode(%q) should be not found, got %v", text, err)
	}
}

func TestFindCode_RejectsOtherLengths(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFindCode_RejectsOtherLengths)
}

// Digits glued to letters are not word-bounded.
func TestFindCode_RequiresWordBoundary(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"abc123456", "123456xyz", "_123456_"} {
		if _, err := FindCode(text); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindCode(%q) = %v, want not found", text, err)
		}
	}
	if code, _ := FindCode("first 111111 then 222222"); code != "111111" {
		t.Fatalf("first match should win, got %q", code)
	}
	if code, _ := FindCode(strings.Repeat("-", 3) + "333333"); code != "333333" {
		t.Fatalf("punctuation is a boundary, got %q", code)
	}
}
