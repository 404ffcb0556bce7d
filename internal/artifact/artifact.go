// Package artifact captures best-effort debugging output (page HTML, screenshots) when a
// login attempt or a suite assertion fails. Nothing here ever fails the caller.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/s3client"
)

// Sink stores one named artifact.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (location string, err error)
}

// Page is what the recorder needs from a browser page.
type Page interface {
	Content() (string, error)
	Screenshot() ([]byte, error)
}

// Recorder writes artifacts to a Sink. A nil Recorder or nil Sink records nothing.
type Recorder struct {
	Sink Sink
}

// CapturePage stores <name>.html and <name>.png. Failures are logged at warn and dropped.
func (r *Recorder) CapturePage(ctx context.Context, name string, page Page) {
	if r == nil || r.Sink == nil || page == nil {
		return
	}
	log := obs.From(ctx).With("pkg", "artifact")

	if html, err := page.Content(); err != nil {
		log.Warn("artifact_html_failed", "name", name, "error", err)
	} else {
		r.put(ctx, name+".html", []byte(html), "text/html; charset=utf-8")
	}

	if png, err := page.Screenshot(); err != nil {
		log.Warn("artifact_screenshot_failed", "name", name, "error", err)
	} else {
		r.put(ctx, name+".png", png, "image/png")
	}
}

// Save stores arbitrary bytes under name.
func (r *Recorder) Save(ctx context.Context, name string, data []byte, contentType string) {
	if r == nil || r.Sink == nil {
		return
	}
	r.put(ctx, name, data, contentType)
}

func (r *Recorder) put(ctx context.Context, name string, data []byte, contentType string) {
	log := obs.From(ctx).With("pkg", "artifact")
	loc, err := r.Sink.Put(ctx, sanitize(name), data, contentType)
	if err != nil {
		log.Warn("artifact_store_failed", "name", name, "error", err)
		return
	}
	log.Info("artifact_saved", "location", loc, "bytes", len(data))
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "..", "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '/':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.TrimLeft(name, "/")
}

// DirSink writes artifacts below a local directory.
type DirSink struct {
	Dir string
}

func (d DirSink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	path := filepath.Join(d.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifact: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return path, nil
}

// S3Sink uploads artifacts under a key prefix.
type S3Sink struct {
	Client *s3client.Client
	Prefix string
}

func (s S3Sink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := strings.TrimSuffix(s.Prefix, "/")
	if key != "" {
		key += "/"
	}
	key += name
	if err := s.Client.PutObject(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return s.Client.URI(key), nil
}
