// Package email delivers operator alerts about the suite's login session: a persisted
// session that stopped working, or a login attempt that failed.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/storefront-e2e/internal/obs"
)

// Alerter delivers alerts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// Notify sends a through alerter. Delivery failures are logged and never returned.
func Notify(ctx context.Context, alerter Alerter, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	if a.AttemptID == "" {
		a.AttemptID = obs.AttemptIDFromContext(ctx)
	}
	log := obs.From(ctx).With("pkg", "email")
	if alerter == nil {
		log.Warn("alert_dropped", "kind", a.Kind, "reason", "no alerter configured")
		return
	}
	if err := alerter.Alert(ctx, a); err != nil {
		log.Error("alert_failed", "kind", a.Kind, "error", err)
		return
	}
	log.Info("alert_sent", "kind", a.Kind)
}

// MockAlerter captures alerts for tests and local runs. When an outbox directory is
// configured every alert is also written there as one JSON file.
type MockAlerter struct {
	mu        sync.Mutex
	Alerts    []Alert
	outboxDir string
	seq       uint64
	// Err, when set, is returned from Alert after capturing.
	Err error
}

// NewMockAlerter creates a capturing alerter. outboxDir may be empty.
func NewMockAlerter(outboxDir string) *MockAlerter {
	if outboxDir != "" {
		if err := os.MkdirAll(outboxDir, 0o755); err != nil {
			obs.Pkg("email").Warn("outbox_unavailable", "dir", outboxDir, "error", err)
			outboxDir = ""
		}
	}
	return &MockAlerter{outboxDir: outboxDir}
}

// Alert captures the alert instead of sending it.
func (m *MockAlerter) Alert(ctx context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, a)

	subject, _ := renderAlert(a)
	obs.From(ctx).With("pkg", "email").Warn("alert_captured",
		"kind", a.Kind,
		"subject", subject,
		"origin", a.Origin,
		"stage", a.Stage,
		"reason", a.Reason,
	)

	if err := m.writeOutbox(a); err != nil {
		return err
	}
	return m.Err
}

// Last returns the most recent alert, or the zero value.
func (m *MockAlerter) Last() Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Alerts) == 0 {
		return Alert{}
	}
	return m.Alerts[len(m.Alerts)-1]
}

// Count returns the number of captured alerts.
func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

// CountKind returns the number of captured alerts of kind.
func (m *MockAlerter) CountKind(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.Alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func (m *MockAlerter) writeOutbox(a Alert) error {
	if m.outboxDir == "" {
		return nil
	}
	m.seq++

	fileName := fmt.Sprintf("%020d-%s-%s.json", m.seq, sanitizeOutboxComponent(string(a.Kind)), sanitizeOutboxComponent(a.AttemptID))
	finalPath := filepath.Join(m.outboxDir, fileName)
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal outbox alert: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var outboxSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

func sanitizeOutboxComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	return outboxSanitizePattern.ReplaceAllString(safe, "_")
}
