package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/logutil"
	"github.com/kuitang/storefront-e2e/internal/mailbox"
	"github.com/kuitang/storefront-e2e/internal/obs"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 90 * time.Second

	// ClockSkew is subtracted from Request.After so a message stamped slightly before the
	// local clock's notion of "request sent" still counts.
	ClockSkew = 30 * time.Second
)

// Source is the mailbox operation the fetcher polls.
type Source interface {
	FetchLatest(ctx context.Context, query string) (*mailbox.Message, error)
}

// Request selects the message carrying the code.
type Request struct {
	Query string
	// After excludes messages received before it (minus ClockSkew). Zero accepts any.
	After time.Time
}

// Fetcher polls a Source until a fresh message with a code shows up.
type Fetcher struct {
	Source       Source
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Fetch polls until a code is found, the poll timeout passes or ctx ends.
// Errors that are not retryable (configuration, internal) abort at once. On timeout the
// returned error matches ErrNotFound and carries the last transient failure, if any.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (string, error) {
	log := obs.From(ctx).With("pkg", "otp")

	interval := f.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := f.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var lastErr error
	attempts := 0

	for {
		if err := limiter.Wait(pollCtx); err != nil {
			break
		}
		attempts++

		code, err := f.poll(pollCtx, req)
		if err == nil {
			log.Info("otp_found", "attempts", attempts, "code", logutil.MaskCode(code))
			return code, nil
		}
		if pollCtx.Err() != nil {
			break
		}
		if !errs.Retryable(err) {
			log.Error("otp_poll_aborted", "code", errs.CodeOf(err), "error", err)
			return "", err
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, mailbox.ErrNotFound) {
			lastErr = err
			log.Warn("otp_poll_failed", "attempts", attempts, "error", err)
		} else {
			log.Debug("otp_poll_empty", "attempts", attempts)
		}
	}

	if ctx.Err() != nil {
		return "", fmt.Errorf("otp: polling interrupted after %d attempts: %w", attempts, ctx.Err())
	}
	log.Warn("otp_poll_timeout", "attempts", attempts, "timeout", timeout)
	return "", &TimeoutError{Attempts: attempts, Last: lastErr}
}

func (f *Fetcher) poll(ctx context.Context, req Request) (string, error) {
	msg, err := f.Source.FetchLatest(ctx, req.Query)
	if err != nil {
		return "", err
	}
	if !req.After.IsZero() && !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(req.After.Add(-ClockSkew)) {
		obs.From(ctx).Debug("otp_message_stale", "pkg", "otp",
			"message_id", msg.ID,
			"received_at", msg.ReceivedAt,
			"after", req.After,
		)
		return "", ErrNotFound
	}
	return ExtractCode(msg)
}

// TimeoutError reports that no code arrived within the poll timeout.
type TimeoutError struct {
	Attempts int
	// Last is the most recent transient failure, nil when every poll came back empty.
	Last error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("otp: no code after %d polls (last error: %v)", e.Attempts, e.Last)
	}
	return fmt.Sprintf("otp: no code after %d polls", e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}
