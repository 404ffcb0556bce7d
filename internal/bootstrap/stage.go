package bootstrap

import (
	"errors"
	"fmt"
	"time"
)

// Stage is a state of one login attempt.
type Stage string

const (
	StageStart              Stage = "start"
	StageAwaitingEmailField Stage = "awaiting_email_field"
	StageEmailSubmitted     Stage = "email_submitted"
	StageAwaitingOtpField   Stage = "awaiting_otp_field"
	StageOtpRequested       Stage = "otp_requested"
	StageOtpSubmitted       Stage = "otp_submitted"
	StageDashboardConfirmed Stage = "dashboard_confirmed"
)

// Reason explains why an attempt failed.
type Reason string

const (
	ReasonEmailFieldTimeout     Reason = "email_field_timeout"
	ReasonContinueUnavailable   Reason = "continue_unavailable"
	ReasonOtpFieldTimeout       Reason = "otp_field_timeout"
	ReasonOtpNotFound           Reason = "otp_not_found"
	ReasonOtpSubmitFailed       Reason = "otp_submit_failed"
	ReasonDashboardNotConfirmed Reason = "dashboard_not_confirmed"
)

// ErrFailed matches every *FailedError.
var ErrFailed = errors.New("bootstrap: login attempt failed")

// FailedError is the terminal Failed(stage, reason) outcome. Stage is the state the
// attempt was in when the transition out of it failed.
type FailedError struct {
	AttemptID string
	Stage     Stage
	Reason    Reason
	Err       error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootstrap: failed at %s (%s): %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("bootstrap: failed at %s (%s)", e.Stage, e.Reason)
}

func (e *FailedError) Is(target error) bool { return target == ErrFailed }

func (e *FailedError) Unwrap() error { return e.Err }

// Attempt tracks one run of the state machine. It is never persisted.
type Attempt struct {
	ID        string
	Stage     Stage
	StartedAt time.Time
}

var (
	errOTPRejected     = errors.New("OTP rejected: login error alert is visible")
	errLandmarkMissing = errors.New("dashboard landmark not visible")
)
