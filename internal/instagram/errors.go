package instagram

import (
	"errors"
	"fmt"
	"strings"
)

// Failure signals surfaced to the session manager and scheduler. Challenge
// and recovery-form signals mean Instagram wants a human to complete an
// out-of-band verification; the agent must not retry those.
var (
	ErrLoginRequired        = errors.New("instagram: login required")
	ErrChallengeRequired    = errors.New("instagram: challenge required")
	ErrRecoveryFormRequired = errors.New("instagram: contact point recovery form required")
)

// APIError is a non-ok response from the mobile API. Unwrap maps the wire
// error_type onto the sentinel signals so callers classify with errors.Is.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(e.ErrorType)
	}
	if msg == "" {
		return fmt.Sprintf("instagram http %d", e.StatusCode)
	}
	return fmt.Sprintf("instagram http %d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	switch strings.ToLower(strings.TrimSpace(e.ErrorType)) {
	case "login_required":
		return ErrLoginRequired
	case "challenge_required", "checkpoint_challenge_required":
		return ErrChallengeRequired
	case "select_contact_point_recovery_form":
		return ErrRecoveryFormRequired
	default:
		return nil
	}
}

// IsFatalSignal reports whether err demands manual human verification.
func IsFatalSignal(err error) bool {
	return errors.Is(err, ErrChallengeRequired) || errors.Is(err, ErrRecoveryFormRequired)
}
