package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every boundary wraps failures into one of these before
// returning to its caller.
var (
	ErrValidation    = errors.New("validation")
	ErrAuthorization = errors.New("authorization")
	ErrNotReady      = errors.New("not ready")
	ErrResolution    = errors.New("could not resolve")
	ErrTransient     = errors.New("transient network failure")
	ErrStateConflict = errors.New("state conflict")
)

var (
	ErrInvalidIdentity    = fmt.Errorf("%w: invalid identity", ErrValidation)
	ErrSelfAddressed      = fmt.Errorf("%w: sender and receiver must differ", ErrValidation)
	ErrEmptyContent       = fmt.Errorf("%w: empty content", ErrValidation)
	ErrInvalidMask        = fmt.Errorf("%w: invalid unlock condition mask", ErrValidation)
	ErrUnlockTimeInPast   = fmt.Errorf("%w: unlock time is in the past", ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrNoPaymentCondition = fmt.Errorf("%w: message has no payment condition", ErrValidation)
	ErrStalePayment       = fmt.Errorf("%w: payment predates message", ErrValidation)
	ErrInvalidShortHash   = fmt.Errorf("%w: invalid short hash", ErrValidation)
	ErrPreviewTooLarge    = fmt.Errorf("%w: preview exceeds size limit", ErrValidation)

	ErrNotAuthorized = fmt.Errorf("%w: not authorized", ErrAuthorization)

	ErrSessionUnavailable = fmt.Errorf("%w: decryption session prerequisites missing", ErrNotReady)

	ErrMessageNotFound = fmt.Errorf("%w: message not found", ErrResolution)

	ErrStillLocked       = fmt.Errorf("%w: still locked", ErrStateConflict)
	ErrAlreadyPaid       = fmt.Errorf("%w: already fully paid", ErrStateConflict)
	ErrAlreadyRead       = fmt.Errorf("%w: already read", ErrStateConflict)
	ErrSignatureRejected = fmt.Errorf("%w: signature rejected", ErrStateConflict)
	ErrDecryptionFailed  = fmt.Errorf("%w: decryption failed", ErrStateConflict)
)

var kinds = []error{
	ErrValidation,
	ErrAuthorization,
	ErrNotReady,
	ErrResolution,
	ErrTransient,
	ErrStateConflict,
}

// KindOf returns the taxonomy kind err belongs to, or nil when err is not
// classified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the caller may try the same operation again.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, ErrTransient)
}

// Transient wraps a transport failure so it never escapes a boundary raw.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

// ResolutionError keeps the short hash that could not be resolved so the
// caller can offer a retry and show it for manual recovery.
type ResolutionError struct {
	ShortHash string
	Reason    string
}

func (e *ResolutionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("could not resolve %q", e.ShortHash)
	}
	return fmt.Sprintf("could not resolve %q: %s", e.ShortHash, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }
