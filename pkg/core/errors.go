package core

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrUnauthorized          = errors.New("caller is not the work author")
	ErrInvalidInput          = errors.New("invalid input")
	ErrEncryptionUnavailable = errors.New("confidential-compute service unavailable")
	ErrNotAuthorized         = errors.New("not authorized to decrypt")
	ErrHandleNotFound        = errors.New("handle not found")
	ErrSignatureDenied       = errors.New("signature request denied")
	ErrTransactionReverted   = errors.New("transaction reverted")
	ErrTransactionTimeout    = errors.New("transaction confirmation timed out")
	ErrAlreadySold           = errors.New("license already sold")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrSessionNotFound       = errors.New("session not found")
	ErrNoIdentity            = errors.New("no active identity")
	ErrNotFound              = errors.New("record not found")
)

// Revert reasons raised by the registry contract.
const (
	RevertNotAuthor           = "not author"
	RevertLicenseNotActive    = "license not active"
	RevertInsufficientPayment = "insufficient payment"
	RevertWorkNotFound        = "work not found"
	RevertLicenseNotFound     = "license not found"
	RevertInvalidProof        = "invalid input proof"
)

// RevertError carries the reason a transaction was rejected by the ledger.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrTransactionReverted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTransactionReverted, e.Reason)
}

// Is makes every RevertError match ErrTransactionReverted.
func (e *RevertError) Is(target error) bool {
	return target == ErrTransactionReverted
}

// RevertReason extracts the revert reason from err, if any.
func RevertReason(err error) (string, bool) {
	var re *RevertError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// classifyRevert joins domain sentinels onto a revert so callers can match either.
func classifyRevert(reason string) error {
	re := &RevertError{Reason: reason}
	switch {
	case strings.Contains(reason, RevertLicenseNotActive):
		return fmt.Errorf("%w: %w", ErrAlreadySold, re)
	case strings.Contains(reason, RevertInsufficientPayment):
		return fmt.Errorf("%w: %w", ErrInsufficientPayment, re)
	case strings.Contains(reason, RevertNotAuthor):
		return fmt.Errorf("%w: %w", ErrUnauthorized, re)
	case strings.Contains(reason, RevertWorkNotFound), strings.Contains(reason, RevertLicenseNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, re)
	default:
		return re
	}
}

// classifySubmitError maps an adapter error returned at submission time.
func classifySubmitError(err error) error {
	if reason, ok := RevertReason(err); ok {
		return classifyRevert(reason)
	}
	return err
}
