package core

import "fmt"

// Phase is a human-readable step of a long-running operation.
type Phase string

const (
	PhaseCheckingAuthor       Phase = "checking authorship"
	PhaseEncrypting           Phase = "encrypting input"
	PhaseRequestingSignature  Phase = "requesting signature"
	PhaseSubmitting           Phase = "submitting transaction"
	PhaseAwaitingConfirmation Phase = "awaiting confirmation"
	PhaseGranted              Phase = "granted"
	PhaseIssued               Phase = "license issued"
	PhasePurchased            Phase = "license purchased"
	PhaseVersionSubmitted     Phase = "version submitted"
	PhaseDecrypting           Phase = "decrypting"
	PhaseDecrypted            Phase = "decrypted"
	PhaseFailed               Phase = "failed"
)

// Status is reported to a StatusFunc as an operation moves through its phases.
type Status struct {
	Op    string
	Phase Phase
	Err   error
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %s: %v", s.Op, s.Phase, s.Err)
	}
	return fmt.Sprintf("%s: %s", s.Op, s.Phase)
}

// StatusFunc receives phase updates. It must not block.
type StatusFunc func(Status)

func (f StatusFunc) report(op string, phase Phase) {
	if f != nil {
		f(Status{Op: op, Phase: phase})
	}
}

func (f StatusFunc) fail(op string, err error) error {
	if f != nil {
		f(Status{Op: op, Phase: PhaseFailed, Err: err})
	}
	return err
}
