package submission

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAnalysisSubmit    Kind = "analysis_submit"
	KindTransientPoll     Kind = "transient_poll"
	KindPublish           Kind = "publish"
	KindLedger            Kind = "ledger"
	KindRecoveryCorrupted Kind = "recovery_corruption"
	KindRecovery          Kind = "recovery"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrAnalysisSubmit     = errors.New("analysis submit error")
	ErrTransientPoll      = errors.New("transient poll error")
	ErrPublish            = errors.New("publish error")
	ErrLedger             = errors.New("ledger error")
	ErrRecoveryCorruption = errors.New("recovery corruption")
	ErrRecovery           = errors.New("recovery error")

	ErrBusy              = errors.New("a submission is already in flight")
	ErrNotRetryable      = errors.New("failure is not retryable, reset and submit again")
	ErrInvalidTransition = errors.New("invalid transition")
)

var kindSentinels = map[Kind]error{
	KindValidation:        ErrValidation,
	KindAnalysisSubmit:    ErrAnalysisSubmit,
	KindTransientPoll:     ErrTransientPoll,
	KindPublish:           ErrPublish,
	KindLedger:            ErrLedger,
	KindRecoveryCorrupted: ErrRecoveryCorruption,
	KindRecovery:          ErrRecovery,
}

// Error is a classified pipeline error. errors.Is matches both the kind
// sentinel and the wrapped cause.
type Error struct {
	Kind  Kind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Describe turns err into the persisted descriptor.
func Describe(kind Kind, stage State, err error) *ErrorDescriptor {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ErrorDescriptor{Kind: kind, Stage: stage, Message: msg}
}

func errorf(format string, args ...any) error { return fmt.Errorf(format, args...) }

func invalid(from State, ev Event) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev.Name(), from)
}
