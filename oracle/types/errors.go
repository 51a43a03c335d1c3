package types

import (
	"errors"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
)

const Codespace = "crank"

// Error classes. Every error surfaced by a run belongs to exactly one.
var (
	ErrConfiguration      = errorsmod.Register(Codespace, 2, "configuration error")
	ErrGateway            = errorsmod.Register(Codespace, 3, "gateway error")
	ErrCompile            = errorsmod.Register(Codespace, 4, "failed to compile message")
	ErrSimulationRejected = errorsmod.Register(Codespace, 5, "simulation rejected transaction")
	ErrSubmission         = errorsmod.Register(Codespace, 6, "submission failed")
)

// Specific causes.
var (
	ErrQueueNotFound       = errorsmod.Register(Codespace, 10, "queue account not found")
	ErrDecode              = errorsmod.Register(Codespace, 11, "failed to decode account data")
	ErrEmptyQueue          = errorsmod.Register(Codespace, 12, "queue has no gateways")
	ErrSigning             = errorsmod.Register(Codespace, 13, "failed to sign transaction")
	ErrGatewayUnreachable  = errorsmod.Register(Codespace, 20, "gateway unreachable")
	ErrMalformedResponse   = errorsmod.Register(Codespace, 21, "malformed gateway response")
	ErrNoQuorum            = errorsmod.Register(Codespace, 22, "not enough successful oracle responses")
	ErrConfirmationTimeout = errorsmod.Register(Codespace, 30, "transaction confirmation timed out")
)

var classes = []struct {
	class   error
	members []error
}{
	{ErrConfiguration, []error{ErrConfiguration, ErrQueueNotFound, ErrDecode, ErrEmptyQueue, ErrSigning}},
	{ErrGateway, []error{ErrGateway, ErrGatewayUnreachable, ErrMalformedResponse, ErrNoQuorum}},
	{ErrCompile, []error{ErrCompile}},
	{ErrSimulationRejected, []error{ErrSimulationRejected}},
	{ErrSubmission, []error{ErrSubmission, ErrConfirmationTimeout}},
}

// Class returns the class an error belongs to, nil for foreign errors.
func Class(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		for _, m := range c.members {
			if errors.Is(err, m) {
				return c.class
			}
		}
	}
	return nil
}

// Retryable reports whether a fresh run may be attempted right away.
func Retryable(err error) bool {
	class := Class(err)
	return class == ErrGateway || class == ErrSimulationRejected
}

// Ambiguous reports whether the transaction may or may not have landed.
// Callers must re-check chain state before retrying.
func Ambiguous(err error) bool {
	return Class(err) == ErrSubmission
}

// StageError records the stage a run stopped at along with any program logs.
type StageError struct {
	Stage Stage
	Logs  []string
	Err   error
}

// NewStageError wraps err as a failure at stage.
func NewStageError(stage Stage, err error, logs ...string) *StageError {
	return &StageError{Stage: stage, Logs: logs, Err: err}
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Stage, e.Err)
	if len(e.Logs) > 0 {
		fmt.Fprintf(&b, " (%d log lines)", len(e.Logs))
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the class of the wrapped error so callers can test
// errors.Is(err, ErrGateway) as well as the specific cause.
func (e *StageError) Is(target error) bool {
	class := Class(e.Err)
	return class != nil && class == target
}
