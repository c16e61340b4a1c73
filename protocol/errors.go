package protocol

import "fmt"

// Namespace is an NSI error namespace (spec.md §7 / §4.5).
type Namespace string

const (
	NamespaceGenericRm        Namespace = "GenericRmError"
	NamespaceReservation      Namespace = "ReservationError"
	NamespaceInvalidTransition Namespace = "InvalidTransition"
	NamespaceInvalidSchedule  Namespace = "InvalidSchedule"
	NamespaceVlanMismatch     Namespace = "VlanMismatch"
	NamespaceStpUnknown       Namespace = "StpUnknown"
	NamespaceCapacityUnavail  Namespace = "CapacityUnavailable"
	NamespaceDeliveryTimeout  Namespace = "MessageDeliveryTimeout"
	NamespaceInternal         Namespace = "Internal"
)

// NsiError is the error type surfaced to a requester on a *Failed message,
// and the type an NRM backend (package nrm) returns on failure.
type NsiError struct {
	Namespace Namespace
	Message   string
	Cause     error
}

func (e *NsiError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Namespace, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Namespace, e.Message)
}

func (e *NsiError) Unwrap() error { return e.Cause }

// NewNsiError constructs an NsiError in the given namespace.
func NewNsiError(ns Namespace, message string) *NsiError {
	return &NsiError{Namespace: ns, Message: message}
}

// WrapNsiError wraps cause as an NsiError in the given namespace.
func WrapNsiError(ns Namespace, message string, cause error) *NsiError {
	return &NsiError{Namespace: ns, Message: message, Cause: cause}
}

// ValidationError indicates a malformed message, independent of any
// connection's state machines.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError constructs a ValidationError, mirroring the
// pb.NewValidationError helper dwarri-gazette's broker/protocol package
// exposes for its own generated message types.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
