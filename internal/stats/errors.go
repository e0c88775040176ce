package stats

import "fmt"

// AttributeNotFoundError is returned when an unknown attribute is requested.
type AttributeNotFoundError struct {
	Name string
}

func (e *AttributeNotFoundError) Error() string {
	return fmt.Sprintf("attribute %q not found", e.Name)
}

// ReadOnlyAttributeError is returned for any attempt to write an attribute.
type ReadOnlyAttributeError struct {
	Name string
}

func (e *ReadOnlyAttributeError) Error() string {
	return fmt.Sprintf("attribute %q is read-only", e.Name)
}

// ListenerInvocationError wraps a failure raised by one listener. It is
// logged by the emitter and never returned to the recording caller.
type ListenerInvocationError struct {
	Listener int
	Sequence uint64
	Err      error
}

func (e *ListenerInvocationError) Error() string {
	return fmt.Sprintf("listener %d failed on notification %d: %v", e.Listener, e.Sequence, e.Err)
}

func (e *ListenerInvocationError) Unwrap() error { return e.Err }
