package sync

import "fmt"

// MalformedFrameError wraps a codec decoding failure. At the dispatch
// boundary the error is logged with a hex dump of the payload and the frame
// is dropped; the connection is not closed and keeps receiving.
type MalformedFrameError struct {
	MessageID uint8
	Err       error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame (msg %d): %v", e.MessageID, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// UnknownReferenceError is a reference to an entity/component/attribute the
// receiver doesn't know about. Logged once and the offending record is
// skipped; the remainder of the frame still parses.
type UnknownReferenceError struct {
	Kind string // "entity" | "component" | "attribute"
	ID   uint32
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s reference: %d", e.Kind, e.ID)
}

// PolicyViolationError indicates a scene-mutation policy check failed
// (ValidateAction/AllowModifyEntity). The message is silently dropped —
// callers should check for this type and suppress any user-facing log
// noise beyond debug level.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %s", e.Reason)
}

// IdCollisionError signals that an inbound create referenced an id already
// in use. By the time it is returned the existing element has already been
// removed LocalOnly and the new one created in its place.
type IdCollisionError struct {
	ID uint32
}

func (e *IdCollisionError) Error() string {
	return fmt.Sprintf("id collision on inbound create: %d", e.ID)
}
