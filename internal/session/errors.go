package session

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced to the presentation layer.
type Kind string

// Error kinds.
const (
	KindLoad               Kind = "load"
	KindAcquire            Kind = "acquire"
	KindNoSource           Kind = "no_source"
	KindNoArtifact         Kind = "no_artifact"
	KindStorageQuota       Kind = "storage_quota"
	KindStorage            Kind = "storage"
	KindEncoderUnsupported Kind = "encoder_unsupported"
	KindEncoder            Kind = "encoder"
	KindDetection          Kind = "detection"
	KindIllegalState       Kind = "illegal_state"
	KindClosed             Kind = "closed"
)

// Error is the error contract shared by all components.
type Error struct {
	Kind    Kind
	Op      string // operation name, ex: "camera.Enable"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrNoSource) matches any
// *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrLoad               = &Error{Kind: KindLoad, Message: "detection capability unavailable"}
	ErrAcquire            = &Error{Kind: KindAcquire, Message: "camera unavailable"}
	ErrNoSource           = &Error{Kind: KindNoSource, Message: "no active camera"}
	ErrNoArtifact         = &Error{Kind: KindNoArtifact, Message: "no recording available"}
	ErrStorageQuota       = &Error{Kind: KindStorageQuota, Message: "storage quota exceeded"}
	ErrEncoderUnsupported = &Error{Kind: KindEncoderUnsupported, Message: "output format not supported"}
	ErrIllegalState       = &Error{Kind: KindIllegalState, Message: "operation not allowed now"}
	ErrClosed             = &Error{Kind: KindClosed, Message: "session closed"}
)

// E builds an *Error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
