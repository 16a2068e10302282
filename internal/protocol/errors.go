package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("protocol: truncated message")
	ErrUnknownType      = errors.New("protocol: unknown message type")
	ErrBadCount         = errors.New("protocol: negative element count")
	ErrCapacityExceeded = errors.New("protocol: frame exceeds buffer capacity")
	ErrInvalidString    = errors.New("protocol: string contains a zero byte")
	ErrBadEnvelope      = errors.New("protocol: malformed bus envelope")
)

// Stable codes for logs and metric labels.
const (
	CodeTruncated        = "E_TRUNCATED"
	CodeUnknownType      = "E_UNKNOWN_TYPE"
	CodeBadCount         = "E_BAD_COUNT"
	CodeCapacityExceeded = "E_CAPACITY_EXCEEDED"
	CodeInvalidString    = "E_INVALID_STRING"
	CodeUnknownParent    = "E_UNKNOWN_PARENT"
	CodeMultipleRoots    = "E_MULTIPLE_ROOTS"
	CodeDuplicateBone    = "E_DUPLICATE_BONE"
	CodeInterrupted      = "E_INTERRUPTED"
	CodeBadEnvelope      = "E_BAD_ENVELOPE"
	CodeInternal         = "E_INTERNAL"
)

// codedError lets packages above protocol register their own sentinels
// without protocol importing them.
type codedError interface {
	error
	Code() string
}

// Coded is a sentinel error that reports a stable code.
type Coded struct {
	code string
	msg  string
}

func NewCoded(code, msg string) *Coded { return &Coded{code: code, msg: msg} }

func (e *Coded) Error() string { return e.msg }
func (e *Coded) Code() string  { return e.code }

var knownCodes = map[string]struct{}{
	CodeTruncated:        {},
	CodeUnknownType:      {},
	CodeBadCount:         {},
	CodeCapacityExceeded: {},
	CodeInvalidString:    {},
	CodeUnknownParent:    {},
	CodeMultipleRoots:    {},
	CodeDuplicateBone:    {},
	CodeInterrupted:      {},
	CodeBadEnvelope:      {},
	CodeInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrorCode maps err to its stable code. Nil maps to "".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTruncated):
		return CodeTruncated
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownType
	case errors.Is(err, ErrBadCount):
		return CodeBadCount
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrInvalidString):
		return CodeInvalidString
	case errors.Is(err, ErrBadEnvelope):
		return CodeBadEnvelope
	}
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return CodeInternal
}

// FieldError records which field of a message failed to decode and at
// which byte offset.
type FieldError struct {
	Field  string
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }
