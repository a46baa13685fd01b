// Package att models the attribute-protocol status surface consumed by the
// GATT layer: attribute handles, protocol error codes carried by peer
// responses, and the host-side failure values used when no protocol error
// applies.
package att

import (
	"errors"
	"fmt"
)

// Handle is an unsigned address into the remote peer's attribute table.
// Service boundaries and notification value handles share this space.
type Handle = uint16

// ErrorCode is an ATT protocol error code as carried by an Error Response
// PDU (Vol 3, Part F, 3.4.1.1). Only the codes the GATT layer inspects are
// named; unknown codes still round-trip through Error.
type ErrorCode uint8

const (
	InvalidHandle          ErrorCode = 0x01
	ReadNotPermitted       ErrorCode = 0x02
	WriteNotPermitted      ErrorCode = 0x03
	InvalidPDU             ErrorCode = 0x04
	InsufficientAuthn      ErrorCode = 0x05
	RequestNotSupported    ErrorCode = 0x06
	InvalidOffset          ErrorCode = 0x07
	AttributeNotFound      ErrorCode = 0x0a
	AttributeNotLong       ErrorCode = 0x0b
	UnsupportedGroupType   ErrorCode = 0x10
	InsufficientResources  ErrorCode = 0x11
	UnlikelyError          ErrorCode = 0x0e
	InsufficientEncryption ErrorCode = 0x0f
)

func (c ErrorCode) String() string {
	switch c {
	case InvalidHandle:
		return "invalid handle"
	case ReadNotPermitted:
		return "read not permitted"
	case WriteNotPermitted:
		return "write not permitted"
	case InvalidPDU:
		return "invalid PDU"
	case InsufficientAuthn:
		return "insufficient authentication"
	case RequestNotSupported:
		return "request not supported"
	case InvalidOffset:
		return "invalid offset"
	case AttributeNotFound:
		return "attribute not found"
	case AttributeNotLong:
		return "attribute not long"
	case UnlikelyError:
		return "unlikely error"
	case InsufficientEncryption:
		return "insufficient encryption"
	case UnsupportedGroupType:
		return "unsupported group type"
	case InsufficientResources:
		return "insufficient resources"
	default:
		return fmt.Sprintf("error code 0x%02x", uint8(c))
	}
}

// Error is a protocol-level failure reported by the peer, as opposed to a
// transport or host-side failure which is a plain error value.
type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("att: %s", e.Code)
}

// Is allows errors.Is to compare Error values by code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError wraps an ATT error code as an error value.
func NewError(code ErrorCode) error {
	return &Error{Code: code}
}

// Predefined protocol errors the GATT layer special-cases.
var (
	ErrUnsupportedGroupType = &Error{Code: UnsupportedGroupType}
	ErrAttributeNotFound    = &Error{Code: AttributeNotFound}
)

// Host-side failures (no protocol error code involved).
var (
	// ErrFailed is the generic failure used when an operation can no longer
	// produce a meaningful result, e.g. its owner was torn down first.
	ErrFailed = errors.New("att: failed")
)

// IsProtocolError reports whether err carries the given ATT error code.
func IsProtocolError(err error, code ErrorCode) bool {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Code == code
	}
	return false
}
