package types

import "fmt"

// errPrefix identifies failures originating in the bridge/potential layer
// when they cross into a host that only knows plain error strings.
const errPrefix = "mdbridge Error: "

// LibError signals any failure inside model loading, inference, or data
// marshalling. Hosts treat it as fatal for the current run; the bridge never
// retries or degrades to a subset of committee models.
type LibError struct{ msg string }

func (e LibError) Error() string { return errPrefix + e.msg }

// NewLibError wraps a message as a LibError.
func NewLibError(msg string) error { return LibError{msg: msg} }

// Errorf formats a LibError.
func Errorf(format string, args ...any) error {
	return LibError{msg: fmt.Sprintf(format, args...)}
}

// Wrapf prefixes context onto err as a LibError. An inner LibError is
// collapsed so the prefix appears once in the final message.
func Wrapf(err error, format string, args ...any) error {
	msg := err.Error()
	if le, ok := err.(LibError); ok {
		msg = le.msg
	}
	return LibError{msg: fmt.Sprintf(format, args...) + ": " + msg}
}

// IsLibError reports whether err originated in this library.
func IsLibError(err error) bool {
	_, ok := err.(LibError)
	return ok
}
