package main

import (
	"errors"
	"strings"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError strips Go's "package: " wrapping chain down to the
// innermost message, so a deeply wrapped config/store/ble error prints as
// one clean sentence instead of a colon-joined call stack.
func FormatUserError(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		tail := msg[idx+2:]
		if tail != "" {
			return tail
		}
	}
	return msg
}
