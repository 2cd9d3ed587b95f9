package mailbox

import (
	"errors"
	"fmt"
)

// ConnectionError indicates the mail server could not be reached or the
// session broke mid-operation. Retryable on the next poll cycle.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox connection error (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// AuthError indicates that authentication was rejected by the mail server.
// Retrying without a credential change will not help.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// DeliveryError indicates an outbound message could not be submitted.
// The caller decides retry policy; nothing has been recorded as sent.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError reports whether err (or any error in its chain) is a
// DeliveryError.
func IsDeliveryError(err error) bool {
	var delErr *DeliveryError
	return errors.As(err, &delErr)
}
