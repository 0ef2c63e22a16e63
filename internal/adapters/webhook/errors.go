package webhook

import (
	"errors"
	"fmt"
)

// Sentinel kinds for delivery errors.
var (
	ErrNotConfigured = errors.New("webhook not configured")
	ErrDelivery      = errors.New("delivery failed")
)

// DeliveryError describes a failed POST. StatusCode is zero for transport
// failures; RemoteStatus is the decoded message.status, if any.
type DeliveryError struct {
	StatusCode   int
	RemoteStatus string
	Cause        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Cause != nil && e.StatusCode == 0:
		return fmt.Sprintf("delivery failed: %v", e.Cause)
	case e.RemoteStatus != "":
		return fmt.Sprintf("delivery failed: HTTP %d, remote status %q", e.StatusCode, e.RemoteStatus)
	case e.Cause != nil:
		return fmt.Sprintf("delivery failed: HTTP %d: %v", e.StatusCode, e.Cause)
	default:
		return fmt.Sprintf("delivery failed: HTTP %d", e.StatusCode)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// Is matches ErrDelivery.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }
