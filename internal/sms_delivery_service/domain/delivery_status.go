package domain

import "strings"

// DeliveryStatus is the local three-state view of a provider's delivery lifecycle.
type DeliveryStatus int

const (
	// DeliveryStatusPending covers everything before a terminal callback:
	// queued, sent, and any provider status we do not recognise.
	DeliveryStatusPending DeliveryStatus = iota
	// DeliveryStatusDelivered means the handset acknowledged the message.
	DeliveryStatusDelivered
	// DeliveryStatusFailed means the provider gave up on the message.
	DeliveryStatusFailed
)

// String returns the string representation of the DeliveryStatus.
func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryStatusPending:
		return "Pending"
	case DeliveryStatusDelivered:
		return "Delivered"
	case DeliveryStatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further callback can move the status elsewhere.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

var providerStatusMap = map[string]DeliveryStatus{
	"queued":      DeliveryStatusPending,
	"sent":        DeliveryStatusPending,
	"delivered":   DeliveryStatusDelivered,
	"failed":      DeliveryStatusFailed,
	"undelivered": DeliveryStatusFailed,
}

// MapProviderStatus translates a raw provider status into a DeliveryStatus.
// Unrecognised values map to Pending with ok=false so callers can surface them.
func MapProviderStatus(raw string) (status DeliveryStatus, ok bool) {
	status, ok = providerStatusMap[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return DeliveryStatusPending, false
	}
	return status, true
}
