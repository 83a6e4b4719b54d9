package model

import "time"

type EventType string

const (
	EventDonorReserved        EventType = "donor_reserved"
	EventDonorReleased        EventType = "donor_released"
	EventRequestStatusChanged EventType = "request_status_changed"
	EventDonationRecorded     EventType = "donation_recorded"
)

// Event is published by the engine for notification and analytics consumers.
// DonorID is empty for request-level events. Sequence increases by one per
// event of the same request, in the order the changes were applied; delivery
// order across concurrent operations is not guaranteed.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	RequestID string        `json:"request_id"`
	DonorID   string        `json:"donor_id,omitempty"`
	Status    RequestStatus `json:"status"`
	Sequence  uint64        `json:"sequence"`
	Timestamp time.Time     `json:"timestamp"`
}
