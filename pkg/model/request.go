package model

import "time"

type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusOpen             RequestStatus = "open"
	StatusMatching         RequestStatus = "matching"
	StatusPartiallyMatched RequestStatus = "partially_matched"
	StatusMatched          RequestStatus = "matched"
	StatusFulfilled        RequestStatus = "fulfilled"
	StatusExpired          RequestStatus = "expired"
	StatusCancelled        RequestStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusFulfilled || s == StatusExpired || s == StatusCancelled
}

// AcceptsMatches reports whether new reservations may be added in this state.
// Matched is excluded: a full request has no capacity left.
func (s RequestStatus) AcceptsMatches() bool {
	return s == StatusOpen || s == StatusMatching || s == StatusPartiallyMatched
}

type BloodRequest struct {
	ID              string        `json:"id"`
	RequesterID     string        `json:"requester_id"`
	BloodType       BloodType     `json:"blood_type"`
	UnitsNeeded     int           `json:"units_needed"`
	Position        Position      `json:"position"`
	RadiusMeters    float64       `json:"radius_meters"`
	Urgency         Urgency       `json:"urgency"`
	Status          RequestStatus `json:"status"`
	ReservedDonors  []string      `json:"reserved_donors"`
	ConfirmedDonors []string      `json:"confirmed_donors,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
}

// Unfilled is the number of units still lacking a reserved donor.
func (r *BloodRequest) Unfilled() int {
	if r.Status == StatusFulfilled {
		return 0
	}
	return max(r.UnitsNeeded-len(r.ReservedDonors), 0)
}

type RequestSubmission struct {
	RequesterID  string   `json:"requester_id" validate:"required,min=1,max=128"`
	BloodType    string   `json:"blood_type" validate:"required,blood_type"`
	UnitsNeeded  int      `json:"units_needed" validate:"required,min=1,max=50"`
	Position     Position `json:"position"`
	RadiusMeters float64  `json:"radius_meters" validate:"required,gt=0,max=500000"`
	Urgency      string   `json:"urgency" validate:"required,urgency"`
}
