package model

import "time"

type Donor struct {
	ID             string     `json:"id"`
	BloodType      BloodType  `json:"blood_type"`
	Position       Position   `json:"position"`
	Verified       bool       `json:"verified"`
	Active         bool       `json:"active"`
	LastDonationAt *time.Time `json:"last_donation_at,omitempty"`
	RegisteredAt   time.Time  `json:"registered_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DonorRegistration is the inbound shape of a new donor. Blood type stays a
// string here so validation can report it instead of failing JSON decoding.
type DonorRegistration struct {
	ID             string     `json:"id" validate:"required,min=1,max=128"`
	BloodType      string     `json:"blood_type" validate:"required,blood_type"`
	Position       Position   `json:"position"`
	Verified       bool       `json:"verified"`
	Active         bool       `json:"active"`
	LastDonationAt *time.Time `json:"last_donation_at,omitempty" validate:"omitempty"`
}

type DonorEligibilityUpdate struct {
	Verified bool `json:"verified"`
	Active   bool `json:"active"`
}
