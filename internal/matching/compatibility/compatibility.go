// Package compatibility decides whether a donor may give to a request: ABO/Rh
// compatibility from a fixed table plus donor eligibility.
package compatibility

import (
	"time"

	"bloodmatch/pkg/model"
)

// DefaultCooldown is the minimum gap between two whole-blood donations.
const DefaultCooldown = 90 * 24 * time.Hour

// Columns: O+ O- A+ A- B+ B- AB+ AB- (donor). Rows: same order (recipient).
// Order follows model.BloodType declaration order via BloodType.Index.
var table = [model.NumBloodTypes][model.NumBloodTypes]bool{
	//         O+     O-     A+     A-     B+     B-     AB+    AB-
	/* O+  */ {true, true, false, false, false, false, false, false},
	/* O-  */ {false, true, false, false, false, false, false, false},
	/* A+  */ {true, true, true, true, false, false, false, false},
	/* A-  */ {false, true, false, true, false, false, false, false},
	/* B+  */ {true, true, false, false, true, true, false, false},
	/* B-  */ {false, true, false, false, false, true, false, false},
	/* AB+ */ {true, true, true, true, true, true, true, true},
	/* AB- */ {false, true, false, true, false, true, false, true},
}

// IsCompatible reports whether a donor of donorType may give to a recipient
// requesting requestedType. Invalid types are never compatible.
func IsCompatible(requestedType, donorType model.BloodType) bool {
	if !requestedType.Valid() || !donorType.Valid() {
		return false
	}
	return table[requestedType.Index()][donorType.Index()]
}

// CompatibleDonorTypes lists the donor types that can give to requestedType.
func CompatibleDonorTypes(requestedType model.BloodType) []model.BloodType {
	var out []model.BloodType
	for _, donorType := range model.AllBloodTypes() {
		if IsCompatible(requestedType, donorType) {
			out = append(out, donorType)
		}
	}
	return out
}

type Policy struct {
	Cooldown time.Duration
}

func NewPolicy(cooldown time.Duration) Policy {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return Policy{Cooldown: cooldown}
}

// IsEligible is true iff the donor is verified, active and past the cooldown.
func (p Policy) IsEligible(donor model.Donor, now time.Time) bool {
	if !donor.Verified || !donor.Active {
		return false
	}
	if donor.LastDonationAt == nil {
		return true
	}
	return now.Sub(*donor.LastDonationAt) >= p.Cooldown
}

// NextEligibleAt returns when the cooldown ends, or the zero time if the
// donor has never donated.
func (p Policy) NextEligibleAt(donor model.Donor) time.Time {
	if donor.LastDonationAt == nil {
		return time.Time{}
	}
	return donor.LastDonationAt.Add(p.Cooldown)
}

// Matcher applies both checks for a request.
type Matcher struct {
	policy Policy
}

func NewMatcher(policy Policy) *Matcher {
	return &Matcher{policy: policy}
}

func (m *Matcher) Policy() Policy {
	return m.policy
}

func (m *Matcher) Accepts(requested model.BloodType, donor model.Donor, now time.Time) bool {
	return IsCompatible(requested, donor.BloodType) && m.policy.IsEligible(donor, now)
}
