package model

import (
	"fmt"
	"strings"
)

// BloodType is one of the eight ABO/Rh groups. The zero value is invalid so
// an unset field never silently matches anything.
type BloodType uint8

const (
	BloodTypeUnknown BloodType = iota
	OPos
	ONeg
	APos
	ANeg
	BPos
	BNeg
	ABPos
	ABNeg
)

// NumBloodTypes is the size of the closed enumeration, excluding Unknown.
const NumBloodTypes = 8

var bloodTypeNames = [...]string{
	BloodTypeUnknown: "",
	OPos:             "O+",
	ONeg:             "O-",
	APos:             "A+",
	ANeg:             "A-",
	BPos:             "B+",
	BNeg:             "B-",
	ABPos:            "AB+",
	ABNeg:            "AB-",
}

// AllBloodTypes lists every valid blood type in declaration order.
func AllBloodTypes() []BloodType {
	return []BloodType{OPos, ONeg, APos, ANeg, BPos, BNeg, ABPos, ABNeg}
}

// ParseBloodType accepts the canonical notation ("O-", "AB+", ...).
// Surrounding whitespace and lower case group letters are tolerated.
func ParseBloodType(s string) (BloodType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range bloodTypeNames {
		if name != "" && name == normalized {
			return BloodType(i), nil
		}
	}
	return BloodTypeUnknown, fmt.Errorf("unknown blood type %q", s)
}

func (b BloodType) Valid() bool {
	return b > BloodTypeUnknown && b <= ABNeg
}

func (b BloodType) String() string {
	if !b.Valid() {
		return "unknown"
	}
	return bloodTypeNames[b]
}

// Index maps a valid blood type onto [0, NumBloodTypes) for table lookups.
func (b BloodType) Index() int {
	return int(b) - 1
}

func (b BloodType) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid blood type %d", uint8(b))
	}
	return []byte(bloodTypeNames[b]), nil
}

func (b *BloodType) UnmarshalText(text []byte) error {
	parsed, err := ParseBloodType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
