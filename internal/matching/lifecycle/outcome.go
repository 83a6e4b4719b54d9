package lifecycle

// Outcome is the result of a reservation attempt. AlreadyReserved and
// NotAcceptingMatches are expected under contention and are not errors.
type Outcome int

const (
	Reserved Outcome = iota
	AlreadyReserved
	NotAcceptingMatches
)

func (o Outcome) String() string {
	switch o {
	case Reserved:
		return "reserved"
	case AlreadyReserved:
		return "already_reserved"
	case NotAcceptingMatches:
		return "not_accepting_matches"
	default:
		return "unknown"
	}
}
