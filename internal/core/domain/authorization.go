package domain

import "time"

// AuthorizationKind names a controlled-substance license class.
type AuthorizationKind string

const (
	AuthorizationAE AuthorizationKind = "AE"
	AuthorizationPF AuthorizationKind = "PF"
)

func (k AuthorizationKind) Valid() bool {
	return k == AuthorizationAE || k == AuthorizationPF
}

type validityKind int

const (
	validityUnset validityKind = iota
	validityIndefinite
	validityUntil
)

// Validity is one of Unset, Indefinite or ValidUntil(date). The zero value is Unset.
type Validity struct {
	kind  validityKind
	until time.Time
}

func Indefinite() Validity {
	return Validity{kind: validityIndefinite}
}

func ValidUntil(t time.Time) Validity {
	return Validity{kind: validityUntil, until: t}
}

func (v Validity) IsUnset() bool { return v.kind == validityUnset }

// Until returns the expiry and true for ValidUntil values.
func (v Validity) Until() (time.Time, bool) {
	return v.until, v.kind == validityUntil
}

// CoversAt reports whether the validity holds at the given instant. Unset never does.
func (v Validity) CoversAt(at time.Time) bool {
	switch v.kind {
	case validityIndefinite:
		return true
	case validityUntil:
		return !at.After(v.until)
	default:
		return false
	}
}

// Authorization is a member's qualified profile document for a controlled substance.
// An empty SubstanceID covers every substance of the kind.
type Authorization struct {
	ID          string
	MemberID    string
	Kind        AuthorizationKind
	SubstanceID string
	Active      bool
	Validity    Validity
}

func (a Authorization) Permits(kind AuthorizationKind, substanceID string, at time.Time) bool {
	if !a.Active || a.Kind != kind {
		return false
	}
	if a.SubstanceID != "" && a.SubstanceID != substanceID {
		return false
	}
	return a.Validity.CoversAt(at)
}
