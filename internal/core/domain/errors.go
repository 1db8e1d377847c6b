package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindBusinessRule
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule_violation"
	default:
		return "internal"
	}
}

// Error is the error type every allocator returns. errors.Is matches either a
// kind sentinel (Code empty) or a specific code sentinel.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.String()
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// With returns a copy of e carrying a formatted message.
func (e *Error) With(format string, args ...any) *Error {
	cp := *e
	cp.Msg = fmt.Sprintf(format, args...)
	return &cp
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrBusinessRule = &Error{Kind: KindBusinessRule}
	ErrInternal     = &Error{Kind: KindInternal}
)

var (
	ErrInvalidOperation    = &Error{Kind: KindBusinessRule, Code: "invalid_operation", Msg: "invalid operation"}
	ErrNoPriceHistory      = &Error{Kind: KindBusinessRule, Code: "no_price_history", Msg: "no price history for substance"}
	ErrNoDemand            = &Error{Kind: KindBusinessRule, Code: "no_demand", Msg: "market maker has no demand for this substance"}
	ErrNotExcess           = &Error{Kind: KindBusinessRule, Code: "not_excess", Msg: "lot is not marked as excess"}
	ErrQuotaExceeded       = &Error{Kind: KindBusinessRule, Code: "quota_exceeded", Msg: "member quota exceeded"}
	ErrPoolExhausted       = &Error{Kind: KindBusinessRule, Code: "pool_exhausted", Msg: "pool exhausted"}
	ErrMemberLimitExceeded = &Error{Kind: KindBusinessRule, Code: "member_limit_exceeded", Msg: "per-member limit exceeded"}
	ErrNotStarted          = &Error{Kind: KindBusinessRule, Code: "not_started", Msg: "window has not started"}
	ErrEnded               = &Error{Kind: KindBusinessRule, Code: "ended", Msg: "window has ended"}
	ErrOfferNotActive      = &Error{Kind: KindBusinessRule, Code: "offer_not_active", Msg: "offer is not active"}
	ErrAuctionEnded        = &Error{Kind: KindBusinessRule, Code: "auction_ended", Msg: "auction has ended"}
	ErrBidTooLow           = &Error{Kind: KindConflict, Code: "bid_too_low", Msg: "bid does not exceed the current floor"}
	ErrStaleVersion        = &Error{Kind: KindConflict, Code: "stale_version", Msg: "resource changed concurrently, retry with fresh data"}
	ErrUnauthorizedSubst   = &Error{Kind: KindForbidden, Code: "missing_authorization", Msg: "missing controlled-substance authorization"}
)

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func Validationf(format string, args ...any) error {
	return ErrValidation.With(format, args...)
}

func NotFoundf(format string, args ...any) error {
	return ErrNotFound.With(format, args...)
}

func Forbiddenf(format string, args ...any) error {
	return ErrForbidden.With(format, args...)
}

func Conflictf(format string, args ...any) error {
	return ErrConflict.With(format, args...)
}
