// Package apperr описывает таксономию ошибок ядра: вид ошибки (Kind) плюс
// стабильный машинный код, который UI переводит в локализованное сообщение.
package apperr

import "errors"

// Kind классифицирует ошибку, а не её тип.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotAuthorized
	KindInvalidState
	KindInvalidInput
	KindNotFound
	KindConflict
	KindExternalFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthorized:
		return "not_authorized"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternalFailure:
		return "external_failure"
	default:
		return "unknown"
	}
}

// Error описывает бизнес-ошибку с видом и кодом.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrNotAuthorized = newError(KindNotAuthorized, "not_authorized", "actor is not authorized for this subject")
	ErrNotOwner      = newError(KindNotAuthorized, "not_owner", "actor does not own the subject")
	ErrNotAssigned   = newError(KindNotAuthorized, "not_assigned", "job is not assigned to this professional")

	ErrInvalidState   = newError(KindInvalidState, "invalid_state", "operation is not allowed in the current state")
	ErrTenderLocked   = newError(KindInvalidState, "tender_locked", "bids are locked for this tender")
	ErrTenderNotOpen  = newError(KindInvalidState, "tender_not_open", "tender is not open")
	ErrAlreadyLocked  = newError(KindInvalidState, "already_locked", "bids are already locked")
	ErrNotLocked      = newError(KindInvalidState, "not_locked", "bids must be locked before picking a winner")
	ErrAlreadyAwarded = newError(KindInvalidState, "already_awarded", "winner already selected for this tender")
	ErrNoBids         = newError(KindInvalidState, "no_bids", "no bids found for this tender")

	ErrInvalidInput  = newError(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidPrice  = newError(KindInvalidInput, "invalid_price", "price must be positive")
	ErrInvalidAmount = newError(KindInvalidInput, "invalid_amount", "amount must be positive")
	ErrInvalidOTP    = newError(KindInvalidInput, "invalid_otp", "invalid OTP")
	ErrNoEvidence    = newError(KindInvalidInput, "no_evidence", "at least one valid image URL is required as evidence")

	ErrNotFound = newError(KindNotFound, "not_found", "subject not found")

	ErrConflict = newError(KindConflict, "conflict", "concurrent modification, retry the request")

	ErrPaymentFailed = newError(KindExternalFailure, "payment_failed", "payment failed")
	ErrCreditFailed  = newError(KindExternalFailure, "credit_failed", "failed to credit the professional")
)

// KindOf возвращает вид ошибки; для инфраструктурных ошибок: KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf возвращает машинный код ошибки или "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
