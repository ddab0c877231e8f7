package entity

import (
	"errors"
	"fmt"
)

// Domain outcomes the caller is expected to display. Anything not matching
// one of these is an infrastructure failure.
var (
	ErrOrderNotClaimable    = errors.New("order is not available for claiming")
	ErrExecutorNotFound     = errors.New("executor not found")
	ErrAlreadyClaimed       = errors.New("order already claimed by this executor")
	ErrDailyLimitReached    = errors.New("daily claim limit reached")
	ErrPlatformLimitReached = errors.New("daily platform limit reached")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrNoContactMethod      = errors.New("no contact method on file")
	ErrSessionExpired       = errors.New("verification session expired")
	ErrNotFound             = errors.New("not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrForbidden            = errors.New("operation not permitted")
)

// LimitError reports a reached quota together with its ceiling.
// errors.Is matches it against ErrDailyLimitReached or ErrPlatformLimitReached.
type LimitError struct {
	Kind     error
	Ceiling  int
	Platform Platform
}

func (e *LimitError) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("%s: %d per day on %s", e.Kind, e.Ceiling, e.Platform)
	}
	return fmt.Sprintf("%s: %d per day", e.Kind, e.Ceiling)
}

func (e *LimitError) Unwrap() error {
	return e.Kind
}

func DailyLimit(ceiling int) error {
	return &LimitError{Kind: ErrDailyLimitReached, Ceiling: ceiling}
}

func PlatformLimit(platform Platform, ceiling int) error {
	return &LimitError{Kind: ErrPlatformLimitReached, Ceiling: ceiling, Platform: platform}
}

// IsDomainError reports whether err belongs to the expected, user-facing set.
func IsDomainError(err error) bool {
	for _, e := range []error{
		ErrOrderNotClaimable,
		ErrExecutorNotFound,
		ErrAlreadyClaimed,
		ErrDailyLimitReached,
		ErrPlatformLimitReached,
		ErrInvalidOrExpiredCode,
		ErrNoContactMethod,
		ErrSessionExpired,
		ErrNotFound,
		ErrInvalidCredentials,
		ErrForbidden,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
