package common

import "errors"

// Engine error kinds. Callers match them with errors.Is; the engine wraps
// them with operation context using %w.
var (
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrCannotReduceMargin     = errors.New("cannot reduce margin below position margin")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionAlreadyClosed  = errors.New("position already closed")
	ErrUserNotFound           = errors.New("user not found")
	ErrInvalidPositionSize    = errors.New("invalid position size")
	ErrInvalidSide            = errors.New("invalid position side")
	ErrInvalidSymbol          = errors.New("invalid symbol")
	ErrUserAlreadyExists      = errors.New("user already exists")
	ErrInvalidLeverage        = errors.New("invalid leverage")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrTierExceeded           = errors.New("no leverage tier matches")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidOwner           = errors.New("invalid owner")
	ErrCalculationOverflow    = errors.New("calculation overflow")
	ErrCalculationUnderflow   = errors.New("calculation underflow")
	ErrLedgerInvariant        = errors.New("locked collateral does not match open margins")
)

var codes = []struct {
	err  error
	code int
}{
	{ErrInsufficientCollateral, 2001},
	{ErrInvalidAmount, 2002},
	{ErrCannotReduceMargin, 2003},
	{ErrPositionNotFound, 3001},
	{ErrPositionAlreadyClosed, 3002},
	{ErrUserNotFound, 3003},
	{ErrInvalidPositionSize, 3004},
	{ErrUserAlreadyExists, 3005},
	{ErrInvalidSide, 3006},
	{ErrInvalidSymbol, 3007},
	{ErrInvalidLeverage, 4001},
	{ErrInvalidPrice, 4002},
	{ErrTierExceeded, 4003},
	{ErrUnauthorized, 5001},
	{ErrInvalidOwner, 5002},
	{ErrCalculationOverflow, 7001},
	{ErrCalculationUnderflow, 7002},
	{ErrLedgerInvariant, 7003},
}

// Code returns the stable numeric code for an engine error, or 0 when err
// is not one of the engine's kinds.
func Code(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return 0
}

// Kind returns the sentinel err wraps, or nil.
func Kind(err error) error {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.err
		}
	}
	return nil
}

// FromCode returns the sentinel for a numeric code, or nil.
func FromCode(code int) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
