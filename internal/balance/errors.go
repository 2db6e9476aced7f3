package balance

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrNoRows              = errors.New("no_balance_rows")
)
