package copytrade

import "errors"

var (
	ErrAlreadyActive = errors.New("subscription to this trader is already active")
	ErrNotSubscribed = errors.New("no active subscription to this trader")

	ErrInvalidTradeKind = errors.New("invalid trade kind")
)
