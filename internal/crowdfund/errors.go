package crowdfund

import "errors"

var (
	// ErrInsufficientAmount is returned when a contribution's USD value is below the minimum.
	ErrInsufficientAmount = errors.New("you need to spend more")

	// ErrOracleUnavailable wraps failed or unusable price reads.
	ErrOracleUnavailable = errors.New("price oracle unavailable")

	// ErrNotOwner is returned when anyone but the owner attempts a withdrawal.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrTransferFailed is returned when paying out to the owner fails. The
	// ledger is restored before it is returned.
	ErrTransferFailed = errors.New("transfer to owner failed")

	// ErrIndexOutOfRange is returned by ContributorAt for indexes past the end.
	ErrIndexOutOfRange = errors.New("contributor index out of range")

	// ErrInvalidAmount rejects negative amounts and amounts finer than the native scale.
	ErrInvalidAmount = errors.New("invalid native amount")

	// ErrInvalidIdentity rejects empty caller or owner identities.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrPaymentRejected is returned when the attached funds could not be collected.
	ErrPaymentRejected = errors.New("payment rejected")
)
