package engine

import "errors"

var (
	// ErrInsufficientFunds means the score does not cover the price. Nothing was mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrPurchaseLimit means the upgrade already holds the maximum number of units. Nothing was mutated.
	ErrPurchaseLimit = errors.New("purchase limit reached")
	// ErrUnknownUpgrade means the key has no catalog definition.
	ErrUnknownUpgrade = errors.New("unknown upgrade")
	// ErrGateAbandoned means the approval request was cancelled or timed out. Nothing was mutated.
	ErrGateAbandoned = errors.New("gate request abandoned")
	// ErrRequestPending means an approval for the same target is already open.
	ErrRequestPending = errors.New("approval already pending")
	ErrNothingToSell  = errors.New("nothing to sell")
	ErrInvalidCount   = errors.New("count must be at least 1")
	ErrOfferNotFound  = errors.New("bonus offer not found or expired")
	// ErrResetNotConfirmed is returned by the command layer when a reset arrives without confirmation.
	ErrResetNotConfirmed = errors.New("reset requires confirmation")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrGateUnavailable   = errors.New("gate does not accept answers")
	// ErrUnknownLanguage means no question bank exists for the requested language.
	ErrUnknownLanguage = errors.New("no question bank for language")
)
