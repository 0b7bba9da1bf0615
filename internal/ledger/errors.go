package ledger

import "SimBank/internal/apperr"

// Validation errors. Returned before the store is touched.
var (
	ErrInvalidAmount        = apperr.New(apperr.CodeInvalidAmount, "amount must be positive")
	ErrInvalidAccountNumber = apperr.New(apperr.CodeInvalidAccountNumber, "account number must be 12 digits")
	ErrSameAccount          = apperr.New(apperr.CodeSameAccount, "sender and recipient must differ")
	ErrDescriptionTooLong   = apperr.New(apperr.CodeDescriptionTooLong, "description exceeds 255 characters")
	ErrMissingField         = apperr.New(apperr.CodeInvalidRequest, "missing required field")
)

// Domain errors.
var (
	ErrAccountNotFound      = apperr.New(apperr.CodeAccountNotFound, "account not found")
	ErrAccountExists        = apperr.New(apperr.CodeAccountExists, "account already exists")
	ErrAccountClosed        = apperr.New(apperr.CodeAccountClosed, "account is closed")
	ErrDuplicateTransaction = apperr.New(apperr.CodeDuplicateTransaction, "transaction number already used")
	ErrTransactionNotFound  = apperr.New(apperr.CodeTransactionNotFound, "transaction not found")
)
