package loan

import "SimBank/internal/apperr"

var (
	ErrLoanNotFound        = apperr.New(apperr.CodeLoanNotFound, "loan not found")
	ErrLoanPaidOff         = apperr.New(apperr.CodeLoanPaidOff, "loan is already paid off")
	ErrLoanWrittenOff      = apperr.New(apperr.CodeLoanWrittenOff, "loan has been written off")
	ErrLoanCapExceeded     = apperr.New(apperr.CodeLoanCapExceeded, "borrower loan cap exceeded")
	ErrBankLoanCapExceeded = apperr.New(apperr.CodeBankLoanCapExceeded, "bank loan capacity exceeded")
	ErrInsufficientFunds   = apperr.New(apperr.CodeInsufficientFunds, "insufficient funds")
	ErrInvalidRate         = apperr.New(apperr.CodeInvalidRequest, "rate must not be negative")
	ErrInvalidCap          = apperr.New(apperr.CodeInvalidAmount, "cap must not be negative")
)
