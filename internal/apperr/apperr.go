// Package apperr holds the stable error codes callers (including other simulated
// banks) match on. Domain packages declare their sentinels with New so that
// errors.Is keeps working through fmt.Errorf("%w") wrapping.
package apperr

import (
	"errors"
	"net/http"
)

type Code string

const (
	// Validation
	CodeInvalidAmount        Code = "invalid_amount"
	CodeInvalidAccountNumber Code = "invalid_account_number"
	CodeInvalidRequest       Code = "invalid_request"
	CodeSameAccount          Code = "same_account"
	CodeDescriptionTooLong   Code = "description_too_long"

	// Domain rules
	CodeInsufficientFunds    Code = "insufficient_funds"
	CodeAccountNotFound      Code = "account_not_found"
	CodeAccountExists        Code = "account_exists"
	CodeAccountClosed        Code = "account_closed"
	CodeDuplicateTransaction Code = "duplicate_transaction"
	CodeTransactionNotFound  Code = "transaction_not_found"
	CodeLoanNotFound         Code = "loan_not_found"
	CodeLoanPaidOff          Code = "loan_paid_off"
	CodeLoanWrittenOff       Code = "loan_written_off"
	CodeLoanCapExceeded      Code = "loan_cap_exceeded"
	CodeBankLoanCapExceeded  Code = "bank_loan_cap_exceeded"
	CodeUnknownBank          Code = "unknown_bank"
	CodeSimulationNotRunning Code = "simulation_not_running"
	CodeForbidden            Code = "forbidden"
	CodeUnauthenticated      Code = "unauthenticated"

	// Infrastructure
	CodeRemoteUnavailable Code = "remote_unavailable"
	CodeInternal          Code = "internal_error"
)

// Error is a domain or validation failure with a stable code.
type Error struct {
	Code    Code
	Message string
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// CodeOf returns the stable code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsDomain reports whether err carries a stable code (i.e. is not an infrastructure failure).
func IsDomain(err error) bool {
	var ae *Error
	return errors.As(err, &ae)
}

// HTTPStatus maps a code to the status the HTTP surface answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidAmount, CodeInvalidAccountNumber, CodeInvalidRequest,
		CodeSameAccount, CodeDescriptionTooLong:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeAccountNotFound, CodeTransactionNotFound, CodeLoanNotFound, CodeUnknownBank:
		return http.StatusNotFound
	case CodeDuplicateTransaction, CodeAccountExists:
		return http.StatusConflict
	case CodeInsufficientFunds, CodeAccountClosed, CodeLoanPaidOff, CodeLoanWrittenOff,
		CodeLoanCapExceeded, CodeBankLoanCapExceeded, CodeSimulationNotRunning:
		return http.StatusUnprocessableEntity
	case CodeRemoteUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
