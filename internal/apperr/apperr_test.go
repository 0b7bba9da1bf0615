package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"SimBank/internal/apperr"

	"github.com/stretchr/testify/assert"
)

var errSample = apperr.New(apperr.CodeLoanPaidOff, "loan already paid off")

func TestCodeOf_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("repay loan %s: %w", "L-1", errSample)

	assert.True(t, errors.Is(wrapped, errSample))
	assert.Equal(t, apperr.CodeLoanPaidOff, apperr.CodeOf(wrapped))
	assert.True(t, apperr.IsDomain(wrapped))
}

func TestCodeOf_InfrastructureError(t *testing.T) {
	err := fmt.Errorf("store: %w", errors.New("connection refused"))

	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.False(t, apperr.IsDomain(err))
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(apperr.CodeOf(err)))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, apperr.HTTPStatus(apperr.CodeDuplicateTransaction))
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.HTTPStatus(apperr.CodeInsufficientFunds))
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(apperr.CodeLoanNotFound))
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(apperr.CodeInvalidAmount))
}
