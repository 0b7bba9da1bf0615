package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"SimBank/internal/apperr"
	"SimBank/internal/ledger"

	"github.com/rs/zerolog"
)

var (
	errUnauthenticated = apperr.New(apperr.CodeUnauthenticated, "missing X-Team-Id header")
	errNoBank          = apperr.New(apperr.CodeUnauthenticated, "missing X-Bank-Id header")
	errForbidden       = apperr.New(apperr.CodeForbidden, "not allowed for this caller")
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError answers with the error's stable code. Infrastructure errors are
// logged and reported as internal_error without detail.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error, details interface{}) {
	code := apperr.CodeOf(err)
	body := errorBody{Code: code, Message: err.Error(), Details: details}
	if !apperr.IsDomain(err) {
		log.Error().Err(err).Msg("request failed")
		body.Message = "internal error"
		body.Details = nil
	}
	writeJSON(w, apperr.HTTPStatus(code), body)
}

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body", ledger.ErrMissingField)
		}
		if apperr.IsDomain(err) {
			return err
		}
		return apperr.New(apperr.CodeInvalidRequest, "malformed request body: "+err.Error())
	}
	return nil
}
