package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"storefront/internal/types"
)

const maxRequestBodySize = 1 << 20

// genericErrorMessage is returned to clients for any non-validation failure.
const genericErrorMessage = "An unexpected error occurred. Please try again."

// ErrorResponse is the body of every error response outside /verify-payment.
// Error holds the client-safe message; Code is the machine-readable category.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON marshals data before touching the response, so an unencodable value
// still produces a well-formed 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{
			Error:     genericErrorMessage,
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response to the client. Validation errors carry
// their own message, which is written for the buyer. Every other failure,
// including provider errors, gets a generic message; the detail belongs in
// the server log.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr := types.AsAppError(err)
	resp := ErrorResponse{
		Code:      string(appErr.Code),
		RequestID: types.GetRequestID(r.Context()),
	}
	switch {
	case appErr.Code.IsValidation(), appErr.Code == types.ErrCodeRateLimit, appErr.Code == types.ErrCodeUnavailableConfig,
		appErr.Code == types.ErrCodeNotFoundRoute:
		resp.Error = appErr.Message
		resp.Details = appErr.Details
	case appErr.Code == types.ErrCodePaymentDeclined:
		resp.Error = "The payment was declined."
	default:
		resp.Error = genericErrorMessage
	}
	JSON(w, r, appErr.HTTPStatus(), resp)
}

// DecodeJSON reads exactly one JSON object of at most 1MB into dst. Fields
// dst does not declare are ignored; browser clients send extra form state.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewValidationError(types.ErrCodeValidationInvalidJSON, "request body must contain a single JSON object")
	}
	return nil
}

// mapDecodeError turns a json.Decoder failure into a buyer-readable
// validation error.
func mapDecodeError(err error) *types.AppError {
	var (
		tooLarge  *http.MaxBytesError
		syntax    *json.SyntaxError
		fieldType *json.UnmarshalTypeError
		details   map[string]any
	)

	msg := "invalid JSON in request body"
	switch {
	case errors.As(err, &tooLarge):
		msg = "request body must not exceed 1MB"
	case errors.As(err, &syntax):
		msg = "malformed JSON in request body"
	case errors.As(err, &fieldType):
		msg = "invalid value for field"
		details = map[string]any{"field": fieldType.Field, "expected": fieldType.Type.String()}
	case errors.Is(err, io.EOF):
		msg = "request body must not be empty"
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON, msg, err, details)
}
