package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// FailureResponse is the body of every failed request
type FailureResponse struct {
	Success bool         `json:"success"`
	Code    errcode.Code `json:"code"`
	Error   string       `json:"error"`
}

// WriteFailure writes a failure response for code. The status follows the
// code. Verification failures all read as jwt_invalid "invalid token".
func WriteFailure(w http.ResponseWriter, code errcode.Code, message string) {
	public := code.Public()
	if code.IsVerification() {
		message = "invalid token"
	}
	WriteJSON(w, code.HTTPStatus(), FailureResponse{
		Success: false,
		Code:    public,
		Error:   message,
	})
}

// WriteError writes a failure response for err. Errors without a code are
// reported as internal_error with a generic message.
func WriteError(w http.ResponseWriter, err error, secrets ...string) {
	e := errcode.From(err)
	message := e.Message
	if e.Err != nil && e.Code != errcode.InternalError {
		message = message + ": " + e.Err.Error()
	}
	WriteFailure(w, e.Code, errcode.Redact(message, secrets...))
}
