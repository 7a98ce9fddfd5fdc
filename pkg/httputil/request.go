package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
)

// ParseJSON decodes a single JSON object from the request body into dest.
// Any failure, including an oversized body, is reported as invalid_body.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errcode.New(errcode.InvalidBody, "request body is required")
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errcode.New(errcode.InvalidBody, "request body too large")
		case errors.Is(err, io.EOF):
			return errcode.New(errcode.InvalidBody, "request body is required")
		}
		return errcode.Wrap(errcode.InvalidBody, "invalid JSON", err)
	}
	if dec.More() {
		return errcode.New(errcode.InvalidBody, "request body must be a single JSON object")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an invalid_body response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

// RequireNonEmpty validates that a string field is not blank
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if strings.TrimSpace(value) == "" {
		WriteFailure(w, errcode.InvalidBody, fieldName+" is required")
		return false
	}
	return true
}
