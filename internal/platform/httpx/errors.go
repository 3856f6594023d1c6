// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
)

// kinded is implemented by domain errors that carry a classification.
type kinded interface {
	ErrorKind() string
}

// KindInternal is the kind reported for unclassified failures.
const KindInternal = "INTERNAL"

// RespondError maps domain errors to HTTP responses using RFC7807. Classified
// domain failures are client errors; everything else is a 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	var k kinded
	switch {
	case errors.As(err, &k) && k.ErrorKind() != KindInternal:
		JSON(w, http.StatusBadRequest, ProblemDetail{
			Title:  "Request Rejected",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
			Kind:   k.ErrorKind(),
		})
	case errors.Is(err, ErrValidation):
		JSON(w, http.StatusBadRequest, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
			Kind:   "VALIDATION",
		})
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		JSON(w, http.StatusInternalServerError, ProblemDetail{
			Title:  "Internal Error",
			Status: http.StatusInternalServerError,
			Kind:   KindInternal,
		})
	}
}
