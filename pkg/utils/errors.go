package utils

import (
	"net/http"

	"sitter-points-backend/pkg/lifecycle"
)

// WriteDomainError maps a lifecycle failure to its HTTP status and code.
// Unexpected failures get a fixed message; the cause is for the logs only.
func WriteDomainError(w http.ResponseWriter, err error) {
	var (
		status int
		code   string
	)
	switch lifecycle.KindOf(err) {
	case lifecycle.KindInvalidDate:
		status, code = http.StatusBadRequest, "INVALID_DATE"
	case lifecycle.KindInvalidInput:
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case lifecycle.KindInsufficientPoints, lifecycle.KindInsufficientBalance:
		status, code = http.StatusConflict, "INSUFFICIENT_POINTS"
	case lifecycle.KindNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case lifecycle.KindPreconditionFailed:
		status, code = http.StatusConflict, "PRECONDITION_FAILED"
	default:
		WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}
	WriteErrorResponseWithCode(w, status, code, err.Error(), "")
}
