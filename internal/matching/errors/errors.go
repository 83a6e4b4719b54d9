package errors

import "errors"

var (
	ErrInvalidRequestParameters = errors.New("invalid request parameters")

	ErrRequestNotFound = errors.New("blood request not found")

	ErrDonorNotFound = errors.New("donor not found")

	ErrDonorAlreadyExists = errors.New("donor already registered")

	ErrRequestNotAcceptingMatches = errors.New("request is not accepting matches")

	ErrDonorNotReserved = errors.New("donor is not reserved against this request")

	ErrInvalidTransition = errors.New("invalid request status transition")
)
