package util

import (
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindAuthenticationRequired ErrorKind = "AuthenticationRequired"
	KindInvalidTokenFormat     ErrorKind = "InvalidTokenFormat"
	KindTokenExpired           ErrorKind = "TokenExpired"
	KindTokenNotYetValid       ErrorKind = "TokenNotYetValid"
	KindInvalidToken           ErrorKind = "InvalidToken"
	KindInvalidRefreshToken    ErrorKind = "InvalidRefreshToken"
	KindInvalidCredentials     ErrorKind = "InvalidCredentials"
	KindInvalidSignature       ErrorKind = "InvalidSignature"
	KindPermissionDenied       ErrorKind = "PermissionDenied"
	KindCSRFValidationFailed   ErrorKind = "CSRFValidationFailed"
	KindResourceNotFound       ErrorKind = "ResourceNotFound"
	KindUserNotFound           ErrorKind = "UserNotFound"
	KindRateLimitExceeded      ErrorKind = "RateLimitExceeded"
	KindAuthorizationFailed    ErrorKind = "AuthorizationFailed"
	KindBadRequest             ErrorKind = "BadRequest"
	KindInternal               ErrorKind = "Internal"
)

type kindDefaults struct {
	status int
	msg    string
}

//nolint:gochecknoglobals // lookup table
var kinds = map[ErrorKind]kindDefaults{
	KindAuthenticationRequired: {http.StatusUnauthorized, "Authentication required"},
	KindInvalidTokenFormat:     {http.StatusUnauthorized, "Invalid token format"},
	KindTokenExpired:           {http.StatusUnauthorized, "Token expired"},
	KindTokenNotYetValid:       {http.StatusUnauthorized, "Token not yet valid"},
	KindInvalidToken:           {http.StatusUnauthorized, "Invalid token"},
	KindInvalidRefreshToken:    {http.StatusUnauthorized, "Invalid refresh token"},
	KindInvalidCredentials:     {http.StatusUnauthorized, "Invalid email or password"},
	KindInvalidSignature:       {http.StatusUnauthorized, "Invalid signature"},
	KindPermissionDenied:       {http.StatusForbidden, "Insufficient permissions"},
	KindCSRFValidationFailed:   {http.StatusForbidden, "Invalid CSRF token"},
	KindResourceNotFound:       {http.StatusNotFound, "Resource not found"},
	KindUserNotFound:           {http.StatusNotFound, "User not found"},
	KindRateLimitExceeded:      {http.StatusTooManyRequests, "Too many requests, please try again later."},
	KindAuthorizationFailed:    {http.StatusInternalServerError, "Authorization failed"},
	KindBadRequest:             {http.StatusBadRequest, "Bad request"},
	KindInternal:               {http.StatusInternalServerError, "Internal server error"},
}

// ResponseError is a failure that is safe to show to the client as is.
type ResponseError struct {
	Kind   ErrorKind
	Msg    string
	Status int
}

func (e *ResponseError) Error() string { return e.Msg }

// NewKindError builds a ResponseError with the default status and message of kind.
func NewKindError(kind ErrorKind) *ResponseError {
	d, ok := kinds[kind]
	if !ok {
		d = kinds[KindInternal]
		kind = KindInternal
	}
	return &ResponseError{Kind: kind, Msg: d.msg, Status: d.status}
}

func NewResponseError(kind ErrorKind, format string, args ...interface{}) *ResponseError {
	e := NewKindError(kind)
	e.Msg = fmt.Sprintf(format, args...)
	return e
}
